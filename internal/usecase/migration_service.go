package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/domain"
)

// MigrationService はV1/V2エントリをV3へ移行する。
type MigrationService struct {
	vault *VaultService
}

// NewMigrationService は新しいMigrationServiceを生成する。
func NewMigrationService(vault *VaultService) *MigrationService {
	return &MigrationService{vault: vault}
}

// GetMigrationStatus は全エントリの移行状態を取得する。
func (s *MigrationService) GetMigrationStatus(ctx context.Context) ([]*domain.EntryMigration, error) {
	entries, err := s.vault.Entries()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.EntryMigration, 0, len(entries))
	for _, e := range entries {
		out = append(out, &domain.EntryMigration{
			EntryID: e.Header().ID,
			From:    e.Version(),
			Status:  domain.MigrationStatusOf(e),
		})
	}
	return out, nil
}

// ApplyMigrations は未移行のエントリを順にV3へ移行し、1回の保存で公開する。
// V1の移行はエントリごとに署名を1回要求する。途中で失敗した場合は、それまでに移行した分を保存して
// 件数とエラーを返す。不正エントリは変更しない。
func (s *MigrationService) ApplyMigrations(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "MigrationService.ApplyMigrations")
	defer span.End()

	var (
		applied  int
		firstErr error
	)
	err := s.vault.mutate(ctx, "apply_migrations", func(key *crypto.SymmetricKey, doc *domain.VaultDocument) error {
		for i, e := range doc.Entries {
			if domain.MigrationStatusOf(e) != domain.MigrationStatusPending {
				continue
			}
			next, err := upgradeEntry(ctx, key, s.vault.secrets, e)
			if err != nil {
				slog.ErrorContext(ctx, "failed to migrate entry",
					"operation", "apply_migrations",
					"entry_id", e.Header().ID,
					"version", int(e.Version()),
					"error", err,
				)
				firstErr = fmt.Errorf("%w: %v", domain.ErrMigrationFailed, err)
				break
			}
			doc.Entries[i] = next
			applied++
		}
		if applied == 0 {
			if firstErr != nil {
				return firstErr
			}
			return errNothingToMigrate
		}
		return nil
	})
	if errors.Is(err, errNothingToMigrate) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "entries migrated",
		"operation", "apply_migrations",
		"applied", applied,
	)
	return applied, firstErr
}

// errNothingToMigrate は保存を省略するための内部シグナル。
var errNothingToMigrate = errors.New("nothing to migrate")
