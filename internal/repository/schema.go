package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"wallet-vault-service/internal/domain"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrInvalidMigrationFile は移行ファイル名の形式が不正な場合のエラー。
var ErrInvalidMigrationFile = errors.New("invalid migration file name")

type schemaFile struct {
	version string
	name    string
	path    string
}

// SchemaMigrator は埋め込みSQLで台帳のスキーマを移行する。
type SchemaMigrator struct {
	repo  *SchemaRepository
	files fs.FS
}

// NewSchemaMigrator は新しいSchemaMigratorを生成する。
func NewSchemaMigrator(repo *SchemaRepository) *SchemaMigrator {
	return &SchemaMigrator{repo: repo, files: migrationFiles}
}

// scan は移行ファイルをバージョン順に列挙する。
// ファイル名のフォーマット: {version}_{name}.sql (例: 001_create_vault_pointers.sql)
func (m *SchemaMigrator) scan() ([]schemaFile, error) {
	paths, err := fs.Glob(m.files, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	files := make([]schemaFile, 0, len(paths))
	for _, p := range paths {
		base := strings.TrimSuffix(path.Base(p), ".sql")
		parts := strings.SplitN(base, "_", 2)
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidMigrationFile, p)
		}
		files = append(files, schemaFile{version: parts[0], name: parts[1], path: p})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

func (m *SchemaMigrator) appliedVersions(ctx context.Context) (map[string]*domain.SchemaMigration, error) {
	if err := m.repo.EnsureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.repo.FindAllApplied(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*domain.SchemaMigration, len(applied))
	for _, a := range applied {
		out[a.Version] = a
	}
	return out, nil
}

// Up は未適用の移行を番号順に実行し、適用した件数を返す。
func (m *SchemaMigrator) Up(ctx context.Context) (int, error) {
	files, err := m.scan()
	if err != nil {
		return 0, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, f := range files {
		if _, ok := applied[f.version]; ok {
			continue
		}
		sql, err := fs.ReadFile(m.files, f.path)
		if err != nil {
			return count, err
		}
		if err := m.repo.Apply(ctx, f.version, string(sql)); err != nil {
			return count, fmt.Errorf("%w: version %s: %v", domain.ErrMigrationFailed, f.version, err)
		}
		slog.InfoContext(ctx, "schema migration applied",
			"operation", "schema_up",
			"version", f.version,
			"name", f.name,
		)
		count++
	}
	return count, nil
}

// Status は全移行の適用状況を返す。
func (m *SchemaMigrator) Status(ctx context.Context) ([]*domain.SchemaMigration, error) {
	files, err := m.scan()
	if err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*domain.SchemaMigration, len(files))
	for i, f := range files {
		out[i] = &domain.SchemaMigration{Version: f.version, Name: f.name, Status: domain.MigrationStatusPending}
		if a, ok := applied[f.version]; ok {
			out[i].Status = domain.MigrationStatusApplied
			out[i].AppliedAt = a.AppliedAt
		}
	}
	return out, nil
}
