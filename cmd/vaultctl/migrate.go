package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"wallet-vault-service/config"
	"wallet-vault-service/internal/domain"
	"wallet-vault-service/internal/infra"
	"wallet-vault-service/internal/repository"
	"wallet-vault-service/internal/usecase"
)

// migrateCmd は旧形式エントリのV3移行コマンド。
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage vault entry migrations",
		Long:  "Upgrade legacy (v1/v2) vault entries to the sealed-metadata format (v3)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status of each entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vault, closeVault, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer closeVault()

			migrations, err := usecase.NewMigrationService(vault).GetMigrationStatus(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			if output == "json" {
				return printJSON(map[string]any{"entries": migrations})
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ENTRY\tVERSION\tSTATUS")
			fmt.Fprintln(w, "-----\t-------\t------")
			for _, m := range migrations {
				fmt.Fprintf(w, "%s\tv%d\t%s\n", m.EntryID, m.From, m.Status)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Migrate all pending entries to v3",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vault, closeVault, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer closeVault()

			applied, err := usecase.NewMigrationService(vault).ApplyMigrations(ctx)
			if err != nil {
				if errors.Is(err, domain.ErrMigrationFailed) && applied > 0 {
					fmt.Printf("Migrated %d entr(ies) before failing.\n", applied)
				}
				return fmt.Errorf("migration failed: %w", err)
			}

			if output == "json" {
				return printJSON(map[string]any{"applied": applied, "sync": vault.LastSync()})
			}
			if applied == 0 {
				fmt.Println("No pending migrations.")
			} else {
				fmt.Printf("Migrated %d entr(ies) successfully.\n", applied)
				printSync(vault)
			}
			return nil
		},
	})
	return cmd
}

// schemaCmd は台帳データベースのスキーマ移行コマンド。DATABASE_URLを使う。
func schemaCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage pointer registry database schema",
	}

	openMigrator := func() (*repository.SchemaMigrator, error) {
		db, err := infra.NewDB(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return repository.NewSchemaMigrator(repository.NewSchemaRepository(db)), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, err := openMigrator()
			if err != nil {
				return err
			}
			applied, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			if applied == 0 {
				fmt.Println("No pending migrations.")
			} else {
				fmt.Printf("Applied %d migration(s) successfully.\n", applied)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show schema migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, err := openMigrator()
			if err != nil {
				return err
			}
			migrations, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
			fmt.Fprintln(w, "-------\t----\t------\t----------")
			for _, m := range migrations {
				appliedAt := "-"
				if m.AppliedAt != nil {
					appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Version, m.Name, m.Status, appliedAt)
			}
			return w.Flush()
		},
	})
	return cmd
}
