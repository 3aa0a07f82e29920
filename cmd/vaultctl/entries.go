package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"wallet-vault-service/internal/domain"
	"wallet-vault-service/internal/usecase"
)

// entryView はエントリの表示形式。平文のパスワードは含めない。
type entryView struct {
	ID        string `json:"id"`
	Version   int    `json:"version"`
	Title     string `json:"title"`
	Username  string `json:"username,omitempty"`
	URL       string `json:"url,omitempty"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	Warning   string `json:"warning,omitempty"`
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// viewEntry はメタデータを復号して表示形式にする。
// 一部フィールドの復号に失敗した場合は警告付きで残りを表示する。
func viewEntry(ctx context.Context, vault *usecase.VaultService, e domain.Entry) entryView {
	h := e.Header()
	v := entryView{
		ID:        h.ID,
		Version:   int(e.Version()),
		CreatedAt: formatMillis(h.CreatedAt),
		UpdatedAt: formatMillis(h.UpdatedAt),
	}
	meta, err := vault.RevealMetadata(ctx, h.ID)
	if err != nil {
		v.Warning = err.Error()
	}
	v.Title = meta.Title
	v.Username = meta.Username
	v.URL = meta.URL
	v.Notes = meta.Notes
	return v
}

// listCmd はエントリ一覧を表示する。
func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List vault entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vault, closeVault, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer closeVault()

			entries, err := vault.Entries()
			if err != nil {
				return err
			}
			views := make([]entryView, len(entries))
			for i, e := range entries {
				views[i] = viewEntry(ctx, vault, e)
			}

			if output == "json" {
				return printJSON(map[string]any{"entries": views})
			}
			if len(views) == 0 {
				fmt.Println("Vault is empty.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tTITLE\tUSERNAME\tUPDATED AT")
			for _, v := range views {
				title := v.Title
				if v.Warning != "" {
					title += " (!)"
				}
				fmt.Fprintf(w, "%s\tv%d\t%s\t%s\t%s\n", v.ID, v.Version, title, v.Username, v.UpdatedAt)
			}
			return w.Flush()
		},
	}
}

// showCmd はエントリのメタデータを表示する。
func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an entry's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vault, closeVault, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer closeVault()

			e, err := vault.Entry(args[0])
			if err != nil {
				return err
			}
			v := viewEntry(ctx, vault, e)
			if output == "json" {
				return printJSON(v)
			}
			fmt.Printf("ID:       %s (v%d)\n", v.ID, v.Version)
			fmt.Printf("Title:    %s\n", v.Title)
			fmt.Printf("Username: %s\n", v.Username)
			fmt.Printf("URL:      %s\n", v.URL)
			fmt.Printf("Notes:    %s\n", v.Notes)
			fmt.Printf("Created:  %s\nUpdated:  %s\n", v.CreatedAt, v.UpdatedAt)
			if v.Warning != "" {
				fmt.Printf("Warning:  %s\n", v.Warning)
			}
			return nil
		},
	}
}

// revealCmd はパスワードを復号して表示する。
func revealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reveal <id>",
		Short: "Decrypt and print an entry's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vault, closeVault, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer closeVault()

			password, err := vault.RevealSecret(ctx, args[0])
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(map[string]string{"id": args[0], "password": password})
			}
			fmt.Println(password)
			return nil
		},
	}
}

// addCmd はエントリを追加する。
func addCmd() *cobra.Command {
	var in usecase.NewEntry
	var generate bool
	var length int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Title == "" {
				return fmt.Errorf("--title is required")
			}
			if generate {
				opts := usecase.DefaultGeneratorOptions()
				opts.Length = length
				pw, err := usecase.GeneratePassword(opts)
				if err != nil {
					return err
				}
				in.Password = pw
			}
			if in.Password == "" {
				return fmt.Errorf("--password or --generate is required")
			}

			ctx := cmd.Context()
			vault, closeVault, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer closeVault()

			e, err := vault.AddEntry(ctx, in)
			if err != nil {
				return err
			}
			strength := usecase.EvaluateStrength(in.Password)
			if output == "json" {
				return printJSON(map[string]any{"id": e.ID, "version": int(e.Version()), "strength": strength.Label, "sync": vault.LastSync()})
			}
			fmt.Printf("Added entry %s (password strength: %s)\n", e.ID, strength.Label)
			printSync(vault)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "Entry title (required)")
	cmd.Flags().StringVar(&in.Username, "username", "", "Username")
	cmd.Flags().StringVar(&in.URL, "url", "", "URL")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "Notes")
	cmd.Flags().StringVar(&in.Password, "password", "", "Password")
	cmd.Flags().BoolVar(&generate, "generate", false, "Generate a random password")
	cmd.Flags().IntVar(&length, "length", usecase.DefaultGeneratorOptions().Length, "Generated password length")
	cmd.MarkFlagRequired("title")
	return cmd
}

// updateCmd はエントリを更新する。指定したフラグのみ変更する。
func updateCmd() *cobra.Command {
	var title, username, url, notes, password string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update fields of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u usecase.EntryUpdate
			flags := cmd.Flags()
			if flags.Changed("title") {
				u.Title = &title
			}
			if flags.Changed("username") {
				u.Username = &username
			}
			if flags.Changed("url") {
				u.URL = &url
			}
			if flags.Changed("notes") {
				u.Notes = &notes
			}
			if flags.Changed("password") {
				u.Password = &password
			}
			if u.IsEmpty() {
				return fmt.Errorf("nothing to update: pass at least one field flag")
			}

			ctx := cmd.Context()
			vault, closeVault, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer closeVault()

			e, err := vault.UpdateEntry(ctx, args[0], u)
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(map[string]any{"id": e.Header().ID, "version": int(e.Version()), "sync": vault.LastSync()})
			}
			fmt.Printf("Updated entry %s (v%d)\n", e.Header().ID, e.Version())
			printSync(vault)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&username, "username", "", "New username (empty clears)")
	cmd.Flags().StringVar(&url, "url", "", "New URL (empty clears)")
	cmd.Flags().StringVar(&notes, "notes", "", "New notes (empty clears)")
	cmd.Flags().StringVar(&password, "password", "", "New password")
	return cmd
}

// deleteCmd はエントリを削除する。
func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			vault, closeVault, err := openVault(ctx)
			if err != nil {
				return err
			}
			defer closeVault()

			if err := vault.DeleteEntry(ctx, args[0]); err != nil {
				if errors.Is(err, domain.ErrEntryNotFound) {
					return fmt.Errorf("entry %q not found", args[0])
				}
				return err
			}
			if output == "json" {
				return printJSON(map[string]any{"id": args[0], "deleted": true, "sync": vault.LastSync()})
			}
			fmt.Printf("Deleted entry %s\n", args[0])
			printSync(vault)
			return nil
		},
	}
}

// generateCmd はパスワードを生成する。ボールトには接続しない。
func generateCmd() *cobra.Command {
	opts := usecase.DefaultGeneratorOptions()
	var noUpper, noLower, noNumbers, noSymbols bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a random password",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Uppercase = !noUpper
			opts.Lowercase = !noLower
			opts.Numbers = !noNumbers
			opts.Symbols = !noSymbols
			pw, err := usecase.GeneratePassword(opts)
			if err != nil {
				return err
			}
			strength := usecase.EvaluateStrength(pw)
			if output == "json" {
				return printJSON(map[string]any{"password": pw, "score": strength.Score, "strength": strength.Label})
			}
			fmt.Println(pw)
			fmt.Fprintf(os.Stderr, "strength: %s (%d/4)\n", strength.Label, strength.Score)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Length, "length", opts.Length, fmt.Sprintf("Password length (%d-%d)", usecase.MinPasswordLength, usecase.MaxPasswordLength))
	cmd.Flags().BoolVar(&noUpper, "no-upper", false, "Exclude uppercase letters")
	cmd.Flags().BoolVar(&noLower, "no-lower", false, "Exclude lowercase letters")
	cmd.Flags().BoolVar(&noNumbers, "no-numbers", false, "Exclude digits")
	cmd.Flags().BoolVar(&noSymbols, "no-symbols", false, "Exclude symbols")
	cmd.Flags().BoolVar(&opts.ExcludeAmbiguous, "exclude-ambiguous", false, "Exclude look-alike characters (0 O 1 l I)")
	return cmd
}

// historyCmd は台帳上のポインタ履歴を表示する。ポインタは暗号化されたまま表示する。
func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List published pointer generations",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, closeSigner, err := loadSigner(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSigner()

			recs, err := newRegistry().ListPointers(cmd.Context(), signer.OwnerID())
			if err != nil {
				return err
			}
			if output == "json" {
				type view struct {
					Sequence         uint   `json:"sequence"`
					EncryptedPointer string `json:"encrypted_pointer"`
					CreatedAt        string `json:"created_at"`
				}
				views := make([]view, len(recs))
				for i, r := range recs {
					views[i] = view{r.Sequence, r.EncryptedPointer, r.CreatedAt.UTC().Format(time.RFC3339)}
				}
				return printJSON(map[string]any{"pointers": views})
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "SEQUENCE\tCREATED AT\tPOINTER")
			for _, r := range recs {
				fmt.Fprintf(w, "%d\t%s\t%s\n", r.Sequence, r.CreatedAt.UTC().Format(time.RFC3339), r.EncryptedPointer)
			}
			return w.Flush()
		},
	}
}

func printSync(vault *usecase.VaultService) {
	if s := vault.LastSync(); s != nil {
		fmt.Printf("Published pointer #%d (blob %s)\n", s.Sequence, s.Pointer)
	}
}
