// Package main はボールト操作CLIのエントリポイント。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"wallet-vault-service/config"
	"wallet-vault-service/internal/crypto"
	"wallet-vault-service/internal/infra"
	"wallet-vault-service/internal/usecase"
)

const version = "1.0.0"

var (
	apiURL        string
	ipfsAPI       string
	gateways      []string
	gwTimeout     time.Duration
	keyFile       string
	kmsKey        string
	output        string
	timeout       time.Duration
	signerTimeout time.Duration
	verbose       bool

	tracerProvider *sdktrace.TracerProvider
	commandSpan    trace.Span
)

// walletSigner は所有者IDを持つ署名者。
type walletSigner interface {
	crypto.Signer
	OwnerID() string
}

func main() {
	// .envファイルを読み込む（存在しない場合は無視）
	_ = godotenv.Load()
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Wallet-keyed password vault CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = config.ParseLogLevel(cfg.LogLevel)
			}
			slog.SetDefault(infra.NewLogger(os.Stderr, cfg, level))

			tp, err := infra.InitTracer(cmd.Context(), cfg,
				infra.WithServiceName("vaultctl"),
				infra.WithServiceVersion(version),
			)
			if err != nil {
				return fmt.Errorf("initializing tracer: %w", err)
			}
			tracerProvider = tp
			// サブコマンド内のHTTP呼び出しと署名を1トレースにまとめる
			ctx, span := otel.Tracer("wallet-vault-service/cmd/vaultctl").Start(cmd.Context(), "vaultctl "+cmd.Name())
			commandSpan = span
			cmd.SetContext(ctx)
			return nil
		},
	}

	// グローバルフラグ（環境変数の値が既定値）
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", cfg.RegistryURL, "Pointer registry URL (or set REGISTRY_URL)")
	rootCmd.PersistentFlags().StringVar(&ipfsAPI, "ipfs-api", cfg.IPFSAPIURL, "IPFS HTTP API address (or set IPFS_API_URL)")
	rootCmd.PersistentFlags().StringSliceVar(&gateways, "gateway", cfg.IPFSGateways, "IPFS gateway in priority order, repeatable (or set IPFS_GATEWAYS)")
	rootCmd.PersistentFlags().DurationVar(&gwTimeout, "gateway-timeout", cfg.IPFSGatewayTimeout, "Timeout for each blob fetch attempt (or set IPFS_GATEWAY_TIMEOUT)")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key-file", defaultKeyFile(), "Ed25519 wallet key file (PKCS#8 PEM)")
	rootCmd.PersistentFlags().StringVar(&kmsKey, "kms-key", cfg.KMSKeyName, "Cloud KMS Ed25519 key version; overrides --key-file (or set KMS_KEY_NAME)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Registry request timeout")
	rootCmd.PersistentFlags().DurationVar(&signerTimeout, "signer-timeout", cfg.SignerTimeout, "Maximum wait for each signature")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at LOG_LEVEL instead of WARN")

	// サブコマンド登録
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(checkSignerCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(revealCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(schemaCmd(cfg))
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if commandSpan != nil {
		infra.EndSpan(commandSpan, err)
	}
	if serr := infra.ShutdownTracer(tracerProvider); serr != nil {
		slog.Error("failed to shutdown tracer", "error", serr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultKeyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vaultctl-key.pem"
	}
	return filepath.Join(home, ".vaultctl", "key.pem")
}

// loadSigner は --kms-key または --key-file から署名者を用意する。
func loadSigner(ctx context.Context) (walletSigner, func(), error) {
	if kmsKey != "" {
		s, err := infra.NewKMSSigner(ctx, kmsKey)
		if err != nil {
			return nil, nil, err
		}
		infra.AnnotateOwner(ctx, s.OwnerID())
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Error("failed to close KMS client", "error", err)
			}
		}, nil
	}
	s, err := crypto.LoadLocalSigner(keyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (run `vaultctl keygen` first)", err)
	}
	infra.AnnotateOwner(ctx, s.OwnerID())
	return s, func() {}, nil
}

func newRegistry() *infra.RegistryClient {
	return infra.NewRegistryClient(apiURL, timeout)
}

// openVault は署名者を読み込み、ボールトを開いたセッションを返す。
// 戻り値の関数でセッションを閉じる。
func openVault(ctx context.Context) (*usecase.VaultService, func(), error) {
	signer, closeSigner, err := loadSigner(ctx)
	if err != nil {
		return nil, nil, err
	}
	blobs := infra.NewIPFSBlobStore(ipfsAPI, gateways, gwTimeout)
	vault := usecase.NewVaultService(signer.OwnerID(), signer, signerTimeout, blobs, newRegistry())
	if err := vault.Unlock(ctx); err != nil {
		closeSigner()
		return nil, nil, fmt.Errorf("unlocking vault: %w", err)
	}
	return vault, func() {
		vault.Lock()
		closeSigner()
	}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vaultctl version %s\n", version)
		},
	}
}

// keygenCmd はローカルのウォレット鍵を生成する。
func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a local Ed25519 wallet key",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := crypto.GenerateLocalSigner()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(keyFile), 0o700); err != nil {
				return fmt.Errorf("creating key directory: %w", err)
			}
			if err := signer.Save(keyFile); err != nil {
				return err
			}
			if output == "json" {
				return printJSON(map[string]string{"owner_id": signer.OwnerID(), "key_file": keyFile})
			}
			fmt.Printf("Wrote wallet key to %s\nOwner ID: %s\n", keyFile, signer.OwnerID())
			return nil
		},
	}
}

// whoamiCmd は所有者IDを表示する。
func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the owner ID of the configured wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, closeSigner, err := loadSigner(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSigner()
			if output == "json" {
				return printJSON(map[string]string{"owner_id": signer.OwnerID()})
			}
			fmt.Println(signer.OwnerID())
			return nil
		},
	}
}

// checkSignerCmd は署名者が決定的な署名を返すかを検査する。
func checkSignerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-signer",
		Short: "Verify the wallet signs deterministically so vault keys can be re-derived",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, closeSigner, err := loadSigner(cmd.Context())
			if err != nil {
				return err
			}
			defer closeSigner()

			res, err := usecase.CheckSigner(cmd.Context(), signer.OwnerID(), signer, signerTimeout, time.Now())
			if err != nil {
				return err
			}
			if output == "json" {
				return printJSON(res)
			}
			fmt.Printf("Signer OK: session key re-derived for %s (%s)\n", res.OwnerID, res.Elapsed)
			return nil
		},
	}
}
