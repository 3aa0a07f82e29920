// Package main はポインタ台帳APIサーバーのエントリポイント。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"wallet-vault-service/config"
	"wallet-vault-service/internal/handler"
	"wallet-vault-service/internal/infra"
	"wallet-vault-service/internal/repository"
	"wallet-vault-service/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	cfg := config.Load()

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := infra.ShutdownTracer(tp); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}()

	infra.SetupLogger(cfg, config.ParseLogLevel(cfg.LogLevel))

	// DB初期化
	db, err := infra.NewDB(cfg)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}

	// スキーマを最新にする
	applied, err := repository.NewSchemaMigrator(repository.NewSchemaRepository(db)).Up(ctx)
	if err != nil {
		slog.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}
	if applied > 0 {
		slog.Info("schema migrations applied", "count", applied)
	}

	// DI
	repo := repository.NewPointerRepository(db)
	service := usecase.NewPointerService(repo)
	h := handler.NewPointerHandler(service)
	router := handler.NewRouter(h, cfg.OtelEnabled)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
