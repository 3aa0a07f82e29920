// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	DatabaseURL        string
	KMSKeyName         string
	GoogleCloudProject string
	LogLevel           string

	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64

	// クライアント側（vaultctl）の設定
	RegistryURL        string
	IPFSAPIURL         string
	IPFSGateways       []string
	IPFSGatewayTimeout time.Duration
	SignerTimeout      time.Duration
}

// DefaultIPFSGateways はIPFS_GATEWAYS未指定時に使う公開ゲートウェイ（優先順）。
var DefaultIPFSGateways = []string{
	"https://gateway.pinata.cloud",
	"https://ipfs.io",
	"https://cloudflare-ipfs.com",
	"https://dweb.link",
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		KMSKeyName:         os.Getenv("KMS_KEY_NAME"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),

		OtelEnabled:      getBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "wallet-vault-service"),
		OtelSamplingRate: getFloat("OTEL_SAMPLING_RATE", 1.0),

		RegistryURL:        getEnv("REGISTRY_URL", "http://localhost:8080"),
		IPFSAPIURL:         getEnv("IPFS_API_URL", "localhost:5001"),
		IPFSGateways:       getList("IPFS_GATEWAYS", DefaultIPFSGateways),
		IPFSGatewayTimeout: getDuration("IPFS_GATEWAY_TIMEOUT", 10*time.Second),
		SignerTimeout:      getDuration("SIGNER_TIMEOUT", 60*time.Second),
	}
}

// ParseLogLevel はLOG_LEVELの値をslogのレベルに変換する。不明な値はINFO。
func ParseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return b
}

func getFloat(key string, defaultVal float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f < 0 || f > 1 {
		return defaultVal
	}
	return f
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func getList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
