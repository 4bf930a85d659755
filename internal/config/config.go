package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	infisical "github.com/infisical/go-sdk"

	"github.com/web3-frozen/tvl-extractor/internal/chain"
	"github.com/web3-frozen/tvl-extractor/internal/retry"
)

type Config struct {
	LogLevel       string
	Port           string
	FrontendOrigin string

	WorklistPath string
	SkipListPath string
	OutputDir    string
	Version      string
	Schedule     string
	Workers      int

	// Timeout bounds each external call; AttemptTimeout bounds one whole
	// extraction attempt, which may make many calls.
	Timeout        time.Duration
	AttemptTimeout time.Duration
	Retries        int
	RetryInitial   time.Duration
	RetryMax       time.Duration

	GraphAPIKey string
	RPC         map[chain.Chain]string

	DatabaseURL    string
	RedisURL       string
	RedisPassword  string
	TelegramToken  string
	TelegramChatID int64
}

var defaultRPC = map[chain.Chain]string{
	chain.Ethereum: "https://eth.llamarpc.com",
	chain.Arbitrum: "https://arb1.arbitrum.io/rpc",
	chain.Base:     "https://mainnet.base.org",
	chain.Optimism: "https://mainnet.optimism.io",
	chain.Starknet: "https://rpc.starknet.lava.build",
	chain.Sui:      "https://sui-rpc.publicnode.com",
}

func Load() Config {
	cfg := Config{
		LogLevel:       envOr("LOG_LEVEL", "info"),
		Port:           envOr("PORT", "8080"),
		FrontendOrigin: envOr("FRONTEND_ORIGIN", "*"),
		WorklistPath:   envOr("WORKLIST_PATH", "data/use-tbtc-protocols.json"),
		SkipListPath:   os.Getenv("SKIPLIST_PATH"),
		OutputDir:      envOr("OUTPUT_DIR", "./data/output"),
		Version:        envOr("REPORT_VERSION", "1.0.0"),
		Schedule:       envOr("SCHEDULE", "@every 1h"),
		Workers:        envInt("WORKERS", 4),
		Timeout:        envMillis("TIMEOUT", 10000),
		AttemptTimeout: envMillis("ATTEMPT_TIMEOUT", 120000),
		Retries:        envInt("RETRIES", 3),
		RetryInitial:   envMillis("RETRY_INITIAL_DELAY", 1000),
		RetryMax:       envMillis("RETRY_MAX_DELAY", 10000),
		GraphAPIKey:    os.Getenv("THEGRAPH_API_KEY"),
		RPC:            make(map[chain.Chain]string, len(chain.All)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: int64(envInt("TELEGRAM_CHAT_ID", 0)),
	}
	for _, c := range chain.All {
		cfg.RPC[c] = envOr(strings.ToUpper(string(c))+"_RPC", defaultRPC[c])
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg
}

// RetryPolicy builds the per-extraction retry policy.
func (c Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.Retries > 0 {
		p.MaxAttempts = uint(c.Retries)
	}
	if c.RetryInitial > 0 {
		p.InitialDelay = c.RetryInitial
	}
	if c.RetryMax > 0 {
		p.MaxDelay = c.RetryMax
	}
	if c.AttemptTimeout > 0 {
		p.AttemptTimeout = c.AttemptTimeout
	}
	return p
}

// SlogLevel maps LogLevel onto slog; unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")
	secretPath := envOr("INFISICAL_SECRET_PATH", "/tvl-extractor")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	for key, target := range secretTargets(cfg) {
		if *target != "" {
			continue
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  secretPath,
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

// secretTargets lists the settings Infisical may fill in.
func secretTargets(cfg *Config) map[string]*string {
	return map[string]*string{
		"THEGRAPH_API_KEY":   &cfg.GraphAPIKey,
		"DATABASE_URL":       &cfg.DatabaseURL,
		"REDIS_PASSWORD":     &cfg.RedisPassword,
		"TELEGRAM_BOT_TOKEN": &cfg.TelegramToken,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func envMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
