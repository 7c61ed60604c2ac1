// internal/config/loader.go
//
// Configuration loader with optional Vault support.
//
// Context
// -------
// `Load()` builds one immutable `Config` struct from two layers (highest
// precedence last):
//
//  1. Optional `.env` file in the working directory.
//  2. Environment variables, loaded flat with no prefix stripping —
//     `DATABASE_URL`, `S3_BUCKET`, and the rest are read by their bare
//     names.
//
// **Vault integration** — any string value that begins with the prefix
// `vault:` is treated as a Vault URI of the form
// `vault:<secret-path>#<key>` and is resolved through `internal/vault.Client`
// before unmarshalling, so callers stay oblivious. Vault is only contacted
// if at least one loaded value actually carries the prefix; the common
// case (everything from plain env vars) never touches Vault, so a missing
// Vault server does not block startup.
//
// Instrumentation
// ---------------
//   - DEBUG spans — env overlay, Vault resolve.
//   - ERROR spans — env overlay, Vault init, Vault resolve, validation.
//   - INFO  span  — final "config loaded" with key highlights.
//   - Logs use the global *sugared* logger (`zap.S()`), which logger.New
//     installs before Load runs, so Load needs no logger reference of its
//     own.
package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	koanf "github.com/knadh/koanf/v2"

	edgevault "github.com/edgecore/dispatcher/internal/vault"
	"go.uber.org/zap"
)

var current atomic.Pointer[Config]

/*────────────────── singleton Vault client & bootstrap ─────────────────────*/

var (
	vaultMu  sync.Mutex
	vaultCli *edgevault.Client // nil means not needed or init failed
)

func ensureVault(ctx context.Context) error {
	vaultMu.Lock()
	defer vaultMu.Unlock()
	if vaultCli != nil {
		return nil
	}

	cli, err := edgevault.New(ctx, zap.S().Debugf)
	if err != nil {
		return err
	}
	vaultCli = cli
	return nil
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads .env, overlays environment variables, resolves any vault:
// URIs, validates, and caches the result. Safe for concurrent use.
func Load() (*Config, error) {
	ctx := context.Background()

	// .env (optional, no error if missing).
	_ = godotenv.Load()

	k := koanf.New(".")

	// Flat env overlay: DATABASE_URL → database_url, S3_BUCKET → s3_bucket.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}
	zap.S().Debugw("config env overlay loaded")

	flat := flattenFromEnv(k)

	if needsVault(flat) {
		if err := ensureVault(ctx); err != nil {
			zap.S().Errorw("vault init failed", "err", err)
			return nil, err
		}
		if err := resolveVaultURIs(ctx, flat); err != nil {
			zap.S().Errorw("config vault resolve failed", "err", err)
			return nil, err
		}
	}

	cfg := &Config{
		Database: Database{URL: flat["database_url"]},
		S3: S3{
			Bucket:          flat["s3_bucket"],
			AccessKeyID:     flat["s3_access_key_id"],
			SecretAccessKey: flat["s3_secret_access_key"],
			Region:          flat["s3_region"],
		},
		PubSub: PubSub{
			RedisAddr: flat["redis_addr"],
			Channel:   flat["redis_channel"],
		},
		HTTP: HTTP{
			ListenAddr: flat["listen_addr"],
			PoolSize:   atoiOrZero(flat["pool_size"]),
		},
	}
	cfg.applyDefaults()

	if err := validateStruct(cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	current.Store(cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"pool_size", cfg.HTTP.PoolSize,
		"s3_bucket", cfg.S3.Bucket,
		"s3_region", cfg.S3.Region,
	)
	return cfg, nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config  { return current.Load() }
func Reload() error { _, err := Load(); return err }

// requiredKeys lists every env var Load reads directly into Config.
var requiredKeys = []string{
	"database_url", "s3_bucket", "s3_access_key_id", "s3_secret_access_key",
	"s3_region", "redis_addr", "redis_channel", "listen_addr", "pool_size",
}

func flattenFromEnv(k *koanf.Koanf) map[string]string {
	flat := make(map[string]string, len(requiredKeys))
	for _, key := range requiredKeys {
		flat[key] = k.String(key)
	}
	return flat
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

/*──────────────────── Vault URI resolver ───────────────────────────────────*/

const vaultPrefix = "vault:"

func needsVault(flat map[string]string) bool {
	for _, v := range flat {
		if strings.HasPrefix(v, vaultPrefix) {
			return true
		}
	}
	return false
}

func resolveVaultURIs(ctx context.Context, flat map[string]string) error {
	for key, val := range flat {
		if !strings.HasPrefix(val, vaultPrefix) {
			continue
		}

		body := strings.TrimPrefix(val, vaultPrefix)
		parts := strings.SplitN(body, "#", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid vault URI %q (want vault:path#key)", val)
		}
		secretPath, field := parts[0], parts[1]

		plain, err := vaultCli.GetKV(ctx, secretPath, field, 10*time.Minute)
		if err != nil {
			return err
		}
		flat[key] = plain
		zap.S().Debugw("vault uri resolved", "key", key, "path", secretPath, "field", field)
	}
	return nil
}
