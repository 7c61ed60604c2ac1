package config

import "testing"

func clearRequiredEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "S3_BUCKET", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
		"S3_REGION", "REDIS_ADDR", "REDIS_CHANNEL", "LISTEN_ADDR", "POOL_SIZE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFailsWhenRequiredFieldsMissing(t *testing.T) {
	clearRequiredEnv(t)

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error when required env vars are absent")
	}
}

func TestLoadAppliesDefaultsAndValidates(t *testing.T) {
	clearRequiredEnv(t)
	t.Setenv("DATABASE_URL", "user:pass@tcp(127.0.0.1:3306)/edge")
	t.Setenv("S3_BUCKET", "edge-bundles")
	t.Setenv("S3_ACCESS_KEY_ID", "AKIA_TEST")
	t.Setenv("S3_SECRET_ACCESS_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.S3.Region != "eu-west-3" {
		t.Fatalf("S3.Region = %q, want default eu-west-3", cfg.S3.Region)
	}
	if cfg.HTTP.ListenAddr != "0.0.0.0:4000" {
		t.Fatalf("HTTP.ListenAddr = %q, want default", cfg.HTTP.ListenAddr)
	}
	if cfg.HTTP.PoolSize != 8 {
		t.Fatalf("HTTP.PoolSize = %d, want default 8", cfg.HTTP.PoolSize)
	}
	if cfg.PubSub.RedisAddr != "127.0.0.1:6379" {
		t.Fatalf("PubSub.RedisAddr = %q, want default", cfg.PubSub.RedisAddr)
	}
	if cfg.PubSub.Channel != "deployments" {
		t.Fatalf("PubSub.Channel = %q, want default", cfg.PubSub.Channel)
	}
	if Get() != cfg {
		t.Fatal("Get() did not return the loaded Config")
	}
}

func TestLoadHonorsExplicitPoolSize(t *testing.T) {
	clearRequiredEnv(t)
	t.Setenv("DATABASE_URL", "user:pass@tcp(127.0.0.1:3306)/edge")
	t.Setenv("S3_BUCKET", "edge-bundles")
	t.Setenv("S3_ACCESS_KEY_ID", "AKIA_TEST")
	t.Setenv("S3_SECRET_ACCESS_KEY", "secret")
	t.Setenv("POOL_SIZE", "16")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.PoolSize != 16 {
		t.Fatalf("HTTP.PoolSize = %d, want 16", cfg.HTTP.PoolSize)
	}
}

func TestNeedsVaultDetectsPrefix(t *testing.T) {
	flat := map[string]string{
		"database_url": "vault:secret/data/edge#database_url",
		"s3_bucket":     "plain-value",
	}
	if !needsVault(flat) {
		t.Fatal("needsVault = false, want true when a value carries the vault: prefix")
	}

	plain := map[string]string{"s3_bucket": "plain-value"}
	if needsVault(plain) {
		t.Fatal("needsVault = true, want false with no vault: prefixed values")
	}
}

func TestAtoiOrZero(t *testing.T) {
	cases := map[string]int{
		"":     0,
		"8":    8,
		"16":   16,
		"abc":  0,
		"12ab": 0,
	}
	for in, want := range cases {
		if got := atoiOrZero(in); got != want {
			t.Errorf("atoiOrZero(%q) = %d, want %d", in, got, want)
		}
	}
}
