// internal/config/model.go
//
// Typed configuration model for the dispatcher.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from environment variables:
// `DATABASE_URL`, `S3_BUCKET`, `S3_ACCESS_KEY_ID`, `S3_SECRET_ACCESS_KEY`,
// plus the region and process tunables that may be left to their
// defaults.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client *before* unmarshalling, so the model never
// stores Vault URIs—only plain strings.
//
// Validation happens immediately after unmarshal; the process fails fast
// if any required field is missing, so it never runs with partial
// configuration.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, matching env var names lowercased.

package config

//
// Database section
//

// Database holds the control-plane DSN.
type Database struct {
	URL string `koanf:"database_url" validate:"required"`
}

//
// S3 section
//

// S3 holds the blob-store bucket and credentials.
type S3 struct {
	Bucket          string `koanf:"s3_bucket"           validate:"required"`
	AccessKeyID     string `koanf:"s3_access_key_id"     validate:"required"`
	SecretAccessKey string `koanf:"s3_secret_access_key" validate:"required"`
	Region          string `koanf:"s3_region"` // defaults to eu-west-3
}

//
// PubSub section
//

// PubSub holds the Redis connection used by the Catalog Subscriber.
type PubSub struct {
	RedisAddr string `koanf:"redis_addr"`
	Channel   string `koanf:"redis_channel"`
}

//
// HTTP section
//

// HTTP holds the listener and worker pool tunables.
type HTTP struct {
	ListenAddr string `koanf:"listen_addr"`
	PoolSize   int    `koanf:"pool_size"`
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the process lifetime.
type Config struct {
	Database Database `koanf:"database"`
	S3       S3       `koanf:"s3"`
	PubSub   PubSub   `koanf:"pubsub"`
	HTTP     HTTP     `koanf:"http"`
}

// applyDefaults fills in values that may be safely defaulted rather than
// required as environment variables.
func (c *Config) applyDefaults() {
	if c.S3.Region == "" {
		c.S3.Region = "eu-west-3"
	}
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = "0.0.0.0:4000"
	}
	if c.HTTP.PoolSize == 0 {
		c.HTTP.PoolSize = 8
	}
	if c.PubSub.RedisAddr == "" {
		c.PubSub.RedisAddr = "127.0.0.1:6379"
	}
	if c.PubSub.Channel == "" {
		c.PubSub.Channel = "deployments"
	}
}
