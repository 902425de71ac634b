// Package config loads service configuration from the environment, with an
// optional TOML file overlay for settings that are awkward as env vars.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DatabaseURL string // ERRSIGHT_DATABASE_URL (required unless dev mode)
	HTTPAddr    string // ERRSIGHT_HTTP_ADDR (default ":8080")

	// Bus settings
	NATSURL string // ERRSIGHT_NATS_URL (optional, empty = no bus)
	Stream  string // ERRSIGHT_NATS_STREAM (default "ERRSIGHT")
	Topic   string // ERRSIGHT_TOPIC (default "errsight.events")
	GroupID string // ERRSIGHT_GROUP_ID (default "errsight-workers")
	Source  string // ERRSIGHT_SOURCE (default "errsight")

	// Search settings
	SearchNode  string // ERRSIGHT_SEARCH_NODE (optional, empty = store-only search)
	SearchIndex string // ERRSIGHT_SEARCH_INDEX (default "errsight-events")

	// Cache settings
	CachePrefix string // ERRSIGHT_CACHE_PREFIX (default "errsight")

	// Archive settings
	ArchiveInterval time.Duration // ERRSIGHT_ARCHIVE_INTERVAL (default 15m; 0 = disabled)
	ArchiveS3Bucket string        // ERRSIGHT_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Region string        // ERRSIGHT_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix string        // ERRSIGHT_ARCHIVE_S3_PREFIX (default "errsight/events"; one timestamped object per export)
	ArchiveEndpoint string        // ERRSIGHT_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
}

// fileConfig is the TOML overlay shape. Values set in the file win over
// environment defaults but lose to explicit environment variables.
type fileConfig struct {
	DatabaseURL string `toml:"database_url,omitempty"`
	HTTPAddr    string `toml:"http_addr,omitempty"`
	NATSURL     string `toml:"nats_url,omitempty"`
	SearchNode  string `toml:"search_node,omitempty"`
}

// Load reads configuration from the environment. When dev is true a missing
// database URL is allowed and the caller falls back to in-memory stores.
func Load(dev bool) (*Config, error) {
	c := &Config{
		DatabaseURL:     os.Getenv("ERRSIGHT_DATABASE_URL"),
		HTTPAddr:        envOrDefault("ERRSIGHT_HTTP_ADDR", ":8080"),
		NATSURL:         os.Getenv("ERRSIGHT_NATS_URL"),
		Stream:          envOrDefault("ERRSIGHT_NATS_STREAM", "ERRSIGHT"),
		Topic:           envOrDefault("ERRSIGHT_TOPIC", "errsight.events"),
		GroupID:         envOrDefault("ERRSIGHT_GROUP_ID", "errsight-workers"),
		Source:          envOrDefault("ERRSIGHT_SOURCE", "errsight"),
		SearchNode:      os.Getenv("ERRSIGHT_SEARCH_NODE"),
		SearchIndex:     envOrDefault("ERRSIGHT_SEARCH_INDEX", "errsight-events"),
		CachePrefix:     envOrDefault("ERRSIGHT_CACHE_PREFIX", "errsight"),
		ArchiveS3Bucket: os.Getenv("ERRSIGHT_ARCHIVE_S3_BUCKET"),
		ArchiveS3Region: envOrDefault("ERRSIGHT_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Prefix: envOrDefault("ERRSIGHT_ARCHIVE_S3_PREFIX", "errsight/events"),
		ArchiveEndpoint: os.Getenv("ERRSIGHT_ARCHIVE_S3_ENDPOINT"),
	}

	if path := os.Getenv("ERRSIGHT_CONFIG_FILE"); path != "" {
		if err := c.applyFile(path); err != nil {
			return nil, err
		}
	}

	if c.DatabaseURL == "" && !dev {
		return nil, fmt.Errorf("ERRSIGHT_DATABASE_URL is required")
	}

	intervalStr := envOrDefault("ERRSIGHT_ARCHIVE_INTERVAL", "15m")
	d, err := time.ParseDuration(intervalStr)
	if err != nil {
		return nil, fmt.Errorf("ERRSIGHT_ARCHIVE_INTERVAL: %w", err)
	}
	c.ArchiveInterval = d

	return c, nil
}

// applyFile overlays file values onto settings the environment left empty.
func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = fc.DatabaseURL
	}
	if os.Getenv("ERRSIGHT_HTTP_ADDR") == "" && fc.HTTPAddr != "" {
		c.HTTPAddr = fc.HTTPAddr
	}
	if c.NATSURL == "" {
		c.NATSURL = fc.NATSURL
	}
	if c.SearchNode == "" {
		c.SearchNode = fc.SearchNode
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
