package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("ERRSIGHT_DATABASE_URL", "")

	if _, err := Load(false); err == nil {
		t.Error("expected error without database URL")
	}
	if _, err := Load(true); err != nil {
		t.Errorf("dev mode should not require database URL: %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ERRSIGHT_DATABASE_URL", "postgres://localhost/errsight")

	c, err := Load(false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", c.HTTPAddr)
	}
	if c.Stream != "ERRSIGHT" || c.Topic != "errsight.events" || c.GroupID != "errsight-workers" {
		t.Errorf("bus defaults = %q/%q/%q", c.Stream, c.Topic, c.GroupID)
	}
	if c.SearchIndex != "errsight-events" {
		t.Errorf("SearchIndex = %q", c.SearchIndex)
	}
	if c.ArchiveInterval != 15*time.Minute {
		t.Errorf("ArchiveInterval = %v", c.ArchiveInterval)
	}
}

func TestLoadRejectsBadInterval(t *testing.T) {
	t.Setenv("ERRSIGHT_DATABASE_URL", "postgres://localhost/errsight")
	t.Setenv("ERRSIGHT_ARCHIVE_INTERVAL", "often")

	if _, err := Load(false); err == nil {
		t.Error("expected error for bad interval")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errsight.toml")
	content := `
database_url = "postgres://file-host/errsight"
http_addr = ":9999"
search_node = "http://search:9200"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("ERRSIGHT_DATABASE_URL", "")
	t.Setenv("ERRSIGHT_CONFIG_FILE", path)

	c, err := Load(false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.DatabaseURL != "postgres://file-host/errsight" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
	if c.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q", c.HTTPAddr)
	}

	// The environment wins over the file.
	t.Setenv("ERRSIGHT_DATABASE_URL", "postgres://env-host/errsight")
	c, err = Load(false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.DatabaseURL != "postgres://env-host/errsight" {
		t.Errorf("DatabaseURL = %q", c.DatabaseURL)
	}
}
