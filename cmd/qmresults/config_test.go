package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigReadsFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 0.0.0.0:9000
  legacy: true
client:
  timeout: 2m
log:
  format: json
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	want.Server.Addr = "0.0.0.0:9000"
	want.Server.Legacy = true
	want.Client.Timeout = 2 * time.Minute
	want.Log.Format = "json"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: 0.0.0.0:9000
`)
	t.Setenv("QMRESULTS_SERVER_ADDR", "127.0.0.1:7000")
	t.Setenv("QMRESULTS_SERVER_PIECE_SIZE", "1024")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:7000" {
		t.Fatalf("expected env addr, got %q", cfg.Server.Addr)
	}
	if cfg.Server.PieceSize != 1024 {
		t.Fatalf("expected env piece size, got %d", cfg.Server.PieceSize)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"prefix":     {"server:\n  prefix: qm\n", "server.prefix"},
		"piece size": {"server:\n  piece_size: 0\n", "server.piece_size"},
		"client url": {"client:\n  url: localhost\n", "client.url"},
		"log level":  {"log:\n  level: loud\n", "log.level"},
		"log format": {"log:\n  format: xml\n", "log.format"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %s error, got %v", tc.want, err)
			}
		})
	}
}

func TestConfigCommandPrintsYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  server_id: lab-3\n")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "config"})
	if err := root.Execute(); err != nil {
		t.Fatalf("config command: %v", err)
	}
	var got map[string]map[string]any
	if err := yaml.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, out.String())
	}
	if got["server"]["server_id"] != "lab-3" {
		t.Fatalf("unexpected server section: %v", got["server"])
	}
	if got["client"]["timeout"] != "30s" {
		t.Fatalf("unexpected client timeout: %v", got["client"]["timeout"])
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qmresults.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
