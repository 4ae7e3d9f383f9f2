package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
server:
  addr: ":8080"
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
mail:
  enabled: false
  host: ""
  username: ""
  password: ""
  from: ""
discord:
  enabled: true
  token: "token"
  channel_id: "955391175823618072"
slack:
  enabled: false
  token: ""
  channel_id: ""
scheduler:
  timezone: "Asia/Kolkata"
storage:
  driver: sqlite
  path: ./relayd.db
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !cfg.Discord.Enabled || cfg.Discord.ChannelID != "955391175823618072" {
		t.Fatalf("unexpected discord config: %+v", cfg.Discord)
	}
	if cfg.Scheduler.Timezone != "Asia/Kolkata" {
		t.Fatalf("timezone = %q", cfg.Scheduler.Timezone)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return committed config")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	bad := strings.Replace(validYAML, "scheduler:", "shceduler_typo:\n  x: 1\nscheduler:", 1)
	m := NewManager(writeConfig(t, "config.yaml", bad))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsInvalidBackendConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{
			name: "enabled discord without token",
			body: `{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"server":{},"mail":{"enabled":false,"host":"","username":"","password":"","from":""},"discord":{"enabled":true,"token":"","channel_id":""},"slack":{"enabled":false,"token":"","channel_id":""},"scheduler":{}}`,
		},
		{
			name: "no backend enabled",
			body: `{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"server":{},"mail":{"enabled":false,"host":"","username":"","password":"","from":""},"discord":{"enabled":false,"token":"","channel_id":""},"slack":{"enabled":false,"token":"","channel_id":""},"scheduler":{}}`,
		},
		{
			name: "unknown storage driver",
			body: `{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"server":{},"mail":{"enabled":false,"host":"","username":"","password":"","from":""},"discord":{"enabled":true,"token":"t","channel_id":"c"},"slack":{"enabled":false,"token":"","channel_id":""},"scheduler":{},"storage":{"driver":"redis","path":""}}`,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfig(t, "config.json", tt.body))
			if _, err := m.Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	body := `{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}},"server":{},"mail":{"enabled":false,"host":"","username":"","password":"","from":""},"discord":{"enabled":true,"token":"t","channel_id":"c"},"slack":{"enabled":false,"token":"","channel_id":""},"scheduler":{}}{}`
	m := NewManager(writeConfig(t, "config.json", body))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("server.read_timeout", "10s")
	if err != nil || d.Seconds() != 10 {
		t.Fatalf("ParseDurationField = (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if _, err := ParseDurationField("x", "nope"); err == nil {
		t.Fatal("expected error for junk duration")
	}
}
