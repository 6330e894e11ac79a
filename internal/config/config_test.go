package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
nvr:
  host: 192.168.1.50
  username: admin
  password: secret
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.NVR.Port != 80 {
		t.Errorf("nvr.port = %d, want 80", cfg.NVR.Port)
	}
	if cfg.Server.ListenAddr != ":8093" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.WebhookPath != "/webhook" {
		t.Errorf("webhook_path = %q", cfg.Server.WebhookPath)
	}
	if cfg.Dedup.TTLSeconds != 30 || cfg.Dedup.MaxKeys != 4096 || cfg.Dedup.MinCommon != 3 {
		t.Errorf("dedup defaults = %+v", cfg.Dedup)
	}
	if cfg.History.Slots != 5 {
		t.Errorf("history.slots = %d", cfg.History.Slots)
	}
	if cfg.StateDir != "state" {
		t.Errorf("state_dir = %q", cfg.StateDir)
	}
	if cfg.Timeout() != 15*time.Second {
		t.Errorf("timeout = %v", cfg.Timeout())
	}
	if cfg.PollInterval() != 30*time.Second {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
}

func TestLoadRequiresHostAndUsername(t *testing.T) {
	if _, err := Load(writeConfig(t, "nvr:\n  username: admin\n")); err == nil {
		t.Error("missing host must fail")
	}
	if _, err := Load(writeConfig(t, "nvr:\n  host: 1.2.3.4\n")); err == nil {
		t.Error("missing username must fail")
	}
}

func TestLoadBadYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "nvr: [broken")); err == nil {
		t.Error("unparseable YAML must fail")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file must fail")
	}
}

func TestPollIntervalClamped(t *testing.T) {
	cfg := &Config{}
	cfg.NVR.PollIntervalSeconds = 2
	if got := cfg.PollInterval(); got != minPollInterval {
		t.Errorf("low interval = %v, want clamp to %v", got, minPollInterval)
	}
	cfg.NVR.PollIntervalSeconds = 9999
	if got := cfg.PollInterval(); got != maxPollInterval {
		t.Errorf("high interval = %v, want clamp to %v", got, maxPollInterval)
	}
	cfg.NVR.PollIntervalSeconds = 60
	if got := cfg.PollInterval(); got != 60*time.Second {
		t.Errorf("in-range interval = %v", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NVR_HOST", "10.9.8.7")
	t.Setenv("NVR_PORT", "8080")
	t.Setenv("NVR_PASSWORD", "fromenv")
	t.Setenv("NATS_URL", "nats://broker:4222")
	t.Setenv("ARCHIVE_DSN", "postgres://db/bridge")
	t.Setenv("JWT_SIGNING_KEY", "envkey")
	t.Setenv("PORT", "9000")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.NVR.Host != "10.9.8.7" || cfg.NVR.Port != 8080 {
		t.Errorf("nvr = %+v", cfg.NVR)
	}
	if cfg.NVR.Password != "fromenv" {
		t.Errorf("password = %q", cfg.NVR.Password)
	}
	// Setting the URL via env also switches the mirror on.
	if !cfg.NATS.Enabled || cfg.NATS.URL != "nats://broker:4222" {
		t.Errorf("nats = %+v", cfg.NATS)
	}
	if !cfg.Archive.Enabled || cfg.Archive.DSN != "postgres://db/bridge" {
		t.Errorf("archive = %+v", cfg.Archive)
	}
	if cfg.Server.JWTSigningKey != "envkey" {
		t.Errorf("jwt key = %q", cfg.Server.JWTSigningKey)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
}

func TestFullConfigFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
nvr:
  host: 192.168.1.50
  port: 8000
  username: admin
  password: secret
  timeout_seconds: 5
  poll_interval_seconds: 45
server:
  listen_addr: ":9093"
  advertise_addr: 10.0.0.2
  advertise_port: 9093
  webhook_path: /hooks/nvr
  jwt_signing_key: filekey
dedup:
  ttl_seconds: 10
  max_keys: 128
  min_common: 4
nats:
  enabled: true
  url: nats://localhost:4222
  subject_prefix: site1
history:
  slots: 8
state_dir: /var/lib/bridge
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NVR.Port != 8000 || cfg.Timeout() != 5*time.Second {
		t.Errorf("nvr = %+v", cfg.NVR)
	}
	if cfg.PollInterval() != 45*time.Second {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.Server.AdvertiseAddr != "10.0.0.2" || cfg.Server.WebhookPath != "/hooks/nvr" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Dedup.MinCommon != 4 || cfg.DedupTTL() != 10*time.Second {
		t.Errorf("dedup = %+v", cfg.Dedup)
	}
	if cfg.NATS.SubjectPrefix != "site1" {
		t.Errorf("nats = %+v", cfg.NATS)
	}
	if cfg.History.Slots != 8 || cfg.StateDir != "/var/lib/bridge" {
		t.Errorf("history/state = %+v %q", cfg.History, cfg.StateDir)
	}
}
