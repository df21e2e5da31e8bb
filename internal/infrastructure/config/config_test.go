package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "intercom.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// validConfig returns a configuration that passes Validate.
func validConfig() *Config {
	cfg := defaultConfig()
	cfg.SIP.Server.Host = "pbx.local"
	cfg.SIP.Username = "door"
	cfg.SIP.Domain = "pbx.local"
	cfg.SIP.Password = "secret"
	cfg.Security.JWT.Secret = testJWTSecret
	return cfg
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
station:
  id: "door-test"
sip:
  server:
    host: "pbx.local"
    port: 5080
  username: "door"
  domain: "pbx.local"
  password: "secret"
  callee: "100"
dtmf:
  enabled: true
  mappings:
    - tone: "1"
      command: "door_open"
      param: 800
      enabled: true
    - tone: "#"
      command: "light_toggle"
      enabled: true
actuator:
  driver: "memory"
  door_pulse_ms: 800
database:
  path: "/tmp/intercom.db"
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Station.ID != "door-test" {
		t.Errorf("Station.ID = %q, want %q", cfg.Station.ID, "door-test")
	}
	if cfg.SIP.Server.Port != 5080 {
		t.Errorf("SIP.Server.Port = %d, want 5080", cfg.SIP.Server.Port)
	}
	if cfg.SIP.Server.Transport != "udp" {
		t.Errorf("SIP.Server.Transport = %q, want default udp", cfg.SIP.Server.Transport)
	}
	if len(cfg.DTMF.Mappings) != 2 {
		t.Fatalf("len(DTMF.Mappings) = %d, want 2", len(cfg.DTMF.Mappings))
	}
	if cfg.DTMF.Mappings[0].Param != 800 {
		t.Errorf("Mappings[0].Param = %d, want 800", cfg.DTMF.Mappings[0].Param)
	}
	if cfg.Actuator.DoorPulse() != 800*time.Millisecond {
		t.Errorf("DoorPulse() = %v, want 800ms", cfg.Actuator.DoorPulse())
	}
	if cfg.Actuator.Cooldown() != 5*time.Second {
		t.Errorf("Cooldown() = %v, want default 5s", cfg.Actuator.Cooldown())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/intercom.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
sip:
  server:
    host: "pbx.local"
  username: "door"
  domain: "pbx.local"
`)
	t.Setenv("INTERCOM_SIP_PASSWORD", "from-env")
	t.Setenv("INTERCOM_JWT_SECRET", testJWTSecret)
	t.Setenv("INTERCOM_API_PORT", "9090")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SIP.Password != "from-env" {
		t.Errorf("SIP.Password = %q, want from-env", cfg.SIP.Password)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing station id",
			mutate:  func(c *Config) { c.Station.ID = "" },
			wantErr: "station.id",
		},
		{
			name:    "username too short",
			mutate:  func(c *Config) { c.SIP.Username = "ab" },
			wantErr: "sip.username",
		},
		{
			name:    "username too long",
			mutate:  func(c *Config) { c.SIP.Username = strings.Repeat("u", 32) },
			wantErr: "sip.username",
		},
		{
			name:    "missing password",
			mutate:  func(c *Config) { c.SIP.Password = "" },
			wantErr: "sip.password",
		},
		{
			name:    "tcp transport rejected",
			mutate:  func(c *Config) { c.SIP.Server.Transport = "tcp" },
			wantErr: "sip.server.transport",
		},
		{
			name:    "zero call timeout",
			mutate:  func(c *Config) { c.SIP.CallTimeout = 0 },
			wantErr: "sip.call_timeout",
		},
		{
			name: "invalid tone",
			mutate: func(c *Config) {
				c.DTMF.Mappings = []DTMFMappingConfig{{Tone: "X", Command: "door_open", Enabled: true}}
			},
			wantErr: "dtmf.mappings[0].tone",
		},
		{
			name: "too many mappings",
			mutate: func(c *Config) {
				for i := 0; i < 13; i++ {
					c.DTMF.Mappings = append(c.DTMF.Mappings, DTMFMappingConfig{Tone: "1", Command: "status"})
				}
			},
			wantErr: "at most 12",
		},
		{
			name:    "pulse too short",
			mutate:  func(c *Config) { c.Actuator.DoorPulseMS = 50 },
			wantErr: "door_pulse_ms",
		},
		{
			name:    "pulse too long",
			mutate:  func(c *Config) { c.Actuator.DoorPulseMS = 10001 },
			wantErr: "door_pulse_ms",
		},
		{
			name:    "zero cool-down",
			mutate:  func(c *Config) { c.Actuator.CooldownMS = 0 },
			wantErr: "cooldown_ms",
		},
		{
			name:    "hangup delay out of range",
			mutate:  func(c *Config) { c.Actuator.AutoHangup.DelayMS = 60001 },
			wantErr: "auto_hangup.delay_ms",
		},
		{
			name: "hangup delay ignored when disabled",
			mutate: func(c *Config) {
				c.Actuator.AutoHangup.Enabled = false
				c.Actuator.AutoHangup.DelayMS = 0
			},
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Actuator.Driver = "serial" },
			wantErr: "actuator.driver",
		},
		{
			name: "gpio driver needs pins",
			mutate: func(c *Config) {
				c.Actuator.Driver = "gpio"
				c.Actuator.Door.Pin = ""
			},
			wantErr: "actuator.door.pin",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid API port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "missing JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: "security.jwt.secret is required",
		},
		{
			name:    "short JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "too-short" },
			wantErr: "at least 32 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Station.ID = ""
	cfg.Database.Path = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if !strings.Contains(err.Error(), "station.id") || !strings.Contains(err.Error(), "database.path") {
		t.Errorf("Validate() error = %q, want both failures reported", err.Error())
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := validConfig()

	if got := cfg.SIP.RegisterIntervalDuration(); got != 30*time.Minute {
		t.Errorf("RegisterIntervalDuration() = %v, want 30m", got)
	}
	if got := cfg.SIP.CallTimeoutDuration(); got != 30*time.Second {
		t.Errorf("CallTimeoutDuration() = %v, want 30s", got)
	}
	if got := cfg.Actuator.AutoHangupDelay(); got != 5*time.Second {
		t.Errorf("AutoHangupDelay() = %v, want 5s", got)
	}
	if got := cfg.Coordinator.LockTimeout(); got != 100*time.Millisecond {
		t.Errorf("LockTimeout() = %v, want 100ms", got)
	}
	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
}
