package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-intercom/internal/actuator"
	"github.com/nerrad567/gray-logic-intercom/internal/api"
	"github.com/nerrad567/gray-logic-intercom/internal/dtmf"
	"github.com/nerrad567/gray-logic-intercom/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-intercom/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/digest"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// writeTestConfig writes a config using the memory relays and a database
// under t.TempDir, and returns its path.
func writeTestConfig(t *testing.T, apiPort int) string {
	t.Helper()
	dir := t.TempDir()

	content := fmt.Sprintf(`
station:
  id: test-door

sip:
  server:
    host: "127.0.0.1"
    port: 5060
  local_port: 0
  username: "door1"
  domain: "pbx.local"
  password: "secret"
  callee: "100"

actuator:
  driver: memory
  door_pulse_ms: 500

database:
  path: %q
  wal_mode: true
  busy_timeout: 5

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: %d
  timeouts:
    read: 5
    write: 5
    idle: 5

security:
  jwt:
    secret: %q
    access_token_ttl: 15
`, filepath.Join(dir, "intercom.db"), apiPort, testSecret)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("INTERCOM_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
	t.Setenv("INTERCOM_CONFIG", "/etc/intercom.yaml")
	if got := getConfigPath(); got != "/etc/intercom.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
}

func TestRun_Lifecycle(t *testing.T) {
	port := freePort(t)
	path := writeTestConfig(t, port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, path) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		select {
		case err := <-done:
			t.Fatalf("run() exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("API did not become healthy: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

type fakeLoader struct {
	mappings []dtmf.Mapping
	err      error
}

func (f fakeLoader) Load(context.Context) ([]dtmf.Mapping, error) { return f.mappings, f.err }

func TestInitialMappings(t *testing.T) {
	stored := []dtmf.Mapping{{Tone: "9", Command: dtmf.CommandDoorOpen, Enabled: true}}
	fromConfig := config.DTMFConfig{Mappings: []config.DTMFMappingConfig{
		{Tone: "1", Command: "door_open", Param: 800, Enabled: true},
	}}

	tests := []struct {
		name     string
		loader   fakeLoader
		cfg      config.DTMFConfig
		wantTone string
		wantNil  bool
		wantErr  bool
	}{
		{name: "stored wins", loader: fakeLoader{mappings: stored}, cfg: fromConfig, wantTone: "9"},
		{name: "config fallback", loader: fakeLoader{err: dtmf.ErrNoStoredMappings}, cfg: fromConfig, wantTone: "1"},
		{name: "defaults", loader: fakeLoader{err: dtmf.ErrNoStoredMappings}, wantNil: true},
		{name: "load failure", loader: fakeLoader{err: errors.New("disk")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := initialMappings(context.Background(), tt.loader, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("initialMappings() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.wantNil {
				if got != nil {
					t.Errorf("mappings = %v, want nil", got)
				}
				return
			}
			if len(got) != 1 || got[0].Tone != tt.wantTone {
				t.Errorf("mappings = %+v, want tone %s", got, tt.wantTone)
			}
		})
	}

	got, _ := initialMappings(context.Background(), fakeLoader{err: dtmf.ErrNoStoredMappings}, fromConfig)
	if got[0].Param != 800 || got[0].Command != dtmf.CommandDoorOpen || !got[0].Enabled {
		t.Errorf("converted mapping = %+v", got[0])
	}
}

func TestCoordinatorConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Station.ID = "gate"
	cfg.SIP.Username = "door1"
	cfg.SIP.Domain = "pbx.local"
	cfg.SIP.Password = "secret"
	cfg.DTMF.Enabled = false

	got := coordinatorConfig(cfg, nil)

	want := digest.Credentials{Username: "door1", Domain: "pbx.local", Password: "secret"}
	if got.Station != "gate" || got.Credentials != want {
		t.Errorf("identity = %q %+v", got.Station, got.Credentials)
	}
	if !got.DTMFDisabled {
		t.Error("DTMFDisabled = false, want true")
	}
	if got.RegisterInterval != 30*time.Minute || got.CallTimeout != 30*time.Second {
		t.Errorf("timers = %v / %v", got.RegisterInterval, got.CallTimeout)
	}
	if got.LockTimeout != 100*time.Millisecond {
		t.Errorf("LockTimeout = %v, want 100ms", got.LockTimeout)
	}
	if got.Actuator.DoorPulse != 500*time.Millisecond || !got.Actuator.AutoHangup ||
		got.Actuator.AutoHangupDelay != 5*time.Second {
		t.Errorf("actuator = %+v", got.Actuator)
	}
}

type recordingPublisher struct {
	topics []string
}

func (p *recordingPublisher) Publish(topic string, _ []byte, _ byte, _ bool) error {
	p.topics = append(p.topics, topic)
	return nil
}

func TestOpenRelays(t *testing.T) {
	topics := mqtt.Topics{Station: "gate"}
	cfg := config.Default().Actuator

	door, light, err := openRelays(cfg, nil, topics, 1)
	if err != nil {
		t.Fatalf("memory driver: %v", err)
	}
	if _, ok := door.(*actuator.MemoryRelay); !ok {
		t.Errorf("door = %T, want *actuator.MemoryRelay", door)
	}
	if _, ok := light.(*actuator.MemoryRelay); !ok {
		t.Errorf("light = %T, want *actuator.MemoryRelay", light)
	}

	cfg.Driver = "MQTT"
	if _, _, err := openRelays(cfg, nil, topics, 1); err == nil {
		t.Error("mqtt driver without a publisher should fail")
	}

	pub := &recordingPublisher{}
	door, _, err = openRelays(cfg, pub, topics, 1)
	if err != nil {
		t.Fatalf("mqtt driver: %v", err)
	}
	if err := door.Pulse(context.Background(), time.Second); err != nil {
		t.Fatalf("Pulse() error = %v", err)
	}
	if len(pub.topics) != 1 || pub.topics[0] != "intercom/gate/relay/door/set" {
		t.Errorf("published topics = %v", pub.topics)
	}

	cfg.Driver = "relay-board"
	if _, _, err := openRelays(cfg, nil, topics, 1); err == nil {
		t.Error("unknown driver should fail")
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "intercom dev") {
		t.Errorf("output = %q", out)
	}
}

func TestDigestCmd(t *testing.T) {
	challenge := `Digest realm="pbx.local", nonce="abc123", algorithm=MD5`
	out, err := execute(t, "digest",
		"--username", "door1", "--domain", "pbx.local", "--password", "secret",
		"--challenge", challenge)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}

	ch, err := digest.ParseChallenge(digest.HeaderWWWAuthenticate, challenge)
	if err != nil {
		t.Fatalf("ParseChallenge() error = %v", err)
	}
	creds := digest.Credentials{Username: "door1", Domain: "pbx.local", Password: "secret"}
	want := digest.ComputeResponse(creds, ch, "REGISTER", "sip:pbx.local")

	if !strings.Contains(out, "response: "+want) {
		t.Errorf("output %q missing response %s", out, want)
	}
	if !strings.Contains(out, "Authorization: Digest") {
		t.Errorf("output %q missing Authorization header", out)
	}

	out, err = execute(t, "digest",
		"--username", "door1", "--domain", "pbx.local", "--password", "secret",
		"--challenge", challenge, "--proxy")
	if err != nil {
		t.Fatalf("digest --proxy: %v", err)
	}
	if !strings.Contains(out, "Proxy-Authorization: Digest") {
		t.Errorf("output %q missing Proxy-Authorization header", out)
	}
}

func TestDigestCmd_Invalid(t *testing.T) {
	if _, err := execute(t, "digest", "--username", "d", "--domain", "x", "--password", "p",
		"--challenge", `Digest nonce="n"`); err == nil {
		t.Error("short username should fail")
	}
	if _, err := execute(t, "digest", "--username", "door1", "--domain", "pbx.local", "--password", "p"); err == nil {
		t.Error("missing challenge should fail")
	}
	if _, err := execute(t, "digest", "--username", "door1", "--domain", "pbx.local", "--password", "p",
		"--challenge", "Basic realm=x"); err == nil {
		t.Error("non-digest challenge should fail")
	}
}

func TestTokenCmd(t *testing.T) {
	path := writeTestConfig(t, 8080)

	out, err := execute(t, "token", "--config", path, "--subject", "panel", "--ttl", "2m")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	claims, err := api.ParseToken(strings.TrimSpace(out), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "panel" {
		t.Errorf("Subject = %q, want panel", claims.Subject)
	}
	if ttl := time.Until(claims.ExpiresAt.Time); ttl > 2*time.Minute {
		t.Errorf("ttl = %v, want <= 2m", ttl)
	}
}

func TestMigrateCmd(t *testing.T) {
	path := writeTestConfig(t, 8080)

	out, err := execute(t, "migrate", "status", "--config", path)
	if err != nil {
		t.Fatalf("migrate status: %v", err)
	}
	if !strings.Contains(out, "pending  0001") || strings.Contains(out, "applied") {
		t.Errorf("fresh database status = %q", out)
	}

	if _, err := execute(t, "migrate", "up", "--config", path); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	out, _ = execute(t, "migrate", "status", "--config", path)
	if strings.Contains(out, "pending") || !strings.Contains(out, "applied  0004") {
		t.Errorf("migrated status = %q", out)
	}

	if _, err := execute(t, "migrate", "down", "--config", path); err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	out, _ = execute(t, "migrate", "status", "--config", path)
	if !strings.Contains(out, "pending  0004") {
		t.Errorf("status after down = %q", out)
	}
}
