package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/simcoreservers/nutetra/pkg/logx"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestManagerParseJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{
		"logging": {"level": "debug", "console": true},
		"sensor": {"source": "sim"},
		"pump": {"actuator": "dryrun"},
		"state": {"path": "./state.json"}
	}`)

	m := NewManager(path, logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Sensor.Source != "sim" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatalf("Get() did not return the committed config")
	}
}

func TestManagerParseYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
logging:
  level: info
  console: true
sensor:
  source: http
  http:
    base_url: http://localhost:5000
    timeout: 5s
pump:
  actuator: dryrun
state:
  path: ./state.json
`)

	m := NewManager(path, logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sensor.Source != "http" || cfg.Sensor.HTTP.BaseURL != "http://localhost:5000" {
		t.Fatalf("yaml not coerced: %+v", cfg.Sensor)
	}
}

func TestManagerRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{
		"logging": {"level": "info"},
		"state": {"path": "./state.json"},
		"sensro": {"source": "sim"}
	}`)

	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), "sensro") {
		t.Fatalf("typoed key accepted: %v", err)
	}
}

func TestManagerRejectsTrailingData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"state": {"path": "./s.json"}} {"extra": true}`)

	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err == nil {
		t.Fatalf("trailing JSON accepted")
	}
}

func TestManagerRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cases := []string{
		// state.path is required
		`{"logging": {"level": "info"}}`,
		// http source without a base url
		`{"state": {"path": "./s.json"}, "sensor": {"source": "http"}}`,
		// unknown log level
		`{"state": {"path": "./s.json"}, "logging": {"level": "loud"}}`,
		// bad duration
		`{"state": {"path": "./s.json"}, "driver": {"watchdog_timeout": "fast"}}`,
		// storage without a path
		`{"state": {"path": "./s.json"}, "storage": {"driver": "file"}}`,
	}
	for i, content := range cases {
		writeFile(t, path, content)
		m := NewManager(path, logx.Nop())
		if _, err := m.Load(); err == nil {
			t.Fatalf("case %d accepted: %s", i, content)
		}
	}
}

func TestManagerSubscribePublish(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"state": {"path": "./s.json"}}`)

	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	next := Default()
	m.publish(next)
	select {
	case got := <-sub:
		if got != next {
			t.Fatalf("subscriber got a different config")
		}
	default:
		t.Fatalf("publish did not reach the subscriber")
	}

	// A slow subscriber keeps the newest config, not the oldest.
	a, b := Default(), Default()
	m.publish(a)
	m.publish(b)
	if got := <-sub; got != b {
		t.Fatalf("slow subscriber kept the stale config")
	}
}

func TestManagerReloadSkipsUnchangedAndBadConfigs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"state": {"path": "./s.json"}}`)

	m := NewManager(path, logx.Nop())
	first, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Identical content: no publish.
	m.reload()
	select {
	case <-sub:
		t.Fatalf("unchanged config was republished")
	default:
	}

	// Broken content: committed config survives.
	writeFile(t, path, `{"state": {`)
	m.reload()
	if m.Get() != first {
		t.Fatalf("broken reload evicted the running config")
	}

	// Fixed content with a real change publishes.
	writeFile(t, path, `{"state": {"path": "./s.json"}, "logging": {"level": "debug"}}`)
	m.reload()
	select {
	case got := <-sub:
		if got.Logging.Level != "debug" {
			t.Fatalf("published config stale: %+v", got.Logging)
		}
	default:
		t.Fatalf("changed config was not published")
	}
}
