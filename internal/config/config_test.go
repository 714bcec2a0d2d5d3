package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const yamlDoc = `
source:
  url: https://example.test/positions
  schedule: 15s
assets:
  - id: LOGOSmint
    symbol: LOGOS
    decimals: 9
monitored:
  - id: LOGOSmint
    detailed: true
    quote: USDCmint
telegram:
  token: file-token
  chat_id: 42
history:
  driver: sqlite
  path: ./data/history.db
`

const tomlDoc = `
[source]
url = "https://example.test/positions"
schedule = "15s"

[[assets]]
id = "LOGOSmint"
symbol = "LOGOS"
decimals = 9

[[monitored]]
id = "LOGOSmint"
detailed = true
quote = "USDCmint"

[telegram]
token = "file-token"
chat_id = 42

[history]
driver = "sqlite"
path = "./data/history.db"
`

const jsonDoc = `{
  "source": {"url": "https://example.test/positions", "schedule": "15s"},
  "assets": [{"id": "LOGOSmint", "symbol": "LOGOS", "decimals": 9}],
  "monitored": [{"id": "LOGOSmint", "detailed": true, "quote": "USDCmint"}],
  "telegram": {"token": "file-token", "chat_id": 42},
  "history": {"driver": "sqlite", "path": "./data/history.db"}
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func noEnv(string) (string, bool) { return "", false }

func newTestManager(path string, env map[string]string) *Manager {
	m := NewManager(path)
	m.lookup = noEnv
	if env != nil {
		m.lookup = func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}
	}
	return m
}

func TestFormatsDecodeToSameConfig(t *testing.T) {
	var got []*Config
	for name, body := range map[string]string{"c.yaml": yamlDoc, "c.toml": tomlDoc, "c.json": jsonDoc} {
		m := newTestManager(writeFile(t, name, body), nil)
		cfg, err := m.Load(context.Background())
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		got = append(got, cfg)
	}
	for i := 1; i < len(got); i++ {
		if !reflect.DeepEqual(got[0], got[i]) {
			t.Fatalf("configs differ:\n%+v\n%+v", got[0], got[i])
		}
	}
	c := got[0]
	if c.Monitored[0].Quote != "USDCmint" || c.Assets[0].Decimals != 9 || c.Telegram.ChatID != 42 {
		t.Fatalf("decoded = %+v", c)
	}
	if c.Logging.Level != "info" || !c.Logging.Console {
		t.Fatalf("logging defaults = %+v", c.Logging)
	}
	if !c.Summary.NotifySummary() {
		t.Fatalf("summary notify should default to true")
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	m := newTestManager(writeFile(t, "c.yaml", yamlDoc+"\nbogus: 1\n"), nil)
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("err = %v, want unknown field", err)
	}
}

func TestTrailingJSONRejected(t *testing.T) {
	m := newTestManager(writeFile(t, "c.json", jsonDoc+"{}"), nil)
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestEnvOverrides(t *testing.T) {
	m := newTestManager(writeFile(t, "c.yaml", yamlDoc), map[string]string{
		EnvTelegramToken:  "env-token",
		EnvTelegramChatID: "-100123",
		EnvSourceURL:      "https://other.test/x",
		EnvLogLevel:       "debug",
	})
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Telegram.ChatID != -100123 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Source.URL != "https://other.test/x" || cfg.Logging.Level != "debug" {
		t.Fatalf("source/logging = %+v %+v", cfg.Source, cfg.Logging)
	}

	bad := newTestManager(writeFile(t, "c.yaml", yamlDoc), map[string]string{EnvTelegramChatID: "abc"})
	if _, err := bad.Parse(); err == nil {
		t.Fatalf("expected chat id parse error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "DCAWATCH_TEST_DOTENV"
	p := writeFile(t, ".env", key+"=from-file\n")
	t.Setenv(key, "")
	os.Unsetenv(key)
	if err := LoadDotEnv(p, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv(key); got != "from-file" {
		t.Fatalf("env = %q", got)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		Source:      SourceConfig{Schedule: "every nope"},
		Monitored:   []MonitoredConfig{{ID: "A", Quote: "A"}, {ID: "A"}},
		Assets:      []AssetConfig{{ID: "X", Decimals: -1}},
		History:     HistoryConfig{Driver: "postgres"},
		Delivery:    DeliveryConfig{MinInterval: "fast"},
		ExplorerURL: "https://x/%d/%s",
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{
		"source.url", "source.schedule", "assets[0].symbol", "assets[0].decimals",
		"monitored[0].quote", "monitored[1]: duplicate", "monitored[1].quote is required", "telegram.token", "telegram.chat_id",
		"history.driver", "delivery.min_interval", "explorer_url",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestValidateDryRunSkipsTelegram(t *testing.T) {
	cfg := &Config{
		Source:    SourceConfig{URL: "https://x", Schedule: "10s"},
		Monitored: []MonitoredConfig{{ID: "A", Quote: "B"}},
		Delivery:  DeliveryConfig{DryRun: true},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	p := writeFile(t, "c.yaml", yamlDoc)
	m := newTestManager(p, nil)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if changed, err := m.Reload(context.Background()); err != nil || changed {
		t.Fatalf("unchanged reload: changed=%v err=%v", changed, err)
	}

	if err := os.WriteFile(p, []byte(yamlDoc+"summary:\n  interval: 2m\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	changed, err := m.Reload(context.Background())
	if err != nil || !changed {
		t.Fatalf("changed reload: changed=%v err=%v", changed, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Summary.Interval != "2m" {
			t.Fatalf("published interval = %q", cfg.Summary.Interval)
		}
	default:
		t.Fatal("nothing published")
	}

	if err := os.WriteFile(p, []byte(yamlDoc+"summary:\n  interval: soon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatal("invalid reload accepted")
	}
	if m.Get().Summary.Interval != "2m" {
		t.Fatalf("previous config not kept: %q", m.Get().Summary.Interval)
	}
}

func TestWatchPicksUpEdits(t *testing.T) {
	p := writeFile(t, "c.yaml", yamlDoc)
	m := newTestManager(p, nil)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is attached and sees a write.
		_ = os.WriteFile(p, []byte(yamlDoc+"summary:\n  interval: 3m\n"), 0o600)
		select {
		case cfg := <-sub:
			if cfg.Summary.Interval != "3m" {
				t.Fatalf("interval = %q", cfg.Summary.Interval)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("watch did not publish")
		}
	}
}

func TestSummarizeChange(t *testing.T) {
	a := &Config{Telegram: TelegramConfig{Token: "a"}, Delivery: DeliveryConfig{MinInterval: "1s"}}
	b := *a
	b.Telegram.Token = "b"
	b.Delivery.MinInterval = "2s"

	changed, attrs := SummarizeChange(a, &b)
	if !reflect.DeepEqual(changed, []string{"delivery", "telegram"}) {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if got := NeedsRestart(changed); !reflect.DeepEqual(got, []string{"telegram"}) {
		t.Fatalf("restart = %v", got)
	}
}
