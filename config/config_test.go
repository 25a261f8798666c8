package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const fullConfig = `
[agent]
id = "responder-1"
type = "responder"

[bus]
queue_capacity = 500
history_limit = 200
poll_interval = "20ms"
retry_interval = "1s"
cleanup_interval = "30s"

[transport]
active = "push"

[transport.push]
listen_addr = "127.0.0.1:8420"
request_timeout = "5s"

[transport.push.endpoints]
dispatcher = "http://10.0.0.2:8420"

[transport.stream]
listen_addr = "127.0.0.1:8421"
write_timeout = "3s"

[transport.redis]
addr = "redis.local:6379"
password = "hunter2"
db = 2

[transport.nats]
url = "nats://nats.local:4222"
name = "responder-1"
`

func TestParseFullConfig(t *testing.T) {
	f, err := Parse([]byte(fullConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if f.Agent.ID != "responder-1" || f.Agent.Type != "responder" {
		t.Errorf("agent = %+v", f.Agent)
	}
	if f.Transport.Active != "push" {
		t.Errorf("active = %q", f.Transport.Active)
	}
	if f.Bus.QueueCapacity != 500 || f.Bus.HistoryLimit != 200 {
		t.Errorf("bus limits = %+v", f.Bus)
	}
	if f.Bus.PollInterval.Std() != 20*time.Millisecond {
		t.Errorf("poll_interval = %v", f.Bus.PollInterval.Std())
	}
	if f.Transport.Push.Endpoints["dispatcher"] != "http://10.0.0.2:8420" {
		t.Errorf("endpoints = %v", f.Transport.Push.Endpoints)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid toml", `[agent`},
		{"bad duration", "[bus]\npoll_interval = \"soon\""},
		{"unknown transport", "[transport]\nactive = \"carrier-pigeon\""},
		{"negative capacity", "[bus]\nqueue_capacity = -1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseEmptyIsValid(t *testing.T) {
	f, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Transport.Active != "" {
		t.Errorf("active = %q", f.Transport.Active)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commlink.toml")
	if err := os.WriteFile(path, []byte(fullConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Agent.ID != "responder-1" {
		t.Errorf("agent id = %q", f.Agent.ID)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConverters(t *testing.T) {
	f, err := Parse([]byte(fullConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	bc := f.BusConfig()
	if bc.QueueCapacity != 500 || bc.RetryInterval != time.Second {
		t.Errorf("bus config = %+v", bc)
	}

	pc := f.PushConfig()
	if pc.ListenAddr != "127.0.0.1:8420" || pc.RequestTimeout != 5*time.Second {
		t.Errorf("push config = %+v", pc)
	}

	sc := f.StreamConfig()
	if sc.ListenAddr != "127.0.0.1:8421" || sc.WriteTimeout != 3*time.Second {
		t.Errorf("stream config = %+v", sc)
	}
	if sc.AgentID != "responder-1" {
		t.Errorf("stream agent id = %q", sc.AgentID)
	}

	rc := f.RedisConfig()
	if rc.Addr != "redis.local:6379" || rc.Password != "hunter2" || rc.DB != 2 {
		t.Errorf("redis config = %+v", rc)
	}

	nc := f.NATSConfig()
	if nc.URL != "nats://nats.local:4222" || nc.Name != "responder-1" {
		t.Errorf("nats config = %+v", nc)
	}
}

func TestConverterDefaults(t *testing.T) {
	f, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if f.PushConfig().RequestTimeout == 0 {
		t.Error("push request timeout default not applied")
	}
	if f.StreamConfig().WriteTimeout == 0 {
		t.Error("stream write timeout default not applied")
	}
	if f.RedisConfig().Addr == "" {
		t.Error("redis addr default not applied")
	}
	if f.NATSConfig().URL == "" {
		t.Error("nats url default not applied")
	}
}
