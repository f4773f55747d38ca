package mqtt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fieldbus-core/internal/infrastructure/config"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.add("ERROR " + msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("WARN " + msg) }

func (l *recordingLogger) add(s string) {
	l.mu.Lock()
	l.lines = append(l.lines, s)
	l.mu.Unlock()
}

// testConfig returns a configuration for a broker at 127.0.0.1:1883.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "fieldcore-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// ─── Topics ────────────────────────────────────────────────────────

func TestTopicBuilders(t *testing.T) {
	tp := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"State", tp.State("ahu1"), "fieldcore/state/ahu1"},
		{"Alert", tp.Alert("ahu1", "HIGH_SUPPLY"), "fieldcore/alert/ahu1/HIGH_SUPPLY"},
		{"Control", tp.Control("ahu1", "fan_speed"), "fieldcore/control/ahu1/fan_speed"},
		{"Maintenance", tp.Maintenance(), "fieldcore/command/maintenance"},
		{"SystemStatus", tp.SystemStatus(), "fieldcore/system/status"},
		{"AllStates", tp.AllStates(), "fieldcore/state/+"},
		{"AllAlerts", tp.AllAlerts(), "fieldcore/alert/+/+"},
		{"AllControls", tp.AllControls(), "fieldcore/control/+/+"},
		{"AllTopics", tp.AllTopics(), "fieldcore/#"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

// ─── Options ───────────────────────────────────────────────────────

func TestBuildClientOptions(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*config.MQTTConfig)
		wantScheme string
		wantUser   string
		wantTLS    bool
	}{
		{"plain", func(*config.MQTTConfig) {}, "tcp", "", false},
		{"tls with auth", func(c *config.MQTTConfig) {
			c.Broker.TLS = true
			c.Broker.Port = 8883
			c.Auth.Username = "core"
			c.Auth.Password = "secret"
		}, "ssl", "core", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			opts := buildClientOptions(cfg)

			if len(opts.Servers) != 1 || opts.Servers[0].Scheme != tt.wantScheme {
				t.Fatalf("Servers = %v, want one %s broker", opts.Servers, tt.wantScheme)
			}
			if opts.ClientID != "fieldcore-test" {
				t.Errorf("ClientID = %q", opts.ClientID)
			}
			if opts.Username != tt.wantUser {
				t.Errorf("Username = %q, want %q", opts.Username, tt.wantUser)
			}
			if (opts.TLSConfig != nil) != tt.wantTLS {
				t.Errorf("TLSConfig set = %v, want %v", opts.TLSConfig != nil, tt.wantTLS)
			}
			if !opts.AutoReconnect || !opts.CleanSession {
				t.Error("AutoReconnect and CleanSession must be on")
			}
		})
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := pahomqtt.NewClientOptions()
	configureLWT(opts, "fieldcore-01")

	if !opts.WillEnabled || opts.WillTopic != "fieldcore/system/status" || !opts.WillRetained {
		t.Fatalf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if !strings.Contains(string(opts.WillPayload), `"reason":"unexpected_disconnect"`) {
		t.Errorf("will payload = %s", opts.WillPayload)
	}
}

func TestStatusPayloads(t *testing.T) {
	if p := buildOnlinePayload("c1"); !strings.Contains(p, `"status":"online"`) || !strings.Contains(p, `"client_id":"c1"`) {
		t.Errorf("online payload = %s", p)
	}
	if p := buildOfflinePayload("c1"); !strings.Contains(p, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload = %s", p)
	}
}

// ─── Validation without a broker ───────────────────────────────────

func TestPublish_Validation(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: map[string]subscription{}}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"bad qos", "fieldcore/x", []byte("x"), 3, ErrInvalidQoS},
		{"too large", "fieldcore/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "fieldcore/x", []byte("x"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPublishJSON_EncodeError(t *testing.T) {
	c := &Client{cfg: testConfig()}
	err := c.PublishJSON("fieldcore/x", map[string]any{"bad": make(chan int)}, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: map[string]subscription{}}
	noop := func(string, []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		want    error
	}{
		{"empty topic", "", 1, noop, ErrInvalidTopic},
		{"bad qos", "fieldcore/x", 3, noop, ErrInvalidQoS},
		{"nil handler", "fieldcore/x", 1, nil, ErrSubscribeFailed},
		{"not connected", "fieldcore/x", 1, noop, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Subscribe(tt.topic, tt.qos, tt.handler); !errors.Is(err, tt.want) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.want)
			}
		})
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", c.SubscriptionCount())
	}
}

func TestHealthCheck_NoBroker(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}
}

func TestClose_NilClient(t *testing.T) {
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// ─── Handler wrapping ──────────────────────────────────────────────

func TestWrapHandler(t *testing.T) {
	log := &recordingLogger{}
	c := &Client{}
	c.SetLogger(log)

	var got string
	ok := c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		return nil
	})
	ok(nil, fakeMessage{topic: "fieldcore/command/maintenance", payload: []byte("{}")})
	if got != "fieldcore/command/maintenance={}" {
		t.Errorf("handler saw %q", got)
	}

	failing := c.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })
	failing(nil, fakeMessage{topic: "t"})

	panicking := c.wrapHandler(func(string, []byte) error { panic("boom") })
	panicking(nil, fakeMessage{topic: "t"})

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.lines) != 2 || !strings.HasPrefix(log.lines[0], "WARN") || !strings.HasPrefix(log.lines[1], "ERROR") {
		t.Errorf("log lines = %v, want one warning then one error", log.lines)
	}
}
