//go:build integration

package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// These tests need a broker at 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func connect(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestIntegration_Connect(t *testing.T) {
	c := connect(t, "fieldcore-int-connect")
	if !c.IsConnected() {
		t.Error("IsConnected() = false")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999
	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	c := connect(t, "fieldcore-int-subs")
	noop := func(string, []byte) error { return nil }

	topics := []string{Topics{}.AllStates(), Topics{}.AllAlerts(), Topics{}.Maintenance()}
	for _, topic := range topics {
		if err := c.Subscribe(topic, 1, noop); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if c.SubscriptionCount() != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", c.SubscriptionCount(), len(topics))
	}

	if err := c.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.HasSubscription(topics[0]) {
		t.Error("subscription still tracked after Unsubscribe")
	}
}

func TestIntegration_JSONRoundtrip(t *testing.T) {
	pub := connect(t, "fieldcore-int-pub")
	sub := connect(t, "fieldcore-int-sub")

	topic := Topics{}.Alert("int-dev", "HIGH_TEMP")
	received := make(chan map[string]any, 1)
	var once sync.Once
	err := sub.Subscribe(topic, 1, func(_ string, p []byte) error {
		var m map[string]any
		if err := json.Unmarshal(p, &m); err != nil {
			return err
		}
		once.Do(func() { received <- m })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := pub.PublishJSON(topic, map[string]any{"code": "HIGH_TEMP", "value": 61.5}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case m := <-received:
		if m["code"] != "HIGH_TEMP" || m["value"] != 61.5 {
			t.Errorf("received %v", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestIntegration_PublishAfterClose(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "fieldcore-int-closed"
	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	_ = c.Close()

	if err := c.PublishRetained(Topics{}.State("x"), []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishRetained() error = %v, want ErrNotConnected", err)
	}
}
