package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

type countingMetrics struct {
	mu        sync.Mutex
	published int
	delivered map[string]int
	dropped   map[string]int
	panics    map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		delivered: map[string]int{},
		dropped:   map[string]int{},
		panics:    map[string]int{},
	}
}

func (m *countingMetrics) EventPublished(string) {
	m.mu.Lock()
	m.published++
	m.mu.Unlock()
}

func (m *countingMetrics) EventDelivered(s string) {
	m.mu.Lock()
	m.delivered[s]++
	m.mu.Unlock()
}

func (m *countingMetrics) EventDropped(s string) {
	m.mu.Lock()
	m.dropped[s]++
	m.mu.Unlock()
}

func (m *countingMetrics) SubscriberPanic(s string) {
	m.mu.Lock()
	m.panics[s]++
	m.mu.Unlock()
}

func (m *countingMetrics) QueueDepth(string, int) {}

// recorder collects payloads in delivery order.
type recorder struct {
	mu   sync.Mutex
	got  []any
	wait chan struct{}
	want int
}

func newRecorder(want int) *recorder {
	return &recorder{wait: make(chan struct{}), want: want}
}

func (r *recorder) handle(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev.Payload)
	if len(r.got) == r.want {
		close(r.wait)
	}
	return nil
}

func (r *recorder) waitFor(t *testing.T) []any {
	t.Helper()
	select {
	case <-r.wait:
	case <-time.After(2 * time.Second):
		r.mu.Lock()
		defer r.mu.Unlock()
		t.Fatalf("timed out: got %d of %d events", len(r.got), r.want)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.got...)
}

func closeBus(t *testing.T, b *Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// ─── Tests ─────────────────────────────────────────────────────────

func TestBus_DeliversInPublishOrder(t *testing.T) {
	b := New()
	defer closeBus(t, b)

	rec := newRecorder(100)
	if _, err := b.Subscribe("rec", rec.handle, TopicDeviceSnapshot); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for i := 0; i < 100; i++ {
		if _, err := b.Publish(context.Background(), TopicDeviceSnapshot, i); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	got := rec.waitFor(t)
	for i, v := range got {
		if v.(int) != i {
			t.Fatalf("event %d = %v, out of order", i, v)
		}
	}
}

func TestBus_TopicFiltering(t *testing.T) {
	b := New()
	defer closeBus(t, b)

	alerts := newRecorder(1)
	both := newRecorder(2)
	if _, err := b.Subscribe("alerts", alerts.handle, TopicAlertEvent); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Subscribe("both", both.handle, TopicAlertEvent, TopicControlAction); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := b.Publish(ctx, TopicControlAction, "ctl"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Publish(ctx, TopicAlertEvent, "alert"); err != nil {
		t.Fatal(err)
	}

	if got := alerts.waitFor(t); len(got) != 1 || got[0] != "alert" {
		t.Errorf("alerts got %v", got)
	}
	both.waitFor(t)
}

func TestBus_PanicIsolation(t *testing.T) {
	metrics := newCountingMetrics()
	b := New(WithMetrics(metrics))
	defer closeBus(t, b)

	healthy := newRecorder(3)
	var calls atomic.Int32
	faulty := newRecorder(2)
	panicky := func(ctx context.Context, ev Event) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return faulty.handle(ctx, ev)
	}

	if _, err := b.Subscribe("healthy", healthy.handle, TopicDeviceSnapshot); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Subscribe("faulty", panicky, TopicDeviceSnapshot); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := b.Publish(context.Background(), TopicDeviceSnapshot, i); err != nil {
			t.Fatal(err)
		}
	}

	healthy.waitFor(t)
	if got := faulty.waitFor(t); got[0] != 1 || got[1] != 2 {
		t.Errorf("faulty subscriber got %v after panic, want [1 2]", got)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.panics["faulty"] != 1 {
		t.Errorf("panics = %v", metrics.panics)
	}
}

func TestBus_HandlerErrorDoesNotStopDelivery(t *testing.T) {
	b := New()
	defer closeBus(t, b)

	var n atomic.Int32
	done := make(chan struct{})
	_, err := b.Subscribe("failing", func(context.Context, Event) error {
		if n.Add(1) == 2 {
			close(done)
		}
		return errors.New("nope")
	}, TopicAlertEvent)
	if err != nil {
		t.Fatal(err)
	}

	b.Publish(context.Background(), TopicAlertEvent, 1) //nolint:errcheck // test
	b.Publish(context.Background(), TopicAlertEvent, 2) //nolint:errcheck // test

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second event not delivered after handler error")
	}
}

func TestBus_DropOldest(t *testing.T) {
	metrics := newCountingMetrics()
	b := New(WithQueueDepth(2), WithMetrics(metrics))
	defer closeBus(t, b)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var got []int
	_, err := b.Subscribe("slow", func(_ context.Context, ev Event) error {
		once.Do(func() { close(started) })
		<-release
		mu.Lock()
		got = append(got, ev.Payload.(int))
		mu.Unlock()
		return nil
	}, TopicDeviceSnapshot)
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	b.Publish(ctx, TopicDeviceSnapshot, 0) //nolint:errcheck // test
	<-started                              // event 0 is being handled; queue is empty

	for i := 1; i <= 4; i++ {
		if _, err := b.Publish(ctx, TopicDeviceSnapshot, i); err != nil {
			t.Fatalf("Publish(%d) blocked or failed: %v", i, err)
		}
	}
	close(release)
	closeBus(t, b)

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivered %v, want %v", got, want)
		}
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.dropped["slow"] != 2 {
		t.Errorf("dropped = %d, want 2", metrics.dropped["slow"])
	}
}

func TestBus_BlockPolicyHonoursContext(t *testing.T) {
	b := New(WithQueueDepth(1), WithOverflowPolicy(Block))
	defer closeBus(t, b)

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	_, err := b.Subscribe("slow", func(context.Context, Event) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}, TopicDeviceSnapshot)
	if err != nil {
		t.Fatal(err)
	}
	defer close(release)

	b.Publish(context.Background(), TopicDeviceSnapshot, 0) //nolint:errcheck // test
	<-started
	b.Publish(context.Background(), TopicDeviceSnapshot, 1) //nolint:errcheck // fills the queue

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Publish(ctx, TopicDeviceSnapshot, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Publish() on full queue error = %v, want deadline exceeded", err)
	}
}

func TestBus_CloseAndUnsubscribe(t *testing.T) {
	b := New()

	rec := newRecorder(1)
	sub, err := b.Subscribe("rec", rec.handle, TopicAlertEvent)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Name() != "rec" {
		t.Errorf("Name() = %q", sub.Name())
	}
	b.Publish(context.Background(), TopicAlertEvent, "a") //nolint:errcheck // test
	rec.waitFor(t)

	b.Unsubscribe(sub)
	if _, err := b.Publish(context.Background(), TopicAlertEvent, "b"); err != nil {
		t.Errorf("Publish() without subscribers error = %v", err)
	}

	if _, err := b.Subscribe("none", rec.handle); !errors.Is(err, ErrNoTopics) {
		t.Errorf("Subscribe() without topics error = %v", err)
	}

	closeBus(t, b)
	if _, err := b.Publish(context.Background(), TopicAlertEvent, "c"); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() after Close error = %v", err)
	}
	if _, err := b.Subscribe("late", rec.handle, TopicAlertEvent); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe() after Close error = %v", err)
	}
}

func TestBus_HandlersObserveShutdown(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	b := New(WithContext(parent))
	defer closeBus(t, b)

	seen := make(chan error, 2)
	release := make(chan struct{})
	handler := func(ctx context.Context, ev Event) error {
		if ev.Payload == "first" {
			<-release
		}
		seen <- ctx.Err()
		return nil
	}
	if _, err := b.Subscribe("watcher", handler, TopicDeviceSnapshot); err != nil {
		t.Fatal(err)
	}

	b.Publish(context.Background(), TopicDeviceSnapshot, "first")  //nolint:errcheck // test
	b.Publish(context.Background(), TopicDeviceSnapshot, "second") //nolint:errcheck // test
	cancel()
	close(release)

	for i := 0; i < 2; i++ {
		select {
		case err := <-seen:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("delivery %d: handler ctx error = %v, want canceled", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("delivery %d: queued event not delivered after shutdown", i)
		}
	}
}

func TestBus_EventIDs(t *testing.T) {
	b := New()
	defer closeBus(t, b)

	e1, _ := b.Publish(context.Background(), TopicControlAction, nil)
	e2, _ := b.Publish(context.Background(), TopicControlAction, nil)
	if e1.ID == "" || e1.ID == e2.ID {
		t.Errorf("event IDs %q and %q not unique", e1.ID, e2.ID)
	}
	if e1.Topic != TopicControlAction || e1.Time.IsZero() {
		t.Errorf("event = %+v", e1)
	}
}

func TestGate(t *testing.T) {
	g := NewGate()
	if !g.Allowed() {
		t.Fatal("new gate closed")
	}

	tests := []struct {
		name    string
		ev      Event
		handled bool
		allowed bool
	}{
		{"struct closes", Event{Topic: TopicSnapshotAllowed, Payload: SnapshotAllowed{Allowed: false}}, true, false},
		{"other topic ignored", Event{Topic: TopicDeviceSnapshot, Payload: true}, false, false},
		{"pointer opens", Event{Topic: TopicSnapshotAllowed, Payload: &SnapshotAllowed{Allowed: true}}, true, true},
		{"bool closes", Event{Topic: TopicSnapshotAllowed, Payload: false}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Observe(tt.ev); got != tt.handled {
				t.Errorf("Observe() = %v, want %v", got, tt.handled)
			}
			if g.Allowed() != tt.allowed {
				t.Errorf("Allowed() = %v, want %v", g.Allowed(), tt.allowed)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != DropOldest {
		t.Errorf("ParsePolicy(\"\") = %v, %v", p, err)
	}
	if p, err := ParsePolicy("block"); err != nil || p != Block {
		t.Errorf("ParsePolicy(block) = %v, %v", p, err)
	}
	if _, err := ParsePolicy("yolo"); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("ParsePolicy(yolo) error = %v", err)
	}
}
