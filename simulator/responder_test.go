package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/reliefgrid/coordinator/auth"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/infra/logger"
)

type stubToken struct{ err error }

func (t *stubToken) Wait() bool                     { return true }
func (t *stubToken) WaitTimeout(time.Duration) bool { return true }
func (t *stubToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t *stubToken) Error() error                   { return t.err }

type stubMessage struct {
	paho.Message
	topic   string
	payload []byte
}

func (m stubMessage) Topic() string   { return m.topic }
func (m stubMessage) Payload() []byte { return m.payload }

type stubClient struct {
	mu           sync.Mutex
	subs         []string
	pubs         map[string][]byte
	disconnected int
}

func (c *stubClient) IsConnected() bool      { return true }
func (c *stubClient) IsConnectionOpen() bool { return true }
func (c *stubClient) Connect() paho.Token    { return &stubToken{} }
func (c *stubClient) Disconnect(uint)        { c.mu.Lock(); c.disconnected++; c.mu.Unlock() }
func (c *stubClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	if c.pubs == nil {
		c.pubs = map[string][]byte{}
	}
	c.pubs[topic] = payload.([]byte)
	c.mu.Unlock()
	return &stubToken{}
}
func (c *stubClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	c.mu.Lock()
	c.subs = append(c.subs, topic)
	c.mu.Unlock()
	return &stubToken{}
}
func (c *stubClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &stubToken{}
}
func (c *stubClient) Unsubscribe(...string) paho.Token        { return &stubToken{} }
func (c *stubClient) AddRoute(string, paho.MessageHandler)    {}
func (c *stubClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func (c *stubClient) state(t *testing.T, topic string) model.DirectoryEntry {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var e model.DirectoryEntry
	if err := json.Unmarshal(c.pubs[topic], &e); err != nil {
		t.Fatalf("decode state on %s: %v", topic, err)
	}
	return e
}

type fakeAPI struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeAPI) Start(_ context.Context, id string) error { return f.record("start " + id) }
func (f *fakeAPI) Complete(_ context.Context, id string) error {
	return f.record("complete " + id)
}

func (f *fakeAPI) record(c string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeAPI) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestResponderPublishesStateAndSubscribes(t *testing.T) {
	sc := &stubClient{}
	mqttClientFactory = func(string, string) (paho.Client, error) { return sc, nil }
	defer func() { mqttClientFactory = realMQTTClient }()

	var prof [24]float64
	prof[time.Now().Hour()] = 1
	r := &Responder{ID: "resp0001", Skills: []string{"medical"}, Availability: prof,
		StatePrefix: "coordination/responders", EventPrefix: "coordination/events",
		Interval: 10 * time.Millisecond, Strategy: AutoWork{}, API: &fakeAPI{}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx, "tcp://broker"); err != nil {
		t.Fatal(err)
	}
	if len(sc.subs) != 1 || sc.subs[0] != "coordination/events/task_assigned/#" {
		t.Fatalf("unexpected subscriptions %v", sc.subs)
	}
	e := sc.state(t, "coordination/responders/resp0001")
	if e.ID != "resp0001" || e.Available == nil || *e.Available {
		t.Fatalf("last state should be off shift, got %+v", e)
	}
	if sc.disconnected != 1 {
		t.Fatalf("expected disconnect, got %d", sc.disconnected)
	}
}

func TestOnAssignedFiltersByResponder(t *testing.T) {
	api := &fakeAPI{}
	r := &Responder{ID: "resp0002", Strategy: AutoWork{}, API: api, work: make(chan string, 4)}
	r.Log = logger.NopLogger{}
	for _, payload := range []string{
		`{"kind":"task_assigned","event":{"task_id":"t1","responder_id":"resp0002"}}`,
		`{"kind":"task_assigned","event":{"task_id":"t2","responder_id":"resp0009"}}`,
		`{"kind":"low_stock","event":{"resource_id":"x"}}`,
		`garbage`,
	} {
		r.onAssigned(nil, stubMessage{topic: "coordination/events/task_assigned/task/t", payload: []byte(payload)})
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.worker(ctx); close(done) }()
	deadline := time.Now().Add(time.Second)
	for len(api.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	got := api.snapshot()
	if len(got) != 2 || got[0] != "start t1" || got[1] != "complete t1" {
		t.Fatalf("unexpected calls %v", got)
	}
}

func TestRandomWorkDrops(t *testing.T) {
	rngMu.Lock()
	rng = rand.New(rand.NewSource(1))
	rngMu.Unlock()
	api := &fakeAPI{}
	if err := (RandomWork{DropRate: 1}).Work(context.Background(), api, "t1"); err != nil {
		t.Fatal(err)
	}
	if len(api.snapshot()) != 0 {
		t.Fatalf("dropped task was worked: %v", api.snapshot())
	}
}

func TestAutoWorkStopsOnStartError(t *testing.T) {
	api := &fakeAPI{err: errors.New("conflict")}
	if err := (AutoWork{}).Work(context.Background(), api, "t1"); err == nil {
		t.Fatal("expected error")
	}
	if got := api.snapshot(); len(got) != 1 {
		t.Fatalf("complete should not be called: %v", got)
	}
}

func TestAutoWorkCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	api := &fakeAPI{}
	if err := (AutoWork{Duration: time.Hour}).Work(ctx, api, "t1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestHTTPTaskAPI(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path+" "+r.Header.Get("Authorization")+" "+r.Header.Get("X-Actor"))
		mu.Unlock()
		if r.URL.Path == "/api/tasks/bad/start" {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"success":false,"message":"task bad is pending","error_kind":"invalid_transition"}`))
			return
		}
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	a, err := NewHTTPTaskAPI(srv.URL+"/", auth.Conf{Token: "test-token-123"})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	if err := a.Complete(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	err = a.Start(context.Background(), "bad")
	if err == nil || err.Error() != "start task bad: task bad is pending (invalid_transition)" {
		t.Fatalf("unexpected error %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if paths[0] != "POST /api/tasks/t1/start Bearer test-token-123 simulator" || paths[1] != "POST /api/tasks/t1/complete Bearer test-token-123 simulator" {
		t.Fatalf("unexpected requests %v", paths)
	}
}
