package feeds

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reliefgrid/coordinator/config"
	"github.com/reliefgrid/coordinator/core/engine"
	"github.com/reliefgrid/coordinator/core/events"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/store"
	"github.com/reliefgrid/coordinator/infra/mqtt"
	"github.com/reliefgrid/coordinator/internal/eventbus"
)

func resetMetrics(t *testing.T) {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
}

func TestNotifierPublishesEnvelope(t *testing.T) {
	resetMetrics(t)
	cli := mqtt.NewMockClient()
	n := NewNotifier(config.NotifierConfig{QoS: 1, Retained: true}, cli, nil)
	env := events.NewRecorder().Emit(events.TaskAssigned{TaskID: "t1", ResponderID: "r1"})

	require.NoError(t, n.Publish(context.Background(), env))

	msgs := cli.Messages("coordination/events/")
	require.Len(t, msgs, 1)
	assert.Equal(t, "coordination/events/task_assigned/task/t1", msgs[0].Topic)
	assert.Equal(t, byte(1), msgs[0].QoS)
	assert.True(t, msgs[0].Retained)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, "task_assigned", got["kind"])
	assert.Equal(t, 1.0, testutil.ToFloat64(publishedTotal.WithLabelValues("task_assigned", "ok")))
}

func TestNotifierCountsFailures(t *testing.T) {
	resetMetrics(t)
	cli := mqtt.NewMockClient()
	cli.FailTopics["x/low_stock/resource/water"] = true
	n := NewNotifier(config.NotifierConfig{TopicPrefix: "x/"}, cli, nil)
	env := events.NewRecorder().Emit(events.LowStock{ResourceID: "water", Available: 1, Threshold: 5})

	assert.Error(t, n.Publish(context.Background(), env))
	assert.Equal(t, 1.0, testutil.ToFloat64(publishedTotal.WithLabelValues("low_stock", "error")))
}

func TestNotifierRunForwardsBus(t *testing.T) {
	resetMetrics(t)
	cli := mqtt.NewMockClient()
	bus := eventbus.NewTyped[events.Envelope]()
	em := events.NewEmitter(bus)
	n := NewNotifier(config.NotifierConfig{}, cli, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		n.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		em.Emit(events.TaskStatusChanged{TaskID: "t9", From: model.TaskPending, To: model.TaskAssigned})
		return len(cli.Messages("coordination/events/task_status_changed/")) > 0
	}, time.Second, 10*time.Millisecond)

	em.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("notifier did not stop after bus close")
	}
}

type fakeDirectory struct {
	mu      sync.Mutex
	entries []model.DirectoryEntry
	err     error
}

func (f *fakeDirectory) UpsertResponder(_ context.Context, e model.DirectoryEntry) (model.Responder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.Responder{}, f.err
	}
	f.entries = append(f.entries, e)
	return model.Responder{ID: e.ID, Skills: e.Skills}, nil
}

func (f *fakeDirectory) all() []model.DirectoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.DirectoryEntry(nil), f.entries...)
}

func TestDirectoryProcessTakesIDFromTopic(t *testing.T) {
	resetMetrics(t)
	fd := &fakeDirectory{}
	d := NewDirectory(config.DirectoryConfig{}, mqtt.NewMockClient(), fd, nil)

	err := d.Process(context.Background(), "coordination/responders/r7", []byte(`{"skills":["medical"],"available":true,"success_rate":1.4}`))
	require.NoError(t, err)

	entries := fd.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "r7", entries[0].ID)
	require.NotNil(t, entries[0].SuccessRate)
	assert.Equal(t, 1.0, *entries[0].SuccessRate)
	assert.Equal(t, 1.0, testutil.ToFloat64(messagesTotal.WithLabelValues("directory", "ok")))
	assert.Greater(t, testutil.ToFloat64(lastDirectory), 0.0)
}

func TestDirectoryProcessRejectsGarbage(t *testing.T) {
	resetMetrics(t)
	fd := &fakeDirectory{}
	d := NewDirectory(config.DirectoryConfig{}, mqtt.NewMockClient(), fd, nil)

	err := d.Process(context.Background(), "coordination/responders/r1", []byte(`{`))
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	assert.Empty(t, fd.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(messagesTotal.WithLabelValues("directory", "invalid")))
}

func TestDirectoryStartSubscribesAndSyncs(t *testing.T) {
	resetMetrics(t)
	cli := mqtt.NewMockClient()
	fd := &fakeDirectory{}
	d := NewDirectory(config.DirectoryConfig{SyncTopic: "coordination/responders-sync"}, cli, fd, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()

	require.Eventually(t, func() bool {
		return len(cli.Messages("coordination/responders-sync")) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, cli.Publish(ctx, "coordination/responders/r2", 0, false, []byte(`{"id":"r2","skills":["rescue"]}`)))
	require.Eventually(t, func() bool { return len(fd.all()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"rescue"}, fd.all()[0].Skills)
}

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.Config{}, engine.Deps{Store: store.NewMemoryStore()})
	require.NoError(t, err)
	return eng
}

func TestIntakeSubmitsAndReplies(t *testing.T) {
	resetMetrics(t)
	cli := mqtt.NewMockClient()
	eng := newEngine(t)
	in := NewIntake(config.IntakeConfig{ReplyTopic: "coordination/intake/replies"}, cli, eng, nil)

	payload := `{"message_id":"m1","title":"Flooded house","location":"Rue A","people_count":3,"needs":["rescue"],"urgency_hint":"critical"}`
	r := in.Process(context.Background(), []byte(payload))

	assert.Empty(t, r.Error)
	assert.NotEmpty(t, r.RequestID)
	assert.Equal(t, 1, r.Tasks)
	queue, err := eng.Queue(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 1)

	replies := cli.Messages("coordination/intake/replies")
	require.Len(t, replies, 1)
	var got Reply
	require.NoError(t, json.Unmarshal(replies[0].Payload, &got))
	assert.Equal(t, "m1", got.MessageID)
	assert.Equal(t, r.RequestID, got.RequestID)
}

func TestIntakeDropsRedeliveries(t *testing.T) {
	resetMetrics(t)
	eng := newEngine(t)
	in := NewIntake(config.IntakeConfig{}, mqtt.NewMockClient(), eng, nil)

	payload := []byte(`{"message_id":"dup","title":"Need water","people_count":1,"needs":["water"]}`)
	first := in.Process(context.Background(), payload)
	second := in.Process(context.Background(), payload)

	assert.NotEmpty(t, first.RequestID)
	assert.Empty(t, second.RequestID)
	queue, err := eng.Queue(context.Background())
	require.NoError(t, err)
	assert.Len(t, queue, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(messagesTotal.WithLabelValues("intake", "duplicate")))
}

func TestIntakeDedupWindowIsBounded(t *testing.T) {
	in := NewIntake(config.IntakeConfig{DedupWindow: 2}, mqtt.NewMockClient(), nil, nil)
	assert.True(t, in.remember("a"))
	assert.True(t, in.remember("b"))
	assert.False(t, in.remember("a"))
	assert.True(t, in.remember("c"))
	assert.True(t, in.remember("a"))
}

func TestIntakeReportsInvalidRequests(t *testing.T) {
	resetMetrics(t)
	cli := mqtt.NewMockClient()
	in := NewIntake(config.IntakeConfig{ReplyTopic: "replies"}, cli, newEngine(t), nil)

	r := in.Process(context.Background(), []byte(`{"message_id":"m2","people_count":2}`))
	assert.Equal(t, "invalid_input", r.ErrorKind)
	assert.Len(t, cli.Messages("replies"), 1)

	r = in.Process(context.Background(), []byte(`not json`))
	assert.Equal(t, "invalid_input", r.ErrorKind)
	assert.Equal(t, 2.0, testutil.ToFloat64(messagesTotal.WithLabelValues("intake", "invalid_input")))
}
