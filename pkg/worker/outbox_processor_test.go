package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/sisreg-api/internal/model"
	"github.com/jwalitptl/sisreg-api/internal/repository"
	"github.com/jwalitptl/sisreg-api/internal/repository/memory"
	"github.com/jwalitptl/sisreg-api/pkg/logger"
	"github.com/jwalitptl/sisreg-api/pkg/messaging"
	"github.com/jwalitptl/sisreg-api/pkg/metrics"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	return m.Called(ctx, channel, message).Error(0)
}

func (m *mockBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	args := m.Called(ctx, channel)
	return args.Get(0).(<-chan []byte), args.Error(1)
}

func (m *mockBroker) Close() error {
	return m.Called().Error(0)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, eventType string, payload []byte) (bool, error) {
	args := m.Called(ctx, eventType, payload)
	return args.Bool(0), args.Error(1)
}

type processorFixture struct {
	store    *memory.Store
	broker   *mockBroker
	notifier *mockNotifier
	metrics  *metrics.Metrics
	proc     *OutboxProcessor
	config   OutboxProcessorConfig
	now      time.Time
}

// flakyOutbox fails MarkProcessed once for one event.
type flakyOutbox struct {
	repository.OutboxRepository
	failOn uuid.UUID
	failed bool
}

func (r *flakyOutbox) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	if id == r.failOn && !r.failed {
		r.failed = true
		return errors.New("connection reset")
	}
	return r.OutboxRepository.MarkProcessed(ctx, id)
}

func newProcessorFixture(t *testing.T, attempts int) *processorFixture {
	t.Helper()
	f := &processorFixture{
		store:    memory.New(),
		broker:   &mockBroker{},
		notifier: &mockNotifier{},
		metrics:  metrics.NewMetrics(prometheus.NewRegistry(), "test"),
		now:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store.SetClock(func() time.Time { return f.now })
	f.config = OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  time.Second,
		RetryAttempts: attempts,
		RetryDelay:    time.Minute,
		ClaimTimeout:  5 * time.Minute,
	}
	f.use(f.store.Outbox())
	return f
}

func (f *processorFixture) use(repo repository.OutboxRepository) {
	f.proc = NewOutboxProcessor(repo, f.broker, f.notifier, f.config, logger.Nop(), f.metrics)
	f.proc.now = func() time.Time { return f.now }
}

func (f *processorFixture) emit(t *testing.T, eventType string) *model.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(model.ReferralEvent{PatientName: "Maria"})
	require.NoError(t, err)
	e := &model.OutboxEvent{EventType: eventType, Payload: payload}
	require.NoError(t, f.store.Outbox().Create(context.Background(), e))
	return e
}

func TestProcessBatchPublishesAndNotifies(t *testing.T) {
	f := newProcessorFixture(t, 3)
	ctx := context.Background()
	denied := f.emit(t, model.EventReferralDenied)
	f.emit(t, model.EventReferralCreated)

	f.broker.On("Publish", mock.Anything, messaging.ReferralChannel, mock.MatchedBy(func(m messaging.Message) bool {
		return m.ID == denied.ID.String() && m.Type == model.EventReferralDenied
	})).Return(nil).Once()
	f.broker.On("Publish", mock.Anything, messaging.ReferralChannel, mock.Anything).Return(nil).Once()
	f.notifier.On("Notify", mock.Anything, model.EventReferralDenied, mock.Anything).Return(true, nil).Once()
	f.notifier.On("Notify", mock.Anything, model.EventReferralCreated, mock.Anything).Return(false, nil).Once()

	n, err := f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, e := range f.store.OutboxEvents() {
		assert.Equal(t, model.OutboxStatusProcessed, e.Status)
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.OutboxEventsProcessed))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.NotificationsSent.WithLabelValues(model.EventReferralDenied, "sent")))

	// Nothing left to do
	n, err = f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.broker.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestProcessBatchRetriesThenFails(t *testing.T) {
	f := newProcessorFixture(t, 2)
	ctx := context.Background()
	f.emit(t, model.EventReferralAuthorized)

	f.broker.On("Publish", mock.Anything, messaging.ReferralChannel, mock.Anything).Return(errors.New("redis down"))

	_, err := f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	events := f.store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, model.OutboxStatusPending, events[0].Status)
	assert.Equal(t, 1, events[0].RetryCount)
	require.NotNil(t, events[0].RetryAt)
	assert.Equal(t, f.now.Add(time.Minute), *events[0].RetryAt)

	// Not due yet
	n, err := f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.now = f.now.Add(2 * time.Minute)
	n, err = f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events = f.store.OutboxEvents()
	assert.Equal(t, model.OutboxStatusFailed, events[0].Status)
	require.NotNil(t, events[0].ErrorMessage)
	assert.Contains(t, *events[0].ErrorMessage, "redis down")
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.OutboxEventsFailed))
	f.notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotificationFailureDoesNotBlockEvent(t *testing.T) {
	f := newProcessorFixture(t, 3)
	f.emit(t, model.EventReferralRevisionRequested)

	f.broker.On("Publish", mock.Anything, messaging.ReferralChannel, mock.Anything).Return(nil)
	f.notifier.On("Notify", mock.Anything, model.EventReferralRevisionRequested, mock.Anything).Return(false, errors.New("smtp down"))

	n, err := f.proc.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.OutboxStatusProcessed, f.store.OutboxEvents()[0].Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.NotificationsSent.WithLabelValues(model.EventReferralRevisionRequested, "error")))
}

func TestMarkProcessedFailureOnlyAffectsThatEvent(t *testing.T) {
	f := newProcessorFixture(t, 3)
	ctx := context.Background()
	first := f.emit(t, model.EventReferralDenied)
	second := f.emit(t, model.EventReferralRevisionRequested)
	f.use(&flakyOutbox{OutboxRepository: f.store.Outbox(), failOn: second.ID})

	published := map[string]int{}
	f.broker.On("Publish", mock.Anything, messaging.ReferralChannel, mock.Anything).
		Run(func(args mock.Arguments) {
			published[args.Get(2).(messaging.Message).ID]++
		}).
		Return(nil)
	mailed := map[string]int{}
	f.notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mailed[args.String(1)]++
		}).
		Return(true, nil)

	n, err := f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := f.store.OutboxEvents()
	require.Len(t, events, 2)
	assert.Equal(t, model.OutboxStatusProcessed, events[0].Status)
	assert.Equal(t, model.OutboxStatusProcessing, events[1].Status)

	// The unsettled event stays claimed until the claim expires
	n, err = f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.now = f.now.Add(f.config.ClaimTimeout + time.Second)
	n, err = f.proc.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, e := range f.store.OutboxEvents() {
		assert.Equal(t, model.OutboxStatusProcessed, e.Status)
	}
	assert.Equal(t, 1, published[first.ID.String()])
	assert.Equal(t, 2, published[second.ID.String()])
	assert.Equal(t, 1, mailed[model.EventReferralDenied])
	assert.Equal(t, 2, mailed[model.EventReferralRevisionRequested])
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.OutboxEventsProcessed))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Minute, backoff(time.Minute, 0))
	assert.Equal(t, 4*time.Minute, backoff(time.Minute, 2))
	assert.Equal(t, time.Hour, backoff(time.Minute, 20))
}

func TestCleanup(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	e := &model.OutboxEvent{EventType: model.EventReferralCreated, Payload: []byte(`{}`)}
	require.NoError(t, store.Outbox().Create(ctx, e))
	require.NoError(t, store.Outbox().MarkProcessed(ctx, e.ID))

	w := NewOutboxCleanupWorker(store.Outbox(), 7, time.Hour, logger.Nop())
	w.now = func() time.Time { return now.AddDate(0, 0, 3) }
	rows, err := w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	w.now = func() time.Time { return now.AddDate(0, 0, 8) }
	rows, err = w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
}
