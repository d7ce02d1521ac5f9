package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"restaurant_ops/pkg/idempotency"
	"restaurant_ops/pkg/lock"
	"restaurant_ops/pkg/models"
	"restaurant_ops/pkg/queue"
	"restaurant_ops/pkg/reservation"
	"restaurant_ops/pkg/sheet/sheettest"
)

type fakePublisher struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

var start = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T, pub Publisher, maxAttempts int) (*Dispatcher, *reservation.Manager) {
	t.Helper()
	m := reservation.NewManager(sheettest.NewStore(t), lock.NewMemory(), idempotency.NewMemory(), zap.NewNop())
	d := NewDispatcher(m, pub, queue.NewQueue(time.Minute), maxAttempts, zap.NewNop())
	d.now = func() time.Time { return start }
	return d, m
}

func confirmed(t *testing.T, m *reservation.Manager, email string) models.Reservation {
	t.Helper()
	ctx := context.Background()
	res, _, err := m.Create(ctx, reservation.CreateInput{Date: "05/01/2026", Time: "19:00", Name: "Ana", Guests: 2, Email: email}, "")
	require.NoError(t, err)
	res, err = m.UpdateStatus(ctx, res.ID, models.StatusConfirmed)
	require.NoError(t, err)
	require.Equal(t, models.EmailQueued, res.EmailQueue)
	return res
}

func TestRunOnceSendsConfirmation(t *testing.T) {
	pub := &fakePublisher{}
	d, m := setup(t, pub, 3)
	res := confirmed(t, m, "ana@example.com")

	var outcomes []string
	d.OnResult(func(kind Kind, outcome string) { outcomes = append(outcomes, string(kind)+"/"+outcome) })

	result, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Sent: 1}, result)
	assert.Equal(t, []string{"confirmation/sent"}, outcomes)

	require.Len(t, pub.sent, 1)
	assert.Equal(t, res.ID+":confirmation", pub.sent[0].Key)
	assert.Equal(t, "ana@example.com", pub.sent[0].Email)

	stored, err := m.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmailSent, stored.EmailQueue)
	assert.Equal(t, "2026-05-01T12:00:00Z", stored.EmailSent)

	result, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, result, "nothing left to send")
}

func TestRunOnceSendsCancellation(t *testing.T) {
	pub := &fakePublisher{}
	d, m := setup(t, pub, 3)
	res := confirmed(t, m, "ana@example.com")
	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)

	_, err = m.UpdateStatus(context.Background(), res.ID, models.StatusCancelled)
	require.NoError(t, err)
	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, pub.sent, 2)
	assert.Equal(t, KindCancellation, pub.sent[1].Kind)
	stored, err := m.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmailCancellationSent, stored.EmailQueue)
}

func TestRunOnceBacksOffThenFails(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unavailable")}
	d, m := setup(t, pub, 2)
	res := confirmed(t, m, "ana@example.com")
	ctx := context.Background()

	result, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Deferred: 1}, result)

	// still inside the backoff window
	d.now = func() time.Time { return start.Add(30 * time.Second) }
	result, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Deferred: 1}, result)
	job, ok := d.retries.Get(res.ID + ":confirmation")
	require.True(t, ok)
	assert.Equal(t, 1, job.Attempts)

	d.now = func() time.Time { return start.Add(time.Minute) }
	result, err = d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 1}, result)

	stored, err := m.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmailFailed, stored.EmailQueue)
	assert.Equal(t, 0, d.retries.Size())
}

func TestRunOnceFailsRowsWithoutEmail(t *testing.T) {
	pub := &fakePublisher{}
	d, m := setup(t, pub, 3)
	res := confirmed(t, m, "")

	result, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Failed: 1}, result)
	assert.Empty(t, pub.sent)

	stored, err := m.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmailFailed, stored.EmailQueue)
}

func TestKafkaPublisher(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg Message
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg.Key != "r1:confirmation" {
			return errors.New("unexpected key " + msg.Key)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewKafkaPublisherWithProducer(producer, "reservation-emails")
	msg := Message{Key: "r1:confirmation", Kind: KindConfirmation, ReservationID: "r1", Email: "ana@example.com"}

	require.NoError(t, pub.Publish(context.Background(), msg))
	assert.ErrorIs(t, pub.Publish(context.Background(), msg), sarama.ErrOutOfBrokers)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, msg), context.Canceled)

	require.NoError(t, pub.Close())
}

func TestLogPublisher(t *testing.T) {
	pub := NewLogPublisher(zap.NewNop())
	assert.NoError(t, pub.Publish(context.Background(), Message{Key: "r1:cancellation"}))
	assert.NoError(t, pub.Close())
}
