package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "caseguard/pkg/domain"
	"caseguard/pkg/email"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func Test_InMemoryQueue_FIFO(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	first := Message{Type: TypeApprovalRequested, RecipientID: id.NewUserID(), ErasureRequestID: id.NewErasureRequestID()}
	second := Message{Type: TypeRequestResolved, RecipientID: id.NewUserID(), Outcome: "rejected"}
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.RecipientID, got.RecipientID)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.Outcome, got.Outcome)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

type recordingSender struct {
	sent []email.Notice
	err  error
}

func (s *recordingSender) Send(_ context.Context, _ string, notice email.Notice) error {
	s.sent = append(s.sent, notice)
	return s.err
}

func Test_Worker_DeliversAndRenders(t *testing.T) {
	q := NewInMemoryQueue()
	sender := &recordingSender{}
	w := NewWorker(q, sender, testLogger())
	ctx := context.Background()

	requestID := id.NewErasureRequestID()
	require.NoError(t, q.Enqueue(ctx, Message{
		Type:             TypeApprovalRequested,
		RecipientID:      id.NewUserID(),
		ErasureRequestID: requestID,
		CreatedAt:        time.Now(),
	}))

	msg, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	w.deliver(ctx, *msg)

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Body, requestID.String())
}

func Test_Worker_DeliveryFailureIsSwallowed(t *testing.T) {
	q := NewInMemoryQueue()
	sender := &recordingSender{err: errors.New("gateway down")}
	w := NewWorker(q, sender, testLogger())

	// Must not panic or propagate: notifications are best-effort.
	w.deliver(context.Background(), Message{
		Type:             TypeRequestResolved,
		RecipientID:      id.NewUserID(),
		ErasureRequestID: id.NewErasureRequestID(),
		Outcome:          "approved",
	})
	assert.Len(t, sender.sent, 1)
}
