package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type published struct {
	routingKey string
	message    any
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, routingKey string, v any) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{routingKey: routingKey, message: v})
	return nil
}

func TestDispatchBill(t *testing.T) {
	pub := &fakePublisher{}
	d := NewAMQPDispatcher(pub, "bill.issued", "reading.reminder", zaptest.NewLogger(t))

	notice := BillNotice{BillID: "b1", Email: "ada@example.com", Amount: "18.00", DueDate: time.Now()}
	require.NoError(t, d.DispatchBill(context.Background(), notice))

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "bill.issued", pub.sent[0].routingKey)
	assert.Equal(t, notice, pub.sent[0].message)
}

func TestDispatchBill_Failures(t *testing.T) {
	pub := &fakePublisher{}
	d := NewAMQPDispatcher(pub, "bill.issued", "reading.reminder", zaptest.NewLogger(t))

	assert.Error(t, d.DispatchBill(context.Background(), BillNotice{BillID: "b1"}))
	assert.Empty(t, pub.sent)

	pub.err = errors.New("channel closed")
	err := d.DispatchBill(context.Background(), BillNotice{BillID: "b1", Email: "a@b.c"})
	assert.ErrorIs(t, err, pub.err)
}

func TestDispatchReminder(t *testing.T) {
	pub := &fakePublisher{}
	d := NewAMQPDispatcher(pub, "bill.issued", "reading.reminder", nil)

	require.NoError(t, d.DispatchReminder(context.Background(), ReadingReminder{MeterID: "m1", Email: "a@b.c", Period: "03/2025"}))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "reading.reminder", pub.sent[0].routingKey)

	assert.Error(t, d.DispatchReminder(context.Background(), ReadingReminder{MeterID: "m1"}))
}
