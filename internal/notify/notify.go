package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// BillNotice tells a consumer that a bill was issued
type BillNotice struct {
	BillID      string    `json:"bill_id"`
	ReadingID   string    `json:"reading_id"`
	MeterID     string    `json:"meter_id"`
	MeterCode   string    `json:"meter_code"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	Period      string    `json:"period"`
	Amount      string    `json:"amount"`
	DueDate     time.Time `json:"due_date"`
	DocumentURL string    `json:"document_url"`
}

// ReadingReminder asks a consumer to submit this period's reading
type ReadingReminder struct {
	AccountID string `json:"account_id"`
	MeterID   string `json:"meter_id"`
	MeterCode string `json:"meter_code"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Period    string `json:"period"`
	DueDay    int    `json:"due_day"`
}

// Dispatcher delivers consumer notifications
type Dispatcher interface {
	DispatchBill(ctx context.Context, notice BillNotice) error
	DispatchReminder(ctx context.Context, reminder ReadingReminder) error
}

// Publisher publishes a JSON message under a routing key
type Publisher interface {
	Publish(ctx context.Context, routingKey string, v any) error
}

// AMQPDispatcher hands notifications to the mail consumer over the notification exchange
type AMQPDispatcher struct {
	publisher          Publisher
	billRoutingKey     string
	reminderRoutingKey string
	logger             *zap.Logger
}

// NewAMQPDispatcher creates a dispatcher
func NewAMQPDispatcher(publisher Publisher, billRoutingKey, reminderRoutingKey string, logger *zap.Logger) *AMQPDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPDispatcher{
		publisher:          publisher,
		billRoutingKey:     billRoutingKey,
		reminderRoutingKey: reminderRoutingKey,
		logger:             logger,
	}
}

// DispatchBill publishes a bill.issued notice
func (d *AMQPDispatcher) DispatchBill(ctx context.Context, notice BillNotice) error {
	if notice.Email == "" {
		return fmt.Errorf("bill %s has no recipient email", notice.BillID)
	}
	if err := d.publisher.Publish(ctx, d.billRoutingKey, notice); err != nil {
		return fmt.Errorf("failed to dispatch bill notice: %w", err)
	}
	d.logger.Info("bill notice dispatched",
		zap.String("bill_id", notice.BillID),
		zap.String("routing_key", d.billRoutingKey),
	)
	return nil
}

// DispatchReminder publishes a reading reminder
func (d *AMQPDispatcher) DispatchReminder(ctx context.Context, reminder ReadingReminder) error {
	if reminder.Email == "" {
		return fmt.Errorf("account %s has no recipient email", reminder.AccountID)
	}
	if err := d.publisher.Publish(ctx, d.reminderRoutingKey, reminder); err != nil {
		return fmt.Errorf("failed to dispatch reading reminder: %w", err)
	}
	d.logger.Debug("reading reminder dispatched",
		zap.String("meter_id", reminder.MeterID),
		zap.String("routing_key", d.reminderRoutingKey),
	)
	return nil
}
