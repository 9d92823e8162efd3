package events

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/shophub/marketplace/internal/services"
)

// Notification kinds consumed by the notification workers.
const (
	notifOrderConfirmed     = "order_confirmed"
	notifSellerNewOrder     = "seller_new_order"
	notifPaymentReceived    = "payment_received"
	notifShipmentDispatched = "shipment_dispatched"
	notifOutForDelivery     = "out_for_delivery"
	notifDelivered          = "delivered"
	notifRefunded           = "refunded"
)

// KafkaNotifier enqueues outbound notification requests on a Kafka topic.
// Publish failures are logged and swallowed: notifications must never fail
// the domain operation that triggered them.
type KafkaNotifier struct {
	writer  *kafka.Writer
	clock   func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
	marshal func(any) ([]byte, error)
}

var _ services.Notifier = (*KafkaNotifier)(nil)

// KafkaNotifierDeps wires the dependencies of the notifier.
type KafkaNotifierDeps struct {
	Writer *kafka.Writer
	Clock  func() time.Time
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// NewKafkaNotifier constructs a Kafka backed notifier.
func NewKafkaNotifier(deps KafkaNotifierDeps) (*KafkaNotifier, error) {
	if deps.Writer == nil {
		return nil, errors.New("kafka notifier: writer is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &KafkaNotifier{
		writer:  deps.Writer,
		clock:   func() time.Time { return clock().UTC() },
		logger:  logger,
		marshal: json.Marshal,
	}, nil
}

type notificationMessage struct {
	Kind        string    `json:"kind"`
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number,omitempty"`
	BuyerID     string    `json:"buyer_id,omitempty"`
	SellerID    string    `json:"seller_id,omitempty"`
	Total       string    `json:"total,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	Tracking    string    `json:"tracking_number,omitempty"`
	Courier     string    `json:"courier,omitempty"`
	Transaction string    `json:"transaction_number,omitempty"`
	Attachment  string    `json:"attachment,omitempty"`
	QueuedAt    time.Time `json:"queued_at"`
}

func (n *KafkaNotifier) OrderConfirmed(ctx context.Context, order services.Order) {
	n.publish(ctx, notificationMessage{
		Kind:        notifOrderConfirmed,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     buyerID(order),
		Total:       order.Total.StringFixed(2),
		Currency:    order.Currency,
	})
}

func (n *KafkaNotifier) SellerNewOrder(ctx context.Context, order services.Order, sellerID string) {
	n.publish(ctx, notificationMessage{
		Kind:        notifSellerNewOrder,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		SellerID:    sellerID,
		Total:       order.Total.StringFixed(2),
		Currency:    order.Currency,
	})
}

func (n *KafkaNotifier) PaymentReceived(ctx context.Context, order services.Order, txn services.PaymentTransaction, invoiceArtifact []byte) {
	n.publish(ctx, notificationMessage{
		Kind:        notifPaymentReceived,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     buyerID(order),
		Total:       txn.Amount.StringFixed(2),
		Currency:    order.Currency,
		Transaction: txn.TransactionNumber,
		Attachment:  encodeAttachment(invoiceArtifact),
	})
}

func (n *KafkaNotifier) ShipmentDispatched(ctx context.Context, order services.Order, shipment services.ShipmentTracking) {
	n.publish(ctx, notificationMessage{
		Kind:        notifShipmentDispatched,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     buyerID(order),
		Tracking:    shipment.TrackingNumber,
		Courier:     shipment.CourierName,
	})
}

func (n *KafkaNotifier) OutForDelivery(ctx context.Context, order services.Order, shipment services.ShipmentTracking) {
	n.publish(ctx, notificationMessage{
		Kind:        notifOutForDelivery,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     buyerID(order),
		Tracking:    shipment.TrackingNumber,
		Courier:     shipment.CourierName,
	})
}

func (n *KafkaNotifier) Delivered(ctx context.Context, order services.Order, shipment services.ShipmentTracking, invoiceArtifact []byte) {
	n.publish(ctx, notificationMessage{
		Kind:        notifDelivered,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     buyerID(order),
		Tracking:    shipment.TrackingNumber,
		Attachment:  encodeAttachment(invoiceArtifact),
	})
}

func (n *KafkaNotifier) Refunded(ctx context.Context, order services.Order, txn services.PaymentTransaction) {
	n.publish(ctx, notificationMessage{
		Kind:        notifRefunded,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     buyerID(order),
		Total:       txn.RefundAmount.StringFixed(2),
		Currency:    order.Currency,
		Transaction: txn.TransactionNumber,
	})
}

func (n *KafkaNotifier) publish(ctx context.Context, msg notificationMessage) {
	if n == nil || n.writer == nil {
		return
	}
	msg.QueuedAt = n.clock()

	data, err := n.marshal(msg)
	if err != nil {
		n.logger(ctx, "notify.marshal_failed", map[string]any{
			"kind":     msg.Kind,
			"order_id": msg.OrderID,
			"error":    err.Error(),
		})
		return
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.OrderID),
		Value: data,
		Time:  msg.QueuedAt,
	})
	if err != nil {
		n.logger(ctx, "notify.publish_failed", map[string]any{
			"kind":     msg.Kind,
			"order_id": msg.OrderID,
			"error":    err.Error(),
		})
	}
}

func buyerID(order services.Order) string {
	if order.BuyerID == nil {
		return ""
	}
	return *order.BuyerID
}

func encodeAttachment(artifact []byte) string {
	if len(artifact) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(artifact)
}
