// Package events 领域事件发布
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// 事件类型
const (
	InventoryMovement   = "inventory.movement"
	PurchaseOrderStatus = "purchase_order.status_changed"
	SalesOrderCreated   = "order.created"
	SalesOrderStatus    = "order.status_changed"
	VendorOrderStatus   = "vendor_order.status_changed"
	DeliveryStatus      = "delivery.status_changed"
	ReturnStatus        = "return.status_changed"
	SettlementStatus    = "settlement.status_changed"
	SettlementPaid      = "settlement.paid"
)

// Event 领域事件
type Event struct {
	Type    string    `json:"type"`
	Key     string    `json:"key"`
	Actor   string    `json:"actor,omitempty"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// Publisher 事件发布接口，事务提交后调用
type Publisher interface {
	Publish(ctx context.Context, evts ...Event) error
	Close() error
}

// KafkaPublisher 基于 kafka-go 的发布器，topic = prefix + 事件类型
type KafkaPublisher struct {
	writer      *kafka.Writer
	topicPrefix string
	timeout     time.Duration
}

func NewKafkaPublisher(brokers []string, topicPrefix string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topicPrefix: topicPrefix,
		timeout:     5 * time.Second,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evts ...Event) error {
	if len(evts) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msgs := make([]kafka.Message, 0, len(evts))
	for _, e := range evts {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", e.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Topic: p.topicPrefix + e.Type,
			Key:   []byte(e.Key),
			Value: value,
			Time:  e.At,
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop 丢弃所有事件（未配置 Kafka 时使用）
type Nop struct{}

func (Nop) Publish(context.Context, ...Event) error { return nil }
func (Nop) Close() error                            { return nil }
