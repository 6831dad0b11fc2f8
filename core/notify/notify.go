/*Package notify delivers mutation notifications.

Every successful create, update or delete can be observed by an optional
Notifier. Delivery is best effort: notifier failures are logged and never
propagate to the client.
*/
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/logger"
)

// Notification describes one mutation.
type Notification struct {
	Resource  string      `json:"resource"`
	Operation core.Action `json:"operation"`
	ID        interface{} `json:"id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Notifier receives mutation notifications.
type Notifier interface {
	Notify(n Notification)
}

// KafkaNotifier publishes notifications to a Kafka topic. The message key
// is the resource name, so per-resource ordering is preserved.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier writing to the given brokers and topic.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

// Notify publishes one notification; failures are logged, not returned.
func (k *KafkaNotifier) Notify(n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		logger.Default().WithError(err).Error("cannot serialize notification")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.Resource),
		Value: data,
	})
	if err != nil {
		logger.Default().WithError(err).Errorf("cannot publish notification for %s", n.Resource)
	}
}

// Close closes the underlying writer.
func (k *KafkaNotifier) Close() error { return k.writer.Close() }

// Recorder is a Notifier that records notifications, for tests.
type Recorder struct {
	mu            sync.Mutex
	notifications []Notification
}

// Notify records the notification.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.notifications = append(r.notifications, n)
	r.mu.Unlock()
}

// Notifications returns a copy of everything recorded so far.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}
