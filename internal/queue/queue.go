package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/courier/internal/domain"
)

// Publisher publishes dead-lettered delivery records to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DeadLetterMessage) error
	Close() error
}

// MessageHandler handles a consumed delivery request.
type MessageHandler func(ctx context.Context, msg DeliveryMessage) error

// Consumer consumes delivery requests from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var supportedChannels = []domain.Channel{
	domain.ChannelEmail,
	domain.ChannelSMS,
	domain.ChannelPhone,
	domain.ChannelVoice,
}

const (
	// queueMaxPriority is the RabbitMQ x-max-priority value for intake queues.
	queueMaxPriority int32 = 3
)

// QueueName returns the channel intake queue name, e.g. deliveries.email.
func QueueName(channel domain.Channel) string {
	return fmt.Sprintf("deliveries.%s", strings.ToLower(channel.String()))
}

// DLQName returns the dead-letter queue name for a channel, e.g. dlq.email.
func DLQName(channel domain.Channel) string {
	return fmt.Sprintf("dlq.%s", strings.ToLower(channel.String()))
}

// IntakeQueueNames returns one intake queue per supported channel.
func IntakeQueueNames() []string {
	queues := make([]string, 0, len(supportedChannels))
	for _, channel := range supportedChannels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}

// DLQNames returns one dead-letter queue per supported channel.
func DLQNames() []string {
	queues := make([]string, 0, len(supportedChannels))
	for _, channel := range supportedChannels {
		queues = append(queues, DLQName(channel))
	}
	return queues
}

// PriorityValue maps a delivery priority (lower is more urgent) to a
// RabbitMQ message priority (higher is more urgent).
func PriorityValue(priority int) uint8 {
	switch {
	case priority <= 0:
		return 0
	case priority <= domain.PriorityHigh:
		return 3
	case priority <= domain.PriorityNormal:
		return 2
	default:
		return 1
	}
}
