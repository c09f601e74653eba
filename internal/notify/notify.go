// Package notify carries transient user-facing notifications from the
// editor to whatever surface displays them (console, tray).
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"macroctl/internal/log"
)

// Topic is the watermill topic notifications are published on.
const Topic = "notifications"

const levelMetadataKey = "level"

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one transient message for the user.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

func (n Notification) String() string {
	return fmt.Sprintf("[%s] %s", n.Level, n.Message)
}

// Bus is an in-process notification bus. Delivery order between
// separate publishes is not guaranteed.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *slog.Logger
	now    func() time.Time
}

// NewBus creates a bus. Notifications published while nobody is
// subscribed are dropped.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = log.WithModule("notify")
	}
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewSlogLogger(logger),
	)
	return &Bus{pubSub: pubSub, logger: logger, now: time.Now}
}

// Publish sends n to every subscriber.
func (b *Bus) Publish(n Notification) error {
	if n.Time.IsZero() {
		n.Time = b.now()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set(levelMetadataKey, string(n.Level))
	return b.pubSub.Publish(Topic, msg)
}

func (b *Bus) publish(level Level, format string, args ...any) {
	n := Notification{Level: level, Message: fmt.Sprintf(format, args...)}
	if err := b.Publish(n); err != nil {
		b.logger.Warn("failed to publish notification", "error", err, "message", n.Message)
	}
}

func (b *Bus) Info(format string, args ...any)    { b.publish(LevelInfo, format, args...) }
func (b *Bus) Success(format string, args ...any) { b.publish(LevelSuccess, format, args...) }
func (b *Bus) Warn(format string, args ...any)    { b.publish(LevelWarning, format, args...) }
func (b *Bus) Error(format string, args ...any)   { b.publish(LevelError, format, args...) }

// Subscribe returns a channel of notifications that is closed when ctx is
// done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Notification, error) {
	messages, err := b.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Notification, 64)
	go func() {
		defer close(out)
		for msg := range messages {
			var n Notification
			if err := json.Unmarshal(msg.Payload, &n); err != nil {
				b.logger.Warn("dropping notification", "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()

			select {
			case out <- n:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes every subscription.
func (b *Bus) Close() error {
	return b.pubSub.Close()
}
