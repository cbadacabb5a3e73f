package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/listener"
	"github.com/davideduma/commons-jms/sender"
)

// Headers added to dead-lettered messages
const (
	HeaderOriginalQueue = "x-original-queue"
	HeaderError         = "x-error"
	HeaderFailedAt      = "x-failed-at"
	HeaderDeadLetters   = "x-dead-letter-count"
)

// DeadLetterSender is the part of sender.Pool the dead letter interceptor needs
type DeadLetterSender interface {
	Send(ctx context.Context, creator sender.MessageCreator) (string, error)
}

// DeadLetterInterceptor forwards messages whose handler failed to a dead
// letter destination and reports them as handled. Put it after a
// RetryInterceptor so only exhausted messages are forwarded.
type DeadLetterInterceptor struct {
	sender DeadLetterSender
	logger *slog.Logger
}

// NewDeadLetterInterceptor creates an interceptor forwarding to s's default destination
func NewDeadLetterInterceptor(s DeadLetterSender, logger *slog.Logger) *DeadLetterInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterInterceptor{sender: s, logger: logger}
}

// Intercept implements Interceptor
func (i *DeadLetterInterceptor) Intercept(ctx context.Context, msg *broker.Message, next listener.Handler) error {
	err := next.Handle(ctx, msg)
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}

	dead := deadLetter(msg, err)
	if _, sendErr := i.sender.Send(ctx, sender.Message(dead)); sendErr != nil {
		return errors.Join(err, fmt.Errorf("dead letter: %w", sendErr))
	}

	i.logger.Warn("message dead-lettered",
		"messageId", msg.ID,
		"messageType", msg.Type,
		"error", err)
	return nil
}

// Name implements Interceptor
func (i *DeadLetterInterceptor) Name() string {
	return "DeadLetterInterceptor"
}

func deadLetter(msg *broker.Message, cause error) *broker.Message {
	dead := msg.Clone()
	dead.ID = ""
	dead.Destination = nil

	count := 0
	if v, ok := msg.Header(HeaderDeadLetters); ok {
		if n, ok := v.(int); ok {
			count = n
		}
	}

	if msg.Destination != nil {
		dead.SetHeader(HeaderOriginalQueue, msg.Destination.Name())
	}
	dead.SetHeader(HeaderError, cause.Error())
	dead.SetHeader(HeaderFailedAt, time.Now().UTC().Format(time.RFC3339Nano))
	dead.SetHeader(HeaderDeadLetters, count+1)
	return dead
}
