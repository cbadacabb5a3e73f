package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/listener"
	"github.com/davideduma/commons-jms/selector"
)

// ErrFiltered is returned by a FilteringInterceptor using SkipWithError
var ErrFiltered = errors.New("message filtered")

// MessageFilter defines the interface for message filtering
type MessageFilter interface {
	// ShouldProcess returns true if the message should be processed
	ShouldProcess(ctx context.Context, msg *broker.Message) (bool, error)
}

// MessageFilterFunc is a function adapter for MessageFilter
type MessageFilterFunc func(ctx context.Context, msg *broker.Message) (bool, error)

// ShouldProcess implements MessageFilter
func (f MessageFilterFunc) ShouldProcess(ctx context.Context, msg *broker.Message) (bool, error) {
	return f(ctx, msg)
}

// FilteringInterceptor filters messages based on conditions
type FilteringInterceptor struct {
	filter       MessageFilter
	skipBehavior SkipBehavior
	logger       *slog.Logger
}

// SkipBehavior defines what happens when a message is filtered out
type SkipBehavior int

const (
	// SkipSilently skips the message without error
	SkipSilently SkipBehavior = iota
	// SkipWithError returns ErrFiltered when message is filtered
	SkipWithError
	// SkipWithLog logs that the message was skipped
	SkipWithLog
)

// NewFilteringInterceptor creates a new filtering interceptor
func NewFilteringInterceptor(filter MessageFilter, skipBehavior SkipBehavior) *FilteringInterceptor {
	return &FilteringInterceptor{
		filter:       filter,
		skipBehavior: skipBehavior,
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger used by SkipWithLog
func (i *FilteringInterceptor) WithLogger(logger *slog.Logger) *FilteringInterceptor {
	if logger != nil {
		i.logger = logger
	}
	return i
}

// Intercept implements Interceptor
func (i *FilteringInterceptor) Intercept(ctx context.Context, msg *broker.Message, next listener.Handler) error {
	shouldProcess, err := i.filter.ShouldProcess(ctx, msg)
	if err != nil {
		return fmt.Errorf("filter error: %w", err)
	}

	if !shouldProcess {
		switch i.skipBehavior {
		case SkipWithError:
			return fmt.Errorf("%w: type=%s, id=%s", ErrFiltered, msg.Type, msg.ID)
		case SkipWithLog:
			i.logger.Info("message skipped", "messageId", msg.ID, "messageType", msg.Type)
			return nil
		default: // SkipSilently
			return nil
		}
	}

	return next.Handle(ctx, msg)
}

// Name implements Interceptor
func (i *FilteringInterceptor) Name() string {
	return "FilteringInterceptor"
}

// SelectorFilter accepts messages matching a selector expression. It filters
// on the client side, after the message was consumed.
type SelectorFilter struct {
	selector *selector.Selector
}

// NewSelectorFilter compiles expression into a filter
func NewSelectorFilter(expression string) (*SelectorFilter, error) {
	s, err := selector.Compile(expression)
	if err != nil {
		return nil, err
	}
	return &SelectorFilter{selector: s}, nil
}

// ShouldProcess implements MessageFilter
func (f *SelectorFilter) ShouldProcess(ctx context.Context, msg *broker.Message) (bool, error) {
	return f.selector.Matches(msg), nil
}

// CompositeFilter combines multiple filters with AND logic
type CompositeFilter struct {
	filters []MessageFilter
}

// NewCompositeFilter creates a new composite filter
func NewCompositeFilter(filters ...MessageFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// ShouldProcess implements MessageFilter - all filters must return true
func (f *CompositeFilter) ShouldProcess(ctx context.Context, msg *broker.Message) (bool, error) {
	for _, filter := range f.filters {
		shouldProcess, err := filter.ShouldProcess(ctx, msg)
		if err != nil {
			return false, err
		}
		if !shouldProcess {
			return false, nil
		}
	}
	return true, nil
}

// MessageTypeFilter filters messages by type
type MessageTypeFilter struct {
	allowedTypes map[string]bool
}

// NewMessageTypeFilter creates a filter that only allows specific message types
func NewMessageTypeFilter(allowedTypes ...string) *MessageTypeFilter {
	typeMap := make(map[string]bool)
	for _, t := range allowedTypes {
		typeMap[t] = true
	}
	return &MessageTypeFilter{allowedTypes: typeMap}
}

// ShouldProcess implements MessageFilter
func (f *MessageTypeFilter) ShouldProcess(ctx context.Context, msg *broker.Message) (bool, error) {
	return f.allowedTypes[msg.Type], nil
}
