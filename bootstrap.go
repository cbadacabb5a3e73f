package jms

import (
	"context"
	"errors"
	"fmt"

	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/correlator"
	"github.com/davideduma/commons-jms/listener"
	"github.com/davideduma/commons-jms/sender"
)

// ListenerBinding pairs a listener configuration with its handler. Exactly
// one of Handler and Reactive is set.
type ListenerBinding struct {
	Config   listener.Config
	Handler  listener.Handler
	Reactive listener.ReactiveHandler
}

// Bindings is the declarative list of components started by Bootstrap
type Bindings struct {
	Listeners   []ListenerBinding
	Senders     []sender.Config
	Correlators []correlator.Config
}

// Bootstrap registers every binding and starts the client. Registration
// errors are returned before anything connects; on a start error the client
// is closed.
func Bootstrap(ctx context.Context, b Bindings, options ...ClientOption) (*Client, error) {
	c := New(options...)

	var errs []error
	for _, l := range b.Listeners {
		var err error
		switch {
		case l.Handler != nil && l.Reactive != nil:
			err = fmt.Errorf("%w: %s has both a handler and a reactive handler", listener.ErrInvalidListener, l.Config.Name())
		case l.Reactive != nil:
			err = c.RegisterReactiveListener(l.Config, l.Reactive)
		default:
			err = c.RegisterListener(l.Config, l.Handler)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	for _, s := range b.Senders {
		if err := c.RegisterSender(s); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range b.Correlators {
		if err := c.RegisterCorrelator(r); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Requester sends a request through a sender and waits for the reply on a
// correlator. The reply's correlation id is the request's message id.
type Requester struct {
	sender     *sender.Pool
	correlator *correlator.Pool
}

// NewRequester combines a sender and a correlator
func NewRequester(s *sender.Pool, r *correlator.Pool) (*Requester, error) {
	if s == nil || r == nil {
		return nil, fmt.Errorf("%w: requester needs a sender and a correlator", broker.ErrInvalidConfiguration)
	}
	return &Requester{sender: s, correlator: r}, nil
}

// Requester looks up a registered sender and correlator
func (c *Client) Requester(senderName, correlatorName string) (*Requester, error) {
	s, err := c.Sender(senderName)
	if err != nil {
		return nil, err
	}
	r, err := c.Correlator(correlatorName)
	if err != nil {
		return nil, err
	}
	return NewRequester(s, r)
}

// Request sends the message built by creator to the sender's default
// destination and waits for the reply. ReplyTo is set to the correlator's
// default destination unless the creator set one.
func (r *Requester) Request(ctx context.Context, creator sender.MessageCreator) (*broker.Message, error) {
	return r.request(ctx, nil, creator)
}

// RequestTo is Request with an explicit request destination
func (r *Requester) RequestTo(ctx context.Context, dest broker.Destination, creator sender.MessageCreator) (*broker.Message, error) {
	if dest == nil {
		return nil, broker.ErrNoDefaultDestination
	}
	return r.request(ctx, dest, creator)
}

func (r *Requester) request(ctx context.Context, dest broker.Destination, creator sender.MessageCreator) (*broker.Message, error) {
	replyTo, err := r.correlator.DefaultDestination()
	if err != nil {
		return nil, err
	}

	withReply := sender.MessageCreatorFunc(func(session broker.Session) (*broker.Message, error) {
		msg, err := creator.CreateMessage(session)
		if err != nil {
			return nil, err
		}
		if msg.ReplyTo == nil {
			msg.ReplyTo = replyTo
		}
		return msg, nil
	})

	var id string
	if dest != nil {
		id, err = r.sender.SendTo(ctx, dest, withReply)
	} else {
		id, err = r.sender.Send(ctx, withReply)
	}
	if err != nil {
		return nil, err
	}

	return r.correlator.GetMessageFrom(ctx, id, 0, replyTo)
}

// Reply sends the message built by creator to request.ReplyTo, correlated
// with the request's message id
func Reply(ctx context.Context, s *sender.Pool, request *broker.Message, creator sender.MessageCreator) (string, error) {
	if request.ReplyTo == nil {
		return "", fmt.Errorf("%w: request %s has no reply destination", broker.ErrNoDefaultDestination, request.ID)
	}

	return s.SendTo(ctx, request.ReplyTo, sender.MessageCreatorFunc(func(session broker.Session) (*broker.Message, error) {
		msg, err := creator.CreateMessage(session)
		if err != nil {
			return nil, err
		}
		msg.CorrelationID = request.ID
		return msg, nil
	}))
}
