// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Reply headers set by Handle when the handler fails.
const (
	ErrorHeader     = "Tethys-Error"
	ErrorKindHeader = "Tethys-Error-Kind"
)

// DefaultRequestTimeout applies when the request context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// RemoteError is a handler failure reported by the responder.
type RemoteError struct {
	Subject string
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("natsutil: %s: %s (%s)", e.Subject, e.Message, e.Kind)
	}
	return fmt.Sprintf("natsutil: %s: %s", e.Subject, e.Message)
}

// Kinder is implemented by errors that carry a classification string.
type Kinder interface{ Kind() string }

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

func newMsg(ctx context.Context, subject string, v any) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: marshal %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes it, injecting trace context.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler for JSON messages of type T. Malformed
// messages are logged and skipped.
func Subscribe[T any](nc *nats.Conn, subject string, log *slog.Logger, handler func(context.Context, T)) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			log.Warn("dropping malformed message", "subject", msg.Subject, "err", err)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v)
	})
}

// Handle serves request/reply on subject within an optional queue group.
// Each request is handled with a context bounded by timeout. Handler errors
// are returned to the requester in reply headers.
func Handle[Req, Resp any](nc *nats.Conn, subject, queue string, timeout time.Duration, log *slog.Logger, handler func(context.Context, Req) (Resp, error)) (*nats.Subscription, error) {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		reply := &nats.Msg{Subject: msg.Reply, Header: nats.Header{}}
		var req Req
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			reply.Header.Set(ErrorHeader, "malformed request: "+err.Error())
			reply.Header.Set(ErrorKindHeader, "validation")
		} else if resp, err := handler(ctx, req); err != nil {
			reply.Header.Set(ErrorHeader, err.Error())
			var k Kinder
			if errors.As(err, &k) {
				reply.Header.Set(ErrorKindHeader, k.Kind())
			}
		} else if reply.Data, err = json.Marshal(resp); err != nil {
			reply.Header.Set(ErrorHeader, "marshal response: "+err.Error())
		}

		if msg.Reply == "" {
			return
		}
		if err := msg.RespondMsg(reply); err != nil {
			log.Warn("reply failed", "subject", subject, "err", err)
		}
	})
}

// Request sends a JSON request and decodes the reply. The wait is bounded by
// the context deadline, or DefaultRequestTimeout when there is none.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := newMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultRequestTimeout)
		defer cancel()
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, fmt.Errorf("natsutil: request %s: %w", subject, err)
	}
	if m := resp.Header.Get(ErrorHeader); m != "" {
		return zero, &RemoteError{Subject: subject, Kind: resp.Header.Get(ErrorKindHeader), Message: m}
	}
	var out Resp
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return zero, fmt.Errorf("natsutil: decode %s reply: %w", subject, err)
	}
	return out, nil
}
