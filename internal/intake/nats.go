package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const natsBuffer = 64

// NATSQueue receives requests on one subject and publishes results on
// another. Messages arriving while the buffer is full are dropped by the
// NATS client as slow-consumer events.
type NATSQueue struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	msgs   chan *nats.Msg
	output string
	logger *slog.Logger
}

// DialNATS connects to url and subscribes to input.
func DialNATS(url, input, output string) (*NATSQueue, error) {
	conn, err := nats.Connect(url, nats.Name("diffusion-worker"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	q, err := NewNATSQueue(conn, input, output)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return q, nil
}

// NewNATSQueue subscribes to input on conn. The connection is owned by
// the queue and closed by Close.
func NewNATSQueue(conn *nats.Conn, input, output string) (*NATSQueue, error) {
	msgs := make(chan *nats.Msg, natsBuffer)
	sub, err := conn.ChanSubscribe(input, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", input, err)
	}
	return &NATSQueue{
		conn:   conn,
		sub:    sub,
		msgs:   msgs,
		output: output,
		logger: slog.With("component", "intake", "intake", "nats"),
	}, nil
}

// Receive waits for the next well-formed request.
func (q *NATSQueue) Receive(ctx context.Context) (*Request, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-q.msgs:
			if !ok {
				return nil, ErrExhausted
			}
			req, err := DecodeRequest(msg.Data)
			if err != nil {
				q.logger.Warn("Skipping malformed request", "subject", msg.Subject, "error", err)
				continue
			}
			return req, nil
		}
	}
}

// Publish sends result on the output subject.
func (q *NATSQueue) Publish(_ context.Context, result *Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if err := q.conn.Publish(q.output, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", q.output, err)
	}
	return nil
}

// Ready implements health.ReadinessChecker.
func (q *NATSQueue) Ready(context.Context) error {
	if !q.conn.IsConnected() {
		return errors.New("nats connection is " + q.conn.Status().String())
	}
	return nil
}

// Close drains the subscription and closes the connection.
func (q *NATSQueue) Close() error {
	err := q.sub.Unsubscribe()
	q.conn.Close()
	return err
}

var _ Queue = (*NATSQueue)(nil)
