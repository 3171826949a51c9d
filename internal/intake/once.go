package intake

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// OnceQueue yields a single request and writes results as JSON lines.
type OnceQueue struct {
	mu  sync.Mutex
	req *Request
	enc *json.Encoder
}

// NewOnceQueue creates a queue holding req. Results are written to out.
func NewOnceQueue(req *Request, out io.Writer) *OnceQueue {
	return &OnceQueue{req: req, enc: json.NewEncoder(out)}
}

// Receive returns the request on the first call and ErrExhausted after.
func (q *OnceQueue) Receive(ctx context.Context) (*Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.req == nil {
		return nil, ErrExhausted
	}
	req := q.req
	q.req = nil
	return req, nil
}

// Publish writes result as one JSON line.
func (q *OnceQueue) Publish(_ context.Context, result *Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enc.Encode(result)
}

// Close is a no-op.
func (q *OnceQueue) Close() error {
	return nil
}

var _ Queue = (*OnceQueue)(nil)
