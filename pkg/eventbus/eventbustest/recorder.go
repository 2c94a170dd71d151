// Package eventbustest provides a recording publisher for service tests.
package eventbustest

import (
	"context"
	"sync"

	"github.com/sakashimaa/order-saga/pkg/eventbus"
)

type Recorder struct {
	mu  sync.Mutex
	err error
	env []eventbus.Envelope
}

var _ eventbus.Publisher = (*Recorder)(nil)

func (r *Recorder) Publish(ctx context.Context, event any) error {
	env, err := eventbus.NewEnvelope(event)
	if err != nil {
		return err
	}
	return r.PublishEnvelope(ctx, env)
}

func (r *Recorder) PublishEnvelope(_ context.Context, env eventbus.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	r.env = append(r.env, env)
	return nil
}

// FailWith makes every following publish return err until called with nil.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) Envelopes() []eventbus.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventbus.Envelope(nil), r.env...)
}

// RoutingKeys lists the routing keys published so far, in order.
func (r *Recorder) RoutingKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.env))
	for _, e := range r.env {
		keys = append(keys, e.RoutingKey)
	}
	return keys
}

// Last decodes the payload of the most recent envelope into v and reports
// whether there was one.
func (r *Recorder) Last(v any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.env) == 0 {
		return false
	}
	return r.env[len(r.env)-1].Decode(v) == nil
}
