// Package notifier fans a payload-free "something changed" signal out to
// subscribers. Subscribers re-query whatever state they display.
package notifier

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
)

// Observer is called once per change
type Observer func(ctx context.Context)

type subscription struct {
	id int64
	fn Observer
}

// Notifier keeps observers in registration order
type Notifier struct {
	mu     sync.RWMutex
	nextID int64
	subs   []subscription
}

// New creates an empty notifier
func New() *Notifier {
	return &Notifier{}
}

// Subscribe registers fn and returns a handle that removes it again.
// Calling the handle more than once is harmless.
func (n *Notifier) Subscribe(fn Observer) (unsubscribe func()) {
	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscription{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

func (n *Notifier) remove(id int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.subs {
		if s.id == id {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}

// Len returns the number of active subscriptions
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Notify calls every observer synchronously in registration order.
// A panicking observer is logged and skipped.
func (n *Notifier) Notify(ctx context.Context) {
	n.mu.RLock()
	subs := make([]subscription, len(n.subs))
	copy(subs, n.subs)
	n.mu.RUnlock()

	for _, s := range subs {
		n.call(ctx, s)
	}
}

func (n *Notifier) call(ctx context.Context, s subscription) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx).
				Int64("subscription", s.id).
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("change observer panicked")
		}
	}()
	s.fn(ctx)
}
