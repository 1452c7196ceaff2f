package stream

import "sync"

// Event is a single call result emitted by the batch executor.
// Type is the fully-qualified return key ("{contract}.{fn}.{args}.{returnKey}").
type Event struct {
	Type  string
	Value any
}

// Subscription detaches an observer from an observable
type Subscription interface {
	Unsubscribe()
}

// Observable is a push-based source of values.
// Subscribe registers fn and returns a handle that stops delivery.
type Observable[T any] interface {
	Subscribe(fn func(T)) Subscription
}

// Func adapts a plain subscribe function to the Observable interface
type Func[T any] func(fn func(T)) Subscription

// Subscribe implements Observable
func (f Func[T]) Subscribe(fn func(T)) Subscription {
	return f(fn)
}

// onceSubscription runs its cancel function at most once
type onceSubscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription wraps cancel so that repeated Unsubscribe calls are harmless
func NewSubscription(cancel func()) Subscription {
	return &onceSubscription{cancel: cancel}
}

// Unsubscribe implements Subscription
func (s *onceSubscription) Unsubscribe() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// multiSubscription cancels a group of subscriptions together
type multiSubscription []Subscription

func (m multiSubscription) Unsubscribe() {
	for _, s := range m {
		if s != nil {
			s.Unsubscribe()
		}
	}
}
