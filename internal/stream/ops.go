package stream

import "sync"

// Filter returns a view of src that only delivers values accepted by pred
func Filter[T any](src Observable[T], pred func(T) bool) Observable[T] {
	return Func[T](func(fn func(T)) Subscription {
		return src.Subscribe(func(v T) {
			if pred(v) {
				fn(v)
			}
		})
	})
}

// Map returns a view of src with every value projected through project
func Map[T, U any](src Observable[T], project func(T) U) Observable[U] {
	return Func[U](func(fn func(U)) Subscription {
		return src.Subscribe(func(v T) {
			fn(project(v))
		})
	})
}

// LatestReplayer is an event source that can replay only the latest event per type
type LatestReplayer interface {
	SubscribeLatest(fn func(Event)) Subscription
}

// Values selects the events of a single type and projects them to their value.
// When src is a LatestReplayer a late subscriber only sees the current value.
func Values(src Observable[Event], eventType string) Observable[any] {
	if r, ok := src.(LatestReplayer); ok {
		src = Func[Event](r.SubscribeLatest)
	}
	return Map(Filter(src, func(e Event) bool {
		return e.Type == eventType
	}), func(e Event) any {
		return e.Value
	})
}

// CombineLatest emits a snapshot of the latest value of every source.
// Nothing is emitted until each source has produced at least one value;
// after that every emission from any source produces a new snapshot.
// With no sources a single empty snapshot is emitted on subscribe.
func CombineLatest(sources []Observable[any]) Observable[[]any] {
	return Func[[]any](func(fn func([]any)) Subscription {
		if len(sources) == 0 {
			fn([]any{})
			return NewSubscription(nil)
		}

		var mu sync.Mutex
		values := make([]any, len(sources))
		seen := make([]bool, len(sources))
		ready := 0

		subs := make(multiSubscription, 0, len(sources))
		for i, src := range sources {
			idx := i
			subs = append(subs, src.Subscribe(func(v any) {
				mu.Lock()
				values[idx] = v
				if !seen[idx] {
					seen[idx] = true
					ready++
				}
				var snapshot []any
				if ready == len(sources) {
					snapshot = make([]any, len(values))
					copy(snapshot, values)
				}
				mu.Unlock()

				if snapshot != nil {
					fn(snapshot)
				}
			}))
		}
		return NewSubscription(subs.Unsubscribe)
	})
}

// Latest returns the most recent value src delivers synchronously on subscribe.
// Replaying sources make this the current value; the bool is false when none exists yet.
func Latest[T any](src Observable[T]) (T, bool) {
	var (
		mu    sync.Mutex
		value T
		found bool
	)
	sub := src.Subscribe(func(v T) {
		mu.Lock()
		value = v
		found = true
		mu.Unlock()
	})
	sub.Unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	return value, found
}
