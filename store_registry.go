package relay

import "sync"

// registry is a small concurrent keyed collection used by the server to
// track live sessions by connection id.
type registry[T any] struct {
	mutex sync.RWMutex
	items map[string]T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{items: make(map[string]T)}
}

func (r *registry[T]) Create(key string, value T) error {
	r.mutex.Lock()

	defer r.mutex.Unlock()

	if _, exists := r.items[key]; exists {
		return conflict(key, "key already exists")
	}
	r.items[key] = value
	return nil
}

func (r *registry[T]) Read(key string) (T, error) {
	r.mutex.RLock()

	defer r.mutex.RUnlock()

	var zeroValue T
	value, exists := r.items[key]
	if !exists {
		return zeroValue, notFound(key, "key does not exist")
	}
	return value, nil
}

func (r *registry[T]) Delete(key string) error {
	r.mutex.Lock()

	defer r.mutex.Unlock()

	if _, exists := r.items[key]; !exists {
		return notFound(key, "key does not exist")
	}
	delete(r.items, key)

	return nil
}

func (r *registry[T]) Values() []T {
	r.mutex.RLock()

	defer r.mutex.RUnlock()

	values := make([]T, 0, len(r.items))

	for _, value := range r.items {
		values = append(values, value)
	}
	return values
}

func (r *registry[T]) Len() int {
	r.mutex.RLock()

	defer r.mutex.RUnlock()

	return len(r.items)
}
