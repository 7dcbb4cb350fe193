package notifications

import (
	"sync"

	"github.com/fisiohub/clinic-backend/pkg/db/models"
	"github.com/fisiohub/clinic-backend/pkg/enums"
)

// SubscriberFunc receives every notification created for a target module.
type SubscriberFunc func(notification models.Notification)

// SubscriberRegistry fans created notifications out to in-process listeners
// keyed by target module. Delivery is synchronous and best-effort.
type SubscriberRegistry struct {
	mtx  sync.RWMutex
	subs map[enums.Module]map[uint64]SubscriberFunc
	next uint64
}

// NewSubscriberRegistry builds an empty registry.
func NewSubscriberRegistry() *SubscriberRegistry {
	return &SubscriberRegistry{subs: make(map[enums.Module]map[uint64]SubscriberFunc)}
}

// Subscribe registers a callback for a target module and returns an
// unsubscribe function.
func (r *SubscriberRegistry) Subscribe(module enums.Module, fn SubscriberFunc) func() {
	if fn == nil {
		return func() {}
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.next++
	token := r.next
	if r.subs[module] == nil {
		r.subs[module] = make(map[uint64]SubscriberFunc)
	}
	r.subs[module][token] = fn

	return func() {
		r.mtx.Lock()
		defer r.mtx.Unlock()
		if listeners, ok := r.subs[module]; ok {
			delete(listeners, token)
			if len(listeners) == 0 {
				delete(r.subs, module)
			}
		}
	}
}

// Notify delivers the notification to every listener of each target module.
func (r *SubscriberRegistry) Notify(notification models.Notification) {
	r.mtx.RLock()
	listeners := []SubscriberFunc{}
	for _, raw := range notification.TargetModules {
		module := enums.Module(raw)
		for _, fn := range r.subs[module] {
			listeners = append(listeners, fn)
		}
	}
	r.mtx.RUnlock()

	for _, fn := range listeners {
		fn(notification)
	}
}
