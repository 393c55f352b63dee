// Package eventbus is an in-process, reflection-typed publish/subscribe bus.
//
// Subscribers register a func(e *SomeEvent) (or a func accepting any
// interface the published value implements, e.g. context.Context); Publish
// dispatches to every subscriber whose single parameter type matches the
// published value. It decouples pkg/cache's invalidation, which publishes
// cache.InvalidatedEvent, from the subscribers that react to it (the
// hydrate_cache enqueue wired in cmd/traceline-worker and
// cmd/traceline-server) without a direct call graph between the two.
package eventbus

import (
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

// Publisher dispatches published events to type-matched subscribers.
type Publisher struct {
	mu       sync.RWMutex
	logger   *logrus.Logger
	handlers []interface{}
}

// NewEventPublisher builds a Publisher that logs through logger.
func NewEventPublisher(logger *logrus.Logger) *Publisher {
	return &Publisher{logger: logger}
}

// Subscribe registers handler. handler must be a func taking exactly one
// argument; Publish calls it whenever a published event's type matches.
func (p *Publisher) Subscribe(handler interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

// Publish calls every subscriber whose parameter type matches event. If no
// subscriber matches, it logs a warning rather than silently dropping the
// event.
func (p *Publisher) Publish(event interface{}) {
	p.mu.RLock()
	handlers := make([]interface{}, len(p.handlers))
	copy(handlers, p.handlers)
	p.mu.RUnlock()

	matched := false
	for _, h := range handlers {
		if !MatchSignature(h, []interface{}{event}) {
			continue
		}
		matched = true
		reflect.ValueOf(h).Call([]reflect.Value{reflect.ValueOf(event)})
	}
	if !matched {
		p.logger.Warnf("eventbus.Publish: no matching subscribers for %T", event)
	}
}

// MatchSignature reports whether fn is a func whose parameters accept args,
// positionally, either by exact type or by interface satisfaction.
func MatchSignature(fn interface{}, args []interface{}) bool {
	fnType := reflect.TypeOf(fn)
	if fnType == nil || fnType.Kind() != reflect.Func {
		return false
	}
	if fnType.NumIn() != len(args) {
		return false
	}
	for i := 0; i < fnType.NumIn(); i++ {
		paramType := fnType.In(i)
		argType := reflect.TypeOf(args[i])
		if argType == nil {
			return false
		}
		if paramType.Kind() == reflect.Interface {
			if !argType.Implements(paramType) {
				return false
			}
			continue
		}
		if argType != paramType {
			return false
		}
	}
	return true
}
