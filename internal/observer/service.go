// Package observer delivers in-process announcements to the observers
// subscribed to a topic.
package observer

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/namikmesic/replaytap/internal/stream"
)

// Observer receives announcements. Observe runs on the announcing
// goroutine and must not block on the payload. Observers that read the
// payload also close it.
type Observer interface {
	Observe(topic string, payload stream.Stream, data string)
}

// Func adapts a function into an Observer.
type Func func(topic string, payload stream.Stream, data string)

func (f Func) Observe(topic string, payload stream.Stream, data string) {
	f(topic, payload, data)
}

type subscription struct {
	id       uint64
	observer Observer
}

// Service is a topic-keyed registry of observers.
type Service struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string][]subscription
}

func NewService() *Service {
	return &Service{topics: make(map[string][]subscription)}
}

// Subscribe registers o for topic and returns a function removing it.
func (s *Service) Subscribe(topic string, o Observer) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.topics[topic] = append(s.topics[topic], subscription{id: id, observer: o})

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(topic, id) })
	}
}

func (s *Service) remove(topic string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.topics[topic]
	for i, sub := range subs {
		if sub.id == id {
			s.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(s.topics[topic]) == 0 {
		delete(s.topics, topic)
	}
}

// Announce notifies every observer of topic, in subscription order. A
// payload nobody observes is closed.
func (s *Service) Announce(topic string, payload stream.Stream, data string) {
	s.mu.RLock()
	subs := s.topics[topic]
	s.mu.RUnlock()

	if len(subs) == 0 {
		log.Debug().Str("topic", topic).Str("data", data).Msg("announcement without observers")
		if payload != nil {
			_ = payload.Close()
		}
		return
	}
	for _, sub := range subs {
		sub.observer.Observe(topic, payload, data)
	}
}
