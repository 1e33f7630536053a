package events

import (
	"log"
	"sync"
	"time"

	"compmap/internal/domain"
)

// ProcessStarted is published after a start operation commits.
type ProcessStarted struct {
	ProcessID string
	Type      domain.ProcessType
	At        time.Time
	UnitIDs   []string
}

// ProcessFinalized is published after a finalize operation commits.
type ProcessFinalized struct {
	ProcessID string
	Type      domain.ProcessType
	At        time.Time
}

// Bus fans domain events out to in-process subscribers. Publication is
// fire-and-forget: it happens after the publisher's transaction has
// committed, and a failing subscriber is logged, never propagated.
type Bus struct {
	mu          sync.RWMutex
	onStarted   []func(ProcessStarted)
	onFinalized []func(ProcessFinalized)
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) SubscribeStarted(fn func(ProcessStarted)) {
	b.mu.Lock()
	b.onStarted = append(b.onStarted, fn)
	b.mu.Unlock()
}

func (b *Bus) SubscribeFinalized(fn func(ProcessFinalized)) {
	b.mu.Lock()
	b.onFinalized = append(b.onFinalized, fn)
	b.mu.Unlock()
}

func (b *Bus) PublishStarted(evt ProcessStarted) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := append([]func(ProcessStarted){}, b.onStarted...)
	b.mu.RUnlock()
	for _, fn := range subs {
		go deliver(func() { fn(evt) }, "process.started")
	}
}

func (b *Bus) PublishFinalized(evt ProcessFinalized) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := append([]func(ProcessFinalized){}, b.onFinalized...)
	b.mu.RUnlock()
	for _, fn := range subs {
		go deliver(func() { fn(evt) }, "process.finalized")
	}
}

func deliver(fn func(), kind string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("events: %s subscriber panic: %v", kind, r)
		}
	}()
	fn()
}
