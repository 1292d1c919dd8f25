// Package eventbus is the in-process publish/subscribe channel for click
// events (spec §4.5). The pack's only event-bus precedent
// (milos85vasic-Catalogizer/catalog-api/internal/eventbus) is a thin
// type-alias facade over a private sibling module that is not fetchable
// from this repo, so it cannot be wired here. This instead
// generalizes the teacher's sync.RWMutex-guarded map idiom used by
// internal/targeting's geoCache to a subscriber registry.
package eventbus

import (
	"sync"
	"time"
)

// ClickEvent is the structured record published for every recorded click,
// exactly the fields spec §4.5 names.
type ClickEvent struct {
	EventID          string    `json:"event_id"`
	Timestamp        time.Time `json:"timestamp"`
	LinkID           string    `json:"link_id"`
	ShortCode        string    `json:"short_code"`
	OwnerID          string    `json:"owner_id,omitempty"`
	IP               string    `json:"ip"`
	UserAgent        string    `json:"ua"`
	Country          string    `json:"country,omitempty"`
	City             string    `json:"city,omitempty"`
	DeviceClass      string    `json:"device_class"`
	Platform         string    `json:"platform,omitempty"`
	RedirectURL      string    `json:"redirect_url"`
	Reason           string    `json:"reason"`
	TargetingMatched bool      `json:"targeting_matched"`
	UTMSource        string    `json:"utm,omitempty"`
	Referer          string    `json:"referer,omitempty"`
	Language         string    `json:"language,omitempty"`
}

// Filter restricts delivery to a subscriber; zero-value fields are
// wildcards, both act as AND filters when present (spec §4.5).
type Filter struct {
	OwnerID string
	LinkID  string
}

func (f Filter) matches(e ClickEvent) bool {
	if f.OwnerID != "" && f.OwnerID != e.OwnerID {
		return false
	}
	if f.LinkID != "" && f.LinkID != e.LinkID {
		return false
	}
	return true
}

// Callback receives a delivered event. It must not block indefinitely —
// delivery to each subscriber is serialized through its own goroutine, so a
// slow callback only delays that subscriber, never the publisher or other
// subscribers.
type Callback func(ClickEvent)

// Cancel unregisters a subscription.
type Cancel func()

type subscriber struct {
	id     uint64
	filter Filter
	ch     chan ClickEvent
	done   chan struct{}
}

// Bus is process-local; a multi-process deployment will not deliver across
// processes (spec §5 — acceptable, since stream subscribers connect to one
// process).
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  uint64
}

func New() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a callback gated by filter and returns a cancellation
// handle. Delivery is best-effort and serialized per subscriber via a
// bounded buffered channel; if the subscriber falls behind, new events are
// dropped for it rather than blocking the publisher.
func (b *Bus) Subscribe(filter Filter, cb Callback) Cancel {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{
		id:     id,
		filter: filter,
		ch:     make(chan ClickEvent, 64),
		done:   make(chan struct{}),
	}
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case e := <-sub.ch:
				cb(e)
			case <-sub.done:
				return
			}
		}
	}()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(sub.done)
	}
}

// Publish fans the event out to every matching subscriber without blocking.
// A full subscriber buffer means that subscriber misses this event; no
// other subscriber is affected.
func (b *Bus) Publish(e ClickEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.filter.matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
		}
	}
}
