// Package history records the searches a voice session performed.
package history

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vango-go/vai-catalog/pkg/catalog"
)

// Item is one completed filter_products dispatch. Items are immutable once
// recorded.
type Item struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Query     string           `json:"query"`
	Filters   catalog.Criteria `json:"filters"`
	ImageURL  string           `json:"image_url"`
}

// Recorder keeps items most recent first.
type Recorder struct {
	mu      sync.Mutex
	items   []Item
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
	notify  func(Item)
}

type Option func(*Recorder)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithNotify registers a callback invoked after each append, outside the lock.
func WithNotify(fn func(Item)) Option {
	return func(r *Recorder) { r.notify = fn }
}

func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Append records a search and returns the stored item.
func (r *Recorder) Append(query string, filters catalog.Criteria, imageURL string) Item {
	if r == nil {
		return Item{}
	}
	r.mu.Lock()
	ts := r.now()
	item := Item{
		ID:        ulid.MustNew(ulid.Timestamp(ts), r.entropy).String(),
		Timestamp: ts,
		Query:     query,
		Filters:   filters.Clone(),
		ImageURL:  imageURL,
	}
	r.items = append([]Item{item}, r.items...)
	notify := r.notify
	r.mu.Unlock()

	if notify != nil {
		notify(cloneItem(item))
	}
	return cloneItem(item)
}

// Items returns a copy, most recent first.
func (r *Recorder) Items() []Item {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Item, len(r.items))
	for i, it := range r.items {
		out[i] = cloneItem(it)
	}
	return out
}

func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Reset drops every item. Only a full application reset calls this.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.items = nil
	r.mu.Unlock()
}

func cloneItem(it Item) Item {
	it.Filters = it.Filters.Clone()
	return it
}
