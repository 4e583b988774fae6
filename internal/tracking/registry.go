// Package tracking decides, frame by frame, which detected objects are new and
// which were already present in the previous frame.
//
// Identity is positional and categorical: an object is identified by its label
// and the top-left corner of its bounding box. There is no motion prediction or
// re-identification, so an object that moves gets a new identity.
package tracking

import (
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Key identifies a tracked object.
type Key struct {
	Label string
	X     int
	Y     int
}

// KeyOf derives the identity key of a detection from its label and box.
func KeyOf(label string, box image.Rectangle) Key {
	return Key{Label: label, X: box.Min.X, Y: box.Min.Y}
}

// String returns the key in label_x_y form.
func (k Key) String() string {
	return fmt.Sprintf("%s_%d_%d", k.Label, k.X, k.Y)
}

// TrackedObject is a registry entry.
type TrackedObject struct {
	Key       Key       `json:"key"`
	Label     string    `json:"label"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Observation is a qualifying detection seen in the current frame.
type Observation struct {
	Key   Key
	Label string
}

// NewObjectEvent is emitted when a key enters the registry.
type NewObjectEvent struct {
	Key   Key
	Label string
}

// Registry holds the objects seen in the most recent frames.
//
// With a zero expireAfter an entry is dropped as soon as a frame does not
// contain its key, so an object missing for a single frame is new again when
// it reappears. A positive expireAfter keeps absent entries until they have
// not been seen for longer than that duration.
type Registry struct {
	expireAfter time.Duration

	mu      sync.RWMutex
	objects map[Key]*TrackedObject
}

// NewRegistry creates an empty Registry. Negative durations are treated as zero.
func NewRegistry(expireAfter time.Duration) *Registry {
	if expireAfter < 0 {
		expireAfter = 0
	}
	return &Registry{
		expireAfter: expireAfter,
		objects:     make(map[Key]*TrackedObject),
	}
}

// Reconcile updates the registry with the observations of one frame and
// returns an event for every key that was not present before, in the order the
// observations were made. If the same key is observed twice in a frame the
// first observation wins.
func (r *Registry) Reconcile(now time.Time, observations []Observation) []NewObjectEvent {
	current := lo.UniqBy(observations, func(o Observation) Key { return o.Key })
	currentKeys := lo.Map(current, func(o Observation, _ int) Key { return o.Key })

	r.mu.Lock()
	defer r.mu.Unlock()

	added, missing := lo.Difference(currentKeys, lo.Keys(r.objects))

	isNew := make(map[Key]struct{}, len(added))
	for _, k := range added {
		isNew[k] = struct{}{}
	}

	events := make([]NewObjectEvent, 0, len(added))
	for _, o := range current {
		if _, ok := isNew[o.Key]; ok {
			r.objects[o.Key] = &TrackedObject{
				Key:       o.Key,
				Label:     o.Label,
				FirstSeen: now,
				LastSeen:  now,
			}
			events = append(events, NewObjectEvent{Key: o.Key, Label: o.Label})
			continue
		}

		obj := r.objects[o.Key]
		obj.Label = o.Label
		obj.LastSeen = now
	}

	for _, k := range missing {
		if r.expireAfter > 0 && now.Sub(r.objects[k].LastSeen) <= r.expireAfter {
			continue
		}
		delete(r.objects, k)
	}

	return events
}

// Len returns the number of tracked objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// Contains reports whether k is tracked.
func (r *Registry) Contains(k Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.objects[k]
	return ok
}

// Get returns a copy of the entry for k.
func (r *Registry) Get(k Key) (TrackedObject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	obj, ok := r.objects[k]
	if !ok {
		return TrackedObject{}, false
	}
	return *obj, true
}

// Keys returns the tracked keys in no particular order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.objects)
}

// Snapshot returns copies of all entries sorted by key.
func (r *Registry) Snapshot() []TrackedObject {
	r.mu.RLock()
	out := make([]TrackedObject, 0, len(r.objects))
	for _, obj := range r.objects {
		out = append(out, *obj)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Reset removes every entry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects = make(map[Key]*TrackedObject)
}

// ExpireAfter returns the grace period for absent objects.
func (r *Registry) ExpireAfter() time.Duration {
	return r.expireAfter
}
