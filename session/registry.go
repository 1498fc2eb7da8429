// Package session owns the live editing sessions: the table of bound
// push-channels and the per-image controller that coalesces edits.
package session

import "sync"

// Channel is one client push-channel.  Implementations serialize their own
// writes; Send may be called from any goroutine.
type Channel interface {
	Send(v any) error
}

// Registry maps an image id to the single push-channel currently bound to it.
type Registry struct {
	mu      sync.RWMutex
	byImage map[string]Channel
	byChan  map[Channel]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byImage: make(map[string]Channel),
		byChan:  make(map[Channel]string),
	}
}

// Bind makes ch the channel for imageID.  A channel already bound to imageID
// is replaced, and ch loses any binding it held for another image.
func (r *Registry) Bind(imageID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byChan[ch]; ok && prev != imageID {
		if r.byImage[prev] == ch {
			delete(r.byImage, prev)
		}
	}
	if old, ok := r.byImage[imageID]; ok && old != ch {
		delete(r.byChan, old)
	}
	r.byImage[imageID] = ch
	r.byChan[ch] = imageID
}

// Send delivers msg to the channel bound to imageID.  It reports false when
// nothing is bound or the write fails.
func (r *Registry) Send(imageID string, msg any) bool {
	r.mu.RLock()
	ch, ok := r.byImage[imageID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return ch.Send(msg) == nil
}

// Unbind removes ch.  wasCurrent is true only when ch was still the channel
// bound to imageID; a replaced channel never removes its successor.
func (r *Registry) Unbind(ch Channel) (imageID string, wasCurrent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	imageID, ok := r.byChan[ch]
	if !ok {
		return "", false
	}
	delete(r.byChan, ch)
	if r.byImage[imageID] == ch {
		delete(r.byImage, imageID)
		return imageID, true
	}
	return imageID, false
}

// Bound reports whether a channel is bound to imageID.
func (r *Registry) Bound(imageID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byImage[imageID]
	return ok
}

// Count returns the number of bound channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byImage)
}
