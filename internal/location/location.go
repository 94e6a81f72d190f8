// Package location tracks the monitored subject's last reported position.
package location

import (
	"fmt"
	"math"
	"sync"
)

// Info is a reported position with a shareable map link.
type Info struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	MapLink string  `json:"map_link"`
}

// MapLink returns a Google Maps link for the coordinates.
func MapLink(lat, lng float64) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%v,%v", lat, lng)
}

// Validate checks the coordinates are in range.
func Validate(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return fmt.Errorf("coordinates must be numbers")
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range", lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("longitude %v out of range", lng)
	}
	return nil
}

// Tracker holds the current location. The zero value has no location.
type Tracker struct {
	mu  sync.RWMutex
	cur *Info
}

// NewTracker returns a Tracker with no location.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Update sets the current location.
func (t *Tracker) Update(lat, lng float64) Info {
	info := Info{Lat: lat, Lng: lng, MapLink: MapLink(lat, lng)}

	t.mu.Lock()
	t.cur = &info
	t.mu.Unlock()

	return info
}

// Current returns the current location, if one was set.
func (t *Tracker) Current() (Info, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.cur == nil {
		return Info{}, false
	}
	return *t.cur, true
}

// Restore sets a previously stored location as current.
func (t *Tracker) Restore(info Info) {
	if info.MapLink == "" {
		info.MapLink = MapLink(info.Lat, info.Lng)
	}
	t.mu.Lock()
	t.cur = &info
	t.mu.Unlock()
}
