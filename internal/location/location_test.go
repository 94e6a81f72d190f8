package location

import (
	"math"
	"sync"
	"testing"
)

func TestTracker(t *testing.T) {
	var tr Tracker

	if _, ok := tr.Current(); ok {
		t.Fatal("zero Tracker should have no location")
	}

	got := tr.Update(12.9716, 77.5946)
	want := "https://www.google.com/maps?q=12.9716,77.5946"
	if got.MapLink != want {
		t.Errorf("MapLink = %q, want %q", got.MapLink, want)
	}

	cur, ok := tr.Current()
	if !ok {
		t.Fatal("expected location after Update")
	}
	if cur != got {
		t.Errorf("Current() = %+v, want %+v", cur, got)
	}
}

func TestTracker_Concurrent(t *testing.T) {
	var tr Tracker
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			tr.Update(float64(i), float64(-i))
		}(i)
		go func() {
			defer wg.Done()
			tr.Current()
		}()
	}
	wg.Wait()

	if _, ok := tr.Current(); !ok {
		t.Error("expected a location")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		lat     float64
		lng     float64
		wantErr bool
	}{
		{name: "valid", lat: 51.5, lng: -0.12},
		{name: "poles", lat: -90, lng: 180},
		{name: "lat too high", lat: 91, lng: 0, wantErr: true},
		{name: "lng too low", lat: 0, lng: -181, wantErr: true},
		{name: "nan", lat: math.NaN(), lng: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.lat, tt.lng)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTracker_Restore(t *testing.T) {
	tr := NewTracker()
	tr.Restore(Info{Lat: 1.5, Lng: 2.5})

	cur, ok := tr.Current()
	if !ok {
		t.Fatal("expected location after Restore")
	}
	if cur.MapLink != "https://www.google.com/maps?q=1.5,2.5" {
		t.Errorf("Restore should fill a missing MapLink, got %q", cur.MapLink)
	}
}
