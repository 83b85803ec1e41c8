package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func StartUpstream(t *testing.T, handler http.Handler) (string, func()) {
	t.Helper()
	if handler == nil {
		handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}

	server := httptest.NewServer(handler)
	return server.URL, server.Close
}

// Geocoder is a stub Nominatim /reverse endpoint answering from a table
// indexed by the raw "lat,lon" query values.
type Geocoder struct {
	URL      string
	Names    map[string]string
	status   atomic.Int32
	requests atomic.Int32
	lastUA   atomic.Value
}

func StartGeocoder(t *testing.T, names map[string]string) *Geocoder {
	t.Helper()
	geocoder := &Geocoder{Names: names}
	geocoder.status.Store(http.StatusOK)
	url, closeFn := StartUpstream(t, http.HandlerFunc(geocoder.serve))
	t.Cleanup(closeFn)
	geocoder.URL = url + "/reverse"
	return geocoder
}

func (g *Geocoder) serve(w http.ResponseWriter, r *http.Request) {
	g.requests.Add(1)
	g.lastUA.Store(r.Header.Get("User-Agent"))
	if status := int(g.status.Load()); status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	query := r.URL.Query()
	w.Header().Set("Content-Type", "application/json")
	name, ok := g.Names[query.Get("lat")+","+query.Get("lon")]
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unable to geocode"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"display_name": name})
}

// FailWith makes every following request answer with status.
func (g *Geocoder) FailWith(status int) {
	g.status.Store(int32(status))
}

func (g *Geocoder) Requests() int {
	return int(g.requests.Load())
}

func (g *Geocoder) LastUserAgent() string {
	value, _ := g.lastUA.Load().(string)
	return value
}
