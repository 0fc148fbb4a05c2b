package buildsys

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/fedora-infra/distrobaker/internal/config"
)

func TestCacheMemoizesSuccessfulSession(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<?xml version="1.0"?><methodResponse><params><param><value><struct></struct></value></param></params></methodResponse>`))
	}))
	defer srv.Close()

	store := &config.Store{}
	store.Swap(&config.Configuration{Main: config.Main{Source: config.Endpoint{Profile: srv.URL}}})
	c := NewCache(store, nil)

	s1, err := c.Get(context.Background(), Source)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	s2, err := c.Get(context.Background(), Source)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if s1 != s2 {
		t.Errorf("expected the same memoized session on the second Get")
	}
}

func TestCacheDoesNotMemoizeFailedSession(t *testing.T) {
	store := &config.Store{}
	store.Swap(&config.Configuration{Main: config.Main{Destination: config.Endpoint{Profile: "https://destination.example.test"}}})
	c := NewCache(store, nil)
	_, err := c.Get(context.Background(), Destination)
	if err == nil {
		t.Fatalf("Get(Destination) with nil auth = nil error, want an error")
	}
	c.mu.Lock()
	_, cached := c.sessions[Destination]
	c.mu.Unlock()
	if cached {
		t.Errorf("a failed session establishment must not be cached")
	}
}
