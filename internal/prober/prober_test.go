package prober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	verdicts map[string][]bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{verdicts: make(map[string][]bool)}
}

func (s *recordingSink) SetHealthy(sourceID string, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts[sourceID] = append(s.verdicts[sourceID], healthy)
}

func (s *recordingSink) last(sourceID string) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.verdicts[sourceID]
	if len(v) == 0 {
		return false, 0
	}
	return v[len(v)-1], len(v)
}

func TestProbeOnceHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := newRecordingSink()
	p := New(sink, Options{})

	healthy := p.ProbeOnce(context.Background(), Target{SourceID: "api", URL: srv.URL})
	assert.True(t, healthy)
	last, n := sink.last("api")
	assert.True(t, last)
	assert.Equal(t, 1, n)
}

func TestProbeOnceUnhealthyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink := newRecordingSink()
	p := New(sink, Options{})

	assert.False(t, p.ProbeOnce(context.Background(), Target{SourceID: "api", URL: srv.URL}))
	last, _ := sink.last("api")
	assert.False(t, last)
}

func TestProbeOnceConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.Close()

	sink := newRecordingSink()
	p := New(sink, Options{})

	assert.False(t, p.ProbeOnce(context.Background(), Target{SourceID: "api", URL: srv.URL}))
}

func TestProbeOnceTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	sink := newRecordingSink()
	p := New(sink, Options{})

	healthy := p.ProbeOnce(context.Background(), Target{
		SourceID: "api",
		URL:      srv.URL,
		Timeout:  50 * time.Millisecond,
	})
	assert.False(t, healthy)
}

func TestStartProbesPeriodically(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := newRecordingSink()
	p := New(sink, Options{Interval: 30 * time.Millisecond})
	p.Add(Target{SourceID: "api", URL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	require.Eventually(t, func() bool {
		_, n := sink.last("api")
		return n >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAddAfterStartBeginsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := newRecordingSink()
	p := New(sink, Options{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	p.Add(Target{SourceID: "late", URL: srv.URL})

	require.Eventually(t, func() bool {
		_, n := sink.last("late")
		return n >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRemoveStopsProbing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := newRecordingSink()
	p := New(sink, Options{Interval: 20 * time.Millisecond})
	p.Add(Target{SourceID: "api", URL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	require.Eventually(t, func() bool {
		_, n := sink.last("api")
		return n >= 1
	}, 2*time.Second, 10*time.Millisecond)

	p.Remove("api")
	_, before := sink.last("api")
	time.Sleep(100 * time.Millisecond)
	_, after := sink.last("api")
	// A probe already in flight at removal may still land.
	assert.LessOrEqual(t, after, before+1)
}
