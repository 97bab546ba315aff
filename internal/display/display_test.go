package display

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProbeLearnsCapacityAndInFlight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(slotStatus{Free: 1, Capacity: 4})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got := c.Capacity(); got != 4 {
		t.Errorf("Capacity() = %d, want 4", got)
	}
	if got := c.InFlight(); got != 3 {
		t.Errorf("InFlight() = %d, want 3", got)
	}
	if got := c.FreeSlots(); got != 1 {
		t.Errorf("FreeSlots() = %d, want 1", got)
	}
}

func TestTrySendReturnsBusyWhenNoFreeSlot(t *testing.T) {
	var posted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posted = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.mu.Lock()
	c.capacity = 1
	c.inFlight = 1
	c.capacitySet = true
	c.mu.Unlock()

	err := c.TrySend(context.Background(), []byte("x"), "image/png", false)
	if err != ErrBusy {
		t.Fatalf("TrySend err = %v, want ErrBusy", err)
	}
	if posted {
		t.Error("expected no HTTP request when Busy")
	}
}

func TestTrySendIncrementsInFlightOnAccept(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/image" {
			t.Errorf("path = %q, want /image", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.TrySend(context.Background(), []byte("x"), "image/png", false); err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	if got := c.InFlight(); got != 1 {
		t.Errorf("InFlight() = %d, want 1", got)
	}
}

func TestTrySendUsesPrioPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.TrySend(context.Background(), []byte("x"), "image/png", true)
	if gotPath != "/image-prio" {
		t.Errorf("path = %q, want /image-prio", gotPath)
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	var unreachableFired bool
	c.OnHealthChange(func() { unreachableFired = true }, nil)

	for i := 0; i < unhealthyThreshold; i++ {
		c.TrySend(context.Background(), []byte("x"), "image/png", false)
	}
	if !c.Unreachable() {
		t.Error("expected Unreachable after threshold consecutive failures")
	}
	if !unreachableFired {
		t.Error("expected onUnreachable callback to fire")
	}

	err := c.TrySend(context.Background(), []byte("x"), "image/png", false)
	if err != ErrUnreachable {
		t.Errorf("TrySend err = %v, want ErrUnreachable once open", err)
	}
}

func TestCircuitBreakerRecovers(t *testing.T) {
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(slotStatus{Free: 1, Capacity: 1})
	}))
	defer srv.Close()

	c := New(srv.URL)
	var recovered bool
	c.OnHealthChange(nil, func() { recovered = true })

	for i := 0; i < unhealthyThreshold; i++ {
		c.TrySend(context.Background(), []byte("x"), "image/png", false)
	}
	if !c.Unreachable() {
		t.Fatal("expected Unreachable before recovery")
	}

	fail = false
	// While Unreachable, TrySend refuses without a request; the first
	// successful probe is what clears the breaker.
	if err := c.Probe(context.Background()); err != nil {
		t.Fatalf("Probe after recovery: %v", err)
	}
	if c.Unreachable() {
		t.Error("expected Unreachable cleared after a successful probe")
	}
	if !recovered {
		t.Error("expected onRecovered callback to fire")
	}
}

func TestClearResetsInFlight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/clear" {
			t.Errorf("path = %q, want /clear", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.mu.Lock()
	c.inFlight = 3
	c.mu.Unlock()

	if err := c.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := c.InFlight(); got != 0 {
		t.Errorf("InFlight() after Clear = %d, want 0", got)
	}
}
