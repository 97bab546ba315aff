package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"matrixbridge/internal/analyzer"
	"matrixbridge/internal/cache"
	"matrixbridge/internal/cmdserver"
	"matrixbridge/internal/display"
	"matrixbridge/internal/imagekey"
	"matrixbridge/internal/ircclient"
)

func newTestController(t *testing.T, displayURL string) *Controller {
	t.Helper()
	c := cache.New(t.TempDir(), 1)
	dc := display.New(displayURL)
	irc := ircclient.New("127.0.0.1:1", false) // unused in these state-only tests
	return New(Config{AnalyzerConfig: analyzer.Config{}}, irc, dc, c)
}

func TestHandleCommandOnOffRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctl := newTestController(t, srv.URL)
	ctx := context.Background()

	if got := ctl.HandleCommand(ctx, "ON", ""); got != "OK Operation started" {
		t.Fatalf("ON response = %q", got)
	}
	// Give the connect loop a moment to attempt (and fail) a dial, which is
	// expected since the IRC target is unreachable in this test.
	time.Sleep(20 * time.Millisecond)

	if got := ctl.HandleCommand(ctx, "ON", ""); got != "ERR Already running" {
		t.Errorf("second ON response = %q, want ERR Already running", got)
	}

	if got := ctl.HandleCommand(ctx, "OFF", ""); got != "OK Operation stopped" {
		t.Errorf("OFF response = %q", got)
	}
	if ctl.State() != Off {
		t.Errorf("State() = %v, want Off", ctl.State())
	}
}

func TestHandlePauseResumeRequiresOn(t *testing.T) {
	ctl := newTestController(t, "http://127.0.0.1:1")
	ctx := context.Background()

	if got := ctl.HandleCommand(ctx, "PAUSE", ""); got != "ERR Not running" {
		t.Errorf("PAUSE while Off = %q", got)
	}

	ctl.mu.Lock()
	ctl.state = On
	ctl.mu.Unlock()

	if got := ctl.HandleCommand(ctx, "PAUSE", ""); got != "OK Paused" {
		t.Errorf("PAUSE = %q", got)
	}
	if got := ctl.HandleCommand(ctx, "RESUME", ""); got != "OK Resumed" {
		t.Errorf("RESUME = %q", got)
	}
	if got := ctl.HandleCommand(ctx, "RESUME", ""); got != "ERR Not paused" {
		t.Errorf("RESUME when already On = %q", got)
	}
}

func TestHandleJoinRequiresRunningState(t *testing.T) {
	ctl := newTestController(t, "http://127.0.0.1:1")
	ctx := context.Background()

	if got := ctl.HandleCommand(ctx, "JOIN", ":#a,#b"); got != "ERR Not running" {
		t.Errorf("JOIN while Off = %q", got)
	}

	ctl.mu.Lock()
	ctl.state = On
	ctl.mu.Unlock()

	if got := ctl.HandleCommand(ctx, "JOIN", ":#a,#b"); got != "OK Joining a,b" {
		t.Errorf("JOIN response = %q", got)
	}
	if got := len(ctl.Channels()); got != 2 {
		t.Errorf("len(Channels()) = %d, want 2", got)
	}
}

func TestHandleJoinIsIdempotent(t *testing.T) {
	ctl := newTestController(t, "http://127.0.0.1:1")
	ctl.mu.Lock()
	ctl.state = On
	ctl.mu.Unlock()

	ctl.HandleCommand(context.Background(), "JOIN", ":#x")
	ctl.HandleCommand(context.Background(), "JOIN", ":#x")

	if got := len(ctl.Channels()); got != 1 {
		t.Errorf("len(Channels()) after repeated JOIN = %d, want 1", got)
	}
}

func TestHandleJoinBadSyntax(t *testing.T) {
	ctl := newTestController(t, "http://127.0.0.1:1")
	ctl.mu.Lock()
	ctl.state = On
	ctl.mu.Unlock()

	if got := ctl.HandleCommand(context.Background(), "JOIN", ""); got != "ERR Bad syntax" {
		t.Errorf("JOIN with empty arg = %q, want ERR Bad syntax", got)
	}
}

func TestHandleClearWhileOff(t *testing.T) {
	ctl := newTestController(t, "http://127.0.0.1:1")
	k, err := imagekey.NewTwitchEmote("25", "", "", "")
	if err != nil {
		t.Fatalf("NewTwitchEmote: %v", err)
	}
	ctl.ranking.Bump(k)

	if got := ctl.HandleCommand(context.Background(), "CLEAR", ""); got != "OK Cleared" {
		t.Errorf("CLEAR while Off = %q", got)
	}
	if ctl.ranking.Size() != 0 {
		t.Error("expected ranking buffer cleared")
	}
}

func TestRequestContextSurvivesShutdownGraceWindow(t *testing.T) {
	ctl := newTestController(t, "http://127.0.0.1:1")
	ctx := context.Background()

	ctl.HandleCommand(ctx, "ON", "")
	reqCtx := ctl.requestContext()

	done := make(chan struct{})
	go func() {
		ctl.HandleCommand(context.Background(), "OFF", "")
		close(done)
	}()

	// Shortly after OFF begins, the loops are cancelled but the grace
	// window (2s) hasn't elapsed yet, so in-flight requests must not
	// have been aborted.
	time.Sleep(100 * time.Millisecond)
	if reqCtx.Err() != nil {
		t.Errorf("requestContext cancelled before grace window elapsed: %v", reqCtx.Err())
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for OFF to complete")
	}
	if reqCtx.Err() == nil {
		t.Error("expected requestContext cancelled after shutdown grace window")
	}
}

func TestRunCommandLoopDispatchesAndReplies(t *testing.T) {
	ctl := newTestController(t, "http://127.0.0.1:1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests := make(chan cmdserver.Request)
	go ctl.RunCommandLoop(ctx, requests)

	reply := make(chan string, 1)
	requests <- cmdserver.Request{Verb: "PAUSE", Reply: reply}

	select {
	case got := <-reply:
		if got != "ERR Not running" {
			t.Errorf("reply = %q, want ERR Not running", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RunCommandLoop reply")
	}
}
