// Package controller implements the top-level state machine (component
// G) wiring the Image Cache, Display Client, Ranking Buffer, Message
// Analyzer, IRC Client, and Command Server together. It is the only
// component that mutates OperationState, ChannelSet, the Ranking Buffer,
// and the Slot Mirror — grounded on the teacher's Room type, which owns
// every piece of shared mutable state behind one mutex with setter
// methods, and invokes persistence callbacks outside the lock (see
// Room.Rename in the deleted room.go).
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"matrixbridge/internal/analyzer"
	"matrixbridge/internal/cache"
	"matrixbridge/internal/cmdserver"
	"matrixbridge/internal/display"
	"matrixbridge/internal/imagekey"
	"matrixbridge/internal/ircclient"
	"matrixbridge/internal/ranking"
)

// readImage loads a resolved cache entry's bytes off disk for upload.
func readImage(r cache.Resolved) ([]byte, string, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, "", fmt.Errorf("controller: read cache file: %w", err)
	}
	return data, r.ContentType, nil
}

// OperationState is the Controller's top-level state, per spec §3.
type OperationState int

const (
	Off OperationState = iota
	Starting
	On
	Paused
	Stopping
)

func (s OperationState) String() string {
	switch s {
	case Off:
		return "Off"
	case Starting:
		return "Starting"
	case On:
		return "On"
	case Paused:
		return "Paused"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

const (
	backoffInitial = 1 * time.Second
	backoffCap     = 30 * time.Second
	backoffJitter  = 0.10
	shutdownGrace  = 2 * time.Second
)

// Config bundles the Controller's static configuration, sourced from CLI
// flags (spec §6's external CLI surface).
type Config struct {
	StartupChannels []string
	AnalyzerConfig  analyzer.Config
}

// Controller is component G.
type Controller struct {
	cfg Config

	irc     *ircclient.Client
	dc      *display.Client
	cache   *cache.Cache
	ranking *ranking.Buffer

	mu       sync.Mutex
	state    OperationState
	channels []string // ChannelSet: ordered, normalized, deduped

	cancelRun context.CancelFunc // stops the connect/drain loops
	reqCtx    context.Context    // context for in-flight resolve/send calls and the probe loop
	cancelReq context.CancelFunc
	drainWake chan struct{}

	// stats, read by the observability surface (component I).
	cacheHits, cacheMisses   int64
	uploadsOK, uploadsFailed int64
}

// New wires the Controller to its collaborators.
func New(cfg Config, irc *ircclient.Client, dc *display.Client, c *cache.Cache) *Controller {
	ctl := &Controller{
		cfg:       cfg,
		irc:       irc,
		dc:        dc,
		cache:     c,
		ranking:   ranking.New(),
		state:     Off,
		channels:  normalizeChannels(cfg.StartupChannels),
		drainWake: make(chan struct{}, 1),
	}
	dc.OnHealthChange(ctl.onDisplayUnreachable, ctl.onDisplayRecovered)
	return ctl
}

// State returns the current OperationState.
func (c *Controller) State() OperationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Channels returns a copy of the current ChannelSet.
func (c *Controller) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.channels))
	copy(out, c.channels)
	return out
}

// Stats is a point-in-time snapshot for the observability surface.
type Stats struct {
	State          string
	Channels       int
	RankingSize    int
	SlotCapacity   uint32
	SlotInFlight   uint32
	CacheHits      int64
	CacheMisses    int64
	UploadsOK      int64
	UploadsFailed  int64
	DisplayHealthy bool
}

func (c *Controller) Stats() Stats {
	c.mu.Lock()
	st := c.state
	nch := len(c.channels)
	hits, misses := c.cacheHits, c.cacheMisses
	ok, failed := c.uploadsOK, c.uploadsFailed
	c.mu.Unlock()
	return Stats{
		State:          st.String(),
		Channels:       nch,
		RankingSize:    c.ranking.Size(),
		SlotCapacity:   c.dc.Capacity(),
		SlotInFlight:   c.dc.InFlight(),
		CacheHits:      hits,
		CacheMisses:    misses,
		UploadsOK:      ok,
		UploadsFailed:  failed,
		DisplayHealthy: !c.dc.Unreachable(),
	}
}

// RunCommandLoop consumes Requests from a cmdserver.Server until ctx is
// canceled, dispatching each to HandleCommand and replying exactly once.
// This is the single consumer side of the Command Server's
// one-producer/one-consumer channel (spec §4.F).
func (c *Controller) RunCommandLoop(ctx context.Context, requests <-chan cmdserver.Request) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-requests:
			req.Reply <- c.HandleCommand(ctx, req.Verb, req.Arg)
		}
	}
}

// HandleCommand executes one command synchronously and returns the
// single response line, per the grammar in spec §6.
func (c *Controller) HandleCommand(ctx context.Context, verb, arg string) string {
	switch verb {
	case "ON":
		return c.handleOn(ctx)
	case "OFF":
		c.handleOff()
		return "OK Operation stopped"
	case "CLEAR":
		return c.handleClear(ctx)
	case "PAUSE":
		return c.handlePause()
	case "RESUME":
		return c.handleResume()
	case "JOIN":
		return c.handleJoin(arg)
	default:
		return "ERR Unknown command"
	}
}

func (c *Controller) handleOn(ctx context.Context) string {
	c.mu.Lock()
	if c.state != Off {
		c.mu.Unlock()
		return "ERR Already running"
	}
	c.state = Starting
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel
	// reqCtx is independent of runCtx: it governs in-flight
	// resolve/send/probe calls and is only cancelled after handleOff's
	// grace window, so cancelling the loops doesn't abort work already
	// underway.
	reqCtx, cancelReq := context.WithCancel(context.Background())
	c.reqCtx = reqCtx
	c.cancelReq = cancelReq
	c.mu.Unlock()

	go c.runConnectLoop(runCtx)
	go c.runDrainLoop(runCtx)
	go c.dc.RunProbeLoop(reqCtx)

	return "OK Operation started"
}

// requestContext returns the context to use for in-flight cache
// resolves and display sends, kept alive through handleOff's grace
// window independent of the connect/drain loop cancellation.
func (c *Controller) requestContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reqCtx != nil {
		return c.reqCtx
	}
	return context.Background()
}

// runConnectLoop connects the IRC Client, joining the startup ChannelSet
// on Ready, retrying with bounded exponential backoff + jitter on
// failure, per spec §4.G.
func (c *Controller) runConnectLoop(ctx context.Context) {
	backoff := backoffInitial
	for {
		if ctx.Err() != nil {
			return
		}

		go c.consumeIRCEvents(ctx)

		err := c.irc.Connect(ctx, c.Channels())
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("irc connect failed, retrying", "err", err, "backoff", backoff)
			jittered := applyJitter(backoff)
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = backoffInitial
	}
}

func applyJitter(d time.Duration) time.Duration {
	jitter := time.Duration(float64(d) * backoffJitter * (rand.Float64()*2 - 1))
	return d + jitter
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

func (c *Controller) consumeIRCEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.irc.Events:
			if !ok {
				return
			}
			c.handleIRCEvent(ev)
		}
	}
}

func (c *Controller) handleIRCEvent(ev ircclient.Event) {
	switch ev.Kind {
	case ircclient.EventReady:
		c.mu.Lock()
		if c.state == Starting {
			c.state = On
		}
		c.mu.Unlock()
		slog.Info("irc ready, joined startup channels")
	case ircclient.EventJoinConfirmed:
		slog.Info("joined channel", "channel", ev.Channel)
	case ircclient.EventJoinFailed:
		slog.Warn("join failed", "channel", ev.Channel)
	case ircclient.EventDisconnected:
		slog.Warn("irc disconnected", "reason", ev.Reason)
	case ircclient.EventMessageReceived:
		c.handleChatMessage(ev.Message)
	}
}

func (c *Controller) handleChatMessage(m ircclient.Message) {
	pm := analyzer.PrivMsg{
		Channel:     m.Channel,
		SenderLower: m.SenderLower,
		EmotesTag:   m.Tags["emotes"],
		Text:        m.Text,
	}
	keys := analyzer.Analyze(pm, c.cfg.AnalyzerConfig)
	for _, key := range keys {
		c.routeToken(key)
	}
}

// routeToken is the fast path (spec §4.G): with a free slot, resolve and
// send synchronously; otherwise fall through to the Ranking Buffer.
func (c *Controller) routeToken(key imagekey.Key) {
	c.mu.Lock()
	isOn := c.state == On
	c.mu.Unlock()
	if !isOn || c.dc.Unreachable() || c.dc.FreeSlots() == 0 {
		c.ranking.Bump(key)
		c.wakeDrain()
		return
	}

	resolved, err := c.cache.Resolve(c.requestContext(), key)
	if err != nil {
		c.mu.Lock()
		c.cacheMisses++
		c.mu.Unlock()
		return // CacheMiss: discarded, per spec §4.G
	}
	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()

	data, ct, err := readImage(resolved)
	if err != nil {
		slog.Warn("cache file unreadable after resolve", "err", err)
		return
	}
	if err := c.dc.TrySend(c.requestContext(), data, ct, false); err != nil {
		c.ranking.Bump(key) // Busy/Unreachable: fall through to bump()
		c.wakeDrain()
		return
	}
	c.mu.Lock()
	c.uploadsOK++
	c.mu.Unlock()
}

func (c *Controller) wakeDrain() {
	select {
	case c.drainWake <- struct{}{}:
	default:
	}
}

// runDrainLoop implements the drain loop (spec §4.G): whenever the Slot
// Mirror shows a free slot and the Ranking Buffer is non-empty, take the
// highest-priority key, resolve it, and send it.
func (c *Controller) runDrainLoop(ctx context.Context) {
	ticker := time.NewTicker(display.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.drainWake:
		}
		c.drainOnce()
	}
}

func (c *Controller) drainOnce() {
	for {
		c.mu.Lock()
		isOn := c.state == On
		c.mu.Unlock()
		if !isOn || c.dc.Unreachable() {
			return
		}
		if c.dc.FreeSlots() == 0 {
			return
		}
		if c.ranking.Size() == 0 {
			return
		}

		key, count, firstSeen, ok := c.ranking.TakeWithMeta()
		if !ok {
			return
		}

		resolved, err := c.cache.Resolve(c.requestContext(), key)
		if err != nil {
			c.mu.Lock()
			c.cacheMisses++
			c.mu.Unlock()
			continue // CacheMiss: log+discard, already logged by cache package
		}
		c.mu.Lock()
		c.cacheHits++
		c.mu.Unlock()

		data, ct, err := readImage(resolved)
		if err != nil {
			slog.Warn("cache file unreadable after resolve", "err", err)
			continue
		}

		if err := c.dc.TrySend(c.requestContext(), data, ct, false); err != nil {
			// Busy/Unreachable race: priority-inversion guard — reinsert
			// with the original count and first_seen, per spec §9.
			c.ranking.Reinsert(key, count, firstSeen)
			c.mu.Lock()
			c.uploadsFailed++
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		c.uploadsOK++
		c.mu.Unlock()
	}
}

func (c *Controller) onDisplayUnreachable() {
	slog.Warn("display unreachable — drain loop paused until recovery")
}

func (c *Controller) onDisplayRecovered() {
	c.wakeDrain()
}

func (c *Controller) handleOff() {
	c.mu.Lock()
	if c.state == Off {
		c.mu.Unlock()
		return // idempotent: OFF in Off is a no-op, not an error
	}
	c.state = Stopping
	cancelLoop := c.cancelRun
	cancelReq := c.cancelReq
	c.mu.Unlock()

	// Stop the connect/drain loops from starting further work
	// immediately, but leave reqCtx alive so anything already in flight
	// (an upload, a cache fetch) gets the full grace window before it's
	// aborted; the probe loop runs on reqCtx and stops with it.
	if cancelLoop != nil {
		cancelLoop()
	}
	time.Sleep(shutdownGrace) // grace window for in-flight uploads, per spec §5
	if cancelReq != nil {
		cancelReq()
	}

	c.irc.LeaveAll()
	c.ranking.Clear() // drop ranking buffer on OFF, per spec §4.G's stated policy choice

	c.mu.Lock()
	c.state = Off
	c.cancelRun = nil
	c.reqCtx = nil
	c.cancelReq = nil
	c.mu.Unlock()
}

func (c *Controller) handleClear(ctx context.Context) string {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st == Off {
		c.ranking.Clear()
		return "OK Cleared"
	}
	c.ranking.Clear()
	if err := c.dc.Clear(ctx); err != nil {
		return fmt.Sprintf("ERR %v", err)
	}
	return "OK Cleared"
}

func (c *Controller) handlePause() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != On {
		return "ERR Not running"
	}
	c.state = Paused
	return "OK Paused"
}

func (c *Controller) handleResume() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Paused {
		return "ERR Not paused"
	}
	c.state = On
	return "OK Resumed"
}

func (c *Controller) handleJoin(arg string) string {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st != On && st != Paused {
		return "ERR Not running"
	}

	arg = strings.TrimPrefix(strings.TrimSpace(arg), ":")
	if arg == "" {
		return "ERR Bad syntax"
	}
	parts := strings.Split(arg, ",")
	var joined []string
	c.mu.Lock()
	for _, p := range parts {
		ch := normalizeChannel(p)
		if ch == "#" {
			c.mu.Unlock()
			return "ERR Bad syntax"
		}
		if !containsStr(c.channels, ch) {
			c.channels = append(c.channels, ch)
		}
		joined = append(joined, strings.TrimPrefix(ch, "#"))
	}
	c.mu.Unlock()

	c.irc.Join(parts)
	return "OK Joining " + strings.Join(joined, ",")
}

func normalizeChannel(ch string) string {
	ch = strings.ToLower(strings.TrimSpace(ch))
	if !strings.HasPrefix(ch, "#") {
		ch = "#" + ch
	}
	return ch
}

func normalizeChannels(chs []string) []string {
	seen := make(map[string]struct{}, len(chs))
	var out []string
	for _, ch := range chs {
		n := normalizeChannel(ch)
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func containsStr(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
