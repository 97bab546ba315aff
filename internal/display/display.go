// Package display implements the HTTP client for the LED matrix's ingest
// endpoints and the Slot Mirror that tracks its small, fixed-size upload
// queue. Health/circuit-breaker logic is grounded on the teacher's
// sendHealth type in client.go (consecutive-failure counter with a probe
// cadence while "open"), generalized from "datagram send" to "HTTP
// upload/probe".
package display

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// ErrBusy is returned by TrySend when the Slot Mirror shows no free slot.
var ErrBusy = errors.New("display: busy")

// ErrUnreachable wraps a transport failure or signals the client is in
// the Unreachable health state.
var ErrUnreachable = errors.New("display: unreachable")

const (
	// UploadTimeout bounds POST /image[-prio], per spec §5.
	UploadTimeout = 10 * time.Second
	// ProbeInterval is the fixed cadence at which RunProbeLoop polls the
	// status endpoint.
	ProbeInterval = 200 * time.Millisecond
	// unhealthyThreshold is the number of consecutive failures (uploads or
	// probes) before the client reports Unreachable.
	unhealthyThreshold = 3
)

// slotStatus is the implementation-defined JSON body of the status
// endpoint.
type slotStatus struct {
	Free     int `json:"free"`
	Capacity int `json:"capacity"`
}

// Client is the Display Client (component B).
type Client struct {
	baseURL string
	http    *http.Client

	mu          sync.Mutex
	capacity    uint32
	inFlight    uint32
	capacitySet bool

	consecFailures atomic.Uint32
	unreachable    atomic.Bool

	onUnreachable func()
	onRecovered   func()
}

// New constructs a Client pointed at baseURL (e.g. "http://led-matrix.local").
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: UploadTimeout},
	}
}

// OnHealthChange registers callbacks fired when the client transitions to
// Unreachable / recovers. Both may be nil.
func (c *Client) OnHealthChange(onUnreachable, onRecovered func()) {
	c.onUnreachable = onUnreachable
	c.onRecovered = onRecovered
}

// Unreachable reports the current health state.
func (c *Client) Unreachable() bool { return c.unreachable.Load() }

// Capacity and InFlight expose the Slot Mirror for observability.
func (c *Client) Capacity() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

func (c *Client) InFlight() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// FreeSlots returns capacity-in_flight, floored at 0.
func (c *Client) FreeSlots() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight >= c.capacity {
		return 0
	}
	return c.capacity - c.inFlight
}

func (c *Client) recordFailure() {
	n := c.consecFailures.Add(1)
	if n >= unhealthyThreshold && c.unreachable.CompareAndSwap(false, true) {
		slog.Warn("display unreachable", "consecutive_failures", n)
		if c.onUnreachable != nil {
			c.onUnreachable()
		}
	}
}

func (c *Client) recordSuccess() {
	wasUnreachable := c.unreachable.Swap(false)
	c.consecFailures.Store(0)
	if wasUnreachable {
		slog.Info("display recovered")
		if c.onRecovered != nil {
			c.onRecovered()
		}
	}
}

// TrySend uploads bytes to /image (prio=false) or /image-prio (prio=true).
// It never retries. Accepted is signalled by a nil error; ErrBusy means
// the local Slot Mirror showed no free slot (no request was sent);
// ErrUnreachable wraps a transport/status failure.
func (c *Client) TrySend(ctx context.Context, body []byte, contentType string, prio bool) error {
	if c.unreachable.Load() {
		return ErrUnreachable
	}

	c.mu.Lock()
	if c.capacitySet && c.inFlight >= c.capacity {
		c.mu.Unlock()
		return ErrBusy
	}
	c.mu.Unlock()

	path := "/image"
	if prio {
		path = "/image-prio"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		c.recordFailure()
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	c.recordSuccess()
	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()
	slog.Debug("display upload accepted", "bytes", humanize.Bytes(uint64(len(body))), "prio", prio)
	return nil
}

// Clear issues GET /clear, emptying the remote queue and blanking the
// display. On success it resets Slot Mirror in_flight to 0.
func (c *Client) Clear(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/clear", nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUnreachable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		c.recordFailure()
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	c.recordSuccess()
	c.mu.Lock()
	c.inFlight = 0
	c.mu.Unlock()
	return nil
}

// Probe polls the status endpoint, updating the Slot Mirror's capacity
// (learned on first successful response) and in_flight (derived from the
// reported free count).
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/free-slots", nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUnreachable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.recordFailure()
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	var st slotStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		c.recordFailure()
		return fmt.Errorf("%w: decode status: %v", ErrUnreachable, err)
	}

	c.recordSuccess()
	c.mu.Lock()
	c.capacity = uint32(st.Capacity)
	c.capacitySet = true
	inFlight := int(c.capacity) - st.Free
	if inFlight < 0 {
		inFlight = 0
	}
	c.inFlight = uint32(inFlight)
	c.mu.Unlock()
	return nil
}

// RunProbeLoop polls Probe on ProbeInterval until ctx is canceled. The
// Controller starts it on ON and cancels it at the end of OFF's grace
// window. It probes on every tick, whether or not any image is in flight;
// polling is not limited to periods with uploads outstanding.
func (c *Client) RunProbeLoop(ctx context.Context) {
	ticker := time.NewTicker(ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Probe(ctx); err != nil {
				slog.Warn("display probe failed", "err", err)
			}
		}
	}
}
