// Package obs implements the Observability surface (component I, added
// by the expanded spec): a passive /healthz and /metrics HTTP endpoint
// alongside the periodic plain-log stats line the teacher's metrics.go
// printed for its room. The HTTP surface is grounded on echo (pulled in
// via the pack's REST API server) and prometheus/client_golang
// (promhttp), neither of which the chat/control-plane TCP protocol
// itself has any use for — this is their home in this repository.
package obs

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"matrixbridge/internal/controller"
)

// Metrics is the set of Prometheus collectors exposed on /metrics. They
// are updated from Controller.Stats() each time /healthz is served, not
// by the Controller itself.
type Metrics struct {
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	uploadsOK      prometheus.Counter
	uploadsFailed  prometheus.Counter
	rankingSize    prometheus.Gauge
	slotCapacity   prometheus.Gauge
	slotInFlight   prometheus.Gauge
	displayHealthy prometheus.Gauge
}

// NewMetrics registers the collectors against the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "matrixbridge_cache_hits_total",
			Help: "Image cache resolutions served without a CDN fetch.",
		}),
		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "matrixbridge_cache_misses_total",
			Help: "Image cache resolutions that failed.",
		}),
		uploadsOK: promauto.NewCounter(prometheus.CounterOpts{
			Name: "matrixbridge_uploads_total",
			Help: "Images accepted by the display.",
		}),
		uploadsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "matrixbridge_upload_failures_total",
			Help: "Image uploads rejected (busy or unreachable).",
		}),
		rankingSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "matrixbridge_ranking_buffer_size",
			Help: "Distinct keys currently backlogged in the ranking buffer.",
		}),
		slotCapacity: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "matrixbridge_display_slot_capacity",
			Help: "Last-probed display upload queue capacity.",
		}),
		slotInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "matrixbridge_display_slot_in_flight",
			Help: "Last-probed display upload queue occupancy.",
		}),
		displayHealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "matrixbridge_display_healthy",
			Help: "1 if the display client is not in the Unreachable state.",
		}),
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// sample snapshots ctl.Stats() into the collectors. Counters only move
// forward, so snapshot deltas are tracked against the last sample.
type sampler struct {
	m            *Metrics
	lastHits     int64
	lastMisses   int64
	lastOK       int64
	lastFailed   int64
}

func (s *sampler) sample(st controller.Stats) {
	if d := st.CacheHits - s.lastHits; d > 0 {
		s.m.cacheHits.Add(float64(d))
	}
	if d := st.CacheMisses - s.lastMisses; d > 0 {
		s.m.cacheMisses.Add(float64(d))
	}
	if d := st.UploadsOK - s.lastOK; d > 0 {
		s.m.uploadsOK.Add(float64(d))
	}
	if d := st.UploadsFailed - s.lastFailed; d > 0 {
		s.m.uploadsFailed.Add(float64(d))
	}
	s.lastHits, s.lastMisses, s.lastOK, s.lastFailed = st.CacheHits, st.CacheMisses, st.UploadsOK, st.UploadsFailed

	s.m.rankingSize.Set(float64(st.RankingSize))
	s.m.slotCapacity.Set(float64(st.SlotCapacity))
	s.m.slotInFlight.Set(float64(st.SlotInFlight))
	s.m.displayHealthy.Set(boolToFloat(st.DisplayHealthy))
}

// Server hosts /healthz and /metrics.
type Server struct {
	echo *echo.Echo
	ctl  *controller.Controller
	m    *Metrics
	s    *sampler
}

// NewServer builds the Observability HTTP surface.
func NewServer(ctl *controller.Controller, m *Metrics) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{echo: e, ctl: ctl, m: m, s: &sampler{m: m}}

	e.GET("/healthz", srv.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return srv
}

func (s *Server) handleHealthz(c echo.Context) error {
	st := s.ctl.Stats()
	s.s.sample(st)

	status := http.StatusOK
	statusText := "ok"
	if !st.DisplayHealthy && st.State != "Off" {
		status = http.StatusServiceUnavailable
		statusText = "degraded"
	}
	return c.JSON(status, map[string]any{
		"status":          statusText,
		"state":           st.State,
		"channels":        st.Channels,
		"ranking_size":    st.RankingSize,
		"slot_capacity":   st.SlotCapacity,
		"slot_in_flight":  st.SlotInFlight,
		"display_healthy": st.DisplayHealthy,
	})
}

// Run serves addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.echo.Shutdown(shutCtx)
	}()

	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// RunStatsLog prints a periodic plain-log stats line, in the teacher's
// metrics.go texture (bracket-tagged log.Printf, silent when idle).
func RunStatsLog(ctx context.Context, ctl *controller.Controller, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := ctl.Stats()
			if st.Channels > 0 || st.RankingSize > 0 {
				log.Printf("[obs] state=%s channels=%d ranking=%d slot=%d/%d hits=%d misses=%d uploads=%d/%d",
					st.State, st.Channels, st.RankingSize, st.SlotInFlight, st.SlotCapacity,
					st.CacheHits, st.CacheMisses, st.UploadsOK, st.UploadsFailed)
			}
		}
	}
}
