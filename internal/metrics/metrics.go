// Package metrics exposes the relay's Prometheus counters/gauges and a
// periodic human-readable summary log line scraped via the admin surface's
// /metrics route.
package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_clients_connected",
		Help: "Current number of authenticated, connected clients.",
	})
	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_rooms_active",
		Help: "Current number of non-empty rooms.",
	})
	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_calls_active",
		Help: "Current number of established voice calls.",
	})
	VoiceDatagramsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_voice_datagrams_total",
		Help: "Total voice datagrams successfully forwarded.",
	})
	VoiceBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_voice_bytes_total",
		Help: "Total audio bytes forwarded (header stripped).",
	})
	VoiceDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_voice_drops_total",
		Help: "Total voice datagrams dropped (malformed, no active call, or unknown sender).",
	})
	FileTransfersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_file_transfers_total",
		Help: "Total completed file relay transfers.",
	})

	// localVoiceBytes mirrors VoiceBytesTotal so Run can compute a
	// throughput delta without scraping Prometheus's own internals.
	localVoiceBytes uint64
)

// AddVoiceBytes records n forwarded audio bytes on both the Prometheus
// counter and the local mirror Run reads for its periodic throughput line.
func AddVoiceBytes(n int) {
	VoiceBytesTotal.Add(float64(n))
	atomic.AddUint64(&localVoiceBytes, uint64(n))
}

// Counters is the minimal read side the periodic logger needs; the caller
// fills it in from the Registry's and Controller's own snapshot methods.
type Counters struct {
	Clients int
	Rooms   int
	Calls   int
}

// Run logs a humanized summary line every interval until ctx is canceled,
// reading gauge values from sample rather than scraping Prometheus's own
// internal state.
func Run(ctx context.Context, interval time.Duration, sample func() Counters) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastVoiceBytes uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c := sample()
			ClientsConnected.Set(float64(c.Clients))
			RoomsActive.Set(float64(c.Rooms))
			CallsActive.Set(float64(c.Calls))

			voiceBytes := atomic.LoadUint64(&localVoiceBytes)
			deltaBytes := voiceBytes - lastVoiceBytes
			lastVoiceBytes = voiceBytes
			rate := uint64(float64(deltaBytes) / interval.Seconds())

			if c.Clients > 0 || deltaBytes > 0 {
				slog.Info("relay summary",
					"clients", c.Clients,
					"rooms", c.Rooms,
					"calls", c.Calls,
					"voice_throughput", humanize.Bytes(rate)+"/s",
				)
			}
		}
	}
}
