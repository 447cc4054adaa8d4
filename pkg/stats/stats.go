package stats

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	BYTE = 1 << (10 * iota)
	KILOBYTE
	MEGABYTE
	GIGABYTE
	TERABYTE
)

const namespace = "taker"

// Collector groups the prometheus metrics of the taker.
type Collector struct {
	chainHeight  prometheus.Gauge
	walletHeight prometheus.Gauge
	syncProgress prometheus.Gauge
	balance      *prometheus.GaugeVec
	swaps        *prometheus.CounterVec
	goroutines   prometheus.Gauge
}

// NewCollector creates the metrics and registers them to the given
// registerer.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		chainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_height",
			Help:      "Height of the best known header.",
		}),
		walletHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallet_height",
			Help:      "Height of the last block applied to the wallet.",
		}),
		syncProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_progress_percent",
			Help:      "Chain synchronization progress.",
		}),
		balance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallet_balance_sats",
			Help:      "Wallet balance by confirmation status.",
		}, []string{"status"}),
		swaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swaps_total",
			Help:      "Swaps that reached a terminal state.",
		}, []string{"state"}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of running goroutines.",
		}),
	}

	for _, m := range []prometheus.Collector{
		c.chainHeight, c.walletHeight, c.syncProgress, c.balance, c.swaps,
		c.goroutines,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveSync records a sync progress sample.
func (c *Collector) ObserveSync(percent float64, walletHeight, chainHeight int32) {
	c.syncProgress.Set(percent)
	c.walletHeight.Set(float64(walletHeight))
	c.chainHeight.Set(float64(chainHeight))
}

// SetWalletHeight ...
func (c *Collector) SetWalletHeight(height int32) {
	c.walletHeight.Set(float64(height))
}

// SetBalance ...
func (c *Collector) SetBalance(confirmed, unconfirmed, locked uint64) {
	c.balance.WithLabelValues("confirmed").Set(float64(confirmed))
	c.balance.WithLabelValues("unconfirmed").Set(float64(unconfirmed))
	c.balance.WithLabelValues("locked").Set(float64(locked))
}

// SwapTerminated counts a swap ended in the given state.
func (c *Collector) SwapTerminated(state string) {
	c.swaps.WithLabelValues(state).Inc()
}

// EnableMemoryStatistics enables go routine that periodically logs memory
// usage of the go process and updates the goroutines gauge.
func (c *Collector) EnableMemoryStatistics(
	ctx context.Context, interval time.Duration, logger log.FieldLogger,
) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				PrintMemoryStatistics(logger)
				c.goroutines.Set(float64(runtime.NumGoroutine()))
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Serve exposes the metrics gathered by g on addr until ctx is canceled.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errChan; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// toGigabytes returns given memory in bytes to gigabytes.
func toGigabytes(bytes uint64) float64 {
	return float64(bytes) / GIGABYTE
}

// PrintMemoryStatistics logs memory statistics using go runtime library.
func PrintMemoryStatistics(logger log.FieldLogger) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	logger.Debugf(
		"Total allocated: %.3fGB, Heap allocated: %.3fGB, "+
			"Allocated objects count: %v, Freed objects count: %v, "+
			"Goroutines: %v",
		toGigabytes(memStats.TotalAlloc),
		toGigabytes(memStats.HeapAlloc),
		memStats.Mallocs,
		memStats.Frees,
		runtime.NumGoroutine(),
	)
}
