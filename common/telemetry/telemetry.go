package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lyzr/mutwizard/common/logger"
)

// Telemetry serves pprof and Prometheus metrics on side ports
type Telemetry struct {
	log         *logger.Logger
	pprofAddr   string
	metricsAddr string
	gatherer    prometheus.Gatherer

	servers []*http.Server
}

// Opts contains options for creating telemetry endpoints
type Opts struct {
	PprofPort   int
	MetricsPort int
	// EnablePprof and EnableMetrics toggle the two listeners
	EnablePprof   bool
	EnableMetrics bool
	// Gatherer defaults to prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
}

// New creates telemetry components
func New(opts Opts, log *logger.Logger) *Telemetry {
	t := &Telemetry{
		log:      log,
		gatherer: opts.Gatherer,
	}
	if opts.EnablePprof {
		t.pprofAddr = fmt.Sprintf("localhost:%d", opts.PprofPort)
	}
	if opts.EnableMetrics {
		t.metricsAddr = fmt.Sprintf(":%d", opts.MetricsPort)
	}
	if t.gatherer == nil {
		t.gatherer = prometheus.DefaultGatherer
	}
	return t
}

// MetricsHandler serves the gathered metrics in the Prometheus text format
func (t *Telemetry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{})
}

// PprofHandler serves the runtime profiles
func PprofHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	return mux
}

// Start starts the enabled endpoints in the background
func (t *Telemetry) Start(ctx context.Context) error {
	if t.pprofAddr != "" {
		t.serve("pprof", t.pprofAddr, PprofHandler())
	}
	if t.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", t.MetricsHandler())
		t.serve("metrics", t.metricsAddr, mux)
	}
	return nil
}

func (t *Telemetry) serve(name, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	t.servers = append(t.servers, srv)

	go func() {
		t.log.Info(name+" server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error(name+" server error", "error", err)
		}
	}()
}

// Shutdown stops the endpoints
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, srv := range t.servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
