package app

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// readinessProbe reports whether the backing store can serve requests.
type readinessProbe func(ctx context.Context) error

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	ready readinessProbe,
	gatherer prometheus.Gatherer,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !cfg.dbEnabled() {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if ready != nil {
			if err := ready(r.Context()); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}
