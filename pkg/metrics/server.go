package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/willshop/storefront/pkg/logger"
)

const metricsReadHeaderTimeout = 5 * time.Second

// Listener serves /metrics for the background workers, which have no API
// router of their own.
type Listener struct {
	addr   string
	server *http.Server
	done   chan struct{}
}

// Listen binds addr and serves gatherer in the background. Binding happens
// before Listen returns so a taken port fails at boot.
func Listen(ctx context.Context, logg *logger.Logger, addr string, gatherer prometheus.Gatherer) (*Listener, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	l := &Listener{
		addr:   ln.Addr().String(),
		server: &http.Server{Handler: mux, ReadHeaderTimeout: metricsReadHeaderTimeout},
		done:   make(chan struct{}),
	}

	go func() {
		defer close(l.done)
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && logg != nil {
			logg.Error(ctx, "metrics.listener_stopped", err)
		}
	}()
	if logg != nil {
		logg.Info(logg.WithField(ctx, "metrics_addr", l.addr), "metrics.listening")
	}
	return l, nil
}

// Addr is the bound address, useful when addr ended in ":0".
func (l *Listener) Addr() string {
	return l.addr
}

func (l *Listener) Close(ctx context.Context) error {
	if l == nil {
		return nil
	}
	err := l.server.Shutdown(ctx)
	<-l.done
	return err
}
