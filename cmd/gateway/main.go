// Command gateway runs the GT06-family ingestion gateway: a TCP listener for
// device connections, an HTTP observer endpoint, and an optional Prometheus
// metrics endpoint, wired together over a shared device registry, per-device
// queue, and broadcast hub, with environment-driven configuration and a
// signal-triggered graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/intelcon-group/gt06-gateway/internal/broadcast"
	"github.com/intelcon-group/gt06-gateway/internal/config"
	"github.com/intelcon-group/gt06-gateway/internal/metrics"
	"github.com/intelcon-group/gt06-gateway/internal/observer"
	"github.com/intelcon-group/gt06-gateway/internal/queue"
	"github.com/intelcon-group/gt06-gateway/internal/registry"
	"github.com/intelcon-group/gt06-gateway/internal/session"
	"github.com/intelcon-group/gt06-gateway/internal/state"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel, cfg.LogFormat)

	reg := registry.New()
	coll := metrics.New()
	hub := broadcast.New(reg, coll)
	qm := queue.New(hub, coll, cfg.QueueCap)
	enqueue := func(imei string, snapshot *state.DeviceState) {
		qm.Enqueue(imei, snapshot)
		coll.SetDeviceCount(reg.Count())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	tcpListener, err := startDeviceListener(ctx, &wg, cfg, reg, enqueue, coll, log)
	if err != nil {
		log.WithError(err).Fatal("failed to start device listener")
	}

	httpServer := startObserverServer(cfg, hub, enqueue, coll, log)

	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		prometheus.MustRegister(coll)
		metricsServer = startMetricsServer(cfg.MetricsPort, log)
	}

	log.WithFields(logrus.Fields{
		"tcp_port":  cfg.TCPPort,
		"http_port": cfg.HTTPPort,
	}).Info("gateway started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining")
	cancel()
	_ = tcpListener.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn("shutdown grace period elapsed with sessions still open")
	}
	log.Info("gateway stopped")
}

func newLogger(level, format string) *logrus.Logger {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func startDeviceListener(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, reg *registry.Registry, enqueue func(string, *state.DeviceState), coll *metrics.Collector, log *logrus.Logger) (net.Listener, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.TCPPort))
	if err != nil {
		return nil, err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					log.WithError(err).Warn("accept error")
					continue
				}
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				h := session.New(conn, cfg.HemisphereMode, reg, enqueue, coll, cfg.DeviceIdleTimeout, log.WithField("component", "session"))
				h.Run()
			}()
		}
	}()

	return listener, nil
}

func startObserverServer(cfg *config.Config, hub *broadcast.Hub, enqueue func(string, *state.DeviceState), coll *metrics.Collector, log *logrus.Logger) *http.Server {
	router := mux.NewRouter()
	obsHandler := observer.New(hub, observer.Enqueuer(enqueue), cfg.ObserverIdleTimeout, log.WithField("component", "observer"))
	router.Handle("/ws", obsHandler)

	if cfg.StaticDir != "" {
		router.PathPrefix("/").Handler(http.FileServer(http.Dir(cfg.StaticDir)))
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("observer server stopped unexpectedly")
		}
	}()
	return server
}

func startMetricsServer(port int, log *logrus.Logger) *http.Server {
	mx := http.NewServeMux()
	mx.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mx,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("metrics server stopped unexpectedly")
		}
	}()
	return server
}

