package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/mil-ad/mobdevctl/internal/control"
)

var (
	registerOnce sync.Once

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mobdevctl",
			Name:      "dispatch_total",
			Help:      "Dispatched commands by result.",
		},
		[]string{"command", "status"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mobdevctl",
			Name:      "dispatch_duration_seconds",
			Help:      "Command execution time in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)
)

func registerMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(dispatchTotal, dispatchDuration)
	})
}

func recordDispatch(cmd control.Command, status int32, d time.Duration) {
	registerMetrics()
	label := commandLabel(cmd)
	dispatchTotal.WithLabelValues(label, statusLabel(status)).Inc()
	dispatchDuration.WithLabelValues(label).Observe(d.Seconds())
}

// commandLabel keeps caller-chosen codes out of label values.
func commandLabel(cmd control.Command) string {
	if !cmd.Valid() {
		return "unknown"
	}
	return cmd.String()
}

func statusLabel(status int32) string {
	if status >= 0 {
		return "ok"
	}
	return unix.ErrnoName(unix.Errno(-status))
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	}
}

func (d *daemon) statusRouter() *gin.Engine {
	registerMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(d.log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(d.started).String(),
		})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, d.status(c.Request.Context()))
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// serveStatus runs the HTTP status surface until ctx is done.
func (d *daemon) serveStatus(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           d.statusRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	d.log.Info().Str("addr", addr).Msg("status endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
