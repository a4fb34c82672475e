// Package server exposes an engine over HTTP: Prometheus metrics, device
// and engine introspection, and an on-demand kernel self-test.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fxnlabs/gpurt/internal/config"
	"github.com/fxnlabs/gpurt/internal/metrics"
	"github.com/fxnlabs/gpurt/internal/runtime"
	"github.com/fxnlabs/gpurt/internal/runtime/backends"
)

// Module wires the engine and the HTTP server. The graph must supply a
// *config.Config, a *zap.Logger and runtime.DeviceQueryOptions.
var Module = fx.Module("server",
	fx.Provide(NewEngine, New),
	fx.Invoke(func(*Server) {}),
)

// NewEngine creates the engine described by cfg and closes it when the
// application stops.
func NewEngine(lc fx.Lifecycle, cfg *config.Config, opts runtime.DeviceQueryOptions, log *zap.Logger) (runtime.Engine, error) {
	backends.Compiled(log)
	typ, err := cfg.EngineType()
	if err != nil {
		return nil, err
	}
	engineCfg, err := cfg.EngineConfiguration()
	if err != nil {
		return nil, err
	}
	engine, err := CreateEngine(typ, cfg.Runtime.Device, engineCfg, opts, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return engine.Close() },
	})
	return engine, nil
}

// CreateEngine creates an engine on the device with the given query key, or
// on the first device when device is empty.
func CreateEngine(typ runtime.EngineType, device string, cfg runtime.EngineConfiguration, opts runtime.DeviceQueryOptions, log *zap.Logger) (runtime.Engine, error) {
	if device == "" {
		return runtime.CreateDefaultEngine(typ, cfg, opts, log)
	}
	q, err := runtime.NewDeviceQuery(typ, cfg.Runtime, opts, log)
	if err != nil {
		return nil, err
	}
	dev, ok := q.AvailableDevices()[device]
	if !ok {
		return nil, fmt.Errorf("%w: device %q on %s runtime", runtime.ErrNoDevices, device, cfg.Runtime)
	}
	return runtime.CreateEngine(typ, dev, cfg, log)
}

type Server struct {
	engine runtime.Engine
	opts   runtime.DeviceQueryOptions
	log    *zap.Logger
	router *gin.Engine
	http   *http.Server
	addr   string
}

func New(lc fx.Lifecycle, cfg *config.Config, engine runtime.Engine, opts runtime.DeviceQueryOptions, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine: engine,
		opts:   opts,
		log:    log.Named("server"),
		router: gin.New(),
		addr:   cfg.Metrics.ListenAddress,
	}
	s.router.Use(gin.Recovery(), metrics.Middleware())
	s.routes()
	s.http = &http.Server{Handler: s.router}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", s.addr)
			if err != nil {
				return err
			}
			s.addr = ln.Addr().String()
			s.log.Info("Starting server", zap.String("address", s.addr))
			go func() {
				if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					s.log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdown, cancel := context.WithTimeout(ctx, cfg.Metrics.ShutdownTimeout)
			defer cancel()
			return s.http.Shutdown(shutdown)
		},
	})
	return s
}

// Addr is the listen address; after start it carries the bound port.
func (s *Server) Addr() string { return s.addr }

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	v1 := s.router.Group("/v1")
	v1.GET("/backends", s.handleBackends)
	v1.GET("/devices", s.handleDevices)
	v1.GET("/engine", s.handleEngine)
	v1.POST("/selftest", s.handleSelfTest)
}
