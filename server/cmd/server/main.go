package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"google.golang.org/grpc"

	"github.com/roomcast/roomcast/server/internal/api"
	"github.com/roomcast/roomcast/server/internal/auth"
	"github.com/roomcast/roomcast/server/internal/broadcast"
	"github.com/roomcast/roomcast/server/internal/config"
	"github.com/roomcast/roomcast/server/internal/health"
	"github.com/roomcast/roomcast/server/internal/limiter"
	"github.com/roomcast/roomcast/server/internal/metrics"
	"github.com/roomcast/roomcast/server/internal/protocol"
	"github.com/roomcast/roomcast/server/internal/registry"
	"github.com/roomcast/roomcast/server/internal/room"
	"github.com/roomcast/roomcast/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file; empty uses defaults")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before the config")
	staticDir := flag.String("static-dir", "", "serve a browser client from this directory at /; leave empty to disable")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.Log.SlogLevel())
	slog.SetDefault(newLogger(cfg.Server.Log.Format, level))

	slog.Info("roomcast-server starting",
		"config", *configPath,
		"http_port", cfg.Server.HTTPPort,
		"health_port", cfg.Server.HealthPort,
		"privilege", cfg.Server.Auth.Privilege,
		"idle_ttl", cfg.Server.Rooms.IdleTTL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	policy, err := auth.NewPolicy(cfg.Server.Auth.Privilege, cfg.Server.Auth.AdminKeys())
	if err != nil {
		slog.Error("failed to build privilege policy", "err", err)
		os.Exit(1)
	}

	// Rooms: created lazily, reaped after idle_ttl without members.
	dispatcher := broadcast.New(broadcast.WithMetrics(m))
	rooms := registry.New(cfg.Server.Rooms.IdleTTL, func(id string) *room.Room {
		return room.New(id, dispatcher)
	}, registry.WithMetrics(m))
	go rooms.Run(ctx)

	router := protocol.NewRouter(rooms, policy, protocol.WithMetrics(m))
	hub := ws.New(router, ws.Options{
		SendBuffer:      cfg.Server.WS.SendBuffer,
		MaxMessageBytes: cfg.Server.WS.MaxMessageBytes,
		InitTimeout:     cfg.Server.WS.InitTimeout,
		WriteTimeout:    cfg.Server.WS.WriteTimeout,
		AllowedOrigins:  cfg.Server.WS.AllowedOrigins,
	}, slog.Default(), m)

	admission := limiter.New(cfg.Server.RateLimit.ConnectionsPerMinute, cfg.Server.RateLimit.Burst)
	go admission.Run(ctx)

	hs := health.New()

	// Hot reload: log level and admin keys follow the file.
	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				level.Set(next.Server.Log.SlogLevel())
				policy.SetKeys(next.Server.Auth.AdminKeys())
				slog.Info("config applied", "log_level", next.Server.Log.Level)
			})
			if err != nil {
				slog.Error("config watch stopped", "err", err)
			}
		}()
	}

	opsKey := cfg.Server.Ops.Key()
	opsHeader := cfg.Server.Ops.EffectiveHeader()

	if cfg.Server.HealthPort != 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.HealthPort))
		if err != nil {
			slog.Error("failed to listen on health port",
				"port", cfg.Server.HealthPort, "err", err)
			os.Exit(1)
		}
		go func() {
			slog.Info("gRPC health listening", "port", cfg.Server.HealthPort)
			if err := hs.Serve(ctx, lis, grpc.UnaryInterceptor(auth.APIKeyInterceptor(opsHeader, opsKey))); err != nil {
				slog.Error("gRPC health server stopped", "err", err)
			}
		}()
	}

	opsCORS := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.Ops.CORSOrigins,
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{opsHeader},
	})

	httpMux := http.NewServeMux()
	httpMux.Handle("GET /ws/room/{id}", admission.Middleware(hub, func(r *http.Request) {
		m.Rejected()
		slog.Debug("connection rate limited", "remote", r.RemoteAddr)
	}))
	httpMux.Handle("/api/", opsCORS.Handler(auth.APIKeyMiddleware(opsHeader, opsKey, api.New(rooms, hub, promReg))))
	httpMux.Handle("GET /healthz", hs)
	httpMux.Handle("GET /metrics", metrics.Handler(promReg))

	// Optional: serve a static browser client, e.g. a page that opens
	// /ws/room/{id} and renders snapshots.
	if *staticDir != "" {
		httpMux.Handle("/", http.FileServer(http.Dir(*staticDir)))
		slog.Info("serving static files", "dir", *staticDir)
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("roomcast-server shutting down")
	hs.SetServing(false)

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck

	// Hijacked WebSocket connections are not covered by httpSrv.Shutdown.
	if err := hub.Shutdown(shutdownCtx); err != nil {
		slog.Warn("connections still open at exit", "err", err)
	}
}

func newLogger(format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
