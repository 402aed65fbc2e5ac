package main

import (
	"codecollab-server/coalescer"
	"codecollab-server/config"
	"codecollab-server/core"
	"codecollab-server/handlers/api/files"
	"codecollab-server/handlers/api/rooms"
	"codecollab-server/handlers/websocket"
	"codecollab-server/metrics"
	"codecollab-server/session"
	"codecollab-server/stores"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 15 * time.Second

func setupRouter(cfg config.Config, engine *session.Engine, gateway *websocket.Gateway) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: !allowsAnyOrigin(cfg.AllowedOrigins),
		MaxAge:           300,
	}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))

		r.Route("/api/files", func(r chi.Router) {
			r.Post("/", files.HandleCreate(engine))
			r.Get("/{roomId}", files.HandleList(engine))
			r.Put("/{fileId}", files.HandleUpdate(engine))
			r.Put("/{fileId}/rename", files.HandleRename(engine))
			r.Delete("/{fileId}", files.HandleDelete(engine))
		})

		r.Get("/api/rooms", rooms.HandleList(engine))
		r.Get("/api/rooms/{roomId}/files", files.HandleList(engine))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())
	r.Handle("/socket.io/", gateway.Handler())

	return r
}

func allowsAnyOrigin(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

func waitForShutdown(srv *http.Server, gateway *websocket.Gateway, writes *coalescer.Coalescer, store core.FileStore) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	gateway.Close()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}

	// Edits still inside their quiescence window are written now.
	if err := writes.Close(ctx); err != nil {
		logrus.WithError(err).Error("Pending writes were not flushed")
	}

	if closer, ok := store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close storage")
		}
	}
}

func main() {
	logLevel := flag.String("loglevel", "info", "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", ":5003", "Set the server listen address")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)

	cfg := config.Load()

	store := stores.GetStore(context.Background(), cfg)
	writes := coalescer.New(store, cfg.SaveDebounce)
	gateway := websocket.NewGateway(cfg)
	engine := session.NewEngine(store, gateway, writes)
	gateway.Serve(engine)

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           setupRouter(cfg, engine, gateway),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logrus.WithFields(logrus.Fields{
		"addr":         *listenAddr,
		"saveDebounce": cfg.SaveDebounce,
	}).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(srv, gateway, writes, store)
}
