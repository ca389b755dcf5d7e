package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lessonhub/collab/internal/api"
	"lessonhub/collab/internal/metrics"
	mongorepo "lessonhub/collab/internal/repositories/mongo"
	"lessonhub/collab/internal/routers"
	"lessonhub/collab/internal/services"
	"lessonhub/collab/internal/session"
)

var (
	listenAndServe = serveUntilSignal
	exitFunc       = func(err error) { log.Fatal(err) }
)

// serveUntilSignal runs the server until SIGINT/SIGTERM, then drains
// in-flight requests. No Read/WriteTimeout on the server itself: the
// websocket connections it hosts are long-lived.
func serveUntilSignal(addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:        addr,
		Handler:     handler,
		IdleTimeout: 60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdownChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-shutdownChan:
		log.Printf("collab-svc shutting down on %s", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func serverAddr() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	return ":" + port
}

func run(ctx context.Context) error {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	mongoClient, err := mongorepo.NewClient(ctx)
	if err != nil {
		return err
	}
	lessons, err := mongorepo.NewLessonRepo(mongoClient)
	if err != nil {
		return err
	}
	sessions, err := mongorepo.NewSessionRepo(mongoClient)
	if err != nil {
		return err
	}
	users, err := mongorepo.NewUserRepo(mongoClient)
	if err != nil {
		return err
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "redis:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})

	auth := services.NewAuthService(logger, rdb, sessions, users)
	registry := session.NewRegistry(logger)
	handlers := api.NewHandlers(logger, registry, auth, lessons)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Mount("/", routers.New(logger, handlers))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ready")) })
	r.Handle("/metrics", metrics.Handler())

	addr := serverAddr()
	log.Printf("collab-svc listening on %s", addr)
	return listenAndServe(addr, r)
}

func main() {
	if err := run(context.Background()); err != nil {
		exitFunc(err)
	}
}
