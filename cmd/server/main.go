package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"transcription-service/internal/hub"
	"transcription-service/internal/mirror"
	"transcription-service/internal/repository/postgresql"
	redisrepo "transcription-service/internal/repository/redis"
	"transcription-service/internal/service"
	"transcription-service/internal/store"
	"transcription-service/internal/transcribe"
	httptransport "transcription-service/internal/transport/http"
	"transcription-service/internal/worker"
)

const (
	staleConnWindow = 5 * time.Minute
	reapInterval    = 1 * time.Minute
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := envOr("ADDR", ":9000")
	workers := envIntOr("WORKERS", 3)
	ffmpegPath := envOr("FFMPEG_PATH", "ffmpeg")
	whisperPath := envOr("WHISPER_PATH", "whisper.cpp")
	modelDir := envOr("WHISPER_MODEL_DIR", "models")

	jobStore := store.NewStore()
	queue := service.NewMemoryQueue()
	events := hub.NewHub(jobStore)

	backend, closeBackend, err := buildMirrorBackend(ctx)
	if err != nil {
		log.Fatalf("mirror backend: %v", err)
	}
	if closeBackend != nil {
		defer closeBackend()
	}
	syncer := mirror.NewSyncer(backend)

	pipeline := transcribe.NewPipeline(ffmpegPath, whisperPath, modelDir)
	pool := worker.NewPool(queue, jobStore, pipeline, events, syncer, workers)
	jobSvc := service.NewJobService(jobStore, queue, events, pool, syncer)

	handler := httptransport.NewHandler(jobSvc)
	wsHandler := httptransport.NewWSHandler(events)
	router := httptransport.Routes(handler, wsHandler)

	// Reaper: periodically drops subscriber connections without a
	// recent liveness signal.
	go func() {
		ticker := time.NewTicker(reapInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := events.ReapStale(staleConnWindow); n > 0 {
					log.Printf("[server] reaped %d idle subscriber connections", n)
				}
			}
		}
	}()

	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Printf("[server] listening addr=%s workers=%d", addr, workers)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[server] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] http shutdown: %v", err)
	}
	<-poolDone
	if err := syncer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] pending syncs abandoned: %v", err)
	}

	log.Println("[server] stopped")
}

// buildMirrorBackend selects the durable sync backend from env.
// An empty SYNC_BACKEND is valid: sync is silently skipped.
func buildMirrorBackend(ctx context.Context) (mirror.Backend, func(), error) {
	switch backend := envOr("SYNC_BACKEND", ""); backend {
	case "":
		log.Println("[server] durable sync disabled")
		return nil, nil, nil

	case "postgres":
		pool, err := postgresql.NewPool(ctx, mustEnv("POSTGRES_DSN"))
		if err != nil {
			return nil, nil, err
		}
		log.Println("[server] durable sync backend=postgres")
		return postgresql.NewStatusMirror(pool), pool.Close, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: mustEnv("REDIS_ADDR")})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		log.Println("[server] durable sync backend=redis")
		return redisrepo.NewStatusMirror(rdb, envOr("REDIS_KEY_PREFIX", "")), func() { _ = rdb.Close() }, nil

	default:
		return nil, nil, errors.New("unknown SYNC_BACKEND: " + backend)
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing env: %s", key)
	}
	return v
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
