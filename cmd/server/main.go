package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"vireworkplace/attendance/internal/config"
	attendancegrpc "vireworkplace/attendance/internal/grpc"
	internalhttp "vireworkplace/attendance/internal/http"
	"vireworkplace/attendance/internal/jobs"
	"vireworkplace/attendance/internal/markers"
	"vireworkplace/attendance/internal/workflow"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, closeStorage, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("marker storage init failed: %v", err)
	}
	defer closeStorage()

	server := internalhttp.NewServer(cfg, storage, workflow.SystemClock{})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcOptions, err := attendancegrpc.ServerOptions(cfg.ServiceAuthToken)
	if err != nil {
		log.Fatalf("grpc service auth init failed: %v", err)
	}
	grpcServer := grpc.NewServer(grpcOptions...)
	health := attendancegrpc.NewHealth()
	health.Register(grpcServer)

	pollerDone := jobs.StartStatusPoller(ctx, cfg, health.Track(server.Sessions()))

	go func() {
		log.Printf("attendance http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	go func() {
		listener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen error: %v", err)
		}
		log.Printf("attendance grpc listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(listener); err != nil {
			log.Fatalf("grpc server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	health.Shutdown()
	grpcServer.GracefulStop()
	<-pollerDone
}

// openStorage selects the marker backend named by MARKER_STORE.
func openStorage(ctx context.Context, cfg config.Config) (markers.Storage, func(), error) {
	switch cfg.MarkerStore {
	case "", "memory":
		return markers.NewMemoryStorage(), func() {}, nil
	case "file":
		log.Printf("marker storage: file %s", cfg.MarkerFile)
		return markers.NewFileStorage(cfg.MarkerFile), func() {}, nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, nil, errors.New("REDIS_ADDR is required for redis marker storage")
		}
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		closeFn := func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
		return markers.NewRedisStorage(redisClient, "attendance", cfg.MarkerTTL), closeFn, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL is required for postgres marker storage")
		}
		pool, err := markers.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connection failed: %w", err)
		}
		storage := markers.NewPostgresStorage(pool)
		if err := storage.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("marker schema: %w", err)
		}
		return storage, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown MARKER_STORE %q", cfg.MarkerStore)
	}
}
