package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"microblog/internal/db"
	"microblog/internal/server"
)

// waitTimeout bounds how long startup blocks on each dependency.
const waitTimeout = 60 * time.Second

func main() {
	cfg := server.LoadAppConfig()

	// Database
	log.Printf("service=server msg=%q addr=%s", "waiting_on_database", cfg.DBAddr())
	if err := waitFor(cfg.DBAddr()); err != nil {
		log.Printf("service=server msg=%q err=%v", "database_unreachable", err)
		os.Exit(1)
	}
	dbConn, err := server.OpenDB(cfg.DatabaseURL())
	if err != nil {
		log.Printf("service=server msg=%q err=%v", "db_connect_failed", err)
		os.Exit(1)
	}
	defer func() { _ = dbConn.Close() }()
	log.Printf("service=server msg=%q addr=%s", "database_available", cfg.DBAddr())

	// Run migrations
	log.Printf("service=server msg=%q", "running_migrations")
	if err := db.RunMigrations(dbConn); err != nil {
		log.Printf("service=server msg=%q err=%v", "migration_failed", err)
		os.Exit(1)
	}
	log.Printf("service=server msg=%q", "migrations_complete")

	// Blob store
	log.Printf("service=server msg=%q addr=%s", "waiting_on_blobstore", cfg.BlobAddr())
	if err := waitFor(cfg.BlobAddr()); err != nil {
		log.Printf("service=server msg=%q err=%v", "blobstore_unreachable", err)
		os.Exit(1)
	}
	minioCtx, cancelMinio := context.WithTimeout(context.Background(), 10*time.Second)
	minioClient, err := server.NewMinioClient(minioCtx, cfg.BlobAddr(),
		cfg.BlobUser, cfg.BlobPassword, cfg.BlobBucket)
	cancelMinio()
	if err != nil {
		log.Printf("service=server msg=%q err=%v", "blobstore_connect_failed", err)
		os.Exit(1)
	}
	log.Printf("service=server msg=%q addr=%s bucket=%s", "blobstore_available", cfg.BlobAddr(), cfg.BlobBucket)

	// Cache
	log.Printf("service=server msg=%q addr=%s", "waiting_on_cache", cfg.CacheAddr())
	if err := waitFor(cfg.CacheAddr()); err != nil {
		log.Printf("service=server msg=%q err=%v", "cache_unreachable", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.CacheAddr()})
	defer func() { _ = redisClient.Close() }()
	log.Printf("service=server msg=%q addr=%s", "cache_available", cfg.CacheAddr())

	blobs := server.NewMinioStorage(minioClient, cfg.BlobBucket)

	srv := server.New(server.Config{
		Addr:           ":" + cfg.AppPort,
		SessionSecret:  cfg.SessionSecret,
		SessionTTL:     12 * time.Hour,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Accounts:       server.NewAccountStore(dbConn),
		Posts:          server.NewPostStore(dbConn),
		Sessions:       server.NewRedisBackend(redisClient),
		Blobs:          blobs,
		Bucket:         cfg.BlobBucket,
		Health: server.HealthCheckers{
			Database: dbConn.PingContext,
			BlobStore: func(ctx context.Context) (err error) {
				_, err = minioClient.BucketExists(ctx, cfg.BlobBucket)
				return err
			},
			Cache: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	})

	// Start the HTTP server in a background goroutine so we can
	// listen for OS signals while it runs.
	errCh := make(chan error, 1)
	go func() {
		log.Printf("service=server msg=%q port=%s", "listening", cfg.AppPort)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	// Block until either a shutdown signal is received or the server
	// encounters an error.
	select {
	case sig := <-sigCh:
		log.Printf("service=server msg=%q signal=%s", "shutting_down", sig.String())
		// Give the server 5 seconds to finish in-flight requests.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("service=server msg=%q err=%v", "shutdown_error", err)
			os.Exit(1)
		}
		log.Printf("service=server msg=%q", "shutdown_complete")
	case err := <-errCh:
		if err != nil {
			log.Printf("service=server msg=%q err=%v", "server_error", err)
			os.Exit(1)
		}
	}
}

func waitFor(addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	return server.WaitForTCP(ctx, addr)
}
