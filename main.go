package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sandboxcdn/pkgcdn/internal/api"
	"github.com/sandboxcdn/pkgcdn/internal/cache"
	"github.com/sandboxcdn/pkgcdn/internal/config"
	"github.com/sandboxcdn/pkgcdn/internal/metrics"
	"github.com/sandboxcdn/pkgcdn/internal/moduleproc"
	"github.com/sandboxcdn/pkgcdn/internal/registryclient"
	"github.com/sandboxcdn/pkgcdn/internal/replication"
	"github.com/sandboxcdn/pkgcdn/internal/resolver"
	"github.com/sandboxcdn/pkgcdn/internal/store"
	"github.com/sandboxcdn/pkgcdn/internal/tarball"
	"github.com/sandboxcdn/pkgcdn/internal/transform"
)

// IE: use log for logging instead of fmt for extra features (i.e. timestamp)
var logger = log.New(os.Stdout, "MAIN: ", log.Ldate|log.Ltime|log.Lshortfile)

func main() {
	cfg := config.Load()

	kv, err := store.Open(cfg.StorePath)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer kv.Close()

	m := metrics.New()

	registry := registryclient.New(cfg.RegistryBaseURL)
	tarballs := tarball.New()
	tarballs.SetMetrics(m)
	transformer := transform.NewReference()

	memoryTier, err := cache.NewMemory(500)
	if err != nil {
		logger.Fatalf("build memory cache: %v", err)
	}
	var redisTier *cache.Redis
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("parse redis url: %v", err)
		}
		redisTier = cache.NewRedis(redis.NewClient(opts))
	}
	layered := cache.NewLayered(memoryTier, redisTier)
	layered.SetMetrics(m)

	transformCache := moduleproc.New(kv, tarballs, transformer, layered)
	source := resolver.NewStoreOriginSource(kv, registry)
	source.SetMetrics(m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := replication.NewWorker(kv, cfg.ChangesBaseURL)
	worker.SetMetrics(m)
	go func() {
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("replication worker stopped: %v", err)
		}
	}()

	router := api.NewRouter(source, transformCache, kv, m)
	if handler, ok := router.(*mux.Router); ok {
		handler.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	addr := "0.0.0.0:" + cfg.Port
	logger.Printf("server running on http://%s/", addr)

	server := &http.Server{Addr: addr, Handler: router}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal(err.Error())
	}
}
