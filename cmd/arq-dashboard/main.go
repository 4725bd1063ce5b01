package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"

	"github.com/redis/go-redis/v9"

	"arq-dashboard/internal/api"
	"arq-dashboard/internal/config"
	"arq-dashboard/internal/decode"
	"arq-dashboard/internal/keyspace"
	"arq-dashboard/internal/repo"
	"arq-dashboard/internal/stats"
	"arq-dashboard/internal/workers"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	opts, err := cfg.RedisOptions()
	if err != nil {
		log.Fatalf("redis options: %v", err)
	}
	// One client for the whole process; everything below shares it.
	client := redis.NewClient(opts)
	defer client.Close()

	acc := keyspace.New(client, cfg.ScanCount)
	dec := decode.NewDecoder(decode.NewExternalDecoder(cfg.UnpicklePython, cfg.UnpickleScript, cfg.UnpickleTimeout))
	keys := repo.Keys{Prefix: cfg.KeyPrefix, DefaultQueue: cfg.DefaultQueue}

	repository := repo.New(acc, dec, keys, cfg.CompletedScanMax)
	aggregator := stats.New(acc, dec, repository, keys)
	registry := workers.New(acc, cfg.KeyPrefix, cfg.StaleWorkerAfter)

	server := api.New(cfg, repository, aggregator, registry, acc)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("dashboard listening on :%s (prefix %q)", cfg.HTTPPort, cfg.KeyPrefix)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
