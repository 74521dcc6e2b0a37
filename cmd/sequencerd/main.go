// Command sequencerd runs a single sequencer write-path instance:
// intake, durable persistence, watermark advance and the WebSocket
// front door, wired from environment configuration.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ledgerfabric/sequencer/internal/ack"
	"github.com/ledgerfabric/sequencer/internal/config"
	"github.com/ledgerfabric/sequencer/internal/crypto"
	"github.com/ledgerfabric/sequencer/internal/logging"
	"github.com/ledgerfabric/sequencer/internal/member"
	"github.com/ledgerfabric/sequencer/internal/pipeline"
	"github.com/ledgerfabric/sequencer/internal/signaller"
	"github.com/ledgerfabric/sequencer/internal/store"
	"github.com/ledgerfabric/sequencer/internal/store/filestore"
	"github.com/ledgerfabric/sequencer/internal/transport/wsfront"
	"github.com/ledgerfabric/sequencer/internal/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	st, err := openStore(cfg)
	if err != nil {
		logger.Fatal("failed to open durable store", logging.Error(err))
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("store close failed", logging.Error(err))
		}
	}()

	members := member.NewRegistry()
	sig := signaller.New()
	acks := ack.New()
	v := validator.New(validator.Config{}, members)

	p := pipeline.New(pipeline.Config{
		IntakeQueueCapacity:  cfg.IntakeQueueCapacity,
		PayloadWriteBatchMax: cfg.PayloadWriteBatchMax,
		EventWriteBatchMax:   cfg.EventWriteBatchMax,
		PayloadToEventMargin: cfg.PayloadToEventMargin,
		KeepAliveInterval:    cfg.KeepAliveInterval,
		TotalNodeCount:       cfg.TotalNodeCount,
	}, st, v, members, sig, acks, pipeline.WithLogger(logger))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := p.Start(ctx); err != nil {
		logger.Fatal("failed to start write path", logging.Error(err))
	}
	defer p.Stop()

	oracle, err := crypto.NewHMACOracle(cfg.HMACSecret)
	if err != nil {
		logger.Fatal("failed to initialize signing oracle", logging.Error(err))
	}

	front := wsfront.New(p, members, st, sig, acks, logger, cfg.CheckpointInterval, oracle)

	logger.Info("sequencer listening", logging.String("address", cfg.Address))
	runServer(ctx, cfg.Address, front, logger)
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.StoreDir == "" {
		return store.NewMemStore(), nil
	}
	return filestore.Open(cfg.StoreDir)
}

func runServer(ctx context.Context, addr string, handler http.Handler, logger *logging.Logger) {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", logging.Error(err))
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server exited unexpectedly", logging.Error(err))
	}
}
