package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lumoslab/lumos/backend/internal/bias"
	"github.com/lumoslab/lumos/backend/internal/config"
	"github.com/lumoslab/lumos/backend/internal/dataset"
	"github.com/lumoslab/lumos/backend/internal/export"
	"github.com/lumoslab/lumos/backend/internal/handler"
	"github.com/lumoslab/lumos/backend/internal/handler/ws"
	"github.com/lumoslab/lumos/backend/internal/hub"
	"github.com/lumoslab/lumos/backend/internal/registry"
	studyservice "github.com/lumoslab/lumos/backend/internal/service/study"
	"github.com/lumoslab/lumos/backend/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Distributions are precomputed before the listener opens; clients
	// receive them in the first frame after connecting.
	catalog, err := dataset.Load(cfg.Study.DataDir)
	if err != nil {
		log.Fatalf("failed to load datasets: %v", err)
	}
	log.Printf("loaded %d datasets from %s", len(catalog.IDs()), cfg.Study.DataDir)

	store, err := storage.OpenSQLite(cfg.Study.StorePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	writer := storage.NewWriter(store, cfg.Study.WriteQueueSize)
	defer writer.Close()

	reg := registry.New()
	classifier := bias.NewClassifier(cfg.Study.BiasKinds)
	engine := bias.NewEngine(catalog)
	clients := hub.New()
	exporter := export.New(cfg.Study.OutputDir)

	svc := studyservice.New(reg, classifier, engine, clients, store, writer, cfg.Study.Group)
	wsHandler := ws.New(svc, reg, clients, catalog, exporter)
	router := handler.NewRouter(wsHandler, catalog, cfg.Study.PublicDir)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Lumos study backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
