package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	httpadapter "redflag/internal/adapters/http"
	"redflag/internal/adapters/memory"
	pg "redflag/internal/adapters/postgres"
	"redflag/internal/adapters/sqlite"
	"redflag/internal/adapters/ws"
	"redflag/internal/config"
	"redflag/internal/logging"
	"redflag/internal/ports"
	bulksvc "redflag/internal/services/bulk"
	exportsvc "redflag/internal/services/export"
	flagsvc "redflag/internal/services/flags"
	"redflag/internal/workers/exportrunner"
)

type stores struct {
	flags    ports.FlagRepository
	evidence ports.EvidenceRepository
	actions  ports.ActionRepository
	jobs     ports.ExportJobRepository
	close    func()
}

func main() {
	cfg, cfgErr := config.Load()
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		logrus.Fatalf("logger: %v", err)
	}
	if cfgErr != nil && !errors.Is(cfgErr, config.ErrNoDatabase) {
		log.Fatalf("config: %v", cfgErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer st.close()

	blobs, err := sqlite.Open(cfg.Export.BlobDSN)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}
	defer blobs.Close()

	hub := ws.NewHub(log.WithField("component", "ws"))
	flags := flagsvc.New(st.flags, st.evidence, st.actions, log.WithField("component", "flags"), flagsvc.WithNotifier(hub))
	bulk := bulksvc.New(flags, cfg.BulkConcurrency, log.WithField("component", "bulk"))
	exporter := exportsvc.New(st.flags, st.evidence, st.jobs, blobs, exportsvc.Config{
		SyncRowLimit:   cfg.Export.SyncRowLimit,
		RejectRowLimit: cfg.Export.RejectRowLimit,
		SyncTimeout:    cfg.Export.SyncTimeout,
	}, log.WithField("component", "export"))

	runner := &exportrunner.Runner{
		Jobs:         st.jobs,
		Processor:    exportrunner.SinkProcessor{Generator: exporter, Sink: blobs},
		Notifier:     hub,
		Log:          log.WithField("component", "exportrunner"),
		Concurrency:  cfg.Export.Workers,
		PollInterval: cfg.Export.PollInterval,
		StaleAfter:   cfg.Export.StaleAfter,
	}
	runnerDone := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(runnerDone)
	}()
	log.Infof("export workers started: %d", cfg.Export.Workers)
	go pruneBlobs(ctx, blobs, cfg.Export.Retention, log)

	srv := httpadapter.New(flags, bulk, exporter, hub, log.WithField("component", "http"))
	r := chi.NewRouter()
	r.Mount("/", srv.Routes())
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.Infof("listening on %s", cfg.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Infof("shutting down on %s", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}
	cancel()
	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		log.Warn("export workers did not stop in time")
	}
}

func openStores(ctx context.Context, cfg config.Config, log *logrus.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		m := memory.New()
		return &stores{flags: m, evidence: m, actions: m, jobs: m, close: func() {}}, nil
	}
	if cfg.Migrate {
		if err := pg.Migrate(ctx, cfg.DatabaseURL); err != nil {
			return nil, err
		}
		log.Info("migrations applied")
	}
	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return &stores{flags: db, evidence: db, actions: db, jobs: db, close: db.Close}, nil
}

// pruneBlobs drops export files older than retention once an hour.
func pruneBlobs(ctx context.Context, blobs *sqlite.BlobStore, retention time.Duration, log *logrus.Logger) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := blobs.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				log.WithError(err).Warn("export blob prune failed")
				continue
			}
			if n > 0 {
				log.WithField("blobs", n).Info("pruned expired exports")
			}
		}
	}
}
