// Package app wires the prediction core together and runs the HTTP server.
package app

import (
	"errors"
	"log"
	"net/http"

	"malariad/internal/config"
	"malariad/internal/engine"
	"malariad/internal/httpapi"
	"malariad/internal/policy"
	"malariad/internal/resource"
	"malariad/internal/retrain"
	"malariad/internal/service"
	"malariad/internal/storage/sqlite"
	"malariad/internal/vectorize"
)

func Main() {
	cfg := config.LoadConfig()
	log.Printf(
		"Config loaded. Features=%d DBPath=%s SnapshotDir=%s RetrainEnabled=%v RetrainThreshold=%d RetrainWindow=%d RetrainEpochs=%d BackupRetention=%d",
		len(cfg.Features), cfg.DBPath, cfg.SnapshotDir, cfg.RetrainEnabled,
		cfg.RetrainThreshold, cfg.RetrainWindow, cfg.RetrainEpochs, cfg.BackupRetention,
	)

	schema, err := vectorize.NewSchema(cfg.Features)
	if err != nil {
		log.Fatalf("Invalid feature schema: %v", err)
	}

	store, err := sqlite.Open(cfg.DBPath, cfg.BackupDir, cfg.BackupRetention)
	if err != nil {
		log.Fatalf("Failed to open record store: %v", err)
	}
	defer store.Close()
	log.Printf("Record store initialized at %s", cfg.DBPath)

	snaps, err := policy.NewStore(cfg.SnapshotDir)
	if err != nil {
		log.Fatalf("Failed to open snapshot store: %v", err)
	}

	eng := engine.New()
	if snap, err := snaps.LoadLatest(); err != nil {
		if errors.Is(err, policy.ErrNoSnapshot) {
			log.Printf("No policy snapshot found in %s, serving degraded until one is trained or dropped in", cfg.SnapshotDir)
		} else {
			log.Printf("Snapshot load failed: %v (serving degraded)", err)
		}
	} else if snap.Network.InputSize != schema.Len() {
		log.Printf("Snapshot v%d input size %d does not match schema length %d (serving degraded)",
			snap.Version, snap.Network.InputSize, schema.Len())
	} else {
		eng.Swap(snap)
		log.Printf("Policy snapshot v%d active", snap.Version)
	}

	guard := resource.NewGuard()
	sched := retrain.New(store, eng, snaps, guard, retrain.Options{
		Enabled:   cfg.RetrainEnabled,
		Threshold: cfg.RetrainThreshold,
		Window:    cfg.RetrainWindow,
		Epochs:    cfg.RetrainEpochs,
		InputSize: schema.Len(),
	})
	if !cfg.RetrainEnabled {
		log.Println("Retraining disabled: inference and data collection continue, model updates come from the snapshot store")
	}
	sched.StartSnapshotWatcher(cfg.SnapshotWatchSchedule)

	svc := service.New(cfg, schema, store, eng, sched)
	srv := httpapi.NewServer(svc)

	log.Printf("Starting malaria prediction service on %s", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, srv); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}
