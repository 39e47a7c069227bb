package main

import (
	"context"
	"errors"

	"github.com/openmined/quicksave/internal/config"
	"github.com/openmined/quicksave/internal/packager"
	"github.com/openmined/quicksave/internal/pipeline"
	"github.com/openmined/quicksave/internal/state"
	"github.com/openmined/quicksave/internal/status"
	"github.com/openmined/quicksave/internal/uploader"
	"github.com/spf13/viper"
)

// app wires the pipeline for one CLI invocation.
type app struct {
	cfg    *config.Config
	store  *state.SQLiteStore
	status *status.Broadcaster
	orch   *pipeline.Orchestrator
	svc    *pipeline.Service
}

func newApp() (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	store, err := state.OpenSQLiteStore(cfg.StatePath)
	if err != nil {
		return nil, err
	}

	broadcaster := status.NewBroadcaster()
	orch, err := pipeline.NewOrchestrator(pipeline.Options{
		Store:      store,
		Compressor: packager.NewSevenZip(cfg.CompressorPath, cfg.ScratchDir),
		Uploader:   uploader.New(uploader.WithTimeout(cfg.UploadTimeout)),
		Reporter:   broadcaster,
		LockDir:    cfg.LockDir,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	svc, err := pipeline.NewService(pipeline.ServiceOptions{Orchestrator: orch})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{cfg: cfg, store: store, status: broadcaster, orch: orch, svc: svc}, nil
}

// Close waits for running uploads, then closes the store.
func (a *app) Close() error {
	a.orch.Close()
	return a.store.Close()
}

func (a *app) state(ctx context.Context, path string) (*state.ProjectState, error) {
	if path == "" {
		return nil, errors.New("project path is required")
	}
	return a.svc.State(ctx, path)
}
