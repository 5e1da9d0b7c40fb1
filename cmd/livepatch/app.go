package main

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"livepatch/internal/config"
	"livepatch/internal/files"
	"livepatch/internal/history"
	"livepatch/internal/llm"
	"livepatch/internal/modelpatch"
	"livepatch/internal/patchgen"
	"livepatch/internal/resolver"
	"livepatch/internal/types"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg        *config.Config
	root       string
	files      types.FileService
	resolver   *resolver.Resolver
	guard      *resolver.Guard
	generator  *patchgen.Orchestrator
	store      history.Store
	applicator *history.Applicator
	settings   *config.Settings
}

// newApp loads configuration and wires the patch pipeline.
func newApp() (*app, error) {
	cfg, root, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return buildApp(cfg, root, files.NewOS(), llm.DefaultFactory{})
}

func buildApp(cfg *config.Config, root string, fs types.FileService, factory llm.Factory) (*app, error) {
	settings, err := config.NewSettings(cfg)
	if err != nil {
		return nil, err
	}

	res := resolver.New(fs.Getwd, cfg.Patch.AbsolutePrefixes...)
	guard := resolver.NewGuard(cfg.Patch.SelfGuardDirs...)
	gen := patchgen.New(fs, res, guard,
		patchgen.WithLocal(modelpatch.NewFastApply(factory)),
		patchgen.WithCloud(modelpatch.NewCloud(factory)),
		patchgen.WithWindows(patchgen.Windows{
			Src:   cfg.Patch.SrcWindow,
			CSS:   cfg.Patch.CSSWindow,
			Local: cfg.Patch.LocalWindow,
			Cloud: cfg.Patch.CloudWindow,
		}),
	)

	store, err := openStore(cfg, root)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		root:       root,
		files:      fs,
		resolver:   res,
		guard:      guard,
		generator:  gen,
		store:      store,
		applicator: history.NewApplicator(fs, store, history.NewEditedFiles(root)),
		settings:   settings,
	}, nil
}

func openStore(cfg *config.Config, root string) (history.Store, error) {
	if cfg.History.Backend == "memory" {
		return history.NewMemoryStore(), nil
	}
	path := cfg.History.DatabasePath
	if path != ":memory:" && !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	store, err := history.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	logger.Debug("History store opened", zap.String("path", path))
	return store, nil
}

// Close releases the history store.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Warn("Failed to close history store", zap.Error(err))
	}
}

// absPath resolves a file argument against the project root.
func (a *app) absPath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(a.root, p)
}
