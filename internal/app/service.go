package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"boardpm/internal/audit"
	"boardpm/internal/config"
	"boardpm/internal/doctor"
	"boardpm/internal/errs"
	"boardpm/internal/installer"
	"boardpm/internal/logging"
	"boardpm/internal/preserve"
	"boardpm/internal/resolver"
	"boardpm/internal/source"
	"boardpm/internal/store"
	syncsvc "boardpm/internal/sync"
)

type Options struct {
	// ConfigPath, when set, must exist. Otherwise $BOARDPM_CONFIG or
	// ./boardpm.toml is used if present, else built-in defaults.
	ConfigPath string
	LogLevel   string
	LogFormat  string
	Verbose    bool
	// LogOutput defaults to stderr.
	LogOutput io.Writer
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

type Service struct {
	ConfigPath string
	Config     config.Config
	Paths      config.Resolved

	Logger    *slog.Logger
	Audit     *audit.Logger
	Git       *source.CLI
	Resolver  *resolver.Service
	Installer *installer.Service
	Sync      *syncsvc.Service
	Doctor    *doctor.Service
}

func New(opts Options) (*Service, error) {
	configPath, explicit := opts.ConfigPath, opts.ConfigPath != ""
	if configPath == "" {
		configPath, explicit = config.DefaultConfigPath()
	}
	cfg, base, err := config.LoadOrDefault(configPath, explicit)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrap(errs.KindConfiguration, "CONFIG_MISSING", err)
		}
		return nil, err
	}
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg = config.ApplyEnv(cfg, getenv)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	paths, err := config.ResolvePaths(cfg, base)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "CONFIG_PATHS", err)
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := logging.New(out, cfg.Logging, logging.Options{Level: opts.LogLevel, Format: opts.LogFormat, Verbose: opts.Verbose})
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "CONFIG_LOGGING", err)
	}
	auditLog := audit.New(store.AuditPath(paths.StateDir))
	logger = logger.With("run_id", auditLog.RunID())

	timeout, backoff, cacheTTL := cfg.Sync.Durations()
	git := source.NewCLI(source.Options{Timeout: timeout, Retries: cfg.Sync.Retries, Backoff: backoff, Logger: logger})
	resolverSvc := resolver.New(resolver.Options{Git: git, CacheTTL: cacheTTL, TempDir: filepath.Join(paths.StateDir, "tmp"), Logger: logger})
	installerSvc := installer.New(installer.Options{
		PluginsDir: paths.PluginsDir,
		Git:        git,
		Journal:    store.OpenJournal(paths.StateDir),
		Snapshots:  preserve.New(store.SnapshotRoot(paths.StateDir)),
		Audit:      auditLog,
		Logger:     logger,
	})
	syncService := syncsvc.New(syncsvc.Options{
		Resolver:         resolverSvc,
		Installer:        installerSvc,
		ManifestPath:     paths.Manifest,
		LockPath:         paths.Lockfile,
		StateDir:         paths.StateDir,
		PreserveDefaults: cfg.Preserve.Defaults,
		Workers:          cfg.Sync.Workers,
		Audit:            auditLog,
		Logger:           logger,
	})
	doctorSvc := &doctor.Service{ConfigPath: configPath, Paths: paths, Git: git}

	logger.Debug("configured", "config", configPath, "plugins_dir", paths.PluginsDir, "manifest", paths.Manifest, "lockfile", paths.Lockfile, "workers", cfg.Sync.Workers)
	return &Service{
		ConfigPath: configPath,
		Config:     cfg,
		Paths:      paths,
		Logger:     logger,
		Audit:      auditLog,
		Git:        git,
		Resolver:   resolverSvc,
		Installer:  installerSvc,
		Sync:       syncService,
		Doctor:     doctorSvc,
	}, nil
}

func (s *Service) SyncRun(ctx context.Context, dryRun bool) (syncsvc.Report, error) {
	return s.Sync.Sync(ctx, syncsvc.SyncOptions{DryRun: dryRun})
}

func (s *Service) Add(ctx context.Context, src, ref, name string) (syncsvc.AddResult, error) {
	return s.Sync.Add(ctx, syncsvc.AddRequest{Source: src, Ref: ref, Name: name})
}

func (s *Service) Remove(ctx context.Context, id string, keepConfig bool) (syncsvc.RemoveResult, error) {
	return s.Sync.Remove(ctx, id, keepConfig)
}

func (s *Service) List(ctx context.Context, offline bool) ([]syncsvc.ListItem, error) {
	return s.Sync.List(ctx, syncsvc.ListOptions{Offline: offline})
}

func (s *Service) DoctorRun(ctx context.Context) doctor.Report {
	return s.Doctor.Run(ctx)
}
