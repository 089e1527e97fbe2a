package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/keyward/internal/approval"
	"github.com/roach88/keyward/internal/config"
	"github.com/roach88/keyward/internal/ident"
	"github.com/roach88/keyward/internal/keys"
	"github.com/roach88/keyward/internal/model"
	"github.com/roach88/keyward/internal/policy"
	"github.com/roach88/keyward/internal/store"
)

// app wires the core components for one command invocation.
type app struct {
	cfg       config.Config
	log       *slog.Logger
	clock     ident.Clock
	store     *store.Store
	keys      *keys.Distributor
	approvals *approval.Engine
	out       *OutputFormatter
}

// newFormatter builds the formatter for a command. Diagnostics go to stderr
// so JSON on stdout stays parseable.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return config.Config{}, err
		}
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, cfg.Validate()
}

// newLogger builds the text logger on stderr. --verbose forces debug.
func newLogger(opts *RootOptions, cfg config.Config, cmd *cobra.Command) *slog.Logger {
	level, _ := cfg.Level()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openApp loads configuration and opens the store. Callers must Close.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	out := newFormatter(opts, cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(opts, cfg, cmd)

	policyCfg := approval.DefaultPolicyConfig()
	if cfg.PolicyFile != "" {
		if policyCfg, err = policy.Load(cfg.PolicyFile); err != nil {
			_ = out.Error(ErrCodePolicy, err.Error(), nil)
			return nil, WrapExitError(ExitCommandError, "failed to load policy", err)
		}
	}

	logger.Debug("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, out.Fail("failed to open database", err)
	}

	return &app{
		cfg:   cfg,
		log:   logger,
		clock: ident.SystemClock{},
		store: st,
		keys: keys.NewDistributor(st, st,
			keys.WithLogger(logger),
			keys.WithTimeout(cfg.StoreTimeout),
		),
		approvals: approval.NewEngine(st,
			approval.WithPolicyConfig(policyCfg),
			approval.WithMutator(logMutator{log: logger}),
			approval.WithLogger(logger),
			approval.WithTimeout(cfg.StoreTimeout),
		),
		out: out,
	}, nil
}

// Close releases the database.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("error closing database", "error", err)
	}
}

// logMutator records resolved mutations. Applying a secret change belongs to
// the secret store that hosts this core; the CLI only reports the outcome.
type logMutator struct {
	log *slog.Logger
}

func (m logMutator) Apply(_ context.Context, req model.ApprovalRequest) error {
	m.logResolved("mutation approved", req)
	return nil
}

func (m logMutator) Discard(_ context.Context, req model.ApprovalRequest) error {
	m.logResolved("mutation discarded", req)
	return nil
}

func (m logMutator) logResolved(msg string, req model.ApprovalRequest) {
	attrs := []any{"request", req.ID, "project", req.ProjectID}
	digest, err := model.MutationDigest(req.Mutation)
	if err != nil {
		m.log.Warn(msg, append(attrs, "digest_error", err)...)
		return
	}
	m.log.Info(msg, append(attrs, "mutation_digest", digest)...)
}
