package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lockplane/metamigrate/internal/config"
	"github.com/lockplane/metamigrate/internal/instance"
	"github.com/lockplane/metamigrate/internal/logging"
	"github.com/lockplane/metamigrate/internal/storage"
)

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	warnMark = color.New(color.FgYellow).SprintFunc()
)

// resolve loads metamigrate.toml and resolves the selected environment.
func resolve() (*config.ResolvedEnvironment, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	env, err := config.ResolveEnvironment(cfg, environmentName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve environment: %w", err)
	}
	return env, nil
}

func newLogger(env *config.ResolvedEnvironment) (*zap.Logger, error) {
	level := env.LogLevel
	if verbose {
		level = "debug"
	}
	return logging.New(level, env.LogFormat)
}

// openInstance opens every store of the selected environment. The
// caller closes the instance and syncs the logger.
func openInstance(ctx context.Context) (*instance.Instance, *zap.Logger, error) {
	env, err := resolve()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(env)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("resolved environment",
		zap.String("environment", env.Name),
		zap.Bool("from_config", env.FromConfig),
		zap.Bool("from_dotenv", env.FromDotenv),
		zap.Bool("from_process_env", env.FromProcessEnv))

	inst, err := instance.Open(ctx, instance.Config{
		RunStorageURL:      env.RunStorageURL,
		EventLogStorageURL: env.EventLogStorageURL,
		ScheduleStorageURL: env.ScheduleStorageURL,
		Logger:             logger,
	})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return inst, logger, nil
}

// withInstance runs fn against the selected environment's instance.
func withInstance(cmd *cobra.Command, fn func(ctx context.Context, inst *instance.Instance) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	inst, logger, err := openInstance(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() { _ = inst.Close() }()
	return fn(ctx, inst)
}

// printApplied writes one line per applied step, and a confirmation for
// each domain that had nothing to do.
func printApplied(cmd *cobra.Command, verb string, result instance.Result) {
	for _, d := range storage.Domains() {
		steps := result[d]
		if len(steps) == 0 {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s %s storage: nothing to %s\n", okMark("✓"), d, verb)
			continue
		}
		for _, step := range steps {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n", d, step)
		}
	}
}
