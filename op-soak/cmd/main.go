package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/profile"
	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	opservice "github.com/yhl125/op-soak/op-service"
	oplog "github.com/yhl125/op-soak/op-service/log"
	opmetrics "github.com/yhl125/op-soak/op-service/metrics"
	"github.com/yhl125/op-soak/op-soak/config"
	"github.com/yhl125/op-soak/op-soak/flags"
	"github.com/yhl125/op-soak/op-soak/metrics"
	"github.com/yhl125/op-soak/op-soak/soak"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	color := isatty.IsTerminal(os.Stderr.Fd())
	oplog.SetGlobalLogHandler(log.NewTerminalHandler(os.Stderr, color))

	app := cli.NewApp()
	app.Flags = flags.Flags
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-soak"
	app.Usage = "Soak test an EVM endpoint with concurrent nonce-tracked transfers"
	app.Description = "Funds a population of identities and drives batches of concurrent transfers between them, " +
		"reporting per-batch and overall throughput"
	app.Action = run

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(cliCtx *cli.Context) error {
	cfg, err := config.NewConfig(cliCtx)
	if err != nil {
		return err
	}
	if err := cfg.Check(); err != nil {
		return fmt.Errorf("invalid CLI flags: %w", err)
	}

	logger := oplog.NewLogger(os.Stderr, cfg.LogConfig)
	oplog.SetGlobalLogHandler(logger.Handler())
	if unknown := opservice.ValidateEnvVars(flags.EnvVarPrefix, flagEnvVars(), os.Environ()); len(unknown) > 0 {
		logger.Warn("Unknown environment variables", "vars", unknown)
	}

	switch cfg.Profile {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(profileDir(cfg)), profile.Quiet).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(profileDir(cfg)), profile.Quiet).Stop()
	}

	var m metrics.Metricer = metrics.NoopMetrics
	if cfg.MetricsConfig.Enabled {
		pm := metrics.NewMetrics("")
		srv, err := opmetrics.StartServer(pm.Registry(), cfg.MetricsConfig.ListenAddr, cfg.MetricsConfig.ListenPort)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		logger.Info("Started metrics server", "addr", srv.Addr())
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(ctx); err != nil {
				logger.Error("Failed to stop metrics server", "err", err)
			}
		}()
		pm.RecordInfo(Version)
		pm.RecordUp()
		m = pm
	}

	s := soak.New(logger, m, cfg, soak.WithOutput(os.Stdout, isatty.IsTerminal(os.Stdout.Fd())))
	res, err := s.Run(cliCtx.Context)
	if err != nil {
		return err
	}
	logger.Info("Soak finished", "success", res.Success, "failure", res.Failure, "tps", fmt.Sprintf("%.1f", res.TPS()))
	return nil
}

func profileDir(cfg *config.CLIConfig) string {
	if cfg.ArtifactsDir == "" {
		return "."
	}
	return filepath.Join(cfg.ArtifactsDir, "profile")
}

func flagEnvVars() []string {
	var out []string
	for _, f := range flags.Flags {
		if ef, ok := f.(interface{ GetEnvVars() []string }); ok {
			out = append(out, ef.GetEnvVars()...)
		}
	}
	return out
}
