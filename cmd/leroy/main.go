package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/developingchet/leroy/internal/config"
	"github.com/developingchet/leroy/internal/daemon"
	"github.com/developingchet/leroy/internal/engine"
	"github.com/developingchet/leroy/internal/input"
	"github.com/developingchet/leroy/internal/journal"
	"github.com/developingchet/leroy/internal/logger"
	"github.com/developingchet/leroy/internal/sink"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "leroy",
		Short:         "Escalating IP bans from a stream of offending addresses",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile == "" {
				return nil
			}
			// Variables already set in the environment win over the file.
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "load LEROY_* variables from this file first")

	root.AddCommand(
		runCmd(),
		checkCmd(),
		bansCmd(),
		healthcheckCmd(),
		versionCmd(),
	)
	return root
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Read addresses from stdin or LEROY_INPUT_FILE and ban offenders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(os.Stdin)
		},
	}
}

func runDaemon(stdin io.Reader) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogRedactAddresses, os.Stderr)
	log.Info().Str("version", Version).Str("sink", cfg.Sink).Bool("dry_run", cfg.DryRun).Msg("leroy starting")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := buildSink(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("closing ban sink")
		}
	}()

	var j journal.Journal
	if cfg.JournalDir != "" && !cfg.DryRun {
		j, err = journal.OpenBolt(cfg.JournalDir)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		s = sink.NewJournaled(s, j, log)
	}

	eng, err := buildEngine(cfg, s, log)
	if err != nil {
		return err
	}

	src, err := openSource(cfg, stdin, log)
	if err != nil {
		return err
	}
	defer src.Close()

	daemon.Version = Version
	d := daemon.New(daemon.Config{
		MetricsEnabled:  cfg.MetricsEnabled,
		MetricsAddr:     cfg.MetricsAddr,
		HealthAddr:      cfg.HealthAddr,
		JanitorInterval: cfg.JanitorInterval,
	}, eng, src, j, log)

	if err := d.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("leroy stopped")
	return nil
}

// buildSink constructs the configured backend and checks its targets exist.
// A missing target is fatal.
func buildSink(ctx context.Context, cfg *config.Config, log zerolog.Logger) (sink.Sink, error) {
	s, err := sink.New(sink.Options{
		Backend:         cfg.Sink,
		DryRun:          cfg.DryRun,
		Sets:            cfg.SetNames(),
		NftFamily:       cfg.NftFamily,
		NftTable:        cfg.NftTable,
		NftBatchSize:    cfg.NftBatchSize,
		NftBatchTimeout: cfg.NftBatchTimeout,
		RedisAddr:       cfg.RedisAddr,
		RedisPassword:   cfg.RedisPassword,
		RedisDB:         cfg.RedisDB,
		RedisKeyPrefix:  cfg.RedisKeyPrefix,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("build sink: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.VerifyTargets(verifyCtx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("verify ban targets: %w", err)
	}
	return s, nil
}

func buildEngine(cfg *config.Config, s sink.Sink, log zerolog.Logger) (*engine.Engine, error) {
	mask, err := cfg.ParseMask()
	if err != nil {
		return nil, err
	}
	allow, err := cfg.ParseAllowlist()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Threshold:       uint32(cfg.Threshold),
		Period:          cfg.Period,
		BaseTime:        cfg.BaseTime,
		MaxTime:         cfg.MaxTime,
		RecidivismTTL:   cfg.RecidivismTTL,
		SafetyMargin:    cfg.SafetyMargin,
		InitialCapacity: cfg.InitialCapacity,
		MaxSize:         cfg.MaxSize,
		Mask:            mask,
		Allowlist:       allow,
		ReportInterval:  cfg.ReportInterval,
	}, s, log)
}

func openSource(cfg *config.Config, stdin io.Reader, log zerolog.Logger) (input.Source, error) {
	if cfg.InputFile == "" {
		return input.NewReader(stdin, cfg.InputMaxLineBytes, log), nil
	}
	t, err := input.TailFile(cfg.InputFile, cfg.InputFromStart, cfg.InputMaxLineBytes, log)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return t, nil
}

// checkCmd validates configuration and ban targets, then exits.
func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and ban targets and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log := logger.New(cfg.LogLevel, cfg.LogFormat, cfg.LogRedactAddresses, os.Stderr)
			s, err := buildSink(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer s.Close()
			if _, err := buildEngine(cfg, s, log); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: sink=%s sets=%s,%s dry_run=%t\n",
				cfg.Sink, cfg.IPv4SetName, cfg.IPv6SetName, cfg.DryRun)
			return nil
		},
	}
}

// bansCmd lists active bans recorded in the journal.
func bansCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bans",
		Short: "List active bans from the journal (daemon must be stopped)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.JournalDir == "" {
				return errors.New("LEROY_JOURNAL_DIR is not set")
			}
			j, err := journal.OpenBoltReadOnly(cfg.JournalDir)
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			bans := daemon.ActiveBans(entries, time.Now())
			for _, b := range bans {
				fmt.Fprintf(out, "%s\t%s\trecidivism=%d\tduration=%s\texpires=%s\n",
					b.Key, b.Family, b.Recidivism, b.Duration, b.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "%d active bans\n", len(bans))
			return nil
		},
	}
}

// healthcheckCmd exits 0 if the health endpoint answers.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.HealthAddr == "" {
				return errors.New("LEROY_HEALTH_ADDR is not set")
			}
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get("http://" + cfg.HealthAddr + "/healthz") //nolint:noctx
			if err != nil {
				return fmt.Errorf("healthcheck failed: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("healthcheck returned %d", resp.StatusCode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "leroy %s\n", Version)
		},
	}
}
