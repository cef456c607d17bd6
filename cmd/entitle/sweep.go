package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/entitle"
)

func newSweepCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one lifecycle sweep and print its report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}

			locker, closeLocker, err := openLocker(ctx, cfg, logger)
			if err != nil {
				_ = s.Close()
				return err
			}
			defer closeLocker() //nolint:errcheck

			emitter, closeEmitter, err := openEmitter(cfg, logger)
			if err != nil {
				_ = s.Close()
				return err
			}
			defer closeEmitter() //nolint:errcheck

			opts := []entitle.Option{
				entitle.WithEmitter(emitter),
				entitle.WithLocker(locker, cfg.SweepLockTTL),
			}
			if !migrate {
				opts = append(opts, entitle.WithoutMigrate())
			}

			engine := newEngine(s, cfg, logger, opts...)
			if err := engine.Start(ctx); err != nil {
				_ = s.Close()
				return err
			}
			defer engine.Stop(ctx) //nolint:errcheck

			report, err := engine.Scheduler().Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}

			printReport(cmd.OutOrStdout(), report)

			if failed := report.Ended.Failed + report.EndingSoon.Failed; failed > 0 {
				return fmt.Errorf("sweep finished with %d failures: %w", failed, report.Err())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before sweeping")
	return cmd
}

func printReport(w io.Writer, r entitle.SweepReport) {
	fmt.Fprintf(w, "sweep at %s\n", r.StartedAt.Format(time.RFC3339))
	for _, p := range []entitle.PassReport{r.Ended, r.EndingSoon} {
		if p.Locked {
			fmt.Fprintf(w, "  %s: locked by another sweeper\n", p.Pass)
			continue
		}
		fmt.Fprintf(w, "  %s: candidates=%d emitted=%d skipped=%d failed=%d\n",
			p.Pass, p.Candidates, p.Emitted, p.Skipped, p.Failed)
	}
}
