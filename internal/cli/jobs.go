package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"villagecash/internal/core"
	"villagecash/internal/log"
	"villagecash/internal/scheduler"
	"villagecash/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// NewExportCommand writes the collections workbook once.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	var (
		villages []string
		out      string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the collections workbook (.xlsx)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.runtime(cmd.Context())
			if err != nil {
				return err
			}
			refs := make([]core.VillageRef, 0, len(villages))
			for _, v := range villages {
				ref, err := resolveVillage(cmd.Context(), rt, v)
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}
			if out == "" {
				out = rt.Config.ReportDir
			}
			path, err := scheduler.New(rt.Service, "", out, refs, rt.Location, rt.Logger).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&villages, "village", nil, "village to include (repeatable, default all)")
	cmd.Flags().StringVar(&out, "out", "", "output directory (default REPORT_DIR)")
	return cmd
}

// NewWorkerCommand consumes change events and prints each refreshed village
// summary.
func NewWorkerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Recompute village summaries on change events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, p, err := session(cmd, opts)
			if err != nil {
				return err
			}
			client := rt.Backend.AMQP
			if client == nil {
				return errors.New("worker needs a reachable broker: set AMQP_URL")
			}

			var mu sync.Mutex
			sink := func(_ context.Context, vs core.VillageSummary) error {
				mu.Lock()
				defer mu.Unlock()
				return p.Summary(vs.Village, vs.Summary)
			}
			w := worker.NewSummaryWorker(rt.Service, sink, rt.Logger)

			logger := rt.Logger.WithComponent(log.ComponentWorker)
			ctx, done := GracefulShutdown(cmd.Context(), logger, shutdownTimeout, nil)
			logger.Info("Starting summary worker", "queue", rt.Config.AMQPQueue)
			err = client.ConsumeCollectionChanged(ctx, w.HandleChange)
			if ctx.Err() != nil {
				WaitForShutdown(ctx, done)
				return nil
			}
			return err
		},
	}
}

// NewScheduleCommand writes the workbook on the REPORT_CRON schedule until
// interrupted.
func NewScheduleCommand(opts *RootOptions) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Write the collections workbook on a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.runtime(cmd.Context())
			if err != nil {
				return err
			}
			cfg := rt.Config
			s := scheduler.New(rt.Service, cfg.ReportCron, cfg.ReportDir, cfg.Villages(), rt.Location, rt.Logger)
			if once {
				path, err := s.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
				return err
			}

			if err := s.Start(); err != nil {
				return err
			}
			logger := rt.Logger.WithComponent(log.ComponentScheduler)
			ctx, done := GracefulShutdown(cmd.Context(), logger, shutdownTimeout, s.Stop)
			WaitForShutdown(ctx, done)
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "write the workbook now and exit")
	return cmd
}
