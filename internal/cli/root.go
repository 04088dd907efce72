package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"villagecash/internal/backend"
	"villagecash/internal/config"
	"villagecash/internal/core"
	"villagecash/internal/log"
	"villagecash/internal/report"
	"villagecash/internal/services"
)

// RootOptions holds global flags and the lazily built runtime.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Setup builds the runtime on first use. Tests replace it.
	Setup func(ctx context.Context, opts *RootOptions) (*Runtime, error)

	rt *Runtime
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{report.FormatText, report.FormatJSON}

// Runtime is everything a command needs once configuration is resolved.
type Runtime struct {
	Config   *config.Config
	Service  *services.CollectionService
	Backend  *backend.BackendResult
	Location *time.Location
	Logger   *log.Logger
}

// Close releases the backend resources.
func (r *Runtime) Close() error {
	if r == nil || r.Backend == nil || r.Backend.Cleanup == nil {
		return nil
	}
	return r.Backend.Cleanup()
}

// DefaultSetup loads configuration from the environment and builds the
// configured backend.
func DefaultSetup(ctx context.Context, opts *RootOptions) (*Runtime, error) {
	LoadEnvFile()
	cfg, err := LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	logger := SetupLogger(level)

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	core.SetDefaultLocation(loc)

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", bcfg.Type, err)
	}
	logger.Debug("Backend ready", log.FieldBackend, bcfg.Type.String())

	return &Runtime{
		Config:   cfg,
		Service:  services.NewCollectionService(res.Loader, res.Backend, res.Backend, res.Publisher(), logger),
		Backend:  res,
		Location: loc,
		Logger:   logger,
	}, nil
}

func (o *RootOptions) runtime(ctx context.Context) (*Runtime, error) {
	if o.rt != nil {
		return o.rt, nil
	}
	setup := o.Setup
	if setup == nil {
		setup = DefaultSetup
	}
	rt, err := setup(ctx, o)
	if err != nil {
		return nil, err
	}
	o.rt = rt
	return rt, nil
}

// Close releases the runtime if one was built.
func (o *RootOptions) Close() error {
	rt := o.rt
	o.rt = nil
	return rt.Close()
}

// NewRootCommand creates the root command for the villagecash CLI.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	if opts == nil {
		opts = &RootOptions{}
	}

	cmd := &cobra.Command{
		Use:   "villagecash",
		Short: "Daily village collection records",
		Long: "Record, correct and summarize the daily household collections of each village.\n" +
			"The backend is chosen with DATA_BACKEND (memory, sqlite or sheets).",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", report.FormatText, "output format (json|text)")

	cmd.AddCommand(NewVillagesCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewSummaryCommand(opts))
	cmd.AddCommand(NewTodayCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewRemoveCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewScheduleCommand(opts))

	return cmd
}

// Execute runs the CLI with args and releases the runtime afterwards.
func Execute(ctx context.Context, args []string, opts *RootOptions) error {
	if opts == nil {
		opts = &RootOptions{}
	}
	cmd := NewRootCommand(opts)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if cerr := opts.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// session resolves the runtime and the presenter for a command.
func session(cmd *cobra.Command, opts *RootOptions) (*Runtime, report.Presenter, error) {
	rt, err := opts.runtime(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	p, err := report.NewPresenter(opts.Format, cmd.OutOrStdout())
	if err != nil {
		return nil, nil, err
	}
	return rt, p, nil
}

// resolveVillage turns a --village value into the backend's reference,
// filling in the id or name from the village list when one matches.
func resolveVillage(ctx context.Context, rt *Runtime, value string) (core.VillageRef, error) {
	if strings.TrimSpace(value) == "" {
		return core.VillageRef{}, errors.New("--village is required")
	}
	ref := config.ParseVillage(value)
	vs, err := rt.Service.Villages(ctx)
	if err != nil {
		return core.VillageRef{}, err
	}
	for _, v := range vs {
		known := v.Ref()
		if known.Matches(ref) || (ref.ID == "" && strings.TrimSpace(known.ID) == strings.TrimSpace(ref.Name)) {
			return known, nil
		}
	}
	return ref, nil
}
