package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"villagecash/internal/core"
)

// NewVillagesCommand lists the villages the backend knows about.
func NewVillagesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "villages",
		Short: "List villages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, p, err := session(cmd, opts)
			if err != nil {
				return err
			}
			vs, err := rt.Service.Villages(cmd.Context())
			if err != nil {
				return err
			}
			return p.Villages(vs)
		},
	}
}

// NewListCommand prints a village's records, newest first.
func NewListCommand(opts *RootOptions) *cobra.Command {
	var village, from, to string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a village's collection records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, p, err := session(cmd, opts)
			if err != nil {
				return err
			}
			fromDay, err := dayFlag("from", from)
			if err != nil {
				return err
			}
			toDay, err := dayFlag("to", to)
			if err != nil {
				return err
			}
			ref, err := resolveVillage(cmd.Context(), rt, village)
			if err != nil {
				return err
			}
			st, err := rt.Service.Open(cmd.Context(), ref)
			if err != nil {
				return err
			}
			records := st.All()
			if from != "" || to != "" {
				records = core.FilterRange(records, fromDay, toDay)
			}
			return p.Records(ref, records)
		},
	}

	cmd.Flags().StringVar(&village, "village", "", "village id or name")
	cmd.Flags().StringVar(&from, "from", "", "first day to include")
	cmd.Flags().StringVar(&to, "to", "", "last day to include")
	return cmd
}

// NewSummaryCommand prints a village's summary, or every village's when no
// village is given.
func NewSummaryCommand(opts *RootOptions) *cobra.Command {
	var village string

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, p, err := session(cmd, opts)
			if err != nil {
				return err
			}
			if village == "" {
				ov, err := rt.Service.Overview(cmd.Context())
				if err != nil {
					return err
				}
				return p.Overview(ov)
			}
			ref, err := resolveVillage(cmd.Context(), rt, village)
			if err != nil {
				return err
			}
			s, err := rt.Service.Summary(cmd.Context(), ref)
			if err != nil {
				return err
			}
			return p.Summary(ref, s)
		},
	}

	cmd.Flags().StringVar(&village, "village", "", "village id or name (default all villages)")
	return cmd
}

// NewTodayCommand prints the totals of one day, today by the backend clock
// unless --date is given.
func NewTodayCommand(opts *RootOptions) *cobra.Command {
	var village, date string

	cmd := &cobra.Command{
		Use:   "today",
		Short: "Show the totals of a single day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, p, err := session(cmd, opts)
			if err != nil {
				return err
			}
			ref, err := resolveVillage(cmd.Context(), rt, village)
			if err != nil {
				return err
			}
			var totals core.DayTotals
			if date == "" {
				totals, err = rt.Service.Today(cmd.Context(), ref)
			} else {
				day, derr := dayFlag("date", date)
				if derr != nil {
					return derr
				}
				totals, err = rt.Service.Day(cmd.Context(), ref, day)
			}
			if err != nil {
				return err
			}
			return p.Day(ref, totals)
		},
	}

	cmd.Flags().StringVar(&village, "village", "", "village id or name")
	cmd.Flags().StringVar(&date, "date", "", "day to show instead of today")
	return cmd
}

// dayFlag normalizes an optional date flag. Empty is allowed.
func dayFlag(name, value string) (core.DayKey, error) {
	if value == "" {
		return core.InvalidDay, nil
	}
	day := core.Normalize(value)
	if !day.Valid() {
		return core.InvalidDay, fmt.Errorf("--%s: %w: %q", name, core.ErrInvalidDate, value)
	}
	return day, nil
}
