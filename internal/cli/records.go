package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"villagecash/internal/core"
	"villagecash/internal/report"
)

type recordFlags struct {
	date      string
	customers string
	amount    string
}

func (f *recordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.date, "date", "", "collection day (YYYY-MM-DD or a timestamp)")
	cmd.Flags().StringVar(&f.customers, "customers", "", "households collected from")
	cmd.Flags().StringVar(&f.amount, "amount", "", "amount collected, e.g. 125.50")
}

// raw returns the flags the user actually set. Values are passed through as
// typed so the record normalizer reports unreadable input.
func (f *recordFlags) raw(cmd *cobra.Command) core.RawRecord {
	raw := core.RawRecord{}
	if cmd.Flags().Changed("date") {
		raw["date"] = f.date
	}
	if cmd.Flags().Changed("customers") {
		raw["customers"] = f.customers
	}
	if cmd.Flags().Changed("amount") {
		raw["amountCollected"] = f.amount
	}
	return raw
}

// NewAddCommand records a new day for a village.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	var (
		village string
		flags   recordFlags
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a day's collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("date") {
				return errors.New("--date is required")
			}
			rt, p, err := session(cmd, opts)
			if err != nil {
				return err
			}
			ref, err := resolveVillage(cmd.Context(), rt, village)
			if err != nil {
				return err
			}
			rec, err := rt.Service.Create(cmd.Context(), ref, flags.raw(cmd))
			if err != nil {
				return err
			}
			return p.Record(rec)
		},
	}

	cmd.Flags().StringVar(&village, "village", "", "village id or name")
	flags.register(cmd)
	return cmd
}

// NewUpdateCommand patches an existing record.
func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	var (
		village string
		flags   recordFlags
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Correct a collection record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := flags.raw(cmd)
			if len(patch) == 0 {
				return errors.New("nothing to update: set --date, --customers or --amount")
			}
			rt, p, err := session(cmd, opts)
			if err != nil {
				return err
			}
			ref, err := resolveVillage(cmd.Context(), rt, village)
			if err != nil {
				return err
			}
			rec, err := rt.Service.Update(cmd.Context(), ref, args[0], patch)
			if err != nil {
				return err
			}
			return p.Record(rec)
		},
	}

	cmd.Flags().StringVar(&village, "village", "", "village id or name")
	flags.register(cmd)
	return cmd
}

// NewRemoveCommand deletes a record.
func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	var village string

	cmd := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a collection record",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.runtime(cmd.Context())
			if err != nil {
				return err
			}
			ref, err := resolveVillage(cmd.Context(), rt, village)
			if err != nil {
				return err
			}
			if err := rt.Service.Delete(cmd.Context(), ref, args[0]); err != nil {
				return err
			}
			if opts.Format == report.FormatJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"removed": args[0]})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return err
		},
	}

	cmd.Flags().StringVar(&village, "village", "", "village id or name")
	return cmd
}
