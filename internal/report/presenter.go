package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"villagecash/internal/core"
)

// Output formats accepted by NewPresenter.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Presenter renders records and their aggregates.
type Presenter interface {
	Villages(vs []core.Village) error
	Records(village core.VillageRef, records []core.Record) error
	Record(rec core.Record) error
	Summary(village core.VillageRef, s core.Summary) error
	Day(village core.VillageRef, d core.DayTotals) error
	Overview(ov core.Overview) error
}

// NewPresenter returns the presenter for format writing to w.
func NewPresenter(format string, w io.Writer) (Presenter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		return &TextPresenter{w: w}, nil
	case FormatJSON:
		return &JSONPresenter{enc: newEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want text or json)", format)
	}
}

func newEncoder(w io.Writer) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc
}

// TextPresenter writes aligned tables.
type TextPresenter struct {
	w io.Writer
}

func (p *TextPresenter) table(header string, rows func(tw *tabwriter.Writer)) error {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	rows(tw)
	return tw.Flush()
}

func (p *TextPresenter) Villages(vs []core.Village) error {
	return p.table("ID\tNAME", func(tw *tabwriter.Writer) {
		for _, v := range vs {
			fmt.Fprintf(tw, "%s\t%s\n", dash(v.ID), dash(v.Name))
		}
	})
}

func (p *TextPresenter) Records(village core.VillageRef, records []core.Record) error {
	fmt.Fprintf(p.w, "%s: %d records\n", village, len(records))
	return p.table("ID\tDATE\tHOUSEHOLDS\tAMOUNT", func(tw *tabwriter.Writer) {
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Date, customers(r), amount(r))
		}
	})
}

func (p *TextPresenter) Record(r core.Record) error {
	_, err := fmt.Fprintf(p.w, "%s %s %s households=%s amount=%s\n", r.ID, r.Village, r.Date, customers(r), amount(r))
	return err
}

func (p *TextPresenter) Summary(village core.VillageRef, s core.Summary) error {
	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Village\t%s\n", village)
	fmt.Fprintf(tw, "Records\t%d\n", s.TotalRecords)
	fmt.Fprintf(tw, "Households\t%d\n", s.TotalCustomers)
	fmt.Fprintf(tw, "Total\t%s\n", s.TotalAmount)
	fmt.Fprintf(tw, "Average per record\t%s\n", s.AveragePerRecord)
	fmt.Fprintf(tw, "Average per household\t%s\n", s.AveragePerCustomer)
	fmt.Fprintf(tw, "Highest\t%s\n", s.MaxAmount)
	fmt.Fprintf(tw, "Lowest\t%s\n", s.MinAmount)
	fmt.Fprintf(tw, "Best day\t%s\n", dash(string(s.MostProfitableDate)))
	return tw.Flush()
}

func (p *TextPresenter) Day(village core.VillageRef, d core.DayTotals) error {
	_, err := fmt.Fprintf(p.w, "%s %s: %d households, %s collected (%d records)\n",
		village, dash(string(d.Date)), d.Customers, d.Amount, d.Records)
	return err
}

func (p *TextPresenter) Overview(ov core.Overview) error {
	return p.table("VILLAGE\tRECORDS\tHOUSEHOLDS\tTOTAL\tAVG/HOUSEHOLD\tBEST DAY", func(tw *tabwriter.Writer) {
		for _, v := range ov.Villages {
			overviewRow(tw, v.Village.String(), v.Summary)
		}
		overviewRow(tw, "ALL", ov.Total)
	})
}

func overviewRow(tw io.Writer, name string, s core.Summary) {
	fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n", name, s.TotalRecords, s.TotalCustomers,
		s.TotalAmount, s.AveragePerCustomer, dash(string(s.MostProfitableDate)))
}

// JSONPresenter writes one indented JSON document per call.
type JSONPresenter struct {
	enc *json.Encoder
}

func (p *JSONPresenter) Villages(vs []core.Village) error {
	if vs == nil {
		vs = []core.Village{}
	}
	return p.enc.Encode(vs)
}

func (p *JSONPresenter) Records(village core.VillageRef, records []core.Record) error {
	if records == nil {
		records = []core.Record{}
	}
	return p.enc.Encode(struct {
		Village core.VillageRef `json:"village"`
		Records []core.Record   `json:"records"`
	}{village, records})
}

func (p *JSONPresenter) Record(r core.Record) error {
	return p.enc.Encode(r)
}

func (p *JSONPresenter) Summary(village core.VillageRef, s core.Summary) error {
	return p.enc.Encode(core.VillageSummary{Village: village, Summary: s})
}

func (p *JSONPresenter) Day(village core.VillageRef, d core.DayTotals) error {
	return p.enc.Encode(struct {
		Village core.VillageRef `json:"village"`
		core.DayTotals
	}{village, d})
}

func (p *JSONPresenter) Overview(ov core.Overview) error {
	return p.enc.Encode(ov)
}

func customers(r core.Record) string {
	if r.Customers == nil {
		return "-"
	}
	return strconv.FormatInt(*r.Customers, 10)
}

func amount(r core.Record) string {
	if r.Amount == nil {
		return "-"
	}
	return r.Amount.String()
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
