package core

import (
	"slices"
	"time"
)

// Summary is derived from a record set on demand and never stored.
// MostProfitableDate is InvalidDay when there are no records.
type Summary struct {
	TotalAmount        Money  `json:"totalAmount"`
	TotalCustomers     int64  `json:"totalCustomers"`
	TotalRecords       int    `json:"totalRecords"`
	AveragePerRecord   Money  `json:"averagePerRecord"`
	AveragePerCustomer Money  `json:"averagePerCustomer"`
	MaxAmount          Money  `json:"maxAmount"`
	MinAmount          Money  `json:"minAmount"`
	MostProfitableDate DayKey `json:"mostProfitableDate"`
}

// DayTotals is the single-day reduction behind the "today" cards.
type DayTotals struct {
	Date      DayKey `json:"date"`
	Customers int64  `json:"customers"`
	Amount    Money  `json:"amount"`
	Records   int    `json:"records"`
}

// VillageSummary pairs a village with the summary of its records.
type VillageSummary struct {
	Village VillageRef `json:"village"`
	Summary Summary    `json:"summary"`
}

// Overview is the village list view: one summary per village plus the
// summary over every record.
type Overview struct {
	Villages []VillageSummary `json:"villages"`
	Total    Summary          `json:"total"`
}

// Summarize reduces records in iteration order. Records with an invalid day
// are skipped. When several records share the maximum amount the first one
// encountered gives MostProfitableDate.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		if !r.Date.Valid() {
			continue
		}
		amount := r.AmountValue()
		s.TotalAmount = s.TotalAmount.Add(amount)
		s.TotalCustomers += r.CustomerCount()
		if s.TotalRecords == 0 || amount.Cents > s.MaxAmount.Cents {
			s.MaxAmount = amount
			s.MostProfitableDate = r.Date
		}
		if s.TotalRecords == 0 || amount.Cents < s.MinAmount.Cents {
			s.MinAmount = amount
		}
		s.TotalRecords++
	}
	if s.TotalRecords == 0 {
		return Summary{}
	}
	s.AveragePerRecord = s.TotalAmount.DivRound(int64(s.TotalRecords))
	if s.TotalCustomers > 0 {
		s.AveragePerCustomer = s.TotalAmount.DivRound(s.TotalCustomers)
	}
	return s
}

// FilterSameDay returns the records falling on the calendar day of ref.
// ref comes from the caller, typically the server clock.
func FilterSameDay(records []Record, ref time.Time) []Record {
	return filterDay(records, NormalizeTime(ref))
}

// TodayTotals sums customers and amount of the records on ref's day.
func TodayTotals(records []Record, ref time.Time) DayTotals {
	return totalsFor(NormalizeTime(ref), records)
}

// DayTotalsFor is TodayTotals for an already normalized day.
func DayTotalsFor(records []Record, day DayKey) DayTotals {
	return totalsFor(day, records)
}

func filterDay(records []Record, day DayKey) []Record {
	var out []Record
	if !day.Valid() {
		return out
	}
	for _, r := range records {
		if r.Date == day {
			out = append(out, r)
		}
	}
	return out
}

func totalsFor(day DayKey, records []Record) DayTotals {
	t := DayTotals{Date: day}
	for _, r := range filterDay(records, day) {
		t.Customers += r.CustomerCount()
		t.Amount = t.Amount.Add(r.AmountValue())
		t.Records++
	}
	return t
}

// DailyTotals groups records by day, newest day first.
func DailyTotals(records []Record) []DayTotals {
	byDay := map[DayKey]*DayTotals{}
	var days []DayKey
	for _, r := range records {
		if !r.Date.Valid() {
			continue
		}
		t, ok := byDay[r.Date]
		if !ok {
			t = &DayTotals{Date: r.Date}
			byDay[r.Date] = t
			days = append(days, r.Date)
		}
		t.Customers += r.CustomerCount()
		t.Amount = t.Amount.Add(r.AmountValue())
		t.Records++
	}
	slices.SortFunc(days, CompareDesc)
	out := make([]DayTotals, 0, len(days))
	for _, d := range days {
		out = append(out, *byDay[d])
	}
	return out
}

// FilterRange keeps records whose day lies in [from, to]. An invalid bound
// leaves that side open.
func FilterRange(records []Record, from, to DayKey) []Record {
	var out []Record
	for _, r := range records {
		if !r.Date.Valid() {
			continue
		}
		if from.Valid() && r.Date < from {
			continue
		}
		if to.Valid() && r.Date > to {
			continue
		}
		out = append(out, r)
	}
	return out
}

// BuildOverview summarizes each village's records, in the order given, and
// all records together.
func BuildOverview(villages []VillageRef, records map[string][]Record) Overview {
	ov := Overview{Villages: make([]VillageSummary, 0, len(villages))}
	var all []Record
	for _, v := range villages {
		recs := records[v.Key()]
		ov.Villages = append(ov.Villages, VillageSummary{Village: v, Summary: Summarize(recs)})
		all = append(all, recs...)
	}
	ov.Total = Summarize(all)
	return ov
}
