package core

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func rec(date string, customers, cents int64) Record {
	return Record{Date: DayKey(date), Customers: Int64Ptr(customers), Amount: MoneyPtr(cents)}
}

func TestSummarizeEmpty(t *testing.T) {
	if got := Summarize(nil); got != (Summary{}) {
		t.Fatalf("expected zero summary, got %+v", got)
	}
	if got := Summarize([]Record{}); got.MostProfitableDate.Valid() {
		t.Fatalf("expected no most profitable date, got %q", got.MostProfitableDate)
	}
}

func TestEmptySummaryJSON(t *testing.T) {
	b, err := json.Marshal(Summarize(nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"mostProfitableDate":null`) {
		t.Fatalf("expected null most profitable date, got %s", b)
	}
	var back Summary
	back.MostProfitableDate = "2024-01-01"
	if err := json.Unmarshal(b, &back); err != nil || back.MostProfitableDate.Valid() {
		t.Fatalf("unmarshal: %+v err=%v", back, err)
	}

	b, err = json.Marshal(Summarize([]Record{rec("2024-03-02", 1, 100)}))
	if err != nil || !strings.Contains(string(b), `"mostProfitableDate":"2024-03-02"`) {
		t.Fatalf("expected the day as a string, got %s err=%v", b, err)
	}
}

func TestSummarizeScenario(t *testing.T) {
	got := Summarize([]Record{
		rec("2024-01-01", 10, 10000),
		rec("2024-01-02", 5, 25000),
	})
	want := Summary{
		TotalAmount:        Money{Cents: 35000},
		TotalCustomers:     15,
		TotalRecords:       2,
		AveragePerRecord:   Money{Cents: 17500},
		AveragePerCustomer: Money{Cents: 2333},
		MaxAmount:          Money{Cents: 25000},
		MinAmount:          Money{Cents: 10000},
		MostProfitableDate: "2024-01-02",
	}
	if got != want {
		t.Fatalf("got %+v\nwant %+v", got, want)
	}
}

func TestSummarizeTieTakesFirstEncountered(t *testing.T) {
	records := []Record{
		rec("2024-01-03", 1, 500),
		rec("2024-01-02", 1, 900),
		rec("2024-01-01", 1, 900),
	}
	if got := Summarize(records).MostProfitableDate; got != "2024-01-02" {
		t.Fatalf("expected first max in order, got %q", got)
	}
	records[1], records[2] = records[2], records[1]
	if got := Summarize(records).MostProfitableDate; got != "2024-01-01" {
		t.Fatalf("expected first max in order, got %q", got)
	}
}

func TestSummarizeNoCustomers(t *testing.T) {
	s := Summarize([]Record{{Date: "2024-01-01", Amount: MoneyPtr(1000)}})
	if s.AveragePerCustomer.Cents != 0 || s.AveragePerRecord.Cents != 1000 {
		t.Fatalf("unexpected averages: %+v", s)
	}
}

func TestSummarizeSkipsInvalidDates(t *testing.T) {
	s := Summarize([]Record{rec("2024-01-01", 1, 100), {Date: InvalidDay, Amount: MoneyPtr(99999)}})
	if s.TotalRecords != 1 || s.MaxAmount.Cents != 100 {
		t.Fatalf("invalid record should be excluded: %+v", s)
	}
}

func TestTodayTotals(t *testing.T) {
	SetDefaultLocation(time.UTC)
	defer SetDefaultLocation(nil)

	records := []Record{
		rec("2024-05-02", 4, 4000),
		rec("2024-05-01", 7, 7000),
	}
	ref := time.Date(2024, 5, 2, 18, 45, 0, 0, time.UTC)
	got := TodayTotals(records, ref)
	want := DayTotals{Date: "2024-05-02", Customers: 4, Amount: Money{Cents: 4000}, Records: 1}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
	if n := len(FilterSameDay(records, ref.Add(24*time.Hour))); n != 0 {
		t.Fatalf("expected nothing on the next day, got %d", n)
	}
}

func TestDailyTotals(t *testing.T) {
	got := DailyTotals([]Record{
		rec("2024-01-01", 1, 100),
		rec("2024-01-03", 2, 200),
		rec("2024-01-01", 3, 300),
		{Date: InvalidDay, Amount: MoneyPtr(1)},
	})
	want := []DayTotals{
		{Date: "2024-01-03", Customers: 2, Amount: Money{Cents: 200}, Records: 1},
		{Date: "2024-01-01", Customers: 4, Amount: Money{Cents: 400}, Records: 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestFilterRange(t *testing.T) {
	records := []Record{rec("2024-03-01", 1, 1), rec("2024-02-15", 1, 1), rec("2024-01-31", 1, 1)}
	if got := FilterRange(records, "2024-02-01", "2024-02-29"); len(got) != 1 || got[0].Date != "2024-02-15" {
		t.Fatalf("unexpected range result: %+v", got)
	}
	if got := FilterRange(records, InvalidDay, "2024-02-15"); len(got) != 2 {
		t.Fatalf("open lower bound: %+v", got)
	}
}

func TestBuildOverview(t *testing.T) {
	a := VillageRef{ID: "a", Name: "Alpha"}
	b := VillageRef{Name: "Beta"}
	ov := BuildOverview([]VillageRef{a, b}, map[string][]Record{
		a.Key(): {rec("2024-01-01", 2, 1000)},
		b.Key(): {rec("2024-01-01", 3, 3000), rec("2023-12-31", 1, 500)},
	})
	if len(ov.Villages) != 2 || ov.Villages[1].Summary.TotalRecords != 2 {
		t.Fatalf("unexpected villages: %+v", ov.Villages)
	}
	if ov.Total.TotalAmount.Cents != 4500 || ov.Total.TotalCustomers != 6 {
		t.Fatalf("unexpected total: %+v", ov.Total)
	}
}
