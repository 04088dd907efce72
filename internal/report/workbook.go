package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"villagecash/internal/core"
)

const (
	summarySheet     = "Summary"
	collectionsSheet = "Collections"
)

// VillageReport is everything the workbook shows about one village.
type VillageReport struct {
	Village core.VillageRef
	Records []core.Record
	Summary core.Summary
	Today   core.DayTotals
}

// NewVillageReport derives the summary and today's totals from records.
// today should come from the backend clock.
func NewVillageReport(village core.VillageRef, records []core.Record, today time.Time) VillageReport {
	return VillageReport{
		Village: village,
		Records: records,
		Summary: core.Summarize(records),
		Today:   core.TodayTotals(records, today),
	}
}

// Workbook builds a two-sheet workbook: one summary row per village and
// every collection below each other.
func Workbook(reports []VillageReport, generated time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(collectionsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create style: %w", err)
	}

	summaryHeader := []any{"Village", "Records", "Households", "Total", "Avg/Record", "Avg/Household", "Highest", "Lowest", "Best day", "Today households", "Today amount"}
	if err := f.SetSheetRow(summarySheet, "A1", &summaryHeader); err != nil {
		f.Close()
		return nil, err
	}
	f.SetCellStyle(summarySheet, "A1", "K1", bold)

	var all []core.Record
	for i, r := range reports {
		s := r.Summary
		row := []any{
			r.Village.String(), s.TotalRecords, s.TotalCustomers,
			s.TotalAmount.Units(), s.AveragePerRecord.Units(), s.AveragePerCustomer.Units(),
			s.MaxAmount.Units(), s.MinAmount.Units(), string(s.MostProfitableDate),
			r.Today.Customers, r.Today.Amount.Units(),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			f.Close()
			return nil, err
		}
		all = append(all, r.Records...)
	}

	total := core.Summarize(all)
	footer := []any{"ALL", total.TotalRecords, total.TotalCustomers, total.TotalAmount.Units(),
		total.AveragePerRecord.Units(), total.AveragePerCustomer.Units(),
		total.MaxAmount.Units(), total.MinAmount.Units(), string(total.MostProfitableDate)}
	footerCell, _ := excelize.CoordinatesToCellName(1, len(reports)+2)
	if err := f.SetSheetRow(summarySheet, footerCell, &footer); err != nil {
		f.Close()
		return nil, err
	}
	genCell, _ := excelize.CoordinatesToCellName(1, len(reports)+4)
	f.SetCellValue(summarySheet, genCell, "Generated "+generated.Format(time.RFC3339))

	collectionsHeader := []any{"Village", "ID", "Date", "Households", "Amount"}
	if err := f.SetSheetRow(collectionsSheet, "A1", &collectionsHeader); err != nil {
		f.Close()
		return nil, err
	}
	f.SetCellStyle(collectionsSheet, "A1", "E1", bold)

	row := 2
	for _, r := range reports {
		for _, rec := range r.Records {
			values := []any{r.Village.String(), rec.ID, string(rec.Date), nil, nil}
			if rec.Customers != nil {
				values[3] = *rec.Customers
			}
			if rec.Amount != nil {
				values[4] = rec.Amount.Units()
			}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(collectionsSheet, cell, &values); err != nil {
				f.Close()
				return nil, err
			}
			row++
		}
	}

	f.SetColWidth(summarySheet, "A", "A", 20)
	f.SetColWidth(summarySheet, "B", "K", 14)
	f.SetColWidth(collectionsSheet, "A", "B", 38)
	f.SetColWidth(collectionsSheet, "C", "E", 12)
	return f, nil
}

// WriteWorkbook writes the workbook to w.
func WriteWorkbook(w io.Writer, reports []VillageReport, generated time.Time) error {
	f, err := Workbook(reports, generated)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// SaveWorkbook writes the workbook to dir as collections-YYYY-MM-DD.xlsx and
// returns the file path.
func SaveWorkbook(dir string, reports []VillageReport, generated time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	path := filepath.Join(dir, "collections-"+generated.Format("2006-01-02")+".xlsx")
	f, err := Workbook(reports, generated)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	return path, nil
}
