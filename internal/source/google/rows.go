package google

import (
	"fmt"
	"strings"

	"villagecash/internal/core"
)

type sheetRow struct {
	// Number is the 1-based sheet row.
	Number int
	Raw    core.RawRecord
}

// Column order used when the sheet has no recognizable header.
var defaultColumns = []string{"_id", "village", "villageName", "date", "householdsCollected", "amountCollected"}

var headerKeys = map[string]string{
	"id":          "_id",
	"villageid":   "village",
	"village":     "village",
	"villagename": "villageName",
	"name":        "villageName",
	"date":        "date",
	"day":         "date",
	"households":  "householdsCollected",
	"customers":   "householdsCollected",
	"amount":      "amountCollected",
	"collected":   "amountCollected",
}

func headerKey(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
	return headerKeys[h]
}

// parseRows converts a values matrix into raw records keyed by field name.
// Empty and cleared rows are skipped.
func parseRows(values [][]any) []sheetRow {
	if len(values) == 0 {
		return nil
	}
	cols := defaultColumns
	start := 0
	if hdr := toStrings(values[0]); isHeader(hdr) {
		cols = make([]string, len(hdr))
		for i, h := range hdr {
			cols[i] = headerKey(h)
		}
		start = 1
	}

	var out []sheetRow
	for i := start; i < len(values); i++ {
		raw := core.RawRecord{}
		for j, v := range values[i] {
			if j >= len(cols) || cols[j] == "" {
				continue
			}
			s := strings.TrimSpace(fmt.Sprint(v))
			if s == "" {
				continue
			}
			raw[cols[j]] = s
		}
		if len(raw) == 0 {
			continue
		}
		out = append(out, sheetRow{Number: i + 1, Raw: raw})
	}
	return out
}

func isHeader(row []string) bool {
	for _, h := range row {
		if headerKey(h) == "date" {
			return true
		}
	}
	return false
}

// rowValues renders rec in default column order. Absent numbers are left blank.
func rowValues(rec core.Record) []any {
	households := any("")
	if rec.Customers != nil {
		households = *rec.Customers
	}
	amount := any("")
	if rec.Amount != nil {
		amount = rec.Amount.String()
	}
	return []any{rec.ID, rec.Village.ID, rec.Village.Name, string(rec.Date), households, amount}
}

func findRow(rows []sheetRow, id string) (sheetRow, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return sheetRow{}, false
	}
	for _, r := range rows {
		if s, _ := r.Raw["_id"].(string); s == id {
			return r, true
		}
	}
	return sheetRow{}, false
}

// conflict reports a DuplicateDateError when another row of rec's village
// is already on rec's day.
func conflict(rows []sheetRow, rec core.Record, exceptID string) error {
	if !rec.Date.Valid() {
		return nil
	}
	for _, r := range rows {
		other, _ := core.FromRaw(r.Raw)
		if other.ID == exceptID && exceptID != "" {
			continue
		}
		if other.Date == rec.Date && other.Village.Matches(rec.Village) {
			return &core.DuplicateDateError{Village: rec.Village, Date: rec.Date, ExistingID: other.ID}
		}
	}
	return nil
}

func villagesOf(rows []sheetRow) []core.Village {
	var out []core.Village
	for _, r := range rows {
		rec, _ := core.FromRaw(r.Raw)
		if rec.Village.IsZero() {
			continue
		}
		dup := false
		for _, v := range out {
			if v.Ref().Matches(rec.Village) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, core.Village{ID: rec.Village.ID, Name: rec.Village.Name})
		}
	}
	return out
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
