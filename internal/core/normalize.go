package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Accepted field names, first match wins. Creation and read paths of the
// collaborators disagree on naming, this is the one place that knows.
var (
	idKeys          = []string{"id", "_id", "ID"}
	villageIDKeys   = []string{"villageId", "village_id", "village"}
	villageNameKeys = []string{"villageName", "village_name"}
	dateKeys        = []string{"date", "day"}
	customerKeys    = []string{"customers", "householdsCollected", "households_collected"}
	amountKeys      = []string{"amountCollected", "amount", "amount_collected"}
)

// RecordNormalizer maps raw collaborator records to canonical Records.
type RecordNormalizer struct {
	Dates DateNormalizer
}

// FromRaw uses the default normalizer.
func FromRaw(raw RawRecord) (Record, error) {
	return RecordNormalizer{Dates: defaultNormalizer}.FromRaw(raw)
}

// Merge uses the default normalizer.
func Merge(base Record, patch RawRecord) (Record, error) {
	return RecordNormalizer{Dates: defaultNormalizer}.Merge(base, patch)
}

// FromRaw builds a Record from raw without mutating it. A numeric field that
// is present but unreadable is left absent and reported as a
// ValidationError; the partially filled record is still returned. An
// unreadable date is not an error here, the record carries InvalidDay.
func (n RecordNormalizer) FromRaw(raw RawRecord) (Record, error) {
	var rec Record
	var errs []error

	if v, ok := lookup(raw, idKeys); ok {
		rec.ID = scalarString(v)
	}
	rec.Village = villageFromRaw(raw)
	if v, ok := lookup(raw, dateKeys); ok {
		rec.Date = n.day(v)
	}
	if v, ok := lookup(raw, customerKeys); ok {
		c, err := toCustomers(v)
		if err != nil {
			errs = append(errs, &ValidationError{Field: "customers", Reason: err.Error(), Err: ErrInvalidCustomers})
		} else {
			rec.Customers = &c
		}
	}
	if v, ok := lookup(raw, amountKeys); ok {
		m, err := toMoney(v)
		if err != nil {
			errs = append(errs, &ValidationError{Field: "amount", Reason: err.Error(), Err: ErrInvalidAmount})
		} else {
			rec.Amount = &m
		}
	}
	return rec, errors.Join(errs...)
}

// Merge overlays the fields present in patch onto base. The id of base is
// kept whatever the patch says.
func (n RecordNormalizer) Merge(base Record, patch RawRecord) (Record, error) {
	p, err := n.FromRaw(patch)
	if err != nil {
		return base, err
	}
	out := base.Clone()
	if _, ok := lookup(patch, villageIDKeys); ok {
		out.Village.ID = p.Village.ID
	}
	if _, ok := lookup(patch, villageNameKeys); ok {
		out.Village.Name = p.Village.Name
	}
	if _, ok := lookup(patch, dateKeys); ok {
		out.Date = p.Date
	}
	if _, ok := lookup(patch, customerKeys); ok {
		out.Customers = p.Customers
	}
	if _, ok := lookup(patch, amountKeys); ok {
		out.Amount = p.Amount
	}
	return out, nil
}

// ToRaw renders a record with the creation-path field names.
func ToRaw(r Record) RawRecord {
	raw := RawRecord{"date": string(r.Date)}
	if r.ID != "" {
		raw["id"] = r.ID
	}
	if r.Village.ID != "" {
		raw["villageId"] = r.Village.ID
	}
	if r.Village.Name != "" {
		raw["villageName"] = r.Village.Name
	}
	if r.Customers != nil {
		raw["customers"] = *r.Customers
	}
	if r.Amount != nil {
		raw["amountCollected"] = r.Amount.String()
	}
	return raw
}

func (n RecordNormalizer) day(v any) DayKey {
	switch t := v.(type) {
	case time.Time:
		return n.Dates.NormalizeTime(t)
	case *time.Time:
		if t == nil {
			return InvalidDay
		}
		return n.Dates.NormalizeTime(*t)
	case string:
		return n.Dates.Normalize(t)
	case DayKey:
		return n.Dates.Normalize(string(t))
	default:
		return InvalidDay
	}
}

func lookup(raw RawRecord, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func villageFromRaw(raw RawRecord) VillageRef {
	var ref VillageRef
	if v, ok := lookup(raw, villageIDKeys); ok {
		switch t := v.(type) {
		case map[string]any:
			ref.ID = scalarString(t["id"])
			ref.Name = scalarString(t["name"])
		case VillageRef:
			ref = t
		default:
			ref.ID = scalarString(v)
		}
	}
	if v, ok := lookup(raw, villageNameKeys); ok {
		ref.Name = scalarString(v)
	}
	return ref
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func toCustomers(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) || t != math.Trunc(t) {
			return 0, fmt.Errorf("not a whole number: %v", t)
		}
		return int64(t), nil
	case json.Number:
		return parseCount(t.String())
	case string:
		return parseCount(t)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func parseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("not a whole number: %q", s)
	}
	return int64(f), nil
}

func toMoney(v any) (Money, error) {
	switch t := v.(type) {
	case int:
		return AmountFromInt(int64(t))
	case int64:
		return AmountFromInt(t)
	case float64:
		return AmountFromFloat(t)
	case json.Number:
		return ParseAmount(t.String())
	case string:
		return ParseAmount(t)
	case Money:
		return t, nil
	default:
		return Money{}, fmt.Errorf("unsupported type %T", v)
	}
}
