package core

import (
	"strings"
)

type (
	// VillageRef points at the village a record belongs to. ID is
	// authoritative when set; Name alone is tolerated for villages the
	// backend has not assigned an id to yet.
	VillageRef struct {
		ID   string `json:"id,omitempty" yaml:"id,omitempty"`
		Name string `json:"name,omitempty" yaml:"name,omitempty"`
	}

	Village struct {
		ID   string `json:"id" yaml:"id"`
		Name string `json:"name" yaml:"name"`
	}

	Money struct {
		Cents int64
	}

	// Record is the canonical daily collection entry for one village.
	// Customers and Amount stay nil until explicitly set.
	Record struct {
		ID        string     `json:"id,omitempty"`
		Village   VillageRef `json:"village"`
		Date      DayKey     `json:"date"`
		Customers *int64     `json:"customers,omitempty"`
		Amount    *Money     `json:"amount,omitempty"`
	}

	// RawRecord is a record as a collaborator hands it over, with whatever
	// field names that collaborator happens to use.
	RawRecord map[string]any
)

// Ref returns the reference form of the village.
func (v Village) Ref() VillageRef {
	return VillageRef{ID: v.ID, Name: v.Name}
}

// IsZero reports whether neither id nor name is set.
func (v VillageRef) IsZero() bool {
	return strings.TrimSpace(v.ID) == "" && strings.TrimSpace(v.Name) == ""
}

// Key returns a stable identity string, preferring the id.
func (v VillageRef) Key() string {
	if id := strings.TrimSpace(v.ID); id != "" {
		return "id:" + id
	}
	return "name:" + strings.ToLower(strings.TrimSpace(v.Name))
}

// Matches reports whether two references denote the same village. Ids are
// compared when both sides carry one, display names otherwise.
func (v VillageRef) Matches(o VillageRef) bool {
	vid, oid := strings.TrimSpace(v.ID), strings.TrimSpace(o.ID)
	if vid != "" && oid != "" {
		return vid == oid
	}
	vn, on := strings.TrimSpace(v.Name), strings.TrimSpace(o.Name)
	if vn == "" || on == "" {
		return false
	}
	return strings.EqualFold(vn, on)
}

// String returns the display name, falling back to the id.
func (v VillageRef) String() string {
	if n := strings.TrimSpace(v.Name); n != "" {
		return n
	}
	return strings.TrimSpace(v.ID)
}

// Persisted reports whether the record has been assigned an id.
func (r Record) Persisted() bool {
	return r.ID != ""
}

// CustomerCount returns the customer count, 0 when absent.
func (r Record) CustomerCount() int64 {
	if r.Customers == nil {
		return 0
	}
	return *r.Customers
}

// AmountValue returns the amount collected, 0 when absent.
func (r Record) AmountValue() Money {
	if r.Amount == nil {
		return Money{}
	}
	return *r.Amount
}

// Clone returns a copy that shares no pointers with r.
func (r Record) Clone() Record {
	out := r
	if r.Customers != nil {
		c := *r.Customers
		out.Customers = &c
	}
	if r.Amount != nil {
		a := *r.Amount
		out.Amount = &a
	}
	return out
}

// Clone returns a shallow copy of the map; the input is never mutated by
// the normalizer, callers who want to edit a raw record should use this.
func (r RawRecord) Clone() RawRecord {
	out := make(RawRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Int64Ptr and MoneyPtr are small helpers for building records.
func Int64Ptr(v int64) *int64 { return &v }

func MoneyPtr(cents int64) *Money { return &Money{Cents: cents} }
