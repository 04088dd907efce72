package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// recordCheck is the flat view of a Record the validator looks at.
type recordCheck struct {
	Date      string `validate:"required,datetime=2006-01-02"`
	Customers int64  `validate:"gte=0"`
	Amount    int64  `validate:"gte=0"`
}

// Validate checks the record invariants: a valid canonical day and
// non-negative customer count and amount.
func (r Record) Validate() error {
	err := validatorInstance().Struct(recordCheck{
		Date:      string(r.Date),
		Customers: r.CustomerCount(),
		Amount:    r.AmountValue().Cents,
	})
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Reason: err.Error(), Err: err}
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Date":
		return &ValidationError{Field: "date", Reason: "must be a calendar day (YYYY-MM-DD)", Err: ErrInvalidDate}
	case "Customers":
		return &ValidationError{Field: "customers", Reason: fmt.Sprintf("must be >= 0, got %d", r.CustomerCount()), Err: ErrInvalidCustomers}
	case "Amount":
		return &ValidationError{Field: "amount", Reason: fmt.Sprintf("must be >= 0, got %s", r.AmountValue()), Err: ErrInvalidAmount}
	}
	return &ValidationError{Field: fe.Field(), Reason: fe.Tag(), Err: err}
}
