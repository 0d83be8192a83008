// Package validation checks record payloads against the transaction, budget
// and loan schemas. The server rejects invalid records per record; the client
// uses the same rules to refuse obviously broken input before storing it.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID            string          `json:"id" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	Kind          string          `json:"kind" validate:"required,oneof=income expense"`
	Category      string          `json:"category" validate:"required"`
	Description   string          `json:"description" validate:"max=500"`
	Date          string          `json:"date" validate:"required,isodate"`
	BankAccountID string          `json:"bankAccountId"`
}

type Budget struct {
	ID        string          `json:"id" validate:"required"`
	Name      string          `json:"name" validate:"required,max=120"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Category  string          `json:"category"`
	Period    string          `json:"period" validate:"required,oneof=weekly monthly yearly"`
	StartDate string          `json:"startDate" validate:"required,isodate"`
	EndDate   string          `json:"endDate" validate:"omitempty,isodate"`
}

type Loan struct {
	ID           string          `json:"id" validate:"required"`
	Counterparty string          `json:"counterparty" validate:"required"`
	Principal    decimal.Decimal `json:"principal" validate:"gt=0"`
	InterestRate decimal.Decimal `json:"interestRate" validate:"gte=0"`
	Direction    string          `json:"direction" validate:"required,oneof=borrowed lent"`
	StartDate    string          `json:"startDate" validate:"required,isodate"`
	DueDate      string          `json:"dueDate" validate:"omitempty,isodate"`
	Status       string          `json:"status" validate:"required,oneof=active paid defaulted"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// Compare money as numbers so gt/gte apply to decimal fields.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, ok := ParseDate(fl.Field().String())
		return ok
	})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		b := sl.Current().Interface().(Budget)
		if before(b.EndDate, b.StartDate) {
			sl.ReportError(b.EndDate, "endDate", "EndDate", "afterstart", "")
		}
	}, Budget{})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		l := sl.Current().Interface().(Loan)
		if before(l.DueDate, l.StartDate) {
			sl.ReportError(l.DueDate, "dueDate", "DueDate", "afterstart", "")
		}
	}, Loan{})

	return v
}

// ParseDate accepts a calendar date (2006-01-02) or an RFC 3339 timestamp.
func ParseDate(s string) (time.Time, bool) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func before(a, b string) bool {
	ta, ok := ParseDate(a)
	if !ok {
		return false
	}
	tb, ok := ParseDate(b)
	if !ok {
		return false
	}
	return ta.Before(tb)
}

// Validate decodes payload as the schema of kind and checks it. Failures
// wrap common.ErrValidation; an unknown kind wraps common.ErrUnknownRecordType.
func Validate(kind string, payload json.RawMessage) error {
	var target any
	switch kind {
	case "transaction":
		target = &Transaction{}
	case "budget":
		target = &Budget{}
	case "loan":
		target = &Loan{}
	default:
		return fmt.Errorf("%w: %q", common.ErrUnknownRecordType, kind)
	}

	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("%w: %s", common.ErrValidation, decodeMessage(err))
	}

	if err := validate.Struct(target); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return fmt.Errorf("%w: %s", common.ErrValidation, describe(ve))
		}
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return nil
}

func decodeMessage(err error) string {
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) && te.Field != "" {
		return fmt.Sprintf("%s has the wrong type", te.Field)
	}
	return err.Error()
}

func describe(ve validator.ValidationErrors) string {
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, message(fe))
	}
	return strings.Join(msgs, "; ")
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	case "gte":
		return fe.Field() + " must not be negative"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "isodate":
		return fe.Field() + " must be a date (YYYY-MM-DD or RFC 3339)"
	case "afterstart":
		return fe.Field() + " must not be before the start date"
	case "max":
		return fe.Field() + " is too long"
	default:
		return fe.Field() + " failed " + fe.Tag()
	}
}
