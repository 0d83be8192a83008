package cli

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/models"
)

type field struct {
	name     string
	prompt   string
	optional bool
	def      func() string
}

func today() string { return time.Now().Format(time.DateOnly) }

func constant(v string) func() string { return func() string { return v } }

// forms lists the prompts for each record type, in order.
var forms = map[models.RecordType][]field{
	models.RecordTypeTransaction: {
		{name: "amount", prompt: "Amount"},
		{name: "kind", prompt: "Kind (income/expense)", def: constant("expense")},
		{name: "category", prompt: "Category"},
		{name: "description", prompt: "Description", optional: true},
		{name: "date", prompt: "Date (YYYY-MM-DD)", def: today},
		{name: "bankAccountId", prompt: "Bank account id", optional: true},
	},
	models.RecordTypeBudget: {
		{name: "name", prompt: "Name"},
		{name: "amount", prompt: "Amount"},
		{name: "category", prompt: "Category", optional: true},
		{name: "period", prompt: "Period (weekly/monthly/yearly)", def: constant("monthly")},
		{name: "startDate", prompt: "Start date (YYYY-MM-DD)", def: today},
		{name: "endDate", prompt: "End date (YYYY-MM-DD)", optional: true},
	},
	models.RecordTypeLoan: {
		{name: "counterparty", prompt: "Counterparty"},
		{name: "principal", prompt: "Principal"},
		{name: "interestRate", prompt: "Interest rate", def: constant("0")},
		{name: "direction", prompt: "Direction (borrowed/lent)", def: constant("borrowed")},
		{name: "startDate", prompt: "Start date (YYYY-MM-DD)", def: today},
		{name: "dueDate", prompt: "Due date (YYYY-MM-DD)", optional: true},
		{name: "status", prompt: "Status (active/paid/defaulted)", def: constant("active")},
	},
}

// fillForm prompts for every field of t. Values in existing are offered as
// defaults; an optional field left empty is removed.
func (a *App) fillForm(t models.RecordType, existing map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(existing))
	for k, v := range existing {
		out[k] = v
	}

	for _, f := range forms[t] {
		def := ""
		if v, ok := existing[f.name]; ok && v != nil {
			def = fmt.Sprint(v)
		} else if f.def != nil {
			def = f.def()
		}

		v, err := GetWithDefault(a.reader, f.prompt, def, a.out)
		if err != nil {
			return nil, err
		}
		if v == "" {
			if !f.optional {
				return nil, fmt.Errorf("%s is required", f.name)
			}
			delete(out, f.name)
			continue
		}
		out[f.name] = v
	}
	return out, nil
}

// summary renders one payload as a list row.
func summary(t models.RecordType, m map[string]any) string {
	s := func(k string) string {
		if v, ok := m[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return "-"
	}
	switch t {
	case models.RecordTypeTransaction:
		return fmt.Sprintf("%-36s  %-10s  %-7s  %10s  %s", s("id"), s("date"), s("kind"), s("amount"), s("category"))
	case models.RecordTypeBudget:
		return fmt.Sprintf("%-36s  %-10s  %-7s  %10s  %s", s("id"), s("startDate"), s("period"), s("amount"), s("name"))
	case models.RecordTypeLoan:
		return fmt.Sprintf("%-36s  %-10s  %-8s  %10s  %s (%s)", s("id"), s("startDate"), s("direction"), s("principal"), s("counterparty"), s("status"))
	default:
		return s("id")
	}
}
