package models

import "fmt"

type CreditPlan struct {
	ID              string `json:"id"`
	DisplayName     string `json:"display_name"`
	CreditsAmount   int    `json:"credits_amount"`
	PriceMinorUnits int    `json:"price_minor_units"`
	IsActive        bool   `json:"is_active"`
}

// ActivePlans keeps catalog order and drops inactive entries.
func ActivePlans(plans []CreditPlan) []CreditPlan {
	active := make([]CreditPlan, 0, len(plans))
	for _, p := range plans {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active
}

// DefaultPlan picks the active plan whose id equals hint, else the first active plan.
func DefaultPlan(plans []CreditPlan, hint string) (CreditPlan, bool) {
	var first *CreditPlan
	for i := range plans {
		if !plans[i].IsActive {
			continue
		}
		if first == nil {
			first = &plans[i]
		}
		if hint != "" && plans[i].ID == hint {
			return plans[i], true
		}
	}
	if first == nil {
		return CreditPlan{}, false
	}
	return *first, true
}

// MostPopular is position based: the second active plan.
func MostPopular(plans []CreditPlan) (CreditPlan, bool) {
	active := ActivePlans(plans)
	if len(active) < 2 {
		return CreditPlan{}, false
	}
	return active[1], true
}

// FindPlan looks up an active plan by id.
func FindPlan(plans []CreditPlan, id string) (CreditPlan, bool) {
	for _, p := range plans {
		if p.ID == id && p.IsActive {
			return p, true
		}
	}
	return CreditPlan{}, false
}

// FormatMinorUnits renders an amount in reais, e.g. 5000 -> "R$ 50,00".
func FormatMinorUnits(amount int) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%sR$ %d,%02d", sign, amount/100, amount%100)
}
