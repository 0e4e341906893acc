package domain

import "fmt"

// saleTransitions lists the legal status moves. Physical removal is not a
// transition and is allowed from any status.
var saleTransitions = map[SaleStatus][]SaleStatus{
	SaleStatusDraft:     {SaleStatusPending, SaleStatusCompleted},
	SaleStatusPending:   {SaleStatusPending, SaleStatusCompleted, SaleStatusCancelled},
	SaleStatusCompleted: {SaleStatusPending, SaleStatusCancelled},
	SaleStatusCancelled: {SaleStatusPending, SaleStatusCompleted},
}

func (s SaleStatus) Valid() bool {
	_, ok := saleTransitions[s]
	return ok
}

func (s SaleStatus) CanTransition(to SaleStatus) bool {
	for _, next := range saleTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Active sales carry stock and customer effects.
func (s SaleStatus) Active() bool {
	return s == SaleStatusPending || s == SaleStatusCompleted
}

// SettledStatus is the status an active sale takes for the given balance.
func SettledStatus(remainingIsZero bool) SaleStatus {
	if remainingIsZero {
		return SaleStatusCompleted
	}
	return SaleStatusPending
}

type TransitionError struct {
	From SaleStatus
	To   SaleStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("sale cannot move from %s to %s", e.From, e.To)
}
