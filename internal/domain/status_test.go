package domain

import "testing"

func TestSaleStatusTransitions(t *testing.T) {
	cases := []struct {
		from SaleStatus
		to   SaleStatus
		ok   bool
	}{
		{SaleStatusDraft, SaleStatusPending, true},
		{SaleStatusDraft, SaleStatusCompleted, true},
		{SaleStatusDraft, SaleStatusCancelled, false},
		{SaleStatusPending, SaleStatusCancelled, true},
		{SaleStatusCompleted, SaleStatusCancelled, true},
		{SaleStatusCompleted, SaleStatusPending, true},
		{SaleStatusCancelled, SaleStatusCompleted, true},
		{SaleStatusCancelled, SaleStatusCancelled, false},
		{SaleStatusCancelled, SaleStatusDraft, false},
		{SaleStatusPending, SaleStatusDraft, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestUnknownStatusIsInvalid(t *testing.T) {
	if SaleStatus("voided").Valid() {
		t.Fatalf("expected unknown status to be invalid")
	}
	if !SaleStatusDraft.Valid() {
		t.Fatalf("expected draft to be valid")
	}
}
