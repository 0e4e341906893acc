package money

import (
	"time"

	"github.com/shopspring/decimal"

	"posdesk/backend/internal/store"
)

type ScheduledInstallment struct {
	Number    int
	DueAmount decimal.Decimal
	DueDate   time.Time
}

// BuildSchedule splits remaining into count monthly installments of the
// rounded equal share. The last installment takes whatever the earlier ones
// left, so the amounts always sum to remaining. When rounding makes the share
// large relative to the balance, trailing installments come out as zero.
func BuildSchedule(remaining decimal.Decimal, count int, currency string, start time.Time) ([]ScheduledInstallment, error) {
	if count < 1 {
		return nil, store.Invalid("installment_count", "must be at least 1")
	}
	if !remaining.IsPositive() {
		return nil, store.Invalid("remaining_amount", "must be positive to schedule installments")
	}

	base := Round(remaining.Div(decimal.NewFromInt(int64(count))), currency)
	pool := remaining
	startDay := DateOf(start)

	schedule := make([]ScheduledInstallment, 0, count)
	for i := 0; i < count; i++ {
		share := pool
		if i < count-1 {
			share = Min(base, pool)
		}
		pool = pool.Sub(share)
		schedule = append(schedule, ScheduledInstallment{
			Number:    i + 1,
			DueAmount: share,
			DueDate:   AddMonths(startDay, i+1),
		})
	}
	return schedule, nil
}

// AddMonths moves t forward by months, pinning the day to the end of shorter
// months (Jan 31 + 1 month is Feb 28/29).
func AddMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// DateOf truncates t to midnight UTC of its UTC calendar day.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
