package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/money"
	"posdesk/backend/internal/store"
)

// SalesReport aggregates active sales per currency. Results are cached per
// filter until the next committed mutation, and concurrent builds of the same
// report share one computation.
func (s *Service) SalesReport(ctx context.Context, filter domain.ReportFilter) (*domain.SalesReport, error) {
	filter.Currency = money.NormalizeCurrency(filter.Currency)
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, store.Invalid("endDate", "must not be before startDate")
	}

	key, err := s.reportKey(ctx, filter)
	if err != nil {
		s.logger.Warn("report cache generation unavailable", slog.Any("error", err))
		return s.buildReport(ctx, filter)
	}
	if cached, ok, err := s.reports.Get(ctx, key); err != nil {
		s.logger.Warn("report cache read failed", slog.String("key", key), slog.Any("error", err))
	} else if ok {
		return cached, nil
	}

	value, err, _ := s.reportGroup.Do(key, func() (any, error) {
		report, err := s.buildReport(ctx, filter)
		if err != nil {
			return nil, err
		}
		if err := s.reports.Set(ctx, key, report, s.reportTTL); err != nil {
			s.logger.Warn("report cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return report, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*domain.SalesReport), nil
}

func (s *Service) reportKey(ctx context.Context, filter domain.ReportFilter) (string, error) {
	gen, err := s.reports.Generation(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("g%d:%s:%s:%s", gen, dateKey(filter.StartDate), dateKey(filter.EndDate), filter.Currency), nil
}

func dateKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func (s *Service) buildReport(ctx context.Context, filter domain.ReportFilter) (*domain.SalesReport, error) {
	sales, err := s.repo.ListReportSales(ctx, filter)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]struct{})
	var productIDs []int64
	for _, sale := range sales {
		for _, item := range sale.Items {
			if _, ok := seen[item.ProductID]; ok {
				continue
			}
			seen[item.ProductID] = struct{}{}
			productIDs = append(productIDs, item.ProductID)
		}
	}
	costs, err := s.repo.GetProductCosts(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	overdue, err := s.repo.CountOverdueInstallments(ctx, now)
	if err != nil {
		return nil, err
	}

	report := AggregateReport(sales, costs, overdue, now)
	report.StartDate = dateKey(filter.StartDate)
	report.EndDate = dateKey(filter.EndDate)
	report.Currency = filter.Currency
	return report, nil
}

// AggregateReport folds sales into per-currency summaries. Cancelled and
// draft sales are skipped. Item profit uses the product's current cost; sale
// discount and interest are folded in once per currency.
func AggregateReport(sales []domain.Sale, costs map[int64]decimal.Decimal, overdue int, now time.Time) *domain.SalesReport {
	buckets := make(map[string]*domain.CurrencySummary)

	for _, sale := range sales {
		if !sale.Status.Active() {
			continue
		}
		summary, ok := buckets[sale.Currency]
		if !ok {
			summary = &domain.CurrencySummary{
				Currency:      sale.Currency,
				ByPaymentType: make(map[domain.PaymentType]int),
				ByStatus:      make(map[domain.SaleStatus]int),
			}
			buckets[sale.Currency] = summary
		}

		summary.SalesCount++
		summary.TotalSales = summary.TotalSales.Add(sale.Total)
		summary.TotalPaid = summary.TotalPaid.Add(sale.PaidAmount)
		summary.TotalRemaining = summary.TotalRemaining.Add(sale.RemainingAmount)
		summary.TotalDiscount = summary.TotalDiscount.Add(sale.Discount)
		summary.TotalInterest = summary.TotalInterest.Add(sale.InterestAmount)
		summary.Revenue = summary.Revenue.Add(sale.Total.Sub(sale.InterestAmount))
		summary.ByPaymentType[sale.PaymentType]++
		summary.ByStatus[sale.Status]++

		for _, item := range sale.Items {
			if item.Quantity <= 0 {
				continue
			}
			qty := decimal.NewFromInt(int64(item.Quantity))
			margin := item.UnitPrice.Mul(qty).Sub(item.Discount).Sub(costs[item.ProductID].Mul(qty))
			summary.Profit = summary.Profit.Add(margin)
		}
	}

	report := &domain.SalesReport{
		Currencies:          make([]domain.CurrencySummary, 0, len(buckets)),
		OverdueInstallments: overdue,
		GeneratedAt:         now,
	}
	for _, summary := range buckets {
		summary.Profit = summary.Profit.Sub(summary.TotalDiscount).Add(summary.TotalInterest)
		report.Currencies = append(report.Currencies, *summary)
	}
	sort.Slice(report.Currencies, func(i, j int) bool {
		return report.Currencies[i].Currency < report.Currencies[j].Currency
	})
	return report
}
