package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"posdesk/backend/internal/cache"
	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/ledger"
	"posdesk/backend/internal/lock"
	"posdesk/backend/internal/store"
	"posdesk/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// SettingsProvider supplies the currency defaults sales are created with.
type SettingsProvider interface {
	Defaults(ctx context.Context) (domain.CurrencySettings, error)
}

type TransitionObserver interface {
	ObserveTransition(operation string, err error)
}

type Options struct {
	Settings    SettingsProvider
	Locker      lock.Locker
	ReportCache cache.ReportCache
	ReportTTL   time.Duration
	Observer    TransitionObserver
	Logger      *slog.Logger
	Clock       func() time.Time
}

type Service struct {
	repo      store.Repository
	settings  SettingsProvider
	locker    lock.Locker
	reports   cache.ReportCache
	reportTTL time.Duration
	observer  TransitionObserver
	logger    *slog.Logger
	clock     func() time.Time
	validate  *validator.Validate

	stock ledger.Stock
	debt  ledger.Debt

	reportGroup singleflight.Group
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Settings == nil {
		opts.Settings = staticSettings{}
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.ReportCache == nil {
		opts.ReportCache = cache.NoopReportCache{}
	}
	if opts.ReportTTL <= 0 {
		opts.ReportTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		repo:      repo,
		settings:  opts.Settings,
		locker:    opts.Locker,
		reports:   opts.ReportCache,
		reportTTL: opts.ReportTTL,
		observer:  opts.Observer,
		logger:    opts.Logger,
		clock:     opts.Clock,
		validate:  newValidator(),
	}
}

type staticSettings struct{}

func (staticSettings) Defaults(_ context.Context) (domain.CurrencySettings, error) {
	return domain.CurrencySettings{DefaultCurrency: domain.CurrencyIQD}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// mutate runs fn as one transaction, serialized on saleID when it is known,
// and flushes the store afterwards whatever the outcome.
func (s *Service) mutate(ctx context.Context, operation string, saleID int64, fn func(tx store.Tx) error) (err error) {
	defer func() {
		if s.observer != nil {
			s.observer.ObserveTransition(operation, err)
		}
	}()

	if saleID > 0 {
		release, lockErr := s.locker.Acquire(ctx, lock.SaleKey(saleID))
		if lockErr != nil {
			return lockErr
		}
		defer release()
	}

	err = s.repo.WithinTx(ctx, fn)
	if err == nil {
		if bumpErr := s.reports.Bump(context.WithoutCancel(ctx)); bumpErr != nil {
			s.logger.Warn("report cache invalidation failed", slog.String("operation", operation), slog.Any("error", bumpErr))
		}
	}
	if persistErr := s.repo.Persist(context.WithoutCancel(ctx)); persistErr != nil {
		s.logger.Error("persist failed", slog.String("operation", operation), slog.Int64("sale_id", saleID), slog.Any("error", persistErr))
	}
	return err
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			slog.String("action", action),
			slog.String("entity", entityType+"/"+entityID),
			slog.Any("error", err))
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, from string, to string, limit int) ([]domain.AuditLog, error) {
	start := s.now().AddDate(0, 0, -7)
	end := s.now().Add(time.Minute)
	if from != "" {
		parsed, err := time.Parse(time.DateOnly, from)
		if err != nil {
			return nil, store.Invalid("from", "must be YYYY-MM-DD")
		}
		start = parsed
	}
	if to != "" {
		parsed, err := time.Parse(time.DateOnly, to)
		if err != nil {
			return nil, store.Invalid("to", "must be YYYY-MM-DD")
		}
		end = parsed.AddDate(0, 0, 1)
	}
	if !end.After(start) {
		return nil, store.Invalid("to", "must not be before from")
	}
	return s.repo.ListAuditLogs(ctx, start, end, limit)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check runs struct-tag validation and reports the first failing field.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		field := fe.Namespace()
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return store.Invalid(field, reason)
	}
	return fmt.Errorf("%w: %v", store.ErrValidation, err)
}
