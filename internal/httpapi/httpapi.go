package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/unrolled/secure"

	"posdesk/backend/internal/metrics"
	"posdesk/backend/internal/service"
	"posdesk/backend/internal/store"
)

type Options struct {
	AllowedOrigin string
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	// Production turns on HTTPS redirects.
	Production bool
	// MutationLimit caps mutating requests per client IP per minute.
	MutationLimit int
	// PINLimit caps manager-PIN guarded requests per client IP per minute.
	PINLimit int
}

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	logger        *slog.Logger
	metrics       *metrics.Metrics
	secure        *secure.Secure
	mutationLimit int
	pinLimit      int
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MutationLimit <= 0 {
		opts.MutationLimit = 120
	}
	if opts.PINLimit <= 0 {
		opts.PINLimit = 8
	}

	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		secure: secure.New(secure.Options{
			FrameDeny:             true,
			ContentTypeNosniff:    true,
			BrowserXssFilter:      true,
			ReferrerPolicy:        "strict-origin-when-cross-origin",
			ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
			SSLRedirect:           opts.Production,
			SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		}),
		mutationLimit: opts.MutationLimit,
		pinLimit:      opts.PINLimit,
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current and the previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.requestContext, a.metrics.Middleware, a.secureHeaders, a.cors, a.limitBody, a.checkCSRF)

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", a.metrics.Handler())

	mutations := httprate.Limit(a.mutationLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP), httprate.WithLimitHandler(a.tooManyRequests))
	pinAttempts := httprate.Limit(a.pinLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP), httprate.WithLimitHandler(a.tooManyRequests))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(RoleCashier, RoleManager, RoleAdmin))
			r.Get("/products", a.handleListProducts)
			r.Get("/customers", a.handleListCustomers)
			r.Get("/sales", a.handleListSales)
			r.Get("/sales/invoice/{invoiceNumber}", a.handleFindByInvoice)
			r.Get("/sales/{id}", a.handleGetSale)
			r.Get("/installments/overdue", a.handleOverdueInstallments)

			r.With(mutations).Post("/sales", a.handleCreateSale)
			r.With(mutations).Post("/sales/draft", a.handleCreateDraft)
			r.With(mutations).Post("/sales/draft/{id}/complete", a.handleCompleteDraft)
			r.With(mutations).Post("/sales/{id}/payment", a.handleAddPayment)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(RoleManager, RoleAdmin))
			r.Get("/sales/report", a.handleReport)

			r.Group(func(r chi.Router) {
				r.Use(pinAttempts, a.requireManagerPIN)
				r.Post("/sales/{id}/cancel", a.handleCancelSale)
				r.Post("/sales/{id}/restore", a.handleRestoreSale)
				r.Delete("/sales/{id}/payments/{paymentId}", a.handleRemovePayment)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth(RoleAdmin))
			r.Get("/audit-logs", a.handleAuditLogs)

			r.Group(func(r chi.Router) {
				r.Use(pinAttempts, a.requireManagerPIN)
				r.Delete("/sales/drafts/old", a.handleDeleteOldDrafts)
				r.Delete("/sales/{id}", a.handleRemoveSale)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	return r
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour bucket.
// Clients must include this token in the X-CSRF-Token header for all mutating requests.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) tooManyRequests(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusTooManyRequests, errors.New("too many requests"))
}

type loggerKey struct{}

// requestContext tags the request with an id and a logger carrying it, then
// logs the outcome.
func (a *API) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		logger := a.logger.With(slog.String("request_id", requestID))
		ctx := context.WithValue(r.Context(), loggerKey{}, logger)

		startedAt := time.Now()
		recorder := &metrics.StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", recorder.Status),
			slog.Duration("duration", time.Since(startedAt)))
	})
}

func loggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

func (a *API) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := a.secure.Process(w, r); err != nil {
			loggerFrom(r.Context()).Warn("secure headers blocked request", slog.Any("error", err))
			return
		}
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, X-Manager-PIN, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isMutating(r.Method) && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}
		next.ServeHTTP(w, r)
	})
}

// checkCSRF enforces the X-CSRF-Token header on state-changing requests.
func (a *API) checkCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isMutating(r.Method) && !a.validateCSRFToken(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
			writeError(w, r, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps the store error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusFor(err), err)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	// 5xx bodies stay generic; the detail goes to the log only.
	msg := err.Error()
	if status >= 500 {
		loggerFrom(r.Context()).Error("request failed",
			slog.Int("status", status),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		msg = "internal server error"
	}
	body := map[string]any{"error": msg}
	var fieldErr *store.ValidationError
	if errors.As(err, &fieldErr) && fieldErr.Field != "" {
		body["field"] = fieldErr.Field
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
