package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"posdesk/backend/internal/domain"
	"posdesk/backend/internal/service"
	"posdesk/backend/internal/store"
)

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, store.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

func queryDate(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, store.Invalid(name, "must be YYYY-MM-DD")
	}
	return &parsed, nil
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.CreateDraft(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleCompleteDraft(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// An empty body completes the draft exactly as saved.
	var req domain.CreateSaleRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}
	sale, err := a.service.CompleteDraft(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.SaleFilter{
		Status:   domain.SaleStatus(strings.TrimSpace(query.Get("status"))),
		Currency: strings.ToUpper(strings.TrimSpace(query.Get("currency"))),
		Limit:    parsePositiveLimit(query.Get("limit"), 0, 0),
	}
	if raw := strings.TrimSpace(query.Get("customerId")); raw != "" {
		customerID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || customerID <= 0 {
			writeServiceError(w, r, store.Invalid("customerId", "must be a positive integer"))
			return
		}
		filter.CustomerID = &customerID
	}

	start, err := queryDate(r, "startDate")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	end, err := queryDate(r, "endDate")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	filter.From = start
	if end != nil {
		next := end.AddDate(0, 0, 1)
		filter.To = &next
	}

	sales, err := a.service.ListSales(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	sale, err := a.service.GetSale(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleFindByInvoice(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.FindSaleByInvoice(r.Context(), chi.URLParam(r, "invoiceNumber"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req domain.AddPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	sale, err := a.service.AddPayment(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleRemovePayment(w http.ResponseWriter, r *http.Request) {
	saleID, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	paymentID, err := pathID(r, "paymentId")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	sale, err := a.service.RemovePayment(r.Context(), saleID, paymentID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleCancelSale(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.service.CancelSale)
}

func (a *API) handleRestoreSale(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.service.RestoreSale)
}

func (a *API) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, int64) (*domain.Sale, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	sale, err := op(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleRemoveSale(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := a.service.RemoveSale(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (a *API) handleDeleteOldDrafts(w http.ResponseWriter, r *http.Request) {
	maxAge := service.DefaultDraftAge
	if raw := strings.TrimSpace(r.URL.Query().Get("maxAgeHours")); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			writeServiceError(w, r, store.Invalid("maxAgeHours", "must be a positive integer"))
			return
		}
		maxAge = time.Duration(hours) * time.Hour
	}
	deleted, err := a.service.DeleteOldDrafts(r.Context(), maxAge)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	start, err := queryDate(r, "startDate")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	end, err := queryDate(r, "endDate")
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	report, err := a.service.SalesReport(r.Context(), domain.ReportFilter{
		StartDate: start,
		EndDate:   end,
		Currency:  r.URL.Query().Get("currency"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func (a *API) handleOverdueInstallments(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	installments, err := a.service.ListOverdueInstallments(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"installments": installments})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := parsePositiveLimit(query.Get("limit"), 200, 1000)
	logs, err := a.service.ListAuditLogs(r.Context(), strings.TrimSpace(query.Get("from")), strings.TrimSpace(query.Get("to")), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit_logs": logs})
}
