package pettycashhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pettycash/internal/accounting"
	"github.com/odyssey-erp/pettycash/internal/pettycash"
	"github.com/odyssey-erp/pettycash/internal/pettycash/export"
	"github.com/odyssey-erp/pettycash/internal/platform/httpx"
	"github.com/odyssey-erp/pettycash/internal/rbac"
	"github.com/odyssey-erp/pettycash/internal/shared"
)

// IdempotencyHeader carries the client retry key of the creation wizard.
const IdempotencyHeader = "Idempotency-Key"

const wizardModule = "pettycash.wizard"

// FundService defines the business contract the handler drives.
type FundService interface {
	ListFunds(ctx context.Context, filter pettycash.ListFundsFilter) ([]pettycash.Fund, error)
	GetFund(ctx context.Context, id int64) (pettycash.Fund, error)
	CreateFund(ctx context.Context, input pettycash.CreateFundInput) (pettycash.Fund, error)
	InitializeFund(ctx context.Context, wiz pettycash.CreateFundWizard, actorID int64) (pettycash.WizardResult, error)
	RenameFund(ctx context.Context, fundID, actorID int64, name string) (pettycash.Fund, error)
	CloseFund(ctx context.Context, input pettycash.CloseFundInput) (pettycash.Fund, error)
	ReopenFund(ctx context.Context, fundID, actorID int64) (pettycash.Fund, error)
	ChangeFundAmount(ctx context.Context, input pettycash.ChangeAmountInput) (pettycash.Fund, error)
	CreatePayableJournalEntry(ctx context.Context, input pettycash.JournalEntryInput) (accounting.Move, error)
	CreateReceivableJournalEntry(ctx context.Context, input pettycash.JournalEntryInput) (accounting.Move, error)
	FundBalance(ctx context.Context, fundID int64) (decimal.Decimal, error)
	ListMoves(ctx context.Context, fundID int64) ([]accounting.Move, error)
	IssueVoucher(ctx context.Context, input pettycash.IssueVoucherInput) (pettycash.Voucher, error)
	ReconcileVoucher(ctx context.Context, input pettycash.ReconcileVoucherInput) (pettycash.Voucher, error)
	ListVouchers(ctx context.Context, fundID int64, onlyOpen bool) ([]pettycash.Voucher, error)
	AttachInvoice(ctx context.Context, fundID, invoiceID, actorID int64) (pettycash.Invoice, error)
	DetachInvoice(ctx context.Context, fundID, invoiceID, actorID int64) (pettycash.Invoice, error)
	ListInvoices(ctx context.Context, fundID int64) ([]pettycash.Invoice, error)
	Statement(ctx context.Context, fundID int64) (pettycash.Statement, error)
}

// IdempotencyStore remembers processed wizard requests.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler serves the petty cash JSON API.
type Handler struct {
	logger      *slog.Logger
	service     FundService
	rbac        rbac.Middleware
	idempotency IdempotencyStore
	validator   *validator.Validate
	now         func() time.Time
}

// NewHandler builds the petty cash handler.
func NewHandler(logger *slog.Logger, service FundService, rbac rbac.Middleware, idempotency IdempotencyStore) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		rbac:        rbac,
		idempotency: idempotency,
		validator:   validator.New(),
		now:         time.Now,
	}
}

func (h *Handler) listFunds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := pettycash.ListFundsFilter{
		IncludeInactive: q.Get("include_inactive") == "true",
		State:           pettycash.FundState(strings.TrimSpace(q.Get("state"))),
	}
	if raw := q.Get("custodian_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid custodian_id")
			return
		}
		filter.CustodianID = id
	}
	funds, err := h.service.ListFunds(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if funds == nil {
		funds = []pettycash.Fund{}
	}
	httpx.JSON(w, http.StatusOK, funds)
}

func (h *Handler) showFund(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	fund, err := h.service.GetFund(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fund)
}

func (h *Handler) createFund(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createFundRequest
	if !h.decode(w, r, &req) {
		return
	}
	fund, err := h.service.CreateFund(r.Context(), pettycash.CreateFundInput{
		Amount:      req.Amount,
		Name:        req.Name,
		Code:        req.Code,
		CustodianID: req.CustodianID,
		AccountID:   req.AccountID,
		CompanyID:   req.CompanyID,
		ActorID:     actorID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, fund)
}

func (h *Handler) runWizard(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req wizardRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.EffectiveDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, wizardModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate", "request with this Idempotency-Key was already processed")
				return
			}
			h.fail(w, r, err)
			return
		}
	}
	result, err := h.service.InitializeFund(r.Context(), pettycash.CreateFundWizard{
		FundName:         req.FundName,
		FundCode:         req.FundCode,
		FundAmount:       req.FundAmount,
		CustodianID:      req.CustodianID,
		AccountID:        req.AccountID,
		PayableAccountID: req.PayableAccountID,
		EffectiveDate:    date,
		CompanyID:        req.CompanyID,
	}, actorID)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if derr := h.idempotency.Delete(r.Context(), key, wizardModule); derr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) renameFund(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req renameFundRequest
	if !h.decode(w, r, &req) {
		return
	}
	fund, err := h.service.RenameFund(r.Context(), id, actorID, req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fund)
}

func (h *Handler) closeFund(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req closeFundRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	fund, err := h.service.CloseFund(r.Context(), pettycash.CloseFundInput{
		FundID:              id,
		Date:                date,
		ReceivableAccountID: req.ReceivableAccountID,
		ActorID:             actorID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fund)
}

func (h *Handler) reopenFund(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	fund, err := h.service.ReopenFund(r.Context(), id, actorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fund)
}

func (h *Handler) changeAmount(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req changeAmountRequest
	if !h.decode(w, r, &req) {
		return
	}
	fund, err := h.service.ChangeFundAmount(r.Context(), pettycash.ChangeAmountInput{
		FundID:    id,
		NewAmount: req.Amount,
		ActorID:   actorID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fund)
}

func (h *Handler) createEntry(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req journalEntryRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	input := pettycash.JournalEntryInput{
		FundID:      id,
		AccountID:   req.AccountID,
		Date:        date,
		Amount:      req.Amount,
		Description: req.Description,
		ActorID:     actorID,
	}
	var move accounting.Move
	if pettycash.EntryType(req.Type) == pettycash.EntryReceivable {
		move, err = h.service.CreateReceivableJournalEntry(r.Context(), input)
	} else {
		move, err = h.service.CreatePayableJournalEntry(r.Context(), input)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, move)
}

func (h *Handler) showBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	fund, err := h.service.GetFund(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{
		FundID:   fund.ID,
		Balance:  fund.Balance.StringFixed(2),
		Currency: fund.Currency,
	})
}

func (h *Handler) listMoves(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	moves, err := h.service.ListMoves(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if moves == nil {
		moves = []accounting.Move{}
	}
	httpx.JSON(w, http.StatusOK, moves)
}

func (h *Handler) listVouchers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	vouchers, err := h.service.ListVouchers(r.Context(), id, r.URL.Query().Get("open") == "true")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if vouchers == nil {
		vouchers = []pettycash.Voucher{}
	}
	httpx.JSON(w, http.StatusOK, vouchers)
}

func (h *Handler) issueVoucher(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req issueVoucherRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	voucher, err := h.service.IssueVoucher(r.Context(), pettycash.IssueVoucherInput{
		FundID:           id,
		Amount:           req.Amount,
		ExpenseAccountID: req.ExpenseAccountID,
		Description:      req.Description,
		Date:             date,
		ActorID:          actorID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, voucher)
}

func (h *Handler) reconcileVoucher(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req reconcileVoucherRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	voucher, err := h.service.ReconcileVoucher(r.Context(), pettycash.ReconcileVoucherInput{
		VoucherID: id,
		Date:      date,
		ActorID:   actorID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, voucher)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	invoices, err := h.service.ListInvoices(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []pettycash.Invoice{}
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

func (h *Handler) attachInvoice(w http.ResponseWriter, r *http.Request) {
	h.linkInvoice(w, r, h.service.AttachInvoice)
}

func (h *Handler) detachInvoice(w http.ResponseWriter, r *http.Request) {
	h.linkInvoice(w, r, h.service.DetachInvoice)
}

func (h *Handler) linkInvoice(w http.ResponseWriter, r *http.Request, op func(context.Context, int64, int64, int64) (pettycash.Invoice, error)) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	fundID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	invoiceID, ok := h.pathID(w, r, "invoiceID")
	if !ok {
		return
	}
	invoice, err := op(r.Context(), fundID, invoiceID, actorID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) exportStatement(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	st, err := h.service.Statement(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	now := h.now()
	payload, err := export.BuildStatementXLSX(st, now)
	if err != nil {
		h.fail(w, r, fmt.Errorf("build statement: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.StatementFilename(st.Fund, now)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := shared.ActorIDFromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
		return 0, false
	}
	return id, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.Join(fields, "; "))
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !isClientError(err) {
		h.logger.Error("pettycash request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isClientError(err error) bool {
	for _, target := range []error{
		httpx.ErrNotFound,
		httpx.ErrDuplicate,
		httpx.ErrValidation,
		httpx.ErrUnprocessable,
		httpx.ErrForbidden,
		httpx.ErrUnauthorized,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
