package pettycashhttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/pettycash/internal/shared"
)

const exportRateLimit = 10
const exportRateWindow = time.Minute

// MountRoutes registers the petty cash endpoints under the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPettyCashView, shared.PermPettyCashManage))
		r.Get("/funds", h.listFunds)
		r.Get("/funds/{id}", h.showFund)
		r.Get("/funds/{id}/balance", h.showBalance)
		r.Get("/funds/{id}/moves", h.listMoves)
		r.Get("/funds/{id}/vouchers", h.listVouchers)
		r.Get("/funds/{id}/invoices", h.listInvoices)
		r.With(limiter).Get("/funds/{id}/statement.xlsx", h.exportStatement)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPettyCashVoucher, shared.PermPettyCashManage))
		r.Post("/funds/{id}/vouchers", h.issueVoucher)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermPettyCashManage))
		r.Post("/funds", h.createFund)
		r.Post("/funds/wizard", h.runWizard)
		r.Patch("/funds/{id}", h.renameFund)
		r.Post("/funds/{id}/close", h.closeFund)
		r.Post("/funds/{id}/reopen", h.reopenFund)
		r.Post("/funds/{id}/amount", h.changeAmount)
		r.Post("/funds/{id}/entries", h.createEntry)
		r.Post("/vouchers/{id}/reconcile", h.reconcileVoucher)
		r.Put("/funds/{id}/invoices/{invoiceID}", h.attachInvoice)
		r.Delete("/funds/{id}/invoices/{invoiceID}", h.detachInvoice)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if user := strings.TrimSpace(sess.User()); user != "" {
			return "user:" + user, nil
		}
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
