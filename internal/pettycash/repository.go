package pettycash

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pettycash/internal/platform/db"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes fund persistence within a transaction.
type TxRepository interface {
	InsertFund(ctx context.Context, in FundInput) (Fund, error)
	GetFund(ctx context.Context, id int64) (Fund, error)
	GetFundForUpdate(ctx context.Context, id int64) (Fund, error)
	ListFunds(ctx context.Context, filter ListFundsFilter) ([]Fund, error)
	UpdateFund(ctx context.Context, id int64, upd FundUpdate) (Fund, error)
	CountUnreconciledVouchers(ctx context.Context, fundID int64) (int, error)
	SumUnreconciledVouchers(ctx context.Context, fundID int64) (decimal.Decimal, error)
	InsertVoucher(ctx context.Context, in VoucherInput) (Voucher, error)
	GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error)
	MarkVoucherReconciled(ctx context.Context, id, moveID int64, at time.Time) (Voucher, error)
	ListVouchers(ctx context.Context, fundID int64, onlyOpen bool) ([]Voucher, error)
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	AttachInvoice(ctx context.Context, invoiceID int64, fundID *int64) (Invoice, error)
	ListInvoices(ctx context.Context, fundID int64) ([]Invoice, error)
}

// Repository persists funds, vouchers and invoice links in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	q db.Querier
}

// WithTx executes fn within a transaction, joining one already bound to ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errNilRepository
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx})
	})
}

const fundSelect = `SELECT f.id, f.name, f.code, f.custodian_partner_id, f.journal_id, f.amount, f.state, f.active,
f.company_id, COALESCE(c.currency_code, ''), f.created_at, f.updated_at
FROM petty_cash_funds f LEFT JOIN companies c ON c.id = f.company_id`

func scanFund(row pgx.Row) (Fund, error) {
	var f Fund
	err := row.Scan(&f.ID, &f.Name, &f.Code, &f.CustodianID, &f.JournalID, &f.Amount, &f.State, &f.Active,
		&f.CompanyID, &f.Currency, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

func (r *txRepository) InsertFund(ctx context.Context, in FundInput) (Fund, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO petty_cash_funds (name, code, custodian_partner_id, journal_id, amount, state, active, company_id)
VALUES ($1,$2,$3,$4,$5,$6,TRUE,$7) RETURNING id`,
		in.Name, in.Code, in.CustodianID, in.JournalID, in.Amount.StringFixed(2), string(in.State), in.CompanyID).Scan(&id)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_petty_cash_funds_code") {
			return Fund{}, ErrDuplicateFundCode
		}
		return Fund{}, err
	}
	return r.GetFund(ctx, id)
}

func (r *txRepository) GetFund(ctx context.Context, id int64) (Fund, error) {
	return r.getFund(ctx, fundSelect+` WHERE f.id=$1`, id)
}

func (r *txRepository) GetFundForUpdate(ctx context.Context, id int64) (Fund, error) {
	return r.getFund(ctx, fundSelect+` WHERE f.id=$1 FOR UPDATE OF f`, id)
}

func (r *txRepository) getFund(ctx context.Context, query string, id int64) (Fund, error) {
	fund, err := scanFund(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Fund{}, ErrFundNotFound
		}
		return Fund{}, err
	}
	return fund, nil
}

func (r *txRepository) ListFunds(ctx context.Context, filter ListFundsFilter) ([]Fund, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeInactive {
		where = append(where, "f.active")
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		where = append(where, "f.state = $"+strconv.Itoa(len(args)))
	}
	if filter.CustodianID > 0 {
		args = append(args, filter.CustodianID)
		where = append(where, "f.custodian_partner_id = $"+strconv.Itoa(len(args)))
	}
	query := fundSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY f.name ASC, f.id ASC"
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var funds []Fund
	for rows.Next() {
		fund, err := scanFund(rows)
		if err != nil {
			return nil, err
		}
		funds = append(funds, fund)
	}
	return funds, rows.Err()
}

func (r *txRepository) UpdateFund(ctx context.Context, id int64, upd FundUpdate) (Fund, error) {
	var amount, state any
	if upd.Amount != nil {
		amount = upd.Amount.StringFixed(2)
	}
	if upd.State != nil {
		state = string(*upd.State)
	}
	tag, err := r.q.Exec(ctx, `UPDATE petty_cash_funds SET
name = COALESCE($2, name),
amount = COALESCE($3::numeric, amount),
state = COALESCE($4, state),
active = COALESCE($5, active),
updated_at = NOW()
WHERE id=$1`, id, upd.Name, amount, state, upd.Active)
	if err != nil {
		return Fund{}, err
	}
	if tag.RowsAffected() == 0 {
		return Fund{}, ErrFundNotFound
	}
	return r.GetFund(ctx, id)
}

func (r *txRepository) CountUnreconciledVouchers(ctx context.Context, fundID int64) (int, error) {
	var count int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM petty_cash_vouchers WHERE fund_id=$1 AND NOT reconciled`, fundID).Scan(&count)
	return count, err
}

func (r *txRepository) SumUnreconciledVouchers(ctx context.Context, fundID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM petty_cash_vouchers WHERE fund_id=$1 AND NOT reconciled`, fundID).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

const voucherColumns = `id, fund_id, number, amount, expense_account_id, description, date, reconciled, move_id, created_by, created_at, reconciled_at`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.FundID, &v.Number, &v.Amount, &v.ExpenseAccountID, &v.Description, &v.Date,
		&v.Reconciled, &v.MoveID, &v.CreatedBy, &v.CreatedAt, &v.ReconciledAt)
	return v, err
}

func (r *txRepository) InsertVoucher(ctx context.Context, in VoucherInput) (Voucher, error) {
	return scanVoucher(r.q.QueryRow(ctx, `INSERT INTO petty_cash_vouchers (fund_id, number, amount, expense_account_id, description, date, reconciled, created_by)
VALUES ($1,$2,$3,$4,$5,$6,FALSE,$7) RETURNING `+voucherColumns,
		in.FundID, in.Number, in.Amount.StringFixed(2), in.ExpenseAccountID, in.Description, in.Date, in.CreatedBy))
}

func (r *txRepository) GetVoucherForUpdate(ctx context.Context, id int64) (Voucher, error) {
	v, err := scanVoucher(r.q.QueryRow(ctx, `SELECT `+voucherColumns+` FROM petty_cash_vouchers WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	return v, nil
}

func (r *txRepository) MarkVoucherReconciled(ctx context.Context, id, moveID int64, at time.Time) (Voucher, error) {
	v, err := scanVoucher(r.q.QueryRow(ctx, `UPDATE petty_cash_vouchers SET reconciled=TRUE, move_id=$2, reconciled_at=$3
WHERE id=$1 AND NOT reconciled RETURNING `+voucherColumns, id, moveID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherReconciled
		}
		return Voucher{}, err
	}
	return v, nil
}

func (r *txRepository) ListVouchers(ctx context.Context, fundID int64, onlyOpen bool) ([]Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM petty_cash_vouchers WHERE fund_id=$1`
	if onlyOpen {
		query += ` AND NOT reconciled`
	}
	query += ` ORDER BY date ASC, id ASC`
	rows, err := r.q.Query(ctx, query, fundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var vouchers []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

const invoiceColumns = `id, number, partner_id, amount_total, state, invoice_date, petty_fund_id`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.PartnerID, &inv.AmountTotal, &inv.State, &inv.InvoiceDate, &inv.PettyFundID)
	return inv, err
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	inv, err := scanInvoice(r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

// AttachInvoice sets or clears the fund reference of an invoice.
func (r *txRepository) AttachInvoice(ctx context.Context, invoiceID int64, fundID *int64) (Invoice, error) {
	inv, err := scanInvoice(r.q.QueryRow(ctx, `UPDATE invoices SET petty_fund_id=$2 WHERE id=$1 RETURNING `+invoiceColumns, invoiceID, fundID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (r *txRepository) ListInvoices(ctx context.Context, fundID int64) ([]Invoice, error) {
	rows, err := r.q.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE petty_fund_id=$1 ORDER BY invoice_date ASC, id ASC`, fundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}
