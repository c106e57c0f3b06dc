package accounting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pettycash/internal/platform/db"
)

// Repository persists accounting entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetAccount(ctx context.Context, id int64) (Account, error)
	InsertSequence(ctx context.Context, in SequenceInput) (Sequence, error)
	AdvanceSequence(ctx context.Context, id int64) (Sequence, int64, error)
	InsertJournal(ctx context.Context, in JournalInput) (Journal, error)
	GetJournal(ctx context.Context, id int64) (Journal, error)
	GetPeriodForDate(ctx context.Context, date time.Time) (Period, error)
	InsertMove(ctx context.Context, in MoveInput, periodID int64) (Move, error)
	InsertMoveLines(ctx context.Context, moveID int64, date time.Time, lines []MoveLineInput) error
	LinkSource(ctx context.Context, module string, ref uuid.UUID, moveID int64) error
	MarkPosted(ctx context.Context, moveID int64, name string, postedBy int64) (time.Time, error)
	GetMoveWithLines(ctx context.Context, id int64) (Move, error)
	ListMovesByJournal(ctx context.Context, journalID int64) ([]Move, error)
	AccountBalance(ctx context.Context, journalID, accountID int64) (decimal.Decimal, error)
}

type txRepository struct {
	q db.Querier
}

// ErrSourceConflict indicates the source link already exists.
var ErrSourceConflict = errors.New("accounting: source link conflict")

// WithTx executes fn within a repeatable-read transaction, joining one already bound to ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{q: tx})
	})
}

const accountColumns = `id, code, name, type, kind, is_active, created_at, updated_at`

func (r *txRepository) GetAccount(ctx context.Context, id int64) (Account, error) {
	var a Account
	err := r.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.Kind, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) InsertSequence(ctx context.Context, in SequenceInput) (Sequence, error) {
	seq := Sequence{Name: in.Name, Code: in.Code, Prefix: in.Prefix, Padding: in.Padding}
	err := r.q.QueryRow(ctx, `INSERT INTO sequences (name, code, prefix, padding, number_next)
VALUES ($1,$2,$3,$4,1) RETURNING id, number_next, created_at, updated_at`, in.Name, in.Code, in.Prefix, in.Padding).
		Scan(&seq.ID, &seq.NumberNext, &seq.CreatedAt, &seq.UpdatedAt)
	if err != nil {
		return Sequence{}, err
	}
	return seq, nil
}

// AdvanceSequence returns the sequence together with the number reserved for the caller.
func (r *txRepository) AdvanceSequence(ctx context.Context, id int64) (Sequence, int64, error) {
	var seq Sequence
	err := r.q.QueryRow(ctx, `UPDATE sequences SET number_next = number_next + 1, updated_at = NOW() WHERE id=$1
RETURNING id, name, code, prefix, padding, number_next, created_at, updated_at`, id).
		Scan(&seq.ID, &seq.Name, &seq.Code, &seq.Prefix, &seq.Padding, &seq.NumberNext, &seq.CreatedAt, &seq.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sequence{}, 0, ErrSequenceNotFound
		}
		return Sequence{}, 0, err
	}
	return seq, seq.NumberNext - 1, nil
}

func (r *txRepository) InsertJournal(ctx context.Context, in JournalInput) (Journal, error) {
	j := Journal{
		Name:                   in.Name,
		Code:                   in.Code,
		Type:                   in.Type,
		DefaultDebitAccountID:  in.DefaultDebitAccountID,
		DefaultCreditAccountID: in.DefaultCreditAccountID,
		UserID:                 in.UserID,
		SequenceID:             in.SequenceID,
		UpdatePosted:           in.UpdatePosted,
	}
	err := r.q.QueryRow(ctx, `INSERT INTO journals (name, code, type, default_debit_account_id, default_credit_account_id, user_id, sequence_id, update_posted)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at, updated_at`,
		in.Name, in.Code, in.Type, in.DefaultDebitAccountID, in.DefaultCreditAccountID, in.UserID, in.SequenceID, in.UpdatePosted).
		Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_journals_code") {
			return Journal{}, ErrDuplicateJournalCode
		}
		return Journal{}, err
	}
	return j, nil
}

func (r *txRepository) GetJournal(ctx context.Context, id int64) (Journal, error) {
	var j Journal
	err := r.q.QueryRow(ctx, `SELECT id, name, code, type, default_debit_account_id, default_credit_account_id, user_id, sequence_id, update_posted, created_at, updated_at
FROM journals WHERE id=$1`, id).
		Scan(&j.ID, &j.Name, &j.Code, &j.Type, &j.DefaultDebitAccountID, &j.DefaultCreditAccountID, &j.UserID, &j.SequenceID, &j.UpdatePosted, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Journal{}, ErrJournalNotFound
		}
		return Journal{}, err
	}
	return j, nil
}

func (r *txRepository) GetPeriodForDate(ctx context.Context, date time.Time) (Period, error) {
	var p Period
	err := r.q.QueryRow(ctx, `SELECT id, code, start_date, end_date, status
FROM periods WHERE $1 BETWEEN start_date AND end_date ORDER BY start_date LIMIT 1 FOR UPDATE`, date).
		Scan(&p.ID, &p.Code, &p.StartDate, &p.EndDate, &p.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrInvalidPeriod
		}
		return Period{}, err
	}
	return p, nil
}

func (r *txRepository) InsertMove(ctx context.Context, in MoveInput, periodID int64) (Move, error) {
	move := Move{
		Name:         "/",
		JournalID:    in.JournalID,
		PeriodID:     periodID,
		Date:         in.Date,
		Narration:    in.Narration,
		State:        MoveStateDraft,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		PostedBy:     in.PostedBy,
	}
	err := r.q.QueryRow(ctx, `INSERT INTO moves (name, journal_id, period_id, date, narration, state, source_module, source_id)
VALUES ('/',$1,$2,$3,$4,'draft',$5,$6) RETURNING id, created_at, updated_at`,
		in.JournalID, periodID, in.Date, in.Narration, in.SourceModule, in.SourceID).
		Scan(&move.ID, &move.CreatedAt, &move.UpdatedAt)
	if err != nil {
		return Move{}, err
	}
	return move, nil
}

func (r *txRepository) InsertMoveLines(ctx context.Context, moveID int64, date time.Time, lines []MoveLineInput) error {
	for _, line := range lines {
		if _, err := r.q.Exec(ctx, `INSERT INTO move_lines (move_id, name, account_id, partner_id, debit, credit, quantity, date, date_maturity)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, moveID, line.Name, line.AccountID, line.PartnerID,
			line.Debit.StringFixed(2), line.Credit.StringFixed(2), line.Quantity.String(), date, line.DateMaturity); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, module string, ref uuid.UUID, moveID int64) error {
	_, err := r.q.Exec(ctx, `INSERT INTO source_links (module, ref_id, move_id) VALUES ($1,$2,$3)`, module, ref, moveID)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_source_links") {
			return ErrSourceConflict
		}
		return err
	}
	return nil
}

func (r *txRepository) MarkPosted(ctx context.Context, moveID int64, name string, postedBy int64) (time.Time, error) {
	var postedAt time.Time
	err := r.q.QueryRow(ctx, `UPDATE moves SET name=$2, state='posted', posted_by=$3, posted_at=NOW(), updated_at=NOW()
WHERE id=$1 AND state='draft' RETURNING posted_at`, moveID, name, nullInt(postedBy)).Scan(&postedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrMoveNotFound
		}
		return time.Time{}, err
	}
	return postedAt, nil
}

const moveColumns = `id, name, journal_id, period_id, date, narration, state, source_module, source_id, COALESCE(posted_by, 0), posted_at, created_at, updated_at`

func scanMove(row pgx.Row) (Move, error) {
	var m Move
	err := row.Scan(&m.ID, &m.Name, &m.JournalID, &m.PeriodID, &m.Date, &m.Narration, &m.State, &m.SourceModule, &m.SourceID, &m.PostedBy, &m.PostedAt, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (r *txRepository) GetMoveWithLines(ctx context.Context, id int64) (Move, error) {
	move, err := scanMove(r.q.QueryRow(ctx, `SELECT `+moveColumns+` FROM moves WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Move{}, ErrMoveNotFound
		}
		return Move{}, err
	}
	lines, err := r.listLines(ctx, []int64{id})
	if err != nil {
		return Move{}, err
	}
	move.Lines = lines[id]
	return move, nil
}

func (r *txRepository) ListMovesByJournal(ctx context.Context, journalID int64) ([]Move, error) {
	rows, err := r.q.Query(ctx, `SELECT `+moveColumns+` FROM moves WHERE journal_id=$1 ORDER BY date ASC, id ASC`, journalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var moves []Move
	var ids []int64
	for rows.Next() {
		m, err := scanMove(rows)
		if err != nil {
			return nil, err
		}
		moves = append(moves, m)
		ids = append(ids, m.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return moves, nil
	}
	lines, err := r.listLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range moves {
		moves[i].Lines = lines[moves[i].ID]
	}
	return moves, nil
}

func (r *txRepository) listLines(ctx context.Context, moveIDs []int64) (map[int64][]MoveLine, error) {
	rows, err := r.q.Query(ctx, `SELECT id, move_id, name, account_id, partner_id, debit, credit, quantity, date, date_maturity
FROM move_lines WHERE move_id = ANY($1) ORDER BY id ASC`, moveIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]MoveLine, len(moveIDs))
	for rows.Next() {
		var line MoveLine
		if err := rows.Scan(&line.ID, &line.MoveID, &line.Name, &line.AccountID, &line.PartnerID, &line.Debit, &line.Credit, &line.Quantity, &line.Date, &line.DateMaturity); err != nil {
			return nil, err
		}
		out[line.MoveID] = append(out[line.MoveID], line)
	}
	return out, rows.Err()
}

func (r *txRepository) AccountBalance(ctx context.Context, journalID, accountID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit - l.credit), 0)
FROM move_lines l JOIN moves m ON m.id = l.move_id
WHERE m.journal_id=$1 AND l.account_id=$2 AND m.state='posted'`, journalID, accountID).Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
