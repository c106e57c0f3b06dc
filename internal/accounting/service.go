package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pettycash/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates sequences, journals and journal entry posting.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetAccount loads a chart of accounts entry.
func (s *Service) GetAccount(ctx context.Context, id int64) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.GetAccount(ctx, id)
		return err
	})
	return account, err
}

// CreateSequence provisions a numbering sequence starting at 1.
func (s *Service) CreateSequence(ctx context.Context, input SequenceInput) (Sequence, error) {
	if err := input.Validate(); err != nil {
		return Sequence{}, err
	}
	var seq Sequence
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		seq, err = tx.InsertSequence(ctx, input)
		return err
	})
	return seq, err
}

// NextSequenceNumber reserves and renders the next number of the sequence.
func (s *Service) NextSequenceNumber(ctx context.Context, sequenceID int64, date time.Time) (string, error) {
	var name string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, number, err := tx.AdvanceSequence(ctx, sequenceID)
		if err != nil {
			return err
		}
		name = seq.Render(number, date)
		return nil
	})
	return name, err
}

// CreateJournal provisions a journal bound to an existing sequence.
func (s *Service) CreateJournal(ctx context.Context, input JournalInput) (Journal, error) {
	if input.Type == "" {
		input.Type = JournalTypeGeneral
	}
	if err := input.Validate(); err != nil {
		return Journal{}, err
	}
	var journal Journal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		journal, err = tx.InsertJournal(ctx, input)
		return err
	})
	return journal, err
}

// GetJournal loads a journal.
func (s *Service) GetJournal(ctx context.Context, id int64) (Journal, error) {
	var journal Journal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		journal, err = tx.GetJournal(ctx, id)
		return err
	})
	return journal, err
}

// PostMove validates, persists and posts a journal entry in one step.
// The move is named from its journal's sequence when posted.
func (s *Service) PostMove(ctx context.Context, input MoveInput) (Move, error) {
	if err := input.Validate(); err != nil {
		return Move{}, err
	}
	var move Move
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		journal, err := tx.GetJournal(ctx, input.JournalID)
		if err != nil {
			return err
		}
		period, err := tx.GetPeriodForDate(ctx, input.Date)
		if err != nil {
			return err
		}
		if period.Status == PeriodStatusLocked {
			return ErrPeriodLocked
		}
		if period.Status != PeriodStatusOpen {
			return ErrInvalidPeriod
		}
		inserted, err := tx.InsertMove(ctx, input, period.ID)
		if err != nil {
			return err
		}
		if err := tx.InsertMoveLines(ctx, inserted.ID, input.Date, input.Lines); err != nil {
			return err
		}
		if err := tx.LinkSource(ctx, input.SourceModule, input.SourceID, inserted.ID); err != nil {
			if errors.Is(err, ErrSourceConflict) {
				return ErrSourceAlreadyLinked
			}
			return err
		}
		seq, number, err := tx.AdvanceSequence(ctx, journal.SequenceID)
		if err != nil {
			return err
		}
		inserted.Name = seq.Render(number, input.Date)
		postedAt, err := tx.MarkPosted(ctx, inserted.ID, inserted.Name, input.PostedBy)
		if err != nil {
			return err
		}
		inserted.State = MoveStatePosted
		inserted.PostedAt = &postedAt
		inserted.Lines = toMoveLines(inserted.ID, input.Date, input.Lines)
		move = inserted
		return nil
	})
	if err != nil {
		return Move{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.PostedBy,
			Action:   "move.post",
			Entity:   "move",
			EntityID: fmt.Sprintf("%d", move.ID),
			Meta: map[string]any{
				"name":          move.Name,
				"journal_id":    move.JournalID,
				"amount":        move.Amount().StringFixed(2),
				"source_module": input.SourceModule,
				"source_id":     input.SourceID.String(),
			},
			At: s.now(),
		})
	}
	return move, nil
}

// GetMove loads a journal entry with its lines.
func (s *Service) GetMove(ctx context.Context, id int64) (Move, error) {
	var move Move
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		move, err = tx.GetMoveWithLines(ctx, id)
		return err
	})
	return move, err
}

// ListMovesByJournal returns every entry of a journal, oldest first.
func (s *Service) ListMovesByJournal(ctx context.Context, journalID int64) ([]Move, error) {
	var moves []Move
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		moves, err = tx.ListMovesByJournal(ctx, journalID)
		return err
	})
	return moves, err
}

// AccountBalance sums posted debit minus credit for an account within a journal.
func (s *Service) AccountBalance(ctx context.Context, journalID, accountID int64) (decimal.Decimal, error) {
	balance := decimal.Zero
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		balance, err = tx.AccountBalance(ctx, journalID, accountID)
		return err
	})
	return balance, err
}

func toMoveLines(moveID int64, date time.Time, lines []MoveLineInput) []MoveLine {
	out := make([]MoveLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, MoveLine{
			MoveID:       moveID,
			Name:         line.Name,
			AccountID:    line.AccountID,
			PartnerID:    line.PartnerID,
			Debit:        line.Debit,
			Credit:       line.Credit,
			Quantity:     line.Quantity,
			Date:         date,
			DateMaturity: line.DateMaturity,
		})
	}
	return out
}
