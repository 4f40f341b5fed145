package accounting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the chart of accounts, journals and account balances.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SeedChart creates every DefaultChart account that does not exist yet.
func (s *Service) SeedChart(ctx context.Context) (int, error) {
	created := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, row := range DefaultChart {
			id := AccountID(row.Code)
			if _, err := tx.GetAccount(ctx, id); err == nil {
				continue
			}
			now := s.now().UTC()
			if err := tx.PutAccount(ctx, Account{
				ID: id, Code: row.Code, Name: row.Name, Type: row.Type, IsActive: true,
				CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if created > 0 {
		s.logger.Info("chart of accounts seeded", slog.Int("created", created))
	}
	return created, nil
}

// CreateAccountInput describes a new ledger account.
type CreateAccountInput struct {
	Code           string
	Name           string
	Type           AccountType
	ParentCode     string
	OpeningBalance decimal.Decimal
}

// CreateAccount adds an account with a unique code.
func (s *Service) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	in.Code = strings.TrimSpace(in.Code)
	if in.Code == "" {
		return Account{}, shared.Invalid("code", "required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return Account{}, shared.Invalid("name", "required")
	}
	if !in.Type.Valid() {
		return Account{}, shared.Invalid("type", "unknown account type %q", in.Type)
	}
	var acc Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id := AccountID(in.Code)
		if _, err := tx.GetAccount(ctx, id); err == nil {
			return shared.Invalid("code", "account %s already exists", in.Code)
		}
		now := s.now().UTC()
		acc = Account{
			ID: id, Code: in.Code, Name: in.Name, Type: in.Type, IsActive: true,
			OpeningBalance: in.OpeningBalance, CreatedAt: now, UpdatedAt: now,
		}
		if in.ParentCode != "" {
			parent, err := tx.GetAccount(ctx, AccountID(in.ParentCode))
			if err != nil {
				return err
			}
			acc.ParentID = &parent.ID
		}
		return tx.PutAccount(ctx, acc)
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, "account.create", "account", acc.Code, map[string]any{"type": acc.Type})
	return acc, nil
}

// UpdateAccountInput carries the mutable account fields.
type UpdateAccountInput struct {
	Name     *string
	IsActive *bool
}

// UpdateAccount renames or (de)activates an account. Code and type never change.
func (s *Service) UpdateAccount(ctx context.Context, code string, in UpdateAccountInput) (Account, error) {
	var acc Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		acc, err = tx.GetAccount(ctx, AccountID(code))
		if err != nil {
			return err
		}
		if in.Name != nil {
			if strings.TrimSpace(*in.Name) == "" {
				return shared.Invalid("name", "required")
			}
			acc.Name = *in.Name
		}
		if in.IsActive != nil {
			acc.IsActive = *in.IsActive
		}
		acc.UpdatedAt = s.now().UTC()
		return tx.PutAccount(ctx, acc)
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, "account.update", "account", acc.Code, map[string]any{"name": acc.Name, "active": acc.IsActive})
	return acc, nil
}

// GetAccount returns the account with code.
func (s *Service) GetAccount(ctx context.Context, code string) (Account, error) {
	var acc Account
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		acc, err = tx.GetAccount(ctx, AccountID(code))
		return err
	})
	return acc, err
}

// ListAccounts returns the chart ordered by code.
func (s *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	var out []Account
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListAccounts(ctx)
		return err
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, err
}

// ResolveRoles binds roles to the default chart codes merged with overrides
// and checks every referenced account exists.
func (s *Service) ResolveRoles(ctx context.Context, overrides map[Role]string) (RoleTable, error) {
	codes := DefaultRoleCodes()
	for role, code := range overrides {
		codes[role] = code
	}
	table, err := NewRoleTable(codes)
	if err != nil {
		return RoleTable{}, err
	}
	err = s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		for role, code := range codes {
			if _, err := tx.GetAccount(ctx, AccountID(code)); err != nil {
				return fmt.Errorf("accounting: role %s: %w", role, err)
			}
		}
		return nil
	})
	if err != nil {
		return RoleTable{}, err
	}
	return table, nil
}

// PostJournal validates and persists a new journal, updating the balance of
// every touched account in the same transaction.
func (s *Service) PostJournal(ctx context.Context, input PostingInput) (Journal, error) {
	if err := input.Validate(); err != nil {
		return Journal{}, err
	}
	var journal Journal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts := make(map[uuid.UUID]Account, len(input.Lines))
		for _, line := range input.Lines {
			if _, ok := accounts[line.AccountID]; ok {
				continue
			}
			acc, err := tx.GetAccount(ctx, line.AccountID)
			if err != nil {
				return err
			}
			if !acc.IsActive {
				return &shared.ValidationError{Field: "account", Message: fmt.Sprintf("%s: %s", ErrAccountInactive, acc.Code)}
			}
			accounts[acc.ID] = acc
		}

		seq, err := tx.NextJournalSeq(ctx)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		date := input.Date
		if date.IsZero() {
			date = now
		}
		createdBy := input.CreatedBy
		if createdBy == "" {
			createdBy = shared.ActorFromContext(ctx)
		}
		journal = Journal{
			ID:           uuid.New(),
			Seq:          seq,
			ReferenceNo:  shared.FormatNumber(shared.KindJournal, seq),
			Date:         date,
			Description:  input.Description,
			SourceModule: input.SourceModule,
			SourceID:     input.SourceID,
			SourceNo:     input.SourceNo,
			CreatedBy:    createdBy,
			CreatedAt:    now,
		}
		journal.TotalDebit, journal.TotalCredit = input.Totals()
		for _, line := range input.Lines {
			entry := JournalEntry{
				AccountID: line.AccountID,
				Debit:     shared.Round2(line.Debit),
				Credit:    shared.Round2(line.Credit),
				Memo:      line.Memo,
			}
			journal.Entries = append(journal.Entries, entry)

			bal, err := tx.GetBalance(ctx, entry.AccountID)
			if err != nil {
				return err
			}
			bal.apply(accounts[entry.AccountID].Type, entry.Debit, entry.Credit, now)
			if err := tx.PutBalance(ctx, bal); err != nil {
				return err
			}
		}
		return tx.InsertJournal(ctx, journal)
	})
	if err != nil {
		return Journal{}, err
	}
	s.record(ctx, "journal.post", "journal", journal.ReferenceNo, map[string]any{
		"source_module": journal.SourceModule,
		"source_no":     journal.SourceNo,
		"total":         journal.TotalDebit.StringFixed(2),
	})
	return journal, nil
}

// GetJournal returns a journal by ID.
func (s *Service) GetJournal(ctx context.Context, id uuid.UUID) (Journal, error) {
	var j Journal
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		j, err = tx.GetJournal(ctx, id)
		return err
	})
	return j, err
}

// ListJournals returns every journal in posting order.
func (s *Service) ListJournals(ctx context.Context) ([]Journal, error) {
	var out []Journal
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListJournals(ctx)
		return err
	})
	return out, err
}

// JournalsBySource returns journals posted for one source document.
func (s *Service) JournalsBySource(ctx context.Context, sourceID uuid.UUID) ([]Journal, error) {
	var out []Journal
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListJournalsBySource(ctx, sourceID)
		return err
	})
	return out, err
}

// GetBalance returns the stored balance of an account code.
func (s *Service) GetBalance(ctx context.Context, code string) (AccountBalance, error) {
	var bal AccountBalance
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		acc, err := tx.GetAccount(ctx, AccountID(code))
		if err != nil {
			return err
		}
		bal, err = tx.GetBalance(ctx, acc.ID)
		return err
	})
	return bal, err
}

// RecalculateAllBalances rebuilds every AccountBalance from the journal log.
// Running it repeatedly yields the same state.
func (s *Service) RecalculateAllBalances(ctx context.Context) (int, error) {
	count := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		journals, err := tx.ListJournals(ctx)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		balances := make(map[uuid.UUID]*AccountBalance, len(accounts))
		types := make(map[uuid.UUID]AccountType, len(accounts))
		for _, acc := range accounts {
			balances[acc.ID] = &AccountBalance{AccountID: acc.ID, LastUpdated: now}
			types[acc.ID] = acc.Type
		}
		for _, j := range journals {
			for _, e := range j.Entries {
				bal, ok := balances[e.AccountID]
				if !ok {
					return fmt.Errorf("accounting: journal %s references unknown account %s", j.ReferenceNo, e.AccountID)
				}
				bal.apply(types[e.AccountID], e.Debit, e.Credit, now)
			}
		}
		for _, acc := range accounts {
			if err := tx.PutBalance(ctx, *balances[acc.ID]); err != nil {
				return err
			}
		}
		count = len(accounts)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("account balances recalculated", slog.Int("accounts", count))
	return count, nil
}

// ReportBalances joins accounts with their balances for report builders.
func (s *Service) ReportBalances(ctx context.Context) ([]reports.AccountBalance, error) {
	var out []reports.AccountBalance
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		for _, acc := range accounts {
			bal, err := tx.GetBalance(ctx, acc.ID)
			if err != nil {
				return err
			}
			opening := acc.OpeningBalance
			if !acc.Type.DebitNormal() {
				opening = opening.Neg()
			}
			out = append(out, reports.AccountBalance{
				Code:    acc.Code,
				Name:    acc.Name,
				Type:    string(acc.Type),
				Opening: opening,
				Debit:   bal.TotalDebit,
				Credit:  bal.TotalCredit,
			})
		}
		return nil
	})
	return out, err
}

// TrialBalance builds the trial balance over all accounts.
func (s *Service) TrialBalance(ctx context.Context) (reports.TrialBalance, error) {
	rows, err := s.ReportBalances(ctx)
	if err != nil {
		return reports.TrialBalance{}, err
	}
	return reports.BuildTrialBalance(rows), nil
}

// ProfitAndLoss builds the income statement.
func (s *Service) ProfitAndLoss(ctx context.Context) (reports.ProfitAndLoss, error) {
	rows, err := s.ReportBalances(ctx)
	if err != nil {
		return reports.ProfitAndLoss{}, err
	}
	return reports.BuildProfitAndLoss(rows), nil
}

// BalanceSheet builds the statement of financial position.
func (s *Service) BalanceSheet(ctx context.Context) (reports.BalanceSheet, error) {
	rows, err := s.ReportBalances(ctx)
	if err != nil {
		return reports.BalanceSheet{}, err
	}
	return reports.BuildBalanceSheet(rows), nil
}

func (s *Service) record(ctx context.Context, action, entity, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: entity, EntityID: id, Meta: meta, At: s.now()}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
