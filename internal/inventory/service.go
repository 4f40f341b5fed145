package inventory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Service coordinates stock ledger operations.
type Service struct {
	repo     RepositoryPort
	allowNeg bool
	mode     BalanceMode
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	BalanceMode        BalanceMode
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.BalanceMode == "" {
		cfg.BalanceMode = BalanceModeIncremental
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, allowNeg: cfg.AllowNegativeStock, mode: cfg.BalanceMode, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateEntry appends a movement and updates the item/location balance in the
// same transaction. Outbound entries that would overdraw the balance, a batch
// or a serial fail with InsufficientStockError unless negative stock is allowed.
func (s *Service) CreateEntry(ctx context.Context, in EntryInput) (StockLedgerEntry, error) {
	if strings.TrimSpace(in.ItemID) == "" || strings.TrimSpace(in.LocationID) == "" {
		return StockLedgerEntry{}, shared.Invalid("item_id", "item and location required")
	}
	if in.QtyIn.IsNegative() || in.QtyOut.IsNegative() || in.QtyIn.IsPositive() == in.QtyOut.IsPositive() {
		return StockLedgerEntry{}, ErrInvalidQuantity
	}
	if in.UnitCost.IsNegative() {
		return StockLedgerEntry{}, ErrInvalidUnitCost
	}
	if in.SerialNo != "" && !in.QtyIn.Add(in.QtyOut).Equal(decimal.NewFromInt(1)) {
		return StockLedgerEntry{}, ErrSerialQuantity
	}
	if in.SourceType == "" {
		return StockLedgerEntry{}, shared.Invalid("source_type", "required")
	}

	var entry StockLedgerEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		balance, _, err := tx.GetBalance(ctx, in.ItemID, in.LocationID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		entry = StockLedgerEntry{
			ID:         uuid.New(),
			ItemID:     in.ItemID,
			LocationID: in.LocationID,
			TxnDate:    in.TxnDate,
			SourceType: in.SourceType,
			SourceID:   in.SourceID,
			SourceNo:   in.SourceNo,
			QtyIn:      in.QtyIn,
			QtyOut:     in.QtyOut,
			UnitCost:   in.UnitCost,
			BatchNo:    in.BatchNo,
			SerialNo:   in.SerialNo,
			ExpiryDate: in.ExpiryDate,
			Note:       in.Note,
			CreatedAt:  now,
		}
		if entry.TxnDate.IsZero() {
			entry.TxnDate = now
		}

		var history []StockLedgerEntry
		needHistory := s.mode == BalanceModeReplay || in.BatchNo != "" || in.SerialNo != ""
		if needHistory {
			history, err = tx.ListPairEntries(ctx, in.ItemID, in.LocationID)
			if err != nil {
				return err
			}
			if s.mode == BalanceModeReplay {
				balance = replayBalance(in.ItemID, in.LocationID, history)
			}
		}

		if entry.Inbound() {
			if in.SerialNo != "" && containsSerial(availableSerials(history), in.SerialNo) {
				return shared.Invalid("serial_no", "serial %s already in stock", in.SerialNo)
			}
			entry.TotalCost = entry.QtyIn.Mul(entry.UnitCost)
		} else {
			if err := s.guardOutbound(balance, history, in); err != nil {
				return err
			}
			if entry.UnitCost.IsZero() {
				entry.UnitCost = balance.AvgCost.Round(6)
			}
			entry.TotalCost = entry.QtyOut.Mul(entry.UnitCost)
			if entry.QtyOut.Equal(balance.BalanceQty) && in.UnitCost.IsZero() {
				entry.TotalCost = balance.NetCost
			}
		}

		entry.Seq, err = tx.NextEntrySeq(ctx)
		if err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		if s.mode == BalanceModeReplay {
			balance = replayBalance(in.ItemID, in.LocationID, append(history, entry))
		} else {
			balance.apply(entry)
		}
		return tx.PutBalance(ctx, balance)
	})
	if err != nil {
		return StockLedgerEntry{}, err
	}
	return entry, nil
}

func (s *Service) guardOutbound(balance StockBalance, history []StockLedgerEntry, in EntryInput) error {
	if in.SerialNo != "" && !containsSerial(availableSerials(history), in.SerialNo) {
		return &shared.InsufficientStockError{ItemID: in.ItemID, LocationID: in.LocationID, Requested: in.QtyOut, Available: decimal.Zero}
	}
	if s.allowNeg {
		return nil
	}
	if balance.BalanceQty.Sub(in.QtyOut).IsNegative() {
		return &shared.InsufficientStockError{ItemID: in.ItemID, LocationID: in.LocationID, Requested: in.QtyOut, Available: balance.BalanceQty}
	}
	if in.BatchNo != "" {
		available := decimal.Zero
		for _, b := range batchBalances(history) {
			if b.BatchNo == in.BatchNo {
				available = b.Qty
			}
		}
		if available.LessThan(in.QtyOut) {
			return &shared.InsufficientStockError{ItemID: in.ItemID, LocationID: in.LocationID + "/" + in.BatchNo, Requested: in.QtyOut, Available: available}
		}
	}
	return nil
}

// GetBalance returns the stored balance for an item at a location.
func (s *Service) GetBalance(ctx context.Context, itemID, locationID string) (StockBalance, error) {
	var bal StockBalance
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bal, _, err = tx.GetBalance(ctx, itemID, locationID)
		return err
	})
	return bal, err
}

// ListBalances returns every stored balance.
func (s *Service) ListBalances(ctx context.Context) ([]StockBalance, error) {
	var out []StockBalance
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListBalances(ctx)
		return err
	})
	return out, err
}

// CheckStockAvailability reports whether qty can be issued from location.
func (s *Service) CheckStockAvailability(ctx context.Context, itemID, locationID string, qty decimal.Decimal) (bool, error) {
	bal, err := s.GetBalance(ctx, itemID, locationID)
	if err != nil {
		return false, err
	}
	return bal.BalanceQty.GreaterThanOrEqual(qty), nil
}

// EntriesBySource returns the stock movements written for a document.
func (s *Service) EntriesBySource(ctx context.Context, sourceID uuid.UUID) ([]StockLedgerEntry, error) {
	var out []StockLedgerEntry
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListEntriesBySource(ctx, sourceID)
		return err
	})
	return out, err
}

// GetBatchBalances projects positive batch balances, earliest expiry first.
func (s *Service) GetBatchBalances(ctx context.Context, itemID, locationID string) ([]BatchBalance, error) {
	var out []BatchBalance
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		entries, err := tx.ListPairEntries(ctx, itemID, locationID)
		if err != nil {
			return err
		}
		out = batchBalances(entries)
		return nil
	})
	return out, err
}

// GetAvailableSerials projects serials on hand in arrival order.
func (s *Service) GetAvailableSerials(ctx context.Context, itemID, locationID string) ([]string, error) {
	var out []string
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		entries, err := tx.ListPairEntries(ctx, itemID, locationID)
		if err != nil {
			return err
		}
		out = availableSerials(entries)
		return nil
	})
	return out, err
}

// AllocateBatches splits qty across batches in FEFO order.
func (s *Service) AllocateBatches(ctx context.Context, itemID, locationID string, qty decimal.Decimal) ([]LotAllocation, error) {
	batches, err := s.GetBatchBalances(ctx, itemID, locationID)
	if err != nil {
		return nil, err
	}
	remaining := qty
	available := decimal.Zero
	var out []LotAllocation
	for _, b := range batches {
		available = available.Add(b.Qty)
		if !remaining.IsPositive() {
			continue
		}
		take := decimal.Min(b.Qty, remaining)
		out = append(out, LotAllocation{BatchNo: b.BatchNo, Qty: take, ExpiryDate: b.ExpiryDate})
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		return nil, &shared.InsufficientStockError{ItemID: itemID, LocationID: locationID, Requested: qty, Available: available}
	}
	return out, nil
}

// AllocateSerials picks qty serials in arrival order.
func (s *Service) AllocateSerials(ctx context.Context, itemID, locationID string, qty int) ([]LotAllocation, error) {
	serials, err := s.GetAvailableSerials(ctx, itemID, locationID)
	if err != nil {
		return nil, err
	}
	if qty > len(serials) {
		return nil, &shared.InsufficientStockError{
			ItemID: itemID, LocationID: locationID,
			Requested: decimal.NewFromInt(int64(qty)), Available: decimal.NewFromInt(int64(len(serials))),
		}
	}
	out := make([]LotAllocation, 0, qty)
	for _, serial := range serials[:qty] {
		out = append(out, LotAllocation{SerialNo: serial, Qty: decimal.NewFromInt(1)})
	}
	return out, nil
}

// RecalculateAllBalances rebuilds every StockBalance from the entry log.
func (s *Service) RecalculateAllBalances(ctx context.Context) (int, error) {
	count := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entries, err := tx.ListAllEntries(ctx)
		if err != nil {
			return err
		}
		type pair struct{ item, location string }
		grouped := make(map[pair][]StockLedgerEntry)
		for _, e := range entries {
			key := pair{e.ItemID, e.LocationID}
			grouped[key] = append(grouped[key], e)
		}
		existing, err := tx.ListBalances(ctx)
		if err != nil {
			return err
		}
		for _, bal := range existing {
			key := pair{bal.ItemID, bal.LocationID}
			if _, ok := grouped[key]; !ok {
				grouped[key] = nil
			}
		}
		for key, list := range grouped {
			if err := tx.PutBalance(ctx, replayBalance(key.item, key.location, list)); err != nil {
				return err
			}
		}
		count = len(grouped)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("stock balances recalculated", slog.Int("pairs", count))
	return count, nil
}

// GetStockCard lists entries with a running balance.
func (s *Service) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	if filter.LocationID == "" || filter.ItemID == "" {
		return nil, shared.Invalid("item_id", "item and location required")
	}
	var entries []StockLedgerEntry
	err := s.repo.View(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = tx.ListPairEntries(ctx, filter.ItemID, filter.LocationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	var running StockBalance
	cards := make([]StockCardEntry, 0, len(entries))
	for _, e := range entries {
		running.apply(e)
		if !filter.From.IsZero() && e.TxnDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.TxnDate.After(filter.To) {
			continue
		}
		cards = append(cards, StockCardEntry{
			TxCode:      e.SourceNo,
			TxType:      e.SourceType,
			PostedAt:    e.TxnDate,
			QtyIn:       e.QtyIn,
			QtyOut:      e.QtyOut,
			BalanceQty:  running.BalanceQty,
			UnitCost:    e.UnitCost,
			BalanceCost: running.AvgCost,
			BatchNo:     e.BatchNo,
			SerialNo:    e.SerialNo,
			Note:        e.Note,
		})
	}
	if filter.Limit > 0 && len(cards) > filter.Limit {
		cards = cards[len(cards)-filter.Limit:]
	}
	return cards, nil
}

// ValuationReport sums stock value per location.
func (s *Service) ValuationReport(ctx context.Context) (Valuation, error) {
	balances, err := s.ListBalances(ctx)
	if err != nil {
		return Valuation{}, err
	}
	rows := make(map[string]*ValuationRow)
	var report Valuation
	for _, bal := range balances {
		if bal.BalanceQty.IsZero() {
			continue
		}
		row, ok := rows[bal.LocationID]
		if !ok {
			row = &ValuationRow{LocationID: bal.LocationID}
			rows[bal.LocationID] = row
		}
		row.Items++
		row.Quantity = row.Quantity.Add(bal.BalanceQty)
		row.StockValue = row.StockValue.Add(bal.StockValue)
		report.TotalValue = report.TotalValue.Add(bal.StockValue)
	}
	for _, row := range rows {
		row.StockValue = shared.Round2(row.StockValue)
		report.Locations = append(report.Locations, *row)
	}
	sort.Slice(report.Locations, func(i, j int) bool { return report.Locations[i].LocationID < report.Locations[j].LocationID })
	report.TotalValue = shared.Round2(report.TotalValue)
	return report, nil
}

func replayBalance(itemID, locationID string, entries []StockLedgerEntry) StockBalance {
	bal := StockBalance{ItemID: itemID, LocationID: locationID}
	for _, e := range entries {
		bal.apply(e)
	}
	bal.refresh()
	return bal
}

func batchBalances(entries []StockLedgerEntry) []BatchBalance {
	index := make(map[string]*BatchBalance)
	order := make([]string, 0)
	for _, e := range entries {
		if e.BatchNo == "" {
			continue
		}
		b, ok := index[e.BatchNo]
		if !ok {
			b = &BatchBalance{BatchNo: e.BatchNo, FirstSeq: e.Seq}
			index[e.BatchNo] = b
			order = append(order, e.BatchNo)
		}
		b.Qty = b.Qty.Add(e.SignedQty())
		if b.ExpiryDate == nil && e.ExpiryDate != nil {
			expiry := *e.ExpiryDate
			b.ExpiryDate = &expiry
		}
	}
	out := make([]BatchBalance, 0, len(order))
	for _, no := range order {
		if index[no].Qty.IsPositive() {
			out = append(out, *index[no])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.ExpiryDate != nil && b.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
			return a.ExpiryDate.Before(*b.ExpiryDate)
		case a.ExpiryDate != nil && b.ExpiryDate == nil:
			return true
		case a.ExpiryDate == nil && b.ExpiryDate != nil:
			return false
		}
		return a.FirstSeq < b.FirstSeq
	})
	return out
}

func availableSerials(entries []StockLedgerEntry) []string {
	ordered := make([]StockLedgerEntry, 0, len(entries))
	for _, e := range entries {
		if e.SerialNo != "" {
			ordered = append(ordered, e)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].TxnDate.Equal(ordered[j].TxnDate) {
			return ordered[i].TxnDate.Before(ordered[j].TxnDate)
		}
		return ordered[i].Seq < ordered[j].Seq
	})
	out := make([]string, 0)
	for _, e := range ordered {
		if e.Inbound() {
			if !containsSerial(out, e.SerialNo) {
				out = append(out, e.SerialNo)
			}
			continue
		}
		for i, serial := range out {
			if serial == e.SerialNo {
				out = append(out[:i], out[i+1:]...)
				break
			}
		}
	}
	return out
}

func containsSerial(serials []string, serial string) bool {
	for _, s := range serials {
		if s == serial {
			return true
		}
	}
	return false
}
