package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/rustyeddy/papertrader/ledger"
)

// Memory is a Journal that lives only as long as the process.
type Memory struct {
	mu     sync.Mutex
	trades []ledger.TradeRecord
	snap   *ledger.State

	archives map[string][]ledger.TradeRecord
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) LoadLedger(ctx context.Context) (ledger.State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return ledger.State{}, false, nil
	}
	st, err := ledger.Rebuild(*m.snap, m.trades)
	if err != nil {
		return ledger.State{}, false, err
	}
	return st, true, nil
}

func (m *Memory) AppendTrade(ctx context.Context, rec ledger.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(rec)
}

func (m *Memory) SaveSnapshot(ctx context.Context, st ledger.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLocked(st)
	return nil
}

func (m *Memory) CommitTrade(ctx context.Context, rec ledger.TradeRecord, st ledger.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.appendLocked(rec); err != nil {
		return err
	}
	m.saveLocked(st)
	return nil
}

func (m *Memory) appendLocked(rec ledger.TradeRecord) error {
	if n := len(m.trades); n > 0 && rec.ID <= m.trades[n-1].ID {
		return fmt.Errorf("insert trade %d: %w", rec.ID, ledger.ErrTradeOrder)
	}
	m.trades = append(m.trades, rec)
	return nil
}

func (m *Memory) saveLocked(st ledger.State) {
	snap := st.Clone()
	snap.History = nil
	m.snap = &snap
}

func (m *Memory) GetTrade(ctx context.Context, id int64) (ledger.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.trades {
		if rec.ID == id {
			return rec, nil
		}
	}
	return ledger.TradeRecord{}, fmt.Errorf("trade %d: %w", id, ErrTradeNotFound)
}

func (m *Memory) ListTrades(ctx context.Context, f TradeFilter) ([]ledger.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.TradeRecord
	for _, rec := range m.trades {
		if !f.Match(rec) {
			continue
		}
		out = append(out, rec)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
