package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Memory keeps the record in process. Used for dry runs and simulations.
type Memory struct {
	mu        sync.Mutex
	record    Record
	published bool
	writes    int
	authority string
	now       func() time.Time
}

// NewMemory builds an in-memory ledger.
func NewMemory(authority string) *Memory {
	return &Memory{authority: authority, now: time.Now}
}

// Publish overwrites the stored record.
func (m *Memory) Publish(ctx context.Context, rate decimal.Decimal) (Publication, error) {
	price, err := ToFixedPoint(rate)
	if err != nil {
		return Publication{}, ledgerError("publish", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	m.record = Record{Price: price, UpdatedAt: m.now().UTC(), Authority: m.authority}
	m.published = true
	return Publication{Price: price, Reference: fmt.Sprintf("memory-%d", m.writes)}, nil
}

// ReadLatest returns the last published record.
func (m *Memory) ReadLatest(ctx context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.published {
		return Record{}, ledgerError("read latest", errors.New("no price published yet"))
	}
	return m.record, nil
}

var _ OracleLedger = (*Memory)(nil)
