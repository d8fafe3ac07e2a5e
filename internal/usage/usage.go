// Package usage keeps a per-day tally of analysis tokens.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/facturaIA/invoice-scanner/internal/models"
)

// DateLayout keys daily totals.
const DateLayout = "2006-01-02"

// Daily is the token total for one calendar day.
type Daily struct {
	Date     string `json:"date"`
	Tokens   int64  `json:"tokens"`
	Requests int64  `json:"requests"`
}

// Counter records token usage. Implementations must be safe for concurrent use.
type Counter interface {
	Add(ctx context.Context, day time.Time, usage models.Usage) error
	Day(ctx context.Context, day time.Time) (Daily, error)
}

// Memory is an in-process Counter. Totals are lost on restart.
type Memory struct {
	mu   sync.Mutex
	days map[string]Daily
}

func NewMemory() *Memory {
	return &Memory{days: make(map[string]Daily)}
}

func (m *Memory) Add(_ context.Context, day time.Time, usage models.Usage) error {
	key := day.Format(DateLayout)

	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.days[key]
	d.Date = key
	d.Tokens += int64(usage.TotalTokenCount)
	d.Requests++
	m.days[key] = d
	return nil
}

func (m *Memory) Day(_ context.Context, day time.Time) (Daily, error) {
	key := day.Format(DateLayout)

	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.days[key]; ok {
		return d, nil
	}
	return Daily{Date: key}, nil
}
