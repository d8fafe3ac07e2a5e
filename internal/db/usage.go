package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/facturaIA/invoice-scanner/internal/models"
	"github.com/facturaIA/invoice-scanner/internal/usage"
)

var _ usage.Counter = (*Store)(nil)

// Add adds one request's tokens to the day's total
func (s *Store) Add(ctx context.Context, day time.Time, u models.Usage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO token_usage (day, tokens, requests)
		VALUES ($1, $2, 1)
		ON CONFLICT (day) DO UPDATE
		SET tokens = token_usage.tokens + EXCLUDED.tokens,
		    requests = token_usage.requests + 1
	`, dateOnly(day), int64(u.TotalTokenCount))
	return err
}

// Day returns the token total for day
func (s *Store) Day(ctx context.Context, day time.Time) (usage.Daily, error) {
	d := usage.Daily{Date: day.Format(usage.DateLayout)}
	err := s.pool.QueryRow(ctx, `
		SELECT tokens, requests FROM token_usage WHERE day = $1
	`, dateOnly(day)).Scan(&d.Tokens, &d.Requests)
	if errors.Is(err, pgx.ErrNoRows) {
		return d, nil
	}
	return d, err
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
