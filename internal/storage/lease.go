package storage

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease takes the named lease for holder until now+ttl. It succeeds when
// the lease is free or expired and reports false when another holder still
// owns it.
func (s *SubscriptionStore) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error) {
	now = now.UTC()
	query := s.db.Rebind(`
		INSERT INTO poll_leases (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE poll_leases.expires_at <= ?
	`)
	res, err := s.db.ExecContext(ctx, query, name, holder, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseLease frees the named lease if holder still owns it.
func (s *SubscriptionStore) ReleaseLease(ctx context.Context, name, holder string) error {
	query := s.db.Rebind(`DELETE FROM poll_leases WHERE name = ? AND holder = ?`)
	if _, err := s.db.ExecContext(ctx, query, name, holder); err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}
