package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"postage.org/internal/escrow"
	"postage.org/internal/events"
)

// Archive appends committed events to settlement_events and keeps
// escrow_deposits in step with the deposit lifecycle events.
type Archive struct {
	db *sql.DB
}

var _ events.Sink = (*Archive)(nil)

// Publish stores evt. Replaying an event that is already archived is a no-op.
func (a *Archive) Publish(ctx context.Context, evt events.Event) error {
	if a.db == nil {
		return errNoDB
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into settlement_events (id, type, occurred_at, actor, topic_id, app_id, asset, amount, path, detail, payload)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, evt.ID, string(evt.Type), evt.At.UTC(), addr(evt.Actor),
		nullIfZero(uint64(evt.Topic)), nullIfZero(uint64(evt.App)), addr(evt.Asset),
		nullIfEmpty(evt.Amount), nullIfEmpty(evt.Path), nullIfEmpty(evt.Detail), payload); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil
		}
		return err
	}

	if evt.Deposit != nil {
		if err := upsertDeposit(ctx, tx, *evt.Deposit); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func upsertDeposit(ctx context.Context, tx *sql.Tx, d escrow.Deposit) error {
	_, err := tx.ExecContext(ctx, `
		insert into escrow_deposits
			(id, topic_id, depositor, primary_recipient, secondary_recipient, asset, amount,
			 deposited_at, timeout_seconds, status, resolved_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		on conflict (id) do update
		set status = excluded.status,
		    resolved_at = excluded.resolved_at
	`, int64(d.ID), int64(d.Topic), addr(d.Depositor), addr(d.Primary), addr(d.Secondary),
		addr(d.Asset), d.Amount.Dec(), d.DepositedAt.UTC(), int64(d.Timeout.Seconds()),
		d.Status.String(), nullTime(d.ResolvedAt))
	if err != nil {
		return fmt.Errorf("upsert deposit %d: %w", d.ID, err)
	}
	return nil
}
