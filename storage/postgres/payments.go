package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rs-ent/starglow-sub015/internal/types"
	"github.com/rs-ent/starglow-sub015/storage"
)

const paymentColumns = `id, user_id, product_table, product_id, quantity, status, receiver_wallet_address,
	status_reason, post_process_result, post_process_result_at, paid_at, completed_at, refunded_at,
	created_at, updated_at`

func scanPayment(row pgx.Row) (*types.Payment, error) {
	var p types.Payment
	var result []byte
	err := row.Scan(
		&p.ID, &p.UserID, &p.ProductTable, &p.ProductID, &p.Quantity, &p.Status, &p.ReceiverWalletAddress,
		&p.StatusReason, &result, &p.PostProcessResultAt, &p.PaidAt, &p.CompletedAt, &p.RefundedAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(result) > 0 {
		p.PostProcessResult = json.RawMessage(result)
	}
	return &p, nil
}

func (p *PostgresBackend) GetPayment(ctx context.Context, id string) (*types.Payment, error) {
	query := `select ` + paymentColumns + ` from payments where id = $1`
	payment, err := scanPayment(p.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return payment, nil
}

func (p *PostgresBackend) UpdatePayment(ctx context.Context, id string, update types.PaymentUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.StatusReason != nil {
		add("status_reason", *update.StatusReason)
	}
	if update.PostProcessResult != nil {
		raw, err := json.Marshal(update.PostProcessResult)
		if err != nil {
			return fmt.Errorf("failed to encode post process result: %w", err)
		}
		add("post_process_result", raw)
	}
	if update.PostProcessResultAt != nil {
		add("post_process_result_at", *update.PostProcessResultAt)
	}
	if update.CompletedAt != nil {
		add("completed_at", *update.CompletedAt)
	}

	query := `update payments set ` + strings.Join(sets, ", ") + ` where id = $1`
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) TransitionPaymentStatus(ctx context.Context, id string, from, to types.PaymentStatus) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`update payments set status = $3, updated_at = now() where id = $1 and status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition payment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresBackend) ListPaymentsByStatus(ctx context.Context, status types.PaymentStatus, updatedBefore time.Time, limit int) ([]types.Payment, error) {
	query := `select ` + paymentColumns + ` from payments
		where status = $1 and updated_at < $2
		order by updated_at asc
		limit $3`
	rows, err := p.pool.Query(ctx, query, string(status), updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []types.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, *payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}
