package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pulsebase-backend/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrAlreadyAccounted = errors.New("delivery counts already recorded")
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

const messageColumns = `id, event_name, channel_id, channel_name, payload, sender_type, sender_id,
	ws_audience_count, wh_audience_count, wh_delivered_count, created_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.EventName, &m.ChannelID, &m.ChannelName, &m.Payload,
		&m.SenderType, &m.SenderID, &m.WSAudienceCount, &m.WHAudienceCount, &m.WHDeliveredCount, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// InsertTx persists a message inside the caller's transaction, so the
// row-level policies active on that transaction govern the write.
func (r *MessageRepository) InsertTx(ctx context.Context, tx pgx.Tx, m *model.Message) (*model.Message, error) {
	return scanMessage(tx.QueryRow(ctx, `
		INSERT INTO realtime_messages (id, event_name, channel_id, channel_name, payload, sender_type, sender_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+messageColumns,
		m.ID, m.EventName, m.ChannelID, m.ChannelName, m.Payload, m.SenderType, m.SenderID,
	))
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	m, err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM realtime_messages WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return m, nil
}

// List returns messages newest first, optionally filtered by channel id
// and event name.
func (r *MessageRepository) List(ctx context.Context, f model.MessageFilter) ([]model.Message, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	cond := "WHERE TRUE"
	args := []any{}
	idx := 1

	if f.ChannelID != "" {
		cond += fmt.Sprintf(" AND channel_id = $%d", idx)
		args = append(args, f.ChannelID)
		idx++
	}
	if f.EventName != "" {
		cond += fmt.Sprintf(" AND event_name = $%d", idx)
		args = append(args, f.EventName)
		idx++
	}

	query := fmt.Sprintf(`SELECT %s FROM realtime_messages %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		messageColumns, cond, idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// Stats aggregates total count, webhook delivery rate and the ten most
// frequent event names (ties broken lexically).
func (r *MessageRepository) Stats(ctx context.Context, f model.StatsFilter) (*model.Stats, error) {
	cond := "WHERE TRUE"
	args := []any{}
	idx := 1

	if f.ChannelID != "" {
		cond += fmt.Sprintf(" AND channel_id = $%d", idx)
		args = append(args, f.ChannelID)
		idx++
	}
	if !f.Since.IsZero() {
		cond += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, f.Since)
		idx++
	}

	var stats model.Stats
	var delivered, audience int64
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*)::bigint,
		       COALESCE(SUM(wh_delivered_count), 0)::bigint,
		       COALESCE(SUM(wh_audience_count), 0)::bigint
		FROM realtime_messages %s`, cond), args...,
	).Scan(&stats.TotalMessages, &delivered, &audience)
	if err != nil {
		return nil, fmt.Errorf("scan totals: %w", err)
	}
	stats.WebhookDeliveryRate = DeliveryRate(delivered, audience)

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT event_name, COUNT(*)::bigint AS cnt
		FROM realtime_messages %s
		GROUP BY event_name
		ORDER BY cnt DESC, event_name ASC
		LIMIT 10`, cond), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats.TopEvents = []model.EventCount{}
	for rows.Next() {
		var ec model.EventCount
		if err := rows.Scan(&ec.EventName, &ec.Count); err != nil {
			return nil, fmt.Errorf("scan top event: %w", err)
		}
		stats.TopEvents = append(stats.TopEvents, ec)
	}
	return &stats, rows.Err()
}

// DeliveryRate is delivered over audience, defined as 0 for an empty
// audience.
func DeliveryRate(delivered, audience int64) float64 {
	if audience <= 0 {
		return 0
	}
	return float64(delivered) / float64(audience)
}

// SetDeliveryCounts writes all three counts in one statement. The NULL
// guard makes the write first-wins: counts are set exactly once even if
// the reconciliation sweep races the live listener. Losing that race is
// reported as ErrAlreadyAccounted, distinct from a vanished row.
func (r *MessageRepository) SetDeliveryCounts(ctx context.Context, id string, ws, whAudience, whDelivered int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE realtime_messages
		SET ws_audience_count = $2, wh_audience_count = $3, wh_delivered_count = $4
		WHERE id = $1 AND ws_audience_count IS NULL`,
		id, ws, whAudience, whDelivered,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var accounted bool
		err := r.pool.QueryRow(ctx,
			`SELECT ws_audience_count IS NOT NULL FROM realtime_messages WHERE id = $1`, id,
		).Scan(&accounted)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		if accounted {
			return ErrAlreadyAccounted
		}
		return ErrMessageNotFound
	}
	return nil
}

// ListUnaccounted returns messages whose delivery counts were never
// written and that are older than the grace cutoff, oldest first, for the
// reconciliation sweep.
func (r *MessageRepository) ListUnaccounted(ctx context.Context, olderThan time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM realtime_messages
		WHERE ws_audience_count IS NULL AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// DeleteOlderThan removes messages older than the given number of days.
// Returns the number of deleted rows.
func (r *MessageRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM realtime_messages WHERE created_at < NOW() - make_interval(days => $1)
	`, days)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
