package repository

import (
	"context"
	"errors"

	"pulsebase-backend/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrChannelExists   = errors.New("channel pattern already exists")
	ErrChannelNotFound = errors.New("channel not found")
)

type ChannelRepository struct {
	pool *pgxpool.Pool
}

func NewChannelRepository(pool *pgxpool.Pool) *ChannelRepository {
	return &ChannelRepository{pool: pool}
}

const channelColumns = `id, pattern, description, enabled, webhook_urls, created_at, updated_at`

func scanChannel(row pgx.Row) (*model.Channel, error) {
	var ch model.Channel
	err := row.Scan(&ch.ID, &ch.Pattern, &ch.Description, &ch.Enabled, &ch.WebhookURLs, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if ch.WebhookURLs == nil {
		ch.WebhookURLs = []string{}
	}
	return &ch, nil
}

// Create inserts a new channel. A colliding pattern is reported as
// ErrChannelExists.
func (r *ChannelRepository) Create(ctx context.Context, req *model.CreateChannelRequest) (*model.Channel, error) {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	urls := req.WebhookURLs
	if urls == nil {
		urls = []string{}
	}

	ch, err := scanChannel(r.pool.QueryRow(ctx, `
		INSERT INTO channels (id, pattern, description, enabled, webhook_urls)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+channelColumns,
		uuid.NewString(), req.Pattern, req.Description, enabled, urls,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrChannelExists
		}
		return nil, err
	}
	return ch, nil
}

// Update applies a partial update; nil request fields keep their value.
func (r *ChannelRepository) Update(ctx context.Context, id string, req *model.UpdateChannelRequest) (*model.Channel, error) {
	ch, err := scanChannel(r.pool.QueryRow(ctx, `
		UPDATE channels SET
			pattern      = COALESCE($2, pattern),
			description  = COALESCE($3, description),
			enabled      = COALESCE($4, enabled),
			webhook_urls = COALESCE($5, webhook_urls),
			updated_at   = NOW()
		WHERE id = $1
		RETURNING `+channelColumns,
		id, req.Pattern, req.Description, req.Enabled, req.WebhookURLs,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChannelNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrChannelExists
		}
		return nil, err
	}
	return ch, nil
}

func (r *ChannelRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrChannelNotFound
	}
	return nil
}

func (r *ChannelRepository) GetByID(ctx context.Context, id string) (*model.Channel, error) {
	ch, err := scanChannel(r.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChannelNotFound
		}
		return nil, err
	}
	return ch, nil
}

// List returns all channels in creation order, which is also the
// precedence order for pattern resolution.
func (r *ChannelRepository) List(ctx context.Context) ([]model.Channel, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, rows.Err()
}
