package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"pulsebase-backend/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUnknownRole = errors.New("unknown principal role")

// AuthContext scopes a principal's database privileges to a single
// transaction. Policy evaluation itself stays in the store: the rules are
// authored once as row-level policies and apply identically to direct
// store access and to this engine.
type AuthContext struct {
	pool *pgxpool.Pool
}

func NewAuthContext(pool *pgxpool.Pool) *AuthContext {
	return &AuthContext{pool: pool}
}

// Apply switches the transaction to the principal's role and records the
// caller identity for policy expressions. Both settings use
// set_config(..., is_local => true), so they die with the transaction on
// every exit path; a pooled connection handed back to general use never
// retains a caller role. The role is checked against the closed role set
// before it reaches the statement, and it travels as a bind parameter,
// never interpolated.
func (a *AuthContext) Apply(ctx context.Context, tx pgx.Tx, p model.Principal) error {
	if !model.KnownRole(p.Role) {
		return fmt.Errorf("%w: %q", ErrUnknownRole, p.Role)
	}
	_, err := tx.Exec(ctx,
		`SELECT set_config('request.jwt.claim.sub', $2, true), set_config('role', $1, true)`,
		p.Role, p.ID,
	)
	if err != nil {
		return fmt.Errorf("set auth context: %w", err)
	}
	return nil
}

// CanSubscribe evaluates the read-side admission for a channel name by
// probing the messages table under the principal's context, exactly as a
// live subscription replay would read it. The probe transaction is always
// rolled back.
//
// The probe is grant-scoped: a role without SELECT privilege is denied
// here, while a row-level USING expression filters silently at read time
// and cannot fail the probe. Per-row read restrictions therefore apply
// when rows are read back, not at subscribe time.
func (a *AuthContext) CanSubscribe(ctx context.Context, p model.Principal, channelName string) (bool, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin subscribe probe: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := a.Apply(ctx, tx, p); err != nil {
		if errors.Is(err, ErrUnknownRole) {
			return false, nil
		}
		return false, err
	}

	var n int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM realtime_messages WHERE channel_name = $1`,
		channelName,
	).Scan(&n)
	if err != nil {
		if IsDenied(err) {
			log.Printf("[authz] subscribe denied: role=%s channel=%s", p.Role, channelName)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// IsDenied reports whether a store error is a policy or privilege
// rejection rather than an infrastructure failure. Row-level policy
// violations and missing grants both surface as insufficient_privilege.
func IsDenied(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}
