package repository

import (
	"context"

	"pulsebase-backend/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PolicyRepository reads back the row-level policies governing the
// messages table, for display. Policies are authored in the store, not
// here.
type PolicyRepository struct {
	pool *pgxpool.Pool
}

func NewPolicyRepository(pool *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{pool: pool}
}

// Report lists the active rules, grouped by the operation they govern:
// INSERT policies gate publish, SELECT policies gate subscribe.
func (r *PolicyRepository) Report(ctx context.Context) (*model.PolicyReport, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT policyname, cmd, roles::text[], COALESCE(qual, ''), COALESCE(with_check, '')
		FROM pg_policies
		WHERE schemaname = 'public' AND tablename = 'realtime_messages'
		ORDER BY policyname ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := &model.PolicyReport{
		Publish:   []model.PolicyRule{},
		Subscribe: []model.PolicyRule{},
	}
	for rows.Next() {
		var rule model.PolicyRule
		if err := rows.Scan(&rule.PolicyName, &rule.Command, &rule.Roles,
			&rule.UsingExpression, &rule.WithCheckExpression); err != nil {
			return nil, err
		}
		switch rule.Command {
		case "INSERT":
			report.Publish = append(report.Publish, rule)
		case "SELECT":
			report.Subscribe = append(report.Subscribe, rule)
		case "ALL":
			report.Publish = append(report.Publish, rule)
			report.Subscribe = append(report.Subscribe, rule)
		}
	}
	return report, rows.Err()
}
