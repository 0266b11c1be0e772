package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is consistent.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_paid_matches_completed",
			SQL: `SELECT c.id, c.paid_amount, s.done FROM contracts c
                  CROSS JOIN LATERAL (
                      SELECT COALESCE(SUM((m->>'amount')::bigint), 0) AS done
                      FROM jsonb_array_elements(c.milestones) m
                      WHERE m->>'status' = 'completed') s
                  WHERE c.paid_amount <> s.done`,
		},
		{
			Name: "O2_paid_within_total",
			SQL:  `SELECT id, paid_amount, total_amount FROM contracts WHERE paid_amount > total_amount`,
		},
		{
			Name: "O3_milestone_bounds",
			SQL: `SELECT c.id, m->>'index' FROM contracts c
                  CROSS JOIN LATERAL jsonb_array_elements(c.milestones) m
                  WHERE (m->>'revisions')::int > 3
                     OR jsonb_array_length(m->'deliverables') > 3
                     OR (m->>'status' = 'revision_requested'
                         AND jsonb_array_length(m->'deliverables') >= 3)`,
		},
		{
			Name: "O4_custody_conserved",
			SQL: `SELECT a.contract_id, a.balance, a.released, a.total FROM escrow_accounts a
                  WHERE (a.funded AND a.balance + a.released <> a.total)
                     OR (NOT a.funded AND (a.balance <> 0 OR a.released <> 0))`,
		},
		{
			Name: "O5_released_matches_paid",
			SQL: `SELECT c.id, c.paid_amount, a.released FROM contracts c
                  JOIN escrow_accounts a ON a.contract_id = c.id
                  WHERE a.released <> c.paid_amount
                  UNION ALL
                  SELECT a.contract_id, SUM(m.amount), MAX(a.released) FROM escrow_accounts a
                  JOIN escrow_movements m ON m.contract_id = a.contract_id AND m.kind = 'release'
                  GROUP BY a.contract_id HAVING SUM(m.amount) <> MAX(a.released)`,
		},
		{
			Name: "O6_one_vote_per_arbitrator",
			SQL: `SELECT d.id, v->>'arbitrator', COUNT(*) FROM disputes d
                  CROSS JOIN LATERAL jsonb_array_elements(d.votes) v
                  GROUP BY d.id, v->>'arbitrator' HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_resolution_at_second_ballot",
			SQL: `SELECT d.id, d.status FROM disputes d
                  CROSS JOIN LATERAL (
                      SELECT COUNT(*) FILTER (WHERE (v->>'favors_client')::bool) AS client,
                             COUNT(*) AS ballots
                      FROM jsonb_array_elements(d.votes) v) t
                  WHERE (d.status = 'resolved_for_client' AND t.client < 2)
                     OR (d.status = 'resolved_for_freelancer' AND (t.ballots < 2 OR t.client >= 2))
                     OR (d.status IN ('resolved_for_client', 'resolved_for_freelancer') AND t.ballots > 2)
                     OR (d.status = 'under_review' AND t.ballots >= 2)`,
		},
		{
			Name: "O8_disputed_contract_has_dispute",
			SQL: `SELECT c.id FROM contracts c
                  WHERE c.status = 'disputed'
                    AND NOT EXISTS (SELECT 1 FROM disputes d WHERE d.contract_id = c.id)`,
		},
		{
			Name: "O9_timeline_seq_dense",
			SQL: `SELECT contract_id, COUNT(*), MAX(seq) FROM timeline_events
                  GROUP BY contract_id HAVING COUNT(*) <> MAX(seq)`,
		},
		{
			Name: "O10_outbox_not_stuck",
			SQL: `SELECT id, topic, attempts FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
