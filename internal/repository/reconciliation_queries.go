package repository

import "context"

// CountNegativeAccountBalances returns how many accounts violate the
// non-negative balance invariant. Always zero when the conditional debit
// guards hold.
func (q *Queries) CountNegativeAccountBalances(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM accounts WHERE balance_cents < 0 OR points < 0`,
	).Scan(&count)
	return count, err
}

// SumAccountBalances totals every account's spendable balance.
func (q *Queries) SumAccountBalances(ctx context.Context) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(balance_cents), 0) FROM accounts`,
	).Scan(&total)
	return total, err
}

// SumGroupPools totals the money held in consortium pools.
func (q *Queries) SumGroupPools(ctx context.Context) (int64, error) {
	var total int64
	err := q.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(current_pool_cents), 0) FROM consortium_groups`,
	).Scan(&total)
	return total, err
}
