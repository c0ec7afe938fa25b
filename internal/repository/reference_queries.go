package repository

import (
	"context"
	"time"
)

// ReferenceRow mirrors a workflow_references row.
type ReferenceRow struct {
	Reference   string
	Kind        string
	RequestHash string
	InProgress  bool
	Response    []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const referenceColumns = `reference, kind, request_hash, in_progress, response, created_at, updated_at`

func (q *Queries) GetReference(ctx context.Context, reference string) (ReferenceRow, error) {
	var r ReferenceRow
	err := q.db.QueryRow(ctx,
		`SELECT `+referenceColumns+` FROM workflow_references WHERE reference = $1`,
		reference,
	).Scan(&r.Reference, &r.Kind, &r.RequestHash, &r.InProgress, &r.Response, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ReserveReferenceParams claims a workflow reference. ON CONFLICT DO NOTHING
// plus RETURNING makes the first caller win and every retry read zero rows.
type ReserveReferenceParams struct {
	Reference   string
	Kind        string
	RequestHash string
}

func (q *Queries) ReserveReference(ctx context.Context, arg ReserveReferenceParams) (string, error) {
	var ref string
	err := q.db.QueryRow(ctx,
		`INSERT INTO workflow_references (reference, kind, request_hash, in_progress, created_at, updated_at)
		 VALUES ($1, $2, $3, TRUE, NOW(), NOW())
		 ON CONFLICT (reference) DO NOTHING
		 RETURNING reference`,
		arg.Reference, arg.Kind, arg.RequestHash,
	).Scan(&ref)
	return ref, err
}

// FinalizeReferenceParams stores the workflow outcome for replay to retries.
type FinalizeReferenceParams struct {
	Response    []byte
	Reference   string
	RequestHash string
}

func (q *Queries) FinalizeReference(ctx context.Context, arg FinalizeReferenceParams) (ReferenceRow, error) {
	var r ReferenceRow
	err := q.db.QueryRow(ctx,
		`UPDATE workflow_references
		 SET in_progress = FALSE, response = $1, updated_at = NOW()
		 WHERE reference = $2 AND request_hash = $3
		 RETURNING `+referenceColumns,
		arg.Response, arg.Reference, arg.RequestHash,
	).Scan(&r.Reference, &r.Kind, &r.RequestHash, &r.InProgress, &r.Response, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// ReleaseReference drops a reference whose workflow was abandoned, such as a
// withdrawal cancelled by the expiry sweep, so the client can retry with the
// same reference.
func (q *Queries) ReleaseReference(ctx context.Context, reference string) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`DELETE FROM workflow_references WHERE reference = $1`,
		reference,
	)
	return tag.RowsAffected(), err
}
