package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/krkn12/cred30-sub003/internal/repository"
)

// finalizeWorkflowReference marks a reserved workflow reference as completed,
// storing the primary record ID as the replayable response.
func finalizeWorkflowReference(ctx context.Context, qtx *repository.Queries, reference, requestHash string, recordID uuid.UUID) error {
	response, err := json.Marshal(map[string]any{"record_id": recordID})
	if err != nil {
		return fmt.Errorf("encode reference response: %w", err)
	}
	if _, err := qtx.FinalizeReference(ctx, repository.FinalizeReferenceParams{
		Response:    response,
		Reference:   reference,
		RequestHash: requestHash,
	}); err != nil {
		return fmt.Errorf("finalize reference: %w", err)
	}
	return nil
}

func decodeReferenceResponse(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode stored reference response: %w", err)
	}
	return nil
}
