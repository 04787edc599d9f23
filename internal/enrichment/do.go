package enrichment

import (
	"context"
	"encoding/json"

	"bandaid/internal/services"
)

// Do executes one memoized workflow step. A result already recorded in the
// ledger is returned as-is and fn is not invoked, so completed side effects
// never repeat across retries or engine restarts. On success the result is
// recorded before it is returned.
func Do[T any](ctx context.Context, ledger *Ledger, runID, stepName string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if raw, ok, err := ledger.StepResult(ctx, runID, stepName); err != nil {
		return zero, err
	} else if ok {
		var recorded T
		if err := json.Unmarshal([]byte(raw), &recorded); err != nil {
			return zero, services.Wrap(services.ErrInvariant, "enrichment", stepName, "decode recorded step result", err)
		}
		return recorded, nil
	}

	result, err := fn(ctx)
	if err != nil {
		return zero, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return zero, services.Wrap(services.ErrInvariant, "enrichment", stepName, "encode step result", err)
	}
	if err := ledger.RecordStep(ctx, runID, stepName, string(raw)); err != nil {
		return zero, err
	}
	return result, nil
}
