package activities

import (
	"context"

	"github.com/luminahealth/orchestrator/internal/budget"
)

// Usage reports the task's accumulated model spend. Workflows pull this at
// round boundaries to feed the stopping evaluator.
func (a *Activities) Usage(ctx context.Context, taskID string) (budget.Snapshot, error) {
	if a.budget == nil {
		return budget.Snapshot{}, nil
	}
	return a.budget.Snapshot(taskID), nil
}

// ReleaseUsage drops the task's budget state after the terminal event.
func (a *Activities) ReleaseUsage(ctx context.Context, taskID string) error {
	if a.budget != nil {
		a.budget.Release(taskID)
	}
	return nil
}

// ProviderNames lists the enabled providers in registry order.
func (a *Activities) ProviderNames(ctx context.Context) ([]string, error) {
	if a.registry == nil {
		return nil, nil
	}
	return a.registry.Names(), nil
}
