package app

import (
	"context"
	"errors"
	"fmt"

	"caseflow/internal/config"
	"caseflow/internal/repo"
)

// ResolveWorkspaceConfig picks the active workspace and ensures a config
// exists in the DB, seeding defaults if missing. It prefers the override,
// then the single stored workspace.
func ResolveWorkspaceConfig(ctx context.Context, workspaceOverride string, r repo.Repo) (string, *config.Config, error) {
	workspaceID := workspaceOverride
	if workspaceID == "" {
		id, cfg, err := r.SingleWorkspaceConfig(ctx)
		if err == nil {
			return id, cfg, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		workspaceID = "default"
	}
	cfg, err := r.GetWorkspaceConfig(ctx, workspaceID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(workspaceID)
		if err := r.UpsertWorkspaceConfig(ctx, workspaceID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed workspace config: %w", err)
		}
	}
	cfg.Workspace.ID = workspaceID
	return workspaceID, cfg, nil
}
