package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"payline/internal/config"
	"payline/internal/db"
	"payline/internal/migrate"
	"payline/internal/repo"
)

// Bootstrap opens the workspace database, applies migrations, and seeds
// roles and permissions from config. The returned handle is ready for an
// engine.
func Bootstrap(ctx context.Context, workspace, actorID string) (*sql.DB, *config.Config, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	if err := SeedRBAC(ctx, repo.Repo{DB: conn}, cfg, actorID); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("seed rbac: %w", err)
	}
	return conn, cfg, nil
}

// SeedRBAC inserts the known permissions and the configured roles. When no
// actor holds a role yet, the calling actor is granted admin so a fresh
// workspace is usable immediately.
func SeedRBAC(ctx context.Context, r repo.Repo, cfg *config.Config, actorID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, perm := range config.KnownPermissions {
		if err := r.InsertPermission(ctx, tx, perm, ""); err != nil {
			return fmt.Errorf("insert permission %s: %w", perm, err)
		}
	}
	roles := cfg.RBAC.Roles
	if len(roles) == 0 {
		roles = config.Default(cfg.Company.Name).RBAC.Roles
	}
	for roleID, role := range roles {
		if err := r.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return fmt.Errorf("insert role %s: %w", roleID, err)
		}
		for _, perm := range role.Permissions {
			if err := r.AddRolePermission(ctx, tx, roleID, perm); err != nil {
				return fmt.Errorf("grant %s to %s: %w", perm, roleID, err)
			}
		}
	}

	if actorID != "" {
		if err := r.EnsureActor(ctx, tx, actorID, now); err != nil {
			return fmt.Errorf("ensure actor: %w", err)
		}
		var assigned int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM actor_roles`).Scan(&assigned); err != nil {
			return err
		}
		if assigned == 0 {
			if err := r.AssignRole(ctx, tx, actorID, "admin"); err != nil {
				return fmt.Errorf("assign admin: %w", err)
			}
		}
	}
	return tx.Commit()
}
