package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const roleColumns = `id, name, display_name, description, is_system, created_at`

// UpsertPermission inserts or refreshes a permission by name and returns its id.
func (q *Queries) UpsertPermission(ctx context.Context, p Permission) (string, error) {
	var id string
	err := q.get(ctx, &id, `INSERT INTO permissions (id, name, resource, action, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			resource = excluded.resource,
			action = excluded.action,
			description = excluded.description
		RETURNING id`, p.ID, p.Name, p.Resource, p.Action, p.Description)
	if err != nil {
		return "", fmt.Errorf("store: upsert permission %q: %w", p.Name, err)
	}
	return id, nil
}

// UpsertRole inserts or refreshes a role by name and returns its id.
func (q *Queries) UpsertRole(ctx context.Context, r *Role) (string, error) {
	var id string
	err := q.get(ctx, &id, `INSERT INTO roles (`+roleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			display_name = excluded.display_name,
			description = excluded.description,
			is_system = excluded.is_system
		RETURNING id`, r.ID, r.Name, r.DisplayName, r.Description, r.IsSystem, toMillis(r.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("store: upsert role %q: %w", r.Name, err)
	}
	return id, nil
}

// CreateRole inserts a new role. A taken name yields ErrDuplicate.
func (q *Queries) CreateRole(ctx context.Context, r *Role) error {
	_, err := q.exec(ctx, `INSERT INTO roles (`+roleColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.DisplayName, r.Description, r.IsSystem, toMillis(r.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: create role: %w", err)
	}
	return nil
}

// SetRolePermissions replaces the role's grant list. An unknown permission
// name yields ErrNotFound and, inside a transaction, leaves nothing applied.
func (q *Queries) SetRolePermissions(ctx context.Context, roleID string, names []string) error {
	if _, err := q.exec(ctx, `DELETE FROM role_permissions WHERE role_id = ?`, roleID); err != nil {
		return fmt.Errorf("store: clear role permissions: %w", err)
	}
	for _, name := range names {
		ok, err := q.execOne(ctx, `INSERT INTO role_permissions (role_id, permission_id)
			SELECT ?, id FROM permissions WHERE name = ?`, roleID, name)
		if err != nil {
			return fmt.Errorf("store: grant %q: %w", name, err)
		}
		if !ok {
			return fmt.Errorf("%w: permission %q", ErrNotFound, name)
		}
	}
	return nil
}

// RoleByName loads a role with its permission names.
func (q *Queries) RoleByName(ctx context.Context, name string) (*Role, error) {
	var row roleRow
	if err := q.get(ctx, &row, `SELECT `+roleColumns+` FROM roles WHERE name = ?`, name); err != nil {
		return nil, wrapLookup("role by name", err)
	}
	role := row.toRole()

	if err := q.selectAll(ctx, &role.Permissions, `SELECT p.name FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ? ORDER BY p.name`, role.ID); err != nil {
		return nil, fmt.Errorf("store: role permissions: %w", err)
	}
	return role, nil
}

// ListRoles returns every role with its permission names, ordered by name.
func (q *Queries) ListRoles(ctx context.Context) ([]*Role, error) {
	var rows []roleRow
	if err := q.selectAll(ctx, &rows, `SELECT `+roleColumns+` FROM roles ORDER BY name`); err != nil {
		return nil, fmt.Errorf("store: list roles: %w", err)
	}

	var grants []struct {
		RoleID string `db:"role_id"`
		Name   string `db:"name"`
	}
	if err := q.selectAll(ctx, &grants, `SELECT rp.role_id, p.name FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id ORDER BY p.name`); err != nil {
		return nil, fmt.Errorf("store: list role permissions: %w", err)
	}
	byRole := make(map[string][]string, len(rows))
	for _, g := range grants {
		byRole[g.RoleID] = append(byRole[g.RoleID], g.Name)
	}

	out := make([]*Role, 0, len(rows))
	for _, r := range rows {
		role := r.toRole()
		role.Permissions = byRole[role.ID]
		out = append(out, role)
	}
	return out, nil
}

// ListPermissions returns every permission ordered by name.
func (q *Queries) ListPermissions(ctx context.Context) ([]Permission, error) {
	var out []Permission
	if err := q.selectAll(ctx, &out, `SELECT id, name, resource, action, description
		FROM permissions ORDER BY name`); err != nil {
		return nil, fmt.Errorf("store: list permissions: %w", err)
	}
	return out, nil
}

// DeleteRole removes a non-system role along with its grants and
// memberships. It reports false when no deletable role matched.
func (q *Queries) DeleteRole(ctx context.Context, roleID string) (bool, error) {
	if _, err := q.exec(ctx, `DELETE FROM user_roles WHERE role_id = ?`, roleID); err != nil {
		return false, fmt.Errorf("store: delete role members: %w", err)
	}
	if _, err := q.exec(ctx, `DELETE FROM role_permissions WHERE role_id = ?`, roleID); err != nil {
		return false, fmt.Errorf("store: delete role grants: %w", err)
	}
	ok, err := q.execOne(ctx, `DELETE FROM roles WHERE id = ? AND is_system = ?`, roleID, false)
	if err != nil {
		return false, fmt.Errorf("store: delete role: %w", err)
	}
	return ok, nil
}

// AssignRole grants roleID to userID, refreshing the expiry of an existing
// assignment.
func (q *Queries) AssignRole(ctx context.Context, userID, roleID, assignedBy string, now time.Time, expiresAt *time.Time) error {
	_, err := q.exec(ctx, `INSERT INTO user_roles (user_id, role_id, assigned_by, assigned_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, role_id) DO UPDATE SET
			assigned_by = excluded.assigned_by,
			assigned_at = excluded.assigned_at,
			expires_at = excluded.expires_at`,
		userID, roleID, assignedBy, toMillis(now), nullMillis(expiresAt))
	if err != nil {
		return fmt.Errorf("store: assign role: %w", err)
	}
	return nil
}

// RemoveRole deletes an assignment. It reports whether one existed.
func (q *Queries) RemoveRole(ctx context.Context, userID, roleID string) (bool, error) {
	ok, err := q.execOne(ctx, `DELETE FROM user_roles WHERE user_id = ? AND role_id = ?`, userID, roleID)
	if err != nil {
		return false, fmt.Errorf("store: remove role: %w", err)
	}
	return ok, nil
}

// UserRoles lists every assignment of userID, expired ones included.
func (q *Queries) UserRoles(ctx context.Context, userID string) ([]RoleAssignment, error) {
	var rows []assignmentRow
	err := q.selectAll(ctx, &rows, `SELECT ur.user_id, r.name AS role_name, ur.assigned_by,
			ur.assigned_at, ur.expires_at
		FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = ? ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: user roles: %w", err)
	}
	out := make([]RoleAssignment, 0, len(rows))
	for _, r := range rows {
		out = append(out, RoleAssignment{
			UserID:     r.UserID,
			Role:       r.Role,
			AssignedBy: r.AssignedBy,
			AssignedAt: fromMillis(r.AssignedAt),
			ExpiresAt:  fromNullMillis(r.ExpiresAt),
		})
	}
	return out, nil
}

// ActiveRoleNames lists the names of roles in force for userID at now.
func (q *Queries) ActiveRoleNames(ctx context.Context, userID string, now time.Time) ([]string, error) {
	var names []string
	err := q.selectAll(ctx, &names, `SELECT r.name FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = ? AND (ur.expires_at IS NULL OR ur.expires_at > ?)
		ORDER BY r.name`, userID, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("store: active roles: %w", err)
	}
	return names, nil
}

// ActivePermissions returns the union of permission names over userID's
// assignments in force at now, and the earliest future expiry among those
// assignments (nil when none expire).
func (q *Queries) ActivePermissions(ctx context.Context, userID string, now time.Time) ([]string, *time.Time, error) {
	var names []string
	err := q.selectAll(ctx, &names, `SELECT DISTINCT p.name FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = ? AND (ur.expires_at IS NULL OR ur.expires_at > ?)
		ORDER BY p.name`, userID, toMillis(now))
	if err != nil {
		return nil, nil, fmt.Errorf("store: active permissions: %w", err)
	}

	var next struct {
		At sql.NullInt64 `db:"next_expiry"`
	}
	if err := q.get(ctx, &next, `SELECT MIN(expires_at) AS next_expiry FROM user_roles
		WHERE user_id = ? AND expires_at > ?`, userID, toMillis(now)); err != nil {
		return nil, nil, fmt.Errorf("store: next role expiry: %w", err)
	}
	return names, fromNullMillis(next.At), nil
}

// UserIDsWithRole lists every user assigned roleID, expired or not.
func (q *Queries) UserIDsWithRole(ctx context.Context, roleID string) ([]string, error) {
	var ids []string
	if err := q.selectAll(ctx, &ids, `SELECT user_id FROM user_roles WHERE role_id = ? ORDER BY user_id`, roleID); err != nil {
		return nil, fmt.Errorf("store: role members: %w", err)
	}
	return ids, nil
}
