package authkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/authkit/permission"
	"github.com/MrEthical07/authkit/store"
)

// permissionSet resolves the union of permissions over the user's active
// assignments. A super_admin assignment adds permission.Wildcard.
func (e *Engine) permissionSet(ctx context.Context, userID string) (permission.Set, error) {
	var generation int64
	if e.permCache != nil {
		perms, ok, err := e.permCache.Get(ctx, userID)
		switch {
		case err != nil:
			e.log.Warn("permission cache unavailable", zap.Error(err))
		case ok:
			e.metricInc(MetricPermissionCacheHit)
			return permission.NewSet(perms...), nil
		default:
			e.metricInc(MetricPermissionCacheMiss)
		}
		// Read the generation before the store so an invalidation that
		// lands in between makes the write below a no-op.
		if generation, err = e.permCache.Generation(ctx, userID); err != nil {
			generation = -1
		}
	}

	now := e.now()
	roles, err := e.store.ActiveRoleNames(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	names, nextExpiry, err := e.store.ActivePermissions(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	set := permission.NewSet(names...)
	for _, r := range roles {
		if r == permission.RoleSuperAdmin {
			set.Add(permission.Wildcard)
		}
	}

	if e.permCache != nil && generation >= 0 {
		ttl := e.permissionCacheTTL(now, nextExpiry)
		if ttl > 0 {
			if err := e.permCache.Set(ctx, userID, generation, set.Sorted(), ttl); err != nil {
				e.log.Warn("permission cache write failed", zap.Error(err))
			}
		}
	}
	return set, nil
}

// permissionCacheTTL never outlives an access token or the next expiring
// assignment.
func (e *Engine) permissionCacheTTL(now time.Time, nextExpiry *time.Time) time.Duration {
	ttl := e.config.RBAC.CacheTTL
	if access := e.jwt.TTL(); access < ttl {
		ttl = access
	}
	if nextExpiry != nil {
		if until := nextExpiry.Sub(now); until < ttl {
			ttl = until
		}
	}
	return ttl
}

func (e *Engine) invalidatePermissions(ctx context.Context, userIDs ...string) {
	if e.permCache == nil {
		return
	}
	for _, id := range userIDs {
		if err := e.permCache.Invalidate(ctx, id); err != nil {
			e.log.Error("permission cache invalidation failed", zap.String("user_id", id), zap.Error(err))
		}
	}
}

// PermissionsFor returns the sorted names of every permission the user
// currently holds. Expired assignments contribute nothing.
func (e *Engine) PermissionsFor(ctx context.Context, userID string) ([]string, error) {
	set, err := e.permissionSet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if set.Has(permission.Wildcard) {
		all, err := e.store.ListPermissions(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range all {
			set.Add(p.Name)
		}
		delete(set, permission.Wildcard)
	}
	return set.Sorted(), nil
}

// RequireRole succeeds when the user holds at least one of roles. It fails
// closed: no roles requested, no active assignment and store errors all
// yield ErrPermissionDenied.
func (e *Engine) RequireRole(ctx context.Context, userID string, roles ...string) error {
	if userID == "" || len(roles) == 0 {
		return e.deny()
	}
	held, err := e.store.ActiveRoleNames(ctx, userID, e.now())
	if err != nil {
		e.metricInc(MetricPermissionDenied)
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	for _, h := range held {
		if h == permission.RoleSuperAdmin {
			return nil
		}
		for _, want := range roles {
			if h == want {
				return nil
			}
		}
	}
	return e.deny()
}

// RequirePermission succeeds when the user holds every one of perms.
func (e *Engine) RequirePermission(ctx context.Context, userID string, perms ...string) error {
	if userID == "" || len(perms) == 0 {
		return e.deny()
	}
	set, err := e.permissionSet(ctx, userID)
	if err != nil {
		e.metricInc(MetricPermissionDenied)
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if set.Has(permission.Wildcard) || set.HasAll(perms...) {
		return nil
	}
	e.metricInc(MetricPermissionDenied)
	if missing := set.Missing(perms...); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrPermissionDenied, strings.Join(missing, ", "))
	}
	return ErrPermissionDenied
}

func (e *Engine) deny() error {
	e.metricInc(MetricPermissionDenied)
	return ErrPermissionDenied
}

// authorizeRoleChange enforces who may change whose roles. Only a
// super_admin may touch admin or super_admin membership.
func (e *Engine) authorizeRoleChange(ctx context.Context, change RoleChange) (string, error) {
	if change.System {
		return "", nil
	}
	if err := e.RequirePermission(ctx, change.ActorID, permission.UserManageRoles); err != nil {
		return "missing_manage_roles", err
	}
	if permission.IsProtectedRole(change.Role) {
		super, err := e.isSuperAdmin(ctx, change.ActorID)
		if err != nil {
			return "role_lookup_failed", fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		if super {
			return "", nil
		}
		e.metricInc(MetricPermissionDenied)
		return "protected_role", ErrPermissionDenied
	}
	return "", nil
}

func (e *Engine) isSuperAdmin(ctx context.Context, userID string) (bool, error) {
	held, err := e.store.ActiveRoleNames(ctx, userID, e.now())
	if err != nil {
		return false, err
	}
	for _, h := range held {
		if h == permission.RoleSuperAdmin {
			return true, nil
		}
	}
	return false, nil
}

// authorizeGrant stops a non-super-admin from handing out role management
// or any permission they do not hold themselves. An empty actor is the
// operator and is not checked.
func (e *Engine) authorizeGrant(ctx context.Context, actorID string, perms []string, subset bool) (string, error) {
	if actorID == "" {
		return "", nil
	}
	super, err := e.isSuperAdmin(ctx, actorID)
	if err != nil {
		return "role_lookup_failed", fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if super {
		return "", nil
	}
	if permission.GrantsRoleManagement(perms) {
		e.metricInc(MetricPermissionDenied)
		return "protected_role", ErrPermissionDenied
	}
	if !subset {
		return "", nil
	}
	held, err := e.permissionSet(ctx, actorID)
	if err != nil {
		return "role_lookup_failed", fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if extra := held.Exceeding(permission.NewSet(perms...)); len(extra) > 0 {
		e.metricInc(MetricPermissionDenied)
		return "privilege_escalation", fmt.Errorf("%w: role grants %s", ErrPermissionDenied, strings.Join(extra, ", "))
	}
	return "", nil
}

// AssignRole grants change.Role to change.UserID, or updates the expiry of
// an existing grant.
func (e *Engine) AssignRole(ctx context.Context, change RoleChange) error {
	return e.changeRole(ctx, change, true)
}

// RemoveRole revokes change.Role from change.UserID.
func (e *Engine) RemoveRole(ctx context.Context, change RoleChange) error {
	return e.changeRole(ctx, change, false)
}

func (e *Engine) changeRole(ctx context.Context, change RoleChange, assign bool) error {
	action := actionRoleRemove
	if assign {
		action = actionRoleAssign
	}
	change.Role = strings.TrimSpace(change.Role)
	ip, userAgent := requestMeta(ctx, change.IP, change.UserAgent)
	entry := auditEntry{
		ActorID:      change.ActorID,
		Action:       action,
		ResourceType: resourceUser,
		ResourceID:   change.UserID,
		IP:           ip,
		UserAgent:    userAgent,
	}
	if change.System {
		entry.Reason = reasonSystem
	}

	if reason, err := e.authorizeRoleChange(ctx, change); err != nil {
		entry.Reason = reason
		entry.Changes = map[string]string{"role": change.Role}
		e.auditFailure(ctx, entry)
		return err
	}
	if _, err := e.loadUser(ctx, change.UserID); err != nil {
		return err
	}
	role, err := e.store.RoleByName(ctx, change.Role)
	if errors.Is(err, store.ErrNotFound) {
		return ErrRoleNotFound
	}
	if err != nil {
		return err
	}
	if !change.System {
		if reason, err := e.authorizeGrant(ctx, change.ActorID, role.Permissions, assign); err != nil {
			entry.Reason = reason
			entry.Changes = map[string]string{"role": role.Name}
			e.auditFailure(ctx, entry)
			return err
		}
	}
	now := e.now()
	if assign && change.ExpiresAt != nil && !change.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}

	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		before, err := tx.ActiveRoleNames(ctx, change.UserID, now)
		if err != nil {
			return err
		}
		if assign {
			if err := tx.AssignRole(ctx, change.UserID, role.ID, change.ActorID, now, change.ExpiresAt); err != nil {
				return err
			}
		} else {
			removed, err := tx.RemoveRole(ctx, change.UserID, role.ID)
			if err != nil {
				return err
			}
			if !removed {
				return ErrRoleAssignmentNotFound
			}
		}
		after, err := tx.ActiveRoleNames(ctx, change.UserID, now)
		if err != nil {
			return err
		}
		changes := map[string]any{
			"role":   role.Name,
			"before": nonNil(before),
			"after":  nonNil(after),
		}
		if assign && change.ExpiresAt != nil {
			changes["expires_at"] = change.ExpiresAt.UTC().Format(time.RFC3339)
		}
		entry.Changes = changes
		rec, err = e.recordAudit(ctx, tx.Queries, entry)
		return err
	})
	if err != nil {
		return err
	}
	e.mirror(rec)
	e.metricInc(MetricRoleChange)
	e.invalidatePermissions(ctx, change.UserID)
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func publicRole(r *store.Role) Role {
	return Role{
		Name:        r.Name,
		DisplayName: r.DisplayName,
		Description: r.Description,
		IsSystem:    r.IsSystem,
		Permissions: nonNil(r.Permissions),
	}
}

// Roles lists every role with its permissions.
func (e *Engine) Roles(ctx context.Context) ([]Role, error) {
	roles, err := e.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, publicRole(r))
	}
	return out, nil
}

// Role loads one role by name.
func (e *Engine) Role(ctx context.Context, name string) (*Role, error) {
	r, err := e.store.RoleByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, err
	}
	out := publicRole(r)
	return &out, nil
}

// Permissions lists the permission catalogue.
func (e *Engine) Permissions(ctx context.Context) ([]Permission, error) {
	perms, err := e.store.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		out = append(out, Permission{
			Name:        p.Name,
			Resource:    p.Resource,
			Action:      p.Action,
			Description: p.Description,
		})
	}
	return out, nil
}

// UserRoles lists every assignment of the user, expired ones included.
func (e *Engine) UserRoles(ctx context.Context, userID string) ([]RoleAssignment, error) {
	assignments, err := e.store.UserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	out := make([]RoleAssignment, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, RoleAssignment{
			Role:       a.Role,
			AssignedBy: a.AssignedBy,
			AssignedAt: a.AssignedAt,
			ExpiresAt:  a.ExpiresAt,
			Active:     a.ActiveAt(now),
		})
	}
	return out, nil
}

func validRoleName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}

func validatePermissionNames(names []string) error {
	for _, n := range names {
		if _, err := permission.Parse(n); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	return nil
}

// CreateRole adds a custom role. Custom roles are never system roles.
func (e *Engine) CreateRole(ctx context.Context, actorID string, def RoleDefinition) (*Role, error) {
	def.Name = strings.TrimSpace(def.Name)
	if !validRoleName(def.Name) {
		return nil, fmt.Errorf("%w: role name", ErrInvalidInput)
	}
	if err := validatePermissionNames(def.Permissions); err != nil {
		return nil, err
	}
	ip, userAgent := requestMeta(ctx, "", "")
	entry := auditEntry{
		ActorID:      actorID,
		Action:       actionRoleCreate,
		ResourceType: resourceRole,
		ResourceID:   def.Name,
		Changes:      map[string][]string{"permissions": nonNil(def.Permissions)},
		IP:           ip,
		UserAgent:    userAgent,
	}
	if reason, err := e.authorizeGrant(ctx, actorID, def.Permissions, true); err != nil {
		entry.Reason = reason
		e.auditFailure(ctx, entry)
		return nil, err
	}

	role := &store.Role{
		ID:          uuid.NewString(),
		Name:        def.Name,
		DisplayName: def.DisplayName,
		Description: def.Description,
		CreatedAt:   e.now(),
	}
	var rec *store.AuditRecord
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateRole(ctx, role); err != nil {
			return err
		}
		if err := tx.SetRolePermissions(ctx, role.ID, def.Permissions); err != nil {
			return err
		}
		var err error
		rec, err = e.recordAudit(ctx, tx.Queries, entry)
		return err
	})
	switch {
	case errors.Is(err, store.ErrDuplicate):
		return nil, ErrRoleExists
	case errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	case err != nil:
		return nil, err
	}
	e.mirror(rec)
	return e.Role(ctx, role.Name)
}

// SetRolePermissions replaces the permissions of a custom role.
func (e *Engine) SetRolePermissions(ctx context.Context, actorID, name string, perms []string) error {
	if err := validatePermissionNames(perms); err != nil {
		return err
	}
	role, err := e.store.RoleByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return ErrRoleNotFound
	}
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRoleImmutable
	}

	ip, userAgent := requestMeta(ctx, "", "")
	entry := auditEntry{
		ActorID:      actorID,
		Action:       actionRoleUpdate,
		ResourceType: resourceRole,
		ResourceID:   role.Name,
		Changes: map[string][]string{
			"before": nonNil(role.Permissions),
			"after":  nonNil(perms),
		},
		IP:        ip,
		UserAgent: userAgent,
	}
	reason, err := e.authorizeGrant(ctx, actorID, role.Permissions, false)
	if err == nil {
		reason, err = e.authorizeGrant(ctx, actorID, perms, true)
	}
	if err != nil {
		entry.Reason = reason
		e.auditFailure(ctx, entry)
		return err
	}

	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.SetRolePermissions(ctx, role.ID, perms); err != nil {
			return err
		}
		var err error
		rec, err = e.recordAudit(ctx, tx.Queries, entry)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return err
	}
	e.mirror(rec)
	e.invalidateRoleMembers(ctx, role.ID)
	return nil
}

// DeleteRole removes a custom role and all of its assignments.
func (e *Engine) DeleteRole(ctx context.Context, actorID, name string) error {
	role, err := e.store.RoleByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return ErrRoleNotFound
	}
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRoleImmutable
	}
	members, err := e.store.UserIDsWithRole(ctx, role.ID)
	if err != nil {
		return err
	}

	ip, userAgent := requestMeta(ctx, "", "")
	var rec *store.AuditRecord
	err = e.store.WithTx(ctx, func(tx *store.Tx) error {
		deleted, err := tx.DeleteRole(ctx, role.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrSystemRoleImmutable
		}
		rec, err = e.recordAudit(ctx, tx.Queries, auditEntry{
			ActorID:      actorID,
			Action:       actionRoleDelete,
			ResourceType: resourceRole,
			ResourceID:   role.Name,
			Changes:      map[string]int{"members": len(members)},
			IP:           ip,
			UserAgent:    userAgent,
		})
		return err
	})
	if err != nil {
		return err
	}
	e.mirror(rec)
	e.invalidatePermissions(ctx, members...)
	return nil
}

func (e *Engine) invalidateRoleMembers(ctx context.Context, roleID string) {
	if e.permCache == nil {
		return
	}
	members, err := e.store.UserIDsWithRole(ctx, roleID)
	if err != nil {
		e.log.Error("list role members for invalidation", zap.String("role_id", roleID), zap.Error(err))
		return
	}
	e.invalidatePermissions(ctx, members...)
}

// SeedRoles loads catalog into the store. A nil catalog loads the embedded
// default. Seeding is idempotent: permissions and system roles are upserted
// and each role's permission set is replaced with the catalogue's.
func (e *Engine) SeedRoles(ctx context.Context, catalog *permission.Catalog) error {
	if catalog == nil {
		def, err := permission.DefaultCatalog()
		if err != nil {
			return err
		}
		catalog = def
	}

	now := e.now()
	roleIDs := make([]string, 0, len(catalog.Roles))
	var rec *store.AuditRecord
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		for _, p := range catalog.Permissions {
			grain, err := permission.Parse(p.Name)
			if err != nil {
				return err
			}
			if _, err := tx.UpsertPermission(ctx, store.Permission{
				ID:          uuid.NewString(),
				Name:        p.Name,
				Resource:    grain.Resource,
				Action:      grain.Action,
				Description: p.Description,
			}); err != nil {
				return err
			}
		}
		for _, r := range catalog.Roles {
			id, err := tx.UpsertRole(ctx, &store.Role{
				ID:          uuid.NewString(),
				Name:        r.Name,
				DisplayName: r.DisplayName,
				Description: r.Description,
				IsSystem:    true,
				CreatedAt:   now,
			})
			if err != nil {
				return err
			}
			if err := tx.SetRolePermissions(ctx, id, r.Permissions); err != nil {
				return err
			}
			roleIDs = append(roleIDs, id)
		}
		var err error
		rec, err = e.recordAudit(ctx, tx.Queries, auditEntry{
			Action:       actionRoleSeed,
			ResourceType: resourceRole,
			Reason:       reasonSystem,
			Changes: map[string]int{
				"permissions": len(catalog.Permissions),
				"roles":       len(catalog.Roles),
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	e.mirror(rec)
	for _, id := range roleIDs {
		e.invalidateRoleMembers(ctx, id)
	}
	return nil
}
