package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/MrEthical07/authkit"
)

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (r *statusRequest) validate() error {
	if err := required(map[string]string{"status": r.Status}); err != nil {
		return err
	}
	return maxLen("reason", r.Reason, 500)
}

type updateUserRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

func (r *updateUserRequest) validate() error {
	if r.Name == nil && r.Email == nil {
		return fmt.Errorf("%w: nothing to update", authkit.ErrInvalidInput)
	}
	if r.Name != nil {
		if err := maxLen("name", *r.Name, 400); err != nil {
			return err
		}
	}
	if r.Email != nil {
		return maxLen("email", *r.Email, 254)
	}
	return nil
}

type assignRoleRequest struct {
	Role      string     `json:"role"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (r *assignRoleRequest) validate() error {
	if err := required(map[string]string{"role": r.Role}); err != nil {
		return err
	}
	return maxLen("role", r.Role, 64)
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

func (r *createRoleRequest) validate() error {
	if err := required(map[string]string{"name": r.Name}); err != nil {
		return err
	}
	if err := maxLen("name", r.Name, 64); err != nil {
		return err
	}
	if err := maxLen("display_name", r.DisplayName, 128); err != nil {
		return err
	}
	return maxLen("description", r.Description, 500)
}

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (r *rolePermissionsRequest) validate() error {
	return nil
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	size, err := queryInt(r, "page_size")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	res, err := s.engine.ListUsers(r.Context(), authkit.UserQuery{
		Status:   q.Get("status"),
		Search:   q.Get("search"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.engine.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.engine.UpdateUser(r.Context(), authkit.ProfileUpdate{
		ActorID: callerID(r),
		UserID:  mux.Vars(r)["id"],
		Name:    req.Name,
		Email:   req.Email,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) setUserStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	err := s.engine.SetUserStatus(r.Context(), authkit.StatusChange{
		ActorID: callerID(r),
		UserID:  mux.Vars(r)["id"],
		Status:  req.Status,
		Reason:  req.Reason,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func (s *Server) markVerified(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.MarkEmailVerified(r.Context(), callerID(r), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (s *Server) userPermissions(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["id"]
	if _, err := s.engine.GetUser(r.Context(), uid); err != nil {
		s.fail(w, r, err)
		return
	}
	assignments, err := s.engine.UserRoles(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	perms, err := s.engine.PermissionsFor(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": assignments, "permissions": perms})
}

func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	err := s.engine.AssignRole(r.Context(), authkit.RoleChange{
		ActorID:   callerID(r),
		UserID:    mux.Vars(r)["id"],
		Role:      req.Role,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"assigned": req.Role})
}

func (s *Server) removeRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := s.engine.RemoveRole(r.Context(), authkit.RoleChange{
		ActorID: callerID(r),
		UserID:  vars["id"],
		Role:    vars["role"],
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": vars["role"]})
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.engine.Roles(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	role, err := s.engine.CreateRole(r.Context(), callerID(r), authkit.RoleDefinition{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Permissions: req.Permissions,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (s *Server) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.engine.Role(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) updateRole(w http.ResponseWriter, r *http.Request) {
	var req rolePermissionsRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	name := mux.Vars(r)["name"]
	if err := s.engine.SetRolePermissions(r.Context(), callerID(r), name, req.Permissions); err != nil {
		s.fail(w, r, err)
		return
	}
	role, err := s.engine.Role(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.engine.DeleteRole(r.Context(), callerID(r), name); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := s.engine.Permissions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (s *Server) auditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := authkit.AuditQuery{
		ActorID:      q.Get("actor_id"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		Outcome:      q.Get("outcome"),
	}
	var err error
	if query.From, err = queryTime(r, "from"); err != nil {
		s.fail(w, r, err)
		return
	}
	if query.To, err = queryTime(r, "to"); err != nil {
		s.fail(w, r, err)
		return
	}
	if query.Page, err = queryInt(r, "page"); err != nil {
		s.fail(w, r, err)
		return
	}
	if query.PageSize, err = queryInt(r, "page_size"); err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := s.engine.AuditLog(r.Context(), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
