package httpapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/middleware"
)

const (
	maxEmailLen    = 254
	maxPasswordLen = 1024
	maxNameLen     = 255
	maxTokenLen    = 512
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

func (r *registerRequest) validate() error {
	if err := required(map[string]string{"email": r.Email, "password": r.Password}); err != nil {
		return err
	}
	if err := maxLen("email", r.Email, maxEmailLen); err != nil {
		return err
	}
	if err := maxLen("password", r.Password, maxPasswordLen); err != nil {
		return err
	}
	return maxLen("name", r.Name, maxNameLen)
}

type emailRequest struct {
	Email string `json:"email"`
}

func (r *emailRequest) validate() error {
	if err := required(map[string]string{"email": r.Email}); err != nil {
		return err
	}
	return maxLen("email", r.Email, maxEmailLen)
}

type loginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"two_factor_code,omitempty"`
}

func (r *loginRequest) validate() error {
	if err := required(map[string]string{"email": r.Email, "password": r.Password}); err != nil {
		return err
	}
	if err := maxLen("email", r.Email, maxEmailLen); err != nil {
		return err
	}
	if err := maxLen("password", r.Password, maxPasswordLen); err != nil {
		return err
	}
	return maxLen("two_factor_code", r.TwoFactorCode, 32)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (r *refreshRequest) validate() error {
	if err := required(map[string]string{"refresh_token": r.RefreshToken}); err != nil {
		return err
	}
	return maxLen("refresh_token", r.RefreshToken, maxTokenLen)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (r *changePasswordRequest) validate() error {
	if err := required(map[string]string{"current_password": r.CurrentPassword, "new_password": r.NewPassword}); err != nil {
		return err
	}
	if err := maxLen("current_password", r.CurrentPassword, maxPasswordLen); err != nil {
		return err
	}
	return maxLen("new_password", r.NewPassword, maxPasswordLen)
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (r *resetPasswordRequest) validate() error {
	if err := required(map[string]string{"token": r.Token, "new_password": r.NewPassword}); err != nil {
		return err
	}
	if err := maxLen("token", r.Token, maxTokenLen); err != nil {
		return err
	}
	return maxLen("new_password", r.NewPassword, maxPasswordLen)
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"`
	TokenType    string        `json:"token_type"`
	User         *authkit.User `json:"user,omitempty"`
}

func newTokenResponse(pair authkit.TokenPair, user *authkit.User) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		TokenType:    pair.TokenType,
		User:         user,
	}
}

// acceptedMessage is the constant body of endpoints that must not reveal
// whether an account exists.
var acceptedMessage = map[string]string{"message": "if the account exists, an email has been sent"}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.Register(r.Context(), authkit.RegisterRequest{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"verification_required": res.VerificationRequired,
		"user_id":               res.UserID,
	})
}

func (s *Server) verifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || len(token) > maxTokenLen {
		s.fail(w, r, authkit.ErrVerificationTokenInvalid)
		return
	}
	if err := s.engine.VerifyEmail(r.Context(), token); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

func (s *Server) resendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.ResendVerification(r.Context(), req.Email); err != nil && !errors.Is(err, authkit.ErrInvalidEmail) {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedMessage)
}

type twoFactorChallenge struct {
	RequiresTwoFactor bool    `json:"requires_2fa"`
	Error             problem `json:"error"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.Login(r.Context(), authkit.LoginRequest{
		Email:         req.Email,
		Password:      req.Password,
		TwoFactorCode: req.TwoFactorCode,
	})
	if errors.Is(err, authkit.ErrTwoFactorRequired) {
		w.Header().Set("X-Requires-2FA", "true")
		status, code := authkit.HTTPStatus(err)
		writeJSON(w, status, twoFactorChallenge{
			RequiresTwoFactor: true,
			Error:             problem{Code: code, Message: authkit.PublicMessage(err)},
		})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(res.TokenPair, res.User))
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	pair, err := s.engine.Refresh(r.Context(), authkit.RefreshRequest{RefreshToken: req.RefreshToken})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(*pair, nil))
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Logout(r.Context(), req.RefreshToken); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}

func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.LogoutAll(r.Context(), callerID(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"logged_out": true})
}

type meResponse struct {
	User        *authkit.User `json:"user"`
	Roles       []string      `json:"roles"`
	Permissions []string      `json:"permissions"`
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	uid := callerID(r)
	user, err := s.engine.GetUser(r.Context(), uid)
	if err != nil {
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
	writeJSON(w, http.StatusOK, meResponse{User: user, Roles: activeRoles(assignments), Permissions: perms})
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	err := s.engine.ChangePassword(r.Context(), authkit.ChangePasswordRequest{
		UserID:          callerID(r),
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"password_changed": true})
}

func (s *Server) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acceptedMessage)
}

func (s *Server) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"password_reset": true})
}

type sessionView struct {
	authkit.SessionInfo
	Current bool `json:"current"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	sessions, err := s.engine.ListSessions(r.Context(), claims.UserID())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionView{SessionInfo: sess, Current: sess.ID == claims.SID})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) revokeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RevokeSession(r.Context(), callerID(r), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// callerID is only valid behind Guard.
func callerID(r *http.Request) string {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return ""
	}
	return claims.UserID()
}

func activeRoles(assignments []authkit.RoleAssignment) []string {
	roles := make([]string, 0, len(assignments))
	for _, a := range assignments {
		if a.Active {
			roles = append(roles, a.Role)
		}
	}
	return roles
}
