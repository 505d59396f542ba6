package httpapi

import "net/http"

type codeRequest struct {
	Code string `json:"code"`
}

func (r *codeRequest) validate() error {
	if err := required(map[string]string{"code": r.Code}); err != nil {
		return err
	}
	return maxLen("code", r.Code, 32)
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (r *passwordRequest) validate() error {
	if err := required(map[string]string{"password": r.Password}); err != nil {
		return err
	}
	return maxLen("password", r.Password, maxPasswordLen)
}

func (s *Server) setupTwoFactor(w http.ResponseWriter, r *http.Request) {
	setup, err := s.engine.SetupTwoFactor(r.Context(), callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secret":           setup.Secret,
		"provisioning_uri": setup.ProvisioningURI,
		"backup_codes":     setup.BackupCodes,
	})
}

func (s *Server) enableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.EnableTwoFactor(r.Context(), callerID(r), req.Code); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": true})
}

func (s *Server) disableTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.DisableTwoFactor(r.Context(), callerID(r), req.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": false})
}

func (s *Server) verifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.VerifyTwoFactor(r.Context(), callerID(r), req.Code)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"method":                 res.Method,
		"remaining_backup_codes": res.RemainingBackupCodes,
	})
}

func (s *Server) twoFactorStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.TwoFactorStatus(r.Context(), callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) regenerateCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := s.engine.RegenerateBackupCodes(r.Context(), callerID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}
