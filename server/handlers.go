package server

import (
	"net/http"

	"github.com/jrsteele09/go-device-sessions/accounts"
	"github.com/jrsteele09/go-device-sessions/auth"
)

type registerRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type loginRequest struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

type meResponse struct {
	Account     accounts.Summary `json:"account"`
	Fingerprint string           `json:"fingerprint"`
}

// RegisterHandler creates an account and signs the calling device in.
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeServiceError(w, err)
			return
		}

		result, err := s.sessions.Register(r.Context(), auth.RegisterRequest{
			Identity: req.Identity,
			Password: req.Password,
			Name:     req.Name,
			Metadata: s.requestMetadata(r),
		})
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

// LoginHandler signs the calling device in, subject to the account's device ceiling.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeServiceError(w, err)
			return
		}

		result, err := s.sessions.Login(r.Context(), auth.LoginRequest{
			Identity: req.Identity,
			Password: req.Password,
			Metadata: s.requestMetadata(r),
		})
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := PrincipalFromContext(r.Context())
		if err := s.sessions.Logout(r.Context(), principal, s.requestMetadata(r)); err != nil {
			s.writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) LogoutAllHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := PrincipalFromContext(r.Context())
		removed, err := s.sessions.LogoutAll(r.Context(), principal)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

func (s *Server) ListDevicesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := PrincipalFromContext(r.Context())
		list, err := s.sessions.ListDevices(r.Context(), principal)
		if err != nil {
			s.writeGateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// RemoveDeviceHandler evicts one of the caller's own device sessions.
func (s *Server) RemoveDeviceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := PrincipalFromContext(r.Context())
		removed, err := s.sessions.RemoveDevice(r.Context(), principal, r.PathValue("fingerprint"))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
	}
}

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := PrincipalFromContext(r.Context())
		summary, err := s.sessions.Account(r.Context(), principal.AccountID)
		if err != nil {
			s.writeGateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meResponse{Account: summary, Fingerprint: principal.Fingerprint})
	}
}

func (s *Server) PremiumPingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
	}
}

// ChangeEntitlementHandler moves the account named in the path to or from the upgraded tier.
func (s *Server) ChangeEntitlementHandler(upgraded bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.sessions.ChangeEntitlement(r.Context(), r.PathValue("id"), upgraded)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) ListAccountsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.sessions.ListAccounts(r.Context())
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string][]accounts.Summary{"accounts": list})
	}
}

// AccountDetailHandler returns the account named in the path with all of its devices.
func (s *Server) AccountDetailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		detail, err := s.sessions.AccountDetail(r.Context(), r.PathValue("id"))
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
	}
}

func (s *Server) DeleteAccountHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.sessions.DeleteAccount(r.Context(), r.PathValue("id")); err != nil {
			s.writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
