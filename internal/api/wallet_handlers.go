package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/better-wallet/wallet-core/internal/logger"
	"github.com/better-wallet/wallet-core/internal/middleware"
	apperrors "github.com/better-wallet/wallet-core/pkg/errors"
	"github.com/better-wallet/wallet-core/pkg/types"
)

// maxGroupSize is the Algorand atomic group limit minus the sponsor
const maxGroupSize = 15

// SignInRequest carries an OIDC ID token from the sign-in UI
type SignInRequest struct {
	Provider string `json:"provider"`
	IDToken  string `json:"id_token"`
}

// SwitchAccountRequest selects the active account
type SwitchAccountRequest struct {
	AccountType  string `json:"account_type"`
	AccountIndex uint32 `json:"account_index"`
	BusinessID   string `json:"business_id,omitempty"`
	Role         string `json:"role,omitempty"`
}

// SessionResponse describes the signed-in session. The subject is never returned.
type SessionResponse struct {
	Provider string               `json:"provider"`
	Issuer   string               `json:"issuer"`
	Account  types.AccountContext `json:"account"`
}

// SignRequest asks for one transaction signature
type SignRequest struct {
	Transaction string `json:"transaction"`
	GroupID     string `json:"group_id,omitempty"`
	// ValueMoving forces the biometric gate on; transfers are gated regardless
	ValueMoving bool   `json:"value_moving"`
}

// SignResponse carries the signed transaction
type SignResponse struct {
	SignedTransaction string `json:"signed_transaction"`
}

// SubmitRequest submits a sponsored group. With Sign set, Transactions are
// unsigned and get signed (behind one biometric prompt) before submission.
type SubmitRequest struct {
	SponsorTransaction string   `json:"sponsor_transaction"`
	Transactions       []string `json:"transactions"`
	Sign               bool     `json:"sign"`
}

// OptInRequest names the business or account to bring up to date
type OptInRequest struct {
	TargetID string `json:"target_id"`
}

// AuthenticateRequest describes the action being authorized
type AuthenticateRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		s.writeError(w, r, apperrors.BadRequest(err.Error()))
		return
	}

	v := middleware.NewValidator()
	v.OneOf("provider", req.Provider, []string{string(types.ProviderGoogle), string(types.ProviderApple)})
	v.Required("id_token", req.IDToken)
	if v.HasErrors() {
		middleware.WriteValidationError(w, v.Errors())
		return
	}

	claims, err := s.wallet.SignInWithToken(r.Context(), types.Provider(req.Provider), req.IDToken)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, SessionResponse{
		Provider: string(claims.Provider),
		Issuer:   claims.Issuer,
		Account:  s.wallet.ActiveAccount(),
	})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.wallet.SignOut(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.wallet.Identity()
	if !ok {
		s.writeError(w, r, apperrors.ErrUnauthorized)
		return
	}
	s.writeJSON(w, http.StatusOK, SessionResponse{
		Provider: string(claims.Provider),
		Issuer:   claims.Issuer,
		Account:  s.wallet.ActiveAccount(),
	})
}

func (s *Server) handleSwitchAccount(w http.ResponseWriter, r *http.Request) {
	var req SwitchAccountRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		s.writeError(w, r, apperrors.BadRequest(err.Error()))
		return
	}

	v := middleware.NewValidator()
	v.OneOf("account_type", req.AccountType, []string{string(types.AccountTypePersonal), string(types.AccountTypeBusiness)})
	v.MaxLength("business_id", req.BusinessID, 128)
	if req.AccountType == string(types.AccountTypeBusiness) {
		v.Required("business_id", req.BusinessID)
		v.OneOf("role", req.Role, []string{string(types.RoleOwner), string(types.RoleEmployee)})
	}
	if v.HasErrors() {
		middleware.WriteValidationError(w, v.Errors())
		return
	}

	err := s.wallet.SwitchAccount(r.Context(),
		types.AccountType(req.AccountType), req.AccountIndex, req.BusinessID, types.Role(req.Role))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"account": s.wallet.ActiveAccount()})
}

func (s *Server) handleGetAddress(w http.ResponseWriter, r *http.Request) {
	address, err := s.wallet.ActiveAddress(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"account": s.wallet.ActiveAccount(),
	})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		s.writeError(w, r, apperrors.BadRequest(err.Error()))
		return
	}

	v := middleware.NewValidator()
	raw := v.Base64("transaction", req.Transaction)
	if v.HasErrors() {
		middleware.WriteValidationError(w, v.Errors())
		return
	}

	signed, err := s.wallet.SignForActiveScope(r.Context(),
		types.TransactionEnvelope{RawBytes: raw, GroupID: req.GroupID}, req.ValueMoving)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, SignResponse{SignedTransaction: base64.StdEncoding.EncodeToString(signed)})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		s.writeError(w, r, apperrors.BadRequest(err.Error()))
		return
	}

	v := middleware.NewValidator()
	sponsorRaw := v.Base64("sponsor_transaction", req.SponsorTransaction)
	txns := v.Base64List("transactions", req.Transactions, maxGroupSize)
	if v.HasErrors() {
		middleware.WriteValidationError(w, v.Errors())
		return
	}

	sponsorTxn := types.SponsorTransaction{RawBytes: sponsorRaw}
	var (
		outcome types.Outcome
		err     error
	)
	if req.Sign {
		envelopes := make([]types.TransactionEnvelope, len(txns))
		for i, raw := range txns {
			envelopes[i] = types.TransactionEnvelope{RawBytes: raw}
		}
		outcome, err = s.wallet.SignAndSubmit(r.Context(), sponsorTxn, envelopes)
	} else {
		outcome, err = s.wallet.SubmitSponsoredGroup(r.Context(), sponsorTxn, txns)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if !outcome.Succeeded() {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, outcome)
}

func (s *Server) handleEnsureOptedIn(w http.ResponseWriter, r *http.Request) {
	var req OptInRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		s.writeError(w, r, apperrors.BadRequest(err.Error()))
		return
	}

	result, err := s.wallet.EnsureOptedIn(r.Context(), req.TargetID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleInvalidateOptIn(w http.ResponseWriter, r *http.Request) {
	var req OptInRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		s.writeError(w, r, apperrors.BadRequest(err.Error()))
		return
	}

	v := middleware.NewValidator()
	v.Required("target_id", req.TargetID)
	if v.HasErrors() {
		middleware.WriteValidationError(w, v.Errors())
		return
	}

	if err := s.wallet.InvalidateOptIn(r.Context(), req.TargetID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req AuthenticateRequest
	if err := middleware.DecodeJSON(r, &req); err != nil {
		s.writeError(w, r, apperrors.BadRequest(err.Error()))
		return
	}

	v := middleware.NewValidator()
	v.Required("reason", req.Reason)
	v.MaxLength("reason", req.Reason, 200)
	if v.HasErrors() {
		middleware.WriteValidationError(w, v.Errors())
		return
	}

	if err := s.wallet.AuthenticateForAction(r.Context(), req.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"authenticated": true})
}

func (s *Server) handleBiometricState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.wallet.BiometricState())
}

func (s *Server) handleClearLockout(w http.ResponseWriter, r *http.Request) {
	s.wallet.ClearBiometricLockout()
	w.WriteHeader(http.StatusNoContent)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps err to an AppError response. Errors outside the taxonomy
// are logged and reported as internal errors without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.IsAppError(err)
	if !ok {
		switch {
		case errors.Is(err, context.Canceled):
			appErr = apperrors.New(apperrors.ErrCodeBadRequest, "Request canceled", 499)
		case errors.Is(err, context.DeadlineExceeded):
			appErr = apperrors.New(apperrors.ErrCodeInternalError, "Request timed out", http.StatusGatewayTimeout)
		default:
			logger.FromContext(r.Context()).Error("unhandled error", slog.String("error", err.Error()))
			appErr = apperrors.ErrInternalError
		}
	}
	middleware.WriteError(w, appErr)
}
