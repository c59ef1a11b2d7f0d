package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/ban"
	"tradejournal.app/internal/challenge"
	"tradejournal.app/internal/gateway"
	"tradejournal.app/internal/obs"
)

type challengeRequest struct {
	Secret string `json:"secret"`
}

type challengeResponse struct {
	challenge.Result
	UnlockToken     string     `json:"unlock_token,omitempty"`
	UnlockExpiresAt *time.Time `json:"unlock_expires_at,omitempty"`
}

type dataAccessRequest struct {
	TargetUserID string `json:"targetUserId"`
	DataType     string `json:"dataType"`
	Action       string `json:"action"`
}

type dataAccessResponse struct {
	Success      bool             `json:"success"`
	TargetUserID string           `json:"targetUserId"`
	DataType     gateway.DataType `json:"dataType"`
	Data         any              `json:"data"`
}

type banRequest struct {
	Action      string     `json:"action"`
	UserID      string     `json:"user_id"`
	Reason      string     `json:"reason"`
	IsPermanent *bool      `json:"is_permanent"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

var banMessages = map[string]string{
	"ban":     "User banned",
	"unban":   "User unbanned",
	"disable": "User disabled",
	"enable":  "User enabled",
}

func (a *API) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	caller := a.caller(r)
	if err := a.deps.Authz.RequireAdmin(r.Context(), caller); err != nil {
		obs.Logger().Warn("admin challenge denied",
			zap.String("user_id", caller.UserID),
			zap.String("ip", caller.IP),
			zap.String("reason", access.Reason(err)),
		)
		writeFailure(w, r, err)
		return
	}

	now := time.Now()
	if d := a.deps.ChallengeLimiter.Allow(r.Context(), "challenge:"+caller.UserID); !d.Allowed {
		setRetryAfter(w, d.RetryAfter(now))
		writeError(w, r, http.StatusTooManyRequests, "too many challenge requests")
		return
	}

	var req challengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res := a.deps.Challenge.Verify(r.Context(), challenge.Input{
		AdminID:   caller.UserID,
		Secret:    req.Secret,
		IP:        caller.IP,
		UserAgent: caller.UserAgent,
	})
	switch {
	case res.Success:
		token, exp, err := a.deps.Tokens.IssueUnlock(caller.UserID, a.deps.UnlockTTL)
		if err != nil {
			obs.Logger().Error("unlock token issue failed", zap.String("admin_id", caller.UserID), zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, challengeResponse{Result: res, UnlockToken: token, UnlockExpiresAt: &exp})
	case res.Blocked:
		if res.BlockedUntil != nil {
			setRetryAfter(w, res.BlockedUntil.Sub(now))
		}
		writeJSON(w, http.StatusTooManyRequests, challengeResponse{Result: res})
	case res.Unavailable:
		writeJSON(w, http.StatusServiceUnavailable, challengeResponse{Result: res})
	default:
		writeJSON(w, http.StatusUnauthorized, challengeResponse{Result: res})
	}
}

func (a *API) handleDataAccess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req dataAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.deps.Gateway.Fetch(r.Context(), a.caller(r), gateway.Request{
		TargetUserID: req.TargetUserID,
		DataType:     req.DataType,
		Action:       req.Action,
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dataAccessResponse{
		Success:      true,
		TargetUserID: res.TargetUserID,
		DataType:     res.DataType,
		Data:         res.Data,
	})
}

func (a *API) handleBan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req banRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller := a.caller(r)
	action := strings.ToLower(strings.TrimSpace(req.Action))

	var err error
	switch action {
	case "ban":
		err = a.deps.Bans.Ban(r.Context(), caller, ban.Input{
			TargetUserID: req.UserID,
			Reason:       req.Reason,
			IsPermanent:  req.IsPermanent != nil && *req.IsPermanent,
			ExpiresAt:    req.ExpiresAt,
		})
	case "unban":
		err = a.deps.Bans.Unban(r.Context(), caller, req.UserID)
	case "disable":
		err = a.deps.Bans.Disable(r.Context(), caller, req.UserID)
	case "enable":
		err = a.deps.Bans.Enable(r.Context(), caller, req.UserID)
	default:
		writeError(w, r, http.StatusBadRequest, "action must be one of ban, unban, disable, enable")
		return
	}
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": banMessages[action]})
}

func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
}
