package httpapi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/audit"
	"tradejournal.app/internal/obs"
	"tradejournal.app/internal/risk"
)

const riskWarningHeader = "X-Risk-Warning"

type assessRequest struct {
	ClientEnvironment risk.ClientEnvironment `json:"clientEnvironment"`
	IsAdminAccess     bool                   `json:"isAdminAccess"`
}

// handleAssessConnection scores the caller's connection. The admin policy
// applies only when the caller asks for it and the role store agrees.
func (a *API) handleAssessConnection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req assessRequest
	if err := decodeLenientJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	caller := a.caller(r)
	env := req.ClientEnvironment
	if env.UserAgent == "" {
		env.UserAgent = caller.UserAgent
	}
	isAdmin := req.IsAdminAccess && caller.Authenticated() &&
		a.deps.Authz.RequireAdmin(r.Context(), caller) == nil

	writeJSON(w, http.StatusOK, a.deps.Risk.Evaluate(r.Context(), caller.UserID, caller.IP, env, isAdmin))
}

// riskGate assesses every admin request. Blocked connections stop here,
// warnings are audited and flagged, and requireUnlock routes need a valid
// unlock token. Callers without the admin role pass through so the handler
// reports its own precondition failure.
func (a *API) riskGate(requireUnlock bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		caller := a.caller(r)
		if !caller.Authenticated() {
			writeFailure(w, r, access.ErrUnauthenticated)
			return
		}
		if err := a.deps.Authz.RequireAdmin(ctx, caller); err != nil {
			next.ServeHTTP(w, r)
			return
		}

		assessment := a.deps.Risk.Evaluate(ctx, caller.UserID, caller.IP, clientEnvironment(r), true)
		log := obs.Logger().With(
			zap.String("admin_id", caller.UserID),
			zap.String("ip", caller.IP),
			zap.String("path", r.URL.Path),
			zap.String("request_id", caller.RequestID),
			zap.Int("risk_score", assessment.Score),
			zap.Strings("risk_factors", assessment.Factors),
		)

		switch assessment.Action {
		case risk.ActionAdminBlocked:
			if err := a.recordConnection(ctx, caller, audit.ActionConnectionBlocked, r.URL.Path, assessment); err != nil {
				log.Error("connection block audit failed", zap.Error(err))
			}
			log.Warn("admin connection blocked")
			writeReason(w, r, http.StatusForbidden, "connection_blocked", "connection blocked")
			return
		case risk.ActionAdminWarning:
			if err := a.recordConnection(ctx, caller, audit.ActionConnectionWarning, r.URL.Path, assessment); err != nil {
				log.Error("connection warning audit failed", zap.Error(err))
				writeFailure(w, r, err)
				return
			}
			w.Header().Set(riskWarningHeader, strings.Join(assessment.Factors, ","))
		}

		if requireUnlock && !a.unlocked(r, caller.UserID) {
			reason := "unlock_required"
			if assessment.Action == risk.ActionMFARequired {
				reason = "mfa_required"
			}
			log.Info("admin request without unlock", zap.String("reason", reason))
			writeReason(w, r, http.StatusUnauthorized, reason, "admin session is locked")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) recordConnection(ctx context.Context, caller access.Caller, action, path string, as risk.Assessment) error {
	_, err := a.deps.Audit.Record(ctx, audit.Entry{
		AdminID:   caller.UserID,
		Action:    action,
		Resource:  path,
		IP:        caller.IP,
		UserAgent: caller.UserAgent,
		RequestID: caller.RequestID,
		Details: map[string]any{
			"risk_score":   as.Score,
			"risk_level":   string(as.Level),
			"risk_factors": as.Factors,
			"degraded":     as.Degraded,
		},
	})
	return err
}

// clientEnvironment reads the browser-reported environment from headers.
func clientEnvironment(r *http.Request) risk.ClientEnvironment {
	lang := r.Header.Get("X-Client-Language")
	if lang == "" {
		lang = r.Header.Get("Accept-Language")
	}
	return risk.ClientEnvironment{
		Timezone:  r.Header.Get("X-Client-Timezone"),
		Language:  lang,
		Platform:  r.Header.Get("X-Client-Platform"),
		UserAgent: r.UserAgent(),
	}
}
