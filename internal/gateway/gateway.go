package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/audit"
	"tradejournal.app/internal/obs"
)

// DataType is the closed set of user data an admin may view.
type DataType string

const (
	DataTrades     DataType = "trades"
	DataProfile    DataType = "profile"
	DataJournal    DataType = "journal"
	DataChallenges DataType = "challenges"
	DataSettings   DataType = "settings"
	DataSessions   DataType = "sessions"
)

// DataTypes lists every valid DataType.
var DataTypes = []DataType{DataTrades, DataProfile, DataJournal, DataChallenges, DataSettings, DataSessions}

// ParseDataType rejects anything outside the enum.
func ParseDataType(s string) (DataType, bool) {
	for _, dt := range DataTypes {
		if string(dt) == s {
			return dt, true
		}
	}
	return "", false
}

// Action is the requested operation. Only read exists.
type Action string

const ActionRead Action = "read"

// Request is a single data view.
type Request struct {
	TargetUserID string
	DataType     string
	Action       string
}

// Result is the redacted payload.
type Result struct {
	TargetUserID string   `json:"targetUserId"`
	DataType     DataType `json:"dataType"`
	Data         any      `json:"data"`
}

// Repository reads user data strictly scoped to one user. Single-row types
// (profile, settings) return access.ErrNotFound when absent; list types
// return an empty list.
type Repository interface {
	FetchUserData(ctx context.Context, dataType DataType, userID string) (any, error)
}

// Auditor is the subset of audit.Log the gateway writes to.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry) (audit.Entry, error)
}

// Authorizer re-checks the admin role on every call.
type Authorizer interface {
	RequireAdmin(ctx context.Context, caller access.Caller) error
}

// Gateway is the only read path to user data for administrators.
type Gateway struct {
	authz Authorizer
	audit Auditor
	repo  Repository
}

// New constructs a Gateway.
func New(authz Authorizer, auditor Auditor, repo Repository) *Gateway {
	return &Gateway{authz: authz, audit: auditor, repo: repo}
}

// Fetch returns target data after verifying the caller, writing the audit entry
// and redacting protected fields. Each precondition fails with its own error.
func (g *Gateway) Fetch(ctx context.Context, caller access.Caller, req Request) (Result, error) {
	log := obs.Logger().With(
		zap.String("admin_id", caller.UserID),
		zap.String("target_user_id", req.TargetUserID),
		zap.String("data_type", req.DataType),
		zap.String("request_id", caller.RequestID),
	)

	if err := g.authz.RequireAdmin(ctx, caller); err != nil {
		g.deny(log, req, err)
		return Result{}, err
	}

	target := strings.TrimSpace(req.TargetUserID)
	if !access.ValidUserID(target) {
		err := fmt.Errorf("%w: targetUserId must be a UUID", access.ErrValidation)
		g.deny(log, req, err)
		return Result{}, err
	}
	dataType, ok := ParseDataType(req.DataType)
	if !ok {
		err := fmt.Errorf("%w: unknown dataType %q", access.ErrValidation, req.DataType)
		g.deny(log, req, err)
		return Result{}, err
	}
	if Action(req.Action) != ActionRead {
		err := fmt.Errorf("%w: action %q is not permitted", access.ErrForbidden, req.Action)
		g.deny(log, req, err)
		return Result{}, err
	}

	if _, err := g.audit.Record(ctx, audit.Entry{
		AdminID:      caller.UserID,
		TargetUserID: target,
		Action:       audit.ViewAction(string(dataType)),
		Resource:     string(dataType),
		IP:           caller.IP,
		UserAgent:    caller.UserAgent,
		RequestID:    caller.RequestID,
		Details:      map[string]any{"data_type": string(dataType)},
	}); err != nil {
		obs.ObserveDataAccess(string(dataType), "audit_failure")
		log.Error("data access refused, audit write failed", zap.Error(err))
		if !errors.Is(err, access.ErrAuditFailure) {
			err = fmt.Errorf("%w: %v", access.ErrAuditFailure, err)
		}
		return Result{}, err
	}

	data, err := g.repo.FetchUserData(ctx, dataType, target)
	if err != nil {
		outcome := "error"
		if errors.Is(err, access.ErrNotFound) {
			outcome = "not_found"
		}
		obs.ObserveDataAccess(string(dataType), outcome)
		log.Warn("data access fetch failed", zap.Error(err))
		return Result{}, err
	}

	obs.ObserveDataAccess(string(dataType), "ok")
	return Result{TargetUserID: target, DataType: dataType, Data: Redact(dataType, data)}, nil
}

func (g *Gateway) deny(log *zap.Logger, req Request, err error) {
	label := "invalid"
	if dt, ok := ParseDataType(req.DataType); ok {
		label = string(dt)
	}
	obs.ObserveDataAccess(label, access.Reason(err))
	log.Warn("data access denied", zap.String("reason", access.Reason(err)), zap.String("action", req.Action))
}
