package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tradejournal.app/internal/obs"
)

// Stream serves the live audit feed as Server-Sent Events. The admin role is
// re-checked while the stream is open and the stream ends once it is gone.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	caller := a.caller(r)
	if err := a.deps.Authz.RequireAdmin(r.Context(), caller); err != nil {
		writeFailure(w, r, err)
		return
	}
	if a.deps.Feed == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.deps.Feed.Subscribe(ctx)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	recheck := time.NewTicker(a.roleRecheck)
	defer recheck.Stop()

	for {
		select {
		case entry, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(entry)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: audit\nid: " + entry.ID + "\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-recheck.C:
			if err := a.deps.Authz.RequireAdmin(ctx, caller); err != nil {
				obs.Logger().Info("audit stream closed",
					zap.String("admin_id", caller.UserID),
					zap.String("request_id", caller.RequestID),
					zap.Error(err),
				)
				return
			}
		}
	}
}
