// Package sse streams change-feed events to HTTP clients as Server-Sent
// Events, one subscription per requested table.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/changefeed"
	"github.com/odyssey-erp/franchise-tracker/internal/platform/httpx"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

// DefaultHeartbeat is the interval between keep-alive events.
const DefaultHeartbeat = 30 * time.Second

// Config configures the stream handler.
type Config struct {
	Source    changefeed.Source
	Retry     time.Duration
	Heartbeat time.Duration
	Metrics   *changefeed.Metrics
	Logger    *slog.Logger
}

// Handler serves GET /changes.
type Handler struct {
	cfg Config
}

// NewHandler constructs the stream handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{cfg: cfg}
}

// allowedTables lists what a role may watch.
func allowedTables(role access.Role) []changefeed.Table {
	ledgerTables := []changefeed.Table{
		changefeed.TableFranchises, changefeed.TableAdminIncome, changefeed.TableWorkerIncome, changefeed.TableExpenses,
	}
	switch role {
	case access.RoleSuperAdmin:
		return append(ledgerTables, changefeed.TableProfitShare, changefeed.TableOverrides, changefeed.TableRoleBindings)
	case access.RoleFranchise, access.RoleAdminKeuangan:
		return append(ledgerTables, changefeed.TableProfitShare, changefeed.TableOverrides)
	case access.RoleAdminMarketing:
		return ledgerTables
	}
	return nil
}

// selectTables intersects the requested tables with what the role may watch.
func selectTables(role access.Role, requested string) ([]changefeed.Table, error) {
	allowed := allowedTables(role)
	if len(allowed) == 0 {
		return nil, fmt.Errorf("sse: role %s: %w", role, shared.ErrForbidden)
	}
	if strings.TrimSpace(requested) == "" {
		return allowed, nil
	}
	var out []changefeed.Table
	seen := make(map[changefeed.Table]bool)
	for _, raw := range strings.Split(requested, ",") {
		t := changefeed.Table(strings.TrimSpace(raw))
		if !t.Valid() {
			return nil, fmt.Errorf("sse: table %q: %w", t, shared.ErrInvalidArgument)
		}
		permitted := false
		for _, a := range allowed {
			permitted = permitted || a == t
		}
		if !permitted {
			return nil, fmt.Errorf("sse: table %s: %w", t, shared.ErrForbidden)
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	scope, err := access.ScopeFromContext(r.Context())
	if err != nil {
		httpx.RespondError(w, h.cfg.Logger, err)
		return
	}
	tables, err := selectTables(scope.Role, r.URL.Query().Get("tables"))
	if err != nil {
		httpx.RespondError(w, h.cfg.Logger, err)
		return
	}
	var requested *uuid.UUID
	if raw := r.URL.Query().Get("franchise_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid franchise_id")
			return
		}
		requested = &id
	}
	franchiseID, err := scope.TenantFilter(requested)
	if err != nil {
		httpx.RespondError(w, h.cfg.Logger, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "streaming unsupported")
		return
	}
	// The server write timeout would otherwise end the stream.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan changefeed.Event, 64)
	var wg sync.WaitGroup
	for _, table := range tables {
		sub := changefeed.NewSubscription(changefeed.SubscriptionConfig{
			Source:      h.cfg.Source,
			Table:       table,
			FranchiseID: franchiseID,
			Retry:       h.cfg.Retry,
			Logger:      h.cfg.Logger,
			Metrics:     h.cfg.Metrics,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sub.Run(ctx, func(ev changefeed.Event) {
				select {
				case events <- ev:
				case <-ctx.Done():
				}
			})
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	_ = writeEvent(w, flusher, "connected", map[string]any{"tables": tables, "franchiseId": franchiseID})

	ticker := time.NewTicker(h.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if err := writeEvent(w, flusher, "change", ev); err != nil {
				h.cfg.Logger.Debug("sse: client gone", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			if err := writeEvent(w, flusher, "heartbeat", map[string]int64{"timestamp": time.Now().Unix()}); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
