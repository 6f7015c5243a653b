package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/changefeed"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

func withScope(s access.Scope, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(access.ContextWithScope(r.Context(), s)))
	})
}

func TestSelectTables(t *testing.T) {
	tables, err := selectTables(access.RoleAdminMarketing, "")
	require.NoError(t, err)
	assert.NotContains(t, tables, changefeed.TableProfitShare)

	_, err = selectTables(access.RoleAdminMarketing, "profit_share_records")
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = selectTables(access.RoleFranchise, "role_bindings")
	require.ErrorIs(t, err, shared.ErrForbidden)

	tables, err = selectTables(access.RoleFranchise, "expenses, expenses,profit_share_records")
	require.NoError(t, err)
	assert.Equal(t, []changefeed.Table{changefeed.TableExpenses, changefeed.TableProfitShare}, tables)

	_, err = selectTables(access.RoleSuperAdmin, "payroll")
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = selectTables(access.RoleUser, "")
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestStreamRejectsUserRole(t *testing.T) {
	h := NewHandler(Config{})
	req := httptest.NewRequest(http.MethodGet, "/changes", nil)
	rec := httptest.NewRecorder()
	withScope(access.Scope{PrincipalID: "u", Role: access.RoleUser}, h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStreamForcesFranchiseFilter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	own, other := uuid.New(), uuid.New()
	h := NewHandler(Config{Source: changefeed.NewRedisSource(client), Retry: 50 * time.Millisecond})
	srv := httptest.NewServer(withScope(access.Scope{PrincipalID: "p", Role: access.RoleFranchise, FranchiseID: &own}, h))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?tables=expenses&franchise_id="+other.String(), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	pub := changefeed.NewRedisPublisher(client)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = pub.Publish(ctx, changefeed.Event{Table: changefeed.TableExpenses, Op: changefeed.OpInsert, FranchiseID: &other, Key: "foreign"})
				_ = pub.Publish(ctx, changefeed.Event{Table: changefeed.TableExpenses, Op: changefeed.OpInsert, FranchiseID: &own, Key: "mine"})
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var name string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && name == "change":
			var ev changefeed.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			assert.Equal(t, "mine", ev.Key)
			require.NotNil(t, ev.FranchiseID)
			assert.Equal(t, own, *ev.FranchiseID)
			return
		}
	}
	t.Fatalf("stream ended without a change event: %v", scanner.Err())
}

func TestStreamEndsWhenClientLeaves(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := NewHandler(Config{Source: changefeed.NewRedisSource(client), Retry: 50 * time.Millisecond})
	finished := make(chan struct{})
	srv := httptest.NewServer(withScope(access.Scope{PrincipalID: "p", Role: access.RoleSuperAdmin}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(finished)
		h.ServeHTTP(w, r)
	})))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?tables=expenses,admin_income", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	cancel()
	_ = resp.Body.Close()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("handler still streaming after client disconnect")
	}
}
