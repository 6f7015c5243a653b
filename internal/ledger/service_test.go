package ledger

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/changefeed"
	"github.com/odyssey-erp/franchise-tracker/internal/shared"
)

type mockRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
	workers map[uuid.UUID]Worker

	insertError error
}

func newMockRepository() *mockRepository {
	return &mockRepository{records: make(map[uuid.UUID]Record), workers: make(map[uuid.UUID]Worker)}
}

func (m *mockRepository) Insert(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertError != nil {
		return m.insertError
	}
	m.records[r.ID] = r
	return nil
}

func (m *mockRepository) Get(ctx context.Context, kind Kind, id uuid.UUID) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.Kind != kind {
		return Record{}, shared.ErrNotFound
	}
	return r, nil
}

func (m *mockRepository) Update(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; !ok {
		return shared.ErrNotFound
	}
	m.records[r.ID] = r
	return nil
}

func (m *mockRepository) matching(kind Kind, f Filter) []Record {
	var out []Record
	for _, r := range m.records {
		if r.Kind != kind {
			continue
		}
		if f.FranchiseID != nil && r.FranchiseID != *f.FranchiseID {
			continue
		}
		if f.From != nil && r.OccurredAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !r.OccurredAt.Before(*f.To) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out
}

func (m *mockRepository) List(ctx context.Context, kind Kind, f Filter) ([]Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.matching(kind, f)
	return out, len(out), nil
}

func (m *mockRepository) ListWorkerView(ctx context.Context, principalID string, f Filter) ([]WorkerIncomeView, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.FranchiseID = nil
	var out []WorkerIncomeView
	for _, r := range m.matching(KindWorkerIncome, f) {
		w := m.workers[*r.WorkerID]
		if w.PrincipalID == nil || *w.PrincipalID != principalID {
			continue
		}
		out = append(out, WorkerIncomeView{ID: r.ID, Code: r.Code, Amount: r.Amount, JobDescription: r.JobDescription, OccurredAt: r.OccurredAt})
	}
	return out, len(out), nil
}

func (m *mockRepository) InsertWorker(ctx context.Context, w Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.ID] = w
	return nil
}

func (m *mockRepository) GetWorker(ctx context.Context, id uuid.UUID) (Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workers[id]
	if !ok {
		return Worker{}, shared.ErrNotFound
	}
	return w, nil
}

func (m *mockRepository) ListWorkers(ctx context.Context, franchiseID *uuid.UUID, page shared.PageRequest) ([]Worker, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Worker
	for _, w := range m.workers {
		if franchiseID == nil || w.FranchiseID == *franchiseID {
			out = append(out, w)
		}
	}
	return out, len(out), nil
}

func (m *mockRepository) Sum(ctx context.Context, kind Kind, franchiseID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, r := range m.matching(kind, Filter{FranchiseID: &franchiseID, From: &from, To: &to}) {
		total = total.Add(r.Amount)
	}
	return total, nil
}

func (m *mockRepository) SumByMonth(ctx context.Context, kind Kind, franchiseID uuid.UUID, from, to time.Time, loc *time.Location) (map[shared.MonthKey]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[shared.MonthKey]decimal.Decimal)
	for _, r := range m.matching(kind, Filter{FranchiseID: &franchiseID, From: &from, To: &to}) {
		key := shared.MonthKeyOf(r.OccurredAt, loc)
		out[key] = out[key].Add(r.Amount)
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []changefeed.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev changefeed.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type recordingTrigger struct {
	months []string
}

func (r *recordingTrigger) RevenueChanged(ctx context.Context, franchiseID uuid.UUID, month shared.MonthKey) error {
	r.months = append(r.months, month.String())
	return nil
}

var jakarta = time.FixedZone("WIB", 7*3600)

func scopeFor(role access.Role, franchiseID uuid.UUID) access.Scope {
	return access.Scope{PrincipalID: string(role) + "-" + franchiseID.String()[:8], Role: role, FranchiseID: &franchiseID}
}

func TestCreateStampsFranchiseFromScope(t *testing.T) {
	repo := newMockRepository()
	pub := &recordingPublisher{}
	svc := NewService(repo, pub, jakarta, nil)

	own, other := uuid.New(), uuid.New()
	actor := scopeFor(access.RoleAdminKeuangan, own)

	rec, err := svc.Create(context.Background(), actor, KindAdminIncome, Input{
		FranchiseID: &other,
		Amount:      decimal.NewFromInt(1_000_000),
		OccurredAt:  time.Date(2024, time.June, 3, 10, 0, 0, 0, jakarta),
		Code:        "ADM-1",
	})
	require.NoError(t, err)
	assert.Equal(t, own, rec.FranchiseID)
	assert.Equal(t, actor.PrincipalID, rec.CreatedBy)

	require.Len(t, pub.events, 1)
	assert.Equal(t, changefeed.TableAdminIncome, pub.events[0].Table)
	assert.Equal(t, changefeed.OpInsert, pub.events[0].Op)
	assert.Equal(t, own, *pub.events[0].FranchiseID)
}

func TestSuperAdminMustNameFranchise(t *testing.T) {
	svc := NewService(newMockRepository(), nil, jakarta, nil)
	root := access.Scope{PrincipalID: "root", Role: access.RoleSuperAdmin}

	_, err := svc.Create(context.Background(), root, KindExpense, Input{
		Amount:     decimal.NewFromInt(10),
		OccurredAt: time.Now(),
	})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestUserRoleCannotWrite(t *testing.T) {
	svc := NewService(newMockRepository(), nil, jakarta, nil)
	user := access.Scope{PrincipalID: "u1", Role: access.RoleUser}

	_, err := svc.Create(context.Background(), user, KindExpense, Input{Amount: decimal.NewFromInt(1), OccurredAt: time.Now()})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.List(context.Background(), user, KindExpense, Filter{})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestNegativeAmountRejected(t *testing.T) {
	svc := NewService(newMockRepository(), nil, jakarta, nil)
	actor := scopeFor(access.RoleFranchise, uuid.New())

	_, err := svc.Create(context.Background(), actor, KindExpense, Input{Amount: decimal.NewFromInt(-5), OccurredAt: time.Now()})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestAmountMustFitStoredScale(t *testing.T) {
	svc := NewService(newMockRepository(), nil, jakarta, nil)
	actor := scopeFor(access.RoleFranchise, uuid.New())
	ctx := context.Background()

	for _, raw := range []string{"10.005", "0.001", "10000000000000000"} {
		_, err := svc.Create(ctx, actor, KindExpense, Input{Amount: decimal.RequireFromString(raw), OccurredAt: time.Now()})
		require.ErrorIs(t, err, shared.ErrInvalidArgument, raw)
	}

	rec, err := svc.Create(ctx, actor, KindExpense, Input{Amount: decimal.RequireFromString("12.50"), OccurredAt: time.Now()})
	require.NoError(t, err)
	assert.True(t, rec.Amount.Equal(decimal.RequireFromString("12.5")))
}

func TestVariantFieldsValidated(t *testing.T) {
	svc := NewService(newMockRepository(), nil, jakarta, nil)
	actor := scopeFor(access.RoleFranchise, uuid.New())

	_, err := svc.Create(context.Background(), actor, KindExpense, Input{Amount: decimal.NewFromInt(5), OccurredAt: time.Now(), Code: "X"})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)

	_, err = svc.Create(context.Background(), actor, KindWorkerIncome, Input{Amount: decimal.NewFromInt(5), OccurredAt: time.Now()})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestListIgnoresForeignFranchiseFilter(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, nil, jakarta, nil)
	a, b := uuid.New(), uuid.New()
	at := time.Date(2024, time.June, 10, 9, 0, 0, 0, jakarta)

	for _, fid := range []uuid.UUID{a, a, b} {
		_, err := svc.Create(context.Background(), scopeFor(access.RoleFranchise, fid), KindExpense, Input{Amount: decimal.NewFromInt(100), OccurredAt: at})
		require.NoError(t, err)
	}

	page, err := svc.List(context.Background(), scopeFor(access.RoleAdminMarketing, a), KindExpense, Filter{FranchiseID: &b})
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	for _, r := range page.Records {
		assert.Equal(t, a, r.FranchiseID)
	}

	all, err := svc.List(context.Background(), access.Scope{PrincipalID: "root", Role: access.RoleSuperAdmin}, KindExpense, Filter{})
	require.NoError(t, err)
	assert.Len(t, all.Records, 3)
}

func TestGetHidesForeignRecords(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, nil, jakarta, nil)
	a, b := uuid.New(), uuid.New()

	rec, err := svc.Create(context.Background(), scopeFor(access.RoleFranchise, a), KindExpense, Input{Amount: decimal.NewFromInt(1), OccurredAt: time.Now()})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), scopeFor(access.RoleFranchise, b), KindExpense, rec.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Update(context.Background(), scopeFor(access.RoleFranchise, b), KindExpense, rec.ID, Input{Amount: decimal.NewFromInt(2), OccurredAt: time.Now()})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestWorkerIncomeRequiresWorkerOfSameFranchise(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, nil, jakarta, nil)
	a, b := uuid.New(), uuid.New()

	foreign, err := svc.CreateWorker(context.Background(), scopeFor(access.RoleFranchise, b), WorkerInput{Name: "Sari"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), scopeFor(access.RoleFranchise, a), KindWorkerIncome, Input{
		Amount:     decimal.NewFromInt(500_000),
		OccurredAt: time.Now(),
		WorkerID:   &foreign.ID,
	})
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}

func TestIncomeChangesTriggerRecalculation(t *testing.T) {
	repo := newMockRepository()
	trigger := &recordingTrigger{}
	svc := NewService(repo, nil, jakarta, nil)
	svc.WithRecalcTrigger(trigger)
	actor := scopeFor(access.RoleFranchise, uuid.New())

	rec, err := svc.Create(context.Background(), actor, KindAdminIncome, Input{
		Amount:     decimal.NewFromInt(1_000_000),
		OccurredAt: time.Date(2024, time.June, 30, 23, 30, 0, 0, jakarta),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06"}, trigger.months)

	_, err = svc.Update(context.Background(), actor, KindAdminIncome, rec.ID, Input{
		Amount:     decimal.NewFromInt(1_000_000),
		OccurredAt: time.Date(2024, time.July, 1, 0, 0, 0, 0, jakarta),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06", "2024-07", "2024-06"}, trigger.months)

	_, err = svc.Create(context.Background(), actor, KindExpense, Input{Amount: decimal.NewFromInt(10), OccurredAt: time.Now()})
	require.NoError(t, err)
	assert.Len(t, trigger.months, 3)
}

func TestWorkerViewShowsOnlyOwnIncome(t *testing.T) {
	repo := newMockRepository()
	svc := NewService(repo, nil, jakarta, nil)
	fid := uuid.New()
	owner := scopeFor(access.RoleFranchise, fid)
	mine := "worker-login"

	me, err := svc.CreateWorker(context.Background(), owner, WorkerInput{Name: "Budi", PrincipalID: &mine})
	require.NoError(t, err)
	colleague, err := svc.CreateWorker(context.Background(), owner, WorkerInput{Name: "Rina"})
	require.NoError(t, err)

	for _, w := range []uuid.UUID{me.ID, colleague.ID} {
		id := w
		_, err := svc.Create(context.Background(), owner, KindWorkerIncome, Input{
			Amount:         decimal.NewFromInt(250_000),
			OccurredAt:     time.Now(),
			WorkerID:       &id,
			JobDescription: "cleaning",
		})
		require.NoError(t, err)
	}

	page, err := svc.ListWorkerView(context.Background(), access.Scope{PrincipalID: mine, Role: access.RoleUser}, Filter{})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "cleaning", page.Records[0].JobDescription)

	_, err = svc.ListWorkerView(context.Background(), owner, Filter{})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("worker-income")
	require.NoError(t, err)
	assert.Equal(t, KindWorkerIncome, kind)

	kind, err = ParseKind("expenses")
	require.NoError(t, err)
	assert.Equal(t, KindExpense, kind)

	_, err = ParseKind("payroll")
	require.ErrorIs(t, err, shared.ErrInvalidArgument)
}
