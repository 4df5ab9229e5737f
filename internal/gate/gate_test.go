package gate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saleslist/internal/model"
	"github.com/sells-group/saleslist/internal/ngeval"
	"github.com/sells-group/saleslist/internal/store"
)

type fixture struct {
	t       *testing.T
	st      *store.SQLiteStore
	client  *model.Client
	project *model.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "gate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	c, err := st.CreateClient(ctx, "Client")
	require.NoError(t, err)
	p, err := st.CreateProject(ctx, c.ID, "Project")
	require.NoError(t, err)
	return &fixture{t: t, st: st, client: c, project: p}
}

func (f *fixture) company(name string, globalNG bool) *model.Company {
	f.t.Helper()
	c, err := f.st.CreateCompany(context.Background(), &model.Company{Name: name, IsGlobalNG: globalNG})
	require.NoError(f.t, err)
	return c
}

func (f *fixture) ngEntry(name, reason string) *model.NGEntry {
	f.t.Helper()
	e, err := f.st.CreateNGEntry(context.Background(), &model.NGEntry{
		ClientID: f.client.ID, CompanyName: name, Reason: reason, IsActive: true,
	})
	require.NoError(f.t, err)
	return e
}

func (f *fixture) members() []int64 {
	f.t.Helper()
	rows, err := f.st.ListProjectCompanies(context.Background(), f.project.ID)
	require.NoError(f.t, err)
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.CompanyID)
	}
	return ids
}

func TestAddCompanies_PartialSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := New(f.st)

	ok1 := f.company("First", false)
	ng := f.company("Rival", false)
	ok2 := f.company("Second", false)
	in := f.company("Existing", false)
	f.ngEntry("rival", "競合企業のため")
	require.NoError(t, f.st.AddProjectCompany(ctx, f.project.ID, in.ID, model.DefaultContactStatus))

	res, err := svc.AddCompanies(ctx, f.project.ID, []int64{ok1.ID, ng.ID, ok2.ID, in.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, res.AddedCount)
	assert.Equal(t, []string{
		"NG: client — 競合企業のため",
		"already added: 4",
	}, res.Errors)
	assert.ElementsMatch(t, []int64{ok1.ID, ok2.ID, in.ID}, f.members())
}

func TestAddCompanies_GlobalAndClean(t *testing.T) {
	f := newFixture(t)
	global := f.company("Global", true)
	clean := f.company("Clean", false)

	res, err := New(f.st).AddCompanies(context.Background(), f.project.ID, []int64{global.ID, clean.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AddedCount)
	assert.Equal(t, []string{"NG: global — グローバルNG"}, res.Errors)
	assert.Equal(t, []int64{clean.ID}, f.members())
}

func TestAddCompanies_GlobalAndClientTogether(t *testing.T) {
	f := newFixture(t)
	c := f.company("Both", true)
	f.ngEntry("Both", "")

	res, err := New(f.st).AddCompanies(context.Background(), f.project.ID, []int64{c.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"NG: global, client — グローバルNG, クライアントNG"}, res.Errors)
}

func TestAddCompanies_UnknownAndDuplicateIDs(t *testing.T) {
	f := newFixture(t)
	c := f.company("Acme", false)

	res, err := New(f.st).AddCompanies(context.Background(), f.project.ID, []int64{999, c.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AddedCount)
	assert.Equal(t, []string{"unknown company id: 999", "already added: 1"}, res.Errors)

	rows, err := f.st.ListProjectCompanies(context.Background(), f.project.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.DefaultContactStatus, rows[0].Status)
}

func TestAddCompanies_EmptyRequest(t *testing.T) {
	f := newFixture(t)
	res, err := New(f.st).AddCompanies(context.Background(), f.project.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, res.AddedCount)
	assert.NotNil(t, res.Errors)
	assert.Empty(t, res.Errors)
}

func TestAddCompanies_ProjectNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.st).AddCompanies(context.Background(), 404, []int64{1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProjectNotFound))

	_, err = New(f.st).ListAvailable(context.Background(), 404, store.Page{})
	assert.True(t, errors.Is(err, ErrProjectNotFound))
}

func TestAddCompanies_ConcurrentRace(t *testing.T) {
	f := newFixture(t)
	c := f.company("Contested", false)
	svc := New(f.st)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		added   int
		already []string
	)
	start := make(chan struct{})
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := svc.AddCompanies(context.Background(), f.project.ID, []int64{c.ID})
			assert.NoError(t, err)
			if err != nil {
				return
			}
			mu.Lock()
			added += res.AddedCount
			already = append(already, res.Errors...)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, added)
	require.Len(t, already, callers-1)
	for _, msg := range already {
		assert.Equal(t, "already added: 1", msg)
	}
	assert.Equal(t, []int64{c.ID}, f.members())
}

func TestListAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	global := f.company("Global", true)
	named := f.company("自動テスト企業名", false)
	clean := f.company("Clean", false)
	member := f.company("Member", false)
	f.ngEntry("自動テスト企業名", "競合企業のため")
	require.NoError(t, f.st.AddProjectCompany(ctx, f.project.ID, member.ID, model.DefaultContactStatus))

	got, err := New(f.st).ListAvailable(ctx, f.project.ID, store.Page{})
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count)
	require.Len(t, got.Results, 3)

	assert.Equal(t, global.ID, got.Results[0].ID)
	assert.Equal(t, ngeval.Verdict{IsNG: true, Types: []string{"global"}, Reasons: []string{"グローバルNG"}}, got.Results[0].NGStatus)

	assert.Equal(t, named.ID, got.Results[1].ID)
	assert.Equal(t, ngeval.Verdict{IsNG: true, Types: []string{"client"}, Reasons: []string{"競合企業のため"}}, got.Results[1].NGStatus)

	assert.Equal(t, clean.ID, got.Results[2].ID)
	assert.Equal(t, ngeval.Verdict{Types: []string{}, Reasons: []string{}}, got.Results[2].NGStatus)
}

func TestListAvailable_Page(t *testing.T) {
	f := newFixture(t)
	for _, n := range []string{"A", "B", "C", "D"} {
		f.company(n, false)
	}

	got, err := New(f.st).ListAvailable(context.Background(), f.project.ID, store.Page{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, got.Count)
	require.Len(t, got.Results, 2)
	assert.Equal(t, "B", got.Results[0].Name)
	assert.Equal(t, "C", got.Results[1].Name)
}

func TestListAvailable_OtherClientsEntriesIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, err := f.st.CreateClient(ctx, "Other")
	require.NoError(t, err)
	_, err = f.st.CreateNGEntry(ctx, &model.NGEntry{ClientID: other.ID, CompanyName: "Acme", IsActive: true})
	require.NoError(t, err)
	f.company("Acme", false)

	got, err := New(f.st).ListAvailable(ctx, f.project.ID, store.Page{})
	require.NoError(t, err)
	require.Len(t, got.Results, 1)
	assert.False(t, got.Results[0].NGStatus.IsNG)
}

func TestRejectionMessage(t *testing.T) {
	t.Parallel()
	v := ngeval.Verdict{IsNG: true, Types: []string{"client"}, Reasons: []string{"競合企業のため"}}
	assert.Equal(t, "NG: client — 競合企業のため", RejectionMessage(v))
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetProject(ctx context.Context, id int64) (*model.Project, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Project), args.Error(1)
}

func (m *mockStore) ListNGEntries(ctx context.Context, clientID int64) ([]model.NGEntry, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.NGEntry), args.Error(1)
}

func (m *mockStore) ListNGCandidates(ctx context.Context, clientID, companyID int64, normalizedName string) ([]model.NGEntry, error) {
	args := m.Called(ctx, clientID, companyID, normalizedName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.NGEntry), args.Error(1)
}

func (m *mockStore) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Company), args.Error(1)
}

func (m *mockStore) ListAvailableCompanies(ctx context.Context, projectID int64, page store.Page) ([]model.Company, int, error) {
	args := m.Called(ctx, projectID, page)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]model.Company), args.Int(1), args.Error(2)
}

func (m *mockStore) HasProjectCompany(ctx context.Context, projectID, companyID int64) (bool, error) {
	args := m.Called(ctx, projectID, companyID)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) AddProjectCompany(ctx context.Context, projectID, companyID int64, status string) error {
	args := m.Called(ctx, projectID, companyID, status)
	return args.Error(0)
}

func TestAddCompanies_StoreFailureAborts(t *testing.T) {
	st := new(mockStore)
	ctx := context.Background()
	boom := errors.New("connection refused")

	st.On("GetProject", ctx, int64(6)).Return(&model.Project{ID: 6, ClientID: 1}, nil)
	st.On("GetCompany", ctx, int64(1)).Return(&model.Company{ID: 1, Name: "A"}, nil)
	st.On("GetCompany", ctx, int64(2)).Return(nil, boom)
	st.On("HasProjectCompany", ctx, int64(6), int64(1)).Return(false, nil)
	st.On("ListNGCandidates", ctx, int64(1), int64(1), "a").Return([]model.NGEntry{}, nil)
	st.On("AddProjectCompany", ctx, int64(6), int64(1), model.DefaultContactStatus).Return(nil)

	_, err := New(st).AddCompanies(ctx, 6, []int64{1, 2, 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "gate: load company 2")
	st.AssertExpectations(t)
	st.AssertNotCalled(t, "GetCompany", ctx, int64(3))
}

func TestAddCompanies_InsertRaceMapsToAlreadyAdded(t *testing.T) {
	st := new(mockStore)
	ctx := context.Background()

	st.On("GetProject", ctx, int64(6)).Return(&model.Project{ID: 6, ClientID: 1}, nil)
	st.On("GetCompany", ctx, int64(5)).Return(&model.Company{ID: 5, Name: "Late"}, nil)
	st.On("HasProjectCompany", ctx, int64(6), int64(5)).Return(false, nil)
	st.On("ListNGCandidates", ctx, int64(1), int64(5), "late").Return(nil, nil)
	st.On("AddProjectCompany", ctx, int64(6), int64(5), model.DefaultContactStatus).Return(store.ErrAlreadyAdded)

	obs := &recordingObserver{}
	res, err := New(st, WithObserver(obs)).AddCompanies(ctx, 6, []int64{5})
	require.NoError(t, err)
	assert.Zero(t, res.AddedCount)
	assert.Equal(t, []string{"already added: 5"}, res.Errors)
	assert.Equal(t, []string{OutcomeAlreadyAdded}, obs.outcomes)
}

type recordingObserver struct {
	outcomes []string
}

func (o *recordingObserver) ObserveAdd(outcome string) {
	o.outcomes = append(o.outcomes, outcome)
}
