package imports

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/candle-backfill/internal/apperror"
)

type mockRepo struct {
	mu       sync.Mutex
	imports  map[int64]*Import
	candles  map[int64][]Candle
	nextID   int64
	countErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{imports: make(map[int64]*Import), candles: make(map[int64][]Candle), nextID: 1}
}

func (m *mockRepo) EnsureSchema(context.Context) error { return nil }

func (m *mockRepo) CreateImport(_ context.Context, imp *Import) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.imports {
		if existing.Name == imp.Name {
			return apperror.Wrap(apperror.Conflict, ErrDuplicateName, "import name already exists")
		}
	}
	imp.ID = m.nextID
	m.nextID++
	cp := *imp
	m.imports[imp.ID] = &cp
	return nil
}

func (m *mockRepo) SaveCandles(_ context.Context, importID int64, product string, candles []Candle) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range candles {
		c.ImportID = importID
		c.Product = product
		m.candles[importID] = append(m.candles[importID], c)
	}
	return int64(len(candles)), nil
}

func (m *mockRepo) GetImport(_ context.Context, id int64) (*Import, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.imports[id]
	if !ok {
		return nil, apperror.Wrap(apperror.NotFound, ErrNotFound, "import not found")
	}
	cp := *imp
	return &cp, nil
}

func (m *mockRepo) ListImports(context.Context) ([]Import, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Import, 0, len(m.imports))
	for id := int64(1); id < m.nextID; id++ {
		if imp, ok := m.imports[id]; ok {
			out = append(out, *imp)
		}
	}
	return out, nil
}

func (m *mockRepo) ListCandles(_ context.Context, importID int64) ([]Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Candle(nil), m.candles[importID]...), nil
}

func (m *mockRepo) CountCandles(_ context.Context, importID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	return int64(len(m.candles[importID])), nil
}

func seed(t *testing.T, repo *mockRepo, name string, candles int) *Import {
	t.Helper()
	ctx := context.Background()
	imp := &Import{Name: name, Product: "BTC-EUR", Datapoints: 300, Granularity: 60, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.CreateImport(ctx, imp))

	rows := make([]Candle, candles)
	for i := range rows {
		rows[i] = Candle{Time: time.Unix(int64(1704067200+60*i), 0).UTC(), Close: decimal.NewFromInt(int64(i))}
	}
	_, err := repo.SaveCandles(ctx, imp.ID, imp.Product, rows)
	require.NoError(t, err)
	return imp
}

func TestService_Get(t *testing.T) {
	repo := newMockRepo()
	imp := seed(t, repo, "first", 3)
	svc := NewService(repo)

	got, err := svc.Get(context.Background(), GetImportRequest{ID: imp.ID})
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)
	assert.Equal(t, int64(3), got.Candles)
}

func TestService_Get_InvalidID(t *testing.T) {
	svc := NewService(newMockRepo())

	_, err := svc.Get(context.Background(), GetImportRequest{ID: 0})
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.BadRequest, appErr.Code())
}

func TestService_Get_NotFound(t *testing.T) {
	svc := NewService(newMockRepo())

	_, err := svc.Get(context.Background(), GetImportRequest{ID: 42})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_List(t *testing.T) {
	repo := newMockRepo()
	seed(t, repo, "a", 1)
	seed(t, repo, "b", 4)
	svc := NewService(repo)

	got, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, int64(1), got[0].Candles)
	assert.Equal(t, int64(4), got[1].Candles)
}

func TestService_List_CountError(t *testing.T) {
	repo := newMockRepo()
	seed(t, repo, "a", 1)
	repo.countErr = errors.New("disk gone")

	_, err := NewService(repo).List(context.Background())
	assert.EqualError(t, err, "disk gone")
}

func TestService_Candles(t *testing.T) {
	repo := newMockRepo()
	imp := seed(t, repo, "a", 5)
	svc := NewService(repo)

	got, err := svc.Candles(context.Background(), ListCandlesRequest{ImportID: imp.ID})
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, imp.ID, got[0].ImportID)
	assert.Equal(t, "BTC-EUR", got[0].Product)

	_, err = svc.Candles(context.Background(), ListCandlesRequest{ImportID: 99})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunImportRequest_Validate(t *testing.T) {
	valid := RunImportRequest{Name: "btc", Product: DefaultProduct, Datapoints: DefaultDatapoints, Granularity: DefaultGranularity}

	tests := []struct {
		name    string
		mutate  func(*RunImportRequest)
		wantErr error
	}{
		{"valid", func(*RunImportRequest) {}, nil},
		{"missing name", func(r *RunImportRequest) { r.Name = "" }, ErrMissingName},
		{"blank name", func(r *RunImportRequest) { r.Name = "  " }, ErrMissingName},
		{"missing product", func(r *RunImportRequest) { r.Product = "" }, ErrMissingProduct},
		{"unsupported granularity", func(r *RunImportRequest) { r.Granularity = 120 }, ErrInvalidGranularity},
		{"zero datapoints", func(r *RunImportRequest) { r.Datapoints = 0 }, ErrInvalidDatapoints},
		{"negative datapoints", func(r *RunImportRequest) { r.Datapoints = -5 }, ErrInvalidDatapoints},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == nil {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, apperror.BadRequest, err.Code())
		})
	}
}

func TestValidGranularity(t *testing.T) {
	for _, g := range []int{60, 300, 900, 3600, 21600, 86400} {
		assert.True(t, ValidGranularity(g), "%d", g)
	}
	for _, g := range []int{0, 1, 30, 120, 7200, 604800} {
		assert.False(t, ValidGranularity(g), "%d", g)
	}
}
