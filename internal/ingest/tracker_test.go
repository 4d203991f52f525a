package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/newswatch/internal/model"
	"github.com/sells-group/newswatch/internal/store"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) NewsItemExists(ctx context.Context, key string, candidateID int64) (bool, error) {
	args := m.Called(ctx, key, candidateID)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) InsertNewsItem(ctx context.Context, item model.NewsItem) error {
	return m.Called(ctx, item).Error(0)
}

func (m *mockStore) SetPassFlag(ctx context.Context, candidateID int64, pass model.Pass, done bool) error {
	return m.Called(ctx, candidateID, pass, done).Error(0)
}

func (m *mockStore) ResetPassFlags(ctx context.Context, pass model.Pass) (int, error) {
	args := m.Called(ctx, pass)
	return args.Int(0), args.Error(1)
}

func TestExists_FailsOpen(t *testing.T) {
	ms := new(mockStore)
	ms.On("NewsItemExists", mock.Anything, "k1", int64(1)).Return(false, errors.New("db locked"))

	tr := NewTracker(ms)
	assert.False(t, tr.Exists(context.Background(), "k1", 1))
	ms.AssertExpectations(t)
}

func TestExists_Found(t *testing.T) {
	ms := new(mockStore)
	ms.On("NewsItemExists", mock.Anything, "k1", int64(1)).Return(true, nil)

	assert.True(t, NewTracker(ms).Exists(context.Background(), "k1", 1))
}

func TestInsertIfAbsent_Outcomes(t *testing.T) {
	item := model.NewsItem{Key: "k1", CandidateID: 1}
	storageErr := errors.New("disk full")

	tests := []struct {
		name   string
		err    error
		want   Outcome
		reason error
	}{
		{"inserted", nil, Inserted, nil},
		{"duplicate", eris.Wrap(store.ErrDuplicate, "sqlite: insert news item k1"), AlreadyExists, nil},
		{"failed", storageErr, Failed, storageErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := new(mockStore)
			ms.On("InsertNewsItem", mock.Anything, item).Return(tt.err)

			res := NewTracker(ms).InsertIfAbsent(context.Background(), item)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestMarkCandidateProcessed_InvalidPass(t *testing.T) {
	ms := new(mockStore)

	err := NewTracker(ms).MarkCandidateProcessed(context.Background(), 1, "weekly")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidPass))
	ms.AssertNotCalled(t, "SetPassFlag", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkCandidateProcessed(t *testing.T) {
	ms := new(mockStore)
	ms.On("SetPassFlag", mock.Anything, int64(4), model.PassHistorical, true).Return(nil)

	require.NoError(t, NewTracker(ms).MarkCandidateProcessed(context.Background(), 4, model.PassHistorical))
	ms.AssertExpectations(t)
}

func TestResetDailyFlags(t *testing.T) {
	ms := new(mockStore)
	ms.On("ResetPassFlags", mock.Anything, model.PassDaily).Return(3, nil)

	require.NoError(t, NewTracker(ms).ResetDailyFlags(context.Background()))
	ms.AssertExpectations(t)
}

func TestResetPassFlags_Error(t *testing.T) {
	ms := new(mockStore)
	ms.On("ResetPassFlags", mock.Anything, model.PassHistorical).Return(0, errors.New("boom"))

	err := NewTracker(ms).ResetPassFlags(context.Background(), model.PassHistorical)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reset historical flags")
}

func TestTracker_SQLiteDedup(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	topic := "t"
	require.NoError(t, st.UpsertCandidate(ctx, model.Candidate{ID: 1, Name: "Ana", TopicID: &topic, Active: true}))

	published := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	item := model.NewsItem{
		Key: "abc", CandidateID: 1, SourceID: "guid", Headline: "Ana habla", Outlet: "El País",
		Link: "https://e.com/a", PublishedAt: published, Calendar: model.CalendarOf(published, time.UTC),
	}

	tr := NewTracker(st)
	assert.Equal(t, Inserted, tr.InsertIfAbsent(ctx, item).Outcome)
	assert.Equal(t, AlreadyExists, tr.InsertIfAbsent(ctx, item).Outcome)
	assert.True(t, tr.Exists(ctx, "abc", 1))

	n, err := st.CountNewsItems(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "already_exists", AlreadyExists.String())
	assert.Equal(t, "failed", Failed.String())
}
