package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"greenmarket/internal/db"
	"greenmarket/internal/domain"
	"greenmarket/internal/httputil"
	"greenmarket/internal/metrics"
	"greenmarket/internal/storage"
	"greenmarket/internal/storage/memory"
	"greenmarket/internal/storage/relational"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func seed(t *testing.T, store storage.Storage) {
	t.Helper()
	ctx := context.Background()
	for _, sid := range []string{"S1", "S2", "S3"} {
		require.NoError(t, store.CreateStudent(ctx, &domain.Student{
			FullName: "SV " + sid, StudentID: sid, Email: strings.ToLower(sid) + "@x.com", Major: "M", Phone: "1", Password: "hash-" + sid,
		}))
	}
	// Leave a gap in the id sequence.
	require.NoError(t, store.DeleteStudent(ctx, 2))

	gift := "Cây"
	require.NoError(t, store.CreateTransaction(ctx, &domain.Transaction{StudentID: 3, WasteType: "Giấy", Weight: "2.50", Points: 10, Gift: &gift}))
	_, err := store.AddPoints(ctx, 3, 10)
	require.NoError(t, err)

	require.NoError(t, store.CreateAdmin(ctx, &domain.Admin{Username: "admin", Password: "admin-hash"}))
	require.NoError(t, store.CreateMarketSession(ctx, &domain.MarketSession{
		Title: "Chợ", Date: time.Date(2026, 6, 1, 1, 0, 0, 0, time.UTC), Location: "L", TimeSlot: "T", WasteTypes: "W", Gifts: "G",
	}))
}

func newRouter(store storage.Storage) chi.Router {
	r := chi.NewRouter()
	NewHandler(NewService(store, nil, nil, nil, discard), discard, "en").RegisterRoutes(r)
	return r
}

func sqliteStore(t *testing.T) storage.Storage {
	t.Helper()
	bdb, err := db.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, relational.Migrate(context.Background(), bdb))
	s := relational.New(bdb, metrics.NewMock())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBackup_RoundTripAcrossBackends(t *testing.T) {
	ctx := context.Background()
	src := memory.New()
	seed(t, src)

	w := httptest.NewRecorder()
	newRouter(src).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/backup", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "greenmarket-backup-")
	assert.Contains(t, w.Body.String(), `"password":"hash-S1"`, "exports keep password hashes")
	exported := w.Body.Bytes()

	dst := sqliteStore(t)
	w = httptest.NewRecorder()
	newRouter(dst).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/backup", bytes.NewReader(exported)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"success":true,"imported":{"students":2,"transactions":1,"marketSessions":1,"admins":1}}`, w.Body.String())

	st, err := dst.GetStudent(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "S3", st.StudentID)
	assert.Equal(t, 10, st.TotalPoints)
	assert.Equal(t, "hash-S3", st.Password)

	missing, err := dst.GetStudent(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, missing)

	txs, err := dst.ListTransactionsByStudent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "2.50", txs[0].Weight)

	admin, err := dst.GetAdminByUsername(ctx, "admin")
	require.NoError(t, err)
	require.NotNil(t, admin)

	next := &domain.Student{FullName: "New", StudentID: "S4", Email: "s4@x.com", Major: "M", Phone: "1", Password: "h"}
	require.NoError(t, dst.CreateStudent(ctx, next))
	assert.Greater(t, next.ID, int64(3), "ids continue past imported ones")
}

func TestBackup_ImportReplacesExisting(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store)

	svc := NewService(store, nil, nil, nil, discard)
	counts, err := svc.Import(ctx, &domain.Snapshot{
		Students:       []domain.StudentRecord{},
		Transactions:   []domain.Transaction{},
		MarketSessions: []domain.MarketSession{},
		Admins:         []domain.AdminRecord{{ID: 9, Username: "root", Password: "h"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Admins)

	list, err := store.ListStudents(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	old, err := store.GetAdminByUsername(ctx, "admin")
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestBackup_ImportRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing collection", `{"students":[],"transactions":[],"marketSessions":[]}`},
		{"null collection", `{"students":null,"transactions":[],"marketSessions":[],"admins":[]}`},
		{"dangling transaction", `{"students":[],"transactions":[{"id":1,"studentId":5,"wasteType":"x","weight":"1.00","points":1,"date":"2026-01-01T00:00:00Z"}],"marketSessions":[],"admins":[]}`},
		{"duplicate ids", `{"students":[{"id":1,"studentId":"A","email":"a@x"},{"id":1,"studentId":"B","email":"b@x"}],"transactions":[],"marketSessions":[],"admins":[]}`},
		{"duplicate business key", `{"students":[{"id":1,"studentId":"A","email":"a@x"},{"id":2,"studentId":"A","email":"b@x"}],"transactions":[],"marketSessions":[],"admins":[]}`},
		{"malformed weight", `{"students":[{"id":1,"studentId":"A","email":"a@x"}],"transactions":[{"id":1,"studentId":1,"wasteType":"x","weight":"abc","points":1,"date":"2026-01-01T00:00:00Z"}],"marketSessions":[],"admins":[]}`},
		{"zero weight", `{"students":[{"id":1,"studentId":"A","email":"a@x"}],"transactions":[{"id":1,"studentId":1,"wasteType":"x","weight":"0.00","points":1,"date":"2026-01-01T00:00:00Z"}],"marketSessions":[],"admins":[]}`},
		{"weight too large", `{"students":[{"id":1,"studentId":"A","email":"a@x"}],"transactions":[{"id":1,"studentId":1,"wasteType":"x","weight":"1234.5","points":1,"date":"2026-01-01T00:00:00Z"}],"marketSessions":[],"admins":[]}`},
		{"negative points", `{"students":[{"id":1,"studentId":"A","email":"a@x"}],"transactions":[{"id":1,"studentId":1,"wasteType":"x","weight":"1.00","points":-5,"date":"2026-01-01T00:00:00Z"}],"marketSessions":[],"admins":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			seed(t, store)

			w := httptest.NewRecorder()
			newRouter(store).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/backup", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var body httputil.ErrorBody
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, "invalid_backup", body.Code)

			list, err := store.ListStudents(context.Background())
			require.NoError(t, err)
			assert.Len(t, list, 2, "failed import leaves data untouched")
		})
	}
}

// fakeSessions counts RevokeAll calls and can fail them.
type fakeSessions struct {
	revoked int
	err     error
}

func (f *fakeSessions) RevokeAll(ctx context.Context) error {
	f.revoked++
	return f.err
}

func TestBackup_ImportRevokesSessions(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sessions := &fakeSessions{}
	svc := NewService(store, sessions, nil, nil, discard)

	_, err := svc.Import(ctx, emptySnapshot())
	require.NoError(t, err)
	assert.Equal(t, 1, sessions.revoked)

	// A rejected snapshot leaves sessions alone.
	_, err = svc.Import(ctx, &domain.Snapshot{})
	require.Error(t, err)
	assert.Equal(t, 1, sessions.revoked)

	sessions.err = errors.New("redis down")
	_, err = svc.Import(ctx, emptySnapshot())
	assert.ErrorIs(t, err, sessions.err)
}

func TestBackup_ClearReseeds(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seed(t, store)
	sessions := &fakeSessions{}

	reseed := func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateAdmin(ctx, &domain.Admin{Username: "admin", Password: "fresh"})
	}
	r := chi.NewRouter()
	NewHandler(NewService(store, sessions, reseed, nil, discard), discard, "en").RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/backup", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	students, err := store.ListStudents(ctx)
	require.NoError(t, err)
	assert.Empty(t, students)
	txs, err := store.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
	markets, err := store.ListMarketSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, markets)

	admin, err := store.GetAdminByUsername(ctx, "admin")
	require.NoError(t, err)
	require.NotNil(t, admin)
	assert.Equal(t, "fresh", admin.Password)
	assert.Equal(t, 1, sessions.revoked)
}

func TestBackup_ClearRollsBackWhenReseedFails(t *testing.T) {
	ctx := context.Background()
	store := sqliteStore(t)
	seed(t, store)
	sessions := &fakeSessions{}

	boom := errors.New("boom")
	svc := NewService(store, sessions, func(context.Context, storage.Tx) error { return boom }, nil, discard)
	require.ErrorIs(t, svc.Clear(ctx), boom)

	students, err := store.ListStudents(ctx)
	require.NoError(t, err)
	assert.Len(t, students, 2, "failed clear leaves data untouched")
	assert.Zero(t, sessions.revoked)
}
