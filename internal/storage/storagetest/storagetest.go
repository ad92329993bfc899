// Package storagetest is the behavioural suite every storage backend must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"greenmarket/internal/domain"
	"greenmarket/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) storage.Storage

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func newStudent(studentID, email string) *domain.Student {
	return &domain.Student{
		FullName:  "Nguyen Van A",
		StudentID: studentID,
		Email:     email,
		Major:     "Environmental Science",
		Phone:     "0901234567",
		Password:  "hash",
	}
}

func Run(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("CreateStudent_AssignsIDAndZeroPoints", func(t *testing.T) {
		s := factory(t)

		st := newStudent("SV001", "a@example.com")
		require.NoError(t, s.CreateStudent(ctx, st))
		assert.NotZero(t, st.ID)

		got, err := s.GetStudent(ctx, st.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "SV001", got.StudentID)
		assert.Equal(t, "hash", got.Password)
		assert.Equal(t, 0, got.TotalPoints)

		byStudentID, err := s.GetStudentByStudentID(ctx, "SV001")
		require.NoError(t, err)
		require.NotNil(t, byStudentID)
		assert.Equal(t, st.ID, byStudentID.ID)

		byEmail, err := s.GetStudentByEmail(ctx, "a@example.com")
		require.NoError(t, err)
		require.NotNil(t, byEmail)
		assert.Equal(t, st.ID, byEmail.ID)
	})

	t.Run("Lookups_AbsentReturnNil", func(t *testing.T) {
		s := factory(t)

		st, err := s.GetStudent(ctx, 999)
		require.NoError(t, err)
		assert.Nil(t, st)

		st, err = s.GetStudentByStudentID(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, st)

		st, err = s.GetStudentByEmail(ctx, "nope@example.com")
		require.NoError(t, err)
		assert.Nil(t, st)

		admin, err := s.GetAdminByUsername(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, admin)

		ms, err := s.GetMarketSession(ctx, 999)
		require.NoError(t, err)
		assert.Nil(t, ms)
	})

	t.Run("CreateStudent_DuplicateKeys", func(t *testing.T) {
		s := factory(t)
		require.NoError(t, s.CreateStudent(ctx, newStudent("SV001", "a@example.com")))

		err := s.CreateStudent(ctx, newStudent("SV001", "other@example.com"))
		field, ok := storage.IsDuplicate(err)
		require.True(t, ok, "expected duplicate error, got %v", err)
		assert.Equal(t, storage.FieldStudentID, field)

		err = s.CreateStudent(ctx, newStudent("SV002", "a@example.com"))
		field, ok = storage.IsDuplicate(err)
		require.True(t, ok, "expected duplicate error, got %v", err)
		assert.Equal(t, storage.FieldEmail, field)

		all, err := s.ListStudents(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("UpdateStudent_Patch", func(t *testing.T) {
		s := factory(t)
		st := newStudent("SV001", "a@example.com")
		require.NoError(t, s.CreateStudent(ctx, st))
		other := newStudent("SV002", "b@example.com")
		require.NoError(t, s.CreateStudent(ctx, other))

		updated, err := s.UpdateStudent(ctx, st.ID, domain.StudentPatch{
			Major:       strPtr("Chemistry"),
			TotalPoints: intPtr(40),
		})
		require.NoError(t, err)
		assert.Equal(t, "Chemistry", updated.Major)
		assert.Equal(t, 40, updated.TotalPoints)
		assert.Equal(t, "Nguyen Van A", updated.FullName)

		_, err = s.UpdateStudent(ctx, st.ID, domain.StudentPatch{Email: strPtr("b@example.com")})
		field, ok := storage.IsDuplicate(err)
		require.True(t, ok, "expected duplicate error, got %v", err)
		assert.Equal(t, storage.FieldEmail, field)

		// The old email stays claimed after a rejected change.
		got, err := s.GetStudentByEmail(ctx, "a@example.com")
		require.NoError(t, err)
		require.NotNil(t, got)

		_, err = s.UpdateStudent(ctx, st.ID, domain.StudentPatch{Email: strPtr("new@example.com")})
		require.NoError(t, err)
		got, err = s.GetStudentByEmail(ctx, "a@example.com")
		require.NoError(t, err)
		assert.Nil(t, got)
		got, err = s.GetStudentByEmail(ctx, "new@example.com")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, st.ID, got.ID)

		_, err = s.UpdateStudent(ctx, 999, domain.StudentPatch{Major: strPtr("x")})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("DeleteStudent_CascadesTransactions", func(t *testing.T) {
		s := factory(t)
		st := newStudent("SV001", "a@example.com")
		require.NoError(t, s.CreateStudent(ctx, st))
		keep := newStudent("SV002", "b@example.com")
		require.NoError(t, s.CreateStudent(ctx, keep))

		require.NoError(t, s.CreateTransaction(ctx, &domain.Transaction{StudentID: st.ID, WasteType: "Giấy", Weight: "1.00", Points: 5}))
		require.NoError(t, s.CreateTransaction(ctx, &domain.Transaction{StudentID: keep.ID, WasteType: "Nhựa", Weight: "2.00", Points: 8}))

		require.NoError(t, s.DeleteStudent(ctx, st.ID))

		got, err := s.GetStudent(ctx, st.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		mine, err := s.ListTransactionsByStudent(ctx, st.ID)
		require.NoError(t, err)
		assert.Empty(t, mine)

		all, err := s.ListTransactions(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, keep.ID, all[0].StudentID)

		assert.ErrorIs(t, s.DeleteStudent(ctx, st.ID), storage.ErrNotFound)
	})

	t.Run("AddPoints", func(t *testing.T) {
		s := factory(t)
		st := newStudent("SV001", "a@example.com")
		require.NoError(t, s.CreateStudent(ctx, st))

		total, err := s.AddPoints(ctx, st.ID, 10)
		require.NoError(t, err)
		assert.Equal(t, 10, total)

		total, err = s.AddPoints(ctx, st.ID, 5)
		require.NoError(t, err)
		assert.Equal(t, 15, total)

		_, err = s.AddPoints(ctx, 999, 1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("CreateTransaction_UnknownStudent", func(t *testing.T) {
		s := factory(t)
		err := s.CreateTransaction(ctx, &domain.Transaction{StudentID: 42, WasteType: "Giấy", Weight: "1.00", Points: 1})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Transactions_NewestFirst", func(t *testing.T) {
		s := factory(t)
		st := newStudent("SV001", "a@example.com")
		require.NoError(t, s.CreateStudent(ctx, st))

		base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
		gift := "Túi vải"
		older := &domain.Transaction{StudentID: st.ID, WasteType: "Giấy", Weight: "1.00", Points: 5, Date: base}
		newer := &domain.Transaction{StudentID: st.ID, WasteType: "Nhựa", Weight: "2.50", Points: 10, Gift: &gift, Date: base.Add(time.Hour)}
		sameTime := &domain.Transaction{StudentID: st.ID, WasteType: "Kim loại", Weight: "0.50", Points: 3, Date: base}
		for _, tx := range []*domain.Transaction{older, newer, sameTime} {
			require.NoError(t, s.CreateTransaction(ctx, tx))
			assert.NotZero(t, tx.ID)
		}

		got, err := s.ListTransactionsByStudent(ctx, st.ID)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, newer.ID, got[0].ID)
		assert.Equal(t, sameTime.ID, got[1].ID)
		assert.Equal(t, older.ID, got[2].ID)
		require.NotNil(t, got[0].Gift)
		assert.Equal(t, "Túi vải", *got[0].Gift)
		assert.Nil(t, got[1].Gift)
		assert.Equal(t, "2.50", got[0].Weight)
		assert.True(t, got[0].Date.Equal(base.Add(time.Hour)))
	})

	t.Run("CreateTransaction_DefaultsDate", func(t *testing.T) {
		s := factory(t)
		st := newStudent("SV001", "a@example.com")
		require.NoError(t, s.CreateStudent(ctx, st))

		before := time.Now().Add(-time.Second)
		tx := &domain.Transaction{StudentID: st.ID, WasteType: "Giấy", Weight: "1.00", Points: 5}
		require.NoError(t, s.CreateTransaction(ctx, tx))
		assert.True(t, tx.Date.After(before))
	})

	t.Run("Atomic_RollsBackOnError", func(t *testing.T) {
		s := factory(t)
		st := newStudent("SV001", "a@example.com")
		require.NoError(t, s.CreateStudent(ctx, st))

		boom := errors.New("boom")
		err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			if err := tx.CreateTransaction(ctx, &domain.Transaction{StudentID: st.ID, WasteType: "Giấy", Weight: "1.00", Points: 7}); err != nil {
				return err
			}
			if _, err := tx.AddPoints(ctx, st.ID, 7); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.GetStudent(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.TotalPoints)

		txs, err := s.ListTransactions(ctx)
		require.NoError(t, err)
		assert.Empty(t, txs)
	})

	t.Run("Atomic_CommitsTogether", func(t *testing.T) {
		s := factory(t)
		st := newStudent("SV001", "a@example.com")
		require.NoError(t, s.CreateStudent(ctx, st))

		err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			if err := tx.CreateTransaction(ctx, &domain.Transaction{StudentID: st.ID, WasteType: "Giấy", Weight: "1.00", Points: 7}); err != nil {
				return err
			}
			total, err := tx.AddPoints(ctx, st.ID, 7)
			if err != nil {
				return err
			}
			assert.Equal(t, 7, total)
			return nil
		})
		require.NoError(t, err)

		got, err := s.GetStudent(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, 7, got.TotalPoints)

		txs, err := s.ListTransactionsByStudent(ctx, st.ID)
		require.NoError(t, err)
		assert.Len(t, txs, 1)
	})

	t.Run("Admins", func(t *testing.T) {
		s := factory(t)
		admin := &domain.Admin{Username: "admin", Password: "hash"}
		require.NoError(t, s.CreateAdmin(ctx, admin))
		assert.NotZero(t, admin.ID)

		err := s.CreateAdmin(ctx, &domain.Admin{Username: "admin", Password: "other"})
		field, ok := storage.IsDuplicate(err)
		require.True(t, ok, "expected duplicate error, got %v", err)
		assert.Equal(t, storage.FieldUsername, field)

		require.NoError(t, s.UpdateAdminPassword(ctx, admin.ID, "rehashed"))
		got, err := s.GetAdminByUsername(ctx, "admin")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "rehashed", got.Password)

		assert.ErrorIs(t, s.UpdateAdminPassword(ctx, 999, "x"), storage.ErrNotFound)
	})

	t.Run("MarketSessions_CRUDAndOrder", func(t *testing.T) {
		s := factory(t)
		base := time.Date(2030, 1, 10, 0, 0, 0, 0, time.UTC)

		later := &domain.MarketSession{Title: "Later", Date: base.Add(48 * time.Hour), Location: "Library", TimeSlot: "8:00 - 17:00", WasteTypes: "Giấy", Gifts: "Cây xanh"}
		first := &domain.MarketSession{Title: "First", Date: base, Location: "Hall", TimeSlot: "8:00 - 12:00", WasteTypes: "Nhựa", Gifts: "Túi vải"}
		for _, m := range []*domain.MarketSession{later, first} {
			require.NoError(t, s.CreateMarketSession(ctx, m))
			assert.NotZero(t, m.ID)
		}

		list, err := s.ListMarketSessions(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, later.ID, list[1].ID)

		updated, err := s.UpdateMarketSession(ctx, later.ID, domain.MarketSessionPatch{Title: strPtr("Renamed")})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", updated.Title)
		assert.Equal(t, "Library", updated.Location)

		_, err = s.UpdateMarketSession(ctx, 999, domain.MarketSessionPatch{Title: strPtr("x")})
		assert.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, s.DeleteMarketSession(ctx, first.ID))
		assert.ErrorIs(t, s.DeleteMarketSession(ctx, first.ID), storage.ErrNotFound)

		list, err = s.ListMarketSessions(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Renamed", list[0].Title)
	})

	t.Run("ExportImport_RoundTrip", func(t *testing.T) {
		src := factory(t)
		st := newStudent("SV001", "a@example.com")
		require.NoError(t, src.CreateStudent(ctx, st))
		require.NoError(t, src.CreateAdmin(ctx, &domain.Admin{Username: "admin", Password: "hash"}))
		require.NoError(t, src.CreateTransaction(ctx, &domain.Transaction{StudentID: st.ID, WasteType: "Giấy", Weight: "1.50", Points: 6, Date: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}))
		_, err := src.AddPoints(ctx, st.ID, 6)
		require.NoError(t, err)
		require.NoError(t, src.CreateMarketSession(ctx, &domain.MarketSession{Title: "Market", Date: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), Location: "Yard", TimeSlot: "8:00", WasteTypes: "Giấy", Gifts: "Cây"}))

		snap, err := src.Export(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Students, 1)
		assert.Equal(t, "hash", snap.Students[0].Password)
		require.Len(t, snap.Admins, 1)
		require.Len(t, snap.Transactions, 1)
		require.Len(t, snap.MarketSessions, 1)

		dst := factory(t)
		require.NoError(t, dst.CreateStudent(ctx, newStudent("OLD", "old@example.com")))
		require.NoError(t, dst.Import(ctx, snap))

		old, err := dst.GetStudentByStudentID(ctx, "OLD")
		require.NoError(t, err)
		assert.Nil(t, old, "import replaces existing data")

		got, err := dst.GetStudent(ctx, st.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 6, got.TotalPoints)
		assert.Equal(t, "hash", got.Password)

		txs, err := dst.ListTransactionsByStudent(ctx, st.ID)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, snap.Transactions[0].ID, txs[0].ID)

		admin, err := dst.GetAdminByUsername(ctx, "admin")
		require.NoError(t, err)
		require.NotNil(t, admin)

		// New records continue after the imported ids.
		next := newStudent("SV002", "b@example.com")
		require.NoError(t, dst.CreateStudent(ctx, next))
		assert.Greater(t, next.ID, st.ID)

		empty, err := factory(t).Export(ctx)
		require.NoError(t, err)
		assert.NotNil(t, empty.Students)
		assert.NotNil(t, empty.Admins)
		assert.NotNil(t, empty.Transactions)
		assert.NotNil(t, empty.MarketSessions)
	})

	t.Run("Import_KeepsPointsAfterZeroBalanceStudent", func(t *testing.T) {
		store := factory(t)
		snap := &domain.Snapshot{
			Students: []domain.StudentRecord{
				{ID: 1, FullName: "Zero", StudentID: "SV001", Email: "zero@example.com", Password: "h", TotalPoints: 0},
				{ID: 2, FullName: "Ten", StudentID: "SV002", Email: "ten@example.com", Password: "h", TotalPoints: 10},
			},
			Admins:         []domain.AdminRecord{},
			Transactions:   []domain.Transaction{},
			MarketSessions: []domain.MarketSession{},
		}
		require.NoError(t, store.Import(ctx, snap))

		zero, err := store.GetStudent(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, zero)
		assert.Equal(t, 0, zero.TotalPoints)

		ten, err := store.GetStudent(ctx, 2)
		require.NoError(t, err)
		require.NotNil(t, ten)
		assert.Equal(t, 10, ten.TotalPoints)
	})
}
