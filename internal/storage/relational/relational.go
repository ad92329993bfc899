// Package relational stores everything in SQL tables through bun. The same
// code serves Postgres and SQLite; dialect differences are confined to error
// mapping and sequence maintenance after an import.
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"greenmarket/internal/db"
	"greenmarket/internal/domain"
	"greenmarket/internal/metrics"
	"greenmarket/internal/storage"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type Store struct {
	*queries
	db *bun.DB
}

var _ storage.Storage = (*Store)(nil)

func New(bdb *bun.DB, m *metrics.Metrics) *Store {
	return &Store{
		queries: &queries{
			db:       bdb,
			metrics:  m,
			postgres: bdb.Dialect().Name() == dialect.PG,
		},
		db: bdb,
	}
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, bdb *bun.DB) error {
	if err := db.CreateTables(ctx, bdb,
		(*domain.Student)(nil),
		(*domain.Admin)(nil),
		(*domain.MarketSession)(nil),
	); err != nil {
		return err
	}

	_, err := bdb.NewCreateTable().
		Model((*domain.Transaction)(nil)).
		IfNotExists().
		ForeignKey(`("student_id") REFERENCES "students" ("id") ON DELETE CASCADE`).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create transactions table: %w", err)
	}

	_, err = bdb.NewCreateIndex().
		Model((*domain.Transaction)(nil)).
		Index("transactions_student_id_idx").
		Column("student_id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create transactions index: %w", err)
	}
	return nil
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, s.queries.with(tx))
	})
}

func (s *Store) Import(ctx context.Context, snap *domain.Snapshot) error {
	return s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Import(ctx, snap)
	})
}

func (s *Store) Export(ctx context.Context) (*domain.Snapshot, error) {
	snap := &domain.Snapshot{ExportDate: time.Now().UTC()}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := s.queries.with(tx)

		students, err := q.ListStudents(ctx)
		if err != nil {
			return err
		}
		snap.Students = make([]domain.StudentRecord, 0, len(students))
		for _, st := range students {
			snap.Students = append(snap.Students, domain.NewStudentRecord(st))
		}

		if snap.Transactions, err = q.ListTransactions(ctx); err != nil {
			return err
		}
		if snap.MarketSessions, err = q.ListMarketSessions(ctx); err != nil {
			return err
		}

		var admins []domain.Admin
		if err := tx.NewSelect().Model(&admins).Order("id ASC").Scan(ctx); err != nil {
			return err
		}
		snap.Admins = make([]domain.AdminRecord, 0, len(admins))
		for _, a := range admins {
			snap.Admins = append(snap.Admins, domain.NewAdminRecord(a))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return snap, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// queries implements storage.Tx against either the pool or an open bun.Tx.
type queries struct {
	db       bun.IDB
	metrics  *metrics.Metrics
	postgres bool
}

func (q *queries) with(idb bun.IDB) *queries {
	return &queries{db: idb, metrics: q.metrics, postgres: q.postgres}
}

func (q *queries) record(ctx context.Context, operation, table string, start time.Time, err error) {
	if q.metrics == nil {
		return
	}
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	q.metrics.Database.RecordQuery(ctx, operation, table, time.Since(start), err)
}

func (q *queries) CreateStudent(ctx context.Context, s *domain.Student) error {
	start := time.Now()
	_, err := q.db.NewInsert().Model(s).Returning("id").Exec(ctx)

	q.record(ctx, "insert", "students", start, err)

	if err != nil {
		return fmt.Errorf("insert student: %w", mapError(err))
	}
	return nil
}

func (q *queries) getStudentWhere(ctx context.Context, where string, arg any) (*domain.Student, error) {
	start := time.Now()
	student := new(domain.Student)
	err := q.db.NewSelect().Model(student).Where(where, arg).Scan(ctx)

	q.record(ctx, "select", "students", start, err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select student: %w", err)
	}
	return student, nil
}

func (q *queries) GetStudent(ctx context.Context, id int64) (*domain.Student, error) {
	return q.getStudentWhere(ctx, "id = ?", id)
}

func (q *queries) GetStudentByStudentID(ctx context.Context, studentID string) (*domain.Student, error) {
	return q.getStudentWhere(ctx, "student_id = ?", studentID)
}

func (q *queries) GetStudentByEmail(ctx context.Context, email string) (*domain.Student, error) {
	return q.getStudentWhere(ctx, "email = ?", email)
}

// UpdateStudent only writes the patched columns so a concurrent AddPoints is
// never overwritten by a stale balance.
func (q *queries) UpdateStudent(ctx context.Context, id int64, patch domain.StudentPatch) (*domain.Student, error) {
	upd := q.db.NewUpdate().Model((*domain.Student)(nil)).Where("id = ?", id)
	sets := 0
	set := func(column string, value any) {
		upd = upd.Set(column+" = ?", value)
		sets++
	}
	if patch.FullName != nil {
		set("full_name", *patch.FullName)
	}
	if patch.StudentID != nil {
		set("student_id", *patch.StudentID)
	}
	if patch.Email != nil {
		set("email", *patch.Email)
	}
	if patch.Major != nil {
		set("major", *patch.Major)
	}
	if patch.Phone != nil {
		set("phone", *patch.Phone)
	}
	if patch.Password != nil {
		set("password", *patch.Password)
	}
	if patch.TotalPoints != nil {
		set("total_points", *patch.TotalPoints)
	}

	if sets > 0 {
		start := time.Now()
		result, err := upd.Exec(ctx)

		q.record(ctx, "update", "students", start, err)

		if err != nil {
			return nil, fmt.Errorf("update student: %w", mapError(err))
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return nil, storage.ErrNotFound
		}
	}

	student, err := q.GetStudent(ctx, id)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, storage.ErrNotFound
	}
	return student, nil
}

func (q *queries) DeleteStudent(ctx context.Context, id int64) error {
	start := time.Now()
	result, err := q.db.NewDelete().Model((*domain.Student)(nil)).Where("id = ?", id).Exec(ctx)

	q.record(ctx, "delete", "students", start, err)

	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (q *queries) ListStudents(ctx context.Context) ([]domain.Student, error) {
	start := time.Now()
	students := make([]domain.Student, 0)
	err := q.db.NewSelect().Model(&students).Order("id ASC").Scan(ctx)

	q.record(ctx, "select", "students", start, err)

	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

func (q *queries) AddPoints(ctx context.Context, id int64, delta int) (int, error) {
	start := time.Now()
	var total int
	err := q.db.NewRaw(
		"UPDATE students SET total_points = total_points + ? WHERE id = ? RETURNING total_points",
		delta, id,
	).Scan(ctx, &total)

	q.record(ctx, "update", "students", start, err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("add points: %w", err)
	}
	return total, nil
}

func (q *queries) CreateAdmin(ctx context.Context, a *domain.Admin) error {
	start := time.Now()
	_, err := q.db.NewInsert().Model(a).Returning("id").Exec(ctx)

	q.record(ctx, "insert", "admins", start, err)

	if err != nil {
		return fmt.Errorf("insert admin: %w", mapError(err))
	}
	return nil
}

func (q *queries) GetAdminByUsername(ctx context.Context, username string) (*domain.Admin, error) {
	start := time.Now()
	admin := new(domain.Admin)
	err := q.db.NewSelect().Model(admin).Where("username = ?", username).Scan(ctx)

	q.record(ctx, "select", "admins", start, err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select admin: %w", err)
	}
	return admin, nil
}

func (q *queries) UpdateAdminPassword(ctx context.Context, id int64, password string) error {
	start := time.Now()
	result, err := q.db.NewUpdate().
		Model((*domain.Admin)(nil)).
		Set("password = ?", password).
		Where("id = ?", id).
		Exec(ctx)

	q.record(ctx, "update", "admins", start, err)

	if err != nil {
		return fmt.Errorf("update admin: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (q *queries) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	if t.Date.IsZero() {
		t.Date = time.Now()
	}
	// Both dialects keep microseconds; SQLite compares the stored text, which
	// only sorts correctly when every row shares one offset.
	t.Date = t.Date.UTC().Truncate(time.Microsecond)

	start := time.Now()
	_, err := q.db.NewInsert().Model(t).Returning("id").Exec(ctx)

	q.record(ctx, "insert", "transactions", start, err)

	if err != nil {
		return fmt.Errorf("insert transaction: %w", mapError(err))
	}
	return nil
}

func (q *queries) listTransactions(ctx context.Context, studentID int64) ([]domain.Transaction, error) {
	start := time.Now()
	transactions := make([]domain.Transaction, 0)
	sel := q.db.NewSelect().Model(&transactions).Order("date DESC", "id DESC")
	if studentID > 0 {
		sel = sel.Where("student_id = ?", studentID)
	}
	err := sel.Scan(ctx)

	q.record(ctx, "select", "transactions", start, err)

	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return transactions, nil
}

func (q *queries) ListTransactionsByStudent(ctx context.Context, studentID int64) ([]domain.Transaction, error) {
	if studentID <= 0 {
		return []domain.Transaction{}, nil
	}
	return q.listTransactions(ctx, studentID)
}

func (q *queries) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return q.listTransactions(ctx, 0)
}

func (q *queries) CreateMarketSession(ctx context.Context, m *domain.MarketSession) error {
	m.Date = m.Date.UTC().Truncate(time.Microsecond)

	start := time.Now()
	_, err := q.db.NewInsert().Model(m).Returning("id").Exec(ctx)

	q.record(ctx, "insert", "market_sessions", start, err)

	if err != nil {
		return fmt.Errorf("insert market session: %w", err)
	}
	return nil
}

func (q *queries) GetMarketSession(ctx context.Context, id int64) (*domain.MarketSession, error) {
	start := time.Now()
	session := new(domain.MarketSession)
	err := q.db.NewSelect().Model(session).Where("id = ?", id).Scan(ctx)

	q.record(ctx, "select", "market_sessions", start, err)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select market session: %w", err)
	}
	return session, nil
}

func (q *queries) UpdateMarketSession(ctx context.Context, id int64, patch domain.MarketSessionPatch) (*domain.MarketSession, error) {
	upd := q.db.NewUpdate().Model((*domain.MarketSession)(nil)).Where("id = ?", id)
	sets := 0
	set := func(column string, value any) {
		upd = upd.Set(column+" = ?", value)
		sets++
	}
	if patch.Title != nil {
		set("title", *patch.Title)
	}
	if patch.Date != nil {
		set("date", patch.Date.UTC().Truncate(time.Microsecond))
	}
	if patch.Location != nil {
		set("location", *patch.Location)
	}
	if patch.TimeSlot != nil {
		set("time_slot", *patch.TimeSlot)
	}
	if patch.WasteTypes != nil {
		set("waste_types", *patch.WasteTypes)
	}
	if patch.Gifts != nil {
		set("gifts", *patch.Gifts)
	}

	if sets > 0 {
		start := time.Now()
		result, err := upd.Exec(ctx)

		q.record(ctx, "update", "market_sessions", start, err)

		if err != nil {
			return nil, fmt.Errorf("update market session: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return nil, storage.ErrNotFound
		}
	}

	session, err := q.GetMarketSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, storage.ErrNotFound
	}
	return session, nil
}

func (q *queries) DeleteMarketSession(ctx context.Context, id int64) error {
	start := time.Now()
	result, err := q.db.NewDelete().Model((*domain.MarketSession)(nil)).Where("id = ?", id).Exec(ctx)

	q.record(ctx, "delete", "market_sessions", start, err)

	if err != nil {
		return fmt.Errorf("delete market session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (q *queries) ListMarketSessions(ctx context.Context) ([]domain.MarketSession, error) {
	start := time.Now()
	sessions := make([]domain.MarketSession, 0)
	err := q.db.NewSelect().Model(&sessions).Order("date ASC", "id ASC").Scan(ctx)

	q.record(ctx, "select", "market_sessions", start, err)

	if err != nil {
		return nil, fmt.Errorf("list market sessions: %w", err)
	}
	return sessions, nil
}

// Bulk inserts name every column. Otherwise bun derives the column list from
// the first row and drops zero values of columns with a default, e.g. a
// leading student with 0 points would zero every imported balance.
var (
	studentColumns       = []string{"id", "full_name", "student_id", "email", "major", "phone", "password", "total_points"}
	adminColumns         = []string{"id", "username", "password"}
	marketSessionColumns = []string{"id", "title", "date", "location", "time_slot", "waste_types", "gifts"}
	transactionColumns   = []string{"id", "student_id", "waste_type", "weight", "points", "gift", "date"}
)

// Import must run inside a transaction; Store.Import opens one.
func (q *queries) Import(ctx context.Context, snap *domain.Snapshot) error {
	start := time.Now()
	err := q.importSnapshot(ctx, snap)
	q.record(ctx, "import", "*", start, err)
	return err
}

func (q *queries) importSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	// Children first so the foreign key never dangles.
	for _, model := range []any{
		(*domain.Transaction)(nil),
		(*domain.Student)(nil),
		(*domain.Admin)(nil),
		(*domain.MarketSession)(nil),
	} {
		if _, err := q.db.NewDelete().Model(model).Where("1 = 1").Exec(ctx); err != nil {
			return fmt.Errorf("clear table: %w", err)
		}
	}

	if len(snap.Students) > 0 {
		students := make([]domain.Student, 0, len(snap.Students))
		for _, r := range snap.Students {
			students = append(students, r.Student())
		}
		if _, err := q.db.NewInsert().Model(&students).Column(studentColumns...).Exec(ctx); err != nil {
			return fmt.Errorf("import students: %w", mapError(err))
		}
	}

	if len(snap.Admins) > 0 {
		admins := make([]domain.Admin, 0, len(snap.Admins))
		for _, r := range snap.Admins {
			admins = append(admins, r.Admin())
		}
		if _, err := q.db.NewInsert().Model(&admins).Column(adminColumns...).Exec(ctx); err != nil {
			return fmt.Errorf("import admins: %w", mapError(err))
		}
	}

	if len(snap.MarketSessions) > 0 {
		sessions := make([]domain.MarketSession, len(snap.MarketSessions))
		for i, m := range snap.MarketSessions {
			m.Date = m.Date.UTC().Truncate(time.Microsecond)
			sessions[i] = m
		}
		if _, err := q.db.NewInsert().Model(&sessions).Column(marketSessionColumns...).Exec(ctx); err != nil {
			return fmt.Errorf("import market sessions: %w", err)
		}
	}

	if len(snap.Transactions) > 0 {
		transactions := make([]domain.Transaction, len(snap.Transactions))
		for i, t := range snap.Transactions {
			t.Date = t.Date.UTC().Truncate(time.Microsecond)
			transactions[i] = t
		}
		if _, err := q.db.NewInsert().Model(&transactions).Column(transactionColumns...).Exec(ctx); err != nil {
			return fmt.Errorf("import transactions: %w", mapError(err))
		}
	}

	if q.postgres {
		for _, table := range []string{"students", "admins", "market_sessions", "transactions"} {
			_, err := q.db.NewRaw(
				"SELECT setval(pg_get_serial_sequence(?, 'id'), COALESCE(MAX(id), 0) + 1, false) FROM ?",
				table, bun.Ident(table),
			).Exec(ctx)
			if err != nil {
				return fmt.Errorf("reset %s sequence: %w", table, err)
			}
		}
	}
	return nil
}
