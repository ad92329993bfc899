// Package document keeps each record as a JSON document in Badger. Unique
// fields and the student→transactions relation are maintained as index keys
// written in the same Badger transaction as the document itself.
package document

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"greenmarket/internal/config"
	"greenmarket/internal/domain"
	"greenmarket/internal/metrics"
	"greenmarket/internal/storage"

	"github.com/dgraph-io/badger/v4"
)

const (
	tableStudents       = "students"
	tableAdmins         = "admins"
	tableTransactions   = "transactions"
	tableMarketSessions = "market_sessions"
)

type Store struct {
	db      *badger.DB
	metrics *metrics.Metrics

	// Badger reports write-write conflicts at commit; one writer at a time
	// turns them into plain waiting instead.
	writeMu sync.Mutex
}

var _ storage.Storage = (*Store)(nil)

// Open opens (or creates) the Badger directory, or an in-memory instance.
func Open(cfg config.BadgerConfig, logger *slog.Logger, m *metrics.Metrics) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(&badgerLogger{logger: logger})
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	logger.Info("document store opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &Store{db: bdb, metrics: m}, nil
}

func (s *Store) record(ctx context.Context, operation, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.Database.RecordQuery(ctx, operation, table, time.Since(start), err)
	}
}

func (s *Store) view(ctx context.Context, table string, fn func(d *docs) error) error {
	start := time.Now()
	err := s.db.View(func(txn *badger.Txn) error {
		return fn(&docs{txn: txn})
	})
	s.record(ctx, "select", table, start, err)
	return err
}

func (s *Store) update(ctx context.Context, operation, table string, fn func(d *docs) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	start := time.Now()
	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(&docs{txn: txn})
	})
	s.record(ctx, operation, table, start, err)
	return err
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.update(ctx, "atomic", "*", func(d *docs) error {
		return fn(ctx, d)
	})
}

func (s *Store) Export(ctx context.Context) (*domain.Snapshot, error) {
	var snap *domain.Snapshot
	err := s.view(ctx, "*", func(d *docs) error {
		var err error
		snap, err = d.export(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return snap, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateStudent(ctx context.Context, st *domain.Student) error {
	return s.update(ctx, "insert", tableStudents, func(d *docs) error {
		return d.CreateStudent(ctx, st)
	})
}

func (s *Store) GetStudent(ctx context.Context, id int64) (*domain.Student, error) {
	var out *domain.Student
	err := s.view(ctx, tableStudents, func(d *docs) error {
		var err error
		out, err = d.GetStudent(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) GetStudentByStudentID(ctx context.Context, studentID string) (*domain.Student, error) {
	var out *domain.Student
	err := s.view(ctx, tableStudents, func(d *docs) error {
		var err error
		out, err = d.GetStudentByStudentID(ctx, studentID)
		return err
	})
	return out, err
}

func (s *Store) GetStudentByEmail(ctx context.Context, email string) (*domain.Student, error) {
	var out *domain.Student
	err := s.view(ctx, tableStudents, func(d *docs) error {
		var err error
		out, err = d.GetStudentByEmail(ctx, email)
		return err
	})
	return out, err
}

func (s *Store) UpdateStudent(ctx context.Context, id int64, patch domain.StudentPatch) (*domain.Student, error) {
	var out *domain.Student
	err := s.update(ctx, "update", tableStudents, func(d *docs) error {
		var err error
		out, err = d.UpdateStudent(ctx, id, patch)
		return err
	})
	return out, err
}

func (s *Store) DeleteStudent(ctx context.Context, id int64) error {
	return s.update(ctx, "delete", tableStudents, func(d *docs) error {
		return d.DeleteStudent(ctx, id)
	})
}

func (s *Store) ListStudents(ctx context.Context) ([]domain.Student, error) {
	var out []domain.Student
	err := s.view(ctx, tableStudents, func(d *docs) error {
		var err error
		out, err = d.ListStudents(ctx)
		return err
	})
	return out, err
}

func (s *Store) AddPoints(ctx context.Context, id int64, delta int) (int, error) {
	var total int
	err := s.update(ctx, "update", tableStudents, func(d *docs) error {
		var err error
		total, err = d.AddPoints(ctx, id, delta)
		return err
	})
	return total, err
}

func (s *Store) CreateAdmin(ctx context.Context, a *domain.Admin) error {
	return s.update(ctx, "insert", tableAdmins, func(d *docs) error {
		return d.CreateAdmin(ctx, a)
	})
}

func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*domain.Admin, error) {
	var out *domain.Admin
	err := s.view(ctx, tableAdmins, func(d *docs) error {
		var err error
		out, err = d.GetAdminByUsername(ctx, username)
		return err
	})
	return out, err
}

func (s *Store) UpdateAdminPassword(ctx context.Context, id int64, password string) error {
	return s.update(ctx, "update", tableAdmins, func(d *docs) error {
		return d.UpdateAdminPassword(ctx, id, password)
	})
}

func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	return s.update(ctx, "insert", tableTransactions, func(d *docs) error {
		return d.CreateTransaction(ctx, t)
	})
}

func (s *Store) ListTransactionsByStudent(ctx context.Context, studentID int64) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := s.view(ctx, tableTransactions, func(d *docs) error {
		var err error
		out, err = d.ListTransactionsByStudent(ctx, studentID)
		return err
	})
	return out, err
}

func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := s.view(ctx, tableTransactions, func(d *docs) error {
		var err error
		out, err = d.ListTransactions(ctx)
		return err
	})
	return out, err
}

func (s *Store) CreateMarketSession(ctx context.Context, m *domain.MarketSession) error {
	return s.update(ctx, "insert", tableMarketSessions, func(d *docs) error {
		return d.CreateMarketSession(ctx, m)
	})
}

func (s *Store) GetMarketSession(ctx context.Context, id int64) (*domain.MarketSession, error) {
	var out *domain.MarketSession
	err := s.view(ctx, tableMarketSessions, func(d *docs) error {
		var err error
		out, err = d.GetMarketSession(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) UpdateMarketSession(ctx context.Context, id int64, patch domain.MarketSessionPatch) (*domain.MarketSession, error) {
	var out *domain.MarketSession
	err := s.update(ctx, "update", tableMarketSessions, func(d *docs) error {
		var err error
		out, err = d.UpdateMarketSession(ctx, id, patch)
		return err
	})
	return out, err
}

func (s *Store) DeleteMarketSession(ctx context.Context, id int64) error {
	return s.update(ctx, "delete", tableMarketSessions, func(d *docs) error {
		return d.DeleteMarketSession(ctx, id)
	})
}

func (s *Store) ListMarketSessions(ctx context.Context) ([]domain.MarketSession, error) {
	var out []domain.MarketSession
	err := s.view(ctx, tableMarketSessions, func(d *docs) error {
		var err error
		out, err = d.ListMarketSessions(ctx)
		return err
	})
	return out, err
}

func (s *Store) Import(ctx context.Context, snap *domain.Snapshot) error {
	return s.update(ctx, "import", "*", func(d *docs) error {
		return d.Import(ctx, snap)
	})
}

// badgerLogger routes Badger's own logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {}

func encodeID(id int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func decodeID(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
