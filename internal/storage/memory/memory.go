// Package memory is the in-process storage backend. All state sits behind
// one RWMutex; Atomic runs against a copy and swaps it in on success.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"greenmarket/internal/domain"
	"greenmarket/internal/storage"
)

type state struct {
	students     map[int64]domain.Student
	admins       map[int64]domain.Admin
	transactions map[int64]domain.Transaction
	sessions     map[int64]domain.MarketSession

	nextStudent     int64
	nextAdmin       int64
	nextTransaction int64
	nextSession     int64
}

func newState() *state {
	return &state{
		students:     make(map[int64]domain.Student),
		admins:       make(map[int64]domain.Admin),
		transactions: make(map[int64]domain.Transaction),
		sessions:     make(map[int64]domain.MarketSession),
	}
}

func (s *state) clone() *state {
	c := &state{
		students:        make(map[int64]domain.Student, len(s.students)),
		admins:          make(map[int64]domain.Admin, len(s.admins)),
		transactions:    make(map[int64]domain.Transaction, len(s.transactions)),
		sessions:        make(map[int64]domain.MarketSession, len(s.sessions)),
		nextStudent:     s.nextStudent,
		nextAdmin:       s.nextAdmin,
		nextTransaction: s.nextTransaction,
		nextSession:     s.nextSession,
	}
	for k, v := range s.students {
		c.students[k] = v
	}
	for k, v := range s.admins {
		c.admins[k] = v
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	return c
}

type Store struct {
	mu    sync.RWMutex
	state *state
}

func New() *Store {
	return &Store{state: newState()}
}

var _ storage.Storage = (*Store)(nil)

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state)
}

func (s *Store) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &txView{state: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Export(ctx context.Context) (*domain.Snapshot, error) {
	var snap *domain.Snapshot
	s.read(func(st *state) { snap = st.export() })
	return snap, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// Tx methods on the Store take the lock and delegate to the state.

func (s *Store) CreateStudent(ctx context.Context, st *domain.Student) error {
	return s.write(func(state *state) error { return state.createStudent(st) })
}

func (s *Store) GetStudent(ctx context.Context, id int64) (*domain.Student, error) {
	var out *domain.Student
	s.read(func(st *state) { out = st.getStudent(id) })
	return out, nil
}

func (s *Store) GetStudentByStudentID(ctx context.Context, studentID string) (*domain.Student, error) {
	var out *domain.Student
	s.read(func(st *state) {
		out = st.findStudent(func(x domain.Student) bool { return x.StudentID == studentID })
	})
	return out, nil
}

func (s *Store) GetStudentByEmail(ctx context.Context, email string) (*domain.Student, error) {
	var out *domain.Student
	s.read(func(st *state) {
		out = st.findStudent(func(x domain.Student) bool { return x.Email == email })
	})
	return out, nil
}

func (s *Store) UpdateStudent(ctx context.Context, id int64, patch domain.StudentPatch) (*domain.Student, error) {
	var out *domain.Student
	err := s.write(func(st *state) error {
		var err error
		out, err = st.updateStudent(id, patch)
		return err
	})
	return out, err
}

func (s *Store) DeleteStudent(ctx context.Context, id int64) error {
	return s.write(func(st *state) error { return st.deleteStudent(id) })
}

func (s *Store) ListStudents(ctx context.Context) ([]domain.Student, error) {
	var out []domain.Student
	s.read(func(st *state) { out = st.listStudents() })
	return out, nil
}

func (s *Store) AddPoints(ctx context.Context, id int64, delta int) (int, error) {
	var total int
	err := s.write(func(st *state) error {
		var err error
		total, err = st.addPoints(id, delta)
		return err
	})
	return total, err
}

func (s *Store) CreateAdmin(ctx context.Context, a *domain.Admin) error {
	return s.write(func(st *state) error { return st.createAdmin(a) })
}

func (s *Store) GetAdminByUsername(ctx context.Context, username string) (*domain.Admin, error) {
	var out *domain.Admin
	s.read(func(st *state) { out = st.getAdminByUsername(username) })
	return out, nil
}

func (s *Store) UpdateAdminPassword(ctx context.Context, id int64, password string) error {
	return s.write(func(st *state) error { return st.updateAdminPassword(id, password) })
}

func (s *Store) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	return s.write(func(st *state) error { return st.createTransaction(t) })
}

func (s *Store) ListTransactionsByStudent(ctx context.Context, studentID int64) ([]domain.Transaction, error) {
	var out []domain.Transaction
	s.read(func(st *state) {
		out = st.listTransactions(func(t domain.Transaction) bool { return t.StudentID == studentID })
	})
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	var out []domain.Transaction
	s.read(func(st *state) { out = st.listTransactions(nil) })
	return out, nil
}

func (s *Store) CreateMarketSession(ctx context.Context, m *domain.MarketSession) error {
	return s.write(func(st *state) error { return st.createMarketSession(m) })
}

func (s *Store) GetMarketSession(ctx context.Context, id int64) (*domain.MarketSession, error) {
	var out *domain.MarketSession
	s.read(func(st *state) { out = st.getMarketSession(id) })
	return out, nil
}

func (s *Store) UpdateMarketSession(ctx context.Context, id int64, patch domain.MarketSessionPatch) (*domain.MarketSession, error) {
	var out *domain.MarketSession
	err := s.write(func(st *state) error {
		var err error
		out, err = st.updateMarketSession(id, patch)
		return err
	})
	return out, err
}

func (s *Store) DeleteMarketSession(ctx context.Context, id int64) error {
	return s.write(func(st *state) error { return st.deleteMarketSession(id) })
}

func (s *Store) ListMarketSessions(ctx context.Context) ([]domain.MarketSession, error) {
	var out []domain.MarketSession
	s.read(func(st *state) { out = st.listMarketSessions() })
	return out, nil
}

func (s *Store) Import(ctx context.Context, snap *domain.Snapshot) error {
	return s.write(func(st *state) error {
		st.importSnapshot(snap)
		return nil
	})
}

// txView exposes a state that is already owned by the caller of Atomic.
type txView struct {
	state *state
}

func (v *txView) CreateStudent(ctx context.Context, s *domain.Student) error {
	return v.state.createStudent(s)
}

func (v *txView) GetStudent(ctx context.Context, id int64) (*domain.Student, error) {
	return v.state.getStudent(id), nil
}

func (v *txView) GetStudentByStudentID(ctx context.Context, studentID string) (*domain.Student, error) {
	return v.state.findStudent(func(x domain.Student) bool { return x.StudentID == studentID }), nil
}

func (v *txView) GetStudentByEmail(ctx context.Context, email string) (*domain.Student, error) {
	return v.state.findStudent(func(x domain.Student) bool { return x.Email == email }), nil
}

func (v *txView) UpdateStudent(ctx context.Context, id int64, patch domain.StudentPatch) (*domain.Student, error) {
	return v.state.updateStudent(id, patch)
}

func (v *txView) DeleteStudent(ctx context.Context, id int64) error {
	return v.state.deleteStudent(id)
}

func (v *txView) ListStudents(ctx context.Context) ([]domain.Student, error) {
	return v.state.listStudents(), nil
}

func (v *txView) AddPoints(ctx context.Context, id int64, delta int) (int, error) {
	return v.state.addPoints(id, delta)
}

func (v *txView) CreateAdmin(ctx context.Context, a *domain.Admin) error {
	return v.state.createAdmin(a)
}

func (v *txView) GetAdminByUsername(ctx context.Context, username string) (*domain.Admin, error) {
	return v.state.getAdminByUsername(username), nil
}

func (v *txView) UpdateAdminPassword(ctx context.Context, id int64, password string) error {
	return v.state.updateAdminPassword(id, password)
}

func (v *txView) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	return v.state.createTransaction(t)
}

func (v *txView) ListTransactionsByStudent(ctx context.Context, studentID int64) ([]domain.Transaction, error) {
	return v.state.listTransactions(func(t domain.Transaction) bool { return t.StudentID == studentID }), nil
}

func (v *txView) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return v.state.listTransactions(nil), nil
}

func (v *txView) CreateMarketSession(ctx context.Context, m *domain.MarketSession) error {
	return v.state.createMarketSession(m)
}

func (v *txView) GetMarketSession(ctx context.Context, id int64) (*domain.MarketSession, error) {
	return v.state.getMarketSession(id), nil
}

func (v *txView) UpdateMarketSession(ctx context.Context, id int64, patch domain.MarketSessionPatch) (*domain.MarketSession, error) {
	return v.state.updateMarketSession(id, patch)
}

func (v *txView) DeleteMarketSession(ctx context.Context, id int64) error {
	return v.state.deleteMarketSession(id)
}

func (v *txView) ListMarketSessions(ctx context.Context) ([]domain.MarketSession, error) {
	return v.state.listMarketSessions(), nil
}

func (v *txView) Import(ctx context.Context, snap *domain.Snapshot) error {
	v.state.importSnapshot(snap)
	return nil
}

// state operations; callers hold the lock.

func (st *state) checkStudentUnique(s domain.Student) error {
	for id, other := range st.students {
		if id == s.ID {
			continue
		}
		if other.StudentID == s.StudentID {
			return &storage.DuplicateKeyError{Field: storage.FieldStudentID}
		}
		if other.Email == s.Email {
			return &storage.DuplicateKeyError{Field: storage.FieldEmail}
		}
	}
	return nil
}

func (st *state) createStudent(s *domain.Student) error {
	if err := st.checkStudentUnique(*s); err != nil {
		return err
	}
	st.nextStudent++
	s.ID = st.nextStudent
	st.students[s.ID] = *s
	return nil
}

func (st *state) getStudent(id int64) *domain.Student {
	s, ok := st.students[id]
	if !ok {
		return nil
	}
	return &s
}

func (st *state) findStudent(match func(domain.Student) bool) *domain.Student {
	for _, s := range st.students {
		if match(s) {
			found := s
			return &found
		}
	}
	return nil
}

func (st *state) updateStudent(id int64, patch domain.StudentPatch) (*domain.Student, error) {
	s, ok := st.students[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	patch.Apply(&s)
	if err := st.checkStudentUnique(s); err != nil {
		return nil, err
	}
	st.students[id] = s
	return &s, nil
}

func (st *state) deleteStudent(id int64) error {
	if _, ok := st.students[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.students, id)
	for tid, t := range st.transactions {
		if t.StudentID == id {
			delete(st.transactions, tid)
		}
	}
	return nil
}

func (st *state) listStudents() []domain.Student {
	out := make([]domain.Student, 0, len(st.students))
	for _, s := range st.students {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *state) addPoints(id int64, delta int) (int, error) {
	s, ok := st.students[id]
	if !ok {
		return 0, storage.ErrNotFound
	}
	s.TotalPoints += delta
	st.students[id] = s
	return s.TotalPoints, nil
}

func (st *state) createAdmin(a *domain.Admin) error {
	if st.getAdminByUsername(a.Username) != nil {
		return &storage.DuplicateKeyError{Field: storage.FieldUsername}
	}
	st.nextAdmin++
	a.ID = st.nextAdmin
	st.admins[a.ID] = *a
	return nil
}

func (st *state) getAdminByUsername(username string) *domain.Admin {
	for _, a := range st.admins {
		if a.Username == username {
			found := a
			return &found
		}
	}
	return nil
}

func (st *state) updateAdminPassword(id int64, password string) error {
	a, ok := st.admins[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.Password = password
	st.admins[id] = a
	return nil
}

func (st *state) createTransaction(t *domain.Transaction) error {
	if _, ok := st.students[t.StudentID]; !ok {
		return storage.ErrNotFound
	}
	if t.Date.IsZero() {
		t.Date = time.Now().UTC()
	}
	st.nextTransaction++
	t.ID = st.nextTransaction
	st.transactions[t.ID] = *t
	return nil
}

func (st *state) listTransactions(match func(domain.Transaction) bool) []domain.Transaction {
	out := make([]domain.Transaction, 0)
	for _, t := range st.transactions {
		if match == nil || match(t) {
			out = append(out, t)
		}
	}
	storage.SortTransactions(out)
	return out
}

func (st *state) createMarketSession(m *domain.MarketSession) error {
	st.nextSession++
	m.ID = st.nextSession
	st.sessions[m.ID] = *m
	return nil
}

func (st *state) getMarketSession(id int64) *domain.MarketSession {
	m, ok := st.sessions[id]
	if !ok {
		return nil
	}
	return &m
}

func (st *state) updateMarketSession(id int64, patch domain.MarketSessionPatch) (*domain.MarketSession, error) {
	m, ok := st.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	patch.Apply(&m)
	st.sessions[id] = m
	return &m, nil
}

func (st *state) deleteMarketSession(id int64) error {
	if _, ok := st.sessions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(st.sessions, id)
	return nil
}

func (st *state) listMarketSessions() []domain.MarketSession {
	out := make([]domain.MarketSession, 0, len(st.sessions))
	for _, m := range st.sessions {
		out = append(out, m)
	}
	storage.SortMarketSessions(out)
	return out
}

func (st *state) export() *domain.Snapshot {
	snap := &domain.Snapshot{
		Students:       make([]domain.StudentRecord, 0, len(st.students)),
		Transactions:   st.listTransactions(nil),
		MarketSessions: st.listMarketSessions(),
		Admins:         make([]domain.AdminRecord, 0, len(st.admins)),
		ExportDate:     time.Now().UTC(),
	}
	for _, s := range st.listStudents() {
		snap.Students = append(snap.Students, domain.NewStudentRecord(s))
	}
	for _, a := range st.admins {
		snap.Admins = append(snap.Admins, domain.NewAdminRecord(a))
	}
	sort.Slice(snap.Admins, func(i, j int) bool { return snap.Admins[i].ID < snap.Admins[j].ID })
	return snap
}

func (st *state) importSnapshot(snap *domain.Snapshot) {
	fresh := newState()
	for _, r := range snap.Students {
		fresh.students[r.ID] = r.Student()
		fresh.nextStudent = max(fresh.nextStudent, r.ID)
	}
	for _, r := range snap.Admins {
		fresh.admins[r.ID] = r.Admin()
		fresh.nextAdmin = max(fresh.nextAdmin, r.ID)
	}
	for _, t := range snap.Transactions {
		fresh.transactions[t.ID] = t
		fresh.nextTransaction = max(fresh.nextTransaction, t.ID)
	}
	for _, m := range snap.MarketSessions {
		fresh.sessions[m.ID] = m
		fresh.nextSession = max(fresh.nextSession, m.ID)
	}
	*st = *fresh
}
