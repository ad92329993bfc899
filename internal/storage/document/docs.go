package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"greenmarket/internal/domain"
	"greenmarket/internal/storage"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	<table>/<id>                        JSON document
//	seq/<table>                         last issued id
//	idx/<table>/<field>/<value>         id owning a unique value
//	rel/transactions/<studentID>/<id>   transactions of one student
func docKey(table string, id int64) []byte {
	return []byte(fmt.Sprintf("%s/%020d", table, id))
}

func seqKey(table string) []byte {
	return []byte("seq/" + table)
}

func uniqueKey(table, field, value string) []byte {
	return []byte("idx/" + table + "/" + field + "/" + value)
}

func relPrefix(studentID int64) string {
	return fmt.Sprintf("rel/transactions/%020d/", studentID)
}

func relKey(studentID, transactionID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", relPrefix(studentID), transactionID))
}

// docs implements storage.Tx on top of one Badger transaction.
type docs struct {
	txn *badger.Txn
}

func (d *docs) get(key []byte, dst any) (bool, error) {
	item, err := d.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func (d *docs) put(key []byte, v any) error {
	data, err := marshal(v)
	if err != nil {
		return err
	}
	return d.txn.Set(key, data)
}

func (d *docs) lookupID(key []byte) (int64, bool, error) {
	item, err := d.txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var id int64
	err = item.Value(func(val []byte) error {
		id = decodeID(val)
		return nil
	})
	return id, err == nil, err
}

func (d *docs) nextID(table string) (int64, error) {
	last, _, err := d.lookupID(seqKey(table))
	if err != nil {
		return 0, err
	}
	next := last + 1
	return next, d.txn.Set(seqKey(table), encodeID(next))
}

func (d *docs) bumpSeq(table string, id int64) error {
	last, _, err := d.lookupID(seqKey(table))
	if err != nil {
		return err
	}
	if id <= last {
		return nil
	}
	return d.txn.Set(seqKey(table), encodeID(id))
}

func (d *docs) scan(prefix string, fn func(val []byte) error) error {
	it := d.txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func (d *docs) keys(prefix string) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := d.txn.NewIterator(opts)
	defer it.Close()

	var out [][]byte
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		out = append(out, it.Item().KeyCopy(nil))
	}
	return out
}

// claim reserves a unique value for id, failing if another record owns it.
func (d *docs) claim(table, field, value string, id int64, dupField string) error {
	owner, ok, err := d.lookupID(uniqueKey(table, field, value))
	if err != nil {
		return err
	}
	if ok && owner != id {
		return &storage.DuplicateKeyError{Field: dupField}
	}
	return d.txn.Set(uniqueKey(table, field, value), encodeID(id))
}

func (d *docs) putStudent(s domain.Student) error {
	if err := d.claim(tableStudents, "student_id", s.StudentID, s.ID, storage.FieldStudentID); err != nil {
		return err
	}
	if err := d.claim(tableStudents, "email", s.Email, s.ID, storage.FieldEmail); err != nil {
		return err
	}
	return d.put(docKey(tableStudents, s.ID), domain.NewStudentRecord(s))
}

func (d *docs) CreateStudent(ctx context.Context, s *domain.Student) error {
	// Check both unique values before burning an id.
	for _, u := range []struct{ field, value, dup string }{
		{"student_id", s.StudentID, storage.FieldStudentID},
		{"email", s.Email, storage.FieldEmail},
	} {
		_, taken, err := d.lookupID(uniqueKey(tableStudents, u.field, u.value))
		if err != nil {
			return err
		}
		if taken {
			return &storage.DuplicateKeyError{Field: u.dup}
		}
	}

	id, err := d.nextID(tableStudents)
	if err != nil {
		return err
	}
	s.ID = id
	return d.putStudent(*s)
}

func (d *docs) GetStudent(ctx context.Context, id int64) (*domain.Student, error) {
	var rec domain.StudentRecord
	ok, err := d.get(docKey(tableStudents, id), &rec)
	if err != nil || !ok {
		return nil, err
	}
	s := rec.Student()
	return &s, nil
}

func (d *docs) studentByUnique(field, value string) (*domain.Student, error) {
	id, ok, err := d.lookupID(uniqueKey(tableStudents, field, value))
	if err != nil || !ok {
		return nil, err
	}
	return d.GetStudent(context.Background(), id)
}

func (d *docs) GetStudentByStudentID(ctx context.Context, studentID string) (*domain.Student, error) {
	return d.studentByUnique("student_id", studentID)
}

func (d *docs) GetStudentByEmail(ctx context.Context, email string) (*domain.Student, error) {
	return d.studentByUnique("email", email)
}

func (d *docs) UpdateStudent(ctx context.Context, id int64, patch domain.StudentPatch) (*domain.Student, error) {
	current, err := d.GetStudent(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, storage.ErrNotFound
	}

	updated := *current
	patch.Apply(&updated)

	if err := d.putStudent(updated); err != nil {
		return nil, err
	}
	if updated.StudentID != current.StudentID {
		if err := d.txn.Delete(uniqueKey(tableStudents, "student_id", current.StudentID)); err != nil {
			return nil, err
		}
	}
	if updated.Email != current.Email {
		if err := d.txn.Delete(uniqueKey(tableStudents, "email", current.Email)); err != nil {
			return nil, err
		}
	}
	return &updated, nil
}

func (d *docs) DeleteStudent(ctx context.Context, id int64) error {
	current, err := d.GetStudent(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return storage.ErrNotFound
	}

	for _, rel := range d.keys(relPrefix(id)) {
		var tid int64
		if _, err := fmt.Sscanf(string(rel[len(relPrefix(id)):]), "%d", &tid); err != nil {
			return fmt.Errorf("corrupt relation key %q: %w", rel, err)
		}
		if err := d.txn.Delete(docKey(tableTransactions, tid)); err != nil {
			return err
		}
		if err := d.txn.Delete(rel); err != nil {
			return err
		}
	}

	for _, key := range [][]byte{
		uniqueKey(tableStudents, "student_id", current.StudentID),
		uniqueKey(tableStudents, "email", current.Email),
		docKey(tableStudents, id),
	} {
		if err := d.txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func (d *docs) ListStudents(ctx context.Context) ([]domain.Student, error) {
	students := make([]domain.Student, 0)
	err := d.scan(tableStudents+"/", func(val []byte) error {
		var rec domain.StudentRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		students = append(students, rec.Student())
		return nil
	})
	return students, err
}

func (d *docs) AddPoints(ctx context.Context, id int64, delta int) (int, error) {
	current, err := d.GetStudent(ctx, id)
	if err != nil {
		return 0, err
	}
	if current == nil {
		return 0, storage.ErrNotFound
	}
	current.TotalPoints += delta
	if err := d.put(docKey(tableStudents, id), domain.NewStudentRecord(*current)); err != nil {
		return 0, err
	}
	return current.TotalPoints, nil
}

func (d *docs) CreateAdmin(ctx context.Context, a *domain.Admin) error {
	_, taken, err := d.lookupID(uniqueKey(tableAdmins, "username", a.Username))
	if err != nil {
		return err
	}
	if taken {
		return &storage.DuplicateKeyError{Field: storage.FieldUsername}
	}

	id, err := d.nextID(tableAdmins)
	if err != nil {
		return err
	}
	a.ID = id
	if err := d.claim(tableAdmins, "username", a.Username, a.ID, storage.FieldUsername); err != nil {
		return err
	}
	return d.put(docKey(tableAdmins, a.ID), domain.NewAdminRecord(*a))
}

func (d *docs) getAdmin(id int64) (*domain.Admin, error) {
	var rec domain.AdminRecord
	ok, err := d.get(docKey(tableAdmins, id), &rec)
	if err != nil || !ok {
		return nil, err
	}
	a := rec.Admin()
	return &a, nil
}

func (d *docs) GetAdminByUsername(ctx context.Context, username string) (*domain.Admin, error) {
	id, ok, err := d.lookupID(uniqueKey(tableAdmins, "username", username))
	if err != nil || !ok {
		return nil, err
	}
	return d.getAdmin(id)
}

func (d *docs) UpdateAdminPassword(ctx context.Context, id int64, password string) error {
	a, err := d.getAdmin(id)
	if err != nil {
		return err
	}
	if a == nil {
		return storage.ErrNotFound
	}
	a.Password = password
	return d.put(docKey(tableAdmins, id), domain.NewAdminRecord(*a))
}

func (d *docs) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	owner, err := d.GetStudent(ctx, t.StudentID)
	if err != nil {
		return err
	}
	if owner == nil {
		return storage.ErrNotFound
	}
	if t.Date.IsZero() {
		t.Date = time.Now().UTC()
	}

	id, err := d.nextID(tableTransactions)
	if err != nil {
		return err
	}
	t.ID = id
	if err := d.put(docKey(tableTransactions, id), t); err != nil {
		return err
	}
	return d.txn.Set(relKey(t.StudentID, id), nil)
}

func (d *docs) ListTransactionsByStudent(ctx context.Context, studentID int64) ([]domain.Transaction, error) {
	transactions := make([]domain.Transaction, 0)
	prefix := relPrefix(studentID)
	for _, rel := range d.keys(prefix) {
		var tid int64
		if _, err := fmt.Sscanf(string(rel[len(prefix):]), "%d", &tid); err != nil {
			return nil, fmt.Errorf("corrupt relation key %q: %w", rel, err)
		}
		var t domain.Transaction
		ok, err := d.get(docKey(tableTransactions, tid), &t)
		if err != nil {
			return nil, err
		}
		if ok {
			transactions = append(transactions, t)
		}
	}
	storage.SortTransactions(transactions)
	return transactions, nil
}

func (d *docs) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	transactions := make([]domain.Transaction, 0)
	err := d.scan(tableTransactions+"/", func(val []byte) error {
		var t domain.Transaction
		if err := json.Unmarshal(val, &t); err != nil {
			return err
		}
		transactions = append(transactions, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	storage.SortTransactions(transactions)
	return transactions, nil
}

func (d *docs) CreateMarketSession(ctx context.Context, m *domain.MarketSession) error {
	id, err := d.nextID(tableMarketSessions)
	if err != nil {
		return err
	}
	m.ID = id
	return d.put(docKey(tableMarketSessions, id), m)
}

func (d *docs) GetMarketSession(ctx context.Context, id int64) (*domain.MarketSession, error) {
	var m domain.MarketSession
	ok, err := d.get(docKey(tableMarketSessions, id), &m)
	if err != nil || !ok {
		return nil, err
	}
	return &m, nil
}

func (d *docs) UpdateMarketSession(ctx context.Context, id int64, patch domain.MarketSessionPatch) (*domain.MarketSession, error) {
	m, err := d.GetMarketSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, storage.ErrNotFound
	}
	patch.Apply(m)
	if err := d.put(docKey(tableMarketSessions, id), m); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *docs) DeleteMarketSession(ctx context.Context, id int64) error {
	m, err := d.GetMarketSession(ctx, id)
	if err != nil {
		return err
	}
	if m == nil {
		return storage.ErrNotFound
	}
	return d.txn.Delete(docKey(tableMarketSessions, id))
}

func (d *docs) ListMarketSessions(ctx context.Context) ([]domain.MarketSession, error) {
	sessions := make([]domain.MarketSession, 0)
	err := d.scan(tableMarketSessions+"/", func(val []byte) error {
		var m domain.MarketSession
		if err := json.Unmarshal(val, &m); err != nil {
			return err
		}
		sessions = append(sessions, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	storage.SortMarketSessions(sessions)
	return sessions, nil
}

func (d *docs) Import(ctx context.Context, snap *domain.Snapshot) error {
	for _, prefix := range []string{
		tableStudents + "/", tableAdmins + "/", tableTransactions + "/", tableMarketSessions + "/",
		"seq/", "idx/", "rel/",
	} {
		for _, key := range d.keys(prefix) {
			if err := d.txn.Delete(key); err != nil {
				return err
			}
		}
	}

	for _, r := range snap.Students {
		if err := d.putStudent(r.Student()); err != nil {
			return fmt.Errorf("import student %d: %w", r.ID, err)
		}
		if err := d.bumpSeq(tableStudents, r.ID); err != nil {
			return err
		}
	}

	for _, r := range snap.Admins {
		if err := d.claim(tableAdmins, "username", r.Username, r.ID, storage.FieldUsername); err != nil {
			return fmt.Errorf("import admin %d: %w", r.ID, err)
		}
		if err := d.put(docKey(tableAdmins, r.ID), r); err != nil {
			return err
		}
		if err := d.bumpSeq(tableAdmins, r.ID); err != nil {
			return err
		}
	}

	for _, m := range snap.MarketSessions {
		if err := d.put(docKey(tableMarketSessions, m.ID), m); err != nil {
			return err
		}
		if err := d.bumpSeq(tableMarketSessions, m.ID); err != nil {
			return err
		}
	}

	for _, t := range snap.Transactions {
		owner, err := d.GetStudent(ctx, t.StudentID)
		if err != nil {
			return err
		}
		if owner == nil {
			return fmt.Errorf("import transaction %d: %w", t.ID, storage.ErrNotFound)
		}
		if err := d.put(docKey(tableTransactions, t.ID), t); err != nil {
			return err
		}
		if err := d.txn.Set(relKey(t.StudentID, t.ID), nil); err != nil {
			return err
		}
		if err := d.bumpSeq(tableTransactions, t.ID); err != nil {
			return err
		}
	}
	return nil
}

func (d *docs) export(ctx context.Context) (*domain.Snapshot, error) {
	students, err := d.ListStudents(ctx)
	if err != nil {
		return nil, err
	}
	transactions, err := d.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := d.ListMarketSessions(ctx)
	if err != nil {
		return nil, err
	}

	snap := &domain.Snapshot{
		Students:       make([]domain.StudentRecord, 0, len(students)),
		Transactions:   transactions,
		MarketSessions: sessions,
		Admins:         make([]domain.AdminRecord, 0),
		ExportDate:     time.Now().UTC(),
	}
	for _, s := range students {
		snap.Students = append(snap.Students, domain.NewStudentRecord(s))
	}
	err = d.scan(tableAdmins+"/", func(val []byte) error {
		var rec domain.AdminRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return err
		}
		snap.Admins = append(snap.Admins, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
