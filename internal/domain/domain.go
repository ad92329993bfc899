// Package domain holds the records shared by every storage backend and service.
package domain

import (
	"time"

	"github.com/uptrace/bun"
)

type Student struct {
	bun.BaseModel `bun:"table:students,alias:s"`

	ID          int64  `bun:"id,pk,autoincrement" json:"id"`
	FullName    string `bun:"full_name,notnull" json:"fullName"`
	StudentID   string `bun:"student_id,unique,notnull" json:"studentId"`
	Email       string `bun:"email,unique,notnull" json:"email"`
	Major       string `bun:"major,notnull" json:"major"`
	Phone       string `bun:"phone,notnull" json:"phone"`
	Password    string `bun:"password,notnull" json:"-"` // Never expose password in JSON
	TotalPoints int    `bun:"total_points,notnull,default:0" json:"totalPoints"`
}

// StudentPatch carries a partial update; nil fields are left untouched.
type StudentPatch struct {
	FullName    *string
	StudentID   *string
	Email       *string
	Major       *string
	Phone       *string
	Password    *string
	TotalPoints *int
}

func (p StudentPatch) Apply(s *Student) {
	if p.FullName != nil {
		s.FullName = *p.FullName
	}
	if p.StudentID != nil {
		s.StudentID = *p.StudentID
	}
	if p.Email != nil {
		s.Email = *p.Email
	}
	if p.Major != nil {
		s.Major = *p.Major
	}
	if p.Phone != nil {
		s.Phone = *p.Phone
	}
	if p.Password != nil {
		s.Password = *p.Password
	}
	if p.TotalPoints != nil {
		s.TotalPoints = *p.TotalPoints
	}
}

type Admin struct {
	bun.BaseModel `bun:"table:admins,alias:a"`

	ID       int64  `bun:"id,pk,autoincrement" json:"id"`
	Username string `bun:"username,unique,notnull" json:"username"`
	Password string `bun:"password,notnull" json:"-"`
}

// Transaction is one waste exchange. Weight is kept as a fixed two-digit
// decimal string, e.g. "2.50".
type Transaction struct {
	bun.BaseModel `bun:"table:transactions,alias:t"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	StudentID int64     `bun:"student_id,notnull" json:"studentId"`
	WasteType string    `bun:"waste_type,notnull" json:"wasteType"`
	Weight    string    `bun:"weight,notnull" json:"weight"`
	Points    int       `bun:"points,notnull" json:"points"`
	Gift      *string   `bun:"gift" json:"gift"`
	Date      time.Time `bun:"date,notnull" json:"date"`
}

type MarketSession struct {
	bun.BaseModel `bun:"table:market_sessions,alias:ms"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	Title      string    `bun:"title,notnull" json:"title"`
	Date       time.Time `bun:"date,notnull" json:"date"`
	Location   string    `bun:"location,notnull" json:"location"`
	TimeSlot   string    `bun:"time_slot,notnull" json:"timeSlot"`
	WasteTypes string    `bun:"waste_types,notnull" json:"wasteTypes"`
	Gifts      string    `bun:"gifts,notnull" json:"gifts"`
}

type MarketSessionPatch struct {
	Title      *string
	Date       *time.Time
	Location   *string
	TimeSlot   *string
	WasteTypes *string
	Gifts      *string
}

func (p MarketSessionPatch) Apply(m *MarketSession) {
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Date != nil {
		m.Date = *p.Date
	}
	if p.Location != nil {
		m.Location = *p.Location
	}
	if p.TimeSlot != nil {
		m.TimeSlot = *p.TimeSlot
	}
	if p.WasteTypes != nil {
		m.WasteTypes = *p.WasteTypes
	}
	if p.Gifts != nil {
		m.Gifts = *p.Gifts
	}
}

// Identity is what a session token resolves to.
type Identity struct {
	StudentID int64 `json:"studentId,omitempty"`
	IsAdmin   bool  `json:"isAdmin,omitempty"`
}

// Snapshot is the full export of the primary store.
type Snapshot struct {
	Students       []StudentRecord `json:"students"`
	Transactions   []Transaction   `json:"transactions"`
	MarketSessions []MarketSession `json:"marketSessions"`
	Admins         []AdminRecord   `json:"admins"`
	ExportDate     time.Time       `json:"exportDate"`
}

// StudentRecord and AdminRecord keep the password hash in exports, which the
// client-facing types hide.
type StudentRecord struct {
	ID          int64  `json:"id"`
	FullName    string `json:"fullName"`
	StudentID   string `json:"studentId"`
	Email       string `json:"email"`
	Major       string `json:"major"`
	Phone       string `json:"phone"`
	Password    string `json:"password"`
	TotalPoints int    `json:"totalPoints"`
}

func NewStudentRecord(s Student) StudentRecord {
	return StudentRecord{
		ID:          s.ID,
		FullName:    s.FullName,
		StudentID:   s.StudentID,
		Email:       s.Email,
		Major:       s.Major,
		Phone:       s.Phone,
		Password:    s.Password,
		TotalPoints: s.TotalPoints,
	}
}

func (r StudentRecord) Student() Student {
	return Student{
		ID:          r.ID,
		FullName:    r.FullName,
		StudentID:   r.StudentID,
		Email:       r.Email,
		Major:       r.Major,
		Phone:       r.Phone,
		Password:    r.Password,
		TotalPoints: r.TotalPoints,
	}
}

type AdminRecord struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func NewAdminRecord(a Admin) AdminRecord {
	return AdminRecord{ID: a.ID, Username: a.Username, Password: a.Password}
}

func (r AdminRecord) Admin() Admin {
	return Admin{ID: r.ID, Username: r.Username, Password: r.Password}
}
