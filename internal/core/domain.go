package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	PerStudent InputMode = "per_student"
	Total      InputMode = "total"
)

// DateLayout is the calendar-day format used for collection dates.
const DateLayout = "2006-01-02"

type (
	// InputMode selects which collection amount the user typed in.
	InputMode string

	// Date is a calendar day. The zero value means "not set".
	Date struct {
		time.Time
	}

	Student struct {
		ID        string `json:"id" yaml:"id"`
		FirstName string `json:"firstName" yaml:"firstName"`
		LastName  string `json:"lastName" yaml:"lastName"`
	}

	// Collection is a money-collection campaign. TotalAmount and
	// PerStudentAmount are stored figures, derived only on create/edit.
	// Payments is an open map: keys need not be participants.
	Collection struct {
		ID               string           `json:"id" yaml:"id"`
		Title            string           `json:"title" yaml:"title"`
		TotalAmount      Money            `json:"totalAmount" yaml:"totalAmount"`
		PerStudentAmount Money            `json:"perStudentAmount" yaml:"perStudentAmount"`
		StartDate        Date             `json:"startDate" yaml:"startDate"`
		EndDate          Date             `json:"endDate" yaml:"endDate"`
		ParticipantIDs   []string         `json:"participantIds" yaml:"participantIds"`
		Payments         map[string]Money `json:"payments" yaml:"payments"`
	}

	// Refund is money owed back to a student, outside any collection.
	Refund struct {
		ID        string    `json:"id" yaml:"id"`
		StudentID string    `json:"studentId" yaml:"studentId"`
		Amount    Money     `json:"amount" yaml:"amount"`
		Reason    string    `json:"reason" yaml:"reason"`
		Date      time.Time `json:"date" yaml:"date"`
	}

	// Document is the whole ledger. It is persisted and transferred as one
	// blob.
	Document struct {
		Students    []Student    `json:"students" yaml:"students"`
		Collections []Collection `json:"collections" yaml:"collections"`
		Refunds     []Refund     `json:"refunds" yaml:"refunds"`
		ThemeKey    string       `json:"themeKey" yaml:"themeKey"`
	}
)

var (
	ErrNotFound = errors.New("not found")

	ErrStudentNotFound    = fmt.Errorf("student %w", ErrNotFound)
	ErrCollectionNotFound = fmt.Errorf("collection %w", ErrNotFound)
	ErrRefundNotFound     = fmt.Errorf("refund %w", ErrNotFound)

	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")

	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidDate          = errors.New("invalid date")
	ErrInvalidMode          = errors.New("invalid input mode")
	ErrEmptyName            = errors.New("empty name")
	ErrEmptyTitle           = errors.New("empty title")
	ErrNoParticipants       = errors.New("no participants")
	ErrDuplicateParticipant = errors.New("duplicate participant")
	ErrUnknownTheme         = errors.New("unknown theme")
)

// ValidationError reports input that was rejected; the operation was not
// applied.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// NewID returns a fresh random identifier for any ledger entity.
func NewID() string {
	return uuid.NewString()
}

func (m InputMode) IsValid() bool {
	switch m {
	case PerStudent, Total:
		return true
	default:
		return false
	}
}

// ParseInputMode accepts "per_student" or "total".
func ParseInputMode(s string) (InputMode, error) {
	m := InputMode(strings.TrimSpace(s))
	if !m.IsValid() {
		return "", invalid("mode", fmt.Errorf("%w: %q", ErrInvalidMode, s))
	}
	return m, nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD. An empty string yields the empty date.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		// full timestamps are accepted and truncated to the day
		t2, err2 := time.Parse(time.RFC3339, s)
		if err2 != nil {
			return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
		}
		t = t2.UTC()
	}
	return NewDate(t.Year(), int(t.Month()), t.Day()), nil
}

// IsEmpty returns true if the date is not set.
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (d Date) String() string {
	if d.IsEmpty() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*d = Date{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("%w: %s", ErrInvalidDate, s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Date) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("%w: expected scalar, line %d", ErrInvalidDate, value.Line)
	}
	if value.Tag == "!!null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// FullName is "<last> <first>", the order used in class registers.
func (s Student) FullName() string {
	return strings.TrimSpace(s.LastName + " " + s.FirstName)
}

func (s Student) validate() error {
	if strings.TrimSpace(s.FirstName) == "" {
		return invalid("firstName", ErrEmptyName)
	}
	if strings.TrimSpace(s.LastName) == "" {
		return invalid("lastName", ErrEmptyName)
	}
	return nil
}

// HasParticipant reports whether studentID is expected to pay.
func (c Collection) HasParticipant(studentID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == studentID {
			return true
		}
	}
	return false
}

// Payment returns the amount recorded for studentID, or zero.
func (c Collection) Payment(studentID string) Money {
	return c.Payments[studentID]
}

// EmptyDocument is what a fresh or unreadable ledger starts from.
func EmptyDocument() Document {
	return Document{
		Students:    []Student{},
		Collections: []Collection{},
		Refunds:     []Refund{},
		ThemeKey:    DefaultTheme,
	}
}

// Normalize replaces nil slices and maps so the document serialises with
// empty arrays rather than nulls.
func (d *Document) Normalize() {
	if d.Students == nil {
		d.Students = []Student{}
	}
	if d.Collections == nil {
		d.Collections = []Collection{}
	}
	if d.Refunds == nil {
		d.Refunds = []Refund{}
	}
	for i := range d.Collections {
		if d.Collections[i].ParticipantIDs == nil {
			d.Collections[i].ParticipantIDs = []string{}
		}
		if d.Collections[i].Payments == nil {
			d.Collections[i].Payments = map[string]Money{}
		}
	}
	if d.ThemeKey == "" {
		d.ThemeKey = DefaultTheme
	}
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := Document{
		Students:    append([]Student{}, d.Students...),
		Collections: make([]Collection, len(d.Collections)),
		Refunds:     append([]Refund{}, d.Refunds...),
		ThemeKey:    d.ThemeKey,
	}
	for i, c := range d.Collections {
		c.ParticipantIDs = append([]string{}, c.ParticipantIDs...)
		payments := make(map[string]Money, len(c.Payments))
		for k, v := range c.Payments {
			payments[k] = v
		}
		c.Payments = payments
		out.Collections[i] = c
	}
	return out
}

// FindStudent is an optional lookup: ids held by collections and refunds
// may outlive the student they name.
func (d Document) FindStudent(id string) (Student, bool) {
	for _, s := range d.Students {
		if s.ID == id {
			return s, true
		}
	}
	return Student{}, false
}

// FindCollection returns the collection with the given id.
func (d Document) FindCollection(id string) (Collection, bool) {
	i := d.collectionIndex(id)
	if i < 0 {
		return Collection{}, false
	}
	return d.Collections[i], true
}

// StudentIDs lists every student id in register order.
func (d Document) StudentIDs() []string {
	ids := make([]string, len(d.Students))
	for i, s := range d.Students {
		ids[i] = s.ID
	}
	return ids
}

func (d Document) studentIndex(id string) int {
	for i, s := range d.Students {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (d Document) collectionIndex(id string) int {
	for i, c := range d.Collections {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// AddStudent appends a new student and returns it.
func (d *Document) AddStudent(id, firstName, lastName string) (Student, error) {
	s := Student{ID: id, FirstName: strings.TrimSpace(firstName), LastName: strings.TrimSpace(lastName)}
	if err := s.validate(); err != nil {
		return Student{}, err
	}
	d.Students = append(d.Students, s)
	return s, nil
}

// EditStudent renames a student in place.
func (d *Document) EditStudent(id, firstName, lastName string) (Student, error) {
	i := d.studentIndex(id)
	if i < 0 {
		return Student{}, fmt.Errorf("%w: %s", ErrStudentNotFound, id)
	}
	s := Student{ID: id, FirstName: strings.TrimSpace(firstName), LastName: strings.TrimSpace(lastName)}
	if err := s.validate(); err != nil {
		return Student{}, err
	}
	d.Students[i] = s
	return s, nil
}

// DeleteStudent removes the student only. Collection participant lists,
// payment keys and refunds that reference the id are left dangling.
func (d *Document) DeleteStudent(id string) error {
	i := d.studentIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrStudentNotFound, id)
	}
	d.Students = append(d.Students[:i], d.Students[i+1:]...)
	return nil
}
