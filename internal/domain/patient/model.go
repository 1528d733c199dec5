package patient

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/platform/apperr"
)

// Patient maps to the patients table plus its patient_doctors rows.
type Patient struct {
	ID                 uuid.UUID    `db:"id" json:"id"`
	OpticianID         uuid.UUID    `db:"optician_id" json:"optician_id"`
	FirstName          string       `db:"first_name" json:"first_name"`
	LastName           string       `db:"last_name" json:"last_name"`
	DateOfBirth        *Date        `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender             string       `db:"gender" json:"gender"`
	Ethnicity          string       `db:"ethnicity" json:"ethnicity,omitempty"`
	ArchivedByOptician bool         `db:"archived_by_optician" json:"archived_by_optician"`
	Assignments        []Assignment `json:"assignments"`
	ReportIDs          []uuid.UUID  `db:"report_ids" json:"report_ids"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`
}

// Assignment records that a patient was sent to a doctor. Archived is the
// doctor's own archive flag.
type Assignment struct {
	DoctorID   uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Archived   bool      `db:"archived" json:"archived"`
	AssignedAt time.Time `db:"assigned_at" json:"assigned_at"`
}

// Resource reduces the patient to what the access policy reads.
func (p *Patient) Resource() *access.Resource {
	res := &access.Resource{OwnerID: p.OpticianID, Assignments: make(map[uuid.UUID]bool, len(p.Assignments))}
	for _, a := range p.Assignments {
		res.Assignments[a.DoctorID] = a.Archived
	}
	return res
}

func (p *Patient) Assignment(doctorID uuid.UUID) (Assignment, bool) {
	for _, a := range p.Assignments {
		if a.DoctorID == doctorID {
			return a, true
		}
	}
	return Assignment{}, false
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Date is a calendar date. It accepts YYYY-MM-DD, MM/DD/YYYY and RFC 3339
// and always renders as YYYY-MM-DD.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

var dateLayouts = []string{dateLayout, "01/02/2006", time.RFC3339}

func NewDate(t time.Time) *Date {
	d := Date{time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
	return &d
}

func ParseDate(s string) (*Date, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDate(t), nil
		}
	}
	return nil, apperr.New(apperr.ValidationFailed, "invalid date %q, expected YYYY-MM-DD or MM/DD/YYYY", s)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// timePtr converts an optional Date for storage.
func (d *Date) timePtr() *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

var validGenders = map[string]bool{"Male": true, "Female": true, "Other": true}

// Input is the body of createPatient.
type Input struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth *Date  `json:"date_of_birth"`
	Gender      string `json:"gender"`
	Ethnicity   string `json:"ethnicity"`
}

func (in Input) Validate() error {
	if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		return apperr.New(apperr.ValidationFailed, "first_name and last_name are required")
	}
	if !validGenders[in.Gender] {
		return apperr.New(apperr.ValidationFailed, "gender must be Male, Female or Other")
	}
	if in.DateOfBirth != nil && in.DateOfBirth.After(time.Now()) {
		return apperr.New(apperr.ValidationFailed, "date_of_birth cannot be in the future")
	}
	return nil
}

// Patch is the body of updatePatient. Nil fields are left unchanged.
type Patch struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	DateOfBirth *Date   `json:"date_of_birth"`
	Gender      *string `json:"gender"`
	Ethnicity   *string `json:"ethnicity"`
}

func (p Patch) Validate() error {
	if p.FirstName != nil && strings.TrimSpace(*p.FirstName) == "" {
		return apperr.New(apperr.ValidationFailed, "first_name cannot be empty")
	}
	if p.LastName != nil && strings.TrimSpace(*p.LastName) == "" {
		return apperr.New(apperr.ValidationFailed, "last_name cannot be empty")
	}
	if p.Gender != nil && !validGenders[*p.Gender] {
		return apperr.New(apperr.ValidationFailed, "gender must be Male, Female or Other")
	}
	return nil
}

func (p Patch) apply(pt *Patient) {
	if p.FirstName != nil {
		pt.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		pt.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.DateOfBirth != nil {
		pt.DateOfBirth = p.DateOfBirth
	}
	if p.Gender != nil {
		pt.Gender = *p.Gender
	}
	if p.Ethnicity != nil {
		pt.Ethnicity = strings.TrimSpace(*p.Ethnicity)
	}
}

// ReportStat counts one doctor's feedback over a patient's reports.
type ReportStat struct {
	PatientID       uuid.UUID `json:"patient_id"`
	Name            string    `json:"name"`
	WithFeedback    int       `json:"with_feedback"`
	WithoutFeedback int       `json:"without_feedback"`
}

type ListParams struct {
	Keyword string
	Sort    string
}
