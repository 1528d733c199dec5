package report

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/domain/access"
	"github.com/eyecare/eyecare/internal/domain/patient"
	"github.com/eyecare/eyecare/internal/domain/prediction"
	"github.com/eyecare/eyecare/internal/platform/apperr"
)

type Report struct {
	ID           uuid.UUID          `json:"id"`
	PatientID    uuid.UUID          `json:"patient_id"`
	OpticianID   uuid.UUID          `json:"optician_id"`
	History      History            `json:"history"`
	RightEye     *EyeExam           `json:"right_eye"`
	LeftEye      *EyeExam           `json:"left_eye"`
	ModelResults prediction.Results `json:"model_results"`
	Feedback     []Feedback         `json:"doctor_feedback"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Resource combines the report's author with its patient's assignments.
func (r *Report) Resource(p *patient.Patient) *access.Resource {
	res := p.Resource()
	res.OwnerID = r.OpticianID
	return res
}

// Images returns every stored image reference on the report.
func (r *Report) Images() []string {
	var refs []string
	for _, e := range []*EyeExam{r.RightEye, r.LeftEye} {
		if e != nil {
			refs = append(refs, e.Images...)
		}
	}
	return refs
}

func (r *Report) FeedbackFrom(doctorID uuid.UUID) (*Feedback, bool) {
	for i := range r.Feedback {
		if r.Feedback[i].DoctorID == doctorID {
			return &r.Feedback[i], true
		}
	}
	return nil, false
}

const (
	AppliesToSelf   = "Self"
	AppliesToFamily = "In Family"
)

type Condition struct {
	Name         string  `json:"name"`
	HasCondition bool    `json:"has_condition"`
	AppliesTo    *string `json:"applies_to"`
}

type History struct {
	Medical []Condition `json:"medical"`
	Eye     []Condition `json:"eye"`
}

func (h History) Validate() error {
	for _, list := range [][]Condition{h.Medical, h.Eye} {
		for _, c := range list {
			if strings.TrimSpace(c.Name) == "" {
				return apperr.New(apperr.ValidationFailed, "every history entry needs a name")
			}
			if c.AppliesTo != nil && *c.AppliesTo != AppliesToSelf && *c.AppliesTo != AppliesToFamily {
				return apperr.New(apperr.ValidationFailed, "applies_to must be %q, %q or null", AppliesToSelf, AppliesToFamily)
			}
		}
	}
	return nil
}

func (h History) normalized() History {
	out := History{Medical: make([]Condition, 0, len(h.Medical)), Eye: make([]Condition, 0, len(h.Eye))}
	for _, c := range h.Medical {
		c.Name = strings.TrimSpace(c.Name)
		out.Medical = append(out.Medical, c)
	}
	for _, c := range h.Eye {
		c.Name = strings.TrimSpace(c.Name)
		out.Eye = append(out.Eye, c)
	}
	return out
}

// EyeExam is the examination of one eye. Images are blob references set by
// the server; client-supplied values are ignored.
type EyeExam struct {
	VisusCC             string        `json:"visus_cc"`
	PreviousValue       string        `json:"previous_value,omitempty"`
	Since               *patient.Date `json:"since,omitempty"`
	Sphere              string        `json:"sphere,omitempty"`
	Cylinder            string        `json:"cylinder,omitempty"`
	Axis                string        `json:"axis,omitempty"`
	IntraocularPressure string        `json:"intraocular_pressure,omitempty"`
	CornealThickness    string        `json:"corneal_thickness,omitempty"`
	ChamberAngle        string        `json:"chamber_angle,omitempty"`
	AmslerTestAbnormal  *bool         `json:"amsler_test_abnormal,omitempty"`
	Images              []string      `json:"images"`
}

func (e *EyeExam) validate(side string) error {
	if strings.TrimSpace(e.VisusCC) == "" {
		return apperr.New(apperr.ValidationFailed, "%s.visus_cc is required", side)
	}
	return nil
}

const (
	PredictionCorrect   = "correct"
	PredictionIncorrect = "incorrect"
	PredictionUncertain = "uncertain"
)

type EyeFeedback struct {
	AIPredictionCorrect string `json:"ai_prediction_correct"`
	Comment             string `json:"comment,omitempty"`
}

func (f *EyeFeedback) validate(side string) error {
	switch f.AIPredictionCorrect {
	case PredictionCorrect, PredictionIncorrect, PredictionUncertain:
		return nil
	}
	return apperr.New(apperr.ValidationFailed, "%s.ai_prediction_correct must be correct, incorrect or uncertain", side)
}

// Feedback is one doctor's review of a report. There is at most one per
// doctor; resubmitting replaces it.
type Feedback struct {
	DoctorID          uuid.UUID    `json:"doctor_id"`
	RightEye          *EyeFeedback `json:"right_eye_feedback,omitempty"`
	LeftEye           *EyeFeedback `json:"left_eye_feedback,omitempty"`
	Diagnosis         string       `json:"diagnosis"`
	RecommendedAction string       `json:"recommended_action"`
	ReadByOptician    bool         `json:"read_by_optician"`
	CreatedAt         time.Time    `json:"created_at"`
}

type FeedbackInput struct {
	RightEye          *EyeFeedback `json:"right_eye_feedback"`
	LeftEye           *EyeFeedback `json:"left_eye_feedback"`
	Diagnosis         string       `json:"diagnosis"`
	RecommendedAction string       `json:"recommended_action"`
}

func (in FeedbackInput) Validate() error {
	if in.RightEye == nil && in.LeftEye == nil && strings.TrimSpace(in.Diagnosis) == "" {
		return apperr.New(apperr.ValidationFailed, "feedback needs a diagnosis or an eye assessment")
	}
	if in.RightEye != nil {
		if err := in.RightEye.validate("right_eye_feedback"); err != nil {
			return err
		}
	}
	if in.LeftEye != nil {
		if err := in.LeftEye.validate("left_eye_feedback"); err != nil {
			return err
		}
	}
	return nil
}

// Input is the body of createReport. At least one eye must be examined.
type Input struct {
	History  History  `json:"history"`
	RightEye *EyeExam `json:"right_eye"`
	LeftEye  *EyeExam `json:"left_eye"`
}

func (in Input) Validate() error {
	if in.RightEye == nil && in.LeftEye == nil {
		return apperr.New(apperr.ValidationFailed, "at least one eye examination is required")
	}
	if in.RightEye != nil {
		if err := in.RightEye.validate("right_eye"); err != nil {
			return err
		}
	}
	if in.LeftEye != nil {
		if err := in.LeftEye.validate("left_eye"); err != nil {
			return err
		}
	}
	return in.History.Validate()
}

// Patch replaces the parts it carries. Stored images are kept.
type Patch struct {
	History  *History `json:"history"`
	RightEye *EyeExam `json:"right_eye"`
	LeftEye  *EyeExam `json:"left_eye"`
}

func (p Patch) Validate() error {
	if p.History != nil {
		if err := p.History.Validate(); err != nil {
			return err
		}
	}
	if p.RightEye != nil {
		if err := p.RightEye.validate("right_eye"); err != nil {
			return err
		}
	}
	if p.LeftEye != nil {
		if err := p.LeftEye.validate("left_eye"); err != nil {
			return err
		}
	}
	return nil
}

func (p Patch) apply(r *Report) {
	if p.History != nil {
		r.History = p.History.normalized()
	}
	r.RightEye = replaceExam(r.RightEye, p.RightEye)
	r.LeftEye = replaceExam(r.LeftEye, p.LeftEye)
}

func replaceExam(cur, next *EyeExam) *EyeExam {
	if next == nil {
		return cur
	}
	e := *next
	e.Images = []string{}
	if cur != nil {
		e.Images = cur.Images
	}
	return &e
}

type ListParams struct {
	PatientID uuid.UUID
	Sort      string
}

// Link pairs a patient with one of its reports.
type Link struct {
	PatientID uuid.UUID `json:"patient_id"`
	ReportID  uuid.UUID `json:"report_id"`
}
