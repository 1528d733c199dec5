package access

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/platform/apperr"
)

type Operation string

const (
	PatientCreate  Operation = "patient.create"
	PatientList    Operation = "patient.list"
	PatientRead    Operation = "patient.read"
	PatientUpdate  Operation = "patient.update"
	PatientDelete  Operation = "patient.delete"
	PatientArchive Operation = "patient.archive"
	PatientSend    Operation = "patient.send"
	ReportStats    Operation = "patient.report_stats"

	ReportCreate  Operation = "report.create"
	ReportList    Operation = "report.list"
	ReportRead    Operation = "report.read"
	ReportUpdate  Operation = "report.update"
	ReportDelete  Operation = "report.delete"
	FeedbackWrite Operation = "report.feedback.write"
	FeedbackRead  Operation = "report.feedback.read"
)

// roles lists who may ever perform an operation, before any record is
// considered.
var roles = map[Operation][]Role{
	PatientCreate:  {Optician},
	PatientList:    {Optician, Doctor, Admin},
	PatientRead:    {Optician, Doctor, Admin},
	PatientUpdate:  {Optician},
	PatientDelete:  {Admin},
	PatientArchive: {Optician, Doctor},
	PatientSend:    {Optician},
	ReportStats:    {Doctor},
	ReportCreate:   {Optician},
	ReportList:     {Optician, Doctor, Admin},
	ReportRead:     {Optician, Doctor, Admin},
	ReportUpdate:   {Optician},
	ReportDelete:   {Optician, Admin},
	FeedbackWrite:  {Doctor},
	FeedbackRead:   {Optician},
}

// Resource is a patient or report reduced to the fields the policy reads.
// For a report, OwnerID is the authoring optician and Assignments are those
// of the report's patient.
type Resource struct {
	OwnerID     uuid.UUID
	Assignments map[uuid.UUID]bool // doctor id -> archived
}

func (r Resource) assigned(doctor uuid.UUID) bool {
	_, ok := r.Assignments[doctor]
	return ok
}

func (r Resource) activelyAssigned(doctor uuid.UUID) bool {
	archived, ok := r.Assignments[doctor]
	return ok && !archived
}

type Decision struct {
	Allowed bool
	Kind    apperr.Kind
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func forbid(reason string) Decision {
	return Decision{Kind: apperr.Forbidden, Reason: reason}
}

func hide(reason string) Decision {
	return Decision{Kind: apperr.NotFound, Reason: reason}
}

// Err returns nil for an allowed decision and the matching apperr otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperr.New(d.Kind, "%s", d.Reason)
}

// Permits reports whether role may ever perform op.
func Permits(role Role, op Operation) bool {
	for _, r := range roles[op] {
		if r == role {
			return true
		}
	}
	return false
}

// Check is the record-independent half of Decide. It runs before any load.
func Check(actor Actor, op Operation) error {
	if reason := roleDenial(actor, op); reason != "" {
		return apperr.New(apperr.Forbidden, "%s", reason)
	}
	return nil
}

func roleDenial(actor Actor, op Operation) string {
	if !actor.Role.Valid() {
		return fmt.Sprintf("unknown role %q", actor.Role)
	}
	if !Permits(actor.Role, op) {
		return fmt.Sprintf("role %s may not perform %s", actor.Role, op)
	}
	return ""
}

// Decide applies the role table and then the relationship between actor and
// res. Records the actor cannot see are reported as NotFound so their
// existence is not revealed; visible records with an insufficient
// relationship are Forbidden. Feedback is the exception: an unassigned
// doctor is told Forbidden.
func Decide(actor Actor, op Operation, res *Resource) Decision {
	if reason := roleDenial(actor, op); reason != "" {
		return forbid(reason)
	}
	if op == PatientCreate || op == PatientList || op == ReportList || op == ReportStats {
		return allow()
	}
	if res == nil {
		return hide(notFoundReason(op))
	}

	switch actor.Role {
	case Admin:
		return allow()

	case Optician:
		if res.OwnerID != actor.ID {
			return hide(notFoundReason(op))
		}
		return allow()

	case Doctor:
		switch op {
		case FeedbackWrite:
			if !res.assigned(actor.ID) {
				return forbid("this patient has not been sent to you")
			}
			return allow()
		case ReportRead:
			if !res.activelyAssigned(actor.ID) {
				return hide(notFoundReason(op))
			}
			return allow()
		default:
			if !res.assigned(actor.ID) {
				return hide(notFoundReason(op))
			}
			return allow()
		}
	}
	return forbid("operation not permitted")
}

func notFoundReason(op Operation) string {
	switch op {
	case ReportCreate, PatientRead, PatientUpdate, PatientDelete, PatientArchive, PatientSend:
		return "no patient found with that id"
	}
	return "no report found with that id"
}

// visibleAs maps an operation to the read that decides whether the actor
// can see the record at all.
var visibleAs = map[Operation]Operation{
	PatientUpdate:  PatientRead,
	PatientDelete:  PatientRead,
	PatientArchive: PatientRead,
	PatientSend:    PatientRead,
	ReportCreate:   PatientRead,
	ReportUpdate:   ReportRead,
	ReportDelete:   ReportRead,
	FeedbackRead:   ReportRead,
}

// Authorize is Decide for services acting on a loaded record. An actor who
// cannot read the record gets NotFound even when their role could never
// perform op, so a denial never confirms the record exists.
func Authorize(actor Actor, op Operation, res *Resource) error {
	if read, ok := visibleAs[op]; ok {
		if d := Decide(actor, read, res); !d.Allowed && d.Kind == apperr.NotFound {
			return d.Err()
		}
	}
	return Decide(actor, op, res).Err()
}
