package access

import (
	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/platform/apperr"
)

// Scope constrains a list query to what an actor may see. Exactly one of
// All, OpticianID or DoctorID is set. Archived, when non-nil, selects on the
// archive flag that belongs to the actor: the optician's flag for admins
// and opticians, the assignment's flag for doctors.
type Scope struct {
	All        bool
	OpticianID uuid.UUID
	DoctorID   uuid.UUID
	Archived   *bool
}

// PatientScope builds the scope for listing patients. archived nil means
// both archived and active records.
func PatientScope(actor Actor, archived *bool) (Scope, error) {
	if err := Check(actor, PatientList); err != nil {
		return Scope{}, err
	}
	switch actor.Role {
	case Admin:
		return Scope{All: true, Archived: archived}, nil
	case Optician:
		return Scope{OpticianID: actor.ID, Archived: archived}, nil
	case Doctor:
		return Scope{DoctorID: actor.ID, Archived: archived}, nil
	}
	return Scope{}, apperr.New(apperr.Forbidden, "unknown role %q", actor.Role)
}

// ReportScope builds the scope for listing reports. Doctors see reports of
// patients they hold an unarchived assignment for.
func ReportScope(actor Actor) (Scope, error) {
	if err := Check(actor, ReportList); err != nil {
		return Scope{}, err
	}
	switch actor.Role {
	case Admin:
		return Scope{All: true}, nil
	case Optician:
		return Scope{OpticianID: actor.ID}, nil
	case Doctor:
		active := false
		return Scope{DoctorID: actor.ID, Archived: &active}, nil
	}
	return Scope{}, apperr.New(apperr.Forbidden, "unknown role %q", actor.Role)
}

// MatchPatient evaluates the scope against one patient in memory.
func (s Scope) MatchPatient(opticianID uuid.UUID, archivedByOptician bool, assignments map[uuid.UUID]bool) bool {
	switch {
	case s.All:
		return s.Archived == nil || *s.Archived == archivedByOptician
	case s.OpticianID != uuid.Nil:
		return opticianID == s.OpticianID && (s.Archived == nil || *s.Archived == archivedByOptician)
	case s.DoctorID != uuid.Nil:
		archived, ok := assignments[s.DoctorID]
		return ok && (s.Archived == nil || *s.Archived == archived)
	}
	return false
}

// MatchReport evaluates a report scope given the report's optician and its
// patient's assignments.
func (s Scope) MatchReport(opticianID uuid.UUID, assignments map[uuid.UUID]bool) bool {
	switch {
	case s.All:
		return true
	case s.OpticianID != uuid.Nil:
		return opticianID == s.OpticianID
	case s.DoctorID != uuid.Nil:
		archived, ok := assignments[s.DoctorID]
		return ok && (s.Archived == nil || *s.Archived == archived)
	}
	return false
}

func Bool(b bool) *bool { return &b }
