package report

import (
	"context"

	"github.com/rs/zerolog"
)

// Findings lists broken patient to report references.
type Findings struct {
	Missing  []Link `json:"missing"`
	Dangling []Link `json:"dangling"`
}

func (f *Findings) Clean() bool {
	return len(f.Missing) == 0 && len(f.Dangling) == 0
}

// Reconciler finds reports absent from their patient's report_ids and ids
// that point at nothing, and optionally repairs both.
type Reconciler struct {
	links  LinkStore
	logger zerolog.Logger
}

func NewReconciler(links LinkStore, logger zerolog.Logger) *Reconciler {
	return &Reconciler{links: links, logger: logger}
}

func (r *Reconciler) Check(ctx context.Context) (*Findings, error) {
	missing, err := r.links.MissingLinks(ctx)
	if err != nil {
		return nil, err
	}
	dangling, err := r.links.DanglingLinks(ctx)
	if err != nil {
		return nil, err
	}
	return &Findings{Missing: missing, Dangling: dangling}, nil
}

// Repair appends missing ids and removes dangling ones. It returns what it
// found before repairing.
func (r *Reconciler) Repair(ctx context.Context) (*Findings, error) {
	f, err := r.Check(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range f.Missing {
		if err := r.links.AppendLink(ctx, l); err != nil {
			return f, err
		}
		r.logger.Info().Str("patient_id", l.PatientID.String()).Str("report_id", l.ReportID.String()).Msg("linked report")
	}
	for _, l := range f.Dangling {
		if err := r.links.RemoveLink(ctx, l); err != nil {
			return f, err
		}
		r.logger.Info().Str("patient_id", l.PatientID.String()).Str("report_id", l.ReportID.String()).Msg("removed dangling report id")
	}
	return f, nil
}
