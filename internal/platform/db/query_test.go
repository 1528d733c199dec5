package db

import (
	"reflect"
	"testing"
)

func TestQuery_NumbersPlaceholders(t *testing.T) {
	q := NewQuery("patients p", "p.id, p.first_name").
		Add("p.optician_id = ?", "opt-1").
		Add("p.archived_by_optician = ?", false).
		Add("(p.first_name ILIKE ? OR p.last_name ILIKE ?)", "%ann%", "%ann%").
		OrderBy("p.created_at DESC")

	wantCount := "SELECT COUNT(*) FROM patients p WHERE p.optician_id = $1 AND p.archived_by_optician = $2 AND (p.first_name ILIKE $3 OR p.last_name ILIKE $4)"
	if got := q.CountSQL(); got != wantCount {
		t.Errorf("CountSQL:\n got %s\nwant %s", got, wantCount)
	}

	wantData := "SELECT p.id, p.first_name FROM patients p WHERE p.optician_id = $1 AND p.archived_by_optician = $2 AND (p.first_name ILIKE $3 OR p.last_name ILIKE $4) ORDER BY p.created_at DESC LIMIT $5 OFFSET $6"
	if got := q.DataSQL(); got != wantData {
		t.Errorf("DataSQL:\n got %s\nwant %s", got, wantData)
	}

	args := q.DataArgs(20, 40)
	want := []any{"opt-1", false, "%ann%", "%ann%", 20, 40}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("DataArgs: got %v want %v", args, want)
	}
	if len(q.Args()) != 4 {
		t.Errorf("DataArgs must not grow the count args, got %d", len(q.Args()))
	}
}

func TestQuery_NoWhere(t *testing.T) {
	q := NewQuery("reports", "id")
	if got := q.CountSQL(); got != "SELECT COUNT(*) FROM reports" {
		t.Errorf("unexpected %s", got)
	}
	if got := q.DataSQL(); got != "SELECT id FROM reports LIMIT $1 OFFSET $2" {
		t.Errorf("unexpected %s", got)
	}
}

func TestQuery_AddIf(t *testing.T) {
	q := NewQuery("reports", "id").AddIf(false, "optician_id = ?", "x").AddIf(true, "patient_id = ?", "p")
	if got := q.CountSQL(); got != "SELECT COUNT(*) FROM reports WHERE patient_id = $1" {
		t.Errorf("unexpected %s", got)
	}
}

func TestQuery_ApplySort(t *testing.T) {
	cols := map[string]string{"createdAt": "created_at", "lastName": "last_name"}

	tests := []struct {
		param string
		want  string
	}{
		{"", "created_at DESC"},
		{"lastName", "last_name ASC"},
		{"-createdAt,lastName", "created_at DESC, last_name ASC"},
		{"password_hash", "created_at DESC"},
	}
	for _, tt := range tests {
		q := NewQuery("patients", "id").ApplySort(tt.param, "created_at DESC", cols)
		if q.orderBy != tt.want {
			t.Errorf("ApplySort(%q) = %q, want %q", tt.param, q.orderBy, tt.want)
		}
	}
}

func TestContainsPattern(t *testing.T) {
	tests := map[string]string{
		"ann":      "%ann%",
		"%":        `%\%%`,
		"o_brien":  `%o\_brien%`,
		`back\sl`:  `%back\\sl%`,
		"50% off_": `%50\% off\_%`,
	}
	for in, want := range tests {
		if got := ContainsPattern(in); got != want {
			t.Errorf("ContainsPattern(%q) = %q, want %q", in, got, want)
		}
	}
}
