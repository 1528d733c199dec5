// Package memory is an in-process implementation of every repository. One
// mutex guards all tables so multi-table operations are atomic, and list
// queries apply the same access scopes as the SQL repositories.
package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eyecare/eyecare/internal/domain/dataset"
	"github.com/eyecare/eyecare/internal/domain/patient"
	"github.com/eyecare/eyecare/internal/domain/report"
	"github.com/eyecare/eyecare/internal/domain/user"
)

type Store struct {
	mu sync.Mutex

	users    map[uuid.UUID]*user.User
	patients map[uuid.UUID]*patient.Patient
	reports  map[uuid.UUID]*report.Report
	batches  map[uuid.UUID]*dataset.Batch

	// seq records insertion order so equal timestamps still sort stably.
	seq  map[uuid.UUID]int
	next int

	now func() time.Time
}

func New() *Store {
	return &Store{
		users:    map[uuid.UUID]*user.User{},
		patients: map[uuid.UUID]*patient.Patient{},
		reports:  map[uuid.UUID]*report.Report{},
		batches:  map[uuid.UUID]*dataset.Batch{},
		seq:      map[uuid.UUID]int{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Users() user.Repository { return userRepo{s} }
func (s *Store) Patients() patient.Repository { return patientRepo{s} }
func (s *Store) Reports() report.Repository { return reportRepo{s} }
func (s *Store) Links() report.LinkStore { return linkStore{s} }
func (s *Store) Datasets() dataset.Repository { return batchRepo{s} }

func (s *Store) track(id uuid.UUID) {
	s.next++
	s.seq[id] = s.next
}

// page slices items by limit and offset. limit <= 0 returns everything
// after offset.
func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type sortKey[T any] func(a, b T) int

// sortItems orders items by a "-field,field" parameter over the known keys,
// falling back to newest first by insertion order.
func sortItems[T any](s *Store, items []T, id func(T) uuid.UUID, param string, keys map[string]sortKey[T]) {
	type order struct {
		cmp  sortKey[T]
		desc bool
	}
	var orders []order
	for _, field := range strings.Split(param, ",") {
		field = strings.TrimSpace(field)
		desc := strings.HasPrefix(field, "-")
		if cmp, ok := keys[strings.TrimPrefix(field, "-")]; ok {
			orders = append(orders, order{cmp, desc})
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		for _, o := range orders {
			c := o.cmp(items[i], items[j])
			if o.desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		if len(orders) > 0 {
			return s.seq[id(items[i])] < s.seq[id(items[j])]
		}
		return s.seq[id(items[i])] > s.seq[id(items[j])]
	})
}

func contains(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func without(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
