package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyecare/eyecare/internal/platform/cache"
)

func TestCachedSubjectLookup(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()
	changed := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	next := &fakeSubjects{subjects: map[uuid.UUID]*Subject{
		id: {ID: id, Role: "doctor", Active: true, PasswordChangedAt: &changed},
	}}
	l := NewCachedSubjectLookup(next, cache.NewMemoryKV(), time.Minute, zerolog.Nop())

	for i := 0; i < 3; i++ {
		s, err := l.LookupSubject(ctx, id)
		if err != nil {
			t.Fatalf("LookupSubject: %v", err)
		}
		if s.Role != "doctor" || !s.PasswordChangedAt.Equal(changed) {
			t.Fatalf("unexpected subject %+v", s)
		}
	}
	if next.calls != 1 {
		t.Errorf("expected one backing lookup, got %d", next.calls)
	}

	next.subjects[id].Role = "admin"
	if err := l.Invalidate(ctx, id); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	s, _ := l.LookupSubject(ctx, id)
	if s.Role != "admin" || next.calls != 2 {
		t.Errorf("expected refreshed subject after invalidate, got %+v (calls=%d)", s, next.calls)
	}
}

func TestCachedSubjectLookup_NotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	next := &fakeSubjects{subjects: map[uuid.UUID]*Subject{}}
	l := NewCachedSubjectLookup(next, cache.NewMemoryKV(), time.Minute, zerolog.Nop())

	id := uuid.New()
	if _, err := l.LookupSubject(ctx, id); err != ErrSubjectNotFound {
		t.Fatalf("expected ErrSubjectNotFound, got %v", err)
	}
	next.subjects[id] = &Subject{ID: id, Role: "optician", Active: true}
	if _, err := l.LookupSubject(ctx, id); err != nil {
		t.Errorf("expected lookup to succeed once user exists: %v", err)
	}
}
