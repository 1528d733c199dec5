package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eyecare/eyecare/internal/platform/cache"
)

// Subject is the slice of a user record needed to accept or reject a token.
type Subject struct {
	ID                uuid.UUID  `json:"id"`
	Role              string     `json:"role"`
	Active            bool       `json:"active"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`
}

var ErrSubjectNotFound = errors.New("subject not found")

// SubjectLookup resolves a token subject. Implementations return
// ErrSubjectNotFound when the user no longer exists.
type SubjectLookup interface {
	LookupSubject(ctx context.Context, id uuid.UUID) (*Subject, error)
}

// CachedSubjectLookup fronts a SubjectLookup with a KV cache. Entries must be
// invalidated whenever a user's password, role or active flag changes.
type CachedSubjectLookup struct {
	next   SubjectLookup
	kv     cache.KV
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedSubjectLookup(next SubjectLookup, kv cache.KV, ttl time.Duration, logger zerolog.Logger) *CachedSubjectLookup {
	return &CachedSubjectLookup{next: next, kv: kv, ttl: ttl, logger: logger}
}

func subjectKey(id uuid.UUID) string {
	return "auth:subject:" + id.String()
}

func (l *CachedSubjectLookup) LookupSubject(ctx context.Context, id uuid.UUID) (*Subject, error) {
	raw, err := l.kv.Get(ctx, subjectKey(id))
	if err == nil {
		var s Subject
		if jerr := json.Unmarshal([]byte(raw), &s); jerr == nil {
			return &s, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		l.logger.Warn().Err(err).Str("user_id", id.String()).Msg("subject cache read failed")
	}

	s, err := l.next.LookupSubject(ctx, id)
	if err != nil {
		return nil, err
	}
	if b, jerr := json.Marshal(s); jerr == nil {
		if serr := l.kv.Set(ctx, subjectKey(id), string(b), l.ttl); serr != nil {
			l.logger.Warn().Err(serr).Str("user_id", id.String()).Msg("subject cache write failed")
		}
	}
	return s, nil
}

// Invalidate drops the cached entry for id.
func (l *CachedSubjectLookup) Invalidate(ctx context.Context, id uuid.UUID) error {
	return l.kv.Del(ctx, subjectKey(id))
}
