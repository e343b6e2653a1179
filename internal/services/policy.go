// Package services – degradation policy.
//
// Every storage operation in this subsystem is classified once as either
// best-effort or safety-critical, and the classification is applied through
// the helpers in this file rather than ad-hoc error handling at each call
// site. Best-effort reads collapse "store unreachable", "query failed", and
// "nothing there" into the entity's neutral value; best-effort writes report
// success whether or not the row landed. Safety-critical operations wrap
// failures into a DomainError with a stable kind and propagate it, because
// silently dropping a delete or a visibility change would corrupt what the
// user believes is durable.
package services

import (
	"context"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/loomchat/go-convo-backend/internal/repo"
)

// bestEffortRead runs fn against the store and returns neutral when the
// store is unavailable or the query fails. Callers cannot distinguish
// "degraded" from "empty"; that is the point.
func bestEffortRead[T any](ctx context.Context, m *repo.Manager, op string, neutral T, fn func(context.Context, *gorm.DB) (T, error)) T {
	db, err := m.Acquire()
	if err != nil {
		log.Debug().Str("op", op).Msg("store unavailable, returning neutral value")
		return neutral
	}
	v, err := fn(ctx, db)
	if err != nil {
		log.Warn().Err(err).Str("op", op).Msg("query failed, returning neutral value")
		return neutral
	}
	return v
}

// bestEffortWrite runs fn and swallows any failure. The caller reports
// success either way; durability here is advisory.
func bestEffortWrite(ctx context.Context, m *repo.Manager, op string, fn func(context.Context, *gorm.DB) error) {
	db, err := m.Acquire()
	if err != nil {
		log.Debug().Str("op", op).Msg("store unavailable, skipping write")
		return
	}
	if err := fn(ctx, db); err != nil {
		log.Warn().Err(err).Str("op", op).Msg("write failed, continuing without persistence")
	}
}

// critical runs fn and wraps any failure into a DomainError carrying kind.
// Acquisition failure and query failure are both loud here.
func critical[T any](ctx context.Context, m *repo.Manager, op, kind string, fn func(context.Context, *gorm.DB) (T, error)) (T, error) {
	var zero T
	db, err := m.Acquire()
	if err != nil {
		return zero, NewDomainError(kind, "failed to "+op, err)
	}
	v, err := fn(ctx, db)
	if err != nil {
		return zero, NewDomainError(kind, "failed to "+op, err)
	}
	return v, nil
}
