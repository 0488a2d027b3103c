// Package directory maps user ids to display names. Resolution never fails:
// unknown users and lookup errors render as "#<id>".
package directory

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// LookupFunc fetches a display name from the source of truth (the users
// table on the server, the users endpoint in the CLI).
type LookupFunc func(ctx context.Context, userID int64) (string, error)

// Cache stores resolved names. A miss is ("", false, nil).
type Cache interface {
	Get(ctx context.Context, userID int64) (string, bool, error)
	Set(ctx context.Context, userID int64, name string, ttl time.Duration) error
}

type Directory struct {
	lookup LookupFunc
	cache  Cache
	ttl    time.Duration
}

// New returns a Directory. cache may be nil.
func New(lookup LookupFunc, cache Cache, ttl time.Duration) *Directory {
	return &Directory{lookup: lookup, cache: cache, ttl: ttl}
}

func Fallback(userID int64) string {
	return "#" + strconv.FormatInt(userID, 10)
}

func (d *Directory) ResolveName(ctx context.Context, userID int64) string {
	if d == nil || d.lookup == nil {
		return Fallback(userID)
	}
	if d.cache != nil {
		name, ok, err := d.cache.Get(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("directory cache read failed")
		} else if ok {
			return name
		}
	}

	name, err := d.lookup(ctx, userID)
	if err != nil {
		log.Debug().Err(err).Int64("user_id", userID).Msg("directory lookup failed")
		return Fallback(userID)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Fallback(userID)
	}

	if d.cache != nil {
		if err := d.cache.Set(ctx, userID, name, d.ttl); err != nil {
			log.Warn().Err(err).Int64("user_id", userID).Msg("directory cache write failed")
		}
	}
	return name
}

// ResolveNames resolves each distinct id once.
func (d *Directory) ResolveNames(ctx context.Context, userIDs []int64) map[int64]string {
	names := make(map[int64]string, len(userIDs))
	for _, id := range userIDs {
		if _, ok := names[id]; ok {
			continue
		}
		names[id] = d.ResolveName(ctx, id)
	}
	return names
}
