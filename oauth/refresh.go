// Package oauth keeps the bot's Twitch user token alive: a background
// refresher watches the persisted token row and refreshes it through the
// provider before expiry, with jittered scheduling so multiple instances do
// not stampede the token endpoint.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	dbpkg "github.com/onnwee/tts-tender/db"
)

// RefreshFunc performs the provider-specific refresh and returns
// (access, refresh, expiry, scope).
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// TokenStore reads and writes one persisted token row per provider.
type TokenStore interface {
	Get(ctx context.Context, provider string) (access, refresh string, expiry time.Time, scope string, err error)
	Upsert(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error
}

// DBStore is the Postgres-backed TokenStore. Encryption at rest is handled by
// the db package.
type DBStore struct{ DB *sql.DB }

func (s DBStore) Get(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	return dbpkg.GetOAuthToken(ctx, s.DB, provider)
}

func (s DBStore) Upsert(ctx context.Context, provider, access, refresh string, expiry time.Time, scope string) error {
	return dbpkg.UpsertOAuthToken(ctx, s.DB, provider, access, refresh, expiry, scope)
}

// StartRefresher launches a goroutine that periodically checks the token row
// for provider and refreshes it when its remaining lifetime falls within
// window.
func StartRefresher(ctx context.Context, store TokenStore, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomized initial delay spreads load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter of roughly 20% of the interval.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}

			_, rt, exp, scope, err := store.Get(ctx, provider)
			if err != nil || rt == "" {
				continue
			}
			if time.Until(exp) > window {
				continue
			}

			ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
			newAT, newRT, newExp, newScope, err := fn(ctx2, rt)
			cancel()
			if err != nil {
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
				continue
			}
			if newRT == "" {
				newRT = rt
			}
			if newScope == "" {
				newScope = scope
			}
			if err := store.Upsert(ctx, provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
				slog.Warn("token persist failed", slog.String("provider", provider), slog.Any("err", err))
				continue
			}
			slog.Info("token refreshed", slog.String("provider", provider))
		}
	}()
}
