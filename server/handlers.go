package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/onnwee/tts-tender/config"
	"github.com/onnwee/tts-tender/redeem"
	"github.com/onnwee/tts-tender/speech"
)

// FulfillFunc runs one redemption through the fulfillment pipeline.
type FulfillFunc func(ctx context.Context, r redeem.Redemption) (bool, error)

// Handlers holds dependencies for HTTP handlers. The database may be nil when
// the bot runs with a static user token; handlers that need persistence report
// that instead of panicking.
type Handlers struct {
	db      *sql.DB
	cfg     *config.Config
	archive *speech.Archive
	fulfill FulfillFunc

	oauthCfg   *oauth2.Config
	stateMu    sync.Mutex
	stateStore map[string]time.Time

	started time.Time
}

// NewHandlers wires handler dependencies.
func NewHandlers(db *sql.DB, cfg *config.Config, archive *speech.Archive, fulfill FulfillFunc) *Handlers {
	h := &Handlers{
		db:         db,
		cfg:        cfg,
		archive:    archive,
		fulfill:    fulfill,
		stateStore: make(map[string]time.Time),
		started:    time.Now(),
	}
	if cfg != nil && cfg.TwitchClientID != "" {
		h.oauthCfg = &oauth2.Config{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
			RedirectURL:  cfg.TwitchRedirectURI,
			Scopes:       strings.Fields(cfg.TwitchScopes),
			Endpoint:     endpoints.Twitch,
		}
	}
	return h
}

// HandleHealthz responds to liveness probes. Database connectivity is checked
// only when a database is configured.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probes with per-check detail.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.db == nil {
				return nil
			}
			return h.db.PingContext(r.Context())
		}},
		{"credentials", func() error {
			if os.Getenv("TWITCH_USER_TOKEN") != "" {
				return nil
			}
			if h.db == nil {
				return fmt.Errorf("no user token: set TWITCH_USER_TOKEN or configure the database")
			}
			var count int
			err := h.db.QueryRowContext(r.Context(),
				"SELECT COUNT(*) FROM oauth_tokens WHERE provider = 'twitch'").Scan(&count)
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("missing twitch OAuth token, visit /auth/twitch/start")
			}
			return nil
		}},
		{"archive", func() error {
			if h.archive == nil {
				return fmt.Errorf("archive not configured")
			}
			_, err := h.archive.List()
			return err
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// HandleStatus reports runtime state: channel, reward, archive occupancy.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	}
	if h.cfg != nil {
		out["channel"] = h.cfg.TwitchChannel
		out["reward"] = h.cfg.RewardTitle
	}
	if h.archive != nil {
		artifacts, err := h.archive.List()
		if err == nil {
			out["archive_artifacts"] = len(artifacts)
			if len(artifacts) > 0 {
				out["latest_artifact"] = artifacts[0].Name
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

type speakRequest struct {
	User    string `json:"user"`
	Message string `json:"message"`
}

// HandleSpeak triggers a synthetic redemption: the named user's message runs
// through the full pipeline (eligibility included) without a channel-point
// transaction.
func (h *Handlers) HandleSpeak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.fulfill == nil {
		http.Error(w, "pipeline not running", http.StatusServiceUnavailable)
		return
	}
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.User == "" || strings.TrimSpace(req.Message) == "" {
		http.Error(w, "user and message are required", http.StatusBadRequest)
		return
	}

	spoken, err := h.fulfill(r.Context(), redeem.NewSyntheticRedemption(req.User, req.Message))
	if err != nil {
		var nf *redeem.UserNotFoundError
		if errors.As(err, &nf) {
			http.Error(w, nf.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"spoken": spoken})
}
