package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	dbpkg "github.com/onnwee/tts-tender/db"
)

func (h *Handlers) addOAuthState(st string, exp time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.stateStore[st] = exp
}

func (h *Handlers) takeOAuthState(st string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[st]
	if !ok {
		return false
	}
	delete(h.stateStore, st)
	return time.Now().Before(exp)
}

// HandleTwitchOAuthStart redirects to Twitch's authorize page to obtain the
// user token the whisper and channel-point endpoints require.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.oauthCfg == nil || h.oauthCfg.RedirectURL == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, time.Now().Add(10*time.Minute))
	http.Redirect(w, r, h.oauthCfg.AuthCodeURL(st), http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the auth code and persists the token.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.oauthCfg == nil {
		http.Error(w, "oauth not configured", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return
	}
	if !h.takeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	if h.db == nil {
		http.Error(w, "token persistence requires a database (set DB_DSN)", http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	tok, err := h.oauthCfg.Exchange(ctx, code)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	refresh := tok.RefreshToken
	scope := strings.Join(h.oauthCfg.Scopes, " ")
	if err := dbpkg.UpsertOAuthToken(ctx, h.db, "twitch", tok.AccessToken, refresh, tok.Expiry, scope); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"status": "ok", "expires_at": tok.Expiry}); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}
