// Command tts-tender runs the channel-point TTS bot. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres for OAuth token persistence (optional with a
//     static user token) and runs idempotent migrations.
//   - Connects to Twitch IRC for chat commands and public notifications.
//   - Polls channel-point redemptions of the configured reward and runs each
//     through the fulfillment pipeline: follow policy, whisper/chat
//     notification, refund on reject, speech synthesis on accept.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics, the
//     OAuth flow, and the /speak admin endpoint.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/onnwee/tts-tender/chat"
	"github.com/onnwee/tts-tender/config"
	"github.com/onnwee/tts-tender/db"
	"github.com/onnwee/tts-tender/oauth"
	"github.com/onnwee/tts-tender/redeem"
	"github.com/onnwee/tts-tender/server"
	"github.com/onnwee/tts-tender/speech"
	"github.com/onnwee/tts-tender/telemetry"
	"github.com/onnwee/tts-tender/twitchapi"
)

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load(".env")

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Error("chat not configured", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateHelixReady(); err != nil {
		slog.Error("helix not configured", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("tts-tender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The database holds the persisted user token. With a static token
	// (TWITCH_USER_TOKEN) the bot can run without it.
	database := openDatabase(ctx, cfg)
	if database != nil {
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		RedirectURL:  cfg.TwitchRedirectURI,
		Scopes:       strings.Fields(cfg.TwitchScopes),
		Endpoint:     endpoints.Twitch,
	}
	appTokens := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
	userTokens := &twitchapi.UserTokenSource{
		DB:     database,
		OAuth:  oauthCfg,
		Static: os.Getenv("TWITCH_USER_TOKEN"),
	}
	helix := &twitchapi.HelixClient{
		AppTokenSource:  appTokens,
		UserTokenSource: userTokens,
		ClientID:        cfg.TwitchClientID,
	}

	broadcaster := resolveUser(ctx, helix, cfg.TwitchChannelID, cfg.TwitchChannel)
	bot := resolveUser(ctx, helix, "", cfg.TwitchBotUsername)
	ensureReward(ctx, helix, broadcaster.ID, cfg.RewardTitle)

	ircBot := chat.NewBot(cfg.TwitchBotUsername, cfg.TwitchOAuthToken, cfg.TwitchChannel)

	speaker := &speech.Service{
		Backend: &speech.Client{Endpoint: cfg.SpeechEndpoint},
		Archive: &speech.Archive{Dir: cfg.ArchiveDir, Keep: cfg.ArchiveKeep},
		Persona: speech.Persona{
			VoiceID:  cfg.VoiceID,
			Volume:   cfg.VoiceVolume,
			Pitch:    cfg.VoicePitch,
			Rate:     cfg.VoiceRate,
			WordWrap: cfg.VoiceWordWrap,
			Emotion:  cfg.VoiceEmotion,
		},
	}

	orch := &redeem.Orchestrator{
		Directory: helix,
		Notifier: &redeem.Notifier{
			Whispers:  helix,
			Chat:      ircBot,
			BotUserID: bot.ID,
			Channel:   cfg.TwitchChannel,
		},
		Reconciler:    &redeem.Reconciler{Points: helix, BroadcasterID: broadcaster.ID},
		Speaker:       speaker,
		BroadcasterID: broadcaster.ID,
		MinFollowAge:  cfg.FollowMinAge,
	}

	if err := chat.RegisterCommands(ircBot, chat.CommandConfig{
		Directory:     helix,
		Fulfill:       orch.Fulfill,
		BroadcasterID: broadcaster.ID,
	}); err != nil {
		slog.Error("command registration failed", slog.Any("err", err))
		os.Exit(1)
	}

	go func() {
		if err := ircBot.Run(ctx); err != nil {
			slog.Error("chat bot stopped", slog.Any("err", err))
			stop()
		}
	}()
	go redeem.StartRedemptionPoller(ctx, helix, orch, broadcaster.ID, cfg.RewardTitle, cfg.PollInterval)

	if database != nil {
		refresh := func(ctx context.Context, rt string) (string, string, time.Time, string, error) {
			tok, err := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: rt}).Token()
			if err != nil {
				return "", "", time.Time{}, "", err
			}
			return tok.AccessToken, tok.RefreshToken, tok.Expiry, strings.Join(oauthCfg.Scopes, " "), nil
		}
		oauth.StartRefresher(ctx, oauth.DBStore{DB: database}, "twitch", 5*time.Minute, 15*time.Minute, refresh)
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handlers := server.NewHandlers(database, cfg, speaker.Archive, orch.Fulfill)
	slog.Info("starting http server", slog.String("addr", addr))
	if err := server.Start(ctx, handlers, addr); err != nil {
		os.Exit(1)
	}
}

func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}

func openDatabase(ctx context.Context, cfg *config.Config) *sql.DB {
	database, err := db.Connect(cfg.DBDsn)
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = database.PingContext(pingCtx)
		cancel()
	}
	if err != nil {
		if os.Getenv("TWITCH_USER_TOKEN") != "" {
			slog.Warn("database unavailable, continuing with static user token", slog.Any("err", err))
			return nil
		}
		slog.Error("database unavailable and no TWITCH_USER_TOKEN fallback", slog.Any("err", err))
		os.Exit(1)
	}
	if err := db.Migrate(ctx, database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}
	return database
}

// resolveUser prefers a configured id and falls back to a Helix login lookup.
func resolveUser(ctx context.Context, helix *twitchapi.HelixClient, id, login string) *twitchapi.User {
	if id != "" {
		return &twitchapi.User{ID: id, Login: login}
	}
	lookupCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	u, err := helix.GetUserByLogin(lookupCtx, login)
	if err != nil {
		slog.Error("user lookup failed", slog.String("login", login), slog.Any("err", err))
		os.Exit(1)
	}
	return u
}

// ensureReward creates the speech reward on the channel when it is missing.
// Best effort: a failure here only means redemptions cannot start until the
// reward exists (the poller keeps retrying the lookup).
func ensureReward(ctx context.Context, helix *twitchapi.HelixClient, broadcasterID, title string) {
	lookupCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	rewards, err := helix.GetCustomRewards(lookupCtx, broadcasterID)
	if err != nil {
		slog.Warn("reward listing failed", slog.Any("err", err))
		return
	}
	for _, r := range rewards {
		if r.Title == title {
			return
		}
	}
	created, err := helix.CreateCustomReward(lookupCtx, broadcasterID, twitchapi.CreateRewardParams{
		Title:             title,
		Cost:              500,
		Prompt:            "Your message will be read aloud on stream",
		IsEnabled:         true,
		UserInputRequired: true,
	})
	if err != nil {
		slog.Warn("reward creation failed", slog.String("title", title), slog.Any("err", err))
		return
	}
	slog.Info("created speech reward", slog.String("title", title), slog.String("id", created.ID))
}
