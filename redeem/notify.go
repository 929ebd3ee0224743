package redeem

import (
	"context"
	"log/slog"

	"github.com/onnwee/tts-tender/telemetry"
	"github.com/onnwee/tts-tender/twitchapi"
)

// WhisperSender delivers a private message between two users.
type WhisperSender interface {
	SendWhisper(ctx context.Context, fromUserID, toUserID, message string) error
}

// Announcer posts a public message to a chat channel.
type Announcer interface {
	Say(channel, text string)
}

// Notifier tells a viewer why their redemption was rejected. It tries a
// whisper first and falls back to a public @-mention in the broadcaster's
// channel when the whisper is refused (closed DMs, platform restrictions).
// Notify never fails: the fallback is best-effort.
type Notifier struct {
	Whispers  WhisperSender
	Chat      Announcer
	BotUserID string
	Channel   string
}

// Notify delivers reason to the viewer over exactly one of the two channels.
func (n *Notifier) Notify(ctx context.Context, viewer twitchapi.User, reason string) {
	if err := n.Whispers.SendWhisper(ctx, n.BotUserID, viewer.ID, reason); err != nil {
		telemetry.LoggerWithCorr(ctx).Debug("whisper refused, falling back to public chat",
			slog.String("viewer", viewer.Login),
			slog.Any("err", err))
		telemetry.CountWhisperFallback()
		n.Chat.Say(n.Channel, "@"+viewer.Login+" "+reason)
	}
}
