package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/onnwee/tts-tender/redeem"
	"github.com/onnwee/tts-tender/twitchapi"
)

// FulfillFunc runs one redemption through the fulfillment pipeline.
type FulfillFunc func(ctx context.Context, r redeem.Redemption) (bool, error)

// CommandConfig carries the dependencies the built-in commands need.
type CommandConfig struct {
	Directory     redeem.Directory
	Fulfill       FulfillFunc
	BroadcasterID string
}

// RegisterCommands wires the built-in commands onto the bot.
func RegisterCommands(b *Bot, cfg CommandConfig) error {
	if err := b.Handle("!follow", FollowCommand(cfg.Directory, cfg.BroadcasterID, b.Say)); err != nil {
		return err
	}
	return b.Handle("!tts", TTSCommand(cfg.Fulfill, cfg.BroadcasterID, b.Say))
}

// FollowCommand reports since when a viewer has been following the channel.
// With no argument it looks up the sender.
func FollowCommand(dir redeem.Directory, broadcasterID string, say func(channel, text string)) HandlerFunc {
	return func(ctx context.Context, m Message) {
		login := m.UserName
		if len(m.Args) > 0 {
			login = strings.TrimPrefix(m.Args[0], "@")
		}
		user, err := dir.GetUserByLogin(ctx, strings.ToLower(login))
		if err != nil {
			if errors.Is(err, twitchapi.ErrUserNotFound) {
				say(m.Channel, login+" does not exist")
				return
			}
			slog.Warn("follow command: user lookup failed", slog.String("login", login), slog.Any("err", err))
			return
		}
		followedAt, err := dir.GetChannelFollower(ctx, broadcasterID, user.ID)
		if err != nil {
			slog.Warn("follow command: follow lookup failed", slog.String("login", login), slog.Any("err", err))
			return
		}
		if followedAt == nil {
			say(m.Channel, user.DisplayName+" is not following")
			return
		}
		say(m.Channel, user.DisplayName+" has been following since "+followedAt.Format("02/01/2006"))
	}
}

// TTSCommand lets the broadcaster trigger a synthetic redemption from chat.
// Messages from anyone else are ignored.
func TTSCommand(fulfill FulfillFunc, broadcasterID string, say func(channel, text string)) HandlerFunc {
	return func(ctx context.Context, m Message) {
		if m.UserID != broadcasterID {
			return
		}
		text := strings.TrimSpace(strings.TrimPrefix(m.Text, "!tts"))
		if text == "" {
			say(m.Channel, "usage: !tts <message>")
			return
		}
		if _, err := fulfill(ctx, redeem.NewSyntheticRedemption(m.UserName, text)); err != nil {
			slog.Warn("tts command failed", slog.Any("err", err))
		}
	}
}
