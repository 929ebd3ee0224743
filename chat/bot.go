// Package chat connects the bot to Twitch IRC and routes chat commands.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Message is a chat line that matched a registered command.
type Message struct {
	Channel  string
	UserID   string
	UserName string
	Text     string
	Args     []string
}

// HandlerFunc handles one command invocation.
type HandlerFunc func(ctx context.Context, m Message)

// Bot wraps the IRC client with a command registry. Commands are registered
// before Run; registration errors surface at startup rather than as silently
// dead commands.
type Bot struct {
	client   *twitch.Client
	channel  string
	commands map[string]HandlerFunc
}

// NewBot builds a bot for one channel. token is the chat OAuth token in the
// "oauth:..." form the IRC gateway expects.
func NewBot(username, token, channel string) *Bot {
	return &Bot{
		client:   twitch.NewClient(username, token),
		channel:  channel,
		commands: make(map[string]HandlerFunc),
	}
}

// Handle registers a command by its full name, e.g. "!follow".
func (b *Bot) Handle(name string, fn HandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("chat: nil handler for %q", name)
	}
	if !strings.HasPrefix(name, "!") || len(name) < 2 {
		return fmt.Errorf("chat: command name %q must start with ! and be non-empty", name)
	}
	name = strings.ToLower(name)
	if _, dup := b.commands[name]; dup {
		return fmt.Errorf("chat: command %q registered twice", name)
	}
	b.commands[name] = fn
	return nil
}

// Say posts text to a channel.
func (b *Bot) Say(channel, text string) {
	b.client.Say(channel, text)
}

func (b *Bot) dispatch(ctx context.Context, msg twitch.PrivateMessage) {
	if !strings.HasPrefix(msg.Message, "!") {
		return
	}
	fields := strings.Fields(msg.Message)
	if len(fields) == 0 {
		return
	}
	handler, ok := b.commands[strings.ToLower(fields[0])]
	if !ok {
		return
	}
	handler(ctx, Message{
		Channel:  msg.Channel,
		UserID:   msg.User.ID,
		UserName: msg.User.Name,
		Text:     msg.Message,
		Args:     fields[1:],
	})
}

// Run connects to IRC and blocks until ctx is canceled or the connection
// fails.
func (b *Bot) Run(ctx context.Context) error {
	b.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		b.dispatch(ctx, msg)
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		b.client.Disconnect()
		close(done)
	}()

	slog.Info("chat: joining channel", slog.String("channel", b.channel))
	b.client.Join(b.channel)
	if err := b.client.Connect(); err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
		return fmt.Errorf("chat connect: %w", err)
	}
	<-done
	return nil
}
