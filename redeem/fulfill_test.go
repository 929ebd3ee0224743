package redeem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/tts-tender/twitchapi"
)

// fakeDirectory serves canned users and follow records.
type fakeDirectory struct {
	users   map[string]*twitchapi.User
	follows map[string]*time.Time // keyed by user id

	followQueries int
}

func (d *fakeDirectory) GetUserByLogin(_ context.Context, login string) (*twitchapi.User, error) {
	u, ok := d.users[login]
	if !ok {
		return nil, twitchapi.ErrUserNotFound
	}
	return u, nil
}

func (d *fakeDirectory) GetChannelFollower(_ context.Context, _, userID string) (*time.Time, error) {
	d.followQueries++
	return d.follows[userID], nil
}

type fakeWhisperer struct {
	err  error
	sent []string // messages whispered
	to   []string // recipient ids
}

func (w *fakeWhisperer) SendWhisper(_ context.Context, _, toUserID, message string) error {
	if w.err != nil {
		return w.err
	}
	w.sent = append(w.sent, message)
	w.to = append(w.to, toUserID)
	return nil
}

type fakeChat struct {
	said []string
}

func (c *fakeChat) Say(_, text string) { c.said = append(c.said, text) }

type fakeSettler struct {
	err      error
	canceled []string // redemption ids
	statuses []string
}

func (s *fakeSettler) UpdateRedemptionStatus(_ context.Context, _, _, redemptionID, status string) error {
	if s.err != nil {
		return s.err
	}
	s.canceled = append(s.canceled, redemptionID)
	s.statuses = append(s.statuses, status)
	return nil
}

type fakeSpeaker struct {
	err    error
	spoken []string
	attrib []string
}

func (s *fakeSpeaker) Speak(_ context.Context, text, attribution string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.spoken = append(s.spoken, text)
	s.attrib = append(s.attrib, attribution)
	return "artifact.mp3", nil
}

type pipeline struct {
	dir     *fakeDirectory
	whisper *fakeWhisperer
	chat    *fakeChat
	settler *fakeSettler
	speaker *fakeSpeaker
	orch    *Orchestrator
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-10 * 24 * time.Hour)
	recent := now.Add(-3 * 24 * time.Hour)
	p := &pipeline{
		dir: &fakeDirectory{
			users: map[string]*twitchapi.User{
				"streamer": {ID: "b1", Login: "streamer", DisplayName: "Streamer"},
				"alice":    {ID: "u2", Login: "alice", DisplayName: "Alice"},
				"bob":      {ID: "u3", Login: "bob", DisplayName: "Bob"},
				"carol":    {ID: "u4", Login: "carol", DisplayName: "Carol"},
			},
			follows: map[string]*time.Time{
				"u2": &old,
				"u4": &recent,
			},
		},
		whisper: &fakeWhisperer{},
		chat:    &fakeChat{},
		settler: &fakeSettler{},
		speaker: &fakeSpeaker{},
	}
	p.orch = &Orchestrator{
		Directory:     p.dir,
		Speaker:       p.speaker,
		BroadcasterID: "b1",
		Now:           func() time.Time { return now },
	}
	p.orch.Notifier = &Notifier{Whispers: p.whisper, Chat: p.chat, BotUserID: "bot1", Channel: "streamer"}
	p.orch.Reconciler = &Reconciler{Points: p.settler, BroadcasterID: "b1"}
	return p
}

func TestFulfillBroadcasterExempt(t *testing.T) {
	p := newPipeline(t)
	spoken, err := p.orch.Fulfill(context.Background(), NewSyntheticRedemption("streamer", "hello chat"))
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if !spoken {
		t.Fatal("expected broadcaster redemption to be spoken")
	}
	if len(p.speaker.spoken) != 1 || p.speaker.spoken[0] != "streamer said: hello chat" {
		t.Fatalf("spoken = %v", p.speaker.spoken)
	}
	if len(p.settler.canceled) != 0 {
		t.Fatalf("unexpected reconciliation: %v", p.settler.canceled)
	}
}

func TestFulfillNonFollowerRefunded(t *testing.T) {
	p := newPipeline(t)
	spoken, err := p.orch.Fulfill(context.Background(), NewLiveRedemption("bob", "pay attention to me", "r1", "x1"))
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if spoken {
		t.Fatal("expected rejection")
	}
	if len(p.speaker.spoken) != 0 {
		t.Fatalf("nothing should be spoken, got %v", p.speaker.spoken)
	}
	if len(p.whisper.sent) != 1 || p.whisper.sent[0] != RejectionMessage {
		t.Fatalf("whispers = %v", p.whisper.sent)
	}
	if p.whisper.to[0] != "u3" {
		t.Fatalf("whisper recipient = %q", p.whisper.to[0])
	}
	if len(p.settler.canceled) != 1 || p.settler.canceled[0] != "x1" {
		t.Fatalf("canceled = %v", p.settler.canceled)
	}
	if p.settler.statuses[0] != twitchapi.StatusCanceled {
		t.Fatalf("status = %q", p.settler.statuses[0])
	}
}

func TestFulfillRecentFollowerRejected(t *testing.T) {
	p := newPipeline(t)
	spoken, err := p.orch.Fulfill(context.Background(), NewLiveRedemption("carol", "hi", "r1", "x2"))
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if spoken {
		t.Fatal("expected rejection for recent follower")
	}
	if len(p.settler.canceled) != 1 || p.settler.canceled[0] != "x2" {
		t.Fatalf("canceled = %v", p.settler.canceled)
	}
}

func TestFulfillEstablishedFollower(t *testing.T) {
	p := newPipeline(t)
	spoken, err := p.orch.Fulfill(context.Background(), NewLiveRedemption("alice", "good stream", "r1", "x3"))
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if !spoken {
		t.Fatal("expected fulfillment")
	}
	if p.speaker.spoken[0] != "alice said: good stream" {
		t.Fatalf("spoken = %q", p.speaker.spoken[0])
	}
	if p.speaker.attrib[0] != "alice" {
		t.Fatalf("attribution = %q", p.speaker.attrib[0])
	}
	if len(p.whisper.sent) != 0 || len(p.settler.canceled) != 0 {
		t.Fatal("no notification or refund expected on fulfillment")
	}
}

func TestFulfillWhisperFallsBackToChat(t *testing.T) {
	p := newPipeline(t)
	p.whisper.err = errors.New("recipient's settings prevent this whisper")
	spoken, err := p.orch.Fulfill(context.Background(), NewLiveRedemption("bob", "hi", "r1", "x4"))
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if spoken {
		t.Fatal("expected rejection")
	}
	if len(p.chat.said) != 1 || p.chat.said[0] != "@bob "+RejectionMessage {
		t.Fatalf("chat = %v", p.chat.said)
	}
	if len(p.settler.canceled) != 1 {
		t.Fatal("refund still expected after fallback")
	}
}

func TestFulfillSyntheticRejectionSkipsSettlement(t *testing.T) {
	p := newPipeline(t)
	spoken, err := p.orch.Fulfill(context.Background(), NewSyntheticRedemption("bob", "hi"))
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if spoken {
		t.Fatal("expected rejection")
	}
	if len(p.settler.canceled) != 0 {
		t.Fatalf("synthetic rejection must not touch the platform, got %v", p.settler.canceled)
	}
	if len(p.whisper.sent) != 1 {
		t.Fatal("viewer is still notified for synthetic rejections")
	}
}

func TestFulfillUnknownUser(t *testing.T) {
	p := newPipeline(t)
	_, err := p.orch.Fulfill(context.Background(), NewSyntheticRedemption("nobody", "hi"))
	var nf *UserNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected UserNotFoundError, got %v", err)
	}
	if nf.Login != "nobody" {
		t.Fatalf("login = %q", nf.Login)
	}
}

func TestFulfillStripsMentionPrefix(t *testing.T) {
	p := newPipeline(t)
	spoken, err := p.orch.Fulfill(context.Background(), NewSyntheticRedemption("@alice", "hello"))
	if err != nil {
		t.Fatalf("Fulfill: %v", err)
	}
	if !spoken {
		t.Fatal("expected fulfillment")
	}
	// The display name keeps the form the viewer typed.
	if p.speaker.spoken[0] != "@alice said: hello" {
		t.Fatalf("spoken = %q", p.speaker.spoken[0])
	}
}

func TestFulfillReconcileFailurePropagates(t *testing.T) {
	p := newPipeline(t)
	p.settler.err = errors.New("service unavailable")
	_, err := p.orch.Fulfill(context.Background(), NewLiveRedemption("bob", "hi", "r1", "x5"))
	if err == nil {
		t.Fatal("expected reconciliation error to propagate")
	}
}

func TestFulfillSynthesisFailureKeepsPoints(t *testing.T) {
	// A redemption accepted by policy that then fails synthesis is not
	// refunded; the error surfaces to the caller instead.
	p := newPipeline(t)
	p.speaker.err = errors.New("synthesis backend down")
	spoken, err := p.orch.Fulfill(context.Background(), NewLiveRedemption("alice", "hi", "r1", "x6"))
	if err == nil {
		t.Fatal("expected synthesis error")
	}
	if spoken {
		t.Fatal("failed synthesis must not report spoken")
	}
	if len(p.settler.canceled) != 0 {
		t.Fatalf("no refund expected on synthesis failure, got %v", p.settler.canceled)
	}
}

func TestFulfillRequeriesFollowEachTime(t *testing.T) {
	p := newPipeline(t)
	for i := 0; i < 3; i++ {
		if _, err := p.orch.Fulfill(context.Background(), NewSyntheticRedemption("alice", "hi")); err != nil {
			t.Fatalf("Fulfill: %v", err)
		}
	}
	if p.dir.followQueries != 3 {
		t.Fatalf("follow queries = %d, want 3", p.dir.followQueries)
	}
}

func TestReconcileNilTransaction(t *testing.T) {
	s := &fakeSettler{err: errors.New("must not be called")}
	r := &Reconciler{Points: s, BroadcasterID: "b1"}
	if err := r.Reconcile(context.Background(), nil); err != nil {
		t.Fatalf("nil transaction should be a no-op, got %v", err)
	}
}
