package senses

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	typing int
	errs   []error // returned in order, then nil
}

func (f *fakeSender) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.sent = append(f.sent, channelID+":"+content)
	return &discordgo.Message{}, nil
}

func (f *fakeSender) ChannelTyping(string, ...discordgo.RequestOption) error {
	f.mu.Lock()
	f.typing++
	f.mu.Unlock()
	return nil
}

func newTestDiscord(send *fakeSender, handler Handler) *Discord {
	ctx, cancel := context.WithCancel(context.Background())
	return &Discord{
		send:           send,
		channelID:      "chan",
		ownerID:        "owner",
		botID:          "bot",
		handler:        handler,
		maxRetries:     3,
		retryDelay:     time.Millisecond,
		handlerTimeout: time.Second,
		ctx:            ctx,
		cancel:         cancel,
	}
}

func msg(author, channel, guild, content string, mentions ...*discordgo.User) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: channel,
		GuildID:   guild,
		Content:   content,
		Author:    &discordgo.User{ID: author, Username: author},
		Mentions:  mentions,
	}}
}

// --- accept ---

func TestAccept_Filters(t *testing.T) {
	d := newTestDiscord(&fakeSender{}, nil)

	cases := []struct {
		name string
		m    *discordgo.MessageCreate
		want bool
	}{
		{"owner in channel", msg("owner", "chan", "g", "hi"), true},
		{"other user in channel", msg("alice", "chan", "g", "hi"), true},
		{"self", msg("bot", "chan", "g", "hi"), false},
		{"other channel", msg("owner", "elsewhere", "g", "hi"), false},
		{"dm from other channel", msg("owner", "dm", "", "hi"), true},
		{"blank", msg("owner", "chan", "g", "   "), false},
	}
	for _, tc := range cases {
		if _, ok := d.accept(tc.m); ok != tc.want {
			t.Errorf("%s: accept = %v, want %v", tc.name, ok, tc.want)
		}
	}

	d.ownerOnly = true
	if _, ok := d.accept(msg("alice", "chan", "g", "hi")); ok {
		t.Error("owner-only should drop other users")
	}
}

func TestAccept_StripsMention(t *testing.T) {
	d := newTestDiscord(&fakeSender{}, nil)
	m, ok := d.accept(msg("owner", "chan", "g", "<@bot> move it to 3pm", &discordgo.User{ID: "bot"}))
	if !ok {
		t.Fatal("expected message to be accepted")
	}
	if m.Content != "move it to 3pm" {
		t.Errorf("content: %q", m.Content)
	}
	if !m.MentionsBot || !m.FromOwner {
		t.Errorf("flags: %+v", m)
	}
}

// --- handleMessage ---

func TestHandleMessage_RepliesInChannel(t *testing.T) {
	send := &fakeSender{}
	var got Message
	d := newTestDiscord(send, func(_ context.Context, m Message) string {
		got = m
		return "Done."
	})

	d.handleMessage(nil, msg("owner", "chan", "g", "add a task"))

	if got.Content != "add a task" || got.AuthorID != "owner" {
		t.Errorf("handler got %+v", got)
	}
	if len(send.sent) != 1 || send.sent[0] != "chan:Done." {
		t.Errorf("sent: %v", send.sent)
	}
	if send.typing != 1 {
		t.Errorf("expected typing indicator, got %d", send.typing)
	}
}

func TestHandleMessage_EmptyReplyPostsNothing(t *testing.T) {
	send := &fakeSender{}
	d := newTestDiscord(send, func(context.Context, Message) string { return "" })
	d.handleMessage(nil, msg("owner", "chan", "g", "hello"))
	if len(send.sent) != 0 {
		t.Errorf("expected nothing sent, got %v", send.sent)
	}
}

func TestHandleMessage_HandlerIsBounded(t *testing.T) {
	send := &fakeSender{}
	d := newTestDiscord(send, func(ctx context.Context, _ Message) string {
		<-ctx.Done()
		return "Still working on that, try again shortly."
	})
	d.handlerTimeout = 20 * time.Millisecond

	start := time.Now()
	d.handleMessage(nil, msg("owner", "chan", "g", "plan my week"))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("handler ran for %v", elapsed)
	}
	if len(send.sent) != 1 || !strings.HasPrefix(send.sent[0], "chan:Still working") {
		t.Errorf("sent: %v", send.sent)
	}
}

// --- retries ---

func TestSend_RetriesServerErrors(t *testing.T) {
	send := &fakeSender{errs: []error{
		&discordgo.RESTError{Response: &http.Response{StatusCode: 502}},
		errors.New("connection reset"),
	}}
	d := newTestDiscord(send, nil)

	if err := d.Send("chan", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(send.sent) != 1 {
		t.Errorf("expected 1 delivered message, got %d", len(send.sent))
	}
}

func TestSend_GivesUpOnClientErrors(t *testing.T) {
	send := &fakeSender{errs: []error{&discordgo.RESTError{Response: &http.Response{StatusCode: 403}}}}
	d := newTestDiscord(send, nil)

	if err := d.Send("chan", "hello"); err == nil {
		t.Fatal("expected error")
	}
	if len(send.sent) != 0 || len(send.errs) != 0 {
		t.Errorf("expected a single failed attempt, sent=%v", send.sent)
	}
}

func TestSend_DefaultChannel(t *testing.T) {
	send := &fakeSender{}
	d := newTestDiscord(send, nil)
	if err := d.Send("", "hi"); err != nil {
		t.Fatal(err)
	}
	if send.sent[0] != "chan:hi" {
		t.Errorf("sent: %v", send.sent)
	}

	d.channelID = ""
	if err := d.Send("", "hi"); err == nil {
		t.Error("expected error without any channel")
	}
}

func TestIsNonRetryableError(t *testing.T) {
	if isNonRetryableError(errors.New("network timeout")) {
		t.Error("generic error should be retryable")
	}
	if isNonRetryableError(&discordgo.RESTError{}) {
		t.Error("RESTError without response should be retryable")
	}
	for _, code := range []int{400, 401, 403, 404, 429} {
		if !isNonRetryableError(&discordgo.RESTError{Response: &http.Response{StatusCode: code}}) {
			t.Errorf("HTTP %d should be non-retryable", code)
		}
	}
}

// --- chunkMessage ---

func TestChunkMessage(t *testing.T) {
	a, b := strings.Repeat("a", 1500), strings.Repeat("b", 1500)
	for name, sep := range map[string]string{"paragraph": "\n\n", "line": "\n", "word": " "} {
		chunks := chunkMessage(a+sep+b, 2000)
		if len(chunks) != 2 {
			t.Errorf("%s: expected 2 chunks, got %d", name, len(chunks))
		}
	}

	if chunks := chunkMessage("", 2000); len(chunks) != 1 || chunks[0] != "" {
		t.Errorf("empty: %v", chunks)
	}

	long := strings.Repeat("x", 5000)
	chunks := chunkMessage(long, 2000)
	for i, c := range chunks {
		if len(c) > 2000 {
			t.Errorf("chunk %d exceeds limit: %d", i, len(c))
		}
	}
	if strings.Join(chunks, "") != long {
		t.Error("chunks do not reassemble")
	}
}

func TestFindSplitPoint_IgnoresEarlyBreaks(t *testing.T) {
	content := "a\n" + strings.Repeat("x", 2500)
	if pt := findSplitPoint(content, 2000); pt != 2000 {
		t.Errorf("expected forced split at 2000, got %d", pt)
	}
}
