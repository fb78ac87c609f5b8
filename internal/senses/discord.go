// Package senses connects chat transports to the coordinator.
package senses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vthunder/budintel/internal/logging"
)

const (
	maxMessageLen     = 2000
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second

	// DefaultHandlerTimeout bounds the handler for one message
	DefaultHandlerTimeout = 3 * time.Minute
)

// Message is an incoming chat message that passed the filters
type Message struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	Content     string    `json:"content"`
	IsDM        bool      `json:"is_dm"`
	MentionsBot bool      `json:"mentions_bot"`
	FromOwner   bool      `json:"from_owner"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Handler turns a message into the reply to post. An empty reply posts nothing.
type Handler func(ctx context.Context, m Message) string

// DiscordConfig holds Discord connection settings
type DiscordConfig struct {
	Token     string
	ChannelID string // only this channel (plus DMs) when set
	OwnerID   string
	OwnerOnly bool // ignore everyone but the owner

	HandlerTimeout time.Duration // zero means DefaultHandlerTimeout
}

// sender is the slice of the Discord session used for replies
type sender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// Discord listens for messages and posts the handler's replies
type Discord struct {
	session   *discordgo.Session
	send      sender
	channelID string
	ownerID   string
	ownerOnly bool
	botID     string
	handler   Handler

	maxRetries     int
	retryDelay     time.Duration
	handlerTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDiscord creates a Discord transport. Call Start to connect.
func NewDiscord(cfg DiscordConfig, handler Handler) (*Discord, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	d := &Discord{
		session:        session,
		send:           session,
		channelID:      cfg.ChannelID,
		ownerID:        cfg.OwnerID,
		ownerOnly:      cfg.OwnerOnly,
		handler:        handler,
		maxRetries:     defaultMaxRetries,
		retryDelay:     defaultRetryDelay,
		handlerTimeout: cfg.HandlerTimeout,
	}
	if d.handlerTimeout <= 0 {
		d.handlerTimeout = DefaultHandlerTimeout
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	session.AddHandler(d.handleMessage)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	return d, nil
}

// Start connects to Discord and begins listening
func (d *Discord) Start() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	d.botID = d.session.State.User.ID
	logging.Info("discord", "Connected as %s", d.session.State.User.Username)
	return nil
}

// Stop cancels in-flight handlers and disconnects
func (d *Discord) Stop() error {
	d.cancel()
	return d.session.Close()
}

// Send posts content to a channel, split to fit Discord's length limit
func (d *Discord) Send(channelID, content string) error {
	if channelID == "" {
		channelID = d.channelID
	}
	if channelID == "" {
		return fmt.Errorf("no channel to send to")
	}
	for _, chunk := range chunkMessage(content, maxMessageLen) {
		if err := d.sendWithRetry(channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (d *Discord) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	msg, ok := d.accept(m)
	if !ok {
		return
	}
	logging.Debug("discord", "Message from %s: %s", msg.AuthorName, logging.Truncate(msg.Content, 50))

	if err := d.send.ChannelTyping(msg.ChannelID); err != nil {
		logging.Debug("discord", "Typing indicator failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(d.ctx, d.handlerTimeout)
	reply := d.handler(ctx, msg)
	cancel()
	if reply == "" {
		return
	}
	if err := d.Send(msg.ChannelID, reply); err != nil {
		logging.Error("discord", "Failed to reply in %s: %v", msg.ChannelID, err)
	}
}

// accept applies the self, channel and owner filters
func (d *Discord) accept(m *discordgo.MessageCreate) (Message, bool) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == d.botID {
		return Message{}, false
	}
	isDM := m.GuildID == ""
	if d.channelID != "" && m.ChannelID != d.channelID && !isDM {
		return Message{}, false
	}
	fromOwner := d.ownerID != "" && m.Author.ID == d.ownerID
	if d.ownerOnly && !fromOwner {
		return Message{}, false
	}

	mentions := d.mentionsBot(m)
	content := m.Content
	if mentions {
		content = strings.NewReplacer("<@"+d.botID+">", "", "<@!"+d.botID+">", "").Replace(content)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, false
	}

	return Message{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		AuthorID:    m.Author.ID,
		AuthorName:  m.Author.Username,
		Content:     content,
		IsDM:        isDM,
		MentionsBot: mentions,
		FromOwner:   fromOwner,
		ReceivedAt:  time.Now(),
	}, true
}

func (d *Discord) mentionsBot(m *discordgo.MessageCreate) bool {
	if d.botID == "" {
		return false
	}
	for _, mention := range m.Mentions {
		if mention != nil && mention.ID == d.botID {
			return true
		}
	}
	return false
}

func (d *Discord) sendWithRetry(channelID, content string) error {
	var err error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		if _, err = d.send.ChannelMessageSend(channelID, content); err == nil {
			return nil
		}
		if isNonRetryableError(err) {
			return fmt.Errorf("send message: %w", err)
		}
		logging.Warn("discord", "Send attempt %d/%d failed: %v", attempt, d.maxRetries, err)
		if attempt < d.maxRetries {
			select {
			case <-d.ctx.Done():
				return d.ctx.Err()
			case <-time.After(d.retryDelay * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("send message after %d attempts: %w", d.maxRetries, err)
}

// isNonRetryableError reports client errors that will fail the same way again
func isNonRetryableError(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		code := restErr.Response.StatusCode
		return code >= 400 && code < 500
	}
	return false
}

// chunkMessage splits content into pieces of at most maxLen bytes,
// preferring paragraph, then line, then word boundaries
func chunkMessage(content string, maxLen int) []string {
	if len(content) <= maxLen {
		return []string{content}
	}
	var chunks []string
	for len(content) > 0 {
		pt := findSplitPoint(content, maxLen)
		chunks = append(chunks, content[:pt])
		content = content[pt:]
	}
	return chunks
}

// findSplitPoint returns where the first chunk of content should end.
// Breaks in the first half of the window are ignored.
func findSplitPoint(content string, maxLen int) int {
	if len(content) <= maxLen {
		return len(content)
	}
	window := content[:maxLen]
	for _, sep := range []string{"\n\n", "\n", " "} {
		if i := strings.LastIndex(window, sep); i >= maxLen/2 {
			return i + len(sep)
		}
	}
	return maxLen
}
