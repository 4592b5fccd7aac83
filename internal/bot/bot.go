// Package bot wires Discord to the conversation pipeline: inbound filtering,
// the clear command, reply-context reconstruction, and streamed output
// rendering.
package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/evex-dev/rakubot/internal/rakuten"
	"github.com/evex-dev/rakubot/internal/session"
)

// discordSession is the slice of *discordgo.Session the pipeline uses, kept
// narrow so tests can substitute a fake.
type discordSession interface {
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID string, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// uploader ingests binary payloads into the backend thread of a turn.
type uploader interface {
	UploadFile(ctx context.Context, name string, r io.Reader, isImage bool) (rakuten.UploadedFile, error)
}

// Options tunes the conversation pipeline. Zero values fall back to the
// defaults the bot has always shipped with.
type Options struct {
	MaxMessageLen  int    // Discord chunk limit per outbound message
	ContextWindow  int    // messages fetched around a reply target
	TypingInterval int    // re-signal typing every Nth stream event
	Model          string // attribution footer name
}

func (o Options) withDefaults() Options {
	if o.MaxMessageLen <= 0 {
		o.MaxMessageLen = 1500
	}
	if o.ContextWindow <= 0 {
		o.ContextWindow = 10
	}
	if o.TypingInterval <= 0 {
		o.TypingInterval = 7
	}
	if o.Model == "" {
		o.Model = "rakutenai"
	}
	return o
}

// Bot owns the Discord gateway session and dispatches inbound mentions onto
// per-channel serialized queues.
type Bot struct {
	dg         *discordgo.Session
	registry   *session.Registry
	opts       Options
	logger     *slog.Logger
	httpClient *http.Client

	removeHandler func()
}

// New creates a Bot over an already-constructed discordgo session. The
// session is not opened yet; call Start.
func New(log *slog.Logger, dg *discordgo.Session, registry *session.Registry, opts Options) *Bot {
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		dg:         dg,
		registry:   registry,
		opts:       opts.withDefaults(),
		logger:     log.With(slog.String("service", "bot")),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Start registers the message handler and opens the gateway connection.
func (b *Bot) Start() error {
	b.dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentMessageContent

	// Handlers must fire in gateway order: handleMessage claims each turn's
	// queue slot synchronously, and that claim order is execution order.
	// With the default async dispatch two quick messages would race for
	// their slots.
	b.dg.SyncEvents = true

	b.removeHandler = b.dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		b.handleMessage(s, m)
	})

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("open discord connection: %w", err)
	}
	b.logger.Info("logged in", slog.String("user", b.dg.State.User.String()))
	return nil
}

// Stop removes the handler and closes the gateway connection. In-flight
// turns finish on their own.
func (b *Bot) Stop() error {
	if b.removeHandler != nil {
		b.removeHandler()
		b.removeHandler = nil
	}
	return b.dg.Close()
}

func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	botID := s.State.User.ID
	if !shouldHandle(m.Message, botID) {
		return
	}

	if isClearCommand(m.Content, botID) {
		cleared := b.registry.Clear(m.ChannelID)
		b.logger.Info("clear command",
			slog.String("channel_id", m.ChannelID),
			slog.Bool("had_session", cleared),
		)
		if _, err := s.ChannelMessageSendReply(m.ChannelID, "chat context destroyed.", m.Reference()); err != nil {
			b.logger.Error("clear ack failed", slog.String("channel_id", m.ChannelID), slog.Any("error", err))
		}
		return
	}

	turnID := uuid.NewString()
	logger := b.logger.With(
		slog.String("turn_id", turnID),
		slog.String("channel_id", m.ChannelID),
		slog.String("message_id", m.ID),
	)

	// Both calls are non-blocking; the slot claimed here fixes this turn's
	// position in the channel's queue before the handler returns.
	sess := b.registry.GetOrCreate(m.ChannelID)
	turn := sess.Enqueue()

	go func() {
		err := turn.Run(func() error {
			logger.Info("turn start", slog.String("author_id", m.Author.ID))
			return b.runTurn(context.Background(), logger, sess, s, m, botID)
		})
		if err != nil {
			logger.Error("turn failed", slog.Any("error", err))
			b.reportError(s, m, err)
		} else {
			logger.Info("turn done")
		}
	}()
}

// shouldHandle keeps only guild messages from humans that mention the bot.
func shouldHandle(m *discordgo.Message, botID string) bool {
	if m.Author == nil || m.Author.Bot {
		return false
	}
	if m.GuildID == "" {
		return false
	}
	for _, mention := range m.Mentions {
		if mention != nil && mention.ID == botID {
			return true
		}
	}
	return false
}

func isClearCommand(content, botID string) bool {
	content = strings.TrimSpace(content)
	return content == "<@"+botID+"> clear" || content == "<@!"+botID+"> clear"
}

// stripMention removes both mention forms of the bot from the turn text.
func stripMention(content, botID string) string {
	content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	content = strings.ReplaceAll(content, "<@"+botID+">", "")
	return strings.TrimSpace(content)
}

// displayName picks the best human-readable name available for a message
// author.
func displayName(author *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if author == nil {
		return "unknown"
	}
	if author.GlobalName != "" {
		return author.GlobalName
	}
	return author.Username
}

func (b *Bot) reportError(ds discordSession, m *discordgo.MessageCreate, cause error) {
	block := fmt.Sprintf("an error occurred during processing\n```\n%v\n```", cause)
	if _, err := ds.ChannelMessageSendReply(m.ChannelID, block, m.Reference()); err != nil {
		b.logger.Error("error report failed", slog.String("channel_id", m.ChannelID), slog.Any("error", err))
	}
}
