package bot

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/evex-dev/rakubot/internal/rakuten"
	"github.com/evex-dev/rakubot/internal/textutil"
)

// render holds one turn's output state: the text accumulated between flush
// points, whether the first reply has been sent, and the transient message
// being edited in place while image output is still refining. It is discarded
// when the turn completes.
type render struct {
	bot    *Bot
	logger *slog.Logger
	ds     discordSession
	m      *discordgo.MessageCreate

	text  strings.Builder
	first bool
	last  *discordgo.Message // placeholder for in-progress image output
}

func (b *Bot) newRender(logger *slog.Logger, ds discordSession, m *discordgo.MessageCreate) *render {
	return &render{
		bot:    b,
		logger: logger,
		ds:     ds,
		m:      m,
		first:  true,
	}
}

// handleEvent advances the render state by one stream event.
func (r *render) handleEvent(ev rakuten.Event) error {
	switch ev.Type {
	case rakuten.EventReasoningStart:
		r.logger.Debug("reasoning started")

	case rakuten.EventReasoningDelta:
		r.logger.Debug("reasoning", slog.String("text", ev.Text))

	case rakuten.EventTextDelta:
		r.text.WriteString(ev.Text)

	case rakuten.EventImage, rakuten.EventImageThumbnail:
		_ = r.ds.ChannelTyping(r.m.ChannelID)
		if r.text.Len() > 0 {
			if err := r.flushText(); err != nil {
				return err
			}
		}
		if r.last != nil {
			edited, err := r.ds.ChannelMessageEdit(r.m.ChannelID, r.last.ID, ev.URL)
			if err != nil {
				return fmt.Errorf("edit image placeholder: %w", err)
			}
			r.last = edited
		} else {
			sent, err := r.send(ev.URL)
			if err != nil {
				return fmt.Errorf("send image placeholder: %w", err)
			}
			r.last = sent
		}
		// A terminal image finalizes the placeholder; the next image
		// starts a fresh one.
		if ev.Type == rakuten.EventImage {
			r.last = nil
		}

	case rakuten.EventToolCall:
		_ = r.ds.ChannelTyping(r.m.ChannelID)
		if _, err := r.ds.ChannelMessageSend(r.m.ChannelID, "-# function call..."); err != nil {
			return fmt.Errorf("send tool-call notice: %w", err)
		}

	case rakuten.EventError:
		payload := strings.TrimSpace(string(ev.Raw))
		if payload == "" {
			payload = ev.Text
		}
		block := fmt.Sprintf("backend reported an error\n```\n%s\n```", payload)
		if _, err := r.ds.ChannelMessageSend(r.m.ChannelID, block); err != nil {
			return fmt.Errorf("surface backend error: %w", err)
		}

	default:
		r.logger.Info("unrecognized stream event",
			slog.String("type", string(ev.Type)),
			slog.String("raw_prefix", prefix(string(ev.Raw), 200)),
		)
	}
	return nil
}

// finish flushes any remaining text together with the model attribution
// footer. It always emits at least one message, so even an all-image turn
// carries its attribution.
func (r *render) finish(model string) error {
	r.text.WriteString("\n-# model: ")
	r.text.WriteString(model)
	return r.flushText()
}

// flushText sends the accumulated text and resets the accumulator.
func (r *render) flushText() error {
	text := r.text.String()
	r.text.Reset()
	_, err := r.send(text)
	return err
}

// send normalizes and segments text, then emits each chunk. The very first
// message of a turn replies to the triggering message; every later chunk is
// a plain channel send. Returns the last message sent.
func (r *render) send(text string) (*discordgo.Message, error) {
	parts := textutil.Segment(textutil.NormalizeMarkdown(text), r.bot.opts.MaxMessageLen)

	var sent *discordgo.Message
	for _, part := range parts {
		var err error
		if r.first {
			sent, err = r.ds.ChannelMessageSendReply(r.m.ChannelID, part, r.m.Reference())
			r.first = false
		} else {
			sent, err = r.ds.ChannelMessageSend(r.m.ChannelID, part)
		}
		if err != nil {
			return nil, err
		}
	}
	return sent, nil
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
