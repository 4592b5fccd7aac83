package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/evex-dev/rakubot/internal/rakuten"
	"github.com/evex-dev/rakubot/internal/session"
)

// runTurn executes one complete request/response cycle. It runs inside the
// session's serialized queue, so nothing else is in flight on this channel.
func (b *Bot) runTurn(ctx context.Context, logger *slog.Logger, sess *session.Session, ds discordSession, m *discordgo.MessageCreate, botID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := ds.ChannelTyping(m.ChannelID); err != nil {
		logger.Warn("typing signal failed", slog.Any("error", err))
	}

	thread, err := sess.Thread(ctx)
	if err != nil {
		return fmt.Errorf("open thread: %w", err)
	}

	files, err := b.ingestAttachments(ctx, logger, thread, m.Attachments)
	if err != nil {
		return err
	}

	contextBlock, contextFiles := b.buildReplyContext(ctx, logger, ds, m, botID, thread)
	files = append(files, contextFiles...)

	text := composeInput(sess.TakeSeed(), contextBlock, m, botID)

	contents := []rakuten.ContentPart{rakuten.TextPart(text)}
	for _, f := range files {
		contents = append(contents, rakuten.FilePart(f))
	}

	events, errs := thread.SendMessage(ctx, rakuten.SendMessageRequest{
		Mode:     "USER_INPUT",
		Contents: contents,
	})

	r := b.newRender(logger, ds, m)
	count := 0
	for ev := range events {
		count++
		if count%b.opts.TypingInterval == 0 {
			_ = ds.ChannelTyping(m.ChannelID)
		}
		if err := r.handleEvent(ev); err != nil {
			return err
		}
	}
	if err := <-errs; err != nil {
		return fmt.Errorf("stream response: %w", err)
	}

	return r.finish(b.opts.Model)
}

// ingestAttachments uploads the triggering message's own attachments to the
// backend thread, in order.
func (b *Bot) ingestAttachments(ctx context.Context, logger *slog.Logger, up uploader, attachments []*discordgo.MessageAttachment) ([]rakuten.UploadedFile, error) {
	var files []rakuten.UploadedFile
	for _, att := range attachments {
		if att == nil {
			continue
		}
		url := att.ProxyURL
		if url == "" {
			url = att.URL
		}
		isImage := strings.HasPrefix(att.ContentType, "image/")
		logger.Debug("ingest attachment", slog.String("name", att.Filename), slog.String("url", url))
		uploaded, err := b.ingestURL(ctx, up, url, att.Filename, isImage)
		if err != nil {
			return nil, fmt.Errorf("ingest attachment %s: %w", att.Filename, err)
		}
		files = append(files, uploaded)
	}
	return files, nil
}

// ingestURL fetches a platform URL and uploads the payload to the thread.
func (b *Bot) ingestURL(ctx context.Context, up uploader, url, name string, isImage bool) (rakuten.UploadedFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return rakuten.UploadedFile{}, err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return rakuten.UploadedFile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return rakuten.UploadedFile{}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return up.UploadFile(ctx, name, resp.Body, isImage)
}

// composeInput builds the backend submission text: seeded system context,
// quoted reply context, an attribution line for the author, then the turn's
// own text with the bot mention stripped.
func composeInput(seed, contextBlock string, m *discordgo.MessageCreate, botID string) string {
	var sb strings.Builder
	if seed != "" {
		sb.WriteString(seed)
		sb.WriteString("\n\n")
	}
	if contextBlock != "" {
		sb.WriteString(contextBlock)
	}
	sb.WriteString(displayName(m.Author, m.Member))
	sb.WriteString(" (@")
	sb.WriteString(m.Author.Username)
	sb.WriteString(", ")
	sb.WriteString(m.Author.ID)
	sb.WriteString("):\n")
	sb.WriteString(stripMention(m.Content, botID))
	return sb.String()
}
