package bot

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/evex-dev/rakubot/internal/rakuten"
)

// buildReplyContext reconstructs quoted context when the inbound message
// replies to someone other than the bot. It fetches a bounded window of
// messages around the referenced one, keeps only the referenced author's
// messages (interleaved replies from others are tolerated by allowing gaps),
// quotes them oldest to newest, and ingests every attachment and embedded
// image found along the way. All failures degrade gracefully: a turn is never
// lost because its context could not be rebuilt.
func (b *Bot) buildReplyContext(ctx context.Context, logger *slog.Logger, ds discordSession, m *discordgo.MessageCreate, botID string, up uploader) (string, []rakuten.UploadedFile) {
	ref := m.ReferencedMessage
	if ref == nil || ref.Author == nil || ref.Author.ID == botID {
		return "", nil
	}

	window, err := ds.ChannelMessages(m.ChannelID, b.opts.ContextWindow, "", "", ref.ID)
	if err != nil {
		logger.Warn("history fetch failed, skipping reply context",
			slog.String("ref_id", ref.ID),
			slog.Any("error", err),
		)
		return "", nil
	}
	if !containsMessage(window, ref.ID) {
		window = append(window, ref)
	}

	var quoted []*discordgo.Message
	for _, msg := range window {
		if msg != nil && msg.Author != nil && msg.Author.ID == ref.Author.ID {
			quoted = append(quoted, msg)
		}
	}
	if len(quoted) == 0 {
		return "", nil
	}
	sort.SliceStable(quoted, func(i, j int) bool {
		return quoted[i].Timestamp.Before(quoted[j].Timestamp)
	})

	var files []rakuten.UploadedFile
	var sb strings.Builder
	fmt.Fprintf(&sb, "Quoted messages from %s (@%s, %s):\n",
		displayName(ref.Author, ref.Member), ref.Author.Username, ref.Author.ID)

	for _, msg := range quoted {
		for _, line := range strings.Split(msg.Content, "\n") {
			sb.WriteString("> ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		for _, embed := range msg.Embeds {
			if embed == nil {
				continue
			}
			quoteEmbed(&sb, embed)
			files = b.ingestEmbedImages(ctx, logger, up, embed, files)
		}
		for _, att := range msg.Attachments {
			if att == nil {
				continue
			}
			url := att.ProxyURL
			if url == "" {
				url = att.URL
			}
			uploaded, err := b.ingestURL(ctx, up, url, att.Filename, strings.HasPrefix(att.ContentType, "image/"))
			if err != nil {
				logger.Warn("context attachment ingest failed",
					slog.String("name", att.Filename),
					slog.Any("error", err),
				)
				continue
			}
			files = append(files, uploaded)
		}
	}

	sb.WriteString("\n")
	return sb.String(), files
}

func containsMessage(window []*discordgo.Message, id string) bool {
	for _, msg := range window {
		if msg != nil && msg.ID == id {
			return true
		}
	}
	return false
}

// quoteEmbed serializes structured embed metadata inline so the model can see
// what the quoted message carried.
func quoteEmbed(sb *strings.Builder, embed *discordgo.MessageEmbed) {
	var parts []string
	if embed.Title != "" {
		parts = append(parts, embed.Title)
	}
	if embed.Description != "" {
		parts = append(parts, embed.Description)
	}
	if len(parts) > 0 {
		sb.WriteString("> [embed] ")
		sb.WriteString(strings.Join(parts, ": "))
		sb.WriteString("\n")
	}
	for _, field := range embed.Fields {
		if field == nil {
			continue
		}
		fmt.Fprintf(sb, "> [embed] %s: %s\n", field.Name, field.Value)
	}
}

// ingestEmbedImages uploads an embed's image and thumbnail, appending the
// handles to files. Ingestion failures are logged and skipped.
func (b *Bot) ingestEmbedImages(ctx context.Context, logger *slog.Logger, up uploader, embed *discordgo.MessageEmbed, files []rakuten.UploadedFile) []rakuten.UploadedFile {
	urls := make([]string, 0, 2)
	if embed.Image != nil && embed.Image.URL != "" {
		urls = append(urls, embed.Image.URL)
	}
	if embed.Thumbnail != nil && embed.Thumbnail.URL != "" {
		urls = append(urls, embed.Thumbnail.URL)
	}
	for _, url := range urls {
		name := path.Base(strings.SplitN(url, "?", 2)[0])
		if name == "." || name == "/" || name == "" {
			name = "embed-image"
		}
		uploaded, err := b.ingestURL(ctx, up, url, name, true)
		if err != nil {
			logger.Warn("embed image ingest failed", slog.String("url", url), slog.Any("error", err))
			continue
		}
		files = append(files, uploaded)
	}
	return files
}
