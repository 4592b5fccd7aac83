package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replyTo(ref *discordgo.Message, content string) *discordgo.MessageCreate {
	m := inbound(content)
	m.ReferencedMessage = ref
	return m
}

func TestBuildReplyContext_NoReferenceNoBlock(t *testing.T) {
	t.Parallel()
	b := testBot(Options{})
	block, files := b.buildReplyContext(context.Background(), testLogger(), &fakeDiscord{}, inbound("hi"), "bot", &fakeUploader{})
	assert.Empty(t, block)
	assert.Empty(t, files)
}

func TestBuildReplyContext_ReplyToBotIgnored(t *testing.T) {
	t.Parallel()
	b := testBot(Options{})
	ref := userMessage("r", "bot", "rakubot", "earlier answer", time.Now())
	block, files := b.buildReplyContext(context.Background(), testLogger(), &fakeDiscord{}, replyTo(ref, "hi"), "bot", &fakeUploader{})
	assert.Empty(t, block)
	assert.Empty(t, files)
}

func TestBuildReplyContext_SameAuthorWithGaps(t *testing.T) {
	t.Parallel()
	b := testBot(Options{})
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ref := userMessage("3", "bob-id", "bob", "third", base.Add(3*time.Minute))
	fake := &fakeDiscord{history: []*discordgo.Message{
		// Discord returns newest first; an interleaved reply from another
		// author sits in the middle of the window.
		userMessage("4", "carol-id", "carol", "interleaved", base.Add(4*time.Minute)),
		ref,
		userMessage("2", "bob-id", "bob", "second\nwith a second line", base.Add(2*time.Minute)),
		userMessage("1", "bob-id", "bob", "first", base.Add(time.Minute)),
	}}

	block, files := b.buildReplyContext(context.Background(), testLogger(), fake, replyTo(ref, "hi"), "bot", &fakeUploader{})
	require.NotEmpty(t, block)
	assert.Empty(t, files)

	assert.Contains(t, block, "bob (@bob, bob-id):")
	assert.NotContains(t, block, "interleaved")

	lines := quotedLines(block)
	require.Len(t, lines, 4)
	assert.Equal(t, "> first", lines[0])
	assert.Equal(t, "> second", lines[1])
	assert.Equal(t, "> with a second line", lines[2])
	assert.Equal(t, "> third", lines[3])
}

func TestBuildReplyContext_IngestsAttachmentsAndEmbedImages(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "bytes")
	}))
	defer srv.Close()

	b := testBot(Options{})
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ref := userMessage("1", "bob-id", "bob", "look at these", base)
	ref.Embeds = []*discordgo.MessageEmbed{{
		Title:       "chart",
		Description: "today's chart",
		Image:       &discordgo.MessageEmbedImage{URL: srv.URL + "/chart.png"},
		Thumbnail:   &discordgo.MessageEmbedThumbnail{URL: srv.URL + "/thumb.png"},
	}}
	ref.Attachments = []*discordgo.MessageAttachment{{
		Filename:    "notes.txt",
		URL:         srv.URL + "/notes.txt",
		ContentType: "text/plain",
	}}
	fake := &fakeDiscord{history: []*discordgo.Message{ref}}
	up := &fakeUploader{}

	block, files := b.buildReplyContext(context.Background(), testLogger(), fake, replyTo(ref, "hi"), "bot", up)

	// Two embedded images plus one attachment: exactly three files.
	require.Len(t, files, 3)
	assert.Equal(t, "chart.png", files[0].Name)
	assert.True(t, files[0].IsImage)
	assert.Equal(t, "thumb.png", files[1].Name)
	assert.True(t, files[1].IsImage)
	assert.Equal(t, "notes.txt", files[2].Name)
	assert.False(t, files[2].IsImage)

	assert.Contains(t, block, "> look at these")
	assert.Contains(t, block, "[embed] chart: today's chart")
}

func TestBuildReplyContext_HistoryFailureDegradesGracefully(t *testing.T) {
	t.Parallel()
	b := testBot(Options{})
	ref := userMessage("1", "bob-id", "bob", "earlier", time.Now())
	fake := &fakeDiscord{historyErr: errors.New("50001 missing access")}

	block, files := b.buildReplyContext(context.Background(), testLogger(), fake, replyTo(ref, "hi"), "bot", &fakeUploader{})
	assert.Empty(t, block)
	assert.Empty(t, files)
}

func TestBuildReplyContext_ReferencedMessageOutsideWindowStillQuoted(t *testing.T) {
	t.Parallel()
	b := testBot(Options{})
	ref := userMessage("old", "bob-id", "bob", "ancient wisdom", time.Now())
	fake := &fakeDiscord{history: []*discordgo.Message{}}

	block, _ := b.buildReplyContext(context.Background(), testLogger(), fake, replyTo(ref, "hi"), "bot", &fakeUploader{})
	assert.Contains(t, block, "> ancient wisdom")
}

func TestBuildReplyContext_EndsWithBlankLineSeparator(t *testing.T) {
	t.Parallel()
	b := testBot(Options{})
	ref := userMessage("1", "bob-id", "bob", "earlier", time.Now())
	fake := &fakeDiscord{history: []*discordgo.Message{ref}}

	block, _ := b.buildReplyContext(context.Background(), testLogger(), fake, replyTo(ref, "hi"), "bot", &fakeUploader{})
	assert.True(t, len(block) > 2 && block[len(block)-2:] == "\n\n")
}
