package bot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/evex-dev/rakubot/internal/rakuten"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBot(opts Options) *Bot {
	return New(testLogger(), nil, nil, opts)
}

type sentMessage struct {
	Kind    string // "reply", "send", "edit"
	ID      string
	Content string
}

// fakeDiscord records the pipeline's outbound calls and serves a canned
// history window.
type fakeDiscord struct {
	mu         sync.Mutex
	nextID     int
	sent       []sentMessage
	history    []*discordgo.Message
	historyErr error
	typing     int
	sendErr    error
}

func (f *fakeDiscord) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeDiscord) record(kind, content string) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.nextID++
	id := fmt.Sprintf("m-%d", f.nextID)
	f.sent = append(f.sent, sentMessage{Kind: kind, ID: id, Content: content})
	return &discordgo.Message{ID: id, Content: content}, nil
}

func (f *fakeDiscord) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f.record("send", content)
}

func (f *fakeDiscord) ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f.record("reply", content)
}

func (f *fakeDiscord) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{Kind: "edit", ID: messageID, Content: content})
	return &discordgo.Message{ID: messageID, Content: content}, nil
}

func (f *fakeDiscord) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

// fakeUploader hands out sequential file handles and records what was
// ingested.
type fakeUploader struct {
	mu       sync.Mutex
	nextID   int
	uploaded []rakuten.UploadedFile
}

func (u *fakeUploader) UploadFile(ctx context.Context, name string, r io.Reader, isImage bool) (rakuten.UploadedFile, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.nextID++
	f := rakuten.UploadedFile{ID: fmt.Sprintf("f-%d", u.nextID), Name: name, IsImage: isImage}
	u.uploaded = append(u.uploaded, f)
	return f, nil
}

func userMessage(id, authorID, username, content string, at time.Time) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		Content:   content,
		Timestamp: at,
		Author:    &discordgo.User{ID: authorID, Username: username},
	}
}

func inbound(content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "trigger",
		ChannelID: "chan",
		GuildID:   "guild",
		Content:   content,
		Author:    &discordgo.User{ID: "author", Username: "alice"},
	}}
}

func quotedLines(block string) []string {
	var lines []string
	for _, line := range strings.Split(block, "\n") {
		if strings.HasPrefix(line, "> ") {
			lines = append(lines, line)
		}
	}
	return lines
}
