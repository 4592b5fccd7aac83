package bot

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

const botID = "1379433738143924284"

func mentioning(content string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "m",
		ChannelID: "chan",
		GuildID:   "guild",
		Content:   content,
		Author:    &discordgo.User{ID: "author", Username: "alice"},
		Mentions:  []*discordgo.User{{ID: botID}},
	}
}

func TestShouldHandle(t *testing.T) {
	t.Parallel()

	t.Run("mentioning guild message accepted", func(t *testing.T) {
		assert.True(t, shouldHandle(mentioning("<@"+botID+"> hello"), botID))
	})

	t.Run("bot author rejected", func(t *testing.T) {
		m := mentioning("hello")
		m.Author.Bot = true
		assert.False(t, shouldHandle(m, botID))
	})

	t.Run("no guild rejected", func(t *testing.T) {
		m := mentioning("hello")
		m.GuildID = ""
		assert.False(t, shouldHandle(m, botID))
	})

	t.Run("no mention rejected", func(t *testing.T) {
		m := mentioning("hello")
		m.Mentions = nil
		assert.False(t, shouldHandle(m, botID))
	})

	t.Run("mention of someone else rejected", func(t *testing.T) {
		m := mentioning("hello")
		m.Mentions = []*discordgo.User{{ID: "someone-else"}}
		assert.False(t, shouldHandle(m, botID))
	})

	t.Run("nil author rejected", func(t *testing.T) {
		m := mentioning("hello")
		m.Author = nil
		assert.False(t, shouldHandle(m, botID))
	})
}

func TestIsClearCommand(t *testing.T) {
	t.Parallel()
	assert.True(t, isClearCommand("<@"+botID+"> clear", botID))
	assert.True(t, isClearCommand("<@!"+botID+"> clear", botID))
	assert.True(t, isClearCommand("  <@"+botID+"> clear  ", botID))
	assert.False(t, isClearCommand("<@"+botID+"> clear everything", botID))
	assert.False(t, isClearCommand("<@"+botID+"> CLEAR", botID))
	assert.False(t, isClearCommand("clear", botID))
}

func TestStripMention(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "what is go", stripMention("<@"+botID+"> what is go", botID))
	assert.Equal(t, "what is go", stripMention("what is go <@!"+botID+">", botID))
	assert.Equal(t, "a  b", stripMention("a <@"+botID+"> b", botID))
	assert.Equal(t, "untouched", stripMention("untouched", botID))
}

func TestComposeInput(t *testing.T) {
	t.Parallel()
	m := inbound("<@" + botID + "> what is go")

	t.Run("plain turn", func(t *testing.T) {
		got := composeInput("", "", m, botID)
		assert.Equal(t, "alice (@alice, author):\nwhat is go", got)
	})

	t.Run("seed and context prepended", func(t *testing.T) {
		got := composeInput("be helpful", "Quoted messages from bob (@bob, b):\n> hi\n\n", m, botID)
		assert.Equal(t,
			"be helpful\n\nQuoted messages from bob (@bob, b):\n> hi\n\nalice (@alice, author):\nwhat is go",
			got)
	})

	t.Run("nickname preferred for attribution", func(t *testing.T) {
		nicked := inbound("<@" + botID + "> hi")
		nicked.Member = &discordgo.Member{Nick: "allie"}
		got := composeInput("", "", nicked, botID)
		assert.Equal(t, "allie (@alice, author):\nhi", got)
	})
}

func TestDisplayName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "nick", displayName(&discordgo.User{Username: "u", GlobalName: "g"}, &discordgo.Member{Nick: "nick"}))
	assert.Equal(t, "g", displayName(&discordgo.User{Username: "u", GlobalName: "g"}, nil))
	assert.Equal(t, "u", displayName(&discordgo.User{Username: "u"}, &discordgo.Member{}))
	assert.Equal(t, "unknown", displayName(nil, nil))
}

func TestReportError_SendsFormattedBlock(t *testing.T) {
	t.Parallel()
	b := testBot(Options{})
	fake := &fakeDiscord{}
	b.reportError(fake, inbound("hi"), assert.AnError)

	if assert.Len(t, fake.sent, 1) {
		assert.Equal(t, "reply", fake.sent[0].Kind)
		assert.Contains(t, fake.sent[0].Content, "```")
		assert.Contains(t, fake.sent[0].Content, assert.AnError.Error())
	}
}
