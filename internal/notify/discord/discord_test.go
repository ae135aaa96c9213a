package discord

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/caboose/internal/notify"
)

type mockSession struct {
	calls    int
	channel  string
	last     *discordgo.MessageSend
	failures []error
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.calls++
	m.channel = channelID
	m.last = data
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return nil, err
	}
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func rateLimited() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Opts{ChannelID: "123"})
	assert.Error(t, err)
	_, err = New(Opts{Session: &mockSession{}})
	assert.Error(t, err)
}

func TestNotify_SendsEmbed(t *testing.T) {
	ms := &mockSession{}
	n, err := New(Opts{ChannelID: "123", Session: ms})
	require.NoError(t, err)

	err = n.Notify(context.Background(), notify.Alert{
		Title: "Follow-up dispatch pass for acme", Body: "Errors:\n- boom", Color: "#e8a317",
		Fields: []notify.Field{{Name: "errors", Value: "1", Short: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, "123", ms.channel)
	require.Len(t, ms.last.Embeds, 1)
	embed := ms.last.Embeds[0]
	assert.Equal(t, 0xe8a317, embed.Color)
	assert.Equal(t, "Errors:\n- boom", embed.Description)
	require.Len(t, embed.Fields, 1)
	assert.True(t, embed.Fields[0].Inline)
}

func TestNotify_RetriesRateLimit(t *testing.T) {
	ms := &mockSession{failures: []error{rateLimited()}}
	n, err := New(Opts{ChannelID: "123", Session: ms})
	require.NoError(t, err)
	n.baseBackoff = time.Millisecond

	require.NoError(t, n.Notify(context.Background(), notify.Alert{Title: "x"}))
	assert.Equal(t, 2, ms.calls)
}

func TestNotify_GivesUp(t *testing.T) {
	ms := &mockSession{failures: []error{errors.New("missing access")}}
	n, err := New(Opts{ChannelID: "123", Session: ms})
	require.NoError(t, err)

	err = n.Notify(context.Background(), notify.Alert{Title: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, ms.calls)
}

func TestParseHexColor(t *testing.T) {
	assert.Equal(t, 0x36a64f, parseHexColor("#36a64f"))
	assert.Equal(t, 0xD00000, parseHexColor("D00000"))
	assert.Equal(t, 0, parseHexColor(""))
}
