package gigachat

import (
	"context"
	"testing"

	"github.com/Role1776/gigago"
	"github.com/stretchr/testify/require"

	"expense-agent/internal/domain"
)

func TestNewClient_RequiresAuthKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{AuthKey: "  "})
	require.ErrorContains(t, err, "auth key")
}

func TestToMessages_FlattensToUserTurns(t *testing.T) {
	msgs := toMessages([]domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "Return only JSON."},
		{Role: domain.RoleUser, Content: " Spent 300 rubles on coffee "},
		{Role: domain.RoleAssistant, Content: ""},
	})
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.Equal(t, gigago.RoleUser, m.Role)
	}
	require.Equal(t, "Spent 300 rubles on coffee", msgs[1].Content)
}

type recordedCall struct {
	messages []gigago.Message
	opts     domain.CompletionOptions
}

func stubClient(reply string, vision VisionCompleter) (*Client, *[]recordedCall) {
	var calls []recordedCall
	c := &Client{
		generate: func(_ context.Context, messages []gigago.Message, opts domain.CompletionOptions) (string, error) {
			calls = append(calls, recordedCall{messages: messages, opts: opts})
			return reply, nil
		},
		vision: vision,
	}
	return c, &calls
}

type fakeVision struct {
	prompt string
	mime   string
	opts   domain.CompletionOptions
}

func (f *fakeVision) CompleteWithImage(_ context.Context, prompt string, _ []byte, mime string, opts domain.CompletionOptions) (string, error) {
	f.prompt, f.mime, f.opts = prompt, mime, opts
	return `{"amount":"12.50"}`, nil
}

func TestComplete_ForwardsTokenBudget(t *testing.T) {
	c, calls := stubClient("  {\"is_query\":false}\n", nil)
	out, err := c.Complete(context.Background(),
		[]domain.ChatMessage{{Role: domain.RoleUser, Content: "coffee 300"}},
		domain.CompletionOptions{Temperature: 0.1, MaxTokens: 50})
	require.NoError(t, err)
	require.Equal(t, `{"is_query":false}`, out)
	require.Len(t, *calls, 1)
	require.Equal(t, 50, (*calls)[0].opts.MaxTokens)
}

func TestComplete_RejectsEmptyConversation(t *testing.T) {
	c, calls := stubClient("x", nil)
	_, err := c.Complete(context.Background(), nil, domain.CompletionOptions{})
	require.Error(t, err)
	require.Empty(t, *calls)
}

func TestCompleteWithImage_DelegatesToVision(t *testing.T) {
	vision := &fakeVision{}
	c, calls := stubClient("unused", vision)
	out, err := c.CompleteWithImage(context.Background(), "read the receipt", []byte{0xff, 0xd8}, "image/jpeg", domain.CompletionOptions{MaxTokens: 1000})
	require.NoError(t, err)
	require.Equal(t, `{"amount":"12.50"}`, out)
	require.Equal(t, "read the receipt", vision.prompt)
	require.Equal(t, "image/jpeg", vision.mime)
	require.Equal(t, 1000, vision.opts.MaxTokens)
	require.Empty(t, *calls)
}

func TestCompleteWithImage_Unsupported(t *testing.T) {
	_, err := (&Client{}).CompleteWithImage(context.Background(), "p", []byte{1}, "image/jpeg", domain.CompletionOptions{})
	require.ErrorIs(t, err, ErrVisionUnsupported)
}
