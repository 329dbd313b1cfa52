// Package chat wraps the Slack Web API surface the relay needs for
// outbound messages.
package chat

import (
	"context"

	"github.com/slack-go/slack"

	"github.com/tinyland-inc/slackrelay/pkg/logger"
)

// Poster posts messages through the Slack Web API with a bot token.
type Poster struct {
	api *slack.Client
}

func NewPoster(botToken string, opts ...slack.Option) *Poster {
	return &Poster{api: slack.New(botToken, opts...)}
}

// PostToThread posts text as a threaded reply. ok is true only when
// Slack acknowledged the message, which is the signal the delivery
// engine keys retirement on.
func (p *Poster) PostToThread(ctx context.Context, channelID, threadTS, text string) (bool, error) {
	_, _, err := p.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		logger.WarnCF("chat", "Failed to post thread reply", map[string]any{
			"channel_id": channelID,
			"thread_ts":  threadTS,
			"error":      err.Error(),
		})
		return false, err
	}
	return true, nil
}

// PostToChannel posts text as a top-level channel message.
func (p *Poster) PostToChannel(ctx context.Context, channelID, text string) (bool, error) {
	_, _, err := p.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		logger.WarnCF("chat", "Failed to post channel message", map[string]any{
			"channel_id": channelID,
			"error":      err.Error(),
		})
		return false, err
	}
	return true, nil
}
