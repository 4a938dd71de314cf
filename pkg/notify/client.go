package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"
)

// lookbackWindow bounds how far FindSessionThread searches for an earlier
// notice to thread under.
const (
	lookbackWindow = 24 * time.Hour
	lookbackLimit  = 50
)

// Client wraps the two Slack Web API calls the notifier needs: posting to
// the ops channel and scanning its recent history.
type Client struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

func NewClient(token, channelID string) *Client {
	return newClient(goslack.New(token), channelID)
}

// NewClientWithAPIURL points the SDK at a custom API base URL, which is
// how the tests substitute a stub server.
func NewClientWithAPIURL(token, channelID, apiURL string) *Client {
	return newClient(goslack.New(token, goslack.OptionAPIURL(apiURL)), channelID)
}

func newClient(api *goslack.Client, channelID string) *Client {
	return &Client{
		api:       api,
		channelID: channelID,
		logger:    slog.Default().With("component", "notify-client"),
	}
}

// PostMessage delivers blocks to the ops channel. fallback is the plain
// text shown in previews; FindSessionThread later matches against it, so
// it must carry the session ID. A non-empty threadTS posts a threaded
// reply.
func (c *Client) PostMessage(ctx context.Context, fallback string, blocks []goslack.Block, threadTS string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := []goslack.MsgOption{
		goslack.MsgOptionText(fallback, false),
		goslack.MsgOptionBlocks(blocks...),
	}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}
	if _, _, err := c.api.PostMessageContext(ctx, c.channelID, opts...); err != nil {
		return fmt.Errorf("post to ops channel: %w", err)
	}
	return nil
}

// FindSessionThread looks through the last day of channel history for an
// earlier notice mentioning sessionID and returns its ts, so repeat
// failures stack under one thread. Empty means this is the first.
func (c *Client) FindSessionThread(ctx context.Context, sessionID string) (string, error) {
	history, err := c.api.GetConversationHistoryContext(ctx, &goslack.GetConversationHistoryParameters{
		ChannelID: c.channelID,
		Oldest:    fmt.Sprintf("%d", time.Now().Add(-lookbackWindow).Unix()),
		Limit:     lookbackLimit,
	})
	if err != nil {
		return "", fmt.Errorf("read ops channel history: %w", err)
	}

	needle := foldText(sessionID)
	for _, msg := range history.Messages {
		if strings.Contains(foldText(messageText(msg)), needle) {
			return msg.Timestamp, nil
		}
	}
	return "", nil
}
