// Package node is the HTTP client for the remote agent node's job API:
// create a job, send a message into it, and read the job inbox for the
// latest reply. Request bodies are signed/encrypted envelopes built by
// pkg/wire.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tinyland-inc/slackrelay/pkg/wire"
)

var (
	// ErrJobCreation means the node rejected create_job; the caller must
	// not register an in-flight job for it.
	ErrJobCreation = errors.New("job creation failed")
	// ErrMessageSend means the node rejected job_message.
	ErrMessageSend = errors.New("message send failed")
	// ErrPoll is a transient inbox read failure; the caller retries on the
	// next poll tick without dropping the job.
	ErrPoll = errors.New("inbox poll failed")
)

// inboxFetchCount is how many trailing inbox messages one poll requests.
const inboxFetchCount = 10

type Client struct {
	http    *resty.Client
	builder *wire.Builder
}

func NewClient(baseURL string, builder *wire.Builder, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{http: rc, builder: builder}
}

// apiResponse is the node's uniform response contract.
type apiResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// inboxMessage models only the fields of a node inbox entry the bridge
// needs: the schema, the sender subidentity (empty for the job's own
// output) and the raw content.
type inboxMessage struct {
	Body struct {
		Unencrypted struct {
			MessageData struct {
				Unencrypted struct {
					MessageRawContent    string `json:"message_raw_content"`
					MessageContentSchema string `json:"message_content_schema"`
				} `json:"unencrypted"`
			} `json:"message_data"`
			InternalMetadata struct {
				SenderSubidentity string `json:"sender_subidentity"`
			} `json:"internal_metadata"`
		} `json:"unencrypted"`
	} `json:"body"`
}

// CreateJob registers a new job on the node for the given agent and
// returns the opaque job id.
func (c *Client) CreateJob(ctx context.Context, agentID string) (string, error) {
	env, err := c.builder.JobCreation(agentID)
	if err != nil {
		return "", fmt.Errorf("%w: building envelope: %v", ErrJobCreation, err)
	}

	data, err := c.post(ctx, "/v1/create_job", env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrJobCreation, err)
	}

	var jobID string
	if err := json.Unmarshal(data, &jobID); err != nil || jobID == "" {
		return "", fmt.Errorf("%w: unexpected job id payload %q", ErrJobCreation, string(data))
	}
	return jobID, nil
}

// SendMessage posts content into an existing job and returns the node's
// acknowledgment data.
func (c *Client) SendMessage(ctx context.Context, jobID, content string) (string, error) {
	env, err := c.builder.JobMessage(jobID, content)
	if err != nil {
		return "", fmt.Errorf("%w: building envelope: %v", ErrMessageSend, err)
	}

	data, err := c.post(ctx, "/v1/job_message", env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMessageSend, err)
	}

	var ack string
	if json.Unmarshal(data, &ack) != nil {
		ack = string(data)
	}
	return ack, nil
}

// FetchLatestResponse reads the job inbox and returns the text of the
// most recent reply. An inbox that still holds only the outbound message
// returns ("", nil): not ready yet, not an error.
func (c *Client) FetchLatestResponse(ctx context.Context, jobID, agentID string) (string, error) {
	_ = agentID // addressing is via the job inbox name

	env, err := c.builder.InboxRequest(jobID, inboxFetchCount)
	if err != nil {
		return "", fmt.Errorf("%w: building envelope: %v", ErrPoll, err)
	}

	data, err := c.post(ctx, "/v1/last_messages_from_inbox", env)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPoll, err)
	}

	var msgs []inboxMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return "", fmt.Errorf("%w: parsing inbox: %v", ErrPoll, err)
	}

	// A single entry is our own outbound message still awaiting an answer.
	if len(msgs) <= 1 {
		return "", nil
	}

	last := msgs[len(msgs)-1]
	inner := last.Body.Unencrypted
	if inner.MessageData.Unencrypted.MessageContentSchema != wire.SchemaJobMessage ||
		inner.InternalMetadata.SenderSubidentity != "" {
		return "", nil
	}

	var reply struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(inner.MessageData.Unencrypted.MessageRawContent), &reply); err != nil {
		return "", fmt.Errorf("%w: parsing reply content: %v", ErrPoll, err)
	}
	return reply.Content, nil
}

func (c *Client) post(ctx context.Context, path string, env *wire.Envelope) (json.RawMessage, error) {
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(env).
		SetResult(&out).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if out.Status != "success" {
		return nil, fmt.Errorf("POST %s: node returned %q: %s", path, out.Status, string(out.Data))
	}
	return out.Data, nil
}
