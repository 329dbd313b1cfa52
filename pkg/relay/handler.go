// Package relay implements the job correlation and delivery engine: it
// deduplicates inbound Slack mentions, maps each conversation thread to a
// long-lived node job, tracks jobs awaiting a reply, and delivers each
// reply back into its originating thread at most once.
package relay

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tinyland-inc/slackrelay/pkg/logger"
	"github.com/tinyland-inc/slackrelay/pkg/mapping"
)

// ErrEmptyMessage means the mention carried no text once the bot's own
// mention token was stripped; surfaced to the front door as a client
// error.
var ErrEmptyMessage = errors.New("empty message, nothing to pass to the node")

// NodeClient is the slice of the remote node's job API the engine needs.
type NodeClient interface {
	CreateJob(ctx context.Context, agentID string) (string, error)
	SendMessage(ctx context.Context, jobID, content string) (string, error)
	FetchLatestResponse(ctx context.Context, jobID, agentID string) (string, error)
}

// Poster delivers text into a Slack conversation. ok reports whether the
// platform confirmed the delivery.
type Poster interface {
	PostToThread(ctx context.Context, channelID, threadTS, text string) (ok bool, err error)
}

// MentionEvent is a parsed app-mention. ThreadID is the thread timestamp,
// falling back to the message timestamp when the mention starts a new
// thread. EventID is the platform's per-event identity used for dedup.
type MentionEvent struct {
	EventID   string
	Text      string
	ThreadID  string
	ChannelID string
}

// mentionToken matches the leading self-mention Slack prepends to every
// app_mention text, e.g. "<@U0123ABCD> do the thing".
var mentionToken = regexp.MustCompile(`^\s*<@[A-Z0-9]+>\s*`)

// Handler processes inbound mention events. It owns the dedup set; the
// correlation table and registry are shared with the poll loop's side of
// the engine.
type Handler struct {
	table    *mapping.Table
	node     NodeClient
	registry *Registry
	dedup    *Dedup
	agentID  string
}

func NewHandler(table *mapping.Table, node NodeClient, registry *Registry, dedup *Dedup, agentID string) *Handler {
	return &Handler{
		table:    table,
		node:     node,
		registry: registry,
		dedup:    dedup,
		agentID:  agentID,
	}
}

// HandleMention runs the full inbound path: dedup, mention stripping,
// job resolution, send, in-flight registration. A duplicate event is a
// successful no-op. Any failure releases the dedup reservation so the
// platform's redelivery can retry, and is returned for the front door to
// convert into a client error response; nothing here panics or crashes
// the process.
func (h *Handler) HandleMention(ctx context.Context, ev MentionEvent) error {
	if !h.dedup.Reserve(ev.EventID) {
		logger.InfoCF("relay", "Duplicate event skipped", map[string]any{"event_id": ev.EventID})
		return nil
	}

	if err := h.process(ctx, ev); err != nil {
		h.dedup.Release(ev.EventID)
		logger.WarnCF("relay", "Mention processing failed", map[string]any{
			"event_id": ev.EventID,
			"error":    err.Error(),
		})
		return err
	}
	return nil
}

func (h *Handler) process(ctx context.Context, ev MentionEvent) error {
	text := StripMention(ev.Text)
	if text == "" {
		return ErrEmptyMessage
	}
	if ev.ThreadID == "" {
		return errors.New("could not identify thread for reply")
	}

	jobID, err := h.table.ResolveOrCreate(ev.ThreadID, func() (string, error) {
		return h.node.CreateJob(ctx, h.agentID)
	})
	if err != nil {
		return err
	}

	if _, err := h.node.SendMessage(ctx, jobID, text); err != nil {
		return err
	}

	job := InFlightJob{
		JobID:       jobID,
		Message:     text,
		ThreadID:    ev.ThreadID,
		ChannelID:   ev.ChannelID,
		SubmittedAt: now(),
	}
	if err := h.registry.Add(job); err != nil {
		// The previous message on this job is still awaiting its reply;
		// the node folds this one into the same inbox.
		logger.InfoCF("relay", "Job already in flight, message folded in", map[string]any{
			"job_id": jobID,
		})
		return nil
	}

	logger.InfoCF("relay", "Message submitted to node", map[string]any{
		"job_id":    jobID,
		"thread_id": ev.ThreadID,
	})
	return nil
}

// CreateAndSend creates a fresh job and sends message into it, bypassing
// Slack entirely. Exposed through the debug endpoint to verify node
// connectivity.
func (h *Handler) CreateAndSend(ctx context.Context, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}

	jobID, err := h.node.CreateJob(ctx, h.agentID)
	if err != nil {
		return "", err
	}
	if _, err := h.node.SendMessage(ctx, jobID, message); err != nil {
		return "", fmt.Errorf("job %s created but send failed: %w", jobID, err)
	}

	logger.InfoCF("relay", "Debug job created and message sent", map[string]any{"job_id": jobID})
	return jobID, nil
}

// StripMention removes the leading self-mention token from a mention
// text and trims the remainder.
func StripMention(text string) string {
	return strings.TrimSpace(mentionToken.ReplaceAllString(text, ""))
}
