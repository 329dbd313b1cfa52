// Package gateway is the HTTP front door: it receives Slack Events API
// callbacks, verifies their signatures, and hands parsed mentions to
// the relay engine. It also serves health, status and debug endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/tinyland-inc/slackrelay/pkg/logger"
	"github.com/tinyland-inc/slackrelay/pkg/mapping"
	"github.com/tinyland-inc/slackrelay/pkg/relay"
)

// maxEventBody bounds inbound request bodies. Slack events are small;
// anything past this is garbage.
const maxEventBody = 1 << 20

// eventEnvelope is the outer shape of an Events API request. Only the
// routing fields are decoded here; the inner event payload goes through
// slackevents.
type eventEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	APIAppID  string `json:"api_app_id"`
	EventTime int64  `json:"event_time"`
}

// Server hosts the gateway endpoints on a plain HTTP listener.
type Server struct {
	server        *http.Server
	signingSecret string
	appID         string
	handler       *relay.Handler
	registry      *relay.Registry
	archive       *relay.Archive
	table         *mapping.Table
}

func NewServer(host string, port int, signingSecret, appID string, handler *relay.Handler, registry *relay.Registry, archive *relay.Archive, table *mapping.Table) *Server {
	s := &Server{
		signingSecret: signingSecret,
		appID:         appID,
		handler:       handler,
		registry:      registry,
		archive:       archive,
		table:         table,
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/slack/events", s.handleSlackEvents)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/debug/create-and-send", s.handleCreateAndSend)
	return mux
}

// Start blocks serving requests until Stop is called.
func (s *Server) Start() error {
	logger.InfoCF("gateway", "Gateway listening", map[string]any{"addr": s.server.Addr})
	return s.server.ListenAndServe()
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleSlackEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if s.signingSecret != "" {
		if err := verifySignature(r.Header, s.signingSecret, body); err != nil {
			logger.WarnCF("gateway", "Rejected event with bad signature", map[string]any{"error": err.Error()})
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "malformed event payload")
		return
	}

	// Slack sends this once when the endpoint URL is registered.
	if envelope.Type == "url_verification" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"challenge": envelope.Challenge})
		return
	}

	// Events for other Slack apps sharing the endpoint are acknowledged
	// and dropped.
	if s.appID != "" && envelope.APIAppID != "" && envelope.APIAppID != s.appID {
		logger.DebugCF("gateway", "Ignoring event for foreign app", map[string]any{"api_app_id": envelope.APIAppID})
		writeOK(w, "ignored")
		return
	}

	parsed, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed event payload")
		return
	}

	mention, ok := parsed.InnerEvent.Data.(*slackevents.AppMentionEvent)
	if !ok {
		// Subscribed but uninteresting event types are acknowledged so
		// Slack does not redeliver them.
		writeOK(w, "ignored")
		return
	}

	ev := relay.MentionEvent{
		EventID:   strconv.FormatInt(envelope.EventTime, 10),
		Text:      mention.Text,
		ThreadID:  mention.ThreadTimeStamp,
		ChannelID: mention.Channel,
	}
	if ev.ThreadID == "" {
		ev.ThreadID = mention.TimeStamp
	}

	if err := s.handler.HandleMention(r.Context(), ev); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, "ok")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "success",
		"message": "slackrelay gateway is running",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jobs, deliveries := s.archive.Totals()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"in_flight":      s.registry.Len(),
		"mapped_threads": s.table.Len(),
		"answered_jobs":  jobs,
		"deliveries":     deliveries,
	})
}

func (s *Server) handleCreateAndSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	jobID, err := s.handler.CreateAndSend(r.Context(), req.Message)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "success",
		"job_id": jobID,
	})
}

// verifySignature checks Slack's request signature with the app's
// signing secret.
func verifySignature(header http.Header, secret string, body []byte) error {
	verifier, err := slack.NewSecretsVerifier(header, secret)
	if err != nil {
		return err
	}
	if _, err := verifier.Write(body); err != nil {
		return err
	}
	return verifier.Ensure()
}

func writeOK(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": msg})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"message": msg,
	})
}
