package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

type State int

const (
	StateWaiting State = iota
	StateInit
	StateRunning
	StateDone
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Envelope is one NDJSON frame of the SDK WebSocket protocol. Message types
// use different subsets of the fields.
type Envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`

	// system/init
	SessionID         string   `json:"session_id,omitempty"`
	Cwd               string   `json:"cwd,omitempty"`
	Tools             []string `json:"tools,omitempty"`
	Model             string   `json:"model,omitempty"`
	ClaudeCodeVersion string   `json:"claude_code_version,omitempty"`

	// control_request
	RequestID string          `json:"request_id,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`

	// assistant
	Message json.RawMessage `json:"message,omitempty"`

	// result
	IsError      *bool       `json:"is_error,omitempty"`
	Result       string      `json:"result,omitempty"`
	Errors       []string    `json:"errors,omitempty"`
	DurationMs   int         `json:"duration_ms,omitempty"`
	NumTurns     int         `json:"num_turns,omitempty"`
	TotalCostUSD float64     `json:"total_cost_usd,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

type ControlRequest struct {
	Subtype   string          `json:"subtype"`
	ToolName  string          `json:"tool_name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
}

type AssistantMessage struct {
	Role    string         `json:"role"`
	Model   string         `json:"model,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
	Usage   *TokenUsage    `json:"usage,omitempty"`
}

// ContentBlock is a text or tool_use block of an assistant message.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type TokenUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// Metrics summarise a session; written next to the transcript on request.
type Metrics struct {
	InputTokens         int      `json:"input_tokens"`
	OutputTokens        int      `json:"output_tokens"`
	CacheReadTokens     int      `json:"cache_read_tokens,omitempty"`
	CacheCreationTokens int      `json:"cache_creation_tokens,omitempty"`
	Turns               int      `json:"turns"`
	ToolsUsed           []string `json:"tools_used"`
	DurationMs          int      `json:"duration_ms,omitempty"`
	TotalCostUSD        float64  `json:"total_cost_usd,omitempty"`
	Outcome             string   `json:"outcome,omitempty"`
}

type ServerOpts struct {
	Prompt      string
	Transcript  io.Writer
	MetricsFile string
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// Server drives one Claude Code session: it sends the prompt, approves every
// tool request and writes a plain-text transcript of what the agent said and
// did.
type Server struct {
	state      State
	sessionID  string
	opts       ServerOpts
	transcript io.Writer
	logger     *slog.Logger
	metrics    Metrics
	toolsSeen  map[string]bool
	failed     bool
}

func NewServer(opts ServerOpts) *Server {
	s := &Server{
		state:      StateWaiting,
		opts:       opts,
		transcript: opts.Transcript,
		logger:     opts.Logger,
		toolsSeen:  make(map[string]bool),
	}
	if s.transcript == nil {
		s.transcript = io.Discard
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.opts.IdleTimeout <= 0 {
		s.opts.IdleTimeout = 10 * time.Minute
	}
	return s
}

// Failed reports whether the session ended with an error result.
func (s *Server) Failed() bool { return s.failed }

func (s *Server) HandleConnection(ctx context.Context, conn *websocket.Conn) error {
	s.setState(StateInit)

	for s.state != StateDone {
		readCtx, cancel := context.WithTimeout(ctx, s.opts.IdleTimeout)
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("read in state %s: %w", s.state, err)
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Debug("malformed frame", "data", string(data))
			continue
		}
		s.logger.Debug("recv", "type", env.Type, "subtype", env.Subtype, "state", s.state)

		responses, err := s.handleMessage(&env)
		if err != nil {
			return fmt.Errorf("handle message in state %s: %w", s.state, err)
		}
		for _, resp := range responses {
			if err := conn.Write(ctx, websocket.MessageText, resp); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}
	}
	return s.writeMetrics()
}

func (s *Server) setState(st State) {
	s.state = st
	s.logger.Debug("state", "state", st)
}

func (s *Server) handleMessage(env *Envelope) ([]json.RawMessage, error) {
	switch s.state {
	case StateInit:
		return s.handleInit(env)
	case StateRunning:
		return s.handleRunning(env)
	default:
		return nil, fmt.Errorf("unexpected message in state %s", s.state)
	}
}

func (s *Server) handleInit(env *Envelope) ([]json.RawMessage, error) {
	if env.Type != "system" || env.Subtype != "init" {
		return nil, fmt.Errorf("expected system/init, got type=%s subtype=%s", env.Type, env.Subtype)
	}
	s.sessionID = env.SessionID
	s.logger.Info("session started", "session", env.SessionID, "model", env.Model, "version", env.ClaudeCodeVersion)

	data, err := json.Marshal(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": s.opts.Prompt,
		},
		"parent_tool_use_id": nil,
		"session_id":         s.sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal user message: %w", err)
	}
	s.setState(StateRunning)
	return []json.RawMessage{data}, nil
}

func (s *Server) handleRunning(env *Envelope) ([]json.RawMessage, error) {
	switch env.Type {
	case "control_request":
		return s.handleControlRequest(env)
	case "assistant":
		s.handleAssistant(env)
	case "result":
		s.handleResult(env)
	case "keep_alive", "stream_event", "tool_progress", "tool_use_summary", "system", "auth_status", "user":
	default:
		s.logger.Warn("unknown message type", "type", env.Type)
	}
	return nil, nil
}

// handleControlRequest approves every tool use with its original input.
func (s *Server) handleControlRequest(env *Envelope) ([]json.RawMessage, error) {
	var req ControlRequest
	if err := json.Unmarshal(env.Request, &req); err != nil {
		return nil, fmt.Errorf("unmarshal control request: %w", err)
	}
	if req.Subtype != "can_use_tool" {
		s.logger.Warn("unknown control_request subtype", "subtype", req.Subtype)
		return nil, nil
	}
	if req.ToolName != "" && !s.toolsSeen[req.ToolName] {
		s.toolsSeen[req.ToolName] = true
		s.metrics.ToolsUsed = append(s.metrics.ToolsUsed, req.ToolName)
	}

	data, err := json.Marshal(map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": env.RequestID,
			"response": map[string]any{
				"behavior":     "allow",
				"updatedInput": req.Input,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal control response: %w", err)
	}
	return []json.RawMessage{data}, nil
}

func (s *Server) handleAssistant(env *Envelope) {
	s.metrics.Turns++
	if env.Message == nil {
		return
	}
	var msg AssistantMessage
	if err := json.Unmarshal(env.Message, &msg); err != nil {
		s.logger.Debug("unparseable assistant message", "error", err)
		return
	}
	if msg.Usage != nil {
		s.metrics.InputTokens += msg.Usage.InputTokens
		s.metrics.OutputTokens += msg.Usage.OutputTokens
		s.metrics.CacheReadTokens += msg.Usage.CacheReadInputTokens
		s.metrics.CacheCreationTokens += msg.Usage.CacheCreationInputTokens
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if text := strings.TrimSpace(block.Text); text != "" {
				fmt.Fprintf(s.transcript, "[assistant] %s\n", text)
			}
		case "tool_use":
			fmt.Fprintf(s.transcript, "[tool] %s %s\n", block.Name, compactJSON(block.Input))
		}
	}
}

// handleResult records the final result. Its usage is cumulative and
// replaces the per-message sums.
func (s *Server) handleResult(env *Envelope) {
	if env.Usage != nil {
		s.metrics.InputTokens = env.Usage.InputTokens
		s.metrics.OutputTokens = env.Usage.OutputTokens
		s.metrics.CacheReadTokens = env.Usage.CacheReadInputTokens
		s.metrics.CacheCreationTokens = env.Usage.CacheCreationInputTokens
	}
	if env.NumTurns > 0 {
		s.metrics.Turns = env.NumTurns
	}
	s.metrics.DurationMs = env.DurationMs
	s.metrics.TotalCostUSD = env.TotalCostUSD
	s.metrics.Outcome = env.Subtype

	s.failed = env.IsError != nil && *env.IsError
	if s.failed {
		fmt.Fprintf(s.transcript, "[result] %s: %s\n", env.Subtype, strings.Join(env.Errors, "; "))
	} else {
		fmt.Fprintf(s.transcript, "[result] %s: %s\n", env.Subtype, strings.TrimSpace(env.Result))
	}
	s.logger.Info("session finished", "outcome", env.Subtype, "turns", s.metrics.Turns, "cost_usd", env.TotalCostUSD)
	s.setState(StateDone)
}

func (s *Server) writeMetrics() error {
	if s.opts.MetricsFile == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.metrics, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	if err := os.WriteFile(s.opts.MetricsFile, data, 0o644); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
