package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dylanbstorey/arawn/internal/agent"
	"github.com/dylanbstorey/arawn/internal/llm"
	"github.com/dylanbstorey/arawn/pkg/models"
)

// Wire error codes.
const (
	// ErrCodeSessionNotOwned is the sentinel a non-owner receives when
	// attempting a chat on a session held by another connection.
	ErrCodeSessionNotOwned = "session_not_owned"
	ErrCodeRateLimited     = "rate_limited"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeBadRequest      = "bad_request"
	ErrCodeInternal        = "internal"
)

// wsEvent is one server-to-client record.
type wsEvent struct {
	Type string `json:"type"`
	// Request correlation, echoed from the frame id when present.
	ID string `json:"id,omitempty"`

	// subscribe_ack
	SessionID      string `json:"session_id,omitempty"`
	Owner          *bool  `json:"owner,omitempty"`
	ReconnectToken string `json:"reconnect_token,omitempty"`

	// text_delta
	Chunk string `json:"chunk,omitempty"`

	// tool_start / tool_output / tool_end
	ToolID   string `json:"tool_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	Content  string `json:"content,omitempty"`
	Success  *bool  `json:"success,omitempty"`

	// done
	FinalText string     `json:"final_text,omitempty"`
	Usage     *llm.Usage `json:"usage,omitempty"`
	Truncated bool       `json:"truncated,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// context_info
	CurrentTokens int     `json:"current_tokens,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	Percent       float64 `json:"percent,omitempty"`
	Status        string  `json:"status,omitempty"`

	// disk_pressure / workstream_usage
	Workstream string  `json:"workstream,omitempty"`
	Level      string  `json:"level,omitempty"`
	UsageBytes int64   `json:"usage_bytes,omitempty"`
	LimitBytes int64   `json:"limit_bytes,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsConn is one connected client.
type wsConn struct {
	id    ConnectionID
	ws    *websocket.Conn
	state *AppState

	writeMu sync.Mutex

	// issuedTokens maps subscribed sessions to the reconnect tokens handed to
	// this client; consulted on disconnect to install pending reconnects.
	tokensMu     sync.Mutex
	issuedTokens map[models.SessionID]string

	// abort cancels the in-flight turn, if any.
	abortMu sync.Mutex
	abort   context.CancelFunc
}

// Handler returns the HTTP handler exposing /ws.
func Handler(state *AppState, authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWS(state, authToken, w, r)
	})
	return mux
}

func serveWS(state *AppState, authToken string, w http.ResponseWriter, r *http.Request) {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if !state.Runtime.Tracker.CheckRate(ip, state.Services.Config.Server.WSConnectionsPerMinute) {
		http.Error(w, "connection rate exceeded", http.StatusTooManyRequests)
		return
	}

	if authToken != "" {
		presented := r.Header.Get("Authorization")
		if presented != "Bearer "+authToken && r.URL.Query().Get("token") != authToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := &wsConn{
		id:           uuid.NewString(),
		ws:           ws,
		state:        state,
		issuedTokens: make(map[models.SessionID]string),
	}
	slog.Debug("websocket connected", "connection_id", conn.id, "ip", ip)
	conn.readLoop(r.Context())
}

func (c *wsConn) send(event wsEvent) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(event); err != nil {
		slog.Debug("websocket write failed", "connection_id", c.id, "error", err)
	}
}

func (c *wsConn) sendError(requestID, code, message string) {
	c.send(wsEvent{Type: "error", ID: requestID, Code: code, Message: message})
}

func (c *wsConn) readLoop(ctx context.Context) {
	defer c.onDisconnect()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendError("", ErrCodeBadRequest, "invalid frame: "+err.Error())
			continue
		}
		if err := validateWSFrame(raw, &frame); err != nil {
			c.sendError(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
			continue
		}

		switch frame.Method {
		case "subscribe":
			c.handleSubscribe(ctx, frame)
		case "chat":
			c.handleChat(ctx, frame)
		case "chat.abort":
			c.handleAbort(frame)
		case "session.close":
			c.handleSessionClose(ctx, frame)
		case "workstream.usage":
			c.handleWorkstreamUsage(frame)
		default:
			c.sendError(frame.ID, ErrCodeBadRequest, "unknown method: "+frame.Method)
		}
	}
}

// onDisconnect releases this connection's ownerships, installing pending
// reconnects for every session it held a token for.
func (c *wsConn) onDisconnect() {
	c.abortTurn()

	c.tokensMu.Lock()
	tokens := make(map[models.SessionID]string, len(c.issuedTokens))
	for id, token := range c.issuedTokens {
		tokens[id] = token
	}
	c.tokensMu.Unlock()

	c.state.Runtime.Ownership.ReleaseAll(c.id, tokens)
	_ = c.ws.Close()
	slog.Debug("websocket disconnected", "connection_id", c.id)
}

type subscribeParams struct {
	SessionID      string `json:"session_id"`
	Workstream     string `json:"workstream"`
	ReconnectToken string `json:"reconnect_token"`
}

func (c *wsConn) handleSubscribe(ctx context.Context, frame wsFrame) {
	var params subscribeParams
	if len(frame.Params) > 0 {
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, ErrCodeBadRequest, err.Error())
			return
		}
	}

	ownership := c.state.Runtime.Ownership
	ownership.CleanupExpired()

	var idPtr *models.SessionID
	if params.SessionID != "" {
		id := params.SessionID
		idPtr = &id
	}
	sessionID, err := c.state.GetOrCreateSession(ctx, idPtr, params.Workstream)
	if err != nil {
		c.sendError(frame.ID, ErrCodeInternal, err.Error())
		return
	}

	owner := false
	token := ""
	if params.ReconnectToken != "" {
		if newToken := ownership.Reclaim(sessionID, params.ReconnectToken, c.id); newToken != "" {
			owner = true
			token = newToken
		}
	}
	if !owner && ownership.TryClaim(sessionID, c.id) {
		owner = true
		token = uuid.NewString()
	}

	if token != "" {
		c.tokensMu.Lock()
		c.issuedTokens[sessionID] = token
		c.tokensMu.Unlock()
	}

	c.send(wsEvent{
		Type:           "subscribe_ack",
		ID:             frame.ID,
		SessionID:      sessionID,
		Owner:          &owner,
		ReconnectToken: token,
	})
}

type chatParams struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (c *wsConn) handleChat(ctx context.Context, frame wsFrame) {
	var params chatParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		c.sendError(frame.ID, ErrCodeBadRequest, err.Error())
		return
	}

	if !c.state.Runtime.Ownership.IsOwner(params.SessionID, c.id) {
		c.sendError(frame.ID, ErrCodeSessionNotOwned, "session is owned by another connection")
		return
	}

	turnCtx, cancel := context.WithCancel(context.Background())
	c.abortMu.Lock()
	if c.abort != nil {
		c.abort()
	}
	c.abort = cancel
	c.abortMu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("chat turn panicked",
					"session_id", params.SessionID,
					"connection_id", c.id,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				c.sendError(frame.ID, ErrCodeInternal, fmt.Sprintf("turn failed: %v", r))
			}
		}()
		c.runTurn(turnCtx, frame.ID, params)
	}()
}

// runTurn streams one turn's chunks to the client, then writes the mutated
// session back through the cache.
func (c *wsConn) runTurn(ctx context.Context, requestID string, params chatParams) {
	cache := c.state.Runtime.Cache
	engine := c.state.Services.Engine

	err := cache.WithSessionMut(ctx, params.SessionID, func(session *models.Session) error {
		for chunk := range engine.TurnStream(ctx, session, params.Message) {
			switch chunk.Kind {
			case agent.ChunkTextDelta:
				c.send(wsEvent{Type: "text_delta", ID: requestID, Chunk: chunk.Text})
			case agent.ChunkToolStart:
				c.send(wsEvent{Type: "tool_start", ID: requestID, ToolID: chunk.ToolCallID, ToolName: chunk.ToolName})
			case agent.ChunkToolOutput:
				c.send(wsEvent{Type: "tool_output", ID: requestID, ToolID: chunk.ToolCallID, Content: chunk.Content})
			case agent.ChunkToolEnd:
				success := chunk.Success
				c.send(wsEvent{Type: "tool_end", ID: requestID, ToolID: chunk.ToolCallID, Success: &success})
			case agent.ChunkDone:
				usage := chunk.Usage
				c.send(wsEvent{
					Type:      "done",
					ID:        requestID,
					FinalText: chunk.FinalText,
					Usage:     &usage,
					Truncated: chunk.Truncated,
				})
				c.sendContextInfo(requestID, session)
			case agent.ChunkError:
				c.sendError(requestID, ErrCodeInternal, chunk.Err.Error())
			}
		}
		return nil
	})
	if err != nil {
		c.sendError(requestID, ErrCodeInternal, err.Error())
	}
}

// sendContextInfo reports the session's estimated context consumption.
func (c *wsConn) sendContextInfo(requestID string, session *models.Session) {
	maxTokens := c.state.Services.Engine.Config().MaxContextTokens
	if maxTokens <= 0 {
		return
	}
	current := 0
	for _, turn := range session.Turns {
		current += llm.EstimateTokens(turn.UserMessage) + llm.EstimateTokens(turn.AssistantResponse)
	}
	percent := float64(current) / float64(maxTokens) * 100
	status := "ok"
	switch {
	case percent >= 90:
		status = "critical"
	case percent >= 75:
		status = "warning"
	}
	c.send(wsEvent{
		Type:          "context_info",
		ID:            requestID,
		CurrentTokens: current,
		MaxTokens:     maxTokens,
		Percent:       percent,
		Status:        status,
	})
}

func (c *wsConn) handleAbort(frame wsFrame) {
	c.abortTurn()
	c.send(wsEvent{Type: "done", ID: frame.ID, Truncated: false})
}

func (c *wsConn) abortTurn() {
	c.abortMu.Lock()
	defer c.abortMu.Unlock()
	if c.abort != nil {
		c.abort()
		c.abort = nil
	}
}

type sessionCloseParams struct {
	SessionID string `json:"session_id"`
}

func (c *wsConn) handleSessionClose(ctx context.Context, frame wsFrame) {
	var params sessionCloseParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		c.sendError(frame.ID, ErrCodeBadRequest, err.Error())
		return
	}
	closed := c.state.CloseSession(ctx, params.SessionID)
	c.state.Runtime.Ownership.Release(params.SessionID, c.id)
	success := closed
	c.send(wsEvent{Type: "done", ID: frame.ID, Success: &success})
}

type workstreamUsageParams struct {
	Workstream string `json:"workstream"`
}

func (c *wsConn) handleWorkstreamUsage(frame wsFrame) {
	var params workstreamUsageParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		c.sendError(frame.ID, ErrCodeBadRequest, err.Error())
		return
	}
	if c.state.Services.Dirs == nil {
		c.sendError(frame.ID, ErrCodeInternal, "no directory manager configured")
		return
	}
	usage, err := c.state.Services.Dirs.MeasureUsage(params.Workstream, c.state.Services.Config.Workstream.Usage)
	if err != nil {
		c.sendError(frame.ID, ErrCodeBadRequest, err.Error())
		return
	}

	c.send(wsEvent{
		Type:       "workstream_usage",
		ID:         frame.ID,
		Workstream: usage.Workstream,
		UsageBytes: usage.UsageBytes,
		LimitBytes: usage.LimitBytes,
		Percent:    usage.Percent,
		Level:      string(usage.Level),
	})
	if usage.Level != "none" {
		c.send(wsEvent{
			Type:       "disk_pressure",
			Workstream: usage.Workstream,
			Level:      string(usage.Level),
			UsageBytes: usage.UsageBytes,
			LimitBytes: usage.LimitBytes,
			Percent:    usage.Percent,
		})
	}
}
