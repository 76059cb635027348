package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sonicgate/sonicgate/pkg/gateway/config"
	"github.com/sonicgate/sonicgate/pkg/gateway/lifecycle"
	"github.com/sonicgate/sonicgate/pkg/gateway/live/session"
	"github.com/sonicgate/sonicgate/pkg/gateway/live/sessions"
	"github.com/sonicgate/sonicgate/pkg/gateway/mw"
	"github.com/sonicgate/sonicgate/pkg/nova"
	"github.com/sonicgate/sonicgate/pkg/promptstore"
)

// LiveHandler upgrades /ws requests and runs one voice session per
// connection.
type LiveHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Opener       nova.Opener
	Prompts      promptstore.Store
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.LiveHandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := "s_" + randHex(8)
	requestID, _ := mw.RequestIDFrom(r.Context())

	systemPrompt := h.Config.SystemPrompt
	if h.Prompts != nil {
		if prompt, err := h.Prompts.Get(r.Context()); err == nil && strings.TrimSpace(prompt.Text) != "" {
			systemPrompt = prompt.Text
		} else if err != nil && h.Logger != nil {
			h.Logger.Warn("prompt store unavailable, using configured prompt", "session_id", sessionID, "error", err)
		}
	}

	upstream := nova.NewSession(h.Opener, h.Config.ModelID, h.Config.Region, h.Logger)
	bridge, err := session.New(session.Dependencies{
		Conn:         conn,
		Upstream:     upstream,
		Logger:       h.Logger,
		SystemPrompt: systemPrompt,
		SessionID:    sessionID,
		RequestID:    requestID,
		Config: session.Config{
			WriteTimeout:        h.Config.LiveWSWriteTimeout,
			ReadTimeout:         h.Config.LiveWSReadTimeout,
			PingInterval:        h.Config.LiveWSPingInterval,
			MaxJSONMessageBytes: h.Config.LiveMaxJSONMessageBytes,
		},
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("live session setup failed", "session_id", sessionID, "error", err)
		}
		return
	}

	unregister := func() {}
	if h.LiveSessions != nil {
		unregister = h.LiveSessions.Register(sessionID, sessions.Handle{
			Cancel: bridge.Cancel,
			Notify: bridge.Notify,
		})
	}
	defer unregister()

	if err := bridge.Run(); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live session ended with error", "session_id", sessionID, "request_id", requestID, "error", err)
		}
	}
}

// originAllowed accepts requests with no Origin header, requests from
// the gateway's own host (so the built-in console at / can connect
// without configuration), and origins on the configured allowlist.
func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(b)
}
