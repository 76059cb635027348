// Package session runs one live voice connection end to end: it owns
// the websocket, drives the upstream speech-model session from client
// frames, and supervises the translator goroutine that carries model
// events back to the client.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sonicgate/sonicgate/pkg/gateway/live/protocol"
	"github.com/sonicgate/sonicgate/pkg/nova"
)

// ClientConn is the slice of *websocket.Conn the bridge uses. Tests
// substitute in-memory fakes.
type ClientConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// UpstreamSession is the slice of *nova.Session the bridge and the
// translator drive.
type UpstreamSession interface {
	Start(ctx context.Context, systemPrompt string) error
	BeginAudioTurn(ctx context.Context) error
	SendAudioChunk(ctx context.Context, pcm []byte) (implicitOpen bool, err error)
	EndAudioTurn(ctx context.Context) error
	Receive(ctx context.Context) ([]byte, error)
	Active() bool
	Close(ctx context.Context) error
	PromptName() string
}

type Config struct {
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	PingInterval        time.Duration
	MaxJSONMessageBytes int64
}

type Dependencies struct {
	Conn         ClientConn
	Upstream     UpstreamSession
	Logger       *slog.Logger
	SystemPrompt string
	SessionID    string
	RequestID    string
	Config       Config
}

// Bridge is the per-connection control loop. One Bridge owns exactly
// one ClientConn and one UpstreamSession; nothing is shared across
// connections.
type Bridge struct {
	conn         ClientConn
	upstream     UpstreamSession
	logger       *slog.Logger
	systemPrompt string
	sessionID    string
	requestID    string
	cfg          Config

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
}

func New(deps Dependencies) (*Bridge, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Upstream == nil {
		return nil, fmt.Errorf("upstream session is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.WriteTimeout <= 0 {
		deps.Config.WriteTimeout = 5 * time.Second
	}
	if deps.Config.PingInterval <= 0 {
		deps.Config.PingInterval = 20 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		conn:         deps.Conn,
		upstream:     deps.Upstream,
		logger:       deps.Logger,
		systemPrompt: deps.SystemPrompt,
		sessionID:    deps.SessionID,
		requestID:    deps.RequestID,
		cfg:          deps.Config,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Cancel tears the connection down from outside the run loop, e.g.
// during process shutdown. Closing the socket unblocks the read loop;
// teardown then runs as usual.
func (b *Bridge) Cancel() {
	b.cancel()
	_ = b.conn.Close()
}

// Notify sends one out-of-band notification to the client, serialized
// with the bridge's own writes. Used by the connection registry for
// broadcasts.
func (b *Bridge) Notify(v any) error {
	return b.writeJSON(v)
}

// Run executes the connection lifecycle: start the upstream session,
// tell the client it is ready, launch the translator, then consume
// client frames until disconnect or failure. Teardown always runs and
// never raises: each step is individually caught and the combined
// diagnostic is logged.
func (b *Bridge) Run() error {
	defer b.cancel()

	if b.cfg.MaxJSONMessageBytes > 0 {
		b.conn.SetReadLimit(b.cfg.MaxJSONMessageBytes)
	}
	if b.cfg.ReadTimeout > 0 {
		_ = b.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
		b.conn.SetPongHandler(func(string) error {
			return b.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
		})
	}

	if err := b.upstream.Start(b.ctx, b.systemPrompt); err != nil {
		if code := nova.APIErrorCode(err); code != "" {
			b.logger.Error("speech session start failed", "session_id", b.sessionID, "error_code", code, "error", err)
		} else {
			b.logger.Error("speech session start failed", "session_id", b.sessionID, "error", err)
		}
		_ = b.writeJSON(protocol.NewServerError("failed to start speech session"))
		return err
	}

	if err := b.writeJSON(protocol.NewReady(b.upstream.PromptName())); err != nil {
		b.teardown(nil)
		return err
	}

	translatorDone := make(chan struct{})
	tr := &translator{upstream: b.upstream, notify: b.writeJSON, logger: b.logger}
	go func() {
		defer close(translatorDone)
		tr.run(b.ctx)
	}()

	go b.pingLoop()

	loopErr := b.readLoop()
	if loopErr != nil {
		// Best-effort: the client may already be gone.
		_ = b.writeJSON(protocol.NewServerError("internal server error"))
	}

	b.teardown(translatorDone)
	return loopErr
}

// readLoop consumes client frames. A read error means the client went
// away, which is a normal exit; only upstream failures surface as loop
// errors.
func (b *Bridge) readLoop() error {
	for {
		messageType, data, err := b.conn.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				b.logger.Debug("client read ended", "session_id", b.sessionID, "error", err)
			}
			return nil
		}
		if b.cfg.ReadTimeout > 0 {
			_ = b.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
		}

		var opErr error
		switch messageType {
		case websocket.TextMessage:
			opErr = b.handleCommand(data)
		case websocket.BinaryMessage:
			opErr = b.handleAudio(data)
		}
		if opErr != nil {
			if errors.Is(opErr, nova.ErrSessionInactive) {
				// A terminal tool already closed the session; stop
				// without treating it as a failure.
				return nil
			}
			return opErr
		}
		if !b.upstream.Active() {
			return nil
		}
	}
}

func (b *Bridge) handleCommand(data []byte) error {
	cmd, err := protocol.DecodeCommand(data)
	if err != nil {
		b.logger.Debug("dropping malformed client frame", "session_id", b.sessionID, "error", err)
		return nil
	}
	switch cmd.Type {
	case protocol.TypeBeginAudio:
		return b.upstream.BeginAudioTurn(b.ctx)
	case protocol.TypeEndAudio:
		return b.upstream.EndAudioTurn(b.ctx)
	default:
		// Forward compatible: unknown commands are no-ops.
		return nil
	}
}

func (b *Bridge) handleAudio(pcm []byte) error {
	implicit, err := b.upstream.SendAudioChunk(b.ctx, pcm)
	if implicit {
		b.logger.Warn("audio chunk before beginAudio, opened turn implicitly", "session_id", b.sessionID)
	}
	return err
}

// teardown runs every step regardless of earlier failures so the
// upstream session gets its closing handshake even when the client
// vanished mid-stream.
func (b *Bridge) teardown(translatorDone <-chan struct{}) {
	b.cancel()
	if translatorDone != nil {
		<-translatorDone
	}

	var errs []error
	if err := b.upstream.Close(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("close upstream: %w", err))
	}
	if err := b.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close client conn: %w", err))
	}
	if diag := errors.Join(errs...); diag != nil {
		b.logger.Warn("teardown finished with diagnostics", "session_id", b.sessionID, "request_id", b.requestID, "error", diag)
	}
}

func (b *Bridge) pingLoop() {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(b.cfg.WriteTimeout)
			if err := b.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return
			}
		}
	}
}

func (b *Bridge) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
