package nova

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrSessionInactive is returned when an operation requires a live
	// upstream stream and there is none.
	ErrSessionInactive = errors.New("nova: session is not active")

	// ErrAlreadyStarted guards the single-SYSTEM-block rule: starting a
	// session twice would put a second SYSTEM content block on the wire
	// and corrupt the upstream conversation.
	ErrAlreadyStarted = errors.New("nova: session already started")
)

// Session owns one conversation with the speech model: it opens the
// upstream stream, issues the session/prompt/content lifecycle events,
// and tracks the currently open audio content block.
//
// All emission is serialized; events reach the wire in the exact order
// the methods were invoked, even under concurrent callers.
type Session struct {
	modelID string
	region  string
	opener  Opener
	logger  *slog.Logger

	mu               sync.Mutex
	stream           Stream
	active           bool
	promptName       string
	textContentName  string
	audioContentName string
}

func NewSession(opener Opener, modelID, region string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		modelID:         modelID,
		region:          region,
		opener:          opener,
		logger:          logger,
		promptName:      "prompt-" + uuid.NewString(),
		textContentName: "text-" + uuid.NewString(),
	}
}

// PromptName is the session-scoped prompt identifier, stable for the
// session's lifetime.
func (s *Session) PromptName() string {
	return s.promptName
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start opens the upstream stream and emits, in order: sessionStart,
// promptStart, and the single SYSTEM text block carrying the persona
// prompt. A failure to open propagates and leaves the session unusable;
// a failure while emitting tears the stream down before propagating.
func (s *Session) Start(ctx context.Context, systemPrompt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return ErrAlreadyStarted
	}

	stream, err := s.opener.Open(ctx, s.modelID)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	s.stream = stream
	s.active = true

	if err := s.emitStartSequence(ctx, systemPrompt); err != nil {
		_ = stream.Close()
		s.stream = nil
		s.active = false
		return fmt.Errorf("start session: %w", err)
	}

	s.logger.Debug("nova session started",
		"model_id", s.modelID,
		"region", s.region,
		"prompt_name", s.promptName,
	)
	return nil
}

func (s *Session) emitStartSequence(ctx context.Context, systemPrompt string) error {
	steps := []func() ([]byte, error){
		sessionStartEvent,
		func() ([]byte, error) { return promptStartEvent(s.promptName) },
		func() ([]byte, error) { return textContentStartEvent(s.promptName, s.textContentName, RoleSystem) },
		func() ([]byte, error) { return textInputEvent(s.promptName, s.textContentName, systemPrompt) },
		func() ([]byte, error) { return contentEndEvent(s.promptName, s.textContentName) },
	}
	for _, step := range steps {
		data, err := step()
		if err != nil {
			return err
		}
		if err := s.stream.Send(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

// BeginAudioTurn opens a fresh USER audio content block. If a previous
// turn is still open it is closed first, so at most one audio block is
// ever open and none is left unterminated upstream.
func (s *Session) BeginAudioTurn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ErrSessionInactive
	}
	return s.beginAudioTurnLocked(ctx)
}

func (s *Session) beginAudioTurnLocked(ctx context.Context) error {
	if s.audioContentName != "" {
		data, err := contentEndEvent(s.promptName, s.audioContentName)
		if err != nil {
			return err
		}
		if err := s.stream.Send(ctx, data); err != nil {
			return fmt.Errorf("close stale audio turn: %w", err)
		}
		s.logger.Debug("closed stale audio turn", "content_name", s.audioContentName)
		s.audioContentName = ""
	}

	name := "audio-" + uuid.NewString()
	data, err := audioContentStartEvent(s.promptName, name)
	if err != nil {
		return err
	}
	if err := s.stream.Send(ctx, data); err != nil {
		return fmt.Errorf("begin audio turn: %w", err)
	}
	s.audioContentName = name
	return nil
}

// SendAudioChunk base64-encodes one raw PCM chunk and emits it against
// the open audio block. A chunk arriving with no open turn opens one
// first; implicitOpen reports that recovery so callers can surface the
// client protocol violation.
func (s *Session) SendAudioChunk(ctx context.Context, pcm []byte) (implicitOpen bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return false, ErrSessionInactive
	}
	if s.audioContentName == "" {
		if err := s.beginAudioTurnLocked(ctx); err != nil {
			return false, err
		}
		implicitOpen = true
	}

	data, err := audioInputEvent(s.promptName, s.audioContentName, base64.StdEncoding.EncodeToString(pcm))
	if err != nil {
		return implicitOpen, err
	}
	if err := s.stream.Send(ctx, data); err != nil {
		return implicitOpen, fmt.Errorf("send audio chunk: %w", err)
	}
	return implicitOpen, nil
}

// EndAudioTurn closes the open audio block. Calling it with no open
// turn, or on an inactive session, is a no-op.
func (s *Session) EndAudioTurn(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.audioContentName == "" {
		return nil
	}
	data, err := contentEndEvent(s.promptName, s.audioContentName)
	if err != nil {
		return err
	}
	if err := s.stream.Send(ctx, data); err != nil {
		return fmt.Errorf("end audio turn: %w", err)
	}
	s.audioContentName = ""
	return nil
}

// Receive blocks for the next upstream frame. It is safe to call
// concurrently with the emission methods.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return nil, ErrSessionInactive
	}
	return stream.Receive(ctx)
}

// Close runs the closing handshake best-effort: promptEnd, sessionEnd,
// then the stream teardown. Each step runs regardless of earlier
// failures; the combined diagnostic is returned for logging and the
// session always ends inactive. Closing an inactive session is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil
	}

	var errs []error
	if data, err := promptEndEvent(s.promptName); err != nil {
		errs = append(errs, err)
	} else if err := s.stream.Send(ctx, data); err != nil {
		errs = append(errs, fmt.Errorf("send promptEnd: %w", err))
	}
	if data, err := sessionEndEvent(); err != nil {
		errs = append(errs, err)
	} else if err := s.stream.Send(ctx, data); err != nil {
		errs = append(errs, fmt.Errorf("send sessionEnd: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}

	s.audioContentName = ""
	s.active = false
	return errors.Join(errs...)
}
