package session

import (
	"context"
	"log/slog"

	"github.com/sonicgate/sonicgate/pkg/gateway/live/protocol"
	"github.com/sonicgate/sonicgate/pkg/nova"
)

// Tool names the upstream model may invoke. Both are terminal: the
// client is notified and the upstream session is closed.
const (
	toolTransferCall = "transfer_call"
	toolEndCall      = "end_call"
)

const (
	transferMessage = "Transferring your call now."
	endCallMessage  = "Ending the call. Goodbye."
)

// translator consumes upstream frames and converts them into the small
// client-facing vocabulary, tracking the current turn's role and
// generation stage and deduplicating assistant text within a turn.
//
// The upstream streams low-latency speculative assistant transcripts
// followed by a corrected final transcript; forwarding both would show
// spoken content twice, so speculative lines are recorded but withheld.
type translator struct {
	upstream UpstreamSession
	notify   func(v any) error
	logger   *slog.Logger

	currentRole  string
	currentStage string
	emitted      []string
}

// run loops until the session goes inactive, the context is canceled,
// or the peer on either side fails. All translation failures end the
// loop silently; a malformed upstream frame is dropped and never
// crashes the bridge.
func (t *translator) run(ctx context.Context) {
	for t.upstream.Active() {
		data, err := t.upstream.Receive(ctx)
		if err != nil {
			t.logger.Debug("upstream receive ended", "error", err)
			return
		}
		ev, err := nova.DecodeEvent(data)
		if err != nil {
			t.logger.Debug("dropping malformed upstream frame", "error", err)
			continue
		}
		if err := t.handle(ctx, ev); err != nil {
			t.logger.Debug("client notify failed, ending translation", "error", err)
			return
		}
	}
}

func (t *translator) handle(ctx context.Context, ev nova.Event) error {
	switch {
	case ev.ContentStart != nil:
		return t.onContentStart(ev.ContentStart)
	case ev.TextOutput != nil:
		return t.onTextOutput(ev.TextOutput)
	case ev.AudioOutput != nil:
		return t.notify(protocol.NewAudio(nova.OutputSampleRateHz, ev.AudioOutput.Content))
	case ev.ContentEnd != nil:
		return t.notify(protocol.NewContentEnd(t.currentRole))
	case ev.ToolUse != nil:
		return t.onToolUse(ctx, ev.ToolUse)
	default:
		return nil
	}
}

func (t *translator) onContentStart(cs *nova.ContentStart) error {
	t.currentRole = cs.Role
	if cs.Role == nova.RoleAssistant {
		// New assistant turn starts with a clean dedup window.
		t.emitted = t.emitted[:0]
	}
	t.currentStage = cs.GenerationStage()
	return t.notify(protocol.NewContentStart(cs.Role))
}

func (t *translator) onTextOutput(out *nova.TextOutput) error {
	switch t.currentRole {
	case nova.RoleUser:
		// Each user transcript event is a distinct partial or final; no dedup.
		return t.notify(protocol.NewText("user", out.Content))
	case nova.RoleAssistant:
		if out.Content == "" || t.alreadyEmitted(out.Content) {
			return nil
		}
		t.emitted = append(t.emitted, out.Content)
		if t.currentStage == nova.StageSpeculative {
			// Recorded so the later FINAL duplicate stays suppressed,
			// but never shown to the client.
			return nil
		}
		return t.notify(protocol.NewText("assistant", out.Content))
	default:
		return nil
	}
}

func (t *translator) alreadyEmitted(text string) bool {
	for _, line := range t.emitted {
		if line == text {
			return true
		}
	}
	return false
}

func (t *translator) onToolUse(ctx context.Context, tool *nova.ToolUse) error {
	switch tool.ToolName {
	case toolTransferCall:
		err := t.notify(protocol.NewTransfer(transferMessage))
		t.closeUpstream(ctx, tool.ToolName)
		return err
	case toolEndCall:
		err := t.notify(protocol.NewEndCall(endCallMessage))
		t.closeUpstream(ctx, tool.ToolName)
		return err
	default:
		t.logger.Debug("ignoring unrecognized tool", "tool_name", tool.ToolName)
		return nil
	}
}

func (t *translator) closeUpstream(ctx context.Context, toolName string) {
	if err := t.upstream.Close(ctx); err != nil {
		t.logger.Warn("upstream close after tool invocation", "tool_name", toolName, "error", err)
	}
}
