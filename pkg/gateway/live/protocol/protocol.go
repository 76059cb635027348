// Package protocol defines the browser-facing wire vocabulary for one
// live voice connection: the JSON control frames a client may send and
// the notifications the gateway sends back. Binary frames (raw PCM16
// audio) are not decoded here; they bypass the JSON layer entirely.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client control frame types.
const (
	TypeBeginAudio = "beginAudio"
	TypeEndAudio   = "endAudio"
)

// Server notification types.
const (
	TypeReady         = "ready"
	TypeContentStart  = "contentStart"
	TypeText          = "text"
	TypeAudio         = "audio"
	TypeContentEnd    = "contentEnd"
	TypeTransfer      = "transfer"
	TypeEndCall       = "end_call"
	TypeError         = "error"
	TypeNotice        = "notice"
	TypePromptUpdated = "promptUpdated"
)

// DecodeError describes a client frame the gateway could not accept.
// These are dropped, never fatal to the connection.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badRequest(message string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message}
}

// Command is one decoded client control frame. Unknown types decode
// successfully and are ignored by the caller (forward compatible).
type Command struct {
	Type string `json:"type"`
}

// DecodeCommand parses a client text frame. Malformed JSON and frames
// without a type are rejected with a *DecodeError.
func DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, badRequest("invalid json frame")
	}
	cmd.Type = strings.TrimSpace(cmd.Type)
	if cmd.Type == "" {
		return Command{}, badRequest("missing type")
	}
	return cmd, nil
}

type Ready struct {
	Type       string `json:"type"`
	PromptName string `json:"promptName"`
}

func NewReady(promptName string) Ready {
	return Ready{Type: TypeReady, PromptName: promptName}
}

type ContentStart struct {
	Type string `json:"type"`
	Role string `json:"role"`
}

func NewContentStart(role string) ContentStart {
	return ContentStart{Type: TypeContentStart, Role: role}
}

type Text struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

func NewText(role, content string) Text {
	return Text{Type: TypeText, Role: role, Content: content}
}

type Audio struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sampleRate"`
	// Content is base64-encoded PCM16 at SampleRate.
	Content string `json:"content"`
}

func NewAudio(sampleRate int, contentB64 string) Audio {
	return Audio{Type: TypeAudio, SampleRate: sampleRate, Content: contentB64}
}

type ContentEnd struct {
	Type string `json:"type"`
	Role string `json:"role"`
}

func NewContentEnd(role string) ContentEnd {
	return ContentEnd{Type: TypeContentEnd, Role: role}
}

// ToolNotice tells the client a terminal tool fired upstream; Type is
// TypeTransfer or TypeEndCall.
type ToolNotice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewTransfer(message string) ToolNotice {
	return ToolNotice{Type: TypeTransfer, Message: message}
}

func NewEndCall(message string) ToolNotice {
	return ToolNotice{Type: TypeEndCall, Message: message}
}

type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewServerError(message string) ServerError {
	return ServerError{Type: TypeError, Message: message}
}

// Notice is an advisory the client may ignore, e.g. drain warnings.
type Notice struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewNotice(code, message string) Notice {
	return Notice{Type: TypeNotice, Code: code, Message: message}
}

// PromptUpdated signals that the stored system prompt changed; it
// applies to connections opened after the change.
type PromptUpdated struct {
	Type string `json:"type"`
}

func NewPromptUpdated() PromptUpdated {
	return PromptUpdated{Type: TypePromptUpdated}
}
