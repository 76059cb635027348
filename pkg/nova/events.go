package nova

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Roles and content types used by the upstream event protocol.
const (
	RoleSystem    = "SYSTEM"
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"

	ContentTypeText  = "TEXT"
	ContentTypeAudio = "AUDIO"

	StageSpeculative = "SPECULATIVE"
	StageFinal       = "FINAL"
)

// Fixed inference parameters for every session. These are protocol
// constants, not tunables.
const (
	inferenceMaxTokens   = 1024
	inferenceTopP        = 0.9
	inferenceTemperature = 0.7
)

// Audio shapes on the two legs of the bridge: microphone input arrives as
// 16 kHz PCM16 mono, synthesized speech comes back at 24 kHz.
const (
	InputSampleRateHz  = 16000
	OutputSampleRateHz = 24000

	audioMediaType = "audio/lpcm"
	sampleSizeBits = 16
	channelCount   = 1
	outputVoiceID  = "sarah"
)

func envelope(key string, body any) ([]byte, error) {
	payload := map[string]any{"event": map[string]any{key: body}}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", key, err)
	}
	return data, nil
}

type inferenceConfiguration struct {
	MaxTokens   int     `json:"maxTokens"`
	TopP        float64 `json:"topP"`
	Temperature float64 `json:"temperature"`
}

func sessionStartEvent() ([]byte, error) {
	return envelope("sessionStart", map[string]any{
		"inferenceConfiguration": inferenceConfiguration{
			MaxTokens:   inferenceMaxTokens,
			TopP:        inferenceTopP,
			Temperature: inferenceTemperature,
		},
	})
}

func promptStartEvent(promptName string) ([]byte, error) {
	return envelope("promptStart", map[string]any{
		"promptName":              promptName,
		"textOutputConfiguration": map[string]any{"mediaType": "text/plain"},
		"audioOutputConfiguration": map[string]any{
			"mediaType":       audioMediaType,
			"sampleRateHertz": OutputSampleRateHz,
			"sampleSizeBits":  sampleSizeBits,
			"channelCount":    channelCount,
			"voiceId":         outputVoiceID,
			"encoding":        "base64",
			"audioType":       "SPEECH",
		},
	})
}

func textContentStartEvent(promptName, contentName, role string) ([]byte, error) {
	return envelope("contentStart", map[string]any{
		"promptName":             promptName,
		"contentName":            contentName,
		"type":                   ContentTypeText,
		"interactive":            true,
		"role":                   role,
		"textInputConfiguration": map[string]any{"mediaType": "text/plain"},
	})
}

func audioContentStartEvent(promptName, contentName string) ([]byte, error) {
	return envelope("contentStart", map[string]any{
		"promptName":  promptName,
		"contentName": contentName,
		"type":        ContentTypeAudio,
		"interactive": true,
		"role":        RoleUser,
		"audioInputConfiguration": map[string]any{
			"mediaType":       audioMediaType,
			"sampleRateHertz": InputSampleRateHz,
			"sampleSizeBits":  sampleSizeBits,
			"channelCount":    channelCount,
			"audioType":       "SPEECH",
			"encoding":        "base64",
		},
	})
}

func textInputEvent(promptName, contentName, content string) ([]byte, error) {
	return envelope("textInput", map[string]any{
		"promptName":  promptName,
		"contentName": contentName,
		"content":     content,
	})
}

func audioInputEvent(promptName, contentName, contentB64 string) ([]byte, error) {
	return envelope("audioInput", map[string]any{
		"promptName":  promptName,
		"contentName": contentName,
		"content":     contentB64,
	})
}

func contentEndEvent(promptName, contentName string) ([]byte, error) {
	return envelope("contentEnd", map[string]any{
		"promptName":  promptName,
		"contentName": contentName,
	})
}

func promptEndEvent(promptName string) ([]byte, error) {
	return envelope("promptEnd", map[string]any{"promptName": promptName})
}

func sessionEndEvent() ([]byte, error) {
	return envelope("sessionEnd", map[string]any{})
}

// Event is one decoded upstream frame. Exactly zero or one of the
// pointer fields is set; frames carrying event kinds this bridge does
// not consume decode to the zero Event and are dropped by the caller.
type Event struct {
	ContentStart *ContentStart
	TextOutput   *TextOutput
	AudioOutput  *AudioOutput
	ContentEnd   *ContentEnd
	ToolUse      *ToolUse
}

type ContentStart struct {
	Role string `json:"role"`
	Type string `json:"type"`

	// AdditionalModelFields is a JSON string with generation metadata;
	// only generationStage is consumed.
	AdditionalModelFields string `json:"additionalModelFields"`
}

// GenerationStage returns SPECULATIVE or FINAL when the content start
// carries a parseable stage marker, and "" otherwise. Malformed
// auxiliary fields are treated as no stage.
func (c *ContentStart) GenerationStage() string {
	if c == nil || strings.TrimSpace(c.AdditionalModelFields) == "" {
		return ""
	}
	var fields struct {
		GenerationStage string `json:"generationStage"`
	}
	if err := json.Unmarshal([]byte(c.AdditionalModelFields), &fields); err != nil {
		return ""
	}
	switch fields.GenerationStage {
	case StageSpeculative, StageFinal:
		return fields.GenerationStage
	default:
		return ""
	}
}

type TextOutput struct {
	Content string `json:"content"`
}

type AudioOutput struct {
	// Content is base64-encoded PCM16 at OutputSampleRateHz.
	Content string `json:"content"`
}

type ContentEnd struct {
	ContentName string `json:"contentName"`
	StopReason  string `json:"stopReason"`
}

type ToolUse struct {
	ToolName  string `json:"toolName"`
	ToolUseID string `json:"toolUseId"`
	Content   string `json:"content"`
}

// DecodeEvent parses one upstream frame. Unknown event kinds are not an
// error; they produce a zero Event.
func DecodeEvent(data []byte) (Event, error) {
	var frame struct {
		Event struct {
			ContentStart *ContentStart `json:"contentStart"`
			TextOutput   *TextOutput   `json:"textOutput"`
			AudioOutput  *AudioOutput  `json:"audioOutput"`
			ContentEnd   *ContentEnd   `json:"contentEnd"`
			ToolUse      *ToolUse      `json:"toolUse"`
		} `json:"event"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return Event{}, fmt.Errorf("decode upstream frame: %w", err)
	}
	return Event{
		ContentStart: frame.Event.ContentStart,
		TextOutput:   frame.Event.TextOutput,
		AudioOutput:  frame.Event.AudioOutput,
		ContentEnd:   frame.Event.ContentEnd,
		ToolUse:      frame.Event.ToolUse,
	}, nil
}
