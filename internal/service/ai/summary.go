// Package ai turns session transcripts into structured clinical summaries
// using a chat model behind an eino chain.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

// NotDocumented fills summary fields the model left empty.
const NotDocumented = "Not documented"

// ErrTranscriptTooShort is returned for transcripts with too little text to summarize.
var ErrTranscriptTooShort = errors.New("transcript too short to summarize")

// MinTranscriptChars is the shortest transcript worth sending to the model.
const MinTranscriptChars = 10

// Summary is a structured clinical note keyed by SummaryFields.
type Summary map[string]string

// Service summarizes transcripts.
type Service struct {
	chatModel model.ChatModel
	prompts   *PromptManager
	chain     compose.Runnable[map[string]any, *schema.Message]
	log       zerolog.Logger
}

// NewService compiles the summary chain around chatModel.
func NewService(ctx context.Context, chatModel model.ChatModel, logger zerolog.Logger) (*Service, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("TRANSCRIPT: {transcript}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile summary chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		prompts:   NewPromptManager(),
		chain:     runnable,
		log:       logger.With().Str("component", "summary").Logger(),
	}, nil
}

// ValidConversationType reports whether t is a known conversation type.
func (s *Service) ValidConversationType(t string) bool {
	return s.prompts.ValidConversationType(t)
}

// Summarize produces a structured summary. A model failure or unparseable
// answer degrades to a keyword-based summary rather than an error.
func (s *Service) Summarize(ctx context.Context, transcript, conversationType string) (Summary, error) {
	if len(strings.TrimSpace(transcript)) < MinTranscriptChars {
		return nil, ErrTranscriptTooShort
	}

	resp, err := s.chain.Invoke(ctx, s.buildChainInput(transcript, conversationType))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Error().Err(err).Msg("summary model failed, using keyword fallback")
		return BasicSummary(transcript), nil
	}

	summary, err := ParseSummary(resp.Content)
	if err != nil {
		s.log.Warn().Err(err).Msg("summary JSON parsing failed, using keyword fallback")
		return BasicSummary(transcript), nil
	}

	s.log.Info().Str("conversation_type", conversationType).Int("transcript_chars", len(transcript)).Msg("summary generated")
	return summary, nil
}

// Stream streams the raw model output for the summary prompt.
func (s *Service) Stream(ctx context.Context, transcript, conversationType string) (*schema.StreamReader[*schema.Message], error) {
	if len(strings.TrimSpace(transcript)) < MinTranscriptChars {
		return nil, ErrTranscriptTooShort
	}

	stream, err := s.chain.Stream(ctx, s.buildChainInput(transcript, conversationType))
	if err != nil {
		return nil, fmt.Errorf("failed to stream summary: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(transcript, conversationType string) map[string]any {
	return map[string]any{
		"system":     s.prompts.BuildSystemPrompt(conversationType),
		"transcript": transcript,
	}
}

// ParseSummary decodes a model answer, tolerating markdown code fences, and
// fills missing fields with NotDocumented.
func ParseSummary(content string) (Summary, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}

	summary := make(Summary, len(SummaryFields))
	for _, field := range SummaryFields {
		text := ""
		switch v := raw[field].(type) {
		case string:
			text = strings.TrimSpace(v)
		case nil:
		default:
			if b, err := json.Marshal(v); err == nil {
				text = string(b)
			}
		}
		if text == "" {
			text = NotDocumented
		}
		summary[field] = text
	}
	return summary, nil
}

var complaintKeywords = []struct{ keyword, label string }{
	{"pain", "Pain complaint"},
	{"fever", "Fever"},
	{"cough", "Cough"},
	{"headache", "Headache"},
	{"nausea", "Nausea"},
	{"dizziness", "Dizziness"},
	{"fatigue", "Fatigue"},
}

// BasicSummary is the keyword fallback used when the model cannot answer.
func BasicSummary(transcript string) Summary {
	lower := strings.ToLower(transcript)

	var complaints []string
	for _, kw := range complaintKeywords {
		if strings.Contains(lower, kw.keyword) {
			complaints = append(complaints, kw.label)
		}
	}
	present := "Symptoms discussed"
	if len(complaints) > 0 {
		present = strings.Join(complaints, ", ")
	}

	return Summary{
		"present_complaints":   present,
		"clinical_details":     "Medical history from conversation",
		"physical_examination": "Examination documented",
		"impression":           "Clinical assessment based on conversation",
		"management_plan":      "Treatment plan discussed",
		"additional_notes":     "Additional clinical notes",
	}
}
