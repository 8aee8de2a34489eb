// Package caption generates the short nostalgic "reflection" captions shown
// in the media detail view.  Failures never leave this package: every error
// is logged and replaced by fallback text.
package caption

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// Fallback texts, one per failure mode.
const (
	FallbackMissingKey = "The API key is missing, but the memory remains vivid in our hearts."
	FallbackError      = "A timeless memory, captured forever."
	FallbackEmpty      = "A moment frozen in time."
)

const promptTemplate = `You are a nostalgic, sentimental poet.
I will give you a description of a photo.
Please write a very short, warm, and emotional caption (max 2 sentences) that captures the feeling of "You live once" and the fleeting nature of time.
Do not be overly dramatic, just soft and reminiscent.

Photo description: %q`

// Prompt returns the full instruction sent for description.
func Prompt(description string) string {
	return fmt.Sprintf(promptTemplate, description)
}

// generateFunc produces text for a prompt.  It is the seam between the
// service and the Gemini SDK.
type generateFunc func(ctx context.Context, prompt string) (string, error)

// Service produces captions.  The zero value is usable and always returns
// FallbackMissingKey.
type Service struct {
	generate generateFunc
	timeout  time.Duration
	log      *zap.Logger
}

// NewGemini builds a Service backed by the Gemini API.  An empty apiKey
// yields a service that only returns FallbackMissingKey.
func NewGemini(ctx context.Context, apiKey, model string, timeout time.Duration, log *zap.Logger) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{timeout: timeout, log: log}
	if apiKey == "" {
		log.Warn("GEMINI_API_KEY is not set; captions use fallback text")
		return s, nil
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	s.generate = func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}
	return s, nil
}

// Caption returns a caption for description.  It never fails.
func (s *Service) Caption(ctx context.Context, description string) string {
	if s == nil || s.generate == nil {
		return FallbackMissingKey
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	text, err := s.generate(ctx, Prompt(description))
	if err != nil {
		s.log.Warn("caption generation failed", zap.Error(err))
		return FallbackError
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return FallbackEmpty
	}
	return text
}
