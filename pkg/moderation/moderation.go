// Package moderation screens message content for policy violations. A local
// wordlist handles the synchronous profanity pre-check; the optional OpenAI
// backend powers the deeper review pass that runs before a message commits.
package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const defaultTimeout = 5 * time.Second

// ProfanityResult is the outcome of the synchronous pre-check.
type ProfanityResult struct {
	HasProfanity bool   `json:"has_profanity"`
	CleanMessage string `json:"clean_message"`
}

// Flag is a single policy finding from the review pass.
type Flag struct {
	Type    string `json:"type"`
	Details string `json:"details,omitempty"`
}

// Verdict is the outcome of the full review pass.
type Verdict struct {
	NeedsReview bool   `json:"needs_review"`
	Flags       []Flag `json:"flags,omitempty"`
}

// Gateway screens text content.
type Gateway interface {
	CheckProfanity(ctx context.Context, text string) (ProfanityResult, error)
	ModerateMessage(ctx context.Context, content, messageType string) (Verdict, error)
}

// Config configures the moderation gateway.
type Config struct {
	// Words is the blocklist for the profanity pre-check.
	Words []string
	// OpenAIAPIKey enables the AI review pass when set.
	OpenAIAPIKey string
	// Timeout bounds each upstream moderation call.
	Timeout time.Duration
	Logger  zerolog.Logger
}

type gateway struct {
	words     []string
	sanitizer *bluemonday.Policy
	client    *openai.Client
	timeout   time.Duration
	logger    zerolog.Logger
}

// New constructs a moderation gateway.
func New(cfg Config) Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	words := make([]string, 0, len(cfg.Words))
	for _, word := range cfg.Words {
		trimmed := strings.ToLower(strings.TrimSpace(word))
		if trimmed != "" {
			words = append(words, trimmed)
		}
	}
	// Longest first so overlapping entries mask the widest match.
	sort.Slice(words, func(i, j int) bool { return len(words[i]) > len(words[j]) })

	var client *openai.Client
	if cfg.OpenAIAPIKey != "" {
		client = openai.NewClientWithConfig(openai.DefaultConfig(cfg.OpenAIAPIKey))
	}

	return &gateway{
		words:     words,
		sanitizer: bluemonday.StrictPolicy(),
		client:    client,
		timeout:   timeout,
		logger:    cfg.Logger.With().Str("component", "moderation_gateway").Logger(),
	}
}

// CheckProfanity strips markup and masks blocklisted words. The cleaned
// variant replaces the original; the original is not retained.
func (g *gateway) CheckProfanity(ctx context.Context, text string) (ProfanityResult, error) {
	select {
	case <-ctx.Done():
		return ProfanityResult{}, ctx.Err()
	default:
	}

	clean := g.sanitizer.Sanitize(text)
	found := false

	lower := strings.ToLower(clean)
	for _, word := range g.words {
		idx := strings.Index(lower, word)
		for idx >= 0 {
			found = true
			clean = clean[:idx] + strings.Repeat("*", len(word)) + clean[idx+len(word):]
			lower = lower[:idx] + strings.Repeat("*", len(word)) + lower[idx+len(word):]
			idx = strings.Index(lower, word)
		}
	}

	return ProfanityResult{HasProfanity: found, CleanMessage: clean}, nil
}

// ModerateMessage runs the full review pass. With no AI backend configured the
// wordlist verdict stands alone.
func (g *gateway) ModerateMessage(ctx context.Context, content, messageType string) (Verdict, error) {
	verdict := Verdict{}

	if content == "" {
		return verdict, nil
	}

	local, err := g.CheckProfanity(ctx, content)
	if err != nil {
		return Verdict{}, err
	}
	if local.HasProfanity {
		verdict.NeedsReview = true
		verdict.Flags = append(verdict.Flags, Flag{Type: "profanity", Details: "blocklisted term detected"})
	}

	if g.client == nil {
		return verdict, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	response, err := g.client.Moderations(callCtx, openai.ModerationRequest{Input: content})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation backend: %w", err)
	}

	for _, result := range response.Results {
		if !result.Flagged {
			continue
		}
		verdict.NeedsReview = true
		for category, flagged := range categoryMap(result.Categories) {
			if flagged {
				verdict.Flags = append(verdict.Flags, Flag{Type: category, Details: "flagged by moderation model"})
			}
		}
	}

	return verdict, nil
}

// categoryMap flattens the typed category struct so new categories surface
// without a code change here.
func categoryMap(categories openai.ResultCategories) map[string]bool {
	payload, err := json.Marshal(categories)
	if err != nil {
		return nil
	}
	out := map[string]bool{}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil
	}
	return out
}
