package llm

import (
	"context"
	"fmt"
	"strings"

	"server/internal/domain"
)

const analyzeTemperature = 0.2

// Analyzer derives a structured creative breakdown from a transcript. The
// model response is all-or-nothing: a payload missing any required field is
// rejected rather than partially persisted.
type Analyzer struct {
	client *Client
}

// NewAnalyzer constructs an Analyzer on top of the completion client.
func NewAnalyzer(client *Client) *Analyzer {
	return &Analyzer{client: client}
}

type analysisPayload struct {
	Hook string   `json:"hook"`
	Body string   `json:"body"`
	CTA  string   `json:"cta"`
	Tags []string `json:"tags"`
}

// Analyze returns the hook/body/cta decomposition of the transcript.
func (a *Analyzer) Analyze(ctx context.Context, transcript string) (*domain.Analysis, error) {
	text, err := a.client.Complete(ctx, CompleteRequest{
		Prompt:      buildAnalyzePrompt(transcript),
		Temperature: analyzeTemperature,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	parsed, err := parsePayload[analysisPayload](text)
	if err != nil {
		return nil, fmt.Errorf("llm: %w: %v", domain.ErrMalformedResponse, err)
	}

	hook := strings.TrimSpace(parsed.Hook)
	body := strings.TrimSpace(parsed.Body)
	cta := strings.TrimSpace(parsed.CTA)
	if hook == "" || body == "" || cta == "" {
		return nil, fmt.Errorf("llm: %w: analysis missing required fields", domain.ErrMalformedResponse)
	}

	return &domain.Analysis{
		Hook: hook,
		Body: body,
		CTA:  cta,
		Tags: normalizeTags(parsed.Tags),
	}, nil
}

func buildAnalyzePrompt(transcript string) string {
	sb := &strings.Builder{}
	sb.WriteString("You are a short-form video strategist. Decompose the following verbatim transcript of a social video into its creative structure. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"hook":string,"body":string,"cta":string,"tags":string[]}`)
	sb.WriteString(". The hook is the attention-grabbing opening, the body is the main argument or story, and the cta is the call to action. All three are required and must quote or closely paraphrase the transcript. Tags are short lowercase topical labels, at most eight. Transcript:\n\n")
	sb.WriteString(transcript)
	return sb.String()
}

const maxTags = 8

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
		if len(result) == maxTags {
			break
		}
	}
	return result
}
