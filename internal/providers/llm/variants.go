package llm

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"server/internal/domain"
	"server/internal/infra"
)

// MaxVariantCount bounds one generation batch.
const MaxVariantCount = 3

var intensityTemperature = map[domain.Intensity]float64{
	domain.IntensityLight:      0.35,
	domain.IntensityMedium:     0.6,
	domain.IntensityAggressive: 0.9,
}

var intensityDirective = map[domain.Intensity]string{
	domain.IntensityLight:      "Keep the original message and structure; only polish wording and tighten pacing.",
	domain.IntensityMedium:     "Keep the core message but rework the framing, examples and rhythm noticeably.",
	domain.IntensityAggressive: "Reinvent the script: new angle, new structure, new emotional register. Only the underlying product or topic must survive.",
}

var variationAngles = []string{
	"lead with a bold claim",
	"lead with a relatable problem",
	"lead with a surprising fact or number",
}

// GenerateVariantsRequest describes one variant batch.
type GenerateVariantsRequest struct {
	Transcript string
	Analysis   *domain.Analysis
	Count      int
	Intensity  domain.Intensity
	Locale     string
}

// VariantGenerator produces alternative script rewrites. Individual upstream
// failures are skipped so a batch can return a partial result; producing
// nothing at all is surfaced as domain.ErrNoVariants.
type VariantGenerator struct {
	client *Client
	logger *infra.Logger
}

// NewVariantGenerator constructs a VariantGenerator.
func NewVariantGenerator(client *Client, logger *infra.Logger) *VariantGenerator {
	return &VariantGenerator{client: client, logger: logger}
}

type variantPayload struct {
	Hook         string `json:"hook"`
	Body         string `json:"body"`
	CTA          string `json:"cta"`
	StrategyNote string `json:"strategy_note"`
}

// Generate returns up to req.Count usable variants.
func (g *VariantGenerator) Generate(ctx context.Context, req GenerateVariantsRequest) ([]domain.Variant, error) {
	count := req.Count
	if count < 1 {
		count = 1
	}
	if count > MaxVariantCount {
		count = MaxVariantCount
	}
	intensity := req.Intensity
	if _, ok := intensityTemperature[intensity]; !ok {
		intensity = domain.IntensityMedium
	}

	var (
		variants []domain.Variant
		lastErr  error
	)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return variants, err
		}
		text, err := g.client.Complete(ctx, CompleteRequest{
			Prompt:      buildVariantPrompt(req, intensity, i),
			Temperature: intensityTemperature[intensity],
			JSON:        true,
		})
		if err != nil {
			lastErr = err
			if g.logger != nil {
				g.logger.Warn().Err(err).Int("variant", i+1).Msg("llm: variant generation call failed")
			}
			continue
		}
		parsed, err := parsePayload[variantPayload](text)
		if err != nil {
			lastErr = err
			if g.logger != nil {
				g.logger.Warn().Err(err).Int("variant", i+1).Msg("llm: variant payload unparseable")
			}
			continue
		}
		variant, ok := toVariant(parsed, intensity)
		if !ok {
			lastErr = fmt.Errorf("llm: variant %d missing required fields", i+1)
			continue
		}
		variants = append(variants, variant)
	}

	if len(variants) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrNoVariants, lastErr)
		}
		return nil, domain.ErrNoVariants
	}
	return variants, nil
}

func toVariant(p variantPayload, intensity domain.Intensity) (domain.Variant, bool) {
	hook := strings.TrimSpace(p.Hook)
	body := strings.TrimSpace(p.Body)
	cta := strings.TrimSpace(p.CTA)
	if hook == "" || body == "" || cta == "" {
		return domain.Variant{}, false
	}
	note := strings.TrimSpace(p.StrategyNote)
	if note == "" {
		note = cases.Title(language.English).String(string(intensity)) + " rewrite"
	}
	return domain.Variant{Hook: hook, Body: body, CTA: cta, StrategyNote: note}, true
}

func buildVariantPrompt(req GenerateVariantsRequest, intensity domain.Intensity, index int) string {
	sb := &strings.Builder{}
	sb.WriteString("You are a short-form video copywriter. Write one alternative script for the video below. Respond strictly with JSON matching this schema: ")
	sb.WriteString(`{"hook":string,"body":string,"cta":string,"strategy_note":string}`)
	sb.WriteString(". ")
	sb.WriteString(intensityDirective[intensity])
	fmt.Fprintf(sb, " Approach: %s.", variationAngles[index%len(variationAngles)])
	fmt.Fprintf(sb, " Write in the language for locale %q.", NormalizeLocale(req.Locale))
	if req.Analysis != nil {
		fmt.Fprintf(sb, " The original creative structure was hook=%q, body=%q, cta=%q.", req.Analysis.Hook, req.Analysis.Body, req.Analysis.CTA)
	}
	sb.WriteString(" Original transcript:\n\n")
	sb.WriteString(req.Transcript)
	return sb.String()
}
