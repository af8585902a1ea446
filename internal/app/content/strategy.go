package content

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"horoscope_dispatcher/internal/domain/notification"
	"horoscope_dispatcher/internal/domain/zodiac"

	"github.com/sirupsen/logrus"
)

const (
	StrategyTemplate   = "template"
	StrategyGenerative = "generative"
)

// Partner is the second person of a couples reading.
type Partner struct {
	Name string
	Sign zodiac.Sign
}

// Request carries what a strategy needs to write one reading. A non-nil
// Partner asks for a couples reading.
type Request struct {
	Name    string
	Sign    zodiac.Sign
	Partner *Partner
	Tier    notification.Tier
	Pattern Pattern
	Date    time.Time
}

// Body is the main text of a reading. Friction marks a morning reading that
// acknowledged a difficulty.
type Body struct {
	Text     string
	Friction bool
	Strategy string
}

// Strategy writes the main text of a reading.
type Strategy interface {
	Compose(ctx context.Context, req Request) (Body, error)
}

// Completer is a text-generation backend.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, prompt string) (string, error)
}

type opening struct {
	text     string
	friction bool
}

var morningOpenings = []opening{
	{text: "Dear {name}, today's cosmic energy brings a wave of renewal and possibility. As a {sign}, you're particularly attuned to the shifts happening around you, and this is your moment to shine. The universe is aligning to support your dreams, encouraging you to trust your intuition and take meaningful steps forward. Embrace this day with an open heart, knowing you're exactly where you need to be."},
	{text: "{name}, the stars are sending you powerful affirmations today. As a {sign}, your natural gifts are being amplified by celestial energy that celebrates authenticity and courage. You might encounter situations that challenge you to grow, but these are invitations to discover your inner resilience. The connections you nurture today will flourish.", friction: true},
	{text: "Good morning, {name}. The sky over {sign} is bright and open today, and your curiosity has room to wander. Conversations flow easily and small kindnesses come back to you twice over. Let yourself enjoy the lightness of the hours ahead."},
	{text: "{name}, a little tension may run through your plans today, the kind that asks you to slow down rather than push. As a {sign}, you know how to hold steady when things feel uncertain, and that steadiness is exactly what the moment needs. Give yourself permission to take things one piece at a time.", friction: true},
}

var couplesOpenings = []opening{
	{text: "{name} and {partner}, your combined energy is creating something truly magical right now. As a {sign} and {partner_sign} pairing, you bring complementary strengths that make your bond uniquely powerful. This is a phase where communication flows more easily and understanding deepens naturally. Take time today to do something special together; even small gestures carry profound meaning now."},
	{text: "Beautiful souls {name} and {partner}, your {sign}-{partner_sign} connection brings together two different but harmonious energies. {name}, your {sign} wisdom helps you both navigate life's complexities, while {partner}, your {partner_sign} spirit adds passion to your shared journey. Right now the stars highlight mutual support and shared dreams."},
	{text: "{name} and {partner}, a small disagreement may ask for patience today, the kind that brings you closer once it is talked through. Your {sign} and {partner_sign} energies balance each other when you slow down and really listen. Treat any tension as an invitation to understand each other a little better.", friction: true},
}

var eveningOpenings = []string{
	"Evening, {name}. Whatever this morning stirred up, you carried it through the day, and that counts for more than you think. As a {sign}, you are allowed to set it down now.",
	"{name}, the day is winding down and the stars are softer tonight. Take a breath and notice what went right, even the small things, because a {sign} heart grows by remembering them.",
	"Tonight is for you, {name}. The friction of the morning has had its say, and the quiet that follows belongs to you. Let your {sign} instincts guide you toward rest.",
}

func fill(s string, req Request) string {
	pairs := []string{"{name}", req.Name, "{sign}", req.Sign.Title()}
	if req.Partner != nil {
		pairs = append(pairs, "{partner}", req.Partner.Name, "{partner_sign}", req.Partner.Sign.Title())
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// TemplateStrategy picks a hand-written opening and closes with the
// pattern's line.
type TemplateStrategy struct {
	picker *Picker
}

func NewTemplateStrategy(picker *Picker) *TemplateStrategy {
	return &TemplateStrategy{picker: picker}
}

func (s *TemplateStrategy) Compose(_ context.Context, req Request) (Body, error) {
	var text string
	var friction bool
	switch {
	case req.Tier == notification.TierEvening:
		text = eveningOpenings[s.picker.Intn(len(eveningOpenings))]
	case req.Partner != nil:
		o := couplesOpenings[s.picker.Intn(len(couplesOpenings))]
		text, friction = o.text, o.friction
	default:
		o := morningOpenings[s.picker.Intn(len(morningOpenings))]
		text, friction = o.text, o.friction
	}
	if req.Pattern.Closing != "" {
		text += " " + req.Pattern.Closing
	}
	return Body{Text: fill(text, req), Friction: friction, Strategy: StrategyTemplate}, nil
}

const systemInstruction = `You write short, warm, uplifting daily horoscopes.
Never mention illness, danger, betrayal, breakups or doom.
Reframe every challenge as an opportunity for growth.
Answer with a single JSON object and nothing else:
{"horoscope": "<the reading, 120-180 words>", "friction": <true if the reading acknowledges a difficulty, else false>}`

const morningPrompt = `Write today's ({date}) morning horoscope for {name} ({sign}).
Address {name} directly and be specific to {sign} traits.
Structure: an opening about today's energy, one core uplifting insight, gentle guidance, and a hopeful close.
Closing pattern: {pattern}`

const couplesPrompt = `Write today's ({date}) couples horoscope for {name} ({sign}) and {partner} ({partner_sign}).
Address both {name} and {partner} by name and celebrate how {sign} and {partner_sign} complement each other.
Frame any challenge as a chance for deeper connection; never hint at conflict without resolution.
Structure: their combined energy today, how their signs interact, shared guidance, and an affirming close.
Closing pattern: {pattern}`

const eveningPrompt = `Write a short evening follow-up ({date}) for {name} ({sign}).
This morning's reading touched on a difficulty; help {name} let the day go with kindness.
Keep it under 100 words and set "friction" to false.
Closing pattern: {pattern}`

// GenerativeStrategy asks a language model for the reading. A failed call
// falls back to the template strategy; output that is not the expected JSON
// is used as plain text.
type GenerativeStrategy struct {
	client   Completer
	fallback Strategy
	logger   *logrus.Entry
}

func NewGenerativeStrategy(client Completer, fallback Strategy, logger *logrus.Entry) *GenerativeStrategy {
	return &GenerativeStrategy{client: client, fallback: fallback, logger: logger}
}

func (s *GenerativeStrategy) Compose(ctx context.Context, req Request) (Body, error) {
	prompt := morningPrompt
	switch {
	case req.Tier == notification.TierEvening:
		prompt = eveningPrompt
	case req.Partner != nil:
		prompt = couplesPrompt
	}
	prompt = strings.NewReplacer(
		"{date}", req.Date.Format("Monday, January 2"),
		"{pattern}", fill(req.Pattern.Instruction, req),
	).Replace(prompt)

	raw, err := s.client.Complete(ctx, systemInstruction, fill(prompt, req))
	if err != nil {
		s.logger.WithError(err).WithField("pattern", req.Pattern.ID).Warn("Generative content failed, using template")
		if s.fallback == nil {
			return Body{}, fmt.Errorf("generative content: %w", err)
		}
		return s.fallback.Compose(ctx, req)
	}
	body := parseGenerated(raw)
	if req.Tier == notification.TierEvening {
		body.Friction = false
	}
	return body, nil
}

// parseGenerated decodes {"horoscope","friction"}; anything else becomes the
// text as-is with fences stripped.
func parseGenerated(raw string) Body {
	cleaned := stripFences(raw)
	var out struct {
		Horoscope string `json:"horoscope"`
		Friction  bool   `json:"friction"`
	}
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil && strings.TrimSpace(out.Horoscope) != "" {
		return Body{Text: strings.TrimSpace(out.Horoscope), Friction: out.Friction, Strategy: StrategyGenerative}
	}
	return Body{Text: cleaned, Strategy: StrategyGenerative}
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop a language tag such as ```json
		if tag := strings.TrimSpace(s[:nl]); !strings.ContainsAny(tag, " {") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
