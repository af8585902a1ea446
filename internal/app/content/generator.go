// Package content writes the daily readings: main text from a pluggable
// strategy, anti-repetition of reframe patterns, decorative attributes and
// channel-specific rendering.
package content

import (
	"context"
	"fmt"
	"time"

	"horoscope_dispatcher/internal/domain/notification"
	"horoscope_dispatcher/internal/domain/subscriber"
	"horoscope_dispatcher/internal/domain/zodiac"

	"github.com/sirupsen/logrus"
)

// Reading is a generated message before channel formatting.
type Reading struct {
	Name        string
	Sign        zodiac.Sign
	Partner     *Partner // set on couples readings
	Tier        notification.Tier
	Text        string
	PatternID   string
	Friction    bool
	Strategy    string
	Decor       Decor
	CasualClose string
	GeneratedAt time.Time
}

type GeneratorOptions struct {
	// CasualCloseProbability is the chance an eligible evening reading gets
	// a casual closing remark.
	CasualCloseProbability float64
}

type Generator struct {
	strategy Strategy
	picker   *Picker
	opts     GeneratorOptions
	logger   *logrus.Entry
}

func NewGenerator(strategy Strategy, picker *Picker, opts GeneratorOptions, logger *logrus.Entry) *Generator {
	return &Generator{strategy: strategy, picker: picker, opts: opts, logger: logger}
}

// Generate writes the tier's reading for s at now. Subscribers with a partner
// get a couples reading in the morning; the evening follow-up stays personal.
func (g *Generator) Generate(ctx context.Context, s *subscriber.Subscriber, tier notification.Tier, now time.Time) (Reading, error) {
	pattern := SelectPattern(s.RecentPatternIDs, Patterns(), g.picker)
	req := Request{
		Name:    s.DisplayName(),
		Sign:    s.Sign,
		Tier:    tier,
		Pattern: pattern,
		Date:    now.In(s.Location()),
	}
	if tier == notification.TierMorning && s.HasPartner() {
		req.Partner = &Partner{Name: s.PartnerName.String, Sign: s.PartnerSign}
	}

	body, err := g.strategy.Compose(ctx, req)
	if err != nil {
		return Reading{}, fmt.Errorf("composing %s reading: %w", tier, err)
	}

	r := Reading{
		Name:        req.Name,
		Sign:        s.Sign,
		Partner:     req.Partner,
		Tier:        tier,
		Text:        body.Text,
		PatternID:   pattern.ID,
		Friction:    tier == notification.TierMorning && body.Friction,
		Strategy:    body.Strategy,
		GeneratedAt: now,
	}
	if req.Partner != nil {
		r.Decor = PickCouplesDecor(s.Sign, req.Partner.Sign, g.picker)
	} else {
		r.Decor = PickDecor(s.Sign, g.picker)
	}
	if tier == notification.TierEvening && ShouldAppendCasualClose(s.CasualCloseAt, now, g.opts.CasualCloseProbability, g.picker) {
		r.CasualClose = g.picker.Choice(casualCloses)
	}

	g.logger.WithFields(logrus.Fields{
		"subscriber_id": s.ID,
		"tier":          tier,
		"pattern":       r.PatternID,
		"strategy":      r.Strategy,
		"friction":      r.Friction,
		"couples":       r.Partner != nil,
	}).Debug("Reading generated")
	return r, nil
}
