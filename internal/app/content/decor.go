package content

import "horoscope_dispatcher/internal/domain/zodiac"

// Decor is the set of decorative attributes shown beside a reading.
type Decor struct {
	LuckyColor string
	Mantra     string
	Focus      string
}

var luckyColors = map[zodiac.Sign][]string{
	zodiac.Aries:       {"Red", "Coral", "Scarlet"},
	zodiac.Taurus:      {"Green", "Pink", "Emerald"},
	zodiac.Gemini:      {"Yellow", "Light Blue", "Silver"},
	zodiac.Cancer:      {"White", "Silver", "Pale Blue"},
	zodiac.Leo:         {"Gold", "Orange", "Purple"},
	zodiac.Virgo:       {"Navy Blue", "Grey", "Beige"},
	zodiac.Libra:       {"Pink", "Light Blue", "Lavender"},
	zodiac.Scorpio:     {"Deep Red", "Black", "Burgundy"},
	zodiac.Sagittarius: {"Purple", "Royal Blue", "Turquoise"},
	zodiac.Capricorn:   {"Brown", "Dark Green", "Charcoal"},
	zodiac.Aquarius:    {"Electric Blue", "Silver", "Turquoise"},
	zodiac.Pisces:      {"Sea Green", "Lavender", "Aquamarine"},
}

var fallbackColors = []string{"Blue"}

var mantras = []string{
	"I am exactly where I need to be",
	"I embrace growth with an open heart",
	"My energy attracts beautiful possibilities",
	"I trust the journey unfolding before me",
	"I am worthy of love, joy, and success",
	"Today, I choose peace and positivity",
	"I am aligned with my highest purpose",
	"I radiate confidence and inner strength",
	"I welcome abundance in all its forms",
	"My heart is open to new connections",
	"I honor my emotions and my truth",
	"I am creating the life I deserve",
}

var dailyFocus = []string{
	"Self-care", "Communication", "Creativity", "Connection",
	"Gratitude", "Joy", "Growth", "Balance", "Adventure",
	"Reflection", "Love", "Courage", "Renewal", "Trust",
	"Expression", "Compassion", "Discovery", "Peace",
}

var sharedMantras = []string{
	"Together, we are stronger",
	"Our love grows deeper each day",
	"We choose each other, always",
	"Our bond is unbreakable and true",
	"We support each other's dreams",
	"Love guides our every step together",
	"We create magic in our togetherness",
	"Our hearts beat as one",
	"We are partners in joy and growth",
	"Together, we can overcome anything",
	"Our love story is just beginning",
	"We nurture what we've built together",
}

var relationshipFocus = []string{
	"Communication", "Trust", "Intimacy", "Adventure",
	"Growth", "Support", "Playfulness", "Understanding",
	"Passion", "Partnership", "Harmony", "Unity",
	"Celebration", "Connection", "Renewal", "Dreams",
}

func colorsFor(sign zodiac.Sign) []string {
	if colors, ok := luckyColors[sign]; ok {
		return colors
	}
	return fallbackColors
}

// PickDecor draws each attribute independently and uniformly.
func PickDecor(sign zodiac.Sign, picker *Picker) Decor {
	return Decor{
		LuckyColor: picker.Choice(colorsFor(sign)),
		Mantra:     picker.Choice(mantras),
		Focus:      picker.Choice(dailyFocus),
	}
}

// PickCouplesDecor blends both signs' colors and draws from the shared pools.
func PickCouplesDecor(a, b zodiac.Sign, picker *Picker) Decor {
	colors := append(append([]string(nil), colorsFor(a)...), colorsFor(b)...)
	return Decor{
		LuckyColor: picker.Choice(colors),
		Mantra:     picker.Choice(sharedMantras),
		Focus:      picker.Choice(relationshipFocus),
	}
}
