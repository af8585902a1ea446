package content

// RecentPatternWindow is how many of the latest sends a new pattern must avoid.
const RecentPatternWindow = 3

// Pattern is a rhetorical move used to land a reading on a positive note.
type Pattern struct {
	ID          string
	Name        string
	Instruction string
	// Closing is the template strategy's rendering of the pattern.
	Closing string
}

var reframePatterns = []Pattern{
	{
		ID:          "A",
		Name:        "growth lesson",
		Instruction: "Reframe any difficulty as a lesson that is already making {name} wiser.",
		Closing:     "Whatever feels heavy right now is quietly teaching you something you will be glad to know.",
	},
	{
		ID:          "B",
		Name:        "hidden strength",
		Instruction: "Point to a strength of {sign} that the day's challenge is bringing to the surface.",
		Closing:     "Notice how your {sign} resilience shows up exactly when you need it most.",
	},
	{
		ID:          "C",
		Name:        "small next step",
		Instruction: "End with one small, concrete, kind action {name} can take today.",
		Closing:     "Choose one small, gentle step today and let that be more than enough.",
	},
	{
		ID:          "D",
		Name:        "future self",
		Instruction: "Close by describing how {name}'s future self will look back on today with gratitude.",
		Closing:     "A few months from now, you will look back on today and thank yourself for showing up.",
	},
}

// Patterns returns the reframe pool in ID order.
func Patterns() []Pattern {
	out := make([]Pattern, len(reframePatterns))
	copy(out, reframePatterns)
	return out
}

// PatternByID looks up a pattern in the default pool.
func PatternByID(id string) (Pattern, bool) {
	for _, p := range reframePatterns {
		if p.ID == id {
			return p, true
		}
	}
	return Pattern{}, false
}

// SelectPattern picks uniformly among patterns not used in the last
// RecentPatternWindow entries of history (oldest first). When every pattern
// is recent, only the very last one is excluded. A single-pattern pool always
// yields that pattern.
func SelectPattern(history []string, pool []Pattern, picker *Picker) Pattern {
	if len(pool) == 0 {
		return Pattern{}
	}
	if len(pool) == 1 {
		return pool[0]
	}

	recent := history
	if len(recent) > RecentPatternWindow {
		recent = recent[len(recent)-RecentPatternWindow:]
	}
	candidates := exclude(pool, recent)
	if len(candidates) == 0 && len(history) > 0 {
		candidates = exclude(pool, history[len(history)-1:])
	}
	if len(candidates) == 0 {
		candidates = pool
	}
	return candidates[picker.Intn(len(candidates))]
}

func exclude(pool []Pattern, ids []string) []Pattern {
	skip := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		skip[id] = struct{}{}
	}
	out := make([]Pattern, 0, len(pool))
	for _, p := range pool {
		if _, ok := skip[p.ID]; !ok {
			out = append(out, p)
		}
	}
	return out
}
