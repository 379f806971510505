package assessment

// Category labels.
const (
	LabelNotScam      = "Not a Scam"
	LabelPossibleScam = "Possible Scam"
	LabelDefinitely   = "Definitely Scam"
	LabelUnknown      = "Unknown"
)

// Priority is the Android notification priority used for a category.
type Priority string

const (
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
	PriorityMax     Priority = "max"
)

// Category is a score band together with how alerts for it are presented.
type Category struct {
	Label     string
	Emoji     string
	Color     string
	Priority  Priority
	Vibration []int64
}

var (
	notScam = Category{
		Label:     LabelNotScam,
		Emoji:     "✅",
		Color:     "#4CAF50",
		Priority:  PriorityDefault,
		Vibration: []int64{100, 100},
	}
	possibleScam = Category{
		Label:     LabelPossibleScam,
		Emoji:     "⚠️",
		Color:     "#FFC107",
		Priority:  PriorityHigh,
		Vibration: []int64{200, 200, 200, 200},
	}
	definitelyScam = Category{
		Label:     LabelDefinitely,
		Emoji:     "🚨",
		Color:     "#F44336",
		Priority:  PriorityMax,
		Vibration: []int64{500, 200, 500, 200, 500},
	}
	unknown = Category{
		Label:     LabelUnknown,
		Emoji:     "📞",
		Color:     "#9E9E9E",
		Priority:  PriorityDefault,
		Vibration: []int64{100, 100},
	}
)

// Thresholds are the inclusive score bands and the notification cutoff.
type Thresholds struct {
	SafeMin     int
	SafeMax     int
	PossibleMin int
	PossibleMax int
	DefiniteMin int
	DefiniteMax int
	Notify      int
}

// DefaultThresholds returns bands 1-3, 4-7, 8-10 with notification from 4.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SafeMin:     1,
		SafeMax:     3,
		PossibleMin: 4,
		PossibleMax: 7,
		DefiniteMin: 8,
		DefiniteMax: 10,
		Notify:      4,
	}
}

// Categorize maps score to its band. Scores outside every band are Unknown.
func (t Thresholds) Categorize(score int) Category {
	switch {
	case score >= t.SafeMin && score <= t.SafeMax:
		return notScam
	case score >= t.PossibleMin && score <= t.PossibleMax:
		return possibleScam
	case score >= t.DefiniteMin && score <= t.DefiniteMax:
		return definitelyScam
	default:
		return unknown
	}
}

// ShouldNotify reports whether score warrants a push notification.
func (t Thresholds) ShouldNotify(score int) bool {
	return score >= t.Notify
}
