// Package sentiment provides the rule-based sentiment classifier applied to
// every canonical feed row.
//
// Classification first scans for sensitive keywords in four categories
// (adult, political, violence, illegal). The first category with any hit
// decides the verdict and the scan stops there, so a text matching both adult
// and political keywords only carries the adult flag. Otherwise positive and
// negative keyword occurrences are counted and folded into a score in [-1, 1].
package sentiment

import (
	"strings"
)

// Label is the sentiment class of a text.
type Label string

// Sentiment labels.
const (
	Positive  Label = "positive"
	Negative  Label = "negative"
	Neutral   Label = "neutral"
	Sensitive Label = "sensitive"
)

// Valid reports whether l is a known label.
func (l Label) Valid() bool {
	switch l {
	case Positive, Negative, Neutral, Sensitive:
		return true
	default:
		return false
	}
}

// Labels is the structured flag set stored with each verdict.
type Labels struct {
	Sensitive bool `json:"sensitive"`
	Adult     bool `json:"adult"`
	Political bool `json:"political"`
	Violence  bool `json:"violence"`
	Illegal   bool `json:"illegal"`
}

// Verdict is the classifier output. Score is nil when a classifier cannot
// produce one; the rule-based Analyzer always sets it.
type Verdict struct {
	Label  Label    `json:"sentiment"`
	Score  *float64 `json:"score"`
	Labels Labels   `json:"labels"`
}

// Category names a sensitive keyword group.
type Category string

// Sensitive categories in scan order.
const (
	CategoryAdult     Category = "adult"
	CategoryPolitical Category = "political"
	CategoryViolence  Category = "violence"
	CategoryIllegal   Category = "illegal"
)

// Score thresholds separating positive, neutral and negative.
const (
	PositiveThreshold = 0.3
	NegativeThreshold = -0.3
)

type categoryKeywords struct {
	category Category
	keywords []string
}

// Analyzer classifies text against static keyword lists. The zero value is
// not usable; call NewAnalyzer.
type Analyzer struct {
	sensitive []categoryKeywords
	positive  []string
	negative  []string
}

// NewAnalyzer returns an Analyzer loaded with the default keyword lists.
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		sensitive: []categoryKeywords{
			{CategoryAdult, adultKeywords},
			{CategoryPolitical, politicalKeywords},
			{CategoryViolence, violenceKeywords},
			{CategoryIllegal, illegalKeywords},
		},
		positive: positiveKeywords,
		negative: negativeKeywords,
	}
}

var defaultAnalyzer = NewAnalyzer()

// Classify runs the default Analyzer.
func Classify(text string) Verdict {
	return defaultAnalyzer.Classify(text)
}

// Classify returns the verdict for text. Callers that hold a title and a body
// pass them joined by a space.
func (a *Analyzer) Classify(text string) Verdict {
	if text == "" {
		return neutralVerdict()
	}
	lowered := strings.ToLower(text)

	if category, ok := a.firstSensitiveCategory(lowered); ok {
		labels := Labels{Sensitive: true}
		switch category {
		case CategoryAdult:
			labels.Adult = true
		case CategoryPolitical:
			labels.Political = true
		case CategoryViolence:
			labels.Violence = true
		case CategoryIllegal:
			labels.Illegal = true
		}
		return Verdict{Label: Sensitive, Score: scorePtr(-1.0), Labels: labels}
	}

	pos := countOccurrences(lowered, a.positive)
	neg := countOccurrences(lowered, a.negative)
	score := 0.0
	if total := pos + neg; total > 0 {
		score = float64(pos-neg) / float64(total)
	}
	return Verdict{Label: labelFor(score), Score: scorePtr(score)}
}

func (a *Analyzer) firstSensitiveCategory(text string) (Category, bool) {
	for _, group := range a.sensitive {
		for _, kw := range group.keywords {
			if strings.Contains(text, kw) {
				return group.category, true
			}
		}
	}
	return "", false
}

func countOccurrences(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		n += strings.Count(text, kw)
	}
	return n
}

func labelFor(score float64) Label {
	switch {
	case score > PositiveThreshold:
		return Positive
	case score < NegativeThreshold:
		return Negative
	default:
		return Neutral
	}
}

func neutralVerdict() Verdict {
	return Verdict{Label: Neutral, Score: scorePtr(0)}
}

func scorePtr(v float64) *float64 {
	return &v
}
