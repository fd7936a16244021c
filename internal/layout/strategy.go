package layout

import (
	"regexp"
	"strconv"
	"strings"
)

// Strategy is one competing numbering pattern for plain-text segmentation.
// Pattern must capture the problem number in group 1.
type Strategy struct {
	Name    string
	Pattern *regexp.Regexp
}

// Score is the outcome of running one Strategy over a page's text.
type Score struct {
	Strategy string
	// Matches holds [start, end, numStart, numEnd] index quads from the pattern.
	Matches [][]int
	Numbers []int
	Value   int
}

// Strategy names reported in Candidate.SplitStrategy.
const (
	StrategyNumbered         = "numbered"
	StrategyBracketed        = "bracketed"
	StrategyQuestionLabel    = "question_label"
	StrategyNumberSuffix     = "number_suffix"
	StrategyFullPageFallback = "full_page_fallback"
	StrategyStructural       = "layout_structure"
)

// sequenceBonus is added to a strategy whose numbers look like a real
// problem sequence.
const sequenceBonus = 2

// DefaultStrategies returns the plain-text numbering patterns in tie-break order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyNumbered, Pattern: regexp.MustCompile(`(?m)^\s*(\d{1,2})\s*[\.)]\s+`)},
		{Name: StrategyBracketed, Pattern: regexp.MustCompile(`(?m)^\s*\[(\d{1,2})\]\s*`)},
		{Name: StrategyQuestionLabel, Pattern: regexp.MustCompile(`(?m)^\s*문항\s*(\d{1,3})\s*[\.:)]?\s*`)},
		{Name: StrategyNumberSuffix, Pattern: regexp.MustCompile(`(?m)^\s*(\d{1,3})\s*번\s*[\.:)]?\s*`)},
	}
}

// DefaultRowPatterns returns the patterns used to read a problem number off
// the first rows of a structural region.
func DefaultRowPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`^\s*(\d{1,3})\s*[\.)]`),
		regexp.MustCompile(`^\s*\[(\d{1,3})\]`),
		regexp.MustCompile(`문항\s*(\d{1,3})`),
		regexp.MustCompile(`^\s*(\d{1,3})\s*번`),
	}
}

// ScoreStrategy counts s's matches in text and applies the sequence bonus.
func ScoreStrategy(s Strategy, text string) Score {
	matches := s.Pattern.FindAllStringSubmatchIndex(text, -1)
	score := Score{Strategy: s.Name, Matches: matches}
	for _, m := range matches {
		if len(m) < 4 || m[2] < 0 {
			continue
		}
		n, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		score.Numbers = append(score.Numbers, n)
	}
	score.Value = len(matches)
	if LikelySequence(score.Numbers) {
		score.Value += sequenceBonus
	}
	return score
}

// LikelySequence reports whether nums read like consecutive problem numbers:
// forward steps of 1 to 3 and at most two steps that go backwards or repeat.
func LikelySequence(nums []int) bool {
	if len(nums) < 2 {
		return false
	}
	backward := 0
	for i := 1; i < len(nums); i++ {
		d := nums[i] - nums[i-1]
		switch {
		case d <= 0:
			backward++
		case d > 3:
			return false
		}
	}
	return backward <= 2
}

// BestStrategy scores every strategy and returns the highest. Ties go to the
// strategy declared first. ok is false when nothing matched at all.
func BestStrategy(strategies []Strategy, text string) (Score, bool) {
	var best Score
	found := false
	for _, s := range strategies {
		sc := ScoreStrategy(s, text)
		if len(sc.Matches) == 0 {
			continue
		}
		if !found || sc.Value > best.Value {
			best, found = sc, true
		}
	}
	return best, found
}

// splitByScore cuts text at each match of the winning strategy.
func splitByScore(text string, sc Score) []Candidate {
	var out []Candidate
	for i, m := range sc.Matches {
		end := len(text)
		if i+1 < len(sc.Matches) {
			end = sc.Matches[i+1][0]
		}
		statement := strings.TrimSpace(text[m[0]:end])
		if statement == "" {
			continue
		}
		no, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			no = i + 1
		}
		out = append(out, Candidate{
			CandidateNo:   no,
			StatementText: statement,
			SplitStrategy: sc.Strategy,
		})
	}
	return out
}
