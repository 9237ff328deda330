package attack

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"advsandbox/internal/model"
)

// Search parameter defaults, overridable per request via
// attack_parameters.
const (
	defaultNumWordsToChange = 2
	defaultMaxCandidates    = 10
)

// goal decides when a candidate prediction counts as a successful
// attack.
type goal struct {
	targeted bool
	target   string
	original string
}

func (g goal) met(label string) bool {
	if g.targeted {
		return label == g.target
	}
	return label != g.original
}

// searchResult carries the best candidate the search found. Text is
// empty when no position yielded any improvement.
type searchResult struct {
	Text         string
	NumPerturbed int
	Diff         string
}

// substitutions maps common sentiment-bearing words to near neighbors.
// Swapping one of these is usually enough to move a keyword classifier;
// words outside the table fall back to character transpositions.
var substitutions = map[string][]string{
	"good":      {"fine", "decent", "okay"},
	"great":     {"grand", "solid", "fine"},
	"excellent": {"superb", "fine", "decent"},
	"happy":     {"content", "glad", "pleased"},
	"love":      {"adore", "fancy", "like"},
	"amazing":   {"striking", "notable", "fine"},
	"bad":       {"flawed", "subpar", "weak"},
	"terrible":  {"dire", "grim", "rough"},
	"awful":     {"dreadful", "grim", "rough"},
	"sad":       {"glum", "down", "blue"},
	"hate":      {"dislike", "resent", "loathe"},
	"poor":      {"weak", "lacking", "thin"},
	"not":       {"hardly", "barely", "scarcely"},
}

// searchAdversarial runs a greedy word-swap search over the input. It
// ranks positions by how much deleting the word moves the model, then
// greedily swaps the most important words, keeping a swap only when it
// advances the goal. The search stops at the first candidate that meets
// the goal or when the perturbation budget is exhausted.
func (s *Service) searchAdversarial(ctx context.Context, handle model.Handle, req *LaunchRequest, g goal) (searchResult, error) {
	maxWords := intParam(req.AttackParameters, "num_words_to_change", defaultNumWordsToChange)
	maxCandidates := intParam(req.AttackParameters, "max_candidates", defaultMaxCandidates)
	if maxWords < 1 {
		maxWords = defaultNumWordsToChange
	}
	if maxCandidates < 1 {
		maxCandidates = defaultMaxCandidates
	}

	words := strings.Fields(req.InputData)
	if len(words) == 0 {
		return searchResult{}, nil
	}

	base, err := s.predict(ctx, handle, req.InputData)
	if err != nil {
		return searchResult{}, err
	}

	order, err := s.rankByImportance(ctx, handle, words, base)
	if err != nil {
		return searchResult{}, err
	}

	current := append([]string(nil), words...)
	currentScore := base.Confidence
	var diffs []string
	perturbed := 0

	for _, pos := range order {
		if perturbed >= maxWords {
			break
		}

		candidates := candidateWords(words[pos], maxCandidates)
		if len(candidates) == 0 {
			continue
		}

		bestWord := ""
		bestScore := currentScore
		goalMet := false
		for _, cand := range candidates {
			current[pos] = cand
			pred, err := s.predict(ctx, handle, strings.Join(current, " "))
			if err != nil {
				return searchResult{}, err
			}
			if g.met(pred.Label) {
				bestWord = cand
				goalMet = true
				break
			}
			// No flip yet: prefer the swap that most erodes
			// confidence in the still-standing original label.
			if pred.Label == base.Label && pred.Confidence < bestScore {
				bestWord = cand
				bestScore = pred.Confidence
			}
		}
		current[pos] = words[pos]

		if bestWord == "" {
			continue
		}

		current[pos] = bestWord
		currentScore = bestScore
		perturbed++
		diffs = append(diffs, fmt.Sprintf("%q -> %q", words[pos], bestWord))

		if goalMet {
			break
		}
	}

	if perturbed == 0 {
		return searchResult{}, nil
	}
	return searchResult{
		Text:         strings.Join(current, " "),
		NumPerturbed: perturbed,
		Diff:         strings.Join(diffs, "; "),
	}, nil
}

// rankByImportance orders word positions by how much removing the word
// changes the baseline prediction. A deletion that flips the label
// outranks any confidence drop.
func (s *Service) rankByImportance(ctx context.Context, handle model.Handle, words []string, base model.Prediction) ([]int, error) {
	type ranked struct {
		pos   int
		score float64
	}
	scores := make([]ranked, 0, len(words))

	for i := range words {
		reduced := make([]string, 0, len(words)-1)
		reduced = append(reduced, words[:i]...)
		reduced = append(reduced, words[i+1:]...)
		if len(reduced) == 0 {
			scores = append(scores, ranked{pos: i, score: base.Confidence})
			continue
		}

		pred, err := s.predict(ctx, handle, strings.Join(reduced, " "))
		if err != nil {
			return nil, err
		}
		score := base.Confidence - pred.Confidence
		if pred.Label != base.Label {
			score = 1 + base.Confidence
		}
		scores = append(scores, ranked{pos: i, score: score})
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	order := make([]int, len(scores))
	for i, r := range scores {
		order[i] = r.pos
	}
	return order, nil
}

// candidateWords produces up to max replacement candidates for a word:
// table substitutions first, then character transpositions for words
// with no table entry.
func candidateWords(word string, max int) []string {
	lower := strings.ToLower(word)
	if subs, ok := substitutions[lower]; ok {
		if len(subs) > max {
			subs = subs[:max]
		}
		return subs
	}

	runes := []rune(lower)
	if len(runes) < 3 {
		return nil
	}
	var out []string
	for i := 1; i < len(runes)-1 && len(out) < max; i++ {
		swapped := append([]rune(nil), runes...)
		swapped[i], swapped[i+1] = swapped[i+1], swapped[i]
		cand := string(swapped)
		if cand != lower {
			out = append(out, cand)
		}
	}
	return out
}

func intParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}
