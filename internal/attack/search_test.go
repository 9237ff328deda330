package attack

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"advsandbox/internal/model"
)

func TestGoalMet(t *testing.T) {
	untargeted := goal{original: "Positive"}
	assert.False(t, untargeted.met("Positive"))
	assert.True(t, untargeted.met("Negative"))
	assert.True(t, untargeted.met("Neutral"))

	targeted := goal{targeted: true, target: "Negative", original: "Positive"}
	assert.True(t, targeted.met("Negative"))
	assert.False(t, targeted.met("Neutral"))
	assert.False(t, targeted.met("Positive"))
}

func TestCandidateWords(t *testing.T) {
	t.Run("table words use substitutions", func(t *testing.T) {
		cands := candidateWords("great", 10)
		assert.Equal(t, []string{"grand", "solid", "fine"}, cands)
	})

	t.Run("table lookup is case insensitive", func(t *testing.T) {
		cands := candidateWords("GREAT", 10)
		assert.Equal(t, []string{"grand", "solid", "fine"}, cands)
	})

	t.Run("candidates are capped", func(t *testing.T) {
		cands := candidateWords("great", 2)
		assert.Equal(t, []string{"grand", "solid"}, cands)
	})

	t.Run("unknown words get transpositions", func(t *testing.T) {
		cands := candidateWords("movie", 10)
		require.NotEmpty(t, cands)
		for _, c := range cands {
			assert.NotEqual(t, "movie", c)
			assert.Len(t, c, len("movie"))
		}
	})

	t.Run("short words have no candidates", func(t *testing.T) {
		assert.Empty(t, candidateWords("to", 10))
	})
}

func TestIntParam(t *testing.T) {
	params := map[string]any{
		"from_json": float64(7),
		"native":    3,
		"wrong":     "five",
	}
	assert.Equal(t, 7, intParam(params, "from_json", 2))
	assert.Equal(t, 3, intParam(params, "native", 2))
	assert.Equal(t, 2, intParam(params, "wrong", 2))
	assert.Equal(t, 2, intParam(params, "absent", 2))
	assert.Equal(t, 2, intParam(nil, "anything", 2))
}

func TestSearchRespectsPerturbationBudget(t *testing.T) {
	// A model that never flips: every query returns the same label with
	// slightly lower confidence the more the text diverges from the
	// original. The search should stop after num_words_to_change swaps.
	original := "good great excellent happy love"
	handle := model.HandleFunc(func(ctx context.Context, input string) (model.Prediction, error) {
		changed := 0
		origWords := strings.Fields(original)
		words := strings.Fields(input)
		for i := range words {
			if i < len(origWords) && words[i] != origWords[i] {
				changed++
			}
		}
		return model.Prediction{Label: "Positive", Confidence: 0.9 - float64(changed)*0.05}, nil
	})

	svc := &Service{inferenceTimeout: time.Second}
	req := &LaunchRequest{
		InputData:        original,
		AttackParameters: map[string]any{"num_words_to_change": 2},
	}

	res, err := svc.searchAdversarial(context.Background(), handle, req, goal{original: "Positive"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Text)
	assert.Equal(t, 2, res.NumPerturbed)
	assert.Len(t, strings.Split(res.Diff, "; "), 2)
}

func TestSearchStopsAtFirstSuccess(t *testing.T) {
	// Flips as soon as "great" is gone.
	handle := model.HandleFunc(func(ctx context.Context, input string) (model.Prediction, error) {
		if strings.Contains(input, "great") {
			return model.Prediction{Label: "Positive", Confidence: 0.95}, nil
		}
		return model.Prediction{Label: "Neutral", Confidence: 0.7}, nil
	})

	svc := &Service{inferenceTimeout: time.Second}
	req := &LaunchRequest{InputData: "the movie was great"}

	res, err := svc.searchAdversarial(context.Background(), handle, req, goal{original: "Positive"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NumPerturbed)
	assert.NotContains(t, res.Text, "great")
}

func TestSearchEmptyInput(t *testing.T) {
	svc := &Service{inferenceTimeout: time.Second}
	handle := model.HandleFunc(func(ctx context.Context, input string) (model.Prediction, error) {
		return model.Prediction{Label: "Neutral", Confidence: 0.7}, nil
	})

	res, err := svc.searchAdversarial(context.Background(), handle, &LaunchRequest{InputData: "   "}, goal{original: "Neutral"})
	require.NoError(t, err)
	assert.Empty(t, res.Text)
	assert.Zero(t, res.NumPerturbed)
}
