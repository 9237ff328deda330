// Package model provides inference handles and the bounded LRU cache
// that mediates their reuse across concurrent attack workers.
package model

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Prediction is the result of a single inference call.
type Prediction struct {
	Label      string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// Handle is a loaded model instance. Every handle exposes exactly one
// capability: classify an input and return a label with a confidence.
type Handle interface {
	Predict(ctx context.Context, input string) (Prediction, error)
}

// Loader constructs a handle for a model identifier. Construction may be
// slow (network fetch, weight loading) and must be safe to call
// concurrently for different identifiers.
type Loader interface {
	Load(ctx context.Context, modelID string) (Handle, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, modelID string) (Handle, error)

func (f LoaderFunc) Load(ctx context.Context, modelID string) (Handle, error) {
	return f(ctx, modelID)
}

// Built-in model identifiers.
const (
	DefaultSentimentModel = "default-sentiment-model"
	NegativeBiasModel     = "negative-bias-model"
	PositiveBiasModel     = "positive-bias-model"
)

// Sentiment labels shared by all built-in models.
const (
	LabelPositive = "Positive"
	LabelNegative = "Negative"
	LabelNeutral  = "Neutral"
)

// BuiltinLoader constructs handles for the built-in sentiment models.
// Unknown identifiers fall back to the general-purpose keyword model so
// an attack against an unregistered model still exercises the pipeline.
func BuiltinLoader() Loader {
	return LoaderFunc(func(ctx context.Context, modelID string) (Handle, error) {
		switch modelID {
		case NegativeBiasModel:
			return &keywordSentiment{bias: LabelNegative, latency: 6 * time.Millisecond}, nil
		case PositiveBiasModel:
			return &keywordSentiment{bias: LabelPositive, latency: 4 * time.Millisecond}, nil
		default:
			return &keywordSentiment{latency: 5 * time.Millisecond}, nil
		}
	})
}

var (
	positiveKeywords = []string{"good", "great", "excellent", "happy", "love", "amazing"}
	negativeKeywords = []string{"bad", "terrible", "awful", "sad", "hate", "poor"}
)

// keywordSentiment is a deterministic sentiment classifier over a small
// keyword vocabulary. A non-empty bias skews the verdict toward that
// label the way the biased demo models do.
type keywordSentiment struct {
	bias    string
	latency time.Duration
}

func (k *keywordSentiment) Predict(ctx context.Context, input string) (Prediction, error) {
	if k.latency > 0 {
		select {
		case <-time.After(k.latency):
		case <-ctx.Done():
			return Prediction{}, ctx.Err()
		}
	}

	text := strings.ToLower(input)
	positive := containsAny(text, positiveKeywords)
	negative := containsAny(text, negativeKeywords)

	switch k.bias {
	case LabelNegative:
		if negative {
			return Prediction{Label: LabelNegative, Confidence: 0.98}, nil
		}
		if positive {
			return Prediction{Label: LabelNeutral, Confidence: 0.60}, nil
		}
		return Prediction{Label: LabelNegative, Confidence: 0.75}, nil

	case LabelPositive:
		if positive {
			return Prediction{Label: LabelPositive, Confidence: 0.98}, nil
		}
		if negative {
			return Prediction{Label: LabelNeutral, Confidence: 0.60}, nil
		}
		return Prediction{Label: LabelPositive, Confidence: 0.75}, nil

	default:
		if positive {
			return Prediction{Label: LabelPositive, Confidence: 0.95}, nil
		}
		if negative {
			return Prediction{Label: LabelNegative, Confidence: 0.85}, nil
		}
		return Prediction{Label: LabelNeutral, Confidence: 0.70}, nil
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// HandleFunc adapts a function to the Handle interface. Used by tests
// and by collaborators that stub inference.
type HandleFunc func(ctx context.Context, input string) (Prediction, error)

func (f HandleFunc) Predict(ctx context.Context, input string) (Prediction, error) {
	return f(ctx, input)
}

func validateLabel(label string) error {
	if label == "" {
		return fmt.Errorf("empty prediction label")
	}
	return nil
}
