package model_test

import (
	"math"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/loremind/pkg/domain/model"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b model.Embedding
		want float64
	}{
		{"identical", model.Embedding{1, 2, 3}, model.Embedding{1, 2, 3}, 1},
		{"orthogonal", model.Embedding{1, 0}, model.Embedding{0, 1}, 0},
		{"opposite", model.Embedding{1, 0}, model.Embedding{-1, 0}, -1},
		{"length mismatch", model.Embedding{1, 0}, model.Embedding{1, 0, 0}, 0},
		{"zero vector", model.Embedding{0, 0}, model.Embedding{1, 0}, 0},
		{"empty", model.Embedding{}, model.Embedding{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := model.CosineSimilarity(tt.a, tt.b)
			gt.Bool(t, math.Abs(got-tt.want) < 1e-6).True()
		})
	}
}

func TestSimilarityScore(t *testing.T) {
	tests := []struct {
		sim  float64
		want int
	}{
		{-1, 0},
		{-0.2, 0},
		{0, 0},
		{0.294, 29},
		{0.5, 50},
		{0.999, 100},
		{1, 100},
		{1.2, 100},
		{math.NaN(), 0},
	}

	for _, tt := range tests {
		gt.Value(t, model.SimilarityScore(tt.sim)).Equal(tt.want)
	}
}

func TestSimilarityScore_Bounded(t *testing.T) {
	vectors := []model.Embedding{
		{1, 0, 0},
		{-1, 0.5, 0.3},
		{0.2, -0.9, 0.4},
		{0, 0, 0},
		{3, 3, 3},
	}
	for _, a := range vectors {
		for _, b := range vectors {
			score := model.SimilarityScore(model.CosineSimilarity(a, b))
			gt.Number(t, score).GreaterOrEqual(0)
			gt.Number(t, score).LessOrEqual(100)
		}
	}
}

func TestEmbedding_IsFinite(t *testing.T) {
	gt.Bool(t, model.Embedding{0.1, 0.2}.IsFinite()).True()
	gt.Bool(t, model.Embedding{float32(math.NaN())}.IsFinite()).False()
	gt.Bool(t, model.Embedding{float32(math.Inf(1))}.IsFinite()).False()
}
