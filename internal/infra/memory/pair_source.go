package memory

import (
	"context"

	"geo-trivia-service/internal/infra/csvstore"
)

// StaticPairSource is a dataset source backed by an in-memory slice (useful
// for tests/demos).
type StaticPairSource struct {
	pairs []csvstore.Pair
}

func NewStaticPairSource(pairs []csvstore.Pair) *StaticPairSource {
	return &StaticPairSource{pairs: pairs}
}

func (s *StaticPairSource) Load(_ context.Context) ([]csvstore.Pair, error) {
	out := make([]csvstore.Pair, len(s.pairs))
	copy(out, s.pairs)
	return out, nil
}
