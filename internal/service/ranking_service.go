package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/scoring"
)

// RankingService re-places every completed attempt of a test after new
// submissions move the standings.
type RankingService struct {
	attempts repository.AttemptStore
	log      zerolog.Logger
}

// NewRankingService creates a new RankingService.
func NewRankingService(attempts repository.AttemptStore, log zerolog.Logger) *RankingService {
	return &RankingService{
		attempts: attempts,
		log:      log.With().Str("component", "ranking_service").Logger(),
	}
}

// Recompute rewrites rank and percentile for testID and returns how many
// attempts were placed.
func (s *RankingService) Recompute(ctx context.Context, testID uuid.UUID) (int, error) {
	n, err := s.attempts.RecomputePlacements(ctx, testID, scoring.Rank)
	if err != nil {
		return 0, fmt.Errorf("%w: recompute placements: %w", ErrTransientIO, err)
	}
	s.log.Debug().Str("test_id", testID.String()).Int("placed", n).Msg("Ranks recomputed")
	return n, nil
}
