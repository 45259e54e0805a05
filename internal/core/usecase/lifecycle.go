package usecase

import (
	"fmt"

	"github.com/kirillkom/navi-mailroom/internal/core/domain"
)

// humanDecide walks a held document through HUMAN_DECIDED to final.
// Sidecars written before a state was recorded count as REVIEW_REQUIRED.
func humanDecide(current, final domain.State) ([]domain.State, error) {
	if current == "" {
		current = domain.StateReviewRequired
	}
	path := []domain.State{current}
	for _, next := range []domain.State{domain.StateHumanDecided, final} {
		if err := domain.Transition(path[len(path)-1], next); err != nil {
			return nil, fmt.Errorf("human decision on %s item: %w", current, err)
		}
		path = append(path, next)
	}
	return path, nil
}
