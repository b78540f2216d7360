package cache

import (
	"context"
	"time"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
)

// PresentationCache holds UnitPresentation rows keyed by product and unit.
// A miss is reported as (nil, false, nil).
type PresentationCache interface {
	Get(ctx context.Context, productID string, unitID string) (*domain.UnitPresentation, bool, error)
	Set(ctx context.Context, value domain.UnitPresentation, ttl time.Duration) error
	Delete(ctx context.Context, productID string, unitID string) error
}

type NoopPresentationCache struct{}

func (NoopPresentationCache) Get(_ context.Context, _ string, _ string) (*domain.UnitPresentation, bool, error) {
	return nil, false, nil
}

func (NoopPresentationCache) Set(_ context.Context, _ domain.UnitPresentation, _ time.Duration) error {
	return nil
}

func (NoopPresentationCache) Delete(_ context.Context, _ string, _ string) error {
	return nil
}

func presentationKey(productID string, unitID string) string {
	return "estanco:presentation:" + productID + ":" + unitID
}
