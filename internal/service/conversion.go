package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/cache"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/domain"
	"github.com/JohanSebastianOlayaReyes/EstancoPro-sub000/internal/store"
)

// ConversionResolver is the only place that decides what a (product, unit)
// pair costs and how many base units it stands for. A missing presentation
// means the product's base unit with a factor of one.
type ConversionResolver struct {
	cache cache.PresentationCache
	ttl   time.Duration
	log   logrus.FieldLogger
}

func NewConversionResolver(presentations cache.PresentationCache, ttl time.Duration, log logrus.FieldLogger) *ConversionResolver {
	if presentations == nil {
		presentations = cache.NoopPresentationCache{}
	}
	return &ConversionResolver{cache: presentations, ttl: ttl, log: log}
}

// Resolve fails with store.ErrNotFound only when the product does not exist.
func (r *ConversionResolver) Resolve(ctx context.Context, tx store.Tx, productID string, unitID string) (domain.Conversion, error) {
	product, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return domain.Conversion{}, err
	}
	return r.resolveFor(ctx, tx, product, unitID)
}

func (r *ConversionResolver) resolveFor(ctx context.Context, tx store.Tx, product *domain.Product, unitID string) (domain.Conversion, error) {
	if unitID != "" {
		presentation, err := r.presentation(ctx, tx, product.ID, unitID)
		if err != nil {
			return domain.Conversion{}, err
		}
		if presentation != nil {
			cost := product.UnitCost.Mul(presentation.ConversionFactor)
			if presentation.UnitCost.Valid {
				cost = presentation.UnitCost.Decimal
			}
			return domain.Conversion{
				ProductID:        product.ID,
				UnitID:           unitID,
				UnitPrice:        presentation.UnitPrice,
				UnitCost:         cost,
				ConversionFactor: presentation.ConversionFactor,
			}, nil
		}
	}

	if unitID == "" {
		unitID = product.UnitID
	}
	return domain.Conversion{
		ProductID:        product.ID,
		UnitID:           unitID,
		UnitPrice:        product.UnitPrice,
		UnitCost:         product.UnitCost,
		ConversionFactor: decimal.NewFromInt(1),
		Fallback:         true,
	}, nil
}

// presentation returns nil without error when no row exists for the pair.
func (r *ConversionResolver) presentation(ctx context.Context, tx store.Tx, productID string, unitID string) (*domain.UnitPresentation, error) {
	cached, ok, err := r.cache.Get(ctx, productID, unitID)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"product_id": productID, "unit_id": unitID}).Warn("presentation cache read failed")
	} else if ok {
		return cached, nil
	}

	presentation, err := tx.GetPresentation(ctx, productID, unitID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := r.cache.Set(ctx, *presentation, r.ttl); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"product_id": productID, "unit_id": unitID}).Warn("presentation cache write failed")
	}
	return presentation, nil
}

func (r *ConversionResolver) invalidate(ctx context.Context, productID string, unitID string) {
	if err := r.cache.Delete(ctx, productID, unitID); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{"product_id": productID, "unit_id": unitID}).Warn("presentation cache delete failed")
	}
}

// ToBaseUnits converts a quantity in a presentation unit to base units.
func ToBaseUnits(quantity decimal.Decimal, conversionFactor decimal.Decimal) decimal.Decimal {
	return quantity.Mul(conversionFactor)
}

// SavePresentation creates or replaces the presentation row for a product
// and unit, then drops any cached copy.
func (s *Service) SavePresentation(ctx context.Context, productID string, unitID string, req domain.PresentationSaveRequest) (domain.UnitPresentation, error) {
	productID = normalizeID(productID)
	unitID = normalizeID(unitID)
	if productID == "" || unitID == "" {
		return domain.UnitPresentation{}, invalidArgument("product id and unit id are required")
	}
	if !req.ConversionFactor.IsPositive() {
		return domain.UnitPresentation{}, invalidArgument("conversion_factor must be greater than zero, got %s", req.ConversionFactor)
	}
	if req.UnitPrice.IsNegative() {
		return domain.UnitPresentation{}, invalidArgument("unit_price must not be negative")
	}
	if req.UnitCost.Valid && req.UnitCost.Decimal.IsNegative() {
		return domain.UnitPresentation{}, invalidArgument("unit_cost must not be negative")
	}
	if err := checkNumeric("conversion_factor", req.ConversionFactor, factorPlaces); err != nil {
		return domain.UnitPresentation{}, err
	}
	if err := checkNumeric("unit_price", req.UnitPrice, pricePlaces); err != nil {
		return domain.UnitPresentation{}, err
	}
	if req.UnitCost.Valid {
		if err := checkNumeric("unit_cost", req.UnitCost.Decimal, pricePlaces); err != nil {
			return domain.UnitPresentation{}, err
		}
	}

	presentation := domain.UnitPresentation{
		ProductID:        productID,
		UnitID:           unitID,
		UnitPrice:        req.UnitPrice,
		UnitCost:         req.UnitCost,
		ConversionFactor: req.ConversionFactor,
		Barcode:          normalizeID(req.Barcode),
	}
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetProduct(ctx, productID); err != nil {
			return err
		}
		return tx.UpsertPresentation(ctx, presentation)
	})
	if err != nil {
		return domain.UnitPresentation{}, err
	}

	s.resolver.invalidate(ctx, productID, unitID)
	s.logAudit(ctx, "presentation_save", "unit_presentation", productID+"/"+unitID, logrus.Fields{
		"conversion_factor": presentation.ConversionFactor.String(),
		"unit_price":        presentation.UnitPrice.String(),
	})
	return presentation, nil
}

// ResolveConversion exposes the resolver outside a unit of work.
func (s *Service) ResolveConversion(ctx context.Context, productID string, unitID string) (domain.Conversion, error) {
	var conv domain.Conversion
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		conv, err = s.resolver.Resolve(ctx, tx, normalizeID(productID), normalizeID(unitID))
		return err
	})
	return conv, err
}
