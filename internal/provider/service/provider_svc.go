package service

import (
	"context"
	"errors"

	"github.com/monoxchd/psicologia-platform-sub000/internal/provider/domain"
	"github.com/monoxchd/psicologia-platform-sub000/internal/provider/repository"
)

var ErrBadRate = errors.New("rate must be positive")

type ProviderSvc struct {
	repo *repository.ProviderRepo
}

func NewProviderSvc(r *repository.ProviderRepo) *ProviderSvc {
	return &ProviderSvc{repo: r}
}

func (s *ProviderSvc) Upsert(ctx context.Context, in domain.Provider) (*domain.Provider, error) {
	if in.RatePerMinute <= 0 {
		return nil, ErrBadRate
	}
	if err := s.repo.Upsert(ctx, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

func (s *ProviderSvc) Get(ctx context.Context, id string) (*domain.Provider, error) {
	return s.repo.ByID(ctx, id)
}

func (s *ProviderSvc) List(ctx context.Context, page, size int32) ([]domain.Provider, int64, error) {
	return s.repo.List(ctx, page, size)
}

// RatePerMinute satisfies the booking engine's rate lookup.
func (s *ProviderSvc) RatePerMinute(ctx context.Context, providerID string) (int64, error) {
	p, err := s.repo.ByID(ctx, providerID)
	if err != nil {
		return 0, err
	}
	return p.RatePerMinute, nil
}
