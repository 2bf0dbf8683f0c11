package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/monoxchd/psicologia-platform-sub000/internal/provider/domain"
)

type ProviderRepo struct{ db *gorm.DB }

func NewProviderRepo(db *gorm.DB) *ProviderRepo {
	return &ProviderRepo{db: db}
}

func (r *ProviderRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.Provider{})
}

func (r *ProviderRepo) Upsert(ctx context.Context, p *domain.Provider) error {
	return r.db.WithContext(ctx).
		Where("id = ?", p.ID).
		Assign(map[string]any{
			"display_name":    p.DisplayName,
			"rate_per_minute": p.RatePerMinute,
			"timezone":        p.Timezone,
		}).FirstOrCreate(p).Error
}

func (r *ProviderRepo) ByID(ctx context.Context, id string) (*domain.Provider, error) {
	var p domain.Provider
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProviderRepo) List(ctx context.Context, page, size int32) ([]domain.Provider, int64, error) {
	if size <= 0 {
		size = 20
	}
	if page < 0 {
		page = 0
	}
	qb := r.db.WithContext(ctx).Model(&domain.Provider{})
	var total int64
	if err := qb.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []domain.Provider
	if err := qb.Order("display_name ASC").Limit(int(size)).Offset(int(page * size)).Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
