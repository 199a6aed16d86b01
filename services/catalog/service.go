package catalog

import (
	"context"
	"time"

	"venue-loyalty/pkg/db/option"
	"venue-loyalty/pkg/errutil"
	"venue-loyalty/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	products repository.Repository[Product]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		products: repository.ProvideStore[Product](p.DB),
	}
}

type ProductParams struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PointCost   int64  `json:"point_cost"`
}

func (p ProductParams) validate() error {
	if p.Name == "" {
		return errutil.ValidationFailed("product name is required", nil)
	}
	if p.PointCost <= 0 {
		return errutil.ValidationFailed("point cost must be greater than zero", nil)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, p ProductParams) (*Product, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	row := &Product{
		ID:          s.node.Generate().String(),
		Name:        p.Name,
		Description: p.Description,
		PointCost:   p.PointCost,
		Active:      true,
		CreatedAt:   time.Now(),
	}

	if err := s.products.Create(ctx, row); err != nil {
		return nil, errutil.Internal("failed to create product", err)
	}
	return row, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Product, error) {
	row, err := s.products.FindOne(ctx, &Product{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to query products", err)
	}
	if row == nil {
		return nil, errutil.NotFound("product not found", nil)
	}
	return row, nil
}

// GetRedeemable resolves a product for a new redemption: missing and
// deactivated products are indistinguishable to the caller.
func (s *Service) GetRedeemable(ctx context.Context, id string) (*Product, error) {
	row, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !row.Active {
		return nil, errutil.NotFound("product not found", nil)
	}
	return row, nil
}

func (s *Service) Update(ctx context.Context, id string, p ProductParams) (*Product, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	if err := s.products.Update(ctx, id, map[string]any{
		"name":        p.Name,
		"description": p.Description,
		"point_cost":  p.PointCost,
	}); err != nil {
		return nil, errutil.Internal("failed to update product", err)
	}

	return s.Get(ctx, id)
}

// SetActive toggles redeemability. Existing pending requests keep their
// captured cost and are unaffected.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.products.Update(ctx, id, map[string]any{"active": active}); err != nil {
		return errutil.Internal("failed to update product", err)
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.products.Delete(ctx, &Product{ID: id}); err != nil {
		return errutil.Internal("failed to delete product", err)
	}
	return nil
}

type ListParams struct {
	ActiveOnly bool
	Limit      int
}

func (s *Service) List(ctx context.Context, p ListParams) ([]*Product, error) {
	query := &Product{}
	if p.ActiveOnly {
		query.Active = true
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "point_cost",
			OrderBy: "asc",
			Allow:   map[string]bool{"point_cost": true, "created_at": true},
		}),
	}
	if p.Limit > 0 {
		opts = append(opts, option.WithLimit(p.Limit))
	}

	rows, err := s.products.Find(ctx, query, opts...)
	if err != nil {
		return nil, errutil.Internal("failed to list products", err)
	}
	return rows, nil
}
