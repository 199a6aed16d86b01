package checkin

import (
	"context"
	"errors"
	"strings"
	"time"

	"venue-loyalty/pkg/db/option"
	"venue-loyalty/pkg/errutil"
	"venue-loyalty/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	checkins repository.Repository[CheckIn]
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
		checkins: repository.ProvideStore[CheckIn](p.DB),
	}
}

// RecordTx inserts a check-in inside the caller's transaction. The
// duplicate check and the insert are one atomic unit: the pre-read gives
// a clean error message, the unique index is the actual gate when two
// inserts race.
func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, customerID string, at time.Time, location string) (*CheckIn, error) {
	if at.IsZero() {
		at = time.Now()
	}
	day := DayOf(at)

	repo := s.checkins.WithTrx(tx)

	existing, err := repo.FindOne(ctx, &CheckIn{CustomerID: customerID, Day: day})
	if err != nil {
		return nil, errutil.Internal("failed to query check-ins", err)
	}
	if existing != nil {
		return nil, errutil.Conflict("already checked in on this day", nil)
	}

	row := &CheckIn{
		ID:         s.node.Generate().String(),
		CustomerID: customerID,
		Day:        day,
		OccurredAt: at,
		Location:   location,
	}

	if err := repo.Create(ctx, row); err != nil {
		if isUniqueViolation(err) {
			return nil, errutil.Conflict("already checked in on this day", nil)
		}
		zap.L().Error("failed to record check-in",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return nil, errutil.Internal("failed to record check-in", err)
	}

	return row, nil
}

// CanCheckIn mirrors RecordTx's dedup rule without side effects, for UI
// gating.
func (s *Service) CanCheckIn(ctx context.Context, customerID string, now time.Time) (bool, error) {
	count, err := s.checkins.Count(ctx, &CheckIn{CustomerID: customerID, Day: DayOf(now)})
	if err != nil {
		return false, errutil.Internal("failed to query check-ins", err)
	}
	return count == 0, nil
}

// DistinctDays counts the distinct calendar dates with a check-in inside
// (asOf - 30d, asOf].
func (s *Service) DistinctDays(ctx context.Context, customerID string, asOf time.Time) (int, error) {
	return s.DistinctDaysTx(ctx, s.db, customerID, asOf)
}

func (s *Service) DistinctDaysTx(ctx context.Context, tx *gorm.DB, customerID string, asOf time.Time) (int, error) {
	var days int64
	err := tx.WithContext(ctx).Model(&CheckIn{}).
		Where("customer_id = ?", customerID).
		Where("occurred_at > ? AND occurred_at <= ?", asOf.Add(-BonusWindow), asOf).
		Distinct("day").
		Count(&days).Error
	if err != nil {
		return 0, errutil.Internal("failed to count visit days", err)
	}
	return int(days), nil
}

// FrequencyBonus maps the trailing-window distinct-day count through the
// step table. This is the table value for the current count; the
// high-water-mark crediting policy on top of it lives with the customer
// service.
func (s *Service) FrequencyBonus(ctx context.Context, customerID string, asOf time.Time) (bonus int64, days int, err error) {
	days, err = s.DistinctDays(ctx, customerID, asOf)
	if err != nil {
		return 0, 0, err
	}
	_, bonus = BonusForDays(days)
	return bonus, days, nil
}

// History returns the most recent check-ins, newest first.
func (s *Service) History(ctx context.Context, customerID string, limit int) ([]*CheckIn, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "occurred_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"occurred_at": true},
		}),
	}
	if limit > 0 {
		opts = append(opts, option.WithLimit(limit))
	}

	rows, err := s.checkins.Find(ctx, &CheckIn{CustomerID: customerID}, opts...)
	if err != nil {
		return nil, errutil.Internal("failed to list check-ins", err)
	}
	return rows, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}
