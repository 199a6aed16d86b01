package ledger

import (
	"context"
	"encoding/json"
	"time"

	"venue-loyalty/pkg/db/option"
	"venue-loyalty/pkg/errutil"
	"venue-loyalty/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	entries repository.Repository[Entry]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		entries: repository.ProvideStore[Entry](p.DB),
	}
}

type CreditParams struct {
	CustomerID  string
	Points      int64
	Category    Category
	Description string
	// At is the logical credit time; zero means now. Expiry is always
	// At + PointTTL.
	At       time.Time
	Metadata map[string]string
}

// Credit appends one entry in its own transaction. Callers composing a
// credit with other writes use CreditTx inside their transaction instead.
func (s *Service) Credit(ctx context.Context, p CreditParams) (*Entry, error) {
	var entry *Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		entry, txErr = s.CreditTx(ctx, tx, p)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CreditTx appends one entry using the caller's transaction.
func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, p CreditParams) (*Entry, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("customer_id", p.CustomerID),
		zap.String("category", string(p.Category)),
	)

	if p.Points <= 0 {
		return nil, errutil.ValidationFailed("points must be greater than zero", nil)
	}
	if !p.Category.Valid() {
		return nil, errutil.ValidationFailed("unsupported ledger category", nil)
	}

	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	expiresAt := at.Add(PointTTL)

	entry := &Entry{
		ID:          s.node.Generate().String(),
		CustomerID:  p.CustomerID,
		Points:      p.Points,
		Category:    string(p.Category),
		Description: p.Description,
		CreatedAt:   at,
		ExpiresAt:   &expiresAt,
	}

	if len(p.Metadata) > 0 {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, errutil.Internal("failed to encode entry metadata", err)
		}
		entry.Metadata = datatypes.JSON(raw)
	}

	if err := s.entries.WithTrx(tx).Create(ctx, entry); err != nil {
		zapLog.Error("failed to append ledger entry", zap.Error(err))
		return nil, errutil.Internal("failed to append ledger entry", err)
	}

	zapLog.Info("ledger entry appended",
		zap.String("entry_id", entry.ID),
		zap.Int64("points", entry.Points),
	)

	return entry, nil
}

// ValidBalance sums the deltas of entries whose expiry is unset or
// strictly after asOf. Expiry is evaluated lazily here; no sweep ever
// removes rows.
func (s *Service) ValidBalance(ctx context.Context, customerID string, asOf time.Time) (int64, error) {
	return s.ValidBalanceTx(ctx, s.db, customerID, asOf)
}

func (s *Service) ValidBalanceTx(ctx context.Context, tx *gorm.DB, customerID string, asOf time.Time) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).Model(&Entry{}).
		Select("COALESCE(SUM(points), 0)").
		Where("customer_id = ?", customerID).
		Where("expires_at IS NULL OR expires_at > ?", asOf).
		Scan(&total).Error
	if err != nil {
		return 0, errutil.Internal("failed to compute valid balance", err)
	}
	return total, nil
}

// ExpiredBalance sums the deltas of entries whose expiry has passed at
// asOf, for historical "points lost" reporting.
func (s *Service) ExpiredBalance(ctx context.Context, customerID string, asOf time.Time) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Select("COALESCE(SUM(points), 0)").
		Where("customer_id = ?", customerID).
		Where("expires_at IS NOT NULL AND expires_at <= ?", asOf).
		Scan(&total).Error
	if err != nil {
		return 0, errutil.Internal("failed to compute expired balance", err)
	}
	return total, nil
}

// History returns the newest entries first. A non-positive limit returns
// everything.
func (s *Service) History(ctx context.Context, customerID string, limit int) ([]*Entry, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
	}
	if limit > 0 {
		opts = append(opts, option.WithLimit(limit))
	}

	entries, err := s.entries.Find(ctx, &Entry{CustomerID: customerID}, opts...)
	if err != nil {
		return nil, errutil.Internal("failed to list ledger entries", err)
	}
	return entries, nil
}

// TotalDistributed is the all-time sum of granted points, expired or not,
// for venue statistics.
func (s *Service) TotalDistributed(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Select("COALESCE(SUM(points), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, errutil.Internal("failed to compute distributed points", err)
	}
	return total, nil
}
