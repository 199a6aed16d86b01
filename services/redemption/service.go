package redemption

import (
	"context"
	"fmt"
	"time"

	"venue-loyalty/pkg/db/option"
	"venue-loyalty/pkg/db/pagination"
	"venue-loyalty/pkg/errutil"
	"venue-loyalty/pkg/repository"
	"venue-loyalty/services/catalog"
	"venue-loyalty/services/customer"
	"venue-loyalty/services/ledger"
	"venue-loyalty/services/settings"
	"venue-loyalty/services/tier"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	settings *settings.Service
	ledger   *ledger.Service
	customer *customer.Service
	catalog  *catalog.Service

	requests repository.Repository[Request]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Settings *settings.Service
	Ledger   *ledger.Service
	Customer *customer.Service
	Catalog  *catalog.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		settings: p.Settings,
		ledger:   p.Ledger,
		customer: p.Customer,
		catalog:  p.Catalog,
		requests: repository.ProvideStore[Request](p.DB),
	}
}

type SubmitParams struct {
	CustomerID string `json:"customer_id"`
	ProductID  string `json:"product_id"`
	Quantity   int64  `json:"quantity"`
	Note       string `json:"note,omitempty"`
}

// Submit stores a pending request with the cost captured at submission
// time. A product that is missing or inactive reads the same to the
// caller: not found.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (*Request, error) {
	if p.Quantity <= 0 {
		return nil, errutil.ValidationFailed("quantity must be greater than zero", nil)
	}

	if _, err := s.customer.Get(ctx, p.CustomerID); err != nil {
		return nil, err
	}

	product, err := s.catalog.GetRedeemable(ctx, p.ProductID)
	if err != nil {
		return nil, err
	}

	row := &Request{
		ID:          s.node.Generate().String(),
		CustomerID:  p.CustomerID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    p.Quantity,
		PointsTotal: product.PointCost * p.Quantity,
		Status:      string(StatusPending),
		Note:        p.Note,
		CreatedAt:   time.Now(),
	}

	if err := s.requests.Create(ctx, row); err != nil {
		return nil, errutil.Internal("failed to submit redemption request", err)
	}

	zap.L().Info("redemption request submitted",
		zap.String("request_id", row.ID),
		zap.String("customer_id", row.CustomerID),
		zap.Int64("points_total", row.PointsTotal),
	)

	return row, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	row, err := s.requests.FindOne(ctx, &Request{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to query redemption requests", err)
	}
	if row == nil {
		return nil, errutil.NotFound("redemption request not found", nil)
	}
	return row, nil
}

type DecideParams struct {
	RequestID string `json:"request_id"`
	Approve   bool   `json:"approve"`
	DecidedBy string `json:"decided_by"`
	Note      string `json:"note,omitempty"`
}

type Decision struct {
	Request *Request  `json:"request"`
	Balance int64     `json:"balance"`
	Tier    tier.Tier `json:"tier"`
}

// Decide transitions a pending request exactly once. The transition is a
// guarded update keyed on the pending status: of two concurrent calls only
// one flips the row, the loser's update matches nothing and fails with
// AlreadyDecided. Approval credits the ledger and refreshes the customer's
// cached balance and tier in the same transaction, so a failed credit
// leaves the request pending.
func (s *Service) Decide(ctx context.Context, p DecideParams) (*Decision, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("request_id", p.RequestID),
	)

	snap, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	decision := &Decision{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.requests.WithTrx(tx)

		row, err := repo.FindOne(ctx, &Request{ID: p.RequestID}, option.WithLockingUpdate())
		if err != nil {
			return errutil.Internal("failed to query redemption requests", err)
		}
		if row == nil {
			return errutil.NotFound("redemption request not found", nil)
		}
		if Status(row.Status).Terminal() {
			return errutil.Conflict("redemption request already decided", nil)
		}

		status := StatusRejected
		if p.Approve {
			status = StatusApproved
		}
		now := time.Now()

		updates := map[string]any{
			"status":     string(status),
			"decided_at": now,
			"decided_by": p.DecidedBy,
		}
		if p.Note != "" {
			updates["note"] = p.Note
		}

		res := tx.Model(&Request{}).
			Where("id = ? AND status = ?", row.ID, string(StatusPending)).
			Updates(updates)
		if res.Error != nil {
			return errutil.Internal("failed to update redemption request", res.Error)
		}
		if res.RowsAffected != 1 {
			return errutil.Conflict("redemption request already decided", nil)
		}

		row.Status = string(status)
		row.DecidedAt = &now
		row.DecidedBy = p.DecidedBy
		decision.Request = row

		if !p.Approve {
			balance, err := s.ledger.ValidBalanceTx(ctx, tx, row.CustomerID, now)
			if err != nil {
				return err
			}
			decision.Balance = balance
			decision.Tier = tier.Classify(balance, snap)
			return nil
		}

		if _, err := s.ledger.CreditTx(ctx, tx, ledger.CreditParams{
			CustomerID:  row.CustomerID,
			Points:      row.PointsTotal,
			Category:    ledger.CategoryRedemption,
			Description: fmt.Sprintf("redemption: %s x%d", row.ProductName, row.Quantity),
			At:          now,
			Metadata: map[string]string{
				"request_id": row.ID,
				"product_id": row.ProductID,
			},
		}); err != nil {
			return err
		}

		balance, current, err := s.customer.SettleTx(ctx, tx, row.CustomerID, snap, now)
		if err != nil {
			return err
		}
		decision.Balance = balance
		decision.Tier = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	zapLog.Info("redemption request decided",
		zap.String("status", decision.Request.Status),
		zap.String("decided_by", p.DecidedBy),
		zap.Int64("balance", decision.Balance),
	)

	return decision, nil
}

type ListParams struct {
	Status     string
	Pagination pagination.Pagination
}

type Page struct {
	Requests []*Request          `json:"requests"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

// List pages through requests newest-first with an opaque created-at
// cursor; one extra row is fetched to decide whether a next page exists.
func (s *Service) List(ctx context.Context, p ListParams) (*Page, error) {
	limit := p.Pagination.Limit
	if limit <= 0 {
		limit = 10
	}

	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.ApplyPagination(p.Pagination),
	}

	if p.Pagination.Cursor != "" {
		cursor, err := pagination.DecodeCursor(p.Pagination.Cursor)
		if err != nil {
			return nil, errutil.BadRequest("invalid cursor", err)
		}
		before, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
		if err != nil {
			return nil, errutil.BadRequest("invalid cursor", err)
		}
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LT,
			Value:    before,
		}))
	}

	rows, err := s.requests.Find(ctx, &Request{Status: p.Status}, opts...)
	if err != nil {
		return nil, errutil.Internal("failed to list redemption requests", err)
	}

	page := &Page{Requests: rows}
	if len(rows) > limit {
		page.Requests = rows[:limit]
		last := page.Requests[limit-1]
		next, err := pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt.Format(time.RFC3339Nano),
			ID:        last.ID,
		})
		if err != nil {
			return nil, errutil.Internal("failed to encode cursor", err)
		}
		page.PageInfo = pagination.PageInfo{NextCursor: next, HasMore: true}
	}

	return page, nil
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]*Request, error) {
	rows, err := s.requests.Find(ctx, &Request{CustomerID: customerID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list redemption requests", err)
	}
	return rows, nil
}
