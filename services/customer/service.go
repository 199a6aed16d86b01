package customer

import (
	"context"
	"time"

	"venue-loyalty/pkg/db/option"
	"venue-loyalty/pkg/errutil"
	"venue-loyalty/pkg/repository"
	"venue-loyalty/services/checkin"
	"venue-loyalty/services/ledger"
	"venue-loyalty/services/settings"
	"venue-loyalty/services/tier"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLen = 4

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	settings *settings.Service
	ledger   *ledger.Service
	checkin  *checkin.Service

	customers repository.Repository[Customer]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Settings *settings.Service
	Ledger   *ledger.Service
	CheckIn  *checkin.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		settings:  p.Settings,
		ledger:    p.Ledger,
		checkin:   p.CheckIn,
		customers: repository.ProvideStore[Customer](p.DB),
	}
}

type RegisterParams struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// Register creates a customer starting at the red tier with an empty
// ledger. Phone is the login identifier and must be unique.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*Customer, error) {
	if p.Name == "" {
		return nil, errutil.ValidationFailed("name is required", nil)
	}
	if p.Phone == "" {
		return nil, errutil.ValidationFailed("phone is required", nil)
	}

	existing, err := s.customers.FindOne(ctx, &Customer{Phone: p.Phone})
	if err != nil {
		return nil, errutil.Internal("failed to query customers", err)
	}
	if existing != nil {
		return nil, errutil.Conflict("phone number already registered", nil)
	}

	row := &Customer{
		ID:           s.node.Generate().String(),
		Name:         p.Name,
		Phone:        p.Phone,
		Email:        p.Email,
		RegisteredAt: time.Now(),
		Tier:         string(tier.Red),
	}

	if p.Password != "" {
		hash, err := hashPassword(p.Password)
		if err != nil {
			return nil, err
		}
		row.PasswordHash = hash
	}

	if err := s.customers.Create(ctx, row); err != nil {
		zap.L().Error("failed to register customer",
			zap.String("phone", p.Phone),
			zap.Error(err),
		)
		return nil, errutil.Internal("failed to register customer", err)
	}

	return row, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Customer, error) {
	row, err := s.customers.FindOne(ctx, &Customer{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to query customers", err)
	}
	if row == nil {
		return nil, errutil.NotFound("customer not found", nil)
	}
	return row, nil
}

type UpdateParams struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (*Customer, error) {
	if p.Name == "" {
		return nil, errutil.ValidationFailed("name is required", nil)
	}
	if p.Phone == "" {
		return nil, errutil.ValidationFailed("phone is required", nil)
	}

	row, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Phone != row.Phone {
		other, err := s.customers.FindOne(ctx, &Customer{Phone: p.Phone})
		if err != nil {
			return nil, errutil.Internal("failed to query customers", err)
		}
		if other != nil {
			return nil, errutil.Conflict("phone number already registered", nil)
		}
	}

	if err := s.customers.Update(ctx, id, map[string]any{
		"name":  p.Name,
		"phone": p.Phone,
		"email": p.Email,
	}); err != nil {
		return nil, errutil.Internal("failed to update customer", err)
	}

	return s.Get(ctx, id)
}

// Delete removes the customer together with their ledger entries and
// check-ins. Redemption requests reference the customer by ID only and are
// removed in the same transaction so no decision can land on a deleted
// account.
func (s *Service) Delete(ctx context.Context, id string) error {
	row, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("customer_id = ?", id).Delete(&ledger.Entry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("customer_id = ?", id).Delete(&checkin.CheckIn{}).Error; err != nil {
			return err
		}
		// Owned by the redemption service; referenced by table to avoid an
		// import cycle.
		if err := tx.Exec("DELETE FROM redemption_requests WHERE customer_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Customer{}).Error
	})
	if err != nil {
		return errutil.Internal("failed to delete customer", err)
	}

	zap.L().Info("customer deleted",
		zap.String("customer_id", id),
		zap.String("phone", row.Phone),
	)

	return nil
}

type ListParams struct {
	Tier  string
	Limit int
}

// List returns customers ordered by cached points total, highest first,
// optionally filtered to one tier.
func (s *Service) List(ctx context.Context, p ListParams) ([]*Customer, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "points_total",
			OrderBy: "desc",
			Allow:   map[string]bool{"registered_at": true, "points_total": true, "name": true},
		}),
	}
	if p.Limit > 0 {
		opts = append(opts, option.WithLimit(p.Limit))
	}

	rows, err := s.customers.Find(ctx, &Customer{Tier: p.Tier}, opts...)
	if err != nil {
		return nil, errutil.Internal("failed to list customers", err)
	}
	return rows, nil
}

// Ranking orders customers by cached points total, highest first. The cache
// can lag lazy expiry; callers wanting exact figures refresh first.
func (s *Service) Ranking(ctx context.Context, limit int) ([]*Customer, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "points_total",
			OrderBy: "desc",
			Allow:   map[string]bool{"points_total": true},
		}),
	}
	if limit > 0 {
		opts = append(opts, option.WithLimit(limit))
	}

	rows, err := s.customers.Find(ctx, &Customer{}, opts...)
	if err != nil {
		return nil, errutil.Internal("failed to rank customers", err)
	}
	return rows, nil
}

type Statistics struct {
	TotalCustomers    int64 `json:"total_customers"`
	RedCount          int64 `json:"red_count"`
	YellowCount       int64 `json:"yellow_count"`
	GreenCount        int64 `json:"green_count"`
	PointsDistributed int64 `json:"points_distributed"`
}

func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{}

	var err error
	if stats.TotalCustomers, err = s.customers.Count(ctx, &Customer{}); err != nil {
		return nil, errutil.Internal("failed to count customers", err)
	}
	if stats.RedCount, err = s.customers.Count(ctx, &Customer{Tier: string(tier.Red)}); err != nil {
		return nil, errutil.Internal("failed to count customers", err)
	}
	if stats.YellowCount, err = s.customers.Count(ctx, &Customer{Tier: string(tier.Yellow)}); err != nil {
		return nil, errutil.Internal("failed to count customers", err)
	}
	if stats.GreenCount, err = s.customers.Count(ctx, &Customer{Tier: string(tier.Green)}); err != nil {
		return nil, errutil.Internal("failed to count customers", err)
	}
	if stats.PointsDistributed, err = s.ledger.TotalDistributed(ctx); err != nil {
		return nil, err
	}

	return stats, nil
}

// LoginByPhone authenticates a customer. A customer without a stored
// password logs in with the phone number alone; once a password is set it
// is always required.
func (s *Service) LoginByPhone(ctx context.Context, phone, password string) (*Customer, error) {
	row, err := s.customers.FindOne(ctx, &Customer{Phone: phone})
	if err != nil {
		return nil, errutil.Internal("failed to query customers", err)
	}
	if row == nil {
		return nil, errutil.Unauthorized("invalid phone or password", nil)
	}

	if row.PasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)); err != nil {
			return nil, errutil.Unauthorized("invalid phone or password", nil)
		}
	}

	return row, nil
}

func (s *Service) SetPassword(ctx context.Context, id, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	if err := s.customers.Update(ctx, id, map[string]any{"password_hash": hash}); err != nil {
		return errutil.Internal("failed to set password", err)
	}
	return nil
}

// profileHistoryLimit caps the ledger entries embedded in a profile; the
// full history stays behind its own listing.
const profileHistoryLimit = 10

// Profile is the customer-facing view: fresh ledger-derived figures, the
// visit counters the bonus table runs on, and the most recent ledger
// entries.
type Profile struct {
	Customer      *Customer       `json:"customer"`
	ValidBalance  int64           `json:"valid_balance"`
	ExpiredPoints int64           `json:"expired_points"`
	Tier          tier.Tier       `json:"tier"`
	VisitDays     int             `json:"visit_days"`
	NextBonusDays int             `json:"next_bonus_days,omitempty"`
	VenueName     string          `json:"venue_name"`
	History       []*ledger.Entry `json:"history"`
}

// Profile recomputes everything from the ledger at call time, then writes
// the refreshed figures back to the cached columns.
func (s *Service) Profile(ctx context.Context, id string) (*Profile, error) {
	row, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	snap, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	balance, err := s.ledger.ValidBalance(ctx, id, now)
	if err != nil {
		return nil, err
	}
	expired, err := s.ledger.ExpiredBalance(ctx, id, now)
	if err != nil {
		return nil, err
	}
	days, err := s.checkin.DistinctDays(ctx, id, now)
	if err != nil {
		return nil, err
	}
	history, err := s.ledger.History(ctx, id, profileHistoryLimit)
	if err != nil {
		return nil, err
	}

	current := tier.Classify(balance, snap)
	if balance != row.PointsTotal || string(current) != row.Tier {
		if err := s.customers.Update(ctx, id, map[string]any{
			"points_total": balance,
			"tier":         string(current),
		}); err != nil {
			return nil, errutil.Internal("failed to refresh customer cache", err)
		}
		row.PointsTotal = balance
		row.Tier = string(current)
	}

	return &Profile{
		Customer:      row,
		ValidBalance:  balance,
		ExpiredPoints: expired,
		Tier:          current,
		VisitDays:     days,
		NextBonusDays: nextBonusDays(days),
		VenueName:     snap.VenueName,
		History:       history,
	}, nil
}

type CreditPointsParams struct {
	CustomerID  string
	Points      int64
	Description string
	Metadata    map[string]string
}

type CreditPointsResult struct {
	Entry        *ledger.Entry `json:"entry"`
	BonusAwarded int64         `json:"bonus_awarded"`
	Balance      int64         `json:"balance"`
	Tier         tier.Tier     `json:"tier"`
}

// CreditPoints grants purchase points and reclassifies in one transaction.
func (s *Service) CreditPoints(ctx context.Context, p CreditPointsParams) (*CreditPointsResult, error) {
	if _, err := s.Get(ctx, p.CustomerID); err != nil {
		return nil, err
	}

	snap, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	result := &CreditPointsResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := s.ledger.CreditTx(ctx, tx, ledger.CreditParams{
			CustomerID:  p.CustomerID,
			Points:      p.Points,
			Category:    ledger.CategoryPurchase,
			Description: p.Description,
			Metadata:    p.Metadata,
		})
		if err != nil {
			return err
		}
		result.Entry = entry

		bonus, _, err := s.applyBonusTx(ctx, tx, p.CustomerID, time.Now())
		if err != nil {
			return err
		}
		result.BonusAwarded = bonus

		balance, current, err := s.settleTx(ctx, tx, p.CustomerID, snap, time.Now(), nil)
		if err != nil {
			return err
		}
		result.Balance = balance
		result.Tier = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

type CheckInParams struct {
	CustomerID string
	At         time.Time
	Location   string
}

type CheckInResult struct {
	CheckIn      *checkin.CheckIn `json:"check_in"`
	VisitDays    int              `json:"visit_days"`
	BonusAwarded int64            `json:"bonus_awarded"`
	Balance      int64            `json:"balance"`
	Tier         tier.Tier        `json:"tier"`
}

// CheckIn records a visit and settles its consequences atomically: the
// dedup-guarded insert, any frequency bonus the new distinct-day count
// unlocks, and the balance/tier refresh all commit or roll back together.
func (s *Service) CheckIn(ctx context.Context, p CheckInParams) (*CheckInResult, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("customer_id", p.CustomerID),
	)

	if _, err := s.Get(ctx, p.CustomerID); err != nil {
		return nil, err
	}

	snap, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	at := p.At
	if at.IsZero() {
		at = time.Now()
	}

	result := &CheckInResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := s.checkin.RecordTx(ctx, tx, p.CustomerID, at, p.Location)
		if err != nil {
			return err
		}
		result.CheckIn = rec

		bonus, days, err := s.applyBonusTx(ctx, tx, p.CustomerID, at)
		if err != nil {
			return err
		}
		result.BonusAwarded = bonus
		result.VisitDays = days

		balance, current, err := s.settleTx(ctx, tx, p.CustomerID, snap, at, map[string]any{
			"last_visit": at,
		})
		if err != nil {
			return err
		}
		result.Balance = balance
		result.Tier = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	zapLog.Info("check-in settled",
		zap.Int("visit_days", result.VisitDays),
		zap.Int64("bonus_awarded", result.BonusAwarded),
		zap.String("tier", string(result.Tier)),
	)

	return result, nil
}

// CanCheckIn reports whether a check-in right now would pass the
// one-per-calendar-day rule.
func (s *Service) CanCheckIn(ctx context.Context, id string, now time.Time) (bool, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return s.checkin.CanCheckIn(ctx, id, now)
}

func (s *Service) CheckInHistory(ctx context.Context, id string, limit int) ([]*checkin.CheckIn, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.checkin.History(ctx, id, limit)
}

// RefreshDerived recomputes the cached balance and tier from the ledger.
// Lazy expiry means the cache drifts between writes; any read that must be
// exact calls this first.
func (s *Service) RefreshDerived(ctx context.Context, id string) (*Customer, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	snap, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, _, err := s.settleTx(ctx, tx, id, snap, time.Now(), nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

// SettleTx runs the full post-mutation settlement inside the caller's
// transaction: frequency-bonus evaluation, then balance recomputation and
// reclassification written back to the customer row.
func (s *Service) SettleTx(ctx context.Context, tx *gorm.DB, customerID string, snap *settings.Snapshot, asOf time.Time) (int64, tier.Tier, error) {
	if _, _, err := s.applyBonusTx(ctx, tx, customerID, asOf); err != nil {
		return 0, "", err
	}
	return s.settleTx(ctx, tx, customerID, snap, asOf, nil)
}

// applyBonusTx evaluates the frequency bonus against the customer's
// high-water mark. Crossing a step the customer has not been paid for
// credits the difference between the new step's bonus and the highest step
// already paid; when the trailing window decays below the mark, the mark
// follows it down without clawback, so re-crossing the same step pays
// again.
//
// The mark is the serialization point: the row is read under a lock where
// the dialect has one, and the advance is a guarded update keyed on the
// mark that was read. A concurrent transaction that already moved the mark
// makes the guard match nothing, and the credit is skipped, so one
// crossing can never pay twice.
func (s *Service) applyBonusTx(ctx context.Context, tx *gorm.DB, customerID string, asOf time.Time) (credited int64, days int, err error) {
	row, err := s.customers.WithTrx(tx).FindOne(ctx, &Customer{ID: customerID}, option.WithLockingUpdate())
	if err != nil {
		return 0, 0, errutil.Internal("failed to query customers", err)
	}
	if row == nil {
		return 0, 0, errutil.NotFound("customer not found", nil)
	}

	days, err = s.checkin.DistinctDaysTx(ctx, tx, customerID, asOf)
	if err != nil {
		return 0, 0, err
	}

	threshold, _ := checkin.BonusForDays(days)
	if threshold == row.BonusThreshold {
		return 0, days, nil
	}

	res := tx.Model(&Customer{}).
		Where("id = ? AND bonus_threshold = ?", customerID, row.BonusThreshold).
		Update("bonus_threshold", threshold)
	if res.Error != nil {
		return 0, 0, errutil.Internal("failed to advance bonus mark", res.Error)
	}
	if res.RowsAffected != 1 {
		// Lost the race to a concurrent settle; that transaction owns the
		// crossing.
		return 0, days, nil
	}

	if threshold > row.BonusThreshold {
		delta := checkin.BonusForThreshold(threshold) - checkin.BonusForThreshold(row.BonusThreshold)
		if delta > 0 {
			if _, err := s.ledger.CreditTx(ctx, tx, ledger.CreditParams{
				CustomerID:  customerID,
				Points:      delta,
				Category:    ledger.CategoryFrequencyBonus,
				Description: "frequency bonus",
				At:          asOf,
				Metadata:    map[string]string{"visit_days": checkin.DayOf(asOf)},
			}); err != nil {
				return 0, 0, err
			}
			credited = delta
		}
	}

	return credited, days, nil
}

func (s *Service) settleTx(ctx context.Context, tx *gorm.DB, customerID string, snap *settings.Snapshot, asOf time.Time, extra map[string]any) (int64, tier.Tier, error) {
	balance, err := s.ledger.ValidBalanceTx(ctx, tx, customerID, asOf)
	if err != nil {
		return 0, "", err
	}

	current := tier.Classify(balance, snap)

	updates := map[string]any{
		"points_total": balance,
		"tier":         string(current),
	}
	for k, v := range extra {
		updates[k] = v
	}

	if err := s.customers.WithTrx(tx).Update(ctx, customerID, updates); err != nil {
		return 0, "", errutil.Internal("failed to refresh customer cache", err)
	}

	return balance, current, nil
}

func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", errutil.ValidationFailed("password must be at least 4 characters", nil)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errutil.Internal("failed to hash password", err)
	}
	return string(hash), nil
}

// nextBonusDays reports how many more distinct visit days reach the next
// step; zero when the table is topped out.
func nextBonusDays(days int) int {
	next := 0
	for _, step := range []int{5, 10, 15, 20} {
		if days < step {
			next = step - days
			break
		}
	}
	return next
}
