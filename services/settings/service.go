package settings

import (
	"context"
	"time"

	"venue-loyalty/pkg/config"
	"venue-loyalty/pkg/errutil"
	"venue-loyalty/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	DefaultYellowMin = 200
	DefaultGreenMin  = 500
)

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	config *config.Config

	settings repository.Repository[Settings]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		config:   p.Config,
		settings: repository.ProvideStore[Settings](p.DB),
	}
}

// Get re-reads the settings row on every call; there is no in-process
// cache, so admin updates take effect on the next operation. The row is
// seeded from the bootstrap config when the table is empty.
func (s *Service) Get(ctx context.Context) (*Snapshot, error) {
	row, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	return row.Snapshot(), nil
}

func (s *Service) current(ctx context.Context) (*Settings, error) {
	row, err := s.settings.FindOne(ctx, &Settings{})
	if err != nil {
		return nil, errutil.Internal("failed to read settings", err)
	}
	if row != nil {
		return row, nil
	}

	return s.seed(ctx)
}

func (s *Service) seed(ctx context.Context) (*Settings, error) {
	venue := s.config.Venue

	yellowMin := venue.YellowMin
	if yellowMin == 0 {
		yellowMin = DefaultYellowMin
	}
	greenMin := venue.GreenMin
	if greenMin == 0 {
		greenMin = DefaultGreenMin
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(venue.AdminCredential), bcrypt.DefaultCost)
	if err != nil {
		return nil, errutil.Internal("failed to hash admin credential", err)
	}

	row := &Settings{
		ID:              s.node.Generate().String(),
		VenueName:       venue.Name,
		RedMin:          0,
		YellowMin:       yellowMin,
		GreenMin:        greenMin,
		AdminCredential: string(hash),
		UpdatedAt:       time.Now(),
	}

	if err := s.settings.Create(ctx, row); err != nil {
		// Another caller may have seeded concurrently; fall back to a
		// re-read before giving up.
		if existing, ferr := s.settings.FindOne(ctx, &Settings{}); ferr == nil && existing != nil {
			return existing, nil
		}
		return nil, errutil.Internal("failed to seed settings", err)
	}

	zap.L().Info("seeded venue settings",
		zap.String("venue", row.VenueName),
		zap.Int64("yellow_min", row.YellowMin),
		zap.Int64("green_min", row.GreenMin),
	)

	return row, nil
}

type UpdateParams struct {
	VenueName string `json:"venue_name"`
	RedMin    int64  `json:"red_min"`
	YellowMin int64  `json:"yellow_min"`
	GreenMin  int64  `json:"green_min"`
	// AdminCredential rotates the admin secret when non-empty.
	AdminCredential string `json:"admin_credential,omitempty"`
}

// Update replaces the venue configuration. Thresholds must be
// non-decreasing; the red minimum anchors the bottom of the scale.
func (s *Service) Update(ctx context.Context, p UpdateParams) error {
	if p.VenueName == "" {
		return errutil.ValidationFailed("venue name is required", nil)
	}
	if p.RedMin > p.YellowMin || p.YellowMin > p.GreenMin {
		return errutil.ValidationFailed("tier thresholds must be non-decreasing", nil)
	}

	row, err := s.current(ctx)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"venue_name": p.VenueName,
		"red_min":    p.RedMin,
		"yellow_min": p.YellowMin,
		"green_min":  p.GreenMin,
		"updated_at": time.Now(),
	}

	if p.AdminCredential != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(p.AdminCredential), bcrypt.DefaultCost)
		if err != nil {
			return errutil.Internal("failed to hash admin credential", err)
		}
		updates["admin_credential"] = string(hash)
	}

	if err := s.settings.Update(ctx, row.ID, updates); err != nil {
		return errutil.Internal("failed to update settings", err)
	}

	return nil
}

// SetLogoPath stores the branding asset location. The upload itself is
// handled outside the engine; only the path string is persisted.
func (s *Service) SetLogoPath(ctx context.Context, path string) error {
	if path == "" {
		return errutil.ValidationFailed("logo path is required", nil)
	}

	row, err := s.current(ctx)
	if err != nil {
		return err
	}

	if err := s.settings.Update(ctx, row.ID, map[string]any{
		"logo_path":  path,
		"updated_at": time.Now(),
	}); err != nil {
		return errutil.Internal("failed to update logo path", err)
	}

	return nil
}

// VerifyAdminCredential compares the presented secret against the stored
// hash. The HTTP layer calls this to mint the admin capability token; the
// engine itself never authenticates requests.
func (s *Service) VerifyAdminCredential(ctx context.Context, secret string) error {
	row, err := s.current(ctx)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.AdminCredential), []byte(secret)); err != nil {
		return errutil.Unauthorized("invalid admin credential", nil)
	}

	return nil
}
