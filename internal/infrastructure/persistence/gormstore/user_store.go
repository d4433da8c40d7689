// Package gormstore implements the user data store on a relational database.
// It backs tier resolution and persisted bans; sqlite serves single-node and
// test deployments, postgres serves production.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/docufort/admitd/internal/config"
	"github.com/docufort/admitd/internal/domain/service"
	"github.com/docufort/admitd/pkg/constants"
	apperrors "github.com/docufort/admitd/pkg/errors"
	"github.com/docufort/admitd/pkg/logger"
)

// UserRecord is the stored user profile.
type UserRecord struct {
	UserID    string `gorm:"primaryKey;column:user_id;size:64"`
	Tier      string `gorm:"column:tier;size:16;not null;default:free"`
	BanUntil  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName maps the record to the users table.
func (UserRecord) TableName() string {
	return "users"
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.DatabaseConfig, log logger.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite", "":
		path := cfg.Path
		if path == "" {
			path = "admitd.db"
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("database open failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if err := db.AutoMigrate(&UserRecord{}); err != nil {
		return nil, fmt.Errorf("user schema migration failed: %w", err)
	}
	return db, nil
}

// Store resolves tiers and ban records. Lookups for the same user are
// coalesced through a singleflight group; an optional short-TTL cache can
// absorb hot-user reads, but tiers are looked up fresh per event by default
// since a promotion must take effect on the next message.
type Store struct {
	db        *gorm.DB
	tierTTL   time.Duration
	tierCache *gocache.Cache
	group     singleflight.Group
	logger    logger.Logger
}

// NewStore builds the user store. tierTTL <= 0 disables the tier cache.
func NewStore(db *gorm.DB, tierTTL time.Duration, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNoop()
	}
	s := &Store{
		db:      db,
		tierTTL: tierTTL,
		logger:  log.WithComponent("UserStore"),
	}
	if tierTTL > 0 {
		s.tierCache = gocache.New(tierTTL, 2*tierTTL)
	}
	return s
}

// GetTier resolves the user's tier. Unknown users are free tier.
func (s *Store) GetTier(ctx context.Context, userID string) (constants.Tier, error) {
	if s.tierCache != nil {
		if tier, ok := s.tierCache.Get(userID); ok {
			return tier.(constants.Tier), nil
		}
	}

	v, err, _ := s.group.Do("tier:"+userID, func() (interface{}, error) {
		record, err := s.fetch(ctx, userID)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return constants.DefaultTier, nil
		}
		return constants.Tier(record.Tier), nil
	})
	if err != nil {
		return "", err
	}

	tier := v.(constants.Tier)
	if s.tierCache != nil {
		s.tierCache.SetDefault(userID, tier)
	}
	return tier, nil
}

// GetBanRecord returns the persisted ban expiry, or nil when none is set.
func (s *Store) GetBanRecord(ctx context.Context, userID string) (*time.Time, error) {
	record, err := s.fetch(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	return record.BanUntil, nil
}

// SetTier assigns a tier, creating the profile if needed.
func (s *Store) SetTier(ctx context.Context, userID string, tier constants.Tier) error {
	record := UserRecord{UserID: userID, Tier: string(tier)}
	err := s.db.WithContext(ctx).
		Where(UserRecord{UserID: userID}).
		Assign(map[string]interface{}{"tier": string(tier)}).
		FirstOrCreate(&record).Error
	if err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}
	if s.tierCache != nil {
		s.tierCache.Delete(userID)
	}
	s.logger.Info(ctx, "tier assigned",
		logger.String("user_id", userID),
		logger.String("tier", string(tier)),
	)
	return nil
}

// SetBan writes or clears the persisted ban. A nil until clears it.
func (s *Store) SetBan(ctx context.Context, userID string, until *time.Time) error {
	record := UserRecord{UserID: userID, Tier: string(constants.DefaultTier), BanUntil: until}
	err := s.db.WithContext(ctx).
		Where(UserRecord{UserID: userID}).
		Assign(map[string]interface{}{"ban_until": until}).
		FirstOrCreate(&record).Error
	if err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}
	return nil
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperrors.ErrStoreUnavailable(err)
	}
	return nil
}

func (s *Store) fetch(ctx context.Context, userID string) (*UserRecord, error) {
	var record UserRecord
	err := s.db.WithContext(ctx).First(&record, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.ErrStoreUnavailable(err)
	}
	return &record, nil
}

var _ service.UserStore = (*Store)(nil)
