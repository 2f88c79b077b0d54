// Package db provides the gorm-backed domain.Store used in production.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alferparedes26yanez-art/espuelabrava/internal/modules/fight/domain"
	"github.com/alferparedes26yanez-art/espuelabrava/pkg/logger"
)

// Config selects and tunes the database
type Config struct {
	Driver          string // postgres, mysql, sqlite
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string // gorm level: silent, error, warn, info
}

// Models lists every table the store migrates
var Models = []interface{}{
	&domain.User{},
	&domain.Round{},
	&domain.Wager{},
	&domain.RoundHistoryEntry{},
	&domain.UserHistoryEntry{},
}

// Store implements domain.Store on top of gorm
type Store struct {
	*Repository
}

// Open connects, configures the pool and migrates the schema
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres", "":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.NewGormLogger(cfg.LogLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// one writer; keeps in-memory databases on a single connection
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(Models...); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	// the round row must exist before the first transaction can lock it
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(domain.NewRound()).Error; err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to seed round: %w", err)
	}

	return NewStore(db), nil
}

// NewStore wraps an already configured connection
func NewStore(db *gorm.DB) *Store {
	return &Store{Repository: NewRepository(db)}
}

// Atomic implements domain.Store with a database transaction. LoadRound
// inside it takes a row lock, so every round mutation is serialized across
// all processes sharing the database.
func (s *Store) Atomic(ctx context.Context, fn func(repo domain.Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx, lockRound: true})
	})
}

// Close implements domain.Store
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks connectivity
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Repository implements domain.Repository for one connection or transaction
type Repository struct {
	db        *gorm.DB
	lockRound bool
}

// NewRepository creates a repository bound to db
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetUser(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user %s", domain.ErrNotFound, username)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (r *Repository) ListUsers(ctx context.Context, role domain.Role) ([]*domain.User, error) {
	var users []*domain.User
	q := r.db.WithContext(ctx).Order("username ASC")
	if role != "" {
		q = q.Where("role = ?", role)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: user %s", domain.ErrConflict, user.Username)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// DebitBalance only touches the row when the balance covers the amount
func (r *Repository) DebitBalance(ctx context.Context, username string, amount decimal.Decimal) error {
	result := r.db.WithContext(ctx).
		Model(&domain.User{}).
		Where("username = ? AND balance >= ?", username, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		return fmt.Errorf("failed to debit balance: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		user, err := r.GetUser(ctx, username)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: balance %s, requested %s", domain.ErrInsufficientFunds, user.Balance, amount)
	}
	return nil
}

func (r *Repository) AddBalance(ctx context.Context, username string, delta decimal.Decimal) error {
	if delta.IsZero() {
		// some drivers report zero affected rows for a no-op update
		_, err := r.GetUser(ctx, username)
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&domain.User{}).
		Where("username = ?", username).
		Update("balance", gorm.Expr("balance + ?", delta))
	if result.Error != nil {
		return fmt.Errorf("failed to add balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, username)
	}
	return nil
}

func (r *Repository) LoadRound(ctx context.Context) (*domain.Round, error) {
	var round domain.Round
	err := roundQuery(r.db.WithContext(ctx), r.lockRound).First(&round).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NewRound(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}
	return &round, nil
}

// roundQuery selects the singleton round, FOR UPDATE when lock is set.
// SQLite drops the locking clause; its writers are serialized anyway.
func roundQuery(db *gorm.DB, lock bool) *gorm.DB {
	q := db.Where("id = ?", domain.RoundRecordID)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (r *Repository) SaveRound(ctx context.Context, round *domain.Round) error {
	round.ID = domain.RoundRecordID
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(round).Error
	if err != nil {
		return fmt.Errorf("failed to save round: %w", err)
	}
	return nil
}

func (r *Repository) AppendWager(ctx context.Context, wager *domain.Wager) error {
	if err := r.db.WithContext(ctx).Create(wager).Error; err != nil {
		return fmt.Errorf("failed to save wager: %w", err)
	}
	return nil
}

func (r *Repository) ListWagers(ctx context.Context) ([]*domain.Wager, error) {
	var wagers []*domain.Wager
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&wagers).Error; err != nil {
		return nil, fmt.Errorf("failed to list wagers: %w", err)
	}
	return wagers, nil
}

func (r *Repository) ClearWagers(ctx context.Context) error {
	err := r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&domain.Wager{}).Error
	if err != nil {
		return fmt.Errorf("failed to clear wagers: %w", err)
	}
	return nil
}

func (r *Repository) AppendRoundHistory(ctx context.Context, entry *domain.RoundHistoryEntry) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to save round history: %w", err)
	}
	return nil
}

func (r *Repository) AppendUserHistory(ctx context.Context, entries []*domain.UserHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).CreateInBatches(entries, 500).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: wager already archived", domain.ErrConflict)
		}
		return fmt.Errorf("failed to save user history: %w", err)
	}
	return nil
}

func (r *Repository) ListRoundHistory(ctx context.Context, q domain.HistoryQuery) ([]*domain.RoundHistoryEntry, error) {
	tx := r.db.WithContext(ctx).Order("settled_at DESC")
	if !q.Since.IsZero() {
		tx = tx.Where("settled_at >= ?", q.Since)
	}
	if !q.Until.IsZero() {
		tx = tx.Where("settled_at < ?", q.Until)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var entries []*domain.RoundHistoryEntry
	if err := tx.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list round history: %w", err)
	}
	return entries, nil
}

func (r *Repository) GetRoundHistory(ctx context.Context, number int64) (*domain.RoundHistoryEntry, error) {
	var entry domain.RoundHistoryEntry
	err := r.db.WithContext(ctx).
		Where("number = ?", number).
		Order("settled_at DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: round %d in history", domain.ErrNotFound, number)
		}
		return nil, fmt.Errorf("failed to get round history: %w", err)
	}
	return &entry, nil
}

func (r *Repository) ListUserHistory(ctx context.Context, username string, limit int) ([]*domain.UserHistoryEntry, error) {
	// wager IDs are snowflakes, so they break ties in settlement time
	tx := r.db.WithContext(ctx).
		Where("username = ?", username).
		Order("created_at DESC, wager_id DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var entries []*domain.UserHistoryEntry
	if err := tx.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list user history: %w", err)
	}
	return entries, nil
}
