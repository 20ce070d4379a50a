package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/ledger"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// Option defines connection options for the PostgreSQL store.
type Option struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
}

// Postgres persists accounts and notifications through gorm.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres opens a connection pool and migrates the schema.
func NewPostgres(option Option) (*Postgres, error) {
	connString, err := option.dsn()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{}
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&accountRow{}, &holdingRow{}, &Notification{}, &pushTokenRow{}); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *Postgres) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LoadAccount reads an account and its holdings.
func (s *Postgres) LoadAccount(ctx context.Context, id string) (*ledger.Account, error) {
	var row accountRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var holdings []holdingRow
	if err := s.db.WithContext(ctx).Find(&holdings, "account_id = ?", id).Error; err != nil {
		return nil, err
	}
	return fromRows(row, holdings), nil
}

// SaveAccount upserts the cash row and replaces the holdings rows in one
// transaction, so a crash can never leave cash and holdings out of step.
func (s *Postgres) SaveAccount(ctx context.Context, account *ledger.Account) error {
	row, holdings := toRows(account)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
		if err := tx.Delete(&holdingRow{}, "account_id = ?", account.ID).Error; err != nil {
			return err
		}
		if len(holdings) == 0 {
			return nil
		}
		return tx.Create(&holdings).Error
	})
}

// SaveNotification stores one settlement notification.
func (s *Postgres) SaveNotification(ctx context.Context, n *Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}

// UnreadNotifications lists unread notifications, newest first.
func (s *Postgres) UnreadNotifications(ctx context.Context, accountID string) ([]Notification, error) {
	var out []Notification
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND read = ?", accountID, false).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// MarkNotificationRead flips the read flag.
func (s *Postgres) MarkNotificationRead(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&Notification{}).Where("id = ?", id).Update("read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// PushTokens lists the out-of-band push targets for an account.
func (s *Postgres) PushTokens(ctx context.Context, accountID string) ([]string, error) {
	var rows []pushTokenRow
	if err := s.db.WithContext(ctx).Find(&rows, "account_id = ?", accountID).Error; err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(rows))
	for _, r := range rows {
		tokens = append(tokens, r.Token)
	}
	return tokens, nil
}

func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	if len(query) != 0 {
		u.RawQuery = query.Encode()
	}

	return u.String(), nil
}
