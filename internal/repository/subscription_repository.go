package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/avelez/mediastash/internal/models"
)

type SubscriptionRepository struct {
	db  *sql.DB
	mon *Monitor
}

func NewSubscriptionRepository(db *sql.DB, mon *Monitor) *SubscriptionRepository {
	return &SubscriptionRepository{db: db, mon: mon}
}

const subscriptionColumns = `id, name, platform_id, subscription_type, is_account,
	creator_id, subscription_url, external_uuid, created_at`

func scanSubscription(row interface {
	Scan(dest ...interface{}) error
}) (*models.Subscription, error) {
	s := &models.Subscription{}
	var creator sql.NullInt64
	var url, extUUID, created sql.NullString
	err := row.Scan(&s.ID, &s.Name, &s.PlatformID, &s.Type, &s.IsAccount,
		&creator, &url, &extUUID, &created)
	if err != nil {
		return nil, err
	}
	s.CreatorID = int64Ptr(creator)
	s.URL = strPtr(url)
	s.ExternalUUID = strPtr(extUUID)
	if created.Valid {
		s.CreatedAt = parseTime(created.String)
	}
	return s, nil
}

func (r *SubscriptionRepository) Create(s *models.Subscription) error {
	if s.IsAccount && s.Type != models.SubPlaylist && s.CreatorID == nil {
		return fmt.Errorf("account subscription %q requires a creator", s.Name)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	start := time.Now()
	err := r.db.QueryRow(`
		INSERT INTO subscriptions (name, platform_id, subscription_type, is_account,
			creator_id, subscription_url, external_uuid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		s.Name, s.PlatformID, s.Type, s.IsAccount,
		nullInt64(s.CreatorID), nullStr(s.URL), nullStr(s.ExternalUUID), fmtTime(s.CreatedAt),
	).Scan(&s.ID)
	r.mon.Record("subscription_create", start, err)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// Find looks up a subscription by its identity triple.
func (r *SubscriptionRepository) Find(platformID int64, name string, subType models.SubscriptionType) (*models.Subscription, error) {
	start := time.Now()
	s, err := scanSubscription(r.db.QueryRow(`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE platform_id = ? AND name = ? AND subscription_type = ?`, platformID, name, subType))
	r.mon.Record("subscription_find", start, err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SubscriptionRepository) GetByID(id int64) (*models.Subscription, error) {
	start := time.Now()
	s, err := scanSubscription(r.db.QueryRow(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id))
	r.mon.Record("subscription_get_by_id", start, err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func (r *SubscriptionRepository) Count() (int, error) {
	start := time.Now()
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM subscriptions`).Scan(&n)
	r.mon.Record("subscription_count", start, err)
	return n, err
}
