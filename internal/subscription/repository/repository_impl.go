package repository

import (
	"context"
	"time"

	subscriptiondomain "github.com/smallbiznis/agentmarket/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

const subscriptionColumns = `id, org_id, plan, status, provider_customer_ref, provider_subscription_ref,
		 current_period_end, last_event_at, created_at, updated_at`

func lockClause(db *gorm.DB, forUpdate bool) string {
	if forUpdate && db.Dialector.Name() != "sqlite" {
		return " FOR UPDATE"
	}
	return ""
}

func (r *repo) FindByOrgID(ctx context.Context, db *gorm.DB, orgID string, forUpdate bool) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions WHERE org_id = ?`+lockClause(db, forUpdate),
		orgID,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == "" {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) FindByProviderRef(ctx context.Context, db *gorm.DB, subscriptionRef string, forUpdate bool) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions WHERE provider_subscription_ref = ?
		 ORDER BY updated_at DESC LIMIT 1`+lockClause(db, forUpdate),
		subscriptionRef,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == "" {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) InsertIfMissing(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "org_id"}}, DoNothing: true}).
		Create(sub).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET plan = ?, status = ?, provider_customer_ref = ?, provider_subscription_ref = ?,
		     current_period_end = ?, last_event_at = ?, updated_at = ?
		 WHERE id = ?`,
		sub.Plan,
		sub.Status,
		sub.ProviderCustomerRef,
		sub.ProviderSubscriptionRef,
		sub.CurrentPeriodEnd,
		sub.LastEventAt,
		sub.UpdatedAt,
		sub.ID,
	).Error
}

func (r *repo) SetCustomerRef(ctx context.Context, db *gorm.DB, orgID, customerRef string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET provider_customer_ref = ?, updated_at = ? WHERE org_id = ?`,
		customerRef,
		now,
		orgID,
	).Error
}
