// Package store provides the Postgres-backed repositories for users and
// social connections.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/postlinehq/postline/internal/apperrors"
	"github.com/postlinehq/postline/internal/models"
)

// Connections is the repository for social connections.
type Connections struct {
	db *gorm.DB
}

func NewConnections(db *gorm.DB) *Connections {
	return &Connections{db: db}
}

// Upsert inserts the connection or, when the (user, provider) pair already
// exists, replaces identity and credential columns in one atomic statement.
// Callers decide what goes into the row; in particular, preserving an old
// refresh token happens before this call.
func (s *Connections) Upsert(ctx context.Context, conn *models.SocialConnection) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider_account_id",
			"username",
			"display_name",
			"email",
			"avatar_url",
			"access_token",
			"refresh_token",
			"token_type",
			"expires_at",
			"scopes",
			"metadata",
			"updated_at",
		}),
	}).Create(conn).Error
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

// Find returns the connection for a (user, provider) pair.
func (s *Connections) Find(ctx context.Context, userID, providerID string) (*models.SocialConnection, error) {
	var conn models.SocialConnection
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, providerID).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.CodeConnectionNotFound, "no connection for provider "+providerID)
		}
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	return &conn, nil
}

// ListByUser returns all of a user's connections ordered by provider.
func (s *Connections) ListByUser(ctx context.Context, userID string) ([]models.SocialConnection, error) {
	var conns []models.SocialConnection
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("provider asc").
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// Save writes back every column of an existing connection.
func (s *Connections) Save(ctx context.Context, conn *models.SocialConnection) error {
	if err := s.db.WithContext(ctx).Save(conn).Error; err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}
	return nil
}

// Delete removes a (user, provider) connection.
func (s *Connections) Delete(ctx context.Context, userID, providerID string) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, providerID).
		Delete(&models.SocialConnection{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete connection: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeConnectionNotFound, "no connection for provider "+providerID)
	}
	return nil
}

// ListExpiring returns refreshable connections whose access token expires
// before the window closes, oldest expiry first. Connections without a
// refresh token cannot be refreshed and are excluded.
func (s *Connections) ListExpiring(ctx context.Context, window time.Duration) ([]models.SocialConnection, error) {
	deadline := time.Now().Add(window)

	var conns []models.SocialConnection
	err := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", deadline).
		Where("refresh_token IS NOT NULL").
		Order("expires_at asc").
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring connections: %w", err)
	}
	return conns, nil
}
