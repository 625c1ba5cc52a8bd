package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/coursepack/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultProvider = "default"

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for uploader identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service resolves token claims to canonical uploader ids.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// ResolveCanonicalUserID returns the canonical uploader id for the provided session claims,
// creating the identity mapping on first sight. A user id of the form "provider:subject" is
// split so the same person keeps one id across providers that share subjects.
func (s *Service) ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if canonical, ok := cached.(string); ok {
			s.touch(ctx, provider, subject, claims)
			return canonical, nil
		}
	}

	identity := Identity{
		Provider:     provider,
		Subject:      subject,
		UserID:       subject,
		Email:        normalize(claims.UserEmail),
		DisplayName:  normalize(claims.UserDisplayName),
		LastUploadAt: s.now().UTC(),
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&identity)
	if result.Error != nil {
		return "", fmt.Errorf("users: create identity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var stored Identity
		err := s.db.WithContext(ctx).
			Where("provider = ? AND subject = ?", provider, subject).
			Take(&stored).Error
		if err != nil {
			return "", fmt.Errorf("users: load identity: %w", err)
		}
		identity = stored
		s.touch(ctx, provider, subject, claims)
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}

// touch refreshes contact details and the last upload time. Failures only cost freshness.
func (s *Service) touch(ctx context.Context, provider, subject string, claims auth.SessionClaims) {
	updates := map[string]interface{}{"last_upload_at": s.now().UTC()}
	if email := normalize(claims.UserEmail); email != "" {
		updates["user_email"] = email
	}
	if display := normalize(claims.UserDisplayName); display != "" {
		updates["user_display_name"] = display
	}
	err := s.db.WithContext(ctx).Model(&Identity{}).
		Where("provider = ? AND subject = ?", provider, subject).
		Updates(updates).Error
	if err != nil {
		s.logger.Warn("uploader identity refresh failed",
			zap.String("provider", provider),
			zap.String("subject", subject),
			zap.Error(err))
	}
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if head, tail, found := strings.Cut(raw, ":"); found && normalize(head) != "" && normalize(tail) != "" {
			provider = normalize(head)
			subject = normalize(tail)
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.UserEmail)
	}
	return provider, subject
}
