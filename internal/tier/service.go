// Package tier resolves a user to a plan tier for quota gating.
package tier

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/fieldscope/fieldscope/internal/account/domain"
	"github.com/fieldscope/fieldscope/internal/cache"
	"github.com/fieldscope/fieldscope/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user_not_found")

// Service looks up users and their plan tier.
type Service interface {
	GetUser(ctx context.Context, userID snowflake.ID) (*accountdomain.User, error)
	ResolveTier(ctx context.Context, userID snowflake.ID) (accountdomain.PlanTier, error)
}

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	ResolverCache cache.TierResolverCache
}

type service struct {
	log      *zap.Logger
	userrepo repository.Repository[accountdomain.User]
	cache    cache.TierResolverCache
}

func NewService(p ServiceParam) Service {
	return &service{
		log:      p.Log.Named("tier.service"),
		userrepo: repository.ProvideStore[accountdomain.User](p.DB),
		cache:    p.ResolverCache,
	}
}

func (s *service) GetUser(ctx context.Context, userID snowflake.ID) (*accountdomain.User, error) {
	user, err := s.userrepo.FindOne(ctx, &accountdomain.User{ID: userID})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *service) ResolveTier(ctx context.Context, userID snowflake.ID) (accountdomain.PlanTier, error) {
	if s.cache != nil {
		if cached, ok := s.cache.GetTier(userID.String()); ok {
			return accountdomain.PlanTier(cached), nil
		}
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}

	tier := user.Tier
	if tier == "" {
		tier = accountdomain.TierFree
	}
	if s.cache != nil {
		s.cache.SetTier(userID.String(), string(tier))
	}
	return tier, nil
}

// Module wires the tier resolver.
var Module = fx.Module("tier.service",
	fx.Provide(cache.NewTierResolverCache),
	fx.Provide(NewService),
)
