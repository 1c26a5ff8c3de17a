package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"talentchat/internal/repository"
)

// ProfileLookup resuelve el nombre visible de una identidad. Nunca falla:
// ante cualquier error devuelve la identidad cruda.
type ProfileLookup interface {
	DisplayNameFor(ctx context.Context, identity string) string
}

type ProfileService struct {
	logger *zap.Logger
	users  repository.UserRepository
}

func NewProfileService(logger *zap.Logger, users repository.UserRepository) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{logger: logger, users: users}
}

func (s *ProfileService) DisplayNameFor(ctx context.Context, identity string) string {
	if s == nil || s.users == nil {
		return identity
	}
	user, err := s.users.GetByEmail(ctx, identity)
	if err != nil {
		s.logger.Debug("profile lookup failed", zap.String("identity", identity), zap.Error(err))
		return identity
	}
	if name := strings.TrimSpace(user.DisplayName); name != "" {
		return name
	}
	return identity
}
