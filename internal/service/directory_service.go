package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"talentchat/internal/domain"
	"talentchat/internal/repository"
	"talentchat/internal/room"
)

// DirectoryService arma el inbox de un usuario a partir del log de mensajes.
// No consulta el canal de broadcast ni cachea resultados.
type DirectoryService struct {
	logger   *zap.Logger
	repo     repository.MessageRepository
	profiles ProfileLookup
}

func NewDirectoryService(logger *zap.Logger, repo repository.MessageRepository, profiles ProfileLookup) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{logger: logger, repo: repo, profiles: profiles}
}

// RoomsForUser devuelve un resumen por room, del mas reciente al mas antiguo.
// Unread es una aproximacion (ultimo mensaje de la contraparte), no un read receipt.
func (s *DirectoryService) RoomsForUser(ctx context.Context, identity string) ([]domain.RoomSummary, error) {
	if s == nil || s.repo == nil {
		return nil, ErrMessageServiceNotConfigured
	}
	identity = room.NormalizeIdentity(identity)
	if err := room.ValidateIdentity(identity); err != nil {
		return nil, err
	}

	roomIDs, err := s.repo.RoomsFor(ctx, identity)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.RoomSummary, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		counterpart, err := room.ExtractCounterpart(roomID, identity)
		if err != nil {
			s.logger.Warn("directory skipped undecodable room", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		last, err := s.repo.Latest(ctx, roomID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("latest message for %q: %w", roomID, err)
		}

		displayName := counterpart
		if s.profiles != nil {
			displayName = s.profiles.DisplayNameFor(ctx, counterpart)
		}
		summaries = append(summaries, domain.RoomSummary{
			RoomID:                 roomID,
			CounterpartIdentity:    counterpart,
			CounterpartDisplayName: displayName,
			LastMessage:            last.Body,
			LastSender:             last.Sender,
			LastMessageTime:        last.CreatedAt,
			Unread:                 last.Sender != identity,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if !summaries[i].LastMessageTime.Equal(summaries[j].LastMessageTime) {
			return summaries[i].LastMessageTime.After(summaries[j].LastMessageTime)
		}
		return summaries[i].RoomID < summaries[j].RoomID
	})
	return summaries, nil
}
