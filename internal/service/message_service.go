package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"talentchat/internal/broadcast"
	"talentchat/internal/domain"
	"talentchat/internal/metrics"
	"talentchat/internal/repository"
	"talentchat/internal/room"
)

// Broadcaster publica un mensaje a los suscriptores vivos de un room.
// Lo implementan broadcast.Hub y broadcast.RedisRelay.
type Broadcaster interface {
	Publish(roomID string, msg domain.Message) broadcast.Delivery
}

// MessageService coordina envio, historial y borrado de conversaciones.
type MessageService struct {
	logger      *zap.Logger
	repo        repository.MessageRepository
	broadcaster Broadcaster
	limiter     SendRateLimiter
	now         func() time.Time
}

var (
	ErrMessageServiceNotConfigured = errors.New("message service not configured")
	ErrRateLimited                 = errors.New("rate limited")
)

// SendInput identifica el room por RoomID canonico o por Recipient.
type SendInput struct {
	RoomID    string
	Recipient string
	Sender    string
	Body      string
}

func NewMessageService(logger *zap.Logger, repo repository.MessageRepository, broadcaster Broadcaster, limiter SendRateLimiter) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageService{
		logger:      logger,
		repo:        repo,
		broadcaster: broadcaster,
		limiter:     limiter,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Authorize es el hook de acceso: identity debe ser participante de roomID.
func Authorize(roomID, identity string) error {
	if _, _, err := room.Participants(roomID); err != nil {
		return err
	}
	if !room.IsParticipant(roomID, identity) {
		return fmt.Errorf("%w: %q is not a participant of %q", domain.ErrUnauthorized, identity, roomID)
	}
	return nil
}

// ResolveRoom devuelve el room id canonico para un envio.
func ResolveRoom(roomID, sender, recipient string) (string, error) {
	roomID = strings.TrimSpace(roomID)
	recipient = strings.TrimSpace(recipient)
	switch {
	case recipient != "":
		canonical, err := room.Canonicalize(sender, recipient)
		if err != nil {
			return "", err
		}
		if roomID != "" && roomID != canonical {
			return "", fmt.Errorf("%w: room_id does not match recipient", domain.ErrValidation)
		}
		return canonical, nil
	case roomID != "":
		if !room.IsCanonical(roomID) {
			return "", fmt.Errorf("%w: %q is not canonical", domain.ErrMalformedRoomID, roomID)
		}
		return roomID, nil
	default:
		return "", fmt.Errorf("%w: room_id or recipient is required", domain.ErrValidation)
	}
}

// Send persiste y difunde un mensaje. Validacion y autorizacion ocurren antes
// de cualquier I/O; persistencia y broadcast corren en paralelo y el resultado
// lo decide la persistencia.
func (s *MessageService) Send(ctx context.Context, identity string, in SendInput) (domain.Message, error) {
	if s == nil || s.repo == nil {
		return domain.Message{}, ErrMessageServiceNotConfigured
	}

	sender := room.NormalizeIdentity(in.Sender)
	body := strings.TrimSpace(in.Body)
	if sender == "" || body == "" {
		return domain.Message{}, fmt.Errorf("%w: sender and body are required", domain.ErrValidation)
	}
	if room.NormalizeIdentity(identity) != sender {
		return domain.Message{}, fmt.Errorf("%w: sender does not match caller", domain.ErrUnauthorized)
	}
	roomID, err := ResolveRoom(in.RoomID, sender, in.Recipient)
	if err != nil {
		return domain.Message{}, err
	}
	if err := Authorize(roomID, sender); err != nil {
		return domain.Message{}, err
	}
	if s.limiter != nil {
		if ok, retryAfter := s.limiter.Allow(sender, roomID); !ok {
			metrics.SendsRateLimited.Inc()
			s.logger.Info("send rate limited",
				zap.String("room_id", roomID),
				zap.String("sender", sender),
				zap.Duration("retry_after", retryAfter),
			)
			return domain.Message{}, &RateLimitError{RoomID: roomID, RetryAfter: retryAfter}
		}
	}

	live := domain.Message{RoomID: roomID, Sender: sender, Body: body, CreatedAt: s.now()}
	var (
		stored    domain.Message
		delivery  broadcast.Delivery
		published bool
		g         errgroup.Group
	)
	g.Go(func() error {
		msg, err := s.repo.Append(ctx, roomID, sender, body)
		if err != nil {
			return err
		}
		stored = msg
		return nil
	})
	if s.broadcaster != nil {
		g.Go(func() error {
			delivery = s.broadcaster.Publish(roomID, live)
			published = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		metrics.PersistFailures.Inc()
		if published && delivery.Delivered > 0 {
			s.logger.Error("message broadcast but not persisted",
				zap.String("room_id", roomID),
				zap.String("sender", sender),
				zap.Int("delivered", delivery.Delivered),
				zap.Error(err),
			)
		} else {
			s.logger.Error("message persist failed", zap.String("room_id", roomID), zap.Error(err))
		}
		if !errors.Is(err, domain.ErrStorageUnavailable) && !errors.Is(err, domain.ErrValidation) {
			err = fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
		}
		return domain.Message{}, err
	}

	metrics.MessagesSent.Inc()
	s.logger.Debug("message sent",
		zap.String("room_id", roomID),
		zap.String("sender", sender),
		zap.Int("delivered", delivery.Delivered),
		zap.Int("dropped", delivery.Dropped),
	)
	return stored, nil
}

// History devuelve el historial ordenado de un room al que identity pertenece.
func (s *MessageService) History(ctx context.Context, identity, roomID string) ([]domain.Message, error) {
	if s == nil || s.repo == nil {
		return nil, ErrMessageServiceNotConfigured
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, fmt.Errorf("%w: room_id is required", domain.ErrValidation)
	}
	if err := Authorize(roomID, identity); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, roomID)
}

// DeleteRoom borra todos los mensajes de un room. Irreversible.
func (s *MessageService) DeleteRoom(ctx context.Context, identity, roomID string) (int64, error) {
	if s == nil || s.repo == nil {
		return 0, ErrMessageServiceNotConfigured
	}
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return 0, fmt.Errorf("%w: room_id is required", domain.ErrValidation)
	}
	if err := Authorize(roomID, identity); err != nil {
		return 0, err
	}
	deleted, err := s.repo.DeleteRoom(ctx, roomID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("room deleted",
		zap.String("room_id", roomID),
		zap.String("identity", room.NormalizeIdentity(identity)),
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}
