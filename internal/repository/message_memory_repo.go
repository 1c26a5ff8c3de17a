package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"talentchat/internal/domain"
	"talentchat/internal/room"
)

// MemoryMessageRepository implementa MessageRepository en memoria del proceso.
// Se usa en tests y con STORAGE_BACKEND=memory.
type MemoryMessageRepository struct {
	mu     sync.Mutex
	nextID int64
	rooms  map[string][]domain.Message
	now    func() time.Time
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{
		rooms: make(map[string][]domain.Message),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryMessageRepository) Append(_ context.Context, roomID, sender, body string) (domain.Message, error) {
	if err := validateAppend(roomID, sender, body); err != nil {
		return domain.Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	createdAt := r.now()
	if msgs := r.rooms[roomID]; len(msgs) > 0 {
		if last := msgs[len(msgs)-1].CreatedAt; createdAt.Before(last) {
			createdAt = last
		}
	}
	r.nextID++
	msg := domain.Message{
		ID:        r.nextID,
		RoomID:    roomID,
		Sender:    sender,
		Body:      body,
		CreatedAt: createdAt,
	}
	r.rooms[roomID] = append(r.rooms[roomID], msg)
	return msg, nil
}

func (r *MemoryMessageRepository) History(_ context.Context, roomID string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.rooms[roomID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (r *MemoryMessageRepository) Latest(_ context.Context, roomID string) (domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.rooms[roomID]
	if len(msgs) == 0 {
		return domain.Message{}, fmt.Errorf("%w: room %q has no messages", domain.ErrNotFound, roomID)
	}
	return msgs[len(msgs)-1], nil
}

func (r *MemoryMessageRepository) RoomsFor(_ context.Context, identity string) ([]string, error) {
	identity = room.NormalizeIdentity(identity)
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := []string{}
	for id := range r.rooms {
		if room.IsParticipant(id, identity) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryMessageRepository) ListRoomIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryMessageRepository) CountByRoom(_ context.Context, roomID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.rooms[roomID])), nil
}

func (r *MemoryMessageRepository) DeleteRoom(_ context.Context, roomID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.rooms[roomID]))
	delete(r.rooms, roomID)
	return n, nil
}

// RenameRoom mezcla oldID dentro de newID ordenando por (created_at, id).
func (r *MemoryMessageRepository) RenameRoom(_ context.Context, oldID, newID string) (int64, error) {
	if oldID == "" || newID == "" {
		return 0, fmt.Errorf("%w: room ids are required", domain.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	moved := r.rooms[oldID]
	if len(moved) == 0 || oldID == newID {
		return 0, nil
	}
	merged := make([]domain.Message, 0, len(moved)+len(r.rooms[newID]))
	merged = append(merged, r.rooms[newID]...)
	for _, msg := range moved {
		msg.RoomID = newID
		merged = append(merged, msg)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.Before(merged[j].CreatedAt)
		}
		return merged[i].ID < merged[j].ID
	})
	r.rooms[newID] = merged
	delete(r.rooms, oldID)
	return int64(len(moved)), nil
}

// Seed inserta un mensaje con created_at explicito; solo para preparar datos
// historicos (tests de migracion, fixtures).
func (r *MemoryMessageRepository) Seed(roomID, sender, body string, createdAt time.Time) domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	msg := domain.Message{ID: r.nextID, RoomID: roomID, Sender: sender, Body: body, CreatedAt: createdAt.UTC()}
	msgs := append(r.rooms[roomID], msg)
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
	r.rooms[roomID] = msgs
	return msg
}
