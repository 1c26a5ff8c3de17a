package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"talentchat/internal/broadcast"
	"talentchat/internal/domain"
	"talentchat/internal/repository"
)

type mockBroadcaster struct {
	mu        sync.Mutex
	published []domain.Message
	delivered int
}

func (m *mockBroadcaster) Publish(roomID string, msg domain.Message) broadcast.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, msg)
	return broadcast.Delivery{Delivered: m.delivered}
}

func (m *mockBroadcaster) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

// failingMessageRepo envuelve el repo en memoria y falla las escrituras.
type failingMessageRepo struct {
	*repository.MemoryMessageRepository
	appendErr error
	deleted   bool
}

func (f *failingMessageRepo) Append(ctx context.Context, roomID, sender, body string) (domain.Message, error) {
	if f.appendErr != nil {
		return domain.Message{}, f.appendErr
	}
	return f.MemoryMessageRepository.Append(ctx, roomID, sender, body)
}

func (f *failingMessageRepo) DeleteRoom(ctx context.Context, roomID string) (int64, error) {
	f.deleted = true
	return f.MemoryMessageRepository.DeleteRoom(ctx, roomID)
}

type denyAllLimiter struct {
	identity, roomID string
}

func (d *denyAllLimiter) Allow(identity, roomID string) (bool, time.Duration) {
	d.identity, d.roomID = identity, roomID
	return false, 3 * time.Second
}

func TestMessageServiceSend_ByRecipient(t *testing.T) {
	repo := repository.NewMemoryMessageRepository()
	b := &mockBroadcaster{delivered: 1}
	svc := NewMessageService(nil, repo, b, nil)

	msg, err := svc.Send(context.Background(), "Bob@X", SendInput{Recipient: "alice@x", Sender: " bob@x ", Body: " hola "})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if msg.RoomID != "alice@x|bob@x" || msg.Sender != "bob@x" || msg.Body != "hola" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if msg.CreatedAt.IsZero() || msg.ID == 0 {
		t.Fatalf("expected store-assigned id and created_at")
	}
	if b.count() != 1 || b.published[0].RoomID != "alice@x|bob@x" || b.published[0].CreatedAt.IsZero() {
		t.Fatalf("expected one broadcast with its own timestamp, got %+v", b.published)
	}
	history, _ := repo.History(context.Background(), "alice@x|bob@x")
	if len(history) != 1 {
		t.Fatalf("expected message persisted, got %d", len(history))
	}
}

func TestMessageServiceSend_ByRoomID(t *testing.T) {
	repo := repository.NewMemoryMessageRepository()
	svc := NewMessageService(nil, repo, nil, nil)

	if _, err := svc.Send(context.Background(), "alice@x", SendInput{RoomID: "alice@x|bob@x", Sender: "alice@x", Body: "hi"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := svc.Send(context.Background(), "alice@x", SendInput{RoomID: "bob@x|alice@x", Sender: "alice@x", Body: "hi"}); !errors.Is(err, domain.ErrMalformedRoomID) {
		t.Fatalf("expected ErrMalformedRoomID for non canonical id, got %v", err)
	}
}

func TestMessageServiceSend_ValidationBeforeIO(t *testing.T) {
	repo := &failingMessageRepo{MemoryMessageRepository: repository.NewMemoryMessageRepository(), appendErr: errors.New("must not be called")}
	b := &mockBroadcaster{}
	svc := NewMessageService(nil, repo, b, nil)

	cases := []SendInput{
		{Recipient: "bob", Sender: "", Body: "hola"},
		{Recipient: "bob", Sender: "alice", Body: "   "},
		{Sender: "alice", Body: "hola"},
		{Recipient: "alice", Sender: "alice", Body: "hola"},
		{RoomID: "alice|carl", Recipient: "bob", Sender: "alice", Body: "hola"},
	}
	for i, c := range cases {
		if _, err := svc.Send(context.Background(), "alice", c); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("case %d expected ErrValidation, got %v", i, err)
		}
	}
	if b.count() != 0 {
		t.Fatalf("expected no broadcast on validation errors")
	}
}

func TestMessageServiceSend_Impersonation(t *testing.T) {
	repo := repository.NewMemoryMessageRepository()
	b := &mockBroadcaster{}
	svc := NewMessageService(nil, repo, b, nil)

	_, err := svc.Send(context.Background(), "mallory@x", SendInput{Recipient: "bob@x", Sender: "alice@x", Body: "hola"})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	_, err = svc.Send(context.Background(), "carl@x", SendInput{RoomID: "alice@x|bob@x", Sender: "carl@x", Body: "hola"})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non participant, got %v", err)
	}
	if b.count() != 0 {
		t.Fatalf("expected no broadcast on unauthorized send")
	}
}

func TestMessageServiceSend_RateLimited(t *testing.T) {
	limiter := &denyAllLimiter{}
	svc := NewMessageService(nil, repository.NewMemoryMessageRepository(), nil, limiter)
	_, err := svc.Send(context.Background(), "alice", SendInput{Recipient: "bob", Sender: "alice", Body: "hola"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	var rlErr *RateLimitError
	if !errors.As(err, &rlErr) || rlErr.RetryAfter != 3*time.Second || rlErr.RoomID != "alice|bob" {
		t.Fatalf("expected retry-after for alice|bob, got %v", err)
	}
	if limiter.identity != "alice" || limiter.roomID != "alice|bob" {
		t.Fatalf("expected limiter keyed by sender and room, got %q %q", limiter.identity, limiter.roomID)
	}
}

func TestMessageServiceSend_RateLimitIsPerRoom(t *testing.T) {
	svc := NewMessageService(nil, repository.NewMemoryMessageRepository(), nil, NewSendRateLimiter(time.Minute, 1))
	if _, err := svc.Send(context.Background(), "alice", SendInput{Recipient: "bob", Sender: "alice", Body: "1"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := svc.Send(context.Background(), "alice", SendInput{Recipient: "bob", Sender: "alice", Body: "2"}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected second send to bob limited, got %v", err)
	}
	if _, err := svc.Send(context.Background(), "alice", SendInput{Recipient: "carl", Sender: "alice", Body: "1"}); err != nil {
		t.Fatalf("expected other room unaffected, got %v", err)
	}
}

func TestMessageServiceSend_PersistFailureReportsEvenIfBroadcast(t *testing.T) {
	repo := &failingMessageRepo{
		MemoryMessageRepository: repository.NewMemoryMessageRepository(),
		appendErr:               errors.New("connection refused"),
	}
	b := &mockBroadcaster{delivered: 1}
	svc := NewMessageService(nil, repo, b, nil)

	_, err := svc.Send(context.Background(), "alice", SendInput{Recipient: "bob", Sender: "alice", Body: "hola"})
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if b.count() != 1 {
		t.Fatalf("expected broadcast attempted concurrently, got %d", b.count())
	}
}

func TestMessageServiceSend_ConcurrentSendersKeepOrder(t *testing.T) {
	repo := repository.NewMemoryMessageRepository()
	svc := NewMessageService(nil, repo, &mockBroadcaster{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender, recipient := "alice", "bob"
			if i%2 == 0 {
				sender, recipient = "bob", "alice"
			}
			if _, err := svc.Send(context.Background(), sender, SendInput{Recipient: recipient, Sender: sender, Body: fmt.Sprint(i)}); err != nil {
				t.Errorf("send: %v", err)
			}
		}(i)
	}
	wg.Wait()

	history, err := svc.History(context.Background(), "alice", "alice|bob")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 20 {
		t.Fatalf("expected 20 messages, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].CreatedAt.Before(history[i-1].CreatedAt) || history[i].ID < history[i-1].ID {
			t.Fatalf("history out of order at %d", i)
		}
	}
}

func TestMessageServiceHistory_SequentialOrder(t *testing.T) {
	repo := repository.NewMemoryMessageRepository()
	svc := NewMessageService(nil, repo, nil, nil)
	for _, body := range []string{"M1", "M2", "M3"} {
		if _, err := svc.Send(context.Background(), "alice", SendInput{Recipient: "bob", Sender: "alice", Body: body}); err != nil {
			t.Fatalf("send: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	history, err := svc.History(context.Background(), "bob", "alice|bob")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 || history[0].Body != "M1" || history[1].Body != "M2" || history[2].Body != "M3" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestMessageServiceHistory_Authorization(t *testing.T) {
	svc := NewMessageService(nil, repository.NewMemoryMessageRepository(), nil, nil)
	if _, err := svc.History(context.Background(), "carl", "alice|bob"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.History(context.Background(), "alice", "alice_bob"); !errors.Is(err, domain.ErrMalformedRoomID) {
		t.Fatalf("expected ErrMalformedRoomID, got %v", err)
	}
	out, err := svc.History(context.Background(), "alice", "alice|bob")
	if err != nil || len(out) != 0 {
		t.Fatalf("expected empty history for unknown room, got %+v err=%v", out, err)
	}
}

func TestMessageServiceDeleteRoom(t *testing.T) {
	repo := &failingMessageRepo{MemoryMessageRepository: repository.NewMemoryMessageRepository()}
	svc := NewMessageService(nil, repo, nil, nil)
	for i := 0; i < 3; i++ {
		if _, err := svc.Send(context.Background(), "alice", SendInput{Recipient: "bob", Sender: "alice", Body: "x"}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	if _, err := svc.DeleteRoom(context.Background(), "carl", "alice|bob"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if repo.deleted {
		t.Fatalf("unauthorized delete must not reach storage")
	}
	if n, _ := repo.CountByRoom(context.Background(), "alice|bob"); n != 3 {
		t.Fatalf("expected messages untouched, got %d", n)
	}

	deleted, err := svc.DeleteRoom(context.Background(), "bob", "alice|bob")
	if err != nil || deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d err=%v", deleted, err)
	}
}

func TestMessageService_NotConfigured(t *testing.T) {
	var svc *MessageService
	if _, err := svc.Send(context.Background(), "a", SendInput{}); !errors.Is(err, ErrMessageServiceNotConfigured) {
		t.Fatalf("expected ErrMessageServiceNotConfigured, got %v", err)
	}

	svc = NewMessageService(nil, nil, nil, nil)
	if _, err := svc.History(context.Background(), "a", "a|b"); !errors.Is(err, ErrMessageServiceNotConfigured) {
		t.Fatalf("expected ErrMessageServiceNotConfigured, got %v", err)
	}
}
