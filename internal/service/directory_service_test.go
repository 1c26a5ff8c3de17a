package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"talentchat/internal/domain"
	"talentchat/internal/repository"
)

type mockProfileLookup struct {
	names map[string]string
	calls []string
}

func (m *mockProfileLookup) DisplayNameFor(_ context.Context, identity string) string {
	m.calls = append(m.calls, identity)
	if name, ok := m.names[identity]; ok {
		return name
	}
	return identity
}

func TestDirectoryService_RoomsForUser(t *testing.T) {
	repo := repository.NewMemoryMessageRepository()
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	repo.Seed("alice@x|carl@x", "carl@x", "hola", t1.Add(-time.Minute))
	repo.Seed("alice@x|carl@x", "alice@x", "nos vemos", t1)
	repo.Seed("alice@x|bob@x", "alice@x", "hey", t1.Add(-2*time.Minute))
	repo.Seed("alice@x|bob@x", "bob@x", "listo", t2)
	repo.Seed("bob@x|carl@x", "bob@x", "ajeno", t2.Add(time.Hour))

	profiles := &mockProfileLookup{names: map[string]string{"bob@x": "Bob Studio"}}
	svc := NewDirectoryService(nil, repo, profiles)

	out, err := svc.RoomsForUser(context.Background(), "alice@x")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 rooms, got %+v", out)
	}
	if out[0].CounterpartIdentity != "bob@x" || !out[0].Unread || !out[0].LastMessageTime.Equal(t2) {
		t.Fatalf("unexpected first summary %+v", out[0])
	}
	if out[0].CounterpartDisplayName != "Bob Studio" || out[0].LastMessage != "listo" || out[0].LastSender != "bob@x" {
		t.Fatalf("unexpected first summary details %+v", out[0])
	}
	if out[1].CounterpartIdentity != "carl@x" || out[1].Unread || !out[1].LastMessageTime.Equal(t1) {
		t.Fatalf("unexpected second summary %+v", out[1])
	}
	if out[1].CounterpartDisplayName != "carl@x" {
		t.Fatalf("expected raw identity fallback, got %q", out[1].CounterpartDisplayName)
	}
}

func TestDirectoryService_EmptyAndValidation(t *testing.T) {
	svc := NewDirectoryService(nil, repository.NewMemoryMessageRepository(), nil)

	out, err := svc.RoomsForUser(context.Background(), "nobody@x")
	if err != nil || len(out) != 0 {
		t.Fatalf("expected empty directory, got %+v err=%v", out, err)
	}
	if _, err := svc.RoomsForUser(context.Background(), "  "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

type errRoomsRepo struct {
	*repository.MemoryMessageRepository
}

func (errRoomsRepo) RoomsFor(context.Context, string) ([]string, error) {
	return nil, domain.ErrStorageUnavailable
}

func TestDirectoryService_StorageError(t *testing.T) {
	svc := NewDirectoryService(nil, errRoomsRepo{repository.NewMemoryMessageRepository()}, nil)
	if _, err := svc.RoomsForUser(context.Background(), "alice@x"); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}
