package service

import (
	"context"
	"errors"
	"testing"

	"talentchat/internal/domain"
)

type mockUserRepo struct {
	users map[string]domain.User
	err   error
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	if m.err != nil {
		return domain.User{}, m.err
	}
	user, ok := m.users[email]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

func TestProfileService_DisplayNameFor(t *testing.T) {
	repo := &mockUserRepo{users: map[string]domain.User{
		"bob@x": {ID: "u1", Email: "bob@x", DisplayName: "Bob"},
		"ann@x": {ID: "u2", Email: "ann@x", DisplayName: "  "},
	}}
	svc := NewProfileService(nil, repo)

	if got := svc.DisplayNameFor(context.Background(), "bob@x"); got != "Bob" {
		t.Fatalf("expected Bob, got %q", got)
	}
	if got := svc.DisplayNameFor(context.Background(), "ann@x"); got != "ann@x" {
		t.Fatalf("expected fallback on blank name, got %q", got)
	}
	if got := svc.DisplayNameFor(context.Background(), "zed@x"); got != "zed@x" {
		t.Fatalf("expected fallback on missing user, got %q", got)
	}

	repo.err = errors.New("db down")
	if got := svc.DisplayNameFor(context.Background(), "bob@x"); got != "bob@x" {
		t.Fatalf("expected fallback on lookup failure, got %q", got)
	}

	var nilSvc *ProfileService
	if got := nilSvc.DisplayNameFor(context.Background(), "bob@x"); got != "bob@x" {
		t.Fatalf("expected fallback on nil service, got %q", got)
	}
}
