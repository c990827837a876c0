package service_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"circle_go/internal/domain"
)

type MockActivityStore struct {
	mock.Mock
}

func (m *MockActivityStore) Create(ctx context.Context, a *domain.Activity) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockActivityStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Activity, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Activity), args.Error(1)
}

func (m *MockActivityStore) ListFeed(ctx context.Context, limit int) ([]*domain.Activity, error) {
	args := m.Called(ctx, limit)
	return activities(args.Get(0)), args.Error(1)
}

func (m *MockActivityStore) ListCreatedBy(ctx context.Context, userID uuid.UUID) ([]*domain.Activity, error) {
	args := m.Called(ctx, userID)
	return activities(args.Get(0)), args.Error(1)
}

func (m *MockActivityStore) ListJoinedBy(ctx context.Context, userID uuid.UUID) ([]*domain.Activity, error) {
	args := m.Called(ctx, userID)
	return activities(args.Get(0)), args.Error(1)
}

func (m *MockActivityStore) ListCreatedByAny(ctx context.Context, userIDs []uuid.UUID) ([]*domain.Activity, error) {
	args := m.Called(ctx, userIDs)
	return activities(args.Get(0)), args.Error(1)
}

func activities(v any) []*domain.Activity {
	if v == nil {
		return nil
	}
	return v.([]*domain.Activity)
}

type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Profile), args.Error(1)
}

func (m *MockProfileStore) Upsert(ctx context.Context, p *domain.Profile) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockProfileStore) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockProfileStore) SetStatus(ctx context.Context, id uuid.UUID, status *string, at time.Time) error {
	args := m.Called(ctx, id, status, at)
	return args.Error(0)
}

func (m *MockProfileStore) ListSeenSince(ctx context.Context, ids []uuid.UUID, since time.Time) ([]*domain.Profile, error) {
	args := m.Called(ctx, ids, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Profile), args.Error(1)
}

type MockFriendshipStore struct {
	mock.Mock
}

func (m *MockFriendshipStore) ListFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}
