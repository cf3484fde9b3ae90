package api

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DoyleJ11/taleforge-client/internal/logger"
	"github.com/DoyleJ11/taleforge-client/pkg/errs"
	"github.com/DoyleJ11/taleforge-client/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGetter struct {
	mock.Mock
}

func (m *MockGetter) GetRoom(ctx context.Context, code string) (types.Snapshot, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(types.Snapshot), args.Error(1)
}

var netErr = fmt.Errorf("get room: %w: connection refused", errs.ErrNetwork)

func snapshot(status types.RoomStatus) types.Snapshot {
	return types.Snapshot{
		Room:    types.Room{RoomCode: "ABC123", Status: status},
		Players: []types.Player{{ID: "p1", PlayerName: "Ana"}},
	}
}

func TestFetcher_ThreeNetworkErrorsThenFail(t *testing.T) {
	m := &MockGetter{}
	m.On("GetRoom", mock.Anything, "ABC123").Return(types.Snapshot{}, netErr).Times(3)

	f := NewFetcher(m, 3, 5*time.Millisecond, logger.Discard())
	start := time.Now()
	_, err := f.Fetch(context.Background(), "ABC123")

	assert.ErrorIs(t, err, errs.ErrNetwork)
	m.AssertNumberOfCalls(t, "GetRoom", 3)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestFetcher_RecoversOnSecondAttempt(t *testing.T) {
	m := &MockGetter{}
	m.On("GetRoom", mock.Anything, "ABC123").Return(types.Snapshot{}, netErr).Once()
	m.On("GetRoom", mock.Anything, "ABC123").Return(snapshot(types.StatusCreated), nil).Once()

	f := NewFetcher(m, 3, time.Millisecond, logger.Discard())
	snap, err := f.Fetch(context.Background(), "ABC123")

	require.NoError(t, err)
	assert.Equal(t, types.StatusCreated, snap.Room.Status)
	m.AssertExpectations(t)
}

func TestFetcher_NotFoundIsNotRetried(t *testing.T) {
	m := &MockGetter{}
	m.On("GetRoom", mock.Anything, "GONE00").Return(types.Snapshot{}, errs.ErrNotFound).Once()

	f := NewFetcher(m, 3, time.Millisecond, logger.Discard())
	_, err := f.Fetch(context.Background(), "GONE00")

	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.True(t, IsTerminal(err))
	m.AssertNumberOfCalls(t, "GetRoom", 1)
}

func TestFetcher_RejectsNonCanonicalSnapshot(t *testing.T) {
	m := &MockGetter{}
	m.On("GetRoom", mock.Anything, "ABC123").Return(types.Snapshot{Room: types.Room{RoomCode: "ABC123"}}, nil).Once()

	f := NewFetcher(m, 3, time.Millisecond, logger.Discard())
	_, err := f.Fetch(context.Background(), "ABC123")

	assert.ErrorIs(t, err, errs.ErrProtocol)
	m.AssertNumberOfCalls(t, "GetRoom", 1)
}
