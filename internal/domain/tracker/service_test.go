package tracker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/tracker"
	"github.com/neutrons/PyVDrive-sub000/internal/repository"
	"github.com/neutrons/PyVDrive-sub000/internal/repository/mocks"
)

func TestValidateTransition(t *testing.T) {
	require.NoError(t, tracker.ValidateTransition(tracker.StateRaw, tracker.StateChopped))
	require.NoError(t, tracker.ValidateTransition(tracker.StateRaw, tracker.StateFocused))
	require.NoError(t, tracker.ValidateTransition(tracker.StateFocused, tracker.StateWritten))
	require.NoError(t, tracker.ValidateTransition(tracker.StateNormalized, tracker.StateWritten))

	require.ErrorIs(t, tracker.ValidateTransition(tracker.StateFocused, tracker.StateFocused), tracker.ErrInvalidTransition)
	require.ErrorIs(t, tracker.ValidateTransition(tracker.StateWritten, tracker.StateChopped), tracker.ErrInvalidTransition)
	require.ErrorIs(t, tracker.ValidateTransition(tracker.StateRaw, "done"), tracker.ErrInvalidInput)
}

func TestValidateKey(t *testing.T) {
	require.NoError(t, tracker.ValidateKey(tracker.Key{RunNumber: 170000}))
	require.NoError(t, tracker.ValidateKey(tracker.Key{RunNumber: 170000, SliceKey: "time_60"}))
	require.ErrorIs(t, tracker.ValidateKey(tracker.Key{}), tracker.ErrInvalidInput)
	require.ErrorIs(t, tracker.ValidateKey(tracker.Key{RunNumber: 1, SliceKey: "../x"}), tracker.ErrInvalidInput)
}

func TestManager_OpenCreatesRaw(t *testing.T) {
	ctx := context.Background()
	key := tracker.Key{RunNumber: 170000, SliceKey: "s"}

	trackers := &mocks.TrackerRepository{}
	history := &mocks.HistoryRepository{}
	trackers.On("Get", ctx, key).Return(nil, repository.ErrNotFound).Once()
	trackers.On("Create", ctx, mock.MatchedBy(func(tr *tracker.Tracker) bool {
		return tr.State == tracker.StateRaw && tr.RunNumber == 170000 && tr.ID != "" && tr.Version == 1
	})).Return(nil)
	history.On("Append", ctx, mock.MatchedBy(func(e *tracker.Event) bool {
		return e.To == tracker.StateRaw
	})).Return(nil)

	tr, err := tracker.NewManager(trackers, history, nil).Open(ctx, key)
	require.NoError(t, err)
	require.Equal(t, tracker.StateRaw, tr.State)
	require.False(t, tr.Reduced)
	trackers.AssertExpectations(t)
	history.AssertExpectations(t)
}

func TestManager_OpenReturnsExisting(t *testing.T) {
	ctx := context.Background()
	key := tracker.Key{RunNumber: 170000}
	existing := &tracker.Tracker{ID: "t1", RunNumber: 170000, State: tracker.StateFocused, Version: 3}

	trackers := &mocks.TrackerRepository{}
	trackers.On("Get", ctx, key).Return(existing, nil)

	tr, err := tracker.NewManager(trackers, nil, nil).Open(ctx, key)
	require.NoError(t, err)
	require.Same(t, existing, tr)
	trackers.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestManager_AdvanceToWrittenMarksReduced(t *testing.T) {
	ctx := context.Background()
	key := tracker.Key{RunNumber: 170000}
	current := &tracker.Tracker{ID: "t1", RunNumber: 170000, State: tracker.StateFocused, Version: 2}

	trackers := &mocks.TrackerRepository{}
	trackers.On("Get", ctx, key).Return(current, nil)
	trackers.On("Update", ctx, current, int64(2)).Return(nil)

	tr, err := tracker.NewManager(trackers, nil, nil).Advance(ctx, key, tracker.StateWritten, "2 banks")
	require.NoError(t, err)
	require.Equal(t, tracker.StateWritten, tr.State)
	require.True(t, tr.Reduced)
	require.Equal(t, int64(3), tr.Version)
}

func TestManager_AdvanceRejectsReentry(t *testing.T) {
	ctx := context.Background()
	key := tracker.Key{RunNumber: 170000}

	trackers := &mocks.TrackerRepository{}
	trackers.On("Get", ctx, key).Return(&tracker.Tracker{ID: "t1", State: tracker.StateWritten, Version: 5}, nil)

	_, err := tracker.NewManager(trackers, nil, nil).Advance(ctx, key, tracker.StateChopped, "")
	require.ErrorIs(t, err, tracker.ErrInvalidTransition)
	trackers.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_AdvanceConflict(t *testing.T) {
	ctx := context.Background()
	key := tracker.Key{RunNumber: 170000}
	current := &tracker.Tracker{ID: "t1", State: tracker.StateRaw, Version: 1}

	trackers := &mocks.TrackerRepository{}
	trackers.On("Get", ctx, key).Return(current, nil)
	trackers.On("Update", ctx, current, int64(1)).Return(repository.ErrConflict)

	_, err := tracker.NewManager(trackers, nil, nil).Advance(ctx, key, tracker.StateChopped, "")
	require.ErrorIs(t, err, repository.ErrConflict)
	require.Equal(t, int64(1), current.Version)
}

func TestManager_FinishAtChopped(t *testing.T) {
	ctx := context.Background()
	key := tracker.Key{RunNumber: 170000, SliceKey: "dry"}
	current := &tracker.Tracker{ID: "t1", State: tracker.StateChopped, Version: 2}

	trackers := &mocks.TrackerRepository{}
	trackers.On("Get", ctx, key).Return(current, nil)
	trackers.On("Update", ctx, current, int64(2)).Return(nil).Once()

	tr, err := tracker.NewManager(trackers, nil, nil).Finish(ctx, key, "chop only")
	require.NoError(t, err)
	require.True(t, tr.Reduced)
	require.Equal(t, tracker.StateChopped, tr.State)

	// Already reduced: no second update.
	_, err = tracker.NewManager(trackers, nil, nil).Finish(ctx, key, "again")
	require.NoError(t, err)
	trackers.AssertExpectations(t)
}

func TestManager_GetNotFound(t *testing.T) {
	ctx := context.Background()
	key := tracker.Key{RunNumber: 1}
	trackers := &mocks.TrackerRepository{}
	trackers.On("Get", ctx, key).Return(nil, repository.ErrNotFound)

	_, err := tracker.NewManager(trackers, nil, nil).Get(ctx, key)
	require.ErrorIs(t, err, tracker.ErrTrackerNotFound)

	err = tracker.NewManager(trackers, nil, nil).RecordArtifact(ctx, key, "1", "/out/1.gda")
	require.ErrorIs(t, err, tracker.ErrTrackerNotFound)
}

func TestManager_RecordArtifact(t *testing.T) {
	ctx := context.Background()
	key := tracker.Key{RunNumber: 1}
	trackers := &mocks.TrackerRepository{}
	trackers.On("Get", ctx, key).Return(&tracker.Tracker{ID: "t1"}, nil)
	trackers.On("AddArtifact", ctx, "t1", mock.MatchedBy(func(a tracker.Artifact) bool {
		return a.Target == "1" && a.Path == "/out/1/t/1.gda"
	})).Return(nil)

	m := tracker.NewManager(trackers, nil, nil)
	require.NoError(t, m.RecordArtifact(ctx, key, "1", "/out/1/t/1.gda"))
	require.ErrorIs(t, m.RecordArtifact(ctx, key, "1", ""), tracker.ErrInvalidInput)
	trackers.AssertExpectations(t)
}
