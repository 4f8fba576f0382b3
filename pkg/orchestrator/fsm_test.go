package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aibozo/codeurv2/pkg/models"
)

func TestFSMHappyPathTraversesEveryState(t *testing.T) {
	f := NewFSM("req-1")
	steps := []struct {
		event Event
		want  models.FSMStateName
	}{
		{EventCRQ, models.StatePlan},
		{EventPlan, models.StateCode},
	}
	for _, s := range steps {
		require.NoError(t, f.Fire(s.event))
		assert.Equal(t, s.want, f.State)
	}

	f.BeginCoding([]string{"t1", "t2"})
	assert.False(t, f.ResolveTask("t1", false))
	assert.True(t, f.ResolveTask("t2", false))
	require.NoError(t, f.Fire(EventCodeOK))
	assert.Equal(t, models.StateBuild1, f.State)

	require.NoError(t, f.Fire(EventBuildOK))
	assert.Equal(t, models.StateTestPlan, f.State)
	require.NoError(t, f.Fire(EventTSpec))
	assert.Equal(t, models.StateTestBuild, f.State)
	require.NoError(t, f.Fire(EventGTOK))
	assert.Equal(t, models.StateBuild2, f.State)
	require.NoError(t, f.Fire(EventBuild2OK))
	assert.Equal(t, models.StateDone, f.State)
	require.NoError(t, f.Fire(EventReset))
	assert.Equal(t, models.StateIdle, f.State)
}

func TestFSMBuildFailRoutesToRegressFromAnyState(t *testing.T) {
	for _, start := range []models.FSMStateName{models.StateCode, models.StateBuild1, models.StateTestBuild} {
		f := &FSM{RequestID: "req", State: start, PendingTaskIDs: map[string]struct{}{}}
		require.NoError(t, f.Fire(EventBuildFail))
		assert.Equal(t, models.StateRegress, f.State)
	}
}

func TestFSMRejectsInapplicableEvent(t *testing.T) {
	f := NewFSM("req")
	err := f.Fire(EventPlan)
	require.Error(t, err)
	var target *ErrInvalidTransition
	assert.ErrorAs(t, err, &target)
	assert.Equal(t, models.StateIdle, f.State, "state must not change on a rejected event")
}

func TestFSMHardFailTaskRecordsRegressionHintWithoutBlockingDrain(t *testing.T) {
	f := NewFSM("req")
	f.BeginCoding([]string{"t1"})
	drained := f.ResolveTask("t1", true)
	assert.True(t, drained)
	assert.Contains(t, f.RegressionHints, "t1")
}

func TestFSMSnapshotRoundTrip(t *testing.T) {
	f := NewFSM("req-2")
	f.BeginCoding([]string{"a", "b"})
	f.ResolveTask("a", true)
	snap := f.Snapshot()

	restored := FromSnapshot(snap)
	assert.Equal(t, f.RequestID, restored.RequestID)
	assert.Equal(t, f.State, restored.State)
	assert.Equal(t, f.RegressionHints, restored.RegressionHints)
	assert.Len(t, restored.PendingTaskIDs, 1)
	_, stillPending := restored.PendingTaskIDs["b"]
	assert.True(t, stillPending)
}
