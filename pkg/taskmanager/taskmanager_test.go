package taskmanager

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_StartAndComplete(t *testing.T) {
	tm := NewTracker()
	defer tm.Close()
	taskID := uuid.New()

	taskCtx, err := tm.StartTask(context.Background(), taskID, "alice", "story_start")
	require.NoError(t, err)
	require.NotNil(t, taskCtx)

	task, err := tm.GetTask(taskID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusRunning, task.Status)
	assert.Equal(t, "alice", task.OwnerID)

	tm.SetProgress(taskID, 50, "Illustrating...")
	task, _ = tm.GetTask(taskID)
	assert.Equal(t, 50, task.Progress)

	tm.CompleteTask(taskID, "done")
	task, _ = tm.GetTask(taskID)
	assert.Equal(t, TaskStatusCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
}

// Отмена по внешнему id рубит контекст, под которым живет генерация.
func TestTracker_CancelPropagatesToContext(t *testing.T) {
	tm := NewTracker()
	defer tm.Close()
	taskID := uuid.New()

	taskCtx, err := tm.StartTask(context.Background(), taskID, "alice", "page_video")
	require.NoError(t, err)

	require.NoError(t, tm.CancelTask(taskID))

	select {
	case <-taskCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("контекст задачи не был отменен")
	}

	task, _ := tm.GetTask(taskID)
	assert.Equal(t, TaskStatusCancelled, task.Status)

	// Поздний результат исполнителя не воскрешает отмененную задачу.
	tm.CompleteTask(taskID, "late result")
	task, _ = tm.GetTask(taskID)
	assert.Equal(t, TaskStatusCancelled, task.Status)
}

func TestTracker_DuplicateRunningTaskRejected(t *testing.T) {
	tm := NewTracker()
	defer tm.Close()
	taskID := uuid.New()

	_, err := tm.StartTask(context.Background(), taskID, "alice", "story_start")
	require.NoError(t, err)

	_, err = tm.StartTask(context.Background(), taskID, "alice", "story_start")
	assert.Error(t, err)
}

// Повторная доставка отмененной задачи (например, redelivery из брокера)
// не должна запускать ее заново.
func TestTracker_CancelledTaskCannotBeRestarted(t *testing.T) {
	tm := NewTracker()
	defer tm.Close()
	taskID := uuid.New()

	_, err := tm.StartTask(context.Background(), taskID, "alice", "full_book")
	require.NoError(t, err)
	require.NoError(t, tm.CancelTask(taskID))

	_, err = tm.StartTask(context.Background(), taskID, "alice", "full_book")
	assert.Error(t, err)

	task, _ := tm.GetTask(taskID)
	assert.Equal(t, TaskStatusCancelled, task.Status)
}

func TestTracker_MaxTasksLimit(t *testing.T) {
	tm, err := New(Config{MaxTasks: 1})
	require.NoError(t, err)
	defer tm.Close()

	_, err = tm.StartTask(context.Background(), uuid.New(), "alice", "story_start")
	require.NoError(t, err)

	_, err = tm.StartTask(context.Background(), uuid.New(), "bob", "story_start")
	assert.Error(t, err)
}

func TestTracker_CleanupRemovesFinishedTasks(t *testing.T) {
	tm := NewTracker()
	defer tm.Close()
	taskID := uuid.New()

	_, err := tm.StartTask(context.Background(), taskID, "alice", "ending")
	require.NoError(t, err)
	tm.CompleteTask(taskID, "done")

	tm.CleanupTasks(0)

	_, err = tm.GetTask(taskID)
	assert.Error(t, err)
}

func TestTracker_TasksForOwner(t *testing.T) {
	tm := NewTracker()
	defer tm.Close()

	_, err := tm.StartTask(context.Background(), uuid.New(), "alice", "story_start")
	require.NoError(t, err)
	_, err = tm.StartTask(context.Background(), uuid.New(), "bob", "ending")
	require.NoError(t, err)

	assert.Len(t, tm.TasksForOwner("alice"), 1)
	assert.Len(t, tm.TasksForOwner("nobody"), 0)
}
