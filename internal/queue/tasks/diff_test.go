package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/visualtesting/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests (required by tasks)
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

type mockEvaluator struct {
	mock.Mock
}

func (m *mockEvaluator) OnImagesChanged(ctx context.Context, project, sha string) error {
	args := m.Called(ctx, project, sha)
	return args.Error(0)
}

func TestNewDiffShaTask(t *testing.T) {
	task, err := NewDiffShaTask("proj-1", "abc123")
	require.NoError(t, err)
	require.Equal(t, TypeDiffSha, task.Type())

	var p DiffShaPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	require.Equal(t, "proj-1", p.Project)
	require.Equal(t, "abc123", p.Sha)
}

func TestHandleDiffSha(t *testing.T) {
	ev := new(mockEvaluator)
	ev.On("OnImagesChanged", mock.Anything, "proj-1", "abc123").Return(nil)

	task, err := NewDiffShaTask("proj-1", "abc123")
	require.NoError(t, err)

	h := NewDiffTaskHandler(ev)
	require.NoError(t, h.HandleDiffSha(context.Background(), task))
	ev.AssertExpectations(t)
}

func TestHandleDiffShaEvaluatorError(t *testing.T) {
	ev := new(mockEvaluator)
	ev.On("OnImagesChanged", mock.Anything, "proj-1", "abc123").Return(errors.New("store down"))

	task, err := NewDiffShaTask("proj-1", "abc123")
	require.NoError(t, err)

	h := NewDiffTaskHandler(ev)
	require.Error(t, h.HandleDiffSha(context.Background(), task))
}

func TestHandleDiffShaBadPayload(t *testing.T) {
	h := NewDiffTaskHandler(new(mockEvaluator))
	task := asynq.NewTask(TypeDiffSha, []byte("{not json"))
	require.Error(t, h.HandleDiffSha(context.Background(), task))
}
