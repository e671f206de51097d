package tasks

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/visualtesting/engine/pkg/logger"
)

// ShaEvaluator re-checks every build referencing a sha. Satisfied by the
// diff orchestrator.
type ShaEvaluator interface {
	OnImagesChanged(ctx context.Context, project, sha string) error
}

// TypeDiffSha names the task that re-evaluates all builds referencing a sha.
const TypeDiffSha = "diff:sha"

// DiffShaPayload is the task payload for diff:sha tasks.
type DiffShaPayload struct {
	Project string `json:"project"`
	Sha     string `json:"sha"`
}

// NewDiffShaTask builds a diff:sha task for the given project and sha.
func NewDiffShaTask(project, sha string) (*asynq.Task, error) {
	pb, err := json.Marshal(DiffShaPayload{Project: project, Sha: sha})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDiffSha, pb), nil
}

// DiffTaskHandler handles diff:sha tasks on the worker.
type DiffTaskHandler struct {
	evaluator ShaEvaluator
}

func NewDiffTaskHandler(evaluator ShaEvaluator) *DiffTaskHandler {
	return &DiffTaskHandler{evaluator: evaluator}
}

func (h *DiffTaskHandler) HandleDiffSha(ctx context.Context, t *asynq.Task) error {
	var p DiffShaPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid diff task payload", zap.Error(err))
		return err
	}

	logger.L().Info("handling diff task",
		zap.String("project", p.Project), zap.String("sha", p.Sha))

	if err := h.evaluator.OnImagesChanged(ctx, p.Project, p.Sha); err != nil {
		logger.L().Error("diff evaluation failed",
			zap.Error(err), zap.String("project", p.Project), zap.String("sha", p.Sha))
		return err
	}
	return nil
}
