package diff

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/visualtesting/engine/internal/events"
	"github.com/visualtesting/engine/internal/imgdiff"
	"github.com/visualtesting/engine/internal/models"
	"github.com/visualtesting/engine/internal/storage"
	appErr "github.com/visualtesting/engine/pkg/errors"
	"github.com/visualtesting/engine/pkg/logger"
)

// Orchestrator drives the build -> browser -> image fan-out comparison. It
// holds no durable state; every decision is recomputed from the store, so
// re-running it for the same sha is safe.
type Orchestrator struct {
	store     storage.Store
	comparer  imgdiff.Comparer
	bus       *events.Bus
	threshold float64
	baseURL   string
}

func NewOrchestrator(store storage.Store, comparer imgdiff.Comparer, bus *events.Bus, threshold float64, baseURL string) *Orchestrator {
	return &Orchestrator{
		store:     store,
		comparer:  comparer,
		bus:       bus,
		threshold: threshold,
		baseURL:   baseURL,
	}
}

// buildRefs carries the identifiers threaded through the fan-out levels.
type buildRefs struct {
	project string
	build   string
	head    string
	base    string
}

// OnImagesChanged re-evaluates every build referencing the sha. Builds are
// evaluated concurrently; one failing build never stops its siblings.
func (o *Orchestrator) OnImagesChanged(ctx context.Context, project, sha string) error {
	builds, err := o.store.GetBuildsForSha(ctx, project, sha)
	if err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			logger.L().Debug("no builds reference sha", zap.String("project", project), zap.String("sha", sha))
			return nil
		}
		return err
	}

	errs := make([]error, len(builds))
	var wg sync.WaitGroup
	wg.Add(len(builds))
	for i, build := range builds {
		go func(i int, build string) {
			defer wg.Done()
			errs[i] = o.EvaluateBuild(ctx, project, build)
		}(i, build)
	}
	wg.Wait()

	return multierr.Combine(errs...)
}

// EvaluateBuild runs the completion check and, if the build is ready, the full
// fan-out diff, persisting the verdict and emitting a status event. Resolved
// builds are left untouched.
func (o *Orchestrator) EvaluateBuild(ctx context.Context, project, build string) error {
	info, err := o.store.GetBuildInfo(ctx, project, build)
	if err != nil {
		return err
	}
	if info.Resolved() {
		logger.L().Debug("build already resolved",
			zap.String("build", build), zap.String("status", string(info.Status)))
		return nil
	}

	browsers, err := o.store.GetBrowsersForSha(ctx, project, info.Head)
	if err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return nil
		}
		return err
	}
	// cardinality check only: which browsers reported does not matter
	if len(browsers) < info.NumBrowsers {
		logger.L().Debug("build incomplete",
			zap.String("build", build),
			zap.Int("reported", len(browsers)),
			zap.Int("expected", info.NumBrowsers))
		return nil
	}

	refs := buildRefs{project: project, build: build, head: info.Head, base: info.Base}
	diffs, err := o.diffCommonBrowsers(ctx, refs)
	if err != nil {
		return err
	}

	if len(diffs) > 0 {
		if err := o.store.UpdateBuildInfo(ctx, storage.UpdateBuildParams{
			Project: project, Build: build, Status: models.BuildFailed, Diffs: diffs,
		}); err != nil {
			return err
		}
		logger.L().Info("build failed", zap.String("build", build), zap.Int("browsers", len(diffs)))
		o.bus.Publish(events.StatusEvent{
			Project: project,
			Sha:     info.Head,
			Build:   build,
			Status:  models.BuildFailed,
			Comment: FailureMessage(o.baseURL, project, build, diffs),
		})
		return nil
	}

	if err := o.store.UpdateBuildInfo(ctx, storage.UpdateBuildParams{
		Project: project, Build: build, Status: models.BuildSuccess,
	}); err != nil {
		return err
	}
	logger.L().Info("build succeeded", zap.String("build", build))
	o.bus.Publish(events.StatusEvent{
		Project: project,
		Sha:     info.Head,
		Build:   build,
		Status:  models.BuildSuccess,
	})
	return nil
}

// diffCommonBrowsers compares every browser present on both sides and maps
// browser name to its differing images. Browsers with no differences are
// omitted; an empty map means the build is clean.
func (o *Orchestrator) diffCommonBrowsers(ctx context.Context, refs buildRefs) (map[string][]string, error) {
	headBrowsers, err := o.store.GetBrowsersForSha(ctx, refs.project, refs.head)
	if err != nil {
		return nil, err
	}
	baseBrowsers, err := o.store.GetBrowsersForSha(ctx, refs.project, refs.base)
	if err != nil {
		return nil, err
	}

	common := intersect(headBrowsers, baseBrowsers)

	results := make([][]string, len(common))
	errs := make([]error, len(common))
	var wg sync.WaitGroup
	wg.Add(len(common))
	for i, browser := range common {
		go func(i int, browser string) {
			defer wg.Done()
			results[i], errs[i] = o.diffImages(ctx, refs, browser)
		}(i, browser)
	}
	wg.Wait()

	diffs := map[string][]string{}
	var succeeded int
	var failed error
	for i, browser := range common {
		if errs[i] != nil {
			logger.L().Warn("browser comparison failed",
				zap.String("build", refs.build), zap.String("browser", browser), zap.Error(errs[i]))
			failed = multierr.Append(failed, errs[i])
			continue
		}
		succeeded++
		if len(results[i]) > 0 {
			diffs[browser] = results[i]
		}
	}
	if failed != nil && succeeded == 0 {
		return nil, appErr.Wrap(failed, appErr.CodeInternal, "every browser comparison failed")
	}
	return diffs, nil
}

// diffImages compares every image present for the browser on both sides and
// returns the names that differ, in listing order.
func (o *Orchestrator) diffImages(ctx context.Context, refs buildRefs, browser string) ([]string, error) {
	headImages, err := o.store.GetImagesForShaBrowser(ctx, refs.project, refs.head, browser)
	if err != nil {
		return nil, err
	}
	baseImages, err := o.store.GetImagesForShaBrowser(ctx, refs.project, refs.base, browser)
	if err != nil {
		return nil, err
	}

	common := intersect(headImages, baseImages)

	differs := make([]bool, len(common))
	errs := make([]error, len(common))
	var wg sync.WaitGroup
	wg.Add(len(common))
	for i, image := range common {
		go func(i int, image string) {
			defer wg.Done()
			differs[i], errs[i] = o.diffImage(ctx, refs, browser, image)
		}(i, image)
	}
	wg.Wait()

	var out []string
	var succeeded int
	var failed error
	for i, image := range common {
		if errs[i] != nil {
			logger.L().Warn("image comparison failed",
				zap.String("build", refs.build), zap.String("browser", browser),
				zap.String("image", image), zap.Error(errs[i]))
			failed = multierr.Append(failed, errs[i])
			continue
		}
		succeeded++
		if differs[i] {
			out = append(out, image)
		}
	}
	if failed != nil && succeeded == 0 {
		return nil, appErr.Wrap(failed, appErr.CodeInternal, "every image comparison failed")
	}
	return out, nil
}

// diffImage compares one image pair. When the distance exceeds the threshold
// the rendered diff is persisted before the difference is reported; a failed
// write fails the comparison rather than losing the artifact.
func (o *Orchestrator) diffImage(ctx context.Context, refs buildRefs, browser, image string) (bool, error) {
	head, err := o.store.GetImage(ctx, refs.project, refs.head, browser, image)
	if err != nil {
		return false, err
	}
	base, err := o.store.GetImage(ctx, refs.project, refs.base, browser, image)
	if err != nil {
		return false, err
	}

	res, err := o.comparer.Compare(head, base)
	if err != nil {
		return false, err
	}
	if res.Distance <= o.threshold {
		return false, nil
	}

	if err := o.store.SaveDiffImage(ctx, storage.SaveDiffParams{
		Project:   refs.project,
		Build:     refs.build,
		Browser:   browser,
		ImageName: image,
		Data:      res.DiffImage,
	}); err != nil {
		return false, appErr.Wrap(err, appErr.CodeInternal, "persist diff image failed")
	}
	return true, nil
}

// intersect returns the elements of a that also appear in b, keeping a's order.
func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, s := range b {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range a {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
