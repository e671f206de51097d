package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/visualtesting/engine/internal/events"
	"github.com/visualtesting/engine/internal/models"
	"github.com/visualtesting/engine/internal/storage"
	"github.com/visualtesting/engine/pkg/logger"
)

// Relay consumes build status events and forwards them to the service the
// owning project is configured for. Delivery is best-effort: the stored
// verdict is already durable, so failures are logged and dropped rather than
// retried or rolled back.
type Relay struct {
	store    storage.Store
	services []Service
	bus      *events.Bus
}

func NewRelay(store storage.Store, bus *events.Bus, services ...Service) *Relay {
	return &Relay{store: store, services: services, bus: bus}
}

// Run consumes events until the bus closes or ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.bus.Subscribe():
			if !ok {
				return
			}
			if err := r.Notify(ctx, ev); err != nil {
				logger.L().Error("notification failed",
					zap.String("project", ev.Project),
					zap.String("sha", ev.Sha),
					zap.Error(err))
			}
		}
	}
}

// Notify forwards one event. Projects without a matching configured service
// resolve successfully without any call.
func (r *Relay) Notify(ctx context.Context, ev events.StatusEvent) error {
	if len(r.services) == 0 {
		return nil
	}

	info, err := r.store.GetProjectInfo(ctx, ev.Project)
	if err != nil {
		return err
	}
	svc := r.serviceFor(info.Service)
	if svc == nil {
		logger.L().Debug("no service configured for project",
			zap.String("project", ev.Project),
			zap.String("service", info.Service.Name))
		return nil
	}

	status := statusForBuild(ev.Status)
	if err := svc.SetBuildStatus(ctx, info.Service, ev.Sha, status); err != nil {
		return err
	}
	if ev.Status == models.BuildFailed && ev.Comment != "" {
		if err := svc.AddComment(ctx, info.Service, ev.Sha, ev.Comment); err != nil {
			return err
		}
	}
	logger.L().Info("status forwarded",
		zap.String("project", ev.Project),
		zap.String("sha", ev.Sha),
		zap.String("status", status),
		zap.String("service", svc.Key()))
	return nil
}

func (r *Relay) serviceFor(cfg models.ServiceConfig) Service {
	for _, svc := range r.services {
		if svc.Key() == cfg.Name {
			return svc
		}
	}
	return nil
}
