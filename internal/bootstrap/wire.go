package bootstrap

import (
	"context"

	"engagekit/internal/clock"
	"engagekit/internal/config"
	"engagekit/internal/coordinator"
	"engagekit/internal/dispatch"
	"engagekit/internal/domain"
	"engagekit/internal/interactor"
	"engagekit/internal/logging"
	"engagekit/internal/media"
	"engagekit/internal/ports"
	"engagekit/internal/providers/signaling"
	"engagekit/internal/siteconfig"
	"engagekit/internal/viewmodel"
)

// Services is the assembled runtime graph. Everything except Queue must only
// be touched from work posted to Queue.
type Services struct {
	Engagement *coordinator.Engagement
	Interactor *interactor.Interactor
	Signaling  *signaling.Provider
	Queue      *dispatch.Serial
	Config     config.Config
	Logger     logging.Logger
}

// Build wires all backend dependencies for the current runtime.
func Build(sink ports.EventSink, presenter ports.Presenter) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	log := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	queue := dispatch.NewSerial()
	sched := clock.NewReal(nil, func(fn func()) { _ = queue.Post(fn) })

	provider := signaling.NewProvider(signaling.Config{
		APIBaseURL: cfg.Signaling.APIBaseURL,
		Streams:    media.Factory{},
		Logger:     log,
	})

	it := interactor.New(provider, queue, sched,
		interactor.WithLogger(log),
		interactor.WithStrictTransitions(cfg.Engagement.StrictTransitions),
		interactor.WithOfferTimeout(cfg.Engagement.OfferTimeout),
	)

	sites, err := siteconfig.New(provider, cfg.Engagement.SiteCacheSize, log)
	if err != nil {
		queue.Close()
		return Services{}, err
	}

	root := coordinator.NewEngagement(coordinator.EngagementDeps{
		Interactor: it,
		Signaling:  provider,
		Presenter:  presenter,
		Sink:       sink,
		Queue:      queue,
		Scheduler:  sched,
		Sites:      sites,
	}, coordinator.Config{
		SiteID:         cfg.Signaling.SiteID,
		QueueIDs:       cfg.Engagement.QueueIDs,
		NoticeDuration: cfg.UI.NoticeDuration,
		BubblePosition: domain.BubblePosition{X: cfg.UI.BubbleX, Y: cfg.UI.BubbleY},
		ViewModel:      viewmodel.Config{ConnectingTimeout: cfg.Engagement.ConnectingTimeout, Logger: log},
		Logger:         log,
	})

	return Services{
		Engagement: root,
		Interactor: it,
		Signaling:  provider,
		Queue:      queue,
		Config:     cfg,
		Logger:     log,
	}, nil
}

// Configure hands the loaded credentials to the engagement on the queue.
// Missing credentials are reported, not fatal: the host can still render.
func (s Services) Configure(ctx context.Context) error {
	var err error
	if syncErr := s.Queue.Sync(func() {
		err = s.Engagement.Configure(ctx, ports.SignalingConfig{
			SiteID:      s.Config.Signaling.SiteID,
			APIKey:      s.Config.Signaling.APIKey,
			Environment: s.Config.Signaling.Environment,
		})
	}); syncErr != nil {
		return syncErr
	}
	return err
}

// Shutdown ends whatever is running and stops the queue.
func (s Services) Shutdown(ctx context.Context) {
	_ = s.Queue.Sync(func() {
		if err := s.Engagement.End(ctx); err != nil {
			s.Logger.Warn("ending engagement on shutdown", "error", err)
		}
		s.Engagement.ClearSession()
	})
	_ = s.Signaling.Close()
	s.Queue.Close()
}
