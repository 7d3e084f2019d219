package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"video-autopost/internal"
	"video-autopost/internal/ai"
	"video-autopost/internal/captions"
	"video-autopost/internal/logging"
	"video-autopost/internal/metadata"
	"video-autopost/internal/metrics"
	"video-autopost/internal/model"
	"video-autopost/internal/notify"
	"video-autopost/internal/s3"
	"video-autopost/internal/storage"
	"video-autopost/internal/tunnel"
	"video-autopost/internal/uploaders"
	"video-autopost/internal/video"
)

// Exposure is a public URL for the pending folder that must be closed.
type Exposure interface {
	URLFor(name string) string
	Close()
}

type CaptionPicker interface {
	Pick() (string, error)
}

type TitleGenerator interface {
	GenerateTitle(ctx context.Context, stem, caption string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, text string, withErrors bool)
}

type Service struct {
	cfg  internal.Config
	log  *logging.Logger
	cron *cron.Cron

	store     storage.JSONStore
	s3c       s3.Client
	meta      *metadata.Store
	uploaders *uploaders.Manager
	captions  CaptionPicker
	titles    TitleGenerator
	notifier  Notifier
	collector *metrics.Collector

	expose   func(ctx context.Context) (Exposure, error)
	probe    func(v *model.PendingVideo) error
	newRunID func() string
	now      func() time.Time

	runMu sync.Mutex
}

// BuildService wires every component from cfg.
func BuildService(ctx context.Context, cfg internal.Config, log *logging.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, s3c, err := storage.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	meta := metadata.NewStore(store, cfg.MetadataKey)
	helper := tunnel.New(cfg.Tunnel, cfg.PendingDir, log)

	s := &Service{
		cfg:       cfg,
		log:       log,
		store:     store,
		s3c:       s3c,
		meta:      meta,
		uploaders: uploaders.NewManagerFromConfig(cfg, log),
		captions:  captions.NewPicker(cfg.Captions, cfg.CaptionPrefix, nil),
		titles:    ai.NewTitleGenerator(cfg.GeminiAPIKey, log),
		collector: metrics.NewCollector(cfg, store, meta, log),
		expose: func(ctx context.Context) (Exposure, error) {
			exp, err := helper.Start(ctx)
			if err != nil {
				return nil, err
			}
			return exp, nil
		},
		probe:    video.Probe,
		newRunID: uuid.NewString,
		now:      time.Now,
	}

	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, cfg.ErrorsLog, log)
		if err != nil {
			log.Errorf("telegram notifier disabled: %v", err)
		} else {
			s.notifier = tg
		}
	}

	log.Infof("platforms: %v, policy: %s, dry run: %v", s.uploaders.AvailablePlatforms(), cfg.Policy, cfg.DryRun)
	return s, nil
}

func (s *Service) GetConfig() internal.Config {
	return s.cfg
}

// CollectMetrics runs one metrics collection.
func (s *Service) CollectMetrics(ctx context.Context) (*model.MetricsSnapshot, error) {
	return s.collector.Collect(ctx)
}

// Run starts the daemon: one RunOnce per post time and a metrics collection
// per METRICS_CRON, until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	loc, err := time.LoadLocation(s.cfg.Timezone)
	if err != nil {
		return fmt.Errorf("%w: timezone %q: %v", internal.ErrConfig, s.cfg.Timezone, err)
	}
	specs, err := CronSpecs(s.cfg.PostTimes)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return fmt.Errorf("%w: POST_TIMES is empty", internal.ErrConfig)
	}

	s.cron = cron.New(cron.WithSeconds(), cron.WithLocation(loc))
	for _, spec := range specs {
		if _, err := s.cron.AddFunc(spec, func() { s.scheduledRun(ctx, specs, loc) }); err != nil {
			return fmt.Errorf("%w: post time %q: %v", internal.ErrConfig, spec, err)
		}
	}
	if s.cfg.MetricsCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.MetricsCron, func() {
			s.log.Infof("cron: collecting metrics")
			if _, err := s.collector.Collect(ctx); err != nil {
				s.log.Errorf("cron metrics: %v", err)
			}
		}); err != nil {
			return fmt.Errorf("%w: METRICS_CRON %q: %v", internal.ErrConfig, s.cfg.MetricsCron, err)
		}
	}

	monitor := NewQueueMonitor(s, s.log)
	monitor.Start(ctx)
	defer monitor.Stop()

	s.logNextRun(ctx, specs, loc)
	s.cron.Start()
	<-ctx.Done()

	ctxStop := s.cron.Stop()
	select {
	case <-ctxStop.Done():
		return nil
	case <-time.After(10 * time.Minute):
		return errors.New("cron stop timeout")
	}
}

func (s *Service) scheduledRun(ctx context.Context, specs []string, loc *time.Location) {
	s.log.Infof("cron: post time reached")
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Errorf("cron run: %v", err)
	}
	s.logNextRun(ctx, specs, loc)
}

func (s *Service) logNextRun(ctx context.Context, specs []string, loc *time.Location) {
	now := s.now()
	schedule, err := RefreshSchedule(ctx, s.store, specs, loc, now)
	if err != nil {
		s.log.Warnf("save schedule: %v", err)
	}
	if next := GetNextScheduledTime(schedule, now); next != nil {
		s.log.Infof("next post at %s", next.Format("2006-01-02 15:04 MST"))
	} else {
		s.log.Infof("no more posts today")
	}
}
