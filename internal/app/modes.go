package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/domsync/internal/account"
	"github.com/alanyoungcy/domsync/internal/domain"
	"github.com/alanyoungcy/domsync/internal/engine"
	"github.com/alanyoungcy/domsync/internal/platform/exchange"
	"github.com/alanyoungcy/domsync/internal/server"
	"github.com/alanyoungcy/domsync/internal/server/handler"
)

const (
	eventBuffer    = 1024
	publishTimeout = 5 * time.Second
)

// modePlan lists which workers a mode starts.
type modePlan struct {
	markets  bool
	account  bool
	activity bool
}

func planFor(mode string) (modePlan, error) {
	switch mode {
	case "ladder":
		return modePlan{markets: true, account: true}, nil
	case "account":
		return modePlan{account: true}, nil
	case "activity":
		return modePlan{activity: true}, nil
	case "full":
		return modePlan{markets: true, account: true, activity: true}, nil
	default:
		return modePlan{}, fmt.Errorf("app: unsupported mode %q", mode)
	}
}

// runMode starts the engine, the poller and the event dispatcher as the
// plan asks and blocks until ctx is cancelled or a goroutine fails.
func (a *App) runMode(ctx context.Context, deps *Dependencies, plan modePlan) error {
	a.logger.InfoContext(ctx, "starting mode",
		slog.Bool("markets", plan.markets),
		slog.Bool("account", plan.account),
		slog.Bool("activity", plan.activity),
	)

	g, ctx := errgroup.WithContext(ctx)
	events := make(chan domain.Event, eventBuffer)

	eng := engine.New(engineConfig(a.cfg), deps.REST, func() engine.Transport {
		return exchange.NewSession(deps.Session, a.logger)
	}, events, a.logger)

	g.Go(func() error {
		return a.dispatch(ctx, events, deps.Sinks)
	})
	g.Go(func() error {
		<-ctx.Done()
		if err := eng.Stop(); err != nil {
			a.logger.Warn("engine stop", slog.String("error", err.Error()))
		}
		return nil
	})

	if deps.Hub != nil {
		a.startServer(ctx, g, deps, eng)
	}
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.RunEvery(ctx)
		})
	}

	if plan.markets {
		for _, m := range a.cfg.Markets {
			if err := eng.Subscribe(ctx, m.Name); err != nil {
				a.logger.ErrorContext(ctx, "market subscribe failed",
					slog.String("market", m.Name),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if plan.activity && len(a.cfg.Tape.ActivityMarkets) > 0 {
		if err := eng.WatchActivity(a.cfg.Tape.ActivityMarkets); err != nil {
			return fmt.Errorf("app: activity: %w", err)
		}
	}

	if plan.account && a.cfg.Account.Enabled {
		var route account.TriggerRouter
		if plan.markets {
			route = eng.RouteTriggerOrders
		}
		poller := account.NewPoller(deps.REST, account.Config{
			Interval:     a.cfg.Account.PollInterval.Duration,
			ErrorBackoff: a.cfg.Account.ErrorBackoff.Duration,
		}, events, route, a.logger)
		g.Go(func() error {
			return poller.Run(ctx)
		})
	}

	return g.Wait()
}

// startServer runs the control API and the event stream until ctx ends.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	srv := server.NewServer(server.Config{
		Addr:        a.cfg.Server.Addr,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Limiter:     deps.Limiter,
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, time.Now(), eng, a.logger),
		Markets: handler.NewMarketHandler(eng, a.logger),
	}, deps.Hub, a.logger)

	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.StopGrace.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// dispatch fans events out to observers and sinks until ctx ends. Sink
// failures are logged and never stop the loop.
func (a *App) dispatch(ctx context.Context, events <-chan domain.Event, sinks []Sink) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			for _, f := range a.observers {
				f(ev)
			}
			for _, s := range sinks {
				pctx, cancel := context.WithTimeout(ctx, publishTimeout)
				err := s.Publisher.Publish(pctx, ev)
				cancel()
				if err != nil {
					a.logger.WarnContext(ctx, "sink publish failed",
						slog.String("sink", s.Name),
						slog.String("kind", string(ev.Kind())),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}
