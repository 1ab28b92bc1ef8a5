package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/stamford_condor/internal/broker"
	"github.com/eddiefleurent/stamford_condor/internal/calendar"
	"github.com/eddiefleurent/stamford_condor/internal/config"
	"github.com/eddiefleurent/stamford_condor/internal/dashboard"
	"github.com/eddiefleurent/stamford_condor/internal/notify"
	"github.com/eddiefleurent/stamford_condor/internal/pipeline"
	"github.com/eddiefleurent/stamford_condor/internal/ranker"
	"github.com/eddiefleurent/stamford_condor/internal/scheduler"
	"github.com/eddiefleurent/stamford_condor/internal/storage"
)

// Bot owns the wired components and the minute loop.
type Bot struct {
	cfg    *config.Config
	logger *logrus.Logger
	cal    *calendar.Calendar
	pipe   *pipeline.Pipeline
	ranks  *ranker.Store
	dash   *dashboard.Server
	jobs   []scheduler.Job
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetLevel(cfg.LogLevel())
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	logger.Infof("starting in %s mode", cfg.Environment.Mode)
	if cfg.IsLive() {
		logger.Warn("live mode: real orders will be placed, starting in 10s")
		time.Sleep(10 * time.Second)
	}

	bot, err := newBot(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("startup failed")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bot.Run(ctx); err != nil {
		logger.WithError(err).Error("bot stopped with error")
		os.Exit(1)
	}
	logger.Info("bot stopped")
}

func newBot(cfg *config.Config, logger *logrus.Logger) (*Bot, error) {
	store, err := storage.NewStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	orders := storage.NewOrderRepo(store)
	strangles := storage.NewStrangleRepo(store)
	condors := storage.NewCondorRepo(store)
	pending := storage.NewPendingSellCache(store)
	ranks := ranker.NewStore(store)

	api := broker.NewRobinhoodAPI(cfg.Broker.Token, cfg.Broker.AccountURL, logger)
	brk := broker.NewCircuitBreakerBroker(api, logger)

	cal := calendar.New(brk, store, logger, cfg.Tickers.Weekly, cfg.Tickers.Daily)

	var sink notify.Sink
	if cfg.Notify.Enabled {
		tg, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChat, logger)
		if err != nil {
			return nil, fmt.Errorf("telegram sink: %w", err)
		}
		sink = tg
	} else {
		sink = &notify.LogSink{Logger: logger}
	}

	bot := &Bot{
		cfg:    cfg,
		logger: logger,
		cal:    cal,
		ranks:  ranks,
		jobs:   cfg.Schedule.Apply(scheduler.DefaultJobs()),
	}

	bot.pipe = pipeline.New(pipeline.Deps{
		Broker:    brk,
		Calendar:  cal,
		Orders:    orders,
		Strangles: strangles,
		Condors:   condors,
		Pending:   pending,
		Sink:      sink,
		Logger:    logger,
		Rank:      bot.rankedTickers,
		DailyRank: func(context.Context, string) ([]string, error) {
			return []string{cfg.Tickers.Daily}, nil
		},
		Strangle: pipeline.StrangleParams{
			ROIMultiplier:      cfg.Strangle.ROIMultiplier,
			StrikeMultiplier:   cfg.Strangle.StrikeMultiplier,
			MaxBid:             cfg.Strangle.MaxBid,
			Slack:              cfg.Strangle.Slack,
			EjectTimeRatio:     cfg.Strangle.EjectTimeRatio,
			MinutesBeforeClose: cfg.Strangle.MinutesBeforeClose,
		},
		Condor:      condorParams(cfg.Condor),
		DailyCondor: condorParams(cfg.DailyCondor),
	})

	if cfg.Dashboard.Enabled {
		bot.dash = dashboard.NewServer(
			dashboard.Config{Port: cfg.Dashboard.Port, AuthToken: cfg.Dashboard.AuthToken},
			dashboard.Deps{
				Strangles: strangles,
				Condors:   condors,
				Orders:    orders,
				Pending:   pending,
				Ranks:     ranks,
				Calendar:  cal,
				Logger:    logger,
			})
	}
	return bot, nil
}

func condorParams(c config.CondorConfig) pipeline.CondorParams {
	return pipeline.CondorParams{
		MultiplierBuy:            c.MultiplierBuy,
		MultiplierSell:           c.MultiplierSell,
		MaxCollateral:            c.MaxCollateral,
		MinCreditCollateralRatio: c.MinCreditCollateralRatio,
		MaxQuantity:              c.MaxQuantity,
		TargetROI:                c.TargetROI,
		BuySlack:                 c.BuySlack,
		SellSlack:                c.SellSlack,
	}
}

// Run drives the minute loop until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if b.dash != nil {
		go func() {
			if err := b.dash.Start(); err != nil && err != http.ErrServerClosed {
				b.logger.WithError(err).Error("dashboard stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := b.dash.Shutdown(shutdownCtx); err != nil {
				b.logger.WithError(err).Warn("dashboard shutdown")
			}
		}()
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.tick(ctx)
		}
	}
}

func (b *Bot) tick(ctx context.Context) {
	snap, err := scheduler.TakeSnapshot(ctx, b.cal)
	if err != nil {
		b.logger.WithError(err).Error("snapshot failed, skipping tick")
		return
	}
	for _, job := range scheduler.Due(b.jobs, snap) {
		b.logger.Infof("running %s", job.Name())
		if err := b.dispatch(ctx, job); err != nil {
			b.logger.WithError(err).Errorf("%s failed", job.Name())
		}
	}
	if snap.OpenNow {
		if err := b.pipe.CloseActiveStrangles(ctx); err != nil {
			b.logger.WithError(err).Error("closing active strangles")
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, job scheduler.Job) error {
	switch job.Name() {
	case "strangler.buy":
		return b.forEachExpr(ctx, b.pipe.StrangleExprs, b.pipe.BuyStrangle)
	case "strangler.open_sells":
		return b.pipe.OpenSells(ctx)
	case "strangler.log_active":
		return b.pipe.LogActivePositions(ctx)
	case "strangler.eow_results":
		return b.pipe.PublishWeekResults(ctx)
	case "iv.run":
		return b.rankExprs(ctx, b.pipe.StrangleExprs)
	case "iv.run_condor":
		return b.rankExprs(ctx, b.pipe.CondorExprs)
	case "calendar.expire_current_expr":
		if err := b.cal.ExpireCurrent(); err != nil {
			return err
		}
		return b.cal.ExpireCurrentDailies()
	case "condorer.buy":
		return b.forEachExpr(ctx, b.pipe.CondorExprs, b.pipe.BuyCondor)
	case "condorer.set_sell_limits":
		return b.pipe.SetSellLimits(ctx)
	case "condorer.close":
		return b.pipe.CloseCondors(ctx)
	case "condorer_daily.buy":
		return b.pipe.BuyDailyCondor(ctx)
	}
	return fmt.Errorf("no handler for job %s", job.Name())
}

func (b *Bot) forEachExpr(ctx context.Context,
	exprs func(context.Context) ([]string, error),
	run func(context.Context, string) error) error {
	list, err := exprs(ctx)
	if err != nil {
		return err
	}
	for _, expr := range list {
		if err := run(ctx, expr); err != nil {
			b.logger.WithError(err).Errorf("expiration %s", expr)
		}
	}
	return nil
}

func (b *Bot) rankExprs(ctx context.Context, exprs func(context.Context) ([]string, error)) error {
	list, err := exprs(ctx)
	if err != nil {
		return err
	}
	for _, expr := range list {
		if err := b.runRanking(ctx, expr); err != nil {
			b.logger.WithError(err).Errorf("ranking %s", expr)
		}
	}
	return nil
}

// rankedTickers serves the pipeline from the persisted ranking, computing it
// on demand when the scheduled run has not happened yet.
func (b *Bot) rankedTickers(ctx context.Context, expr string) ([]string, error) {
	ranking, ok, err := b.ranks.Ranking(expr)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := b.runRanking(ctx, expr); err != nil {
			return nil, err
		}
		if ranking, ok, err = b.ranks.Ranking(expr); err != nil || !ok {
			return nil, fmt.Errorf("no ranking for %s: %w", expr, err)
		}
	}
	return ranking.Symbols, nil
}

// runRanking ingests the CSV exports for one expiration, ranks, and persists
// the result with its report.
func (b *Bot) runRanking(ctx context.Context, expr string) error {
	universe, err := b.loadUniverse(ctx, expr)
	if err != nil {
		return err
	}
	exprThisWeek, err := b.cal.ExpiresThisWeek(expr)
	if err != nil {
		return err
	}

	rc := ranker.NewContext(b.logger, nil)

	aggregates, err := os.Open(filepath.Join(b.cfg.Ranker.DataDir, "aggregates.csv"))
	if err != nil {
		return fmt.Errorf("opening aggregates: %w", err)
	}
	defer aggregates.Close()
	if err := rc.IngestAggregate(aggregates, universe, exprThisWeek); err != nil {
		return err
	}

	ivs, err := os.Open(filepath.Join(b.cfg.Ranker.DataDir, "iv_"+expr+".csv"))
	if err != nil {
		return fmt.Errorf("opening IV rows: %w", err)
	}
	defer ivs.Close()
	if err := rc.IngestIVs(ivs); err != nil {
		return err
	}

	symbols := rc.Rank()
	b.logger.Infof("ranked %d tickers for %s", len(symbols), expr)
	return b.ranks.SaveRun(expr, symbols, rc.Report(), false)
}

// loadUniverse picks monthlies when the target or the next expiration is the
// monthly one and the weeklies-only override is off, then subtracts the
// blacklist. The next-expiration arm makes the run targeting the week before
// the monthly already rank the monthly universe.
func (b *Bot) loadUniverse(ctx context.Context, expr string) (map[string]bool, error) {
	listFile := "weeklies.csv"
	if !b.cfg.Ranker.WeekliesOnly {
		monthly, err := b.cal.CurrentMonthlyExpr(ctx)
		if err != nil {
			return nil, err
		}
		next, err := b.cal.NextExpr(ctx)
		if err != nil {
			return nil, err
		}
		if expr == monthly || monthly == next {
			listFile = "monthlies.csv"
		}
	}

	tickers, err := b.readTickerFile(listFile)
	if err != nil {
		return nil, err
	}
	blacklist, err := b.readTickerFile("blacklist.csv")
	if err != nil {
		return nil, err
	}
	blocked := make(map[string]bool, len(blacklist))
	for _, t := range blacklist {
		blocked[t] = true
	}

	universe := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		if !blocked[t] {
			universe[t] = true
		}
	}
	return universe, nil
}

func (b *Bot) readTickerFile(name string) ([]string, error) {
	f, err := os.Open(filepath.Join(b.cfg.Ranker.DataDir, name))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()
	return ranker.ReadTickerList(f)
}
