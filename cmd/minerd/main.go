// Package main implements minerd, the proof-of-work mining client.
// It drives getwork, getblocktemplate and stratum pools, feeds the
// scanning workers and reports to the optional telemetry backends.
package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"

	flags "github.com/jessevdk/go-flags"

	"github.com/bardlex/gominer/internal/algo"
	"github.com/bardlex/gominer/internal/assembler"
	"github.com/bardlex/gominer/internal/config"
	"github.com/bardlex/gominer/internal/database"
	"github.com/bardlex/gominer/internal/engine/cpu"
	"github.com/bardlex/gominer/internal/messaging"
	"github.com/bardlex/gominer/internal/miner"
	"github.com/bardlex/gominer/internal/pool"
	"github.com/bardlex/gominer/internal/provider"
	"github.com/bardlex/gominer/internal/rpc"
	"github.com/bardlex/gominer/internal/stats"
	"github.com/bardlex/gominer/internal/stratum"
	"github.com/bardlex/gominer/internal/submit"
	"github.com/bardlex/gominer/internal/throttle"
	"github.com/bardlex/gominer/internal/validation"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/internal/workio"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

func main() {
	opts, err := parseOptions(os.Args[1:], flags.Default)
	if err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(workio.ExitOK)
		}
		os.Exit(workio.ExitUsage)
	}

	cfg, err := config.LoadEnv()
	if err == nil {
		err = opts.apply(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		code := workio.ExitCode(err)
		if code == workio.ExitInitError {
			code = workio.ExitUsage
		}
		os.Exit(code)
	}

	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting minerd",
		"version", cfg.Version,
		"algo", cfg.Algo,
		"threads", cfg.Threads,
		"pools", len(cfg.Pools),
		"benchmark", cfg.Benchmark,
	)

	app, err := newApp(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("initialization failed")
		os.Exit(workio.ExitCode(err))
	}
	defer app.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	err = app.run(ctx)
	code := workio.ExitCode(err)
	if err != nil && code != workio.ExitOK {
		logger.WithError(err).Error("minerd stopped", "exit_code", code)
	} else {
		logger.Info("minerd stopped")
	}
	app.close()
	os.Exit(code)
}

// app holds the wired components of one run
type app struct {
	logger     *log.Logger
	supervisor *workio.Supervisor
	miner      *miner.Miner
	reporter   *stats.Reporter
	db         *database.Manager
	kafka      *messaging.KafkaClient
	closeOnce  sync.Once
}

// newApp builds every component from cfg, bottom-up
func newApp(cfg *config.Config, logger *log.Logger) (*app, error) {
	desc, err := algo.Lookup(cfg.Algo)
	if err != nil {
		return nil, err
	}
	params, err := assembler.ChainParams(cfg.Chain)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "minerd", "invalid chain")
	}
	payout, err := assembler.PayoutScript(cfg.CoinbaseAddr, params)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "minerd", "invalid coinbase address")
	}

	registry := pool.NewRegistry(cfg.Pools, logger)
	pflags := pool.NewFlags(cfg.AllowGBT, cfg.CheckDups, cfg.AllowMiningInfo)
	cache := work.NewCache()
	network := work.NewNetwork()
	restarter := work.NewRestarter()

	selector := provider.NewSelector(desc, pflags, provider.Options{
		RPC: rpc.Options{
			Timeout:   cfg.Timeout,
			Proxy:     cfg.Proxy,
			ProxyUser: cfg.ProxyUser,
			ProxyPass: cfg.ProxyPass,
		},
		Getwork: assembler.GetworkConfig{Vote: cfg.Vote, Rand: rand.Uint32},
		Template: assembler.TemplateConfig{
			PayoutScript: payout,
			CoinbaseSig:  []byte(cfg.CoinbaseSig),
		},
		Stratum:      assembler.StratumConfig{DiffFactor: cfg.DiffFactor, Vote: cfg.Vote, Rand: rand.Uint32},
		AllowGetwork: cfg.AllowGetwork,
		Benchmark:    cfg.Benchmark,
	}, logger)

	pipeline := submit.NewPipeline(desc, registry, pflags, network, cache, restarter,
		selector.Client, submit.Config{ReplyTimeout: cfg.Timeout}, logger)

	deps := workio.Deps{
		Registry:  registry,
		Selector:  selector,
		Pipeline:  pipeline,
		Probe:     provider.NewNetProbe(pflags, network, logger),
		Cache:     cache,
		Network:   network,
		Restarter: restarter,
	}
	orchestrator := workio.NewOrchestrator(deps, workio.Config{
		Retries:      cfg.Retries,
		FailPause:    cfg.FailPause,
		Failover:     cfg.PoolFailover,
		Benchmark:    cfg.Benchmark,
		WantLongPoll: cfg.WantLongPoll,
		WantStratum:  cfg.WantStratum,
	}, logger)
	longpoll := workio.NewLongPoll(deps, cfg.FailPause, logger)
	runner := workio.NewStratumRunner(deps, desc, workio.StratumConfig{
		Session: stratum.Config{
			Proxy:               cfg.Proxy,
			ProxyUser:           cfg.ProxyUser,
			ProxyPass:           cfg.ProxyPass,
			Timeout:             cfg.Timeout,
			UserAgent:           "gominer/" + cfg.Version,
			ExtranonceSubscribe: cfg.ExtranonceSubscribe,
		},
		Retries:   cfg.Retries,
		FailPause: cfg.FailPause,
		Failover:  cfg.PoolFailover,
	}, logger)
	supervisor := workio.NewSupervisor(deps, orchestrator, longpoll, runner, cfg.Benchmark, logger)

	gate := throttle.New(throttle.Limits{
		MaxTemp:    cfg.MaxTemp,
		ResumeTemp: cfg.ResumeTemp,
		MaxDiff:    cfg.MaxDiff,
		ResumeDiff: cfg.ResumeDiff,
		MaxRate:    cfg.MaxRate,
		ResumeRate: cfg.ResumeRate,
	}, registry, network, nil, logger)

	validator, err := validation.NewShareValidator(desc, 0)
	if err != nil {
		return nil, err
	}

	meter := stats.NewMeter(cfg.Threads, cfg.StatsAvg)
	m, err := miner.New(miner.Deps{
		Desc:      desc,
		Registry:  registry,
		Cache:     cache,
		Network:   network,
		Restarter: restarter,
		Source:    orchestrator,
		Gate:      gate,
		Meter:     meter,
		Validator: validator,
	}, func(int) (miner.Engine, error) {
		return cpu.New(desc)
	}, miner.Config{
		Threads:    cfg.Threads,
		ScanTime:   cfg.ScanTime,
		FailPause:  cfg.FailPause,
		Benchmark:  cfg.Benchmark,
		MaxLogRate: cfg.MaxLogRate,
	}, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		logger:     logger,
		supervisor: supervisor,
		miner:      m,
		reporter:   stats.NewReporter(meter, registry, network, desc.Name, cfg.StatsInterval, logger),
	}

	a.db = database.Open(cfg, logger)
	a.db.Register(a.reporter)
	pipeline.Observe(a.db.Observe)

	if len(cfg.KafkaBrokers) > 0 {
		a.kafka = messaging.NewKafkaClient(cfg.KafkaBrokers, cfg.ServiceName, logger)
		a.reporter.AddSink(a.kafka)
		pipeline.Observe(a.kafka.ObserveShare)
		registry.OnSwitch(a.kafka.SwitchHook(registry))
	}
	return a, nil
}

// run blocks until ctx ends, the supervisor fails or the miner stops.
// The first error stops everything and is returned.
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	// either side returning ends the run; the first error wins
	stop := func(err error) {
		mu.Lock()
		if firstErr == nil && err != nil && !errors.Is(err, context.Canceled) {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		stop(a.supervisor.Run(ctx))
	}()
	go func() {
		defer wg.Done()
		stop(a.miner.Run(ctx))
	}()

	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		a.reporter.Run(ctx)
	}()
	if a.db.Enabled() {
		bg.Add(1)
		go func() {
			defer bg.Done()
			a.db.Run(ctx)
		}()
	}
	if a.kafka != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			a.kafka.Run(ctx)
		}()
	}

	wg.Wait()
	bg.Wait()
	return firstErr
}

func (a *app) close() {
	a.closeOnce.Do(func() {
		if a.kafka != nil {
			if err := a.kafka.Close(); err != nil {
				a.logger.WithError(err).Warn("failed to close Kafka client")
			}
		}
		if a.db != nil {
			if err := a.db.Close(); err != nil {
				a.logger.WithError(err).Warn("failed to close telemetry backends")
			}
		}
	})
}
