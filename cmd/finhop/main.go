// main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/quantrel/finhop"
	"github.com/quantrel/finhop/internal/cache"
	"github.com/quantrel/finhop/internal/calculator"
	"github.com/quantrel/finhop/internal/decompose"
	"github.com/quantrel/finhop/internal/eventbus"
	"github.com/quantrel/finhop/internal/orchestrator"
)

var demoQueries = []string{
	"What is the Sharpe ratio of AAPL?",
	"Compare the Sharpe ratios of AAPL and MSFT over the past year",
	"Which has better risk-adjusted returns, AAPL or MSFT, and how does the winner correlate with SPY?",
	"Compare volatility of AAPL and INVALID_TICKER",
	"Is NVDA overvalued relative to its sector?",
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	planPath := flag.String("plan", "", "execute a YAML plan file instead of the demo queries")
	cacheFile := flag.String("cache-file", "", "persist the metric cache to this file")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logger, err := buildLogger(*verbose)
	if err != nil {
		log.Fatalf("logger initialization failed: %v", err)
	}
	defer logger.Sync()

	cfg := finhop.DefaultConfig()
	if *configPath != "" {
		cfg, err = finhop.LoadConfig(*configPath)
		if err != nil {
			logger.Fatal("failed to load config", zap.Error(err))
		}
	}

	calc := calculator.New(
		calculator.WithRiskFreeRate(cfg.RiskFreeRate),
		calculator.WithLogger(logger),
	)

	var metricCache finhop.Cache
	if *cacheFile != "" {
		metricCache = cache.NewFilePersistentCache(cfg.CacheTTL, *cacheFile, logger)
	} else {
		metricCache = cache.NewInMemoryCache(cfg.CacheTTL, logger)
	}

	var bus eventbus.EventBus
	if cfg.EnableEventBus {
		channelBus := eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(cfg.EventBusBufferSize),
			eventbus.WithWorkerCount(cfg.EventBusWorkerCount),
			eventbus.WithLogger(logger),
		)
		defer channelBus.Close()
		bus = channelBus
	}

	schedOpts := []orchestrator.Option{
		orchestrator.WithCache(metricCache),
		orchestrator.WithLogger(logger),
	}
	if bus != nil {
		schedOpts = append(schedOpts, orchestrator.WithEventBus(bus))
	}
	if cfg.Parallel {
		schedOpts = append(schedOpts, orchestrator.WithParallel(cfg.MaxConcurrentExecutions))
	}
	scheduler, err := orchestrator.NewScheduler(calc, schedOpts...)
	if err != nil {
		logger.Fatal("failed to create scheduler", zap.Error(err))
	}

	decomposer := decompose.New(
		decompose.WithLogger(logger),
		decompose.WithAliasFile(cfg.MetricAliasFile),
	)

	engineOpts := []finhop.Option{
		finhop.WithConfig(cfg),
		finhop.WithDecomposer(decomposer),
		finhop.WithExecutor(scheduler),
		finhop.WithLogger(logger),
	}
	if bus != nil {
		engineOpts = append(engineOpts, finhop.WithEventBus(bus))
	}
	engine, err := finhop.New(engineOpts...)
	if err != nil {
		logger.Fatal("failed to create engine", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if *planPath != "" {
		runPlanFile(ctx, scheduler, *planPath)
		return
	}

	queries := flag.Args()
	if len(queries) == 0 {
		queries = demoQueries
	}
	for _, query := range queries {
		runQuery(ctx, engine, query)
	}

	runChainDemo(ctx, calc, logger)
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

func runQuery(ctx context.Context, engine *finhop.FinHop, query string) {
	fmt.Printf("\n=== %s\n", query)
	result := engine.Execute(ctx, query)
	printJSON(result)
}

// runPlanFile executes a hand-written plan directly against the scheduler,
// skipping decomposition.
func runPlanFile(ctx context.Context, scheduler *orchestrator.Scheduler, path string) {
	plan, err := orchestrator.LoadAndValidatePlan(path)
	if err != nil {
		log.Fatalf("failed to load plan %s: %v", path, err)
	}
	execErr := scheduler.ExecutePlan(ctx, plan)

	fmt.Printf("\n=== plan %s\n", path)
	for _, id := range plan.CompletionOrder {
		if output, ok := plan.GetResult(id); ok {
			fmt.Printf("%s: ", id)
			printJSON(output)
		}
	}
	if execErr != nil {
		fmt.Printf("errors: %v\n", execErr)
		os.Exit(1)
	}
}

func runChainDemo(ctx context.Context, calc finhop.Calculator, logger *zap.Logger) {
	builder := finhop.NewReasoningChainBuilder(calc, logger)
	chain, err := builder.Build("Is AAPL overvalued compared to MSFT?")
	if err != nil {
		logger.Fatal("failed to build reasoning chain", zap.Error(err))
	}

	fmt.Printf("\n=== reasoning chain: %s\n", chain.Query)
	result := chain.Execute(ctx)
	fmt.Println(result.Explanation)
	fmt.Printf("overall confidence: %.2f\n", result.OverallConfidence)
	if !result.Success {
		fmt.Printf("chain failed: %s\n", result.Error)
	}
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", v)
		return
	}
	fmt.Println(string(data))
}
