// Copyright 2025 Certen Protocol
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/certen/lz-dvn-executor/pkg/chaingateway"
	"github.com/certen/lz-dvn-executor/pkg/config"
	"github.com/certen/lz-dvn-executor/pkg/contracts"
	"github.com/certen/lz-dvn-executor/pkg/executor"
	"github.com/certen/lz-dvn-executor/pkg/metrics"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: executor <run-args|run-config> [flags]")
		os.Exit(1)
	}

	var cfg *config.Config
	var err error

	switch os.Args[1] {
	case "run-config":
		fs := flag.NewFlagSet("run-config", flag.ExitOnError)
		path := fs.String("config", "", "path to a YAML configuration file")
		_ = fs.Parse(os.Args[2:])
		if *path == "" {
			log.Fatalf("executor: run-config requires -config")
		}
		cfg, err = config.LoadFromFile(*path)

	case "run-args":
		fs := flag.NewFlagSet("run-args", flag.ExitOnError)
		_ = fs.Parse(os.Args[2:])
		cfg, err = config.Load()

	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q; expected run-args or run-config\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("executor: failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("executor: invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := contracts.NewLoader(cfg.ABIDir)
	abis, err := loader.MustLoad(contracts.EndpointABI, contracts.SendLibABI)
	if err != nil {
		log.Fatalf("executor: failed to load ABI artifacts: %v", err)
	}

	reg, handler := metrics.New()

	gatewayOpts := []chaingateway.Option{
		chaingateway.WithRetryPolicy(cfg.RetryMaxAttempts, cfg.RetryBackoff, cfg.CallTimeout),
		chaingateway.WithMetrics(reg),
	}
	if cfg.SignerPrivateKey != "" {
		gatewayOpts = append(gatewayOpts, chaingateway.WithPrivateKey(cfg.SignerPrivateKey))
	}

	targetGateway, err := chaingateway.Dial(ctx, cfg.TargetWSRPCURL, cfg.TargetHTTPRPCURL, gatewayOpts...)
	if err != nil {
		log.Fatalf("executor: failed to dial target chain: %v", err)
	}
	defer targetGateway.Close()

	worker, err := executor.New(executor.Config{
		TargetEndpoint:     cfg.TargetEndpoint,
		TargetSendLib:      cfg.TargetSendLib,
		SelfAddress:        cfg.SelfAddress,
		StrictFeeRecipient: cfg.StrictFeeRecipient,
	}, targetGateway, abis)
	if err != nil {
		log.Fatalf("executor: failed to construct worker: %v", err)
	}
	worker.WithMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("executor: metrics server stopped: %v", err)
		}
	}()

	log.Printf("executor: starting against target endpoint %s", cfg.TargetEndpoint.Hex())
	if err := worker.Listen(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("executor: worker stopped with error: %v", err)
	}
	log.Printf("executor: shutting down")
}
