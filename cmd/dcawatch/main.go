package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dcawatch/internal/app"
	"dcawatch/internal/config"
)

func main() {
	var (
		cfgPath string
		envPath string
		seed    bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (json, yaml or toml)")
	flag.StringVar(&envPath, "env", ".env", "optional dotenv file loaded before the config")
	flag.BoolVar(&seed, "seed-history", false, "write a week of synthetic hourly history points and exit")
	flag.Parse()

	if err := config.LoadDotEnv(envPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if seed {
		if err := seedHistory(context.Background(), cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, "fatal seed:", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}
	notifyReady(ctx)

	reason := app.StopAppStop
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
	}
	signal.Stop(sigs)
	notifyStopping()
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		fmt.Fprintln(os.Stderr, "stop:", err)
	}
}
