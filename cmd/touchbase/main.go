package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"touchbase/internal/app"
	logx "touchbase/pkg/logx"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file (yaml or json)")
	once := flag.Bool("once", false, "run a single tick and exit (external scheduler owns the cadence)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *cfgPath, *once); err != nil {
		fmt.Fprintln(logx.Stderr(), "touchbase:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, once bool) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}

	if once {
		sum, err := a.RunOnce(ctx)
		cerr := a.Stop(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("tick %s %s: scanned=%d due=%d fired=%d intents=%d conflicts=%d failures=%d\n",
			sum.Day, sum.At, sum.Scanned, sum.Due, sum.Fired, sum.Intents, sum.Conflicts, sum.Failures)
		return cerr
	}

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}
	<-ctx.Done()

	// A second signal aborts the graceful shutdown window.
	sctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return a.Stop(sctx)
}
