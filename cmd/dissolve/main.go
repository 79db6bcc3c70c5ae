package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/disorderedmaterials/dissolve-sub015/internal/dissolve"
)

func main() {
	dissolve.Debug = os.Getenv("DEBUG") != ""
	dissolve.DetailedLog = os.Getenv("DETAILED") != ""
	dissolve.SkipMetrics = os.Getenv("SKIP_METRICS") != ""
	dissolve.TraceToStdio = os.Getenv("TRACE") != ""
	if os.Getenv("PROFILE") != "" {
		f, err := os.Create("cpu.out")
		if err != nil {
			panic(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			panic(err)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
