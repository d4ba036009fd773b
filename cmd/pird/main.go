package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	pir "github.com/ehrlich-b/go-pir"
	"github.com/ehrlich-b/go-pir/internal/clbind"
	"github.com/ehrlich-b/go-pir/internal/logging"
)

func main() {
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	var (
		listOnly = flags.Bool("l", false, "List compute devices and exit")
		deviceID = flags.Int("d", 0, "Device enumeration index")
		sockPath = flags.String("s", pir.DefaultSocketPath, "Rendezvous socket path")
		verbose  = flags.Bool("v", false, "Verbose output")
		simulate = flags.Bool("sim", false, "Use the simulated accelerator")
	)
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	// Set up logging
	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	rt, err := selectRuntime(*simulate)
	if err != nil {
		logger.Error("failed to open accelerator runtime", "error", err)
		os.Exit(1)
	}

	if *listOnly {
		devices, err := rt.Devices()
		if err != nil {
			logger.Error("failed to enumerate devices", "error", err)
			os.Exit(1)
		}
		for _, d := range devices {
			fmt.Printf("%d: %s\n", d.Index, d.Name)
		}
		os.Exit(1)
	}

	metrics := pir.NewMetrics()
	server := &pir.Server{
		Path:     *sockPath,
		Runtime:  rt,
		Device:   *deviceID,
		Logger:   logger,
		Observer: pir.NewMetricsObserver(metrics),
	}

	// On interrupt: remove the rendezvous and exit non-zero. In-flight
	// work is not drained; clients reconnect and reissue.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down on signal", "signal", sig)
		metrics.Stop()
		_ = server.Close()
		_ = os.Remove(*sockPath)
		os.Exit(1)
	}()

	if err := server.ListenAndServe(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func selectRuntime(simulate bool) (clbind.Runtime, error) {
	if simulate {
		return clbind.NewSim(), nil
	}
	return clbind.NewOpenCL()
}
