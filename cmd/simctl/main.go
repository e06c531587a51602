// simctl runs a bench of simulated snippet devices so the harness can be
// exercised without phones attached.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/rangectl/internal/logging"
	"github.com/danmuck/rangectl/internal/snippet/fake"
)

func main() {
	count := flag.Int("devices", 2, "number of simulated devices")
	basePort := flag.Int("base-port", 9911, "first listen port, devices take consecutive ports")
	reportEvery := flag.Duration("report-interval", 200*time.Millisecond, "interval between ranging reports")
	flag.Parse()

	logging.ConfigureRuntime()

	if err := run(*count, *basePort, *reportEvery); err != nil {
		fmt.Fprintf(os.Stderr, "simctl: %v\n", err)
		os.Exit(1)
	}
}

func run(count, basePort int, reportEvery time.Duration) error {
	if count < 2 {
		return fmt.Errorf("need at least 2 devices, got %d", count)
	}

	registry := fake.NewLab()
	devices := make([]*fake.Device, 0, count)
	defer func() {
		for _, dev := range devices {
			dev.Close()
		}
	}()

	for i := 0; i < count; i++ {
		dev := fake.NewDevice(fmt.Sprintf("sim-%d", i), registry)
		dev.SetReportInterval(reportEvery)
		addr := fmt.Sprintf("127.0.0.1:%d", basePort+i)
		if err := dev.Start(addr); err != nil {
			return fmt.Errorf("device %s on %s: %w", dev.Name(), addr, err)
		}
		devices = append(devices, dev)
		log.Info().Str("device", dev.Name()).Str("addr", dev.Addr()).Msg("simulated device up")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down simulated bench")
	return nil
}
