// rangectl drives a UWB ranging test run across the configured device lab
// and reports per-case results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/rangectl/internal/config"
	"github.com/danmuck/rangectl/internal/lab"
	"github.com/danmuck/rangectl/internal/logging"
	"github.com/danmuck/rangectl/internal/status"
	"github.com/danmuck/rangectl/internal/suite"
)

func main() {
	configPath := flag.String("config", "cmd/rangectl/lab.toml", "lab config path")
	runPattern := flag.String("run", "", "only run cases whose name contains this pattern")
	list := flag.Bool("list", false, "list registered cases and exit")
	statusAddr := flag.String("status-addr", "", "override the status server address from the config")
	hold := flag.Bool("hold", false, "keep the status server up after the run until interrupted")
	flag.Parse()

	logging.ConfigureRuntime()

	if *list {
		for _, c := range suite.Cases() {
			fmt.Println(c.Name)
		}
		return
	}

	if err := run(*configPath, *runPattern, *statusAddr, *hold); err != nil {
		fmt.Fprintf(os.Stderr, "rangectl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, runPattern, statusAddr string, hold bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadLab(configPath)
	if err != nil {
		return err
	}
	if statusAddr != "" {
		cfg.StatusAddr = statusAddr
	}

	if runPattern == "" {
		runPattern = cfg.CaseFilter
	}
	cases := suite.Filter(suite.Cases(), runPattern)
	if len(cases) == 0 {
		return fmt.Errorf("no cases match %q", runPattern)
	}

	l, err := lab.Register(ctx, cfg, lab.Options{})
	if err != nil {
		return err
	}
	defer l.Close()

	recorder := status.NewRecorder(0)
	statusDone := make(chan error, 1)
	if cfg.StatusAddr != "" {
		srv := status.NewServer(cfg.Name, cfg.StatusAddr, cfg.CorsOrigins, recorder)
		go func() {
			statusDone <- srv.Serve(ctx)
		}()
	}

	report, err := suite.Run(ctx, l, cases)
	if err != nil {
		return err
	}
	recorder.Record(report)
	printReport(report)

	if hold && cfg.StatusAddr != "" {
		log.Info().Str("addr", cfg.StatusAddr).Msg("holding status server, interrupt to exit")
		if err := <-statusDone; err != nil {
			return err
		}
	}

	if !report.OK() {
		return fmt.Errorf("%d of %d cases failed", report.Failed, len(report.Results))
	}
	return nil
}

func printReport(report suite.Report) {
	fmt.Printf("run %s on %s\n", report.RunID, report.Lab)
	for _, result := range report.Results {
		mark := "PASS"
		if !result.Passed {
			mark = "FAIL"
		}
		fmt.Printf("  %s  %-36s %s\n", mark, result.Name, result.Duration.Round(time.Millisecond))
		if result.Error != "" {
			fmt.Printf("        %s\n", result.Error)
		}
	}
	fmt.Printf("%d passed, %d failed\n", report.Passed, report.Failed)
}
