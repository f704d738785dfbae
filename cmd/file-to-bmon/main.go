package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	filetobmon "github.com/alanmitchell/file-to-bmon"
	"github.com/alanmitchell/file-to-bmon/internal/adapters/observability"
	"github.com/alanmitchell/file-to-bmon/internal/adapters/parsers"
	"github.com/alanmitchell/file-to-bmon/internal/app/logging"
	"github.com/alanmitchell/file-to-bmon/internal/convert/avecxml"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "inspect":
		err = inspectCommand(os.Args[2:])
	case "convert-avec":
		err = convertCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "formats":
		fmt.Println(strings.Join(filetobmon.Formats(), "\n"))
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("file-to-bmon %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "Path to configuration file")
	watch := fs.Duration("watch", 0, "Rescan the sources at this interval instead of running once")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := filetobmon.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closer := logging.New(flow.Config().Logging, os.Stderr)
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = flow.Run(ctx, *watch)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := filetobmon.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good: %d destinations, %d file sources\n",
		*cfgPath, len(cfg.Destinations), len(cfg.FileSources))
	return nil
}

// inspectCommand shows what a format makes of the first lines of a file.
func inspectCommand(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	format := fs.String("format", "", "Format name (see the formats command)")
	tz := fs.String("tz", "US/Alaska", "Time zone of naive timestamps")
	rawOpts := fs.String("options", "", "Format options as inline YAML, e.g. '{interval_minutes: 30}'")
	lines := fs.Int("n", 3, "Number of data lines to parse")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *format == "" || fs.NArg() != 1 {
		return fmt.Errorf("usage: inspect -format <name> [flags] <file>")
	}

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		return err
	}
	opts := parsers.Options{Location: loc}
	if *rawOpts != "" {
		var node yaml.Node
		if err := yaml.Unmarshal([]byte(*rawOpts), &node); err != nil {
			return fmt.Errorf("options: %w", err)
		}
		opts.Raw = &node
	}
	parser, err := parsers.New(*format, opts)
	if err != nil {
		return err
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	header, err := parser.ReadHeader(r)
	if err != nil {
		return fmt.Errorf("header: %w", err)
	}
	for _, h := range header {
		fmt.Printf("header: %s\n", h)
	}

	scanner := bufio.NewScanner(r)
	for n := 0; n < *lines && scanner.Scan(); {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n++
		fmt.Printf("line:   %s\n", line)
		readings, err := parser.ParseLine(line)
		if err != nil {
			fmt.Printf("  error: %v\n", err)
			continue
		}
		for _, rd := range readings {
			fmt.Printf("  %s  %s\n", rd, time.Unix(rd.Timestamp, 0).In(loc).Format(time.RFC3339))
		}
	}
	return scanner.Err()
}

func convertCommand(args []string) error {
	fs := flag.NewFlagSet("convert-avec", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: convert-avec <dir>")
	}

	obs := observability.NewPromObs(prometheus.NewRegistry(), slog.Default())
	sum, err := avecxml.ConvertDir(fs.Arg(0), obs)
	if err != nil {
		return err
	}
	fmt.Printf("converted %d files (%d readings), %d failed\n", sum.Files, sum.Readings, sum.Failed)
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	cfgPath := fs.String("config", "", "Print the delivery backlog of this config and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *cfgPath != "" {
		return printBacklog(*cfgPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printBacklog(path string) error {
	cfg, err := filetobmon.LoadConfig(path)
	if err != nil {
		return err
	}
	stats, err := filetobmon.DeliveryBacklog(cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DESTINATION\tKIND\tPENDING\tWAL BYTES\tLAST POST")
	for _, st := range stats {
		last := "never"
		if !st.LastPost.IsZero() {
			last = st.LastPost.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", st.Destination, st.Sink, st.Pending, st.WALBytes, last)
	}
	return w.Flush()
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	targets := map[string]float64{
		"filetobmon_lines_completed_total":    0,
		"filetobmon_lines_error_total":        0,
		"filetobmon_readings_delivered_total": 0,
		"filetobmon_queue_length":             0,
		"filetobmon_wal_size_bytes":           0,
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for key := range targets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %f", &value); err == nil {
					targets[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] lines_ok=%.0f lines_err=%.0f delivered=%.0f queue=%.0f wal_bytes=%.0f\n",
		time.Now().Format(time.RFC3339),
		targets["filetobmon_lines_completed_total"],
		targets["filetobmon_lines_error_total"],
		targets["filetobmon_readings_delivered_total"],
		targets["filetobmon_queue_length"],
		targets["filetobmon_wal_size_bytes"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`file-to-bmon

Usage:
  file-to-bmon <command> [flags]

Commands:
  run           Process every file source once, or keep rescanning with -watch
  validate      Load and validate a config file without touching any files
  inspect       Parse the first lines of a file with one format
  convert-avec  Convert AVEC XML exports in a directory to CSV
  formats       List the registered file formats
  stats         Poll the metrics endpoint, or print the delivery backlog with -config

Examples:
  file-to-bmon run -config ./config.yaml
  file-to-bmon run -config ./config.yaml -watch 10m
  file-to-bmon validate -config ./config.yaml
  file-to-bmon inspect -format gvea -tz US/Alaska ./gvea/export.csv
  file-to-bmon convert-avec ./avec
  file-to-bmon stats -url http://localhost:9100/metrics -interval 1s
  file-to-bmon stats -config ./config.yaml
`)
}
