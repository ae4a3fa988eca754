// Команда satscan строит наземную трассу спутника по TLE, зоны обзора
// и проверяет, сколько раз целевая точка попадает в зону обзора.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/art-injener/satscan-go/internal/celestrak"
	"github.com/art-injener/satscan-go/internal/config"
	"github.com/art-injener/satscan-go/internal/export"
	"github.com/art-injener/satscan-go/internal/metrics"
	"github.com/art-injener/satscan-go/internal/server"
	"github.com/art-injener/satscan-go/internal/simulation"
	"github.com/art-injener/satscan-go/internal/tracker"
)

const usage = `usage: satscan <command> [flags]

commands:
  track   propagate a ground track and export samples or footprints
  scan    count how many times a target point falls into the scan area
  live    print the current position of a satellite
  serve   run the HTTP API

run "satscan <command> -h" for command flags
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run выполняет команду и возвращает код выхода.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "track", "scan":
		err = runTrack(ctx, args[0], args[1:], stdout, stderr)
	case "live":
		err = runLive(ctx, args[1:], stdout, stderr)
	case "serve":
		err = runServe(ctx, args[1:], stderr)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintf(stderr, "satscan %s: %v\n", args[0], err)
		return 2
	default:
		fmt.Fprintf(stderr, "satscan %s: %v\n", args[0], err)
		return 1
	}
}

// errUsage неверные аргументы команды.
var errUsage = errors.New("usage error")

// app зависимости команд, собранные из конфигурации.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	runner  *simulation.Runner
	source  *celestrak.Source
}

func newApp(configPath, envFile string, stderr io.Writer, opts ...simulation.Option) (*app, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, errors.Wrap(err, "loading config")
	}

	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return nil, errors.Wrap(err, "creating logger")
	}

	m := metrics.New(true)

	runnerOpts := append(cfg.RunnerOptions(),
		simulation.WithLogger(logger),
		simulation.WithRecorder(m),
	)
	runner := simulation.NewRunner(append(runnerOpts, opts...)...)

	client := celestrak.NewClient(append(cfg.CelestrakOptions(), celestrak.WithLogger(logger))...)
	cache := celestrak.NewCache(cfg.Celestrak.CacheDir, cfg.Celestrak.MaxAge)

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		runner:  runner,
		source:  celestrak.NewSource(client, cache, logger),
	}, nil
}

// commonFlags флаги конфигурации и источника TLE.
type commonFlags struct {
	config  string
	env     string
	tleFile string
	noradID int
}

func (f *commonFlags) register(fs *flag.FlagSet, withTLE bool) {
	fs.StringVar(&f.config, "config", "", "YAML config file")
	fs.StringVar(&f.env, "env", ".env", "env file with SATSCAN_* variables")
	if withTLE {
		fs.StringVar(&f.tleFile, "tle", "", "file with TLE in 2 or 3 line format")
		fs.IntVar(&f.noradID, "norad", 0, "NORAD catalog number: selects a TLE from -tle or fetches it from Celestrak")
	}
}

// loadTLE читает TLE из файла или загружает с Celestrak.
func (a *app) loadTLE(ctx context.Context, f commonFlags) (*tracker.TLE, error) {
	switch {
	case f.tleFile != "":
		data, err := os.ReadFile(f.tleFile)
		if err != nil {
			return nil, errors.Wrap(err, "reading TLE file")
		}

		tles, err := tracker.ParseTLEBatch(string(data))
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s", f.tleFile)
		}

		for _, tle := range tles {
			if f.noradID == 0 || tle.NoradID == f.noradID {
				return tle, nil
			}
		}

		return nil, errors.Errorf("no TLE for NORAD ID %d in %s", f.noradID, f.tleFile)

	case f.noradID > 0:
		tle, origin, err := a.source.Fetch(ctx, f.noradID)
		if err != nil {
			return nil, errors.Wrap(err, "fetching TLE")
		}

		a.logger.InfoContext(ctx, "using TLE",
			"norad_id", tle.NoradID,
			"name", tle.Name,
			"origin", string(origin),
			"epoch", tle.Epoch,
		)

		return tle, nil

	default:
		return nil, errors.Wrap(errUsage, "either -tle or -norad is required")
	}
}

// runTrack выполняет команды track и scan.
func runTrack(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	scan := name == "scan"

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	var common commonFlags
	common.register(fs, true)

	var (
		start    = fs.String("start", "", "start date DD-MM-YYYY, midnight UTC (default: TLE epoch)")
		interval = fs.Float64("interval", 0, "sampling interval in -unit (default from config)")
		unit     = fs.String("unit", "", "rate unit: s, min, h (default from config)")
		hours    = fs.Float64("hours", 0, "window duration in hours, 0 gives a single sample (default from config)")
		area     = fs.Float64("area", 0, "scan area side, km (default from config)")
		format   = fs.String("format", "json", "output format: json or csv")
		table    = fs.String("data", "", "write one table: samples, footprints, segments, matches, passes, failures")
		output   = fs.String("o", "", "output file (default stdout)")
		lat      = fs.Float64("lat", 0, "target latitude, degrees")
		lon      = fs.Float64("lon", 0, "target longitude, degrees")
	)

	if err := fs.Parse(args); err != nil {
		return err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if scan && !(set["lat"] && set["lon"]) {
		return errors.Wrap(errUsage, "scan needs both -lat and -lon")
	}
	if *hours < 0 {
		return errors.Wrapf(errUsage, "-hours must be non-negative, got %g", *hours)
	}

	outFormat, err := export.ParseFormat(*format)
	if err != nil {
		return errors.Wrap(errUsage, err.Error())
	}

	// CSV всегда пишется таблицей; полный отчёт доступен только в JSON
	outTable := *table
	switch {
	case outTable != "":
		if outTable, err = export.ParseTable(outTable); err != nil {
			return errors.Wrap(errUsage, err.Error())
		}
	case outFormat == export.FormatCSV && scan:
		outTable = export.TableMatches
	case outFormat == export.FormatCSV:
		outTable = export.TableSamples
	}

	a, err := newApp(common.config, common.env, stderr)
	if err != nil {
		return err
	}

	tle, err := a.loadTLE(ctx, common)
	if err != nil {
		return err
	}

	req := a.cfg.BaseRequest()
	req.Name, req.Line1, req.Line2 = tle.Name, tle.Line1, tle.Line2

	req.FromEpoch = *start == ""
	if !req.FromEpoch {
		if req.Start, err = simulation.ParseStartDate(*start); err != nil {
			return errors.Wrap(errUsage, err.Error())
		}
	}
	if *interval > 0 {
		req.Interval = *interval
	}
	if *unit != "" {
		if req.RateUnit, err = simulation.ParseRateUnit(*unit); err != nil {
			return errors.Wrap(errUsage, err.Error())
		}
	}
	if set["hours"] {
		req.DurationHours = *hours
	}
	if *area > 0 {
		req.AreaKm = *area
	}
	if scan {
		req.Target = &tracker.GeoPoint{Lat: *lat, Lon: *lon}
	}

	report, err := a.runner.Run(ctx, req)
	if err != nil {
		return errors.Wrap(err, "simulation")
	}

	fmt.Fprintln(stderr, report.Summary)
	for _, line := range report.PassLines() {
		fmt.Fprintln(stderr, line)
	}

	w, closeOutput, err := openOutput(*output, stdout)
	if err != nil {
		return err
	}

	if outTable == "" {
		err = export.WriteReport(w, report)
	} else {
		err = export.WriteTable(w, outFormat, report, outTable)
	}
	if cerr := closeOutput(); err == nil {
		err = cerr
	}

	return errors.Wrap(err, "writing output")
}

// runLive печатает текущее положение спутника.
func runLive(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("live", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var common commonFlags
	common.register(fs, true)
	at := fs.String("at", "", "time RFC 3339 (default: now)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	var opts []simulation.Option
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return errors.Wrap(errUsage, err.Error())
		}
		opts = append(opts, simulation.WithClock(func() time.Time { return t }))
	}

	a, err := newApp(common.config, common.env, stderr, opts...)
	if err != nil {
		return err
	}

	tle, err := a.loadTLE(ctx, common)
	if err != nil {
		return err
	}

	fix, err := a.runner.Live(ctx, simulation.LiveRequest{Name: tle.Name, Line1: tle.Line1, Line2: tle.Line2})
	if err != nil {
		return errors.Wrap(err, "live position")
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	return errors.Wrap(enc.Encode(fix), "writing output")
}

// runServe запускает HTTP API до получения сигнала остановки.
func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var common commonFlags
	common.register(fs, false)
	addr := fs.String("addr", "", "listen address (default from config)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp(common.config, common.env, stderr)
	if err != nil {
		return err
	}
	if *addr != "" {
		a.cfg.Server.Addr = *addr
	}

	srv := server.NewServer(a.cfg.Server, a.runner, a.cfg.BaseRequest(),
		server.WithSource(a.source),
		server.WithMetrics(a.metrics),
		server.WithLogger(a.logger),
	)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server",
			"addr", a.cfg.Server.Addr,
			"model", a.cfg.Propagation.Model,
			"workers", a.cfg.Workers,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown")
	}

	a.logger.Info("server stopped")

	return nil
}

// openOutput открывает файл вывода или возвращает stdout.
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return stdout, func() error { return nil }, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating output file")
	}

	return f, f.Close, nil
}
