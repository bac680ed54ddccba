// Package main is the ssdwatch entry point: a single-shot SSD detection CLI
// that also runs as a long-lived detection service with -serve.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ssdwatch/ssdwatch/internal/api"
	"github.com/ssdwatch/ssdwatch/internal/bus"
	"github.com/ssdwatch/ssdwatch/internal/config"
	"github.com/ssdwatch/ssdwatch/internal/database"
	"github.com/ssdwatch/ssdwatch/internal/detect"
	"github.com/ssdwatch/ssdwatch/internal/events"
	"github.com/ssdwatch/ssdwatch/internal/output"
	"github.com/ssdwatch/ssdwatch/internal/runner"
	"github.com/ssdwatch/ssdwatch/internal/source"
	"github.com/ssdwatch/ssdwatch/internal/track"
)

const version = "0.3.0"

func main() {
	var (
		flagConfig     = flag.String("config", "", "YAML configuration file (required with -serve)")
		flagServe      = flag.Bool("serve", false, "run as a long-lived detection service")
		flagMeanFile   = flag.String("mean_file", "", "text file with the per-channel image mean")
		flagMeanValue  = flag.String("mean_value", "104,117,123", "per-channel mean, one value or one per channel")
		flagFileType   = flag.String("file_type", "image", "type of the entries in the list file: image or video")
		flagOutFile    = flag.String("out_file", "", "output file, stdout when empty")
		flagFormat     = flag.String("format", "text", "output format: text or json")
		flagThreshold  = flag.Float64("confidence_threshold", 0.01, "only report detections at or above this confidence")
		flagNMS        = flag.Float64("nms_threshold", 0, "per-class non-max suppression threshold, 0 disables")
		flagLabels     = flag.String("labels", "", "label file with one class name per line, or the builtin voc / coco tables")
		flagFPS        = flag.Int("fps", 0, "throttle stream detection to this many frames per second")
		flagAlgConf    = flag.String("alg_conf", "", "legacy key=value algorithm conf file")
		flagStreamConf = flag.String("stream_conf", "", "legacy credentials conf producing an RTSP source")
		flagVersion    = flag.Bool("version", false, "print version and exit")
	)
	flag.Usage = usage
	flag.Parse()

	if *flagVersion {
		fmt.Println("ssdwatch", version)
		return
	}

	setupLogging(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *flagServe {
		if *flagConfig == "" {
			slog.Error("-serve requires -config")
			os.Exit(1)
		}
		cfg, err := config.Load(*flagConfig)
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.New()
			cfg.SetPath(*flagConfig)
			if err := cfg.Save(); err != nil {
				slog.Error("Failed to write default config", "error", err)
				os.Exit(1)
			}
			slog.Info("Wrote default config, edit it and restart", "path", *flagConfig)
			return
		}
		if err != nil {
			slog.Error("Failed to load config", "error", err)
			os.Exit(1)
		}
		setupLogging(cfg.System.Logging.Level, cfg.System.Logging.Format)
		if err := runServe(ctx, cfg); err != nil {
			slog.Error("Service failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := runCLI(ctx, cliOptions{
		config:     *flagConfig,
		meanFile:   *flagMeanFile,
		meanValue:  *flagMeanValue,
		fileType:   *flagFileType,
		outFile:    *flagOutFile,
		format:     *flagFormat,
		threshold:  *flagThreshold,
		nms:        *flagNMS,
		labels:     *flagLabels,
		fps:        *flagFPS,
		algConf:    *flagAlgConf,
		streamConf: *flagStreamConf,
		args:       flag.Args(),
	}); err != nil {
		slog.Error("Detection failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Do detection using SSD mode.

Usage:
  ssdwatch [FLAGS] model_file weights_file list_file
  ssdwatch -serve -config config.yaml

The list file holds one entry per line: image paths, video paths or RTSP
URLs. Entries with an rtsp: prefix are always treated as streams.

Flags:
`)
	flag.PrintDefaults()
}

func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	// Logs go to stderr so detection output on stdout stays clean.
	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}

type cliOptions struct {
	config     string
	meanFile   string
	meanValue  string
	fileType   string
	outFile    string
	format     string
	threshold  float64
	nms        float64
	labels     string
	fps        int
	algConf    string
	streamConf string
	args       []string
}

// runCLI is the classic one-shot mode: load the model, walk the list file,
// print boxes.
func runCLI(ctx context.Context, opts cliOptions) error {
	model, weights, listFile := "", "", ""

	if opts.algConf != "" {
		legacy, err := config.ParseAlgConf(opts.algConf)
		if err != nil {
			return err
		}
		model = legacy.Model
		weights = legacy.Weights
		listFile = legacy.ListFile
		if legacy.Threshold > 0 {
			opts.threshold = legacy.Threshold
		}
		if legacy.FileType != "" {
			opts.fileType = legacy.FileType
		}
	}

	args := opts.args
	switch {
	case len(args) >= 3:
		model, weights, listFile = args[0], args[1], args[2]
	case model == "" || weights == "":
		usage()
		return fmt.Errorf("model_file, weights_file and list_file are required")
	}

	fileType, err := source.ParseKind(opts.fileType)
	if err != nil {
		return err
	}

	var labels *detect.LabelTable
	if opts.labels != "" {
		labels, err = detect.ResolveLabels(opts.labels)
		if err != nil {
			return err
		}
	}

	detector, err := detect.NewDetector(detect.Options{
		Model:        model,
		Weights:      weights,
		MeanValue:    opts.meanValue,
		MeanFile:     opts.meanFile,
		Threshold:    opts.threshold,
		NMSThreshold: opts.nms,
		Labels:       labels,
	})
	if err != nil {
		return err
	}
	defer detector.Close()

	var entries []source.Entry
	if listFile != "" {
		entries, err = source.ReadListFile(listFile, fileType)
		if err != nil {
			return err
		}
	}
	if opts.streamConf != "" {
		url, err := config.ParseStreamConf(opts.streamConf)
		if err != nil {
			return err
		}
		entries = append(entries, source.Entry{Path: url, Kind: source.KindRTSP})
	}
	if len(entries) == 0 {
		return fmt.Errorf("no sources to process")
	}

	out, err := output.Open(opts.outFile)
	if err != nil {
		return err
	}
	defer out.Close()

	writer, err := output.New(out, output.Format(opts.format))
	if err != nil {
		return err
	}

	run := runner.New(detector, writer, runner.Options{
		RTSP: source.RTSPOptions{FPS: opts.fps},
	})

	return run.Run(ctx, entries)
}

// runServe is the service mode: detector plus event store, NATS bus,
// WebSocket hub and HTTP API, fed by the configured stream sources.
func runServe(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting ssdwatch service", "version", version, "sources", len(cfg.Sources))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := os.MkdirAll(cfg.System.DataPath, 0755); err != nil {
		return fmt.Errorf("failed to create data path: %w", err)
	}

	db, err := database.Open(database.DefaultConfig(cfg.System.DataPath))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.NewMigrator(db).Run(ctx); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	eventBus, err := bus.New(bus.Config{Port: cfg.Server.NATSPort}, slog.Default())
	if err != nil {
		return err
	}
	defer eventBus.Stop()

	if err := eventBus.OnShutdown(cancel); err != nil {
		slog.Warn("Bus shutdown subject unavailable", "error", err)
	}
	defer eventBus.Unsubscribe(bus.SubjectSystemShutdown)

	var labels *detect.LabelTable
	if cfg.Model.Labels != "" {
		labels, err = detect.ResolveLabels(cfg.Model.Labels)
		if err != nil {
			return err
		}
	}

	detector, err := detect.NewDetector(detect.Options{
		Model:        cfg.Model.Graph,
		Weights:      cfg.Model.Weights,
		Framework:    detect.Framework(cfg.Model.Framework),
		InputWidth:   cfg.Model.InputWidth,
		InputHeight:  cfg.Model.InputHeight,
		MeanValue:    cfg.Model.MeanValue,
		MeanFile:     cfg.Model.MeanFile,
		Scale:        cfg.Model.Scale,
		SwapRB:       cfg.Model.SwapRB,
		Threshold:    cfg.Detection.ConfidenceThreshold,
		NMSThreshold: cfg.Detection.NMSThreshold,
		Labels:       labels,
	})
	if err != nil {
		return err
	}
	defer detector.Close()

	eventService := events.NewService(db)
	hub := api.NewHub()
	go hub.Run()

	// Stored events go out to WebSocket clients as they are written.
	eventCh := eventService.Subscribe()
	defer eventService.Unsubscribe(eventCh)
	go func() {
		for ev := range eventCh {
			hub.Broadcast(api.EventMessage(ev.ID, ev.Source, ev.Label, ev.Confidence))
		}
	}()

	var tracker *track.Tracker
	if cfg.Detection.Tracking {
		tracker = track.NewTracker(0, 0)
	}

	run := runner.New(detector, nil, runner.Options{
		Classes: cfg.Detection.Classes,
		Tracker: tracker,
		RTSP:    source.RTSPOptions{FPS: cfg.Detection.FPS},
	})
	run.AddSink(runner.NewEventSink(eventService))
	run.AddSink(runner.NewBusSink(eventBus))
	run.AddSink(runner.NewHubSink(hub))

	cfg.OnChange(func(c *config.Config) {
		detector.SetThreshold(c.Detection.ConfidenceThreshold)
		run.SetClasses(c.Detection.Classes)
		slog.Info("Applied detection settings",
			"confidence_threshold", c.Detection.ConfidenceThreshold,
			"classes", len(c.Detection.Classes))
	})
	if err := cfg.Watch(); err != nil {
		slog.Warn("Config watch disabled", "error", err)
	}

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				retention := time.Duration(cfg.System.RetentionDays) * 24 * time.Hour
				deleted, err := eventService.Prune(ctx, retention)
				if err != nil {
					slog.Error("Event prune failed", "error", err)
					continue
				}
				if deleted > 0 {
					if err := db.Vacuum(ctx); err != nil {
						slog.Warn("Vacuum after prune failed", "error", err)
					}
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for _, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}
		wg.Add(1)
		go func(src config.SourceConfig) {
			defer wg.Done()
			_ = eventBus.PublishSourceStarted(src.ID)
			if err := run.RunStream(ctx, src.ID, src.StreamURL()); err != nil {
				slog.Error("Source stopped with error", "source", src.ID, "error", err)
				_ = eventBus.PublishSourceError(src.ID, err)
				return
			}
			_ = eventBus.PublishSourceStopped(src.ID)
		}(src)
	}

	server := api.NewServer(api.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Detector: detector,
		Events:   eventService,
		Tracker:  tracker,
		DB:       db,
		Hub:      hub,
		Config:   cfg,
		BusURL:   eventBus.ClientURL(),
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	wg.Wait()
	slog.Info("Service stopped")
	return nil
}
