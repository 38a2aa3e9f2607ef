package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/smartbiofloc/biofloc/agent/internal/client"
	"github.com/smartbiofloc/biofloc/agent/internal/compute"
	"github.com/smartbiofloc/biofloc/agent/internal/config"
	"github.com/smartbiofloc/biofloc/agent/internal/logfile"
	"github.com/smartbiofloc/biofloc/agent/internal/scraper"
	"github.com/smartbiofloc/biofloc/agent/internal/security"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (optional)")
	filePath := flag.String("file", "", "sensor log to replay (.csv or .xlsx)")
	server := flag.String("server", "", "server base URL (overrides agent.server_url)")
	device := flag.String("device", "", "device id sent in the device header (overrides agent.device_id)")
	interval := flag.Duration("interval", -1, "pause between rows (overrides agent.interval)")
	keyEnv := flag.String("api-key-env", "", "environment variable holding the API key (enables apikey auth)")
	metricsPath := flag.String("metrics", "", "server metrics path to scrape before and after the replay, e.g. /metrics")
	outPath := flag.String("out", "", "write the score series and summary as JSON to this file")
	debug := flag.Bool("debug", false, "log every scored row")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *filePath == "" {
		slog.Error("-file is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("config file not found, using defaults", "config", *configPath)
		cfg = config.Defaults()
	case err != nil:
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	a := cfg.Agent
	if *server != "" {
		a.ServerURL = *server
	}
	if *device != "" {
		a.DeviceID = *device
	}
	if *interval >= 0 {
		a.Interval = *interval
	}
	if *keyEnv != "" {
		a.ServerAuth.Mode = "apikey"
		a.ServerAuth.KeyEnv = *keyEnv
	}
	if err := a.Validate(); err != nil {
		slog.Error("invalid settings", "err", err)
		os.Exit(2)
	}

	slog.Info("biofloc-agent starting",
		"server_url", a.ServerURL,
		"device_id", a.DeviceID,
		"file", *filePath,
		"interval", a.Interval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cs := security.Check(ctx, a.ServerURL, a.TLS.InsecureSkipVerify); cs != nil {
		if cs.Status == security.StatusValid {
			slog.Info("server certificate", "status", cs.Status, "days_left", cs.DaysLeft, "issuer", cs.Issuer)
		} else {
			slog.Warn("server certificate", "status", cs.Status, "days_left", cs.DaysLeft, "not_after", cs.NotAfter)
		}
	}

	log, err := logfile.Read(*filePath)
	if err != nil {
		slog.Error("failed to read log", "err", err)
		os.Exit(1)
	}
	for _, se := range log.Skipped {
		slog.Warn("skipping row", "err", se.Error())
	}
	slog.Info("log loaded", "rows", len(log.Rows), "skipped", len(log.Skipped))

	c, err := client.New(a)
	if err != nil {
		slog.Error("failed to build client", "err", err)
		os.Exit(1)
	}

	var before *scraper.Snapshot
	if *metricsPath != "" {
		before, err = scraper.Scrape(ctx, c.HTTPClient(), c.URL(*metricsPath))
		if err != nil {
			slog.Warn("metrics scrape failed, self-check disabled", "err", err)
		}
	}

	series := compute.NewSeries()
	series.Skip(len(log.Skipped))
	replay(ctx, c, log.Rows, a.Interval, series)

	sum := series.Summary()
	slog.Info("replay finished",
		"rows", sum.Rows,
		"scored", sum.Scored,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
		"min", sum.Min,
		"max", sum.Max,
		"mean", sum.Mean,
		"categories", sum.Categories,
		"trend", sum.Trend,
	)
	if sum.Worst != nil {
		slog.Info("worst reading", "t", sum.Worst.T, "score", sum.Worst.Score, "category", sum.Worst.Category)
	}

	if before != nil {
		// Fresh context: the self-check still runs after an interrupted replay.
		checkCtx, checkCancel := context.WithTimeout(context.Background(), a.Timeout)
		after, err := scraper.Scrape(checkCtx, c.HTTPClient(), c.URL(*metricsPath))
		checkCancel()
		if err != nil {
			slog.Warn("metrics scrape failed", "err", err)
		} else {
			d := after.Delta(before)
			slog.Info("server self-check",
				"ingested", d.TotalIngested(),
				"ingested_by_category", d.Ingested,
				"validation_failures", d.ValidationFailures,
				"devices_tracked", d.DevicesTracked,
				"sensors_connected", d.SensorsConnected,
			)
			if int(d.TotalIngested()) < sum.Scored {
				slog.Warn("server counted fewer readings than were scored",
					"scored", sum.Scored, "ingested", d.TotalIngested())
			}
		}
	}

	if ctx.Err() == nil {
		if fleet, err := c.Fleet(ctx); err != nil {
			slog.Warn("fleet fetch failed", "err", err)
		} else {
			slog.Info("fleet", "total_devices", fleet.TotalDevices, "total_sensors", fleet.TotalSensors)
		}
	}

	if *outPath != "" {
		if err := writeSeries(*outPath, series); err != nil {
			slog.Error("failed to write series", "err", err)
			os.Exit(1)
		}
		slog.Info("series written", "path", *outPath)
	}

	if len(log.Rows) > 0 && sum.Scored == 0 {
		slog.Error("no rows were scored")
		os.Exit(1)
	}
}

// replay posts rows in order. A row the server does not score is counted
// as failed and the replay moves on.
func replay(ctx context.Context, c *client.Client, rows []logfile.Row, interval time.Duration, series *compute.Series) {
	for i, row := range rows {
		if ctx.Err() != nil {
			slog.Warn("replay interrupted", "remaining", len(rows)-i)
			return
		}
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				slog.Warn("replay interrupted", "remaining", len(rows)-i)
				return
			case <-time.After(interval):
			}
		}

		p, err := c.Predict(ctx, row.Reading)
		if err != nil {
			series.Fail()
			slog.Warn("row not scored", "line", row.Line, "err", err)
			continue
		}

		t := row.Timestamp
		if t == "" {
			t = strconv.Itoa(row.Line)
		}
		series.Add(compute.Point{T: t, Score: p.Score, Category: p.Category})
		slog.Debug("row scored",
			"line", row.Line,
			"score", p.Score,
			"category", p.Category,
			"sensors_connected", p.SensorsConnected,
		)
	}
}

func writeSeries(path string, series *compute.Series) error {
	out := struct {
		Summary compute.Summary `json:"summary"`
		Series  []compute.Point `json:"series"`
	}{series.Summary(), series.Points()}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
