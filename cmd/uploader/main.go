// Command uploader sends one image to the ingestion API and waits for the
// background processing to settle.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	_ "golang.org/x/image/webp"

	"gallery-pipeline/internal/client"
	"gallery-pipeline/internal/logger"
	"gallery-pipeline/internal/models"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "ingestion API base URL")
		title     = flag.String("title", "", "image title")
		location  = flag.String("location", "", "where the image was taken")
		notes     = flag.String("notes", "", "free text notes")
		noWait    = flag.Bool("no-wait", false, "return right after the upload")
		interval  = flag.Duration("interval", client.DefaultPollInterval, "status poll interval")
		attempts  = flag.Int("attempts", client.DefaultPollMaxAttempts, "maximum status polls")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <image>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	level := "info"
	if *verbose {
		level = "debug"
	}
	log := logger.New(os.Stderr, level, "text")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fields := map[string]string{
		"title":    *title,
		"location": *location,
		"notes":    *notes,
	}
	poller := func(c *client.Client) *client.Poller {
		p := client.NewPoller(c)
		p.Interval, p.MaxAttempts = *interval, *attempts
		return p
	}
	if err := run(ctx, log, *serverURL, flag.Arg(0), fields, *noWait, poller); err != nil {
		log.Error("upload failed", logger.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, serverURL, path string, fields map[string]string,
	noWait bool, newPoller func(*client.Client) *client.Poller) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	// dimensions come from the header only; the server decodes the full image
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("read image header: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	fields["width"] = strconv.Itoa(cfg.Width)
	fields["height"] = strconv.Itoa(cfg.Height)

	c := client.New(serverURL, nil)
	lastPct := -10
	res, err := c.Upload(ctx, client.UploadRequest{
		Filename:    filepath.Base(path),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Body:        f,
		Size:        info.Size(),
		Fields:      fields,
	}, func(p client.Progress) {
		pct := int(p.Sent * 100 / max(p.Total, 1))
		if pct/10 == lastPct/10 {
			return
		}
		lastPct = pct
		log.Info("uploading",
			slog.Int("percent", pct),
			slog.String("rate", humanRate(p.BytesPerSecond)),
		)
	})
	if err != nil {
		return err
	}

	if res.UploadID == "" {
		log.Info("upload sent, ingestion likely complete")
		return nil
	}
	log.Info("upload accepted", slog.String("upload_id", res.UploadID))
	if noWait {
		return nil
	}

	started := time.Now()
	st, err := newPoller(c).Wait(ctx, res.UploadID, func(n client.Notification) {
		attrs := []any{slog.String("status", string(n.Status))}
		if n.Exhausted {
			attrs = append(attrs, slog.Bool("gave_up", true))
		}
		log.Info("job status", attrs...)
	})
	if err != nil {
		return err
	}
	if st != models.StatusCompleted {
		return fmt.Errorf("job %s finished as %s after %s", res.UploadID, st, time.Since(started).Round(time.Second))
	}
	return nil
}

func humanRate(bps float64) string {
	switch {
	case bps >= 1<<20:
		return fmt.Sprintf("%.1f MiB/s", bps/(1<<20))
	case bps >= 1<<10:
		return fmt.Sprintf("%.1f KiB/s", bps/(1<<10))
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}
