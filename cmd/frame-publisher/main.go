// Package main implements frame-publisher, a test and demo tool that
// announces a frame source on the bus and publishes JPEG files to it in a
// loop. Point a running web video server at the same NATS cluster to view
// the stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellwills/web-video-server/bus"
	"github.com/mitchellwills/web-video-server/natsclient"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Publisher failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		natsURL  = flag.String("nats-url", "nats://localhost:4222", "NATS server URL")
		topic    = flag.String("topic", "/cam1/image_raw", "Topic to publish frames on")
		dir      = flag.String("dir", ".", "Directory of JPEG files to publish")
		interval = flag.Duration("interval", 100*time.Millisecond, "Delay between frames")
		announce = flag.Bool("announce-info", true, "Also announce a paired camera_info metadata topic")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	frames, err := loadFrames(*dir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no .jpg or .jpeg files in %s", *dir)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := natsclient.NewClient(*natsURL,
		natsclient.WithLogger(logger),
		natsclient.WithName("frame-publisher"))
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = client.Close(context.Background()) }()

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return err
	}

	frameBus := bus.NewNATSBus(client, bus.NATSBusConfig{Logger: logger})

	if err := frameBus.Announce(ctx, bus.FrameSource{Name: *topic, Kind: bus.KindImageFrame}); err != nil {
		return fmt.Errorf("announce %s: %w", *topic, err)
	}
	if *announce {
		infoTopic := infoTopicFor(*topic)
		if err := frameBus.Announce(ctx, bus.FrameSource{Name: infoTopic, Kind: bus.KindSourceMetadata}); err != nil {
			return fmt.Errorf("announce %s: %w", infoTopic, err)
		}
	}

	logger.Info("Publishing frames",
		"topic", *topic, "frames", len(frames), "interval", interval.String())

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			logger.Info("Stopping")
			return nil
		case <-ticker.C:
			data := frames[i%len(frames)]
			if err := frameBus.PublishFrame(ctx, *topic, data); err != nil {
				logger.Warn("Publish failed", "error", err)
			}
		}
	}
}

// infoTopicFor derives the metadata topic paired with a data topic, e.g.
// /cam1/image_raw -> /cam1/camera_info
func infoTopicFor(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 {
		return topic + "/camera_info"
	}
	return topic[:idx+1] + "camera_info"
}

func loadFrames(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	frames := make([][]byte, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", name, err)
		}
		frames = append(frames, data)
	}
	return frames, nil
}
