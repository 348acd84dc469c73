// Command ggstreamd composes a layered scene into a stream of video frames.
//
// Frames are written as raw RGBA to stdout (or a file) for an external
// encoder, as a PNG sequence, or discarded. The scene is persisted in a
// state directory and restored on start.
//
// Usage:
//
//	ggstreamd -config ggstreamd.toml -metrics :9090 | ffmpeg -f rawvideo -pix_fmt rgba -s 1280x720 -r 30 -i - out.mp4
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/ggstream"
	"github.com/gogpu/ggstream/asset"
	"github.com/gogpu/ggstream/cache"
	"github.com/gogpu/ggstream/config"
	"github.com/gogpu/ggstream/internal/parallel"
	"github.com/gogpu/ggstream/loop"
	"github.com/gogpu/ggstream/metrics"
	"github.com/gogpu/ggstream/render"
	"github.com/gogpu/ggstream/scene"
	"github.com/gogpu/ggstream/sink"
	"github.com/gogpu/ggstream/store"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to a TOML configuration file")
		demo        = flag.Bool("demo", false, "serve generated demo assets and seed a demo scene when the registry is empty")
		metricsAddr = flag.String("metrics", "", "address serving /metrics and /healthz (disabled when empty)")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "ggstreamd:", err)
			os.Exit(2)
		}
	}
	level, _ := cfg.LogLevel()

	// Stdout may carry frames; logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	ggstream.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *demo, *metricsAddr); err != nil {
		logger.Error("ggstreamd: exiting", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, demo bool, metricsAddr string) error {
	log := ggstream.Logger()

	st, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	reg, err := scene.New(ctx, scene.WithStore(st), scene.WithStateKey(cfg.Store.Key))
	if err != nil {
		return err
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.Warn("ggstreamd: closing registry", "err", err)
		}
	}()

	var src asset.Source = asset.NewDirSource(cfg.Assets.Dir)
	if demo {
		mem, err := demoAssets()
		if err != nil {
			return err
		}
		src = mem
	}
	assets := asset.NewLoader(src, asset.WithTTL(cfg.Cache.TTL))
	defer assets.Close()

	fonts, err := render.NewFonts()
	if err != nil {
		return err
	}
	renderers := render.NewSet(assets, fonts)

	out, err := openSink(cfg.Output)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.Warn("ggstreamd: closing sink", "err", err)
		}
	}()

	gauges := metrics.New()
	layers := cache.NewLayerCache(cfg.Cache.MaxSizeMB, cache.WithTTL(cfg.Cache.TTL))
	opts := []loop.Option{
		loop.WithSize(cfg.Frame.Width, cfg.Frame.Height),
		loop.WithTargetFPS(cfg.Frame.FPS),
		loop.WithBackground(cfg.BackgroundColor()),
		loop.WithCache(layers),
		loop.WithSink(out),
		loop.WithGauges(gauges),
		loop.WithAssets(assets),
	}
	if cfg.Workers.Count > 0 {
		pool, err := parallel.New(parallel.RendererFactory(renderers),
			parallel.WithSize(cfg.Workers.Count),
			parallel.WithTimeout(cfg.Workers.Timeout))
		if err != nil {
			return err
		}
		defer pool.Close()
		opts = append(opts, loop.WithPool(pool))
	}
	l, err := loop.New(reg, renderers, opts...)
	if err != nil {
		return err
	}

	if demo && reg.Len() == 0 {
		if err := seedDemo(reg, cfg.Frame.Width, cfg.Frame.Height); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.Run(ctx)
	})
	g.Go(func() error {
		return ignoreCanceled(cache.RunSweeper(ctx, cfg.Cache.SweepInterval, layers, assets))
	})
	if cfg.Assets.Watch && !demo {
		g.Go(func() error {
			if err := ignoreCanceled(assets.Watch(ctx)); err != nil {
				// Rendering works without the watcher; changes just wait for the TTL.
				log.Warn("ggstreamd: asset watch stopped", "err", err)
			}
			return nil
		})
	}
	sub := reg.Subscribe(256)
	g.Go(func() error {
		defer sub.Close()
		metrics.WatchLayers(ctx, reg, sub, gauges)
		return nil
	})
	g.Go(func() error {
		publishAssets(ctx, assets, gauges)
		return nil
	})
	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           newMux(l, gauges),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("ggstreamd: serving metrics", "addr", metricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdown)
		})
	}

	err = g.Wait()
	s := l.Stats()
	log.Info("ggstreamd: stopped", "frames", s.Frames, "dropped", s.Dropped, "renderErrors", s.RenderErrors)
	return err
}

func openStore(cfg config.Store) (store.Store, error) {
	if cfg.Dir == "" {
		return store.NewMemory(), nil
	}
	return store.NewFile(cfg.Dir)
}

func openSink(cfg config.Output) (sink.Sink, error) {
	switch cfg.Mode {
	case config.OutputRaw:
		if cfg.Path == "" || cfg.Path == "-" {
			return sink.NewRaw(nopCloser{os.Stdout}), nil
		}
		f, err := os.Create(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("output: %w", err)
		}
		return sink.NewRaw(f), nil
	case config.OutputPNG:
		return sink.NewPNG(cfg.Path)
	default:
		return sink.Discard{}, nil
	}
}

// publishAssets copies asset cache statistics to the gauges once a
// second until ctx is done.
func publishAssets(ctx context.Context, assets *asset.Loader, g *metrics.Gauges) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			metrics.PublishCache(g, "asset", assets.Stats())
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// nopCloser keeps stdout open when the raw sink closes.
type nopCloser struct{ io.Writer }
