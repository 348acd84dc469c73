// Package config loads the ggstreamd configuration file.
//
// The file is TOML. Every field is optional; missing fields keep the
// values of Default.
//
//	[frame]
//	width = 1280
//	height = 720
//	fps = 30
//	background = "#000000"
//
//	[cache]
//	ttl = "5m"
//	sweep_interval = "30s"
//	max_size_mb = 64
//
//	[workers]
//	count = 4
//	timeout = "2s"
//
//	[assets]
//	dir = "assets"
//	watch = true
//
//	[store]
//	dir = "state"
//
//	[output]
//	mode = "raw"   # raw, png or discard
//	path = "-"     # "-" is stdout for raw output
//
//	[log]
//	level = "info"
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gogpu/gg"

	"github.com/gogpu/ggstream/cache"
	"github.com/gogpu/ggstream/internal/parallel"
	"github.com/gogpu/ggstream/render"
	"github.com/gogpu/ggstream/scene"
)

// Output modes.
const (
	OutputRaw     = "raw"
	OutputPNG     = "png"
	OutputDiscard = "discard"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the daemon configuration.
type Config struct {
	Frame   Frame   `toml:"frame"`
	Cache   Cache   `toml:"cache"`
	Workers Workers `toml:"workers"`
	Assets  Assets  `toml:"assets"`
	Store   Store   `toml:"store"`
	Output  Output  `toml:"output"`
	Log     Log     `toml:"log"`
}

// Frame is the output frame geometry and rate.
type Frame struct {
	Width      int     `toml:"width"`
	Height     int     `toml:"height"`
	FPS        float64 `toml:"fps"`
	Background string  `toml:"background"`
}

// Cache configures the render and asset caches.
type Cache struct {
	TTL           time.Duration `toml:"ttl"`
	SweepInterval time.Duration `toml:"sweep_interval"`
	MaxSizeMB     int           `toml:"max_size_mb"`
}

// Workers configures the render worker pool. Count 0 renders on the
// loop goroutine.
type Workers struct {
	Count   int           `toml:"count"`
	Timeout time.Duration `toml:"timeout"`
}

// Assets configures where images are loaded from.
type Assets struct {
	Dir   string `toml:"dir"`
	Watch bool   `toml:"watch"`
}

// Store configures layer state persistence. An empty Dir keeps state in
// memory only.
type Store struct {
	Dir string `toml:"dir"`
	Key string `toml:"key"`
}

// Output configures the frame sink.
type Output struct {
	Mode string `toml:"mode"`
	Path string `toml:"path"`
}

// Log configures the daemon logger.
type Log struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Frame: Frame{
			Width:      1280,
			Height:     720,
			FPS:        30,
			Background: "#000000",
		},
		Cache: Cache{
			TTL:           cache.DefaultTTL,
			SweepInterval: cache.DefaultSweepInterval,
			MaxSizeMB:     cache.DefaultMaxSizeMB,
		},
		Workers: Workers{
			Count:   runtime.GOMAXPROCS(0),
			Timeout: parallel.DefaultTimeout,
		},
		Assets: Assets{Dir: "assets", Watch: true},
		Store:  Store{Key: scene.DefaultStateKey},
		Output: Output{Mode: OutputDiscard},
		Log:    Log{Level: "info"},
	}
}

// Load reads the file at path over Default and validates the result.
// Keys the configuration does not know are reported as errors.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := cfg.decode(string(data)); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Parse decodes TOML text over Default and validates the result.
func Parse(text string) (Config, error) {
	cfg := Default()
	if err := cfg.decode(text); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(text string) error {
	md, err := toml.Decode(text, c)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	return nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Frame.Width <= 0 || c.Frame.Height <= 0 {
		add("frame size %dx%d", c.Frame.Width, c.Frame.Height)
	}
	if c.Frame.FPS <= 0 || c.Frame.FPS > 240 {
		add("frame fps %v out of (0, 240]", c.Frame.FPS)
	}
	if _, err := render.ParseColor(c.Frame.Background); err != nil {
		add("frame background: %v", err)
	}
	if c.Cache.TTL < 0 {
		add("cache ttl %s", c.Cache.TTL)
	}
	if c.Cache.MaxSizeMB < 0 {
		add("cache max_size_mb %d", c.Cache.MaxSizeMB)
	}
	if c.Workers.Count < 0 {
		add("workers count %d", c.Workers.Count)
	}
	if c.Workers.Timeout <= 0 {
		add("workers timeout %s", c.Workers.Timeout)
	}
	if c.Store.Key == "" {
		add("store key is empty")
	}
	switch c.Output.Mode {
	case OutputRaw, OutputDiscard:
	case OutputPNG:
		if c.Output.Path == "" {
			add("output path is required for png output")
		}
	default:
		add("output mode %q", c.Output.Mode)
	}
	if _, err := c.LogLevel(); err != nil {
		add("log level: %v", err)
	}
	return errors.Join(errs...)
}

// LogLevel parses Log.Level.
func (c Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(c.Log.Level))
	return l, err
}

// BackgroundColor returns the parsed frame background, opaque black when
// the value does not parse.
func (c Config) BackgroundColor() gg.RGBA {
	col, err := render.ParseColor(c.Frame.Background)
	if err != nil {
		return gg.RGBA{A: 1}
	}
	return col
}
