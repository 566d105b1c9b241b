package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SLIDEPDF_"

// Config is the service configuration. Values come from defaults, then the
// optional YAML file named by SLIDEPDF_CONFIG, then SLIDEPDF_* variables.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	WindowMinutes float64 `yaml:"window_minutes"`
	SampleStride  int     `yaml:"sample_stride"`
	Threshold     float64 `yaml:"threshold"`
	FlushTail     bool    `yaml:"flush_tail"`
	MaxPages      int     `yaml:"max_pages"`
	RenderWidth   int     `yaml:"render_width"`
	Branding      string  `yaml:"branding"`
	HWAccel       string  `yaml:"hwaccel"`

	MaxTotal     int `yaml:"max_total"`
	MaxPerUser   int `yaml:"max_per_user"`
	WorkerCount  int `yaml:"worker_count"`
	EventBacklog int `yaml:"event_backlog"`

	// TierCeilings maps tier name to the longest accepted video, in minutes.
	TierCeilings map[string]float64 `yaml:"tier_ceilings"`
	DefaultTier  string             `yaml:"default_tier"`

	DeliveryRetries      int     `yaml:"delivery_retries"`
	DeliveryIntervalSecs float64 `yaml:"delivery_interval_seconds"`
	DeliveryTimeoutSecs  float64 `yaml:"delivery_timeout_seconds"`
	DeliveryURL          string  `yaml:"delivery_url"`
	NotifyURL            string  `yaml:"notify_url"`

	ScratchDir   string `yaml:"scratch_dir"`
	MinFreeBytes uint64 `yaml:"min_free_bytes"`

	FFmpegBinary  string `yaml:"ffmpeg_binary"`
	FFprobeBinary string `yaml:"ffprobe_binary"`
	YTDLPBinary   string `yaml:"ytdlp_binary"`
	CookiesFile   string `yaml:"cookies_file"`
	FetchFormat   string `yaml:"fetch_format"`
	AllowLocal    bool   `yaml:"allow_local"`
}

func Default() Config {
	return Config{
		ListenAddr:    ":8080",
		LogLevel:      "info",
		LogFormat:     "json",
		WindowMinutes: 30,
		SampleStride:  60,
		Threshold:     0.8,
		MaxPages:      5000,
		RenderWidth:   1280,
		Branding:      "Created by @youpdf_bot",
		MaxTotal:      10,
		MaxPerUser:    1,
		EventBacklog:  64,
		TierCeilings: map[string]float64{
			"standard": 90,
			"premium":  240,
		},
		DefaultTier:          "standard",
		DeliveryRetries:      5,
		DeliveryIntervalSecs: 2,
		DeliveryTimeoutSecs:  120,
		FFmpegBinary:         "ffmpeg",
		FFprobeBinary:        "ffprobe",
		YTDLPBinary:          "yt-dlp",
	}
}

// Load reads .env files (missing files are ignored), then the YAML file, then
// the environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Default()
	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(envPrefix + key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(envPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("LISTEN_ADDR", &c.ListenAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	float("WINDOW_MINUTES", &c.WindowMinutes)
	num("SAMPLE_STRIDE", &c.SampleStride)
	float("THRESHOLD", &c.Threshold)
	flag("FLUSH_TAIL", &c.FlushTail)
	num("MAX_PAGES", &c.MaxPages)
	num("RENDER_WIDTH", &c.RenderWidth)
	str("BRANDING", &c.Branding)
	str("HWACCEL", &c.HWAccel)
	num("MAX_TOTAL", &c.MaxTotal)
	num("MAX_PER_USER", &c.MaxPerUser)
	num("WORKER_COUNT", &c.WorkerCount)
	num("EVENT_BACKLOG", &c.EventBacklog)
	str("DEFAULT_TIER", &c.DefaultTier)
	num("DELIVERY_RETRIES", &c.DeliveryRetries)
	float("DELIVERY_INTERVAL_SECONDS", &c.DeliveryIntervalSecs)
	float("DELIVERY_TIMEOUT_SECONDS", &c.DeliveryTimeoutSecs)
	str("DELIVERY_URL", &c.DeliveryURL)
	str("NOTIFY_URL", &c.NotifyURL)
	str("SCRATCH_DIR", &c.ScratchDir)
	str("FFMPEG_BINARY", &c.FFmpegBinary)
	str("FFPROBE_BINARY", &c.FFprobeBinary)
	str("YTDLP_BINARY", &c.YTDLPBinary)
	str("COOKIES_FILE", &c.CookiesFile)
	str("FETCH_FORMAT", &c.FetchFormat)
	flag("ALLOW_LOCAL", &c.AllowLocal)

	if v := os.Getenv(envPrefix + "MIN_FREE_BYTES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMIN_FREE_BYTES: %w", envPrefix, err))
		} else {
			c.MinFreeBytes = n
		}
	}

	// SLIDEPDF_TIER_CEILINGS=standard:90,premium:240
	if v := os.Getenv(envPrefix + "TIER_CEILINGS"); v != "" {
		ceilings, err := parseCeilings(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTIER_CEILINGS: %w", envPrefix, err))
		} else {
			c.TierCeilings = ceilings
		}
	}

	return errors.Join(errs...)
}

func parseCeilings(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, minutes, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("expected tier:minutes, got %q", part)
		}
		m, err := strconv.ParseFloat(strings.TrimSpace(minutes), 64)
		if err != nil {
			return nil, fmt.Errorf("tier %s: %w", name, err)
		}
		out[strings.TrimSpace(name)] = m
	}
	return out, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.WindowMinutes <= 0 {
		errs = append(errs, errors.New("window_minutes must be positive"))
	}
	if c.SampleStride < 1 {
		errs = append(errs, errors.New("sample_stride must be at least 1"))
	}
	if c.Threshold < -1 || c.Threshold > 1 {
		errs = append(errs, errors.New("threshold must be in [-1, 1]"))
	}
	if c.MaxTotal < 1 || c.MaxPerUser < 1 {
		errs = append(errs, errors.New("max_total and max_per_user must be at least 1"))
	}
	if c.MaxPages < 0 {
		errs = append(errs, errors.New("max_pages must not be negative"))
	}
	if c.DeliveryRetries < 0 {
		errs = append(errs, errors.New("delivery_retries must not be negative"))
	}
	if len(c.TierCeilings) == 0 {
		errs = append(errs, errors.New("at least one tier ceiling is required"))
	}
	for tier, minutes := range c.TierCeilings {
		if minutes <= 0 {
			errs = append(errs, fmt.Errorf("tier %s: ceiling must be positive", tier))
		}
	}
	if _, ok := c.TierCeilings[c.DefaultTier]; !ok {
		errs = append(errs, fmt.Errorf("default tier %q has no ceiling", c.DefaultTier))
	}
	if c.DeliveryURL == "" {
		errs = append(errs, errors.New("delivery_url is required"))
	}
	return errors.Join(errs...)
}
