package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"strconv"
	"time"

	"github.com/ghodss/yaml"
	"github.com/imdario/mergo"
)

// Duration reads either a Go duration string ("30s") or a number of
// nanoseconds.
type Duration time.Duration

// UnmarshalJSON ...
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("duration: %v", err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// MarshalJSON ...
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// SessionConfig ...
type SessionConfig struct {
	// Backend is "memory" or "redis".
	Backend string   `json:"backend"`
	TTL     Duration `json:"ttl"`
	// PruneInterval is how often the memory backend drops expired
	// sessions.
	PruneInterval Duration `json:"prune_interval"`
}

// RedisConfig ...
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
}

// KubernetesConfig ...
type KubernetesConfig struct {
	Namespace string `json:"namespace"`
	Image     string `json:"image"`
	AppLabel  string `json:"app_label"`
	Home      string `json:"home"`
	// CallbackAddress is host:port of this service as seen from pods.
	CallbackAddress string `json:"callback_address"`
}

// P2RankConfig ...
type P2RankConfig struct {
	Home string `json:"home"`
	// Runner is "local" or "kubernetes".
	Runner     string           `json:"runner"`
	Threads    int              `json:"threads"`
	Kubernetes KubernetesConfig `json:"kubernetes"`
}

// ViewerConfig ...
type ViewerConfig struct {
	MolstarJS  string `json:"molstar_js"`
	MolstarCSS string `json:"molstar_css"`
	// AllowPrivateFetch lets /snapshot fetch from loopback and
	// private network addresses.
	AllowPrivateFetch bool `json:"allow_private_fetch"`
}

// RCSBConfig ...
type RCSBConfig struct {
	DownloadURL string `json:"download_url"`
}

// Config ...
type Config struct {
	Listen                string        `json:"listen"`
	TmpDir                string        `json:"tmp_dir"`
	MultipartUploadMemory int64         `json:"multipart_upload_memory"`
	MaxFilesPerSession    int           `json:"max_files_per_session"`
	MaxSessions           int           `json:"max_sessions"`
	Workers               int           `json:"workers"`
	RetainJobs            int           `json:"retain_jobs"`
	WaitTimeout           Duration      `json:"wait_timeout"`
	Session               SessionConfig `json:"session"`
	Redis                 RedisConfig   `json:"redis"`
	P2Rank                P2RankConfig  `json:"p2rank"`
	Viewer                ViewerConfig  `json:"viewer"`
	RCSB                  RCSBConfig    `json:"rcsb"`
}

func defaultConfig() Config {
	return Config{
		Listen:                ":8090",
		MultipartUploadMemory: 32 * 1024 * 1024, // 32mb
		MaxFilesPerSession:    32,
		MaxSessions:           256,
		Workers:               2,
		RetainJobs:            512,
		WaitTimeout:           Duration(30 * time.Second),
		Session: SessionConfig{
			Backend:       "memory",
			TTL:           Duration(24 * time.Hour),
			PruneInterval: Duration(5 * time.Minute),
		},
		Redis: RedisConfig{
			Channel: "molsuite",
		},
		P2Rank: P2RankConfig{
			Runner: "local",
			Kubernetes: KubernetesConfig{
				Namespace:       "default",
				Image:           "thavlik/p2rank:latest",
				AppLabel:        "molsuite-p2rank",
				Home:            "/opt/p2rank",
				CallbackAddress: "molsuite:8090",
			},
		},
		Viewer: ViewerConfig{
			MolstarJS:  "https://cdn.jsdelivr.net/npm/molstar@latest/build/viewer/molstar.js",
			MolstarCSS: "https://cdn.jsdelivr.net/npm/molstar@latest/build/viewer/molstar.css",
		},
		RCSB: RCSBConfig{
			DownloadURL: "https://files.rcsb.org/download/%s.pdb",
		},
	}
}

// loadConfig layers the optional YAML file at path over the defaults,
// then applies environment overrides.
func loadConfig(path string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := Config{}
	if path != "" {
		body, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %v", err)
		}
		if err := yaml.Unmarshal(body, &cfg); err != nil {
			return nil, fmt.Errorf("yaml: %v", err)
		}
	}
	if err := mergo.Merge(&cfg, defaultConfig()); err != nil {
		return nil, fmt.Errorf("merge defaults: %v", err)
	}
	if v, ok := lookupEnv("REDIS_URI"); ok {
		cfg.Redis.Addr = v
	}
	if v, ok := lookupEnv("MOLSUITE_LISTEN"); ok {
		cfg.Listen = v
	}
	if v, ok := lookupEnv("P2RANK_HOME"); ok {
		cfg.P2Rank.Home = v
	}
	if v, ok := lookupEnv("MOLSUITE_TMPDIR"); ok {
		cfg.TmpDir = v
	}
	if v, ok := lookupEnv("MOLSUITE_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("MOLSUITE_WORKERS: %v", err)
		}
		cfg.Workers = n
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("session backend redis requires redis.addr or REDIS_URI")
		}
	default:
		return fmt.Errorf("unknown session backend '%s'", c.Session.Backend)
	}
	switch c.P2Rank.Runner {
	case "local", "kubernetes":
	default:
		return fmt.Errorf("unknown p2rank runner '%s'", c.P2Rank.Runner)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}
