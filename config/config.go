// Package config loads cchess settings from flags, CCHESS_* environment
// variables and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/brensch/cchess/executor/inference"
	"github.com/brensch/cchess/executor/mcts"
	"github.com/brensch/cchess/executor/selfplay"
	"github.com/brensch/cchess/game"
)

const EnvPrefix = "CCHESS"

type Search struct {
	CPuct           float32       `mapstructure:"c_puct"`
	NoiseEps        float32       `mapstructure:"noise_eps"`
	DirichletAlpha  float64       `mapstructure:"dirichlet_alpha"`
	VirtualLoss     int           `mapstructure:"virtual_loss"`
	Simulations     int           `mapstructure:"simulations"`
	Threads         int           `mapstructure:"search_threads"`
	Width           int           `mapstructure:"width"`
	Stripes         int           `mapstructure:"stripes"`
	TauDecayRate    float64       `mapstructure:"tau_decay_rate"`
	TauCutoff       int           `mapstructure:"tau_cutoff"`
	ResignThreshold float32       `mapstructure:"resign_threshold"`
	MinResignTurn   int           `mapstructure:"min_resign_turn"`
	LoopPolicy      string        `mapstructure:"loop_policy"`
	MaxTreeNodes    int           `mapstructure:"max_tree_nodes"`
	MemoryFraction  float64       `mapstructure:"memory_fraction"`
	ThinkTime       time.Duration `mapstructure:"think_time"`
	Seed            uint64        `mapstructure:"seed"`
	BatchLimit      int           `mapstructure:"batch_limit"`
}

type Play struct {
	Workers          int     `mapstructure:"workers"`
	MaxGameLength    int     `mapstructure:"max_game_length"`
	EnableResignRate float64 `mapstructure:"enable_resign_rate"`
	ShareTree        bool    `mapstructure:"share_tree"`
	ResetTreeEvery   int     `mapstructure:"reset_tree_every"`
	MaxGames         int64   `mapstructure:"max_games"`
	GamesPerFlush    int     `mapstructure:"games_per_flush"`
	OutDir           string  `mapstructure:"out_dir"`
	WrittenLog       string  `mapstructure:"written_log"`
	Verbose          bool    `mapstructure:"verbose"`
}

type Oracle struct {
	// Kind is onnx, remote or uniform.
	Kind           string        `mapstructure:"kind"`
	ModelPath      string        `mapstructure:"model_path"`
	Sessions       int           `mapstructure:"sessions"`
	DisableCUDA    bool          `mapstructure:"disable_cuda"`
	IntraOpThreads int           `mapstructure:"intra_op_threads"`
	RemoteURL      string        `mapstructure:"remote_url"`
	DialAttempts   uint          `mapstructure:"dial_attempts"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type Config struct {
	Search      Search `mapstructure:"search"`
	Play        Play   `mapstructure:"play"`
	Oracle      Oracle `mapstructure:"oracle"`
	Log         Log    `mapstructure:"log"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	Listen      string `mapstructure:"listen"`
	TUI         bool   `mapstructure:"tui"`
}

// Default mirrors the "normal" play profile.
func Default() Config {
	return Config{
		Search: Search{
			CPuct:           1.5,
			NoiseEps:        0.25,
			DirichletAlpha:  0.2,
			VirtualLoss:     3,
			Simulations:     800,
			Threads:         8,
			Width:           16,
			Stripes:         mcts.DefaultStripes,
			TauDecayRate:    0.98,
			ResignThreshold: -0.95,
			MinResignTurn:   40,
			LoopPolicy:      "zero",
			MemoryFraction:  0.25,
			BatchLimit:      inference.DefaultBatchLimit,
		},
		Play: Play{
			Workers:          4,
			MaxGameLength:    100,
			EnableResignRate: 0.5,
			ShareTree:        true,
			ResetTreeEvery:   5,
			GamesPerFlush:    50,
			OutDir:           "data/generated",
			WrittenLog:       "data/generated/written.log",
		},
		Oracle: Oracle{
			Kind:         "onnx",
			ModelPath:    "models/cchess_net.onnx",
			Sessions:     1,
			DialAttempts: 5,
			ReadTimeout:  30 * time.Second,
			PollInterval: inference.DefaultPollInterval,
		},
		Log:         Log{Level: "info"},
		MetricsAddr: ":9100",
		Listen:      ":8765",
	}
}

// Flags registers every setting on fs with its default.
func Flags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "optional YAML config file")

	fs.Float32("search.c_puct", d.Search.CPuct, "PUCT exploration constant")
	fs.Float32("search.noise_eps", d.Search.NoiseEps, "weight of root Dirichlet noise")
	fs.Float64("search.dirichlet_alpha", d.Search.DirichletAlpha, "Dirichlet concentration")
	fs.Int("search.virtual_loss", d.Search.VirtualLoss, "virtual loss per in-flight simulation")
	fs.Int("search.simulations", d.Search.Simulations, "root visit target per move")
	fs.Int("search.search_threads", d.Search.Threads, "search worker goroutines")
	fs.Int("search.width", d.Search.Width, "simulations in flight per chunk")
	fs.Int("search.stripes", d.Search.Stripes, "tree lock stripes")
	fs.Float64("search.tau_decay_rate", d.Search.TauDecayRate, "temperature decay per ply; 0 always plays the most visited move")
	fs.Int("search.tau_cutoff", d.Search.TauCutoff, "ply from which moves are no longer sampled; 0 disables")
	fs.Float32("search.resign_threshold", d.Search.ResignThreshold, "resign when every visited root edge scores below this")
	fs.Int("search.min_resign_turn", d.Search.MinResignTurn, "earliest ply at which resignation is considered")
	fs.String("search.loop_policy", d.Search.LoopPolicy, "repetition scoring: zero or check")
	fs.Int("search.max_tree_nodes", d.Search.MaxTreeNodes, "reset the tree past this many nodes; 0 derives a cap from memory_fraction")
	fs.Float64("search.memory_fraction", d.Search.MemoryFraction, "fraction of physical memory the tree may use")
	fs.Duration("search.think_time", d.Search.ThinkTime, "time limit per move; 0 is unlimited")
	fs.Uint64("search.seed", d.Search.Seed, "random seed; 0 picks one")
	fs.Int("search.batch_limit", d.Search.BatchLimit, "maximum oracle batch size")

	fs.Int("play.workers", d.Play.Workers, "concurrent self-play games")
	fs.Int("play.max_game_length", d.Play.MaxGameLength, "full moves before a game is drawn")
	fs.Float64("play.enable_resign_rate", d.Play.EnableResignRate, "fraction of games that allow resignation")
	fs.Bool("play.share_tree", d.Play.ShareTree, "both sides search one tree")
	fs.Int("play.reset_tree_every", d.Play.ResetTreeEvery, "games between tree resets; 0 never")
	fs.Int64("play.max_games", d.Play.MaxGames, "stop after this many games; 0 runs until interrupted")
	fs.Int("play.games_per_flush", d.Play.GamesPerFlush, "games per parquet batch")
	fs.String("play.out_dir", d.Play.OutDir, "directory for parquet batches")
	fs.String("play.written_log", d.Play.WrittenLog, "log of published games; empty disables")
	fs.Bool("play.verbose", d.Play.Verbose, "log every board at debug level")

	fs.String("oracle.kind", d.Oracle.Kind, "onnx, remote or uniform")
	fs.String("oracle.model_path", d.Oracle.ModelPath, "ONNX model file")
	fs.Int("oracle.sessions", d.Oracle.Sessions, "ONNX Runtime sessions")
	fs.Bool("oracle.disable_cuda", d.Oracle.DisableCUDA, "run ONNX Runtime on CPU only")
	fs.Int("oracle.intra_op_threads", d.Oracle.IntraOpThreads, "ONNX Runtime intra-op threads; 0 leaves the default")
	fs.String("oracle.remote_url", d.Oracle.RemoteURL, "websocket URL of a remote oracle")
	fs.Uint("oracle.dial_attempts", d.Oracle.DialAttempts, "remote oracle dial attempts")
	fs.Duration("oracle.read_timeout", d.Oracle.ReadTimeout, "remote oracle response timeout")
	fs.Duration("oracle.poll_interval", d.Oracle.PollInterval, "batcher idle poll interval")

	fs.String("log.level", d.Log.Level, "zerolog level")
	fs.Bool("log.pretty", d.Log.Pretty, "human readable console logs")
	fs.String("metrics_addr", d.MetricsAddr, "prometheus listen address; empty disables")
	fs.String("listen", d.Listen, "oracle server listen address")
	fs.Bool("tui", d.TUI, "show the live dashboard")
}

// NewFlagSet returns a flag set with every setting registered. Binaries add
// their own flags before calling LoadFlagSet.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	Flags(fs)
	return fs
}

// Load parses args and merges them with the environment and config file.
func Load(name string, args []string) (Config, error) {
	return LoadFlagSet(NewFlagSet(name), args)
}

func LoadFlagSet(fs *pflag.FlagSet, args []string) (Config, error) {
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if _, err := c.SearchConfig(); err != nil {
		errs = append(errs, err)
	}
	if c.Play.Workers <= 0 {
		errs = append(errs, fmt.Errorf("play.workers must be positive, got %d", c.Play.Workers))
	}
	if c.Play.EnableResignRate < 0 || c.Play.EnableResignRate > 1 {
		errs = append(errs, fmt.Errorf("play.enable_resign_rate must be in [0,1], got %v", c.Play.EnableResignRate))
	}
	switch c.Oracle.Kind {
	case "onnx":
		if c.Oracle.ModelPath == "" {
			errs = append(errs, errors.New("oracle.model_path is required for the onnx oracle"))
		}
	case "remote":
		if c.Oracle.RemoteURL == "" {
			errs = append(errs, errors.New("oracle.remote_url is required for the remote oracle"))
		}
	case "uniform":
	default:
		errs = append(errs, fmt.Errorf("unknown oracle.kind %q", c.Oracle.Kind))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// SearchConfig builds the searcher settings.
func (c Config) SearchConfig() (mcts.Config, error) {
	loop, err := mcts.ParseLoopPolicy(c.Search.LoopPolicy)
	if err != nil {
		return mcts.Config{}, err
	}
	s := c.Search
	cfg := mcts.Config{
		CPuct:           s.CPuct,
		NoiseEps:        s.NoiseEps,
		DirichletAlpha:  s.DirichletAlpha,
		VirtualLoss:     s.VirtualLoss,
		Simulations:     s.Simulations,
		Threads:         s.Threads,
		Width:           s.Width,
		Stripes:         s.Stripes,
		TauDecayRate:    s.TauDecayRate,
		TauCutoff:       s.TauCutoff,
		EnableResign:    true,
		ResignThreshold: s.ResignThreshold,
		MinResignTurn:   s.MinResignTurn,
		Loop:            loop,
		MaxTreeNodes:    s.MaxTreeNodes,
		MemoryFraction:  s.MemoryFraction,
		ThinkTime:       s.ThinkTime,
		Seed:            s.Seed,
		BatchLimit:      s.BatchLimit,
	}
	return cfg, cfg.Validate()
}

// WorkerConfig builds the self-play settings.
func (c Config) WorkerConfig() (selfplay.WorkerConfig, error) {
	search, err := c.SearchConfig()
	if err != nil {
		return selfplay.WorkerConfig{}, err
	}
	return selfplay.WorkerConfig{
		Game: selfplay.GameOptions{
			Search:           search,
			MaxGameLength:    c.Play.MaxGameLength,
			EnableResignRate: c.Play.EnableResignRate,
			Source:           "selfplay",
			ModelPath:        c.Oracle.ModelPath,
			Verbose:          c.Play.Verbose,
		},
		ShareTree:      c.Play.ShareTree,
		ResetTreeEvery: c.Play.ResetTreeEvery,
		MaxGames:       c.Play.MaxGames,
	}, nil
}

// Build constructs the configured oracle. The closer is nil when the oracle
// holds no resources.
func (o Oracle) Build() (inference.Oracle, io.Closer, error) {
	switch o.Kind {
	case "onnx":
		onnx := inference.OnnxConfig{IntraOpThreads: o.IntraOpThreads, DisableCUDA: o.DisableCUDA}
		if o.Sessions > 1 {
			pool, err := inference.NewOnnxPool(o.ModelPath, o.Sessions, onnx)
			if err != nil {
				return nil, nil, err
			}
			return pool, pool, nil
		}
		oracle, err := inference.NewOnnxOracle(o.ModelPath, onnx)
		if err != nil {
			return nil, nil, err
		}
		return oracle, oracle, nil
	case "remote":
		r := inference.NewRemoteOracle(inference.RemoteConfig{
			URL:          o.RemoteURL,
			ReadTimeout:  o.ReadTimeout,
			DialAttempts: o.DialAttempts,
		})
		return r, r, nil
	case "uniform":
		return inference.UniformOracle{}, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown oracle.kind %q", o.Kind)
}

// Batcher wraps oracle in a batcher sized by the search settings.
func (c Config) Batcher(oracle inference.Oracle) *inference.Batcher {
	return inference.NewBatcher(oracle, inference.BatcherConfig{
		Limit:        c.Search.BatchLimit,
		PollInterval: c.Oracle.PollInterval,
		PolicySize:   game.NumActions,
	})
}
