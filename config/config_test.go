package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/brensch/cchess/executor/mcts"
)

func TestLoad_Defaults(t *testing.T) {
	is := is.New(t)
	cfg, err := Load("test", nil)
	is.NoErr(err)
	is.Equal(cfg, Default())

	search, err := cfg.SearchConfig()
	is.NoErr(err)
	is.Equal(search.Simulations, 800)
	is.Equal(search.CPuct, float32(1.5))
	is.Equal(search.Loop, mcts.LoopPolicy(mcts.ZeroLoop{}))
}

func TestLoad_Precedence(t *testing.T) {
	is := is.New(t)
	path := filepath.Join(t.TempDir(), "cchess.yaml")
	yaml := "search:\n  simulations: 100\n  width: 4\n  loop_policy: check\nplay:\n  workers: 2\n"
	is.NoErr(os.WriteFile(path, []byte(yaml), 0o644))

	t.Setenv("CCHESS_SEARCH_WIDTH", "8")
	t.Setenv("CCHESS_SEARCH_THINK_TIME", "2s")

	cfg, err := Load("test", []string{"--config", path, "--play.workers=3", "--oracle.kind=uniform"})
	is.NoErr(err)
	is.Equal(cfg.Search.Simulations, 100)
	// The environment overrides the file and flags override both.
	is.Equal(cfg.Search.Width, 8)
	is.Equal(cfg.Play.Workers, 3)
	is.Equal(cfg.Search.ThinkTime, 2*time.Second)
	is.Equal(cfg.Oracle.Kind, "uniform")

	search, err := cfg.SearchConfig()
	is.NoErr(err)
	is.Equal(search.Loop, mcts.LoopPolicy(mcts.CheckLoop{}))

	wc, err := cfg.WorkerConfig()
	is.NoErr(err)
	is.Equal(wc.Game.MaxGameLength, 100)
	is.True(wc.ShareTree)
}

func TestValidate(t *testing.T) {
	is := is.New(t)
	cfg := Default()
	cfg.Play.Workers = 0
	cfg.Oracle.Kind = "gpu"
	cfg.Search.LoopPolicy = "draw"
	is.True(cfg.Validate() != nil)

	cfg = Default()
	cfg.Oracle.Kind = "remote"
	// remote_url is missing.
	is.True(cfg.Validate() != nil)
	cfg.Oracle.RemoteURL = "ws://localhost:8765/predict"
	is.NoErr(cfg.Validate())
}

func TestOracle_BuildUniform(t *testing.T) {
	is := is.New(t)
	cfg := Default()
	cfg.Oracle.Kind = "uniform"
	oracle, closer, err := cfg.Oracle.Build()
	is.NoErr(err)
	is.True(closer == nil)

	b := cfg.Batcher(oracle)
	is.True(b != nil)

	cfg.Oracle.Kind = "tpu"
	_, _, err = cfg.Oracle.Build()
	is.True(err != nil)
}
