package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/brensch/cchess/config"
	"github.com/brensch/cchess/executor/mcts"
	"github.com/brensch/cchess/game"
	"github.com/brensch/cchess/logging"
)

func main() {
	fs := config.NewFlagSet("analyze")
	placement := fs.String("placement", game.StartPlacement, "position to analyse, upper case for the side to move")
	ply := fs.Int("ply", 0, "half-moves already played")
	top := fs.Int("top", 8, "root moves to list")
	depth := fs.Int("depth", 12, "length of the reported best line")
	cfg, err := config.LoadFlagSet(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if _, err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Pretty); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}

	state, err := game.ParseState(*placement)
	if err != nil {
		log.Fatal().Err(err).Str("placement", *placement).Msg("bad position")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	oracle, closer, err := cfg.Oracle.Build()
	if err != nil {
		log.Fatal().Err(err).Msg("oracle")
	}
	if closer != nil {
		defer closer.Close()
	}

	search, err := cfg.SearchConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("search config")
	}
	// Engine play: no exploration noise, no sampling, never resign.
	search.NoiseEps = 0
	search.TauDecayRate = 0
	search.EnableResign = false
	search.OnProgress = func(p mcts.Progress) {
		fmt.Printf("  %6d sims | v=%+.3f | %s\n", p.Simulations, p.Value, formatLine(p.Line))
	}

	s, err := mcts.OpenWithOracle(ctx, mcts.NewTree(search.Stripes), oracle, search)
	if err != nil {
		log.Fatal().Err(err).Msg("open searcher")
	}
	defer s.Close()

	fmt.Printf("%s\n", state)
	d, err := s.SelectMove(ctx, state, *ply, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("search failed")
	}

	root, _ := s.Tree().Snapshot(state.Key())
	edges := lo.Filter(root.Settled(search.VirtualLoss).Edges, func(e mcts.EdgeView, _ int) bool { return e.N > 0 })
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].N > edges[j].N })
	if len(edges) > *top {
		edges = edges[:*top]
	}
	fmt.Println()
	for _, e := range edges {
		fmt.Printf("  %s  N=%-6d Q=%+.3f P=%.3f\n", e.Move, e.N, e.Q, e.P)
	}

	line, _ := s.PrincipalLine(state, *depth)
	fmt.Printf("\nbest %s  value %+.3f  after %d simulations\n", d.Move, d.Value, d.Simulations)
	fmt.Printf("line %s\n", formatLine(line))
}

func formatLine(line []game.Move) string {
	return strings.Join(lo.Map(line, func(m game.Move, _ int) string { return m.String() }), " ")
}
