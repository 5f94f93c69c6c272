package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/pflag"

	"github.com/brensch/cchess/logging"
)

func main() {
	roots := pflag.StringSlice("dir", []string{"data/generated"}, "directories holding self-play parquet batches")
	level := pflag.String("log-level", "info", "zerolog level")
	pflag.Parse()

	if _, err := logging.Setup(os.Stderr, *level, false); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}

	db, err := openRows(*roots)
	if err != nil {
		log.Fatal().Err(err).Strs("dirs", *roots).Msg("open batches")
	}
	defer db.Close()

	sum, err := summarize(context.Background(), db)
	if err != nil {
		log.Fatal().Err(err).Msg("query batches")
	}

	fmt.Printf("games      %d\n", sum.Games)
	fmt.Printf("rows       %d\n", sum.Rows)
	fmt.Printf("avg plies  %.1f\n", sum.AvgPlies)
	fmt.Printf("red wins   %d\n", sum.RedWins)
	fmt.Printf("black wins %d\n", sum.BlackWins)
	fmt.Printf("draws      %d\n", sum.Draws)
	sources := lo.Keys(sum.BySource)
	sort.Strings(sources)
	for _, s := range sources {
		fmt.Printf("source %-12s %d games\n", s, sum.BySource[s])
	}
}
