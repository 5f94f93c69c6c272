package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/brensch/cchess/config"
	"github.com/brensch/cchess/executor/inference"
	"github.com/brensch/cchess/executor/selfplay"
	"github.com/brensch/cchess/logging"
	"github.com/brensch/cchess/store"
)

var totalMoves atomic.Int64
var totalGames atomic.Int64

type GameUpdate struct {
	Record selfplay.GameRecord
}

type model struct {
	gamesPlayed   int
	totalExamples int
	moves         int64
	startTime     time.Time
	recentGames   []string
	updates       chan GameUpdate
	stats         func() inference.RuntimeStats
	batch         inference.RuntimeStats
}

func initialModel(updates chan GameUpdate, stats func() inference.RuntimeStats) model {
	return model{
		startTime: time.Now(),
		updates:   updates,
		stats:     stats,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*250, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func waitForUpdate(updates chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		m.moves = totalMoves.Load()
		m.batch = m.stats()
		return m, tickCmd()
	case GameUpdate:
		m.gamesPlayed++
		m.totalExamples += len(msg.Record.Rows)
		line := fmt.Sprintf("%s: %s by %s after %d plies", msg.Record.ID[:8], msg.Record.Result, msg.Record.Reason, len(msg.Record.Moves))
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m model) View() string {
	duration := time.Since(m.startTime)
	gamesPerSec := float64(m.gamesPlayed) / duration.Seconds()
	movesPerSec := float64(m.moves) / duration.Seconds()
	if duration.Seconds() < 1 {
		gamesPerSec = 0
		movesPerSec = 0
	}

	s := fmt.Sprintf("Games Played:   %d\n", m.gamesPlayed)
	s += fmt.Sprintf("Total Examples: %d\n", m.totalExamples)
	s += fmt.Sprintf("Total Moves:    %d\n", m.moves)
	s += fmt.Sprintf("Duration:       %s\n", duration.Round(time.Second))
	s += fmt.Sprintf("Games/Sec:      %.3f\n", gamesPerSec)
	s += fmt.Sprintf("Moves/Sec:      %.2f\n", movesPerSec)
	s += fmt.Sprintf("Batch avg=%.1f last=%d queue=%d run avg=%.2fms\n\n", m.batch.AvgBatchSize, m.batch.LastBatchSize, m.batch.QueueLen, m.batch.AvgRunMs)

	s += "Recent Games:\n"
	for _, g := range m.recentGames {
		s += g + "\n"
	}

	s += "\nPress q to quit.\n"
	return s
}

func main() {
	cfg, err := config.Load("executor", os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	if cfg.TUI {
		// The dashboard owns the terminal.
		_, closer, err := logging.ToFile("executor.log", cfg.Log.Level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file: %v\n", err)
			os.Exit(1)
		}
		defer closer.Close()
	} else if _, err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Pretty); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()
	ctx = log.Logger.WithContext(ctx)

	if err := run(ctx, cancel, cfg); err != nil {
		log.Fatal().Err(err).Msg("self-play failed")
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg config.Config) error {
	if cfg.Oracle.Kind == "onnx" {
		if _, err := os.Stat(cfg.Oracle.ModelPath); err != nil {
			return fmt.Errorf("model file %s: %w", cfg.Oracle.ModelPath, err)
		}
	}
	oracle, closer, err := cfg.Oracle.Build()
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	batcher := cfg.Batcher(oracle)
	batcher.Start(ctx)
	defer batcher.Stop()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	var written *store.WrittenLog
	if cfg.Play.WrittenLog != "" {
		written, err = store.OpenWrittenLog(cfg.Play.WrittenLog)
		if err != nil {
			return err
		}
		defer written.Close()
		log.Info().Int("games", written.Count()).Msg("games already on disk")
	}
	writer := selfplay.NewWriter(cfg.Play.OutDir, cfg.Play.GamesPerFlush, written, log.Logger)

	wc, err := cfg.WorkerConfig()
	if err != nil {
		return err
	}
	wc.Game.OnPly = func() { totalMoves.Add(1) }

	updates := make(chan GameUpdate, cfg.Play.Workers)
	sink := func(rec selfplay.GameRecord) error {
		totalGames.Add(1)
		if err := writer.Add(rec); err != nil {
			return err
		}
		// Never block a worker on a slow dashboard.
		select {
		case updates <- GameUpdate{Record: rec}:
		default:
		}
		return nil
	}

	log.Info().
		Int("workers", cfg.Play.Workers).
		Int("simulations", cfg.Search.Simulations).
		Str("oracle", cfg.Oracle.Kind).
		Msg("starting self-play")

	done := make(chan error, 1)
	go func() {
		done <- selfplay.RunWorkers(ctx, cfg.Play.Workers, batcher, wc, sink)
	}()

	var runErr error
	if cfg.TUI {
		p := tea.NewProgram(initialModel(updates, batcher.Stats), tea.WithAltScreen(), tea.WithContext(ctx))
		finished := make(chan error, 1)
		go func() {
			finished <- <-done
			p.Quit()
		}()
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			log.Error().Err(err).Msg("dashboard stopped")
		}
		cancel()
		runErr = <-finished
	} else {
		runErr = reportUntilDone(ctx, updates, done, batcher)
	}

	if err := writer.Close(); err != nil {
		return err
	}
	log.Info().Int64("games", totalGames.Load()).Msg("shutdown complete: final parquet flush done")
	return runErr
}

func reportUntilDone(ctx context.Context, updates <-chan GameUpdate, done <-chan error, batcher *inference.Batcher) error {
	startTime := time.Now()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	logger := zerolog.Ctx(ctx)
	for {
		select {
		case err := <-done:
			return err
		case u := <-updates:
			logger.Debug().
				Str("game", u.Record.ID).
				Str("result", u.Record.Result.String()).
				Int("rows", len(u.Record.Rows)).
				Msg("game written")
		case <-ticker.C:
			secs := time.Since(startTime).Seconds()
			st := batcher.Stats()
			logger.Info().
				Float64("moves_per_sec", float64(totalMoves.Load())/secs).
				Int64("games", totalGames.Load()).
				Float64("batch_avg", st.AvgBatchSize).
				Int64("batch_last", st.LastBatchSize).
				Int("queue", st.QueueLen).
				Float64("run_avg_ms", st.AvgRunMs).
				Msg("stats")
		}
	}
}
