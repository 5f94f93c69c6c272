package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// WrittenLog is an append-only list of published batch files and the games
// they hold, one "<game_id>\t<file>" line per game. It lets a restarted
// writer report how many games are already on disk.
type WrittenLog struct {
	mu    sync.RWMutex
	file  *os.File
	games map[string]string
}

func OpenWrittenLog(path string) (*WrittenLog, error) {
	if path == "" {
		return nil, fmt.Errorf("log path is required")
	}

	games := make(map[string]string)
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			// A torn final line from a crash is skipped.
			id, file, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "\t")
			if !ok || id == "" {
				continue
			}
			games[id] = file
		}
		_ = f.Close()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &WrittenLog{file: file, games: games}, nil
}

func (l *WrittenLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// File returns the batch file holding gameID.
func (l *WrittenLog) File(gameID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.games[gameID]
	return f, ok
}

func (l *WrittenLog) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.games)
}

// Record appends the games of one published file and syncs once.
func (l *WrittenLog) Record(file string, gameIDs []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("log file is closed")
	}

	var b strings.Builder
	for _, id := range gameIDs {
		if id == "" {
			continue
		}
		if _, ok := l.games[id]; ok {
			continue
		}
		fmt.Fprintf(&b, "%s\t%s\n", id, file)
		l.games[id] = file
	}
	if b.Len() == 0 {
		return nil
	}
	if _, err := l.file.WriteString(b.String()); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}
	return nil
}
