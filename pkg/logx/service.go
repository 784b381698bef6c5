package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Service owns the log sinks and lets the level be re-applied at runtime
// (config hot reload). Loggers derived from it stay live across SetLevel.
type Service struct {
	mu   sync.RWMutex
	root zerolog.Logger
	file *os.File
}

func NewService(cfg Config) (*Service, error) {
	zerolog.TimeFieldFormat = consoleTimeFormat
	zerolog.ErrorFieldName = "err"

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat},
	}

	s := &Service{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("log file dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		s.file = f
		writers = append(writers, f)
	}

	out := zerolog.MultiLevelWriter(writers...)
	s.root = zerolog.New(out).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	return s, nil
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetLevel re-applies the minimum level. Unknown strings keep the current level.
func (s *Service) SetLevel(level string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = s.root.Level(parseLevel(level, s.root.GetLevel()))
}

func (s *Service) current() zerolog.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

func (s *Service) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
