package capacity

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// LogSink only records and logs the desired count. Used for dry runs.
type LogSink struct {
	mu      sync.Mutex
	current int
}

func NewLogSink(initial int) *LogSink {
	return &LogSink{current: initial}
}

func (s *LogSink) Current(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *LogSink) Apply(_ context.Context, desired int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == desired {
		return nil
	}
	log.Info().Int("previous", s.current).Int("desired", desired).Msg("DryRun: would scale fleet")
	s.current = desired
	return nil
}
