package recognizer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

// Source produces plate reads until ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, emit func(parking.PlateRead)) error
}

type PlateProcessor interface {
	ProcessPlateRead(ctx context.Context, read parking.PlateRead) (*parking.Decision, error)
}

// Runner fans reads from all configured sources into the gate flow.
type Runner struct {
	processor PlateProcessor
	sources   []Source
	log       zerolog.Logger
}

func NewRunner(processor PlateProcessor, log zerolog.Logger, sources ...Source) *Runner {
	return &Runner{processor: processor, sources: sources, log: log}
}

func (r *Runner) Sources() int {
	return len(r.sources)
}

// Run blocks until ctx is done and every source has returned.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, src := range r.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			log := r.log.With().Str("source", src.Name()).Logger()
			log.Info().Msg("recognizer source started")

			err := src.Run(ctx, func(read parking.PlateRead) {
				if read.Source == "" {
					read.Source = src.Name()
				}
				if _, err := r.processor.ProcessPlateRead(ctx, read); err != nil && ctx.Err() == nil {
					log.Warn().Err(err).Str("plate", read.Plate).Msg("plate read rejected")
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("recognizer source stopped")
				return
			}
			log.Info().Msg("recognizer source stopped")
		}(src)
	}
	wg.Wait()
}

func newRestartBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	return b
}

// sleep returns false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
