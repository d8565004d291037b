package recognizer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

type staticSource struct {
	name   string
	plates []string
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Run(ctx context.Context, emit func(parking.PlateRead)) error {
	for _, p := range s.plates {
		emit(parking.PlateRead{Plate: p})
	}
	return nil
}

type recordingProcessor struct {
	mu    sync.Mutex
	reads []parking.PlateRead
}

func (p *recordingProcessor) ProcessPlateRead(_ context.Context, read parking.PlateRead) (*parking.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads = append(p.reads, read)
	if read.Plate == "" {
		return nil, errors.New("empty plate")
	}
	return &parking.Decision{Plate: read.Plate}, nil
}

func TestRunnerFansInSources(t *testing.T) {
	proc := &recordingProcessor{}
	runner := NewRunner(proc, zerolog.Nop(),
		staticSource{name: "alpr", plates: []string{"MH04AB1234", ""}},
		staticSource{name: "onvif", plates: []string{"KA01AB0001"}},
	)
	if runner.Sources() != 2 {
		t.Fatalf("Sources() = %d, want 2", runner.Sources())
	}

	runner.Run(context.Background())

	if len(proc.reads) != 3 {
		t.Fatalf("processed = %d, want 3", len(proc.reads))
	}
	bySource := map[string]int{}
	for _, r := range proc.reads {
		bySource[r.Source]++
	}
	if bySource["alpr"] != 2 || bySource["onvif"] != 1 {
		t.Errorf("reads by source = %v", bySource)
	}
}
