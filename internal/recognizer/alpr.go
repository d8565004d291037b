package recognizer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

// stable run resets the restart backoff
const alprStableRun = time.Minute

type alprResponse struct {
	Version        float32      `json:"version"`
	DataType       string       `json:"data_type"`
	EpochTime      float64      `json:"epoch_time"`
	ProcessingTime float64      `json:"processing_time_ms"`
	Results        []alprResult `json:"results"`
}

type alprResult struct {
	Plate           string  `json:"plate"`
	Confidence      float64 `json:"confidence"`
	MatchesTemplate int     `json:"matches_template"`
	Region          string  `json:"region"`
}

type ALPRConfig struct {
	Command       string
	Stream        string
	Country       string
	MinConfidence float64
	CameraID      string
}

// ALPRSource runs an OpenALPR-compatible CLI against a video stream and
// reads its JSON output line by line.
type ALPRSource struct {
	cfg ALPRConfig
	log zerolog.Logger
}

func NewALPRSource(cfg ALPRConfig, log zerolog.Logger) *ALPRSource {
	if cfg.Country == "" {
		cfg.Country = "in"
	}
	return &ALPRSource{cfg: cfg, log: log}
}

func (s *ALPRSource) Name() string { return "alpr" }

func (s *ALPRSource) args() []string {
	return []string{"-j", "-n", "1", "-c", s.cfg.Country, s.cfg.Stream}
}

func (s *ALPRSource) Run(ctx context.Context, emit func(parking.PlateRead)) error {
	b := newRestartBackOff()
	for {
		started := time.Now()
		err := s.runOnce(ctx, emit)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > alprStableRun {
			b.Reset()
		}
		wait := b.NextBackOff()
		s.log.Warn().Err(err).Dur("restart_in", wait).Msg("alpr process exited")
		if !sleep(ctx, wait) {
			return ctx.Err()
		}
	}
}

func (s *ALPRSource) runOnce(ctx context.Context, emit func(parking.PlateRead)) error {
	cmd := exec.CommandContext(ctx, s.cfg.Command, s.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("alpr stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start alpr: %w", err)
	}

	if err := s.consume(stdout, emit); err != nil {
		s.log.Warn().Err(err).Msg("alpr output read failed")
	}
	return cmd.Wait()
}

func (s *ALPRSource) consume(r io.Reader, emit func(parking.PlateRead)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		reads, err := parseALPRLine(scanner.Bytes(), s.cfg.MinConfidence, s.cfg.CameraID)
		if err != nil {
			s.log.Debug().Err(err).Msg("skipping non-json alpr output")
			continue
		}
		for _, read := range reads {
			emit(read)
		}
	}
	return scanner.Err()
}

// parseALPRLine turns one JSON frame into plate reads, dropping results under minConfidence.
func parseALPRLine(line []byte, minConfidence float64, cameraID string) ([]parking.PlateRead, error) {
	trimmed := strings.TrimSpace(string(line))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, fmt.Errorf("not a json frame")
	}

	var resp alprResponse
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return nil, err
	}

	at := time.Time{}
	if resp.EpochTime > 0 {
		at = time.UnixMilli(int64(resp.EpochTime)).UTC()
	}

	reads := make([]parking.PlateRead, 0, len(resp.Results))
	for _, res := range resp.Results {
		if res.Plate == "" || res.Confidence < minConfidence {
			continue
		}
		reads = append(reads, parking.PlateRead{
			CameraID:   cameraID,
			Source:     "alpr",
			Plate:      res.Plate,
			Confidence: res.Confidence,
			Direction:  parking.DirectionUnknown,
			EventTime:  at,
			RawPayload: map[string]interface{}{
				"region":           res.Region,
				"matches_template": res.MatchesTemplate,
				"processing_ms":    resp.ProcessingTime,
			},
		})
	}
	return reads, nil
}
