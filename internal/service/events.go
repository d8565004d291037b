package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"parking-service/internal/domain/parking"
	"parking-service/internal/repository"
	"parking-service/internal/utils"
)

type EventInfo struct {
	ID              string                 `json:"id"`
	CameraID        string                 `json:"camera_id"`
	Source          *string                `json:"source,omitempty"`
	RawPlate        string                 `json:"raw_plate"`
	NormalizedPlate string                 `json:"normalized_plate"`
	Confidence      *float64               `json:"confidence,omitempty"`
	Direction       *string                `json:"direction,omitempty"`
	Decision        string                 `json:"decision"`
	SlotNumber      *int                   `json:"slot_number,omitempty"`
	OwnerName       *string                `json:"owner_name,omitempty"`
	SnapshotURL     *string                `json:"snapshot_url,omitempty"`
	RawPayload      map[string]interface{} `json:"raw_payload,omitempty"`
	EventTime       time.Time              `json:"event_time"`
}

type EventQuery struct {
	Plate    *string
	Decision *string
	From     *string
	To       *string
	Limit    int
	Offset   int
}

func (s *ParkingService) FindEvents(ctx context.Context, q EventQuery) ([]EventInfo, error) {
	filter := parking.EventFilter{Limit: q.Limit, Offset: q.Offset}

	if q.Plate != nil {
		normalized := utils.NormalizePlate(*q.Plate)
		if normalized != "" {
			filter.Plate = &normalized
		}
	}
	if q.Decision != nil && *q.Decision != "" {
		kind := parking.DecisionKind(*q.Decision)
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, *q.Decision)
		}
		filter.Decision = &kind
	}
	if q.From != nil && *q.From != "" {
		t, err := time.Parse(time.RFC3339, *q.From)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid from time format", ErrInvalidInput)
		}
		filter.From = &t
	}
	if q.To != nil && *q.To != "" {
		t, err := time.Parse(time.RFC3339, *q.To)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid to time format", ErrInvalidInput)
		}
		filter.To = &t
	}

	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	events, err := s.repo.FindEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}

	result := make([]EventInfo, 0, len(events))
	for _, e := range events {
		info := EventInfo{
			ID:              e.ID.String(),
			CameraID:        e.CameraID,
			Source:          e.Source,
			RawPlate:        e.RawPlate,
			NormalizedPlate: e.NormalizedPlate,
			Confidence:      e.Confidence,
			Direction:       e.Direction,
			Decision:        e.Decision,
			SlotNumber:      e.SlotNumber,
			OwnerName:       e.OwnerName,
			SnapshotURL:     e.SnapshotURL,
			EventTime:       e.EventTime,
		}
		if len(e.RawPayload) > 0 {
			var raw map[string]interface{}
			if err := json.Unmarshal(e.RawPayload, &raw); err == nil {
				info.RawPayload = raw
			}
		}
		result = append(result, info)
	}

	return result, nil
}

// AttachSnapshot stores the picture URL on an already persisted gate event.
func (s *ParkingService) AttachSnapshot(ctx context.Context, eventID uuid.UUID, url string) error {
	if url == "" {
		return fmt.Errorf("%w: snapshot url is required", ErrInvalidInput)
	}
	err := s.repo.SetEventSnapshot(ctx, eventID, url)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	return err
}

// CleanupOldEvents удаляет события старше указанного количества дней
func (s *ParkingService) CleanupOldEvents(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("%w: days must be positive", ErrInvalidInput)
	}
	deleted, err := s.repo.DeleteOldEvents(ctx, days)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old events")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old events")
	}
	return deleted, nil
}

// RunMaintenance periodically drops expired debounce entries and old gate events.
func (s *ParkingService) RunMaintenance(ctx context.Context, interval time.Duration, retentionDays int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := s.tracker.Prune(s.now()); pruned > 0 {
				s.log.Debug().Int("pruned", pruned).Msg("expired plates pruned from tracker")
			}
			if retentionDays > 0 {
				_, _ = s.CleanupOldEvents(ctx, retentionDays)
			}
		}
	}
}
