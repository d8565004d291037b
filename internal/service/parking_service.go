package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
	"parking-service/internal/notify"
	"parking-service/internal/repository"
	"parking-service/internal/slots"
	"parking-service/internal/tracker"
	"parking-service/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

const maxClaimAttempts = 5

// GateTrigger queues an open/hold/close cycle of the barrier.
type GateTrigger interface {
	Trigger(reason string) bool
}

type UpdatePublisher interface {
	Publish(update notify.Update)
}

type Options struct {
	DefaultCameraID    string
	EnforcePlateFormat bool
}

type ParkingService struct {
	repo     *repository.ParkingRepository
	tracker  *tracker.Tracker
	strategy slots.Strategy
	gate     GateTrigger
	updates  UpdatePublisher
	opts     Options
	log      zerolog.Logger
	now      func() time.Time
}

func NewParkingService(
	repo *repository.ParkingRepository,
	plateTracker *tracker.Tracker,
	strategy slots.Strategy,
	gate GateTrigger,
	updates UpdatePublisher,
	opts Options,
	log zerolog.Logger,
) *ParkingService {
	if strategy == nil {
		strategy = slots.FirstAvailable{}
	}
	return &ParkingService{
		repo:     repo,
		tracker:  plateTracker,
		strategy: strategy,
		gate:     gate,
		updates:  updates,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// ProcessPlateRead runs one recognized plate through the gate flow: format
// check, debounce, registry lookup, then exit (free slot) or entry (assign slot).
func (s *ParkingService) ProcessPlateRead(ctx context.Context, read parking.PlateRead) (*parking.Decision, error) {
	if strings.TrimSpace(read.Plate) == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	if read.CameraID == "" {
		read.CameraID = s.opts.DefaultCameraID
	}
	now := s.now()
	if read.EventTime.IsZero() {
		read.EventTime = now
	}

	normalized := utils.NormalizePlate(read.Plate)
	if normalized == "" {
		return nil, fmt.Errorf("%w: plate cannot be empty after normalization", ErrInvalidInput)
	}

	decision := &parking.Decision{
		Plate:     normalized,
		EventTime: read.EventTime,
	}

	if s.opts.EnforcePlateFormat && !utils.IsValidPlate(normalized) {
		decision.Kind = parking.DecisionIgnoredInvalid
		s.log.Debug().
			Str("raw_plate", read.Plate).
			Str("plate", normalized).
			Str("camera_id", read.CameraID).
			Msg("plate does not match registration format, ignored")
		return decision, nil
	}

	if !s.tracker.Admit(normalized, now) {
		decision.Kind = parking.DecisionIgnoredDebounced
		s.log.Debug().
			Str("plate", normalized).
			Dur("window", s.tracker.Window()).
			Msg("plate seen recently, ignored")
		return decision, nil
	}

	if err := s.decide(ctx, decision, now); err != nil {
		// следующий кадр должен иметь шанс повторить попытку
		s.tracker.Forget(normalized)
		s.log.Error().
			Err(err).
			Str("plate", normalized).
			Str("camera_id", read.CameraID).
			Msg("failed to process plate read")
		return nil, err
	}

	if decision.Kind.OpensGate() && s.gate != nil {
		decision.GateOpen = s.gate.Trigger(string(decision.Kind) + ":" + normalized)
	}

	event := &parking.Event{
		CameraID:        read.CameraID,
		Source:          read.Source,
		RawPlate:        read.Plate,
		NormalizedPlate: normalized,
		Confidence:      read.Confidence,
		Direction:       read.Direction,
		Decision:        decision.Kind,
		SlotNumber:      decision.Slot,
		OwnerName:       decision.OwnerName,
		SnapshotURL:     read.SnapshotURL,
		RawPayload:      read.RawPayload,
		EventTime:       read.EventTime,
	}
	if err := s.repo.CreateGateEvent(ctx, event); err != nil {
		// решение уже принято и шлагбаум мог открыться, поэтому только логируем
		s.log.Error().
			Err(err).
			Str("plate", normalized).
			Str("decision", string(decision.Kind)).
			Msg("failed to save gate event")
	} else {
		decision.EventID = &event.ID
	}

	logEvent := s.log.Info()
	if !decision.Kind.OpensGate() {
		logEvent = s.log.Warn()
	}
	logEvent.
		Str("plate", normalized).
		Str("raw_plate", read.Plate).
		Str("camera_id", read.CameraID).
		Str("decision", string(decision.Kind)).
		Interface("slot", decision.Slot).
		Bool("gate_opened", decision.GateOpen).
		Msg("plate read processed")

	s.publish(notify.Update{Type: notify.UpdateDecision, Plate: normalized, Decision: decision})

	return decision, nil
}

func (s *ParkingService) decide(ctx context.Context, decision *parking.Decision, now time.Time) error {
	vehicle, err := s.repo.GetVehicle(ctx, decision.Plate)
	if errors.Is(err, repository.ErrNotFound) {
		decision.Kind = parking.DecisionDeniedUnregistered
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up vehicle: %w", err)
	}

	decision.OwnerName = vehicle.OwnerName

	// автомобиль уже занимает место, значит это выезд; блокировка выезду не мешает
	slot, released, err := s.repo.ReleasePlate(ctx, decision.Plate)
	if err != nil {
		return fmt.Errorf("failed to release slot: %w", err)
	}
	if released {
		decision.Kind = parking.DecisionExit
		decision.Slot = &slot
		return nil
	}

	if !vehicle.Allowed {
		decision.Kind = parking.DecisionDeniedBlocked
		return nil
	}

	slot, ok, err := s.allocate(ctx, decision.Plate, now)
	if err != nil {
		return err
	}
	if !ok {
		decision.Kind = parking.DecisionDeniedFull
		return nil
	}
	decision.Kind = parking.DecisionEntry
	decision.Slot = &slot
	return nil
}

func (s *ParkingService) allocate(ctx context.Context, plate string, at time.Time) (int, bool, error) {
	for attempt := 1; attempt <= maxClaimAttempts; attempt++ {
		free, err := s.repo.FreeSlotNumbers(ctx)
		if err != nil {
			return 0, false, fmt.Errorf("failed to list free slots: %w", err)
		}
		slot, ok := s.strategy.Pick(free)
		if !ok {
			return 0, false, nil
		}
		claimed, err := s.repo.ClaimSlot(ctx, slot, plate, at)
		if err != nil {
			return 0, false, err
		}
		if claimed {
			return slot, true, nil
		}
		s.log.Debug().
			Int("slot", slot).
			Int("attempt", attempt).
			Str("plate", plate).
			Msg("slot taken concurrently, retrying")
	}
	return 0, false, fmt.Errorf("failed to claim a slot after %d attempts", maxClaimAttempts)
}

func (s *ParkingService) publish(update notify.Update) {
	if s.updates == nil {
		return
	}
	if update.At.IsZero() {
		update.At = s.now()
	}
	s.updates.Publish(update)
}
