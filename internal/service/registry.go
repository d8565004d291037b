package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"parking-service/internal/domain/parking"
	"parking-service/internal/notify"
	"parking-service/internal/repository"
	"parking-service/internal/utils"
)

// RegisterVehicle adds a vehicle to the registry or updates owner and type of
// an existing one. The bool result is true when a new record was created.
func (s *ParkingService) RegisterVehicle(ctx context.Context, in parking.VehicleInput) (*parking.Vehicle, bool, error) {
	in.Plate = utils.NormalizePlate(in.Plate)
	in.OwnerName = strings.TrimSpace(in.OwnerName)
	in.VehicleType = strings.TrimSpace(in.VehicleType)

	if in.Plate == "" || in.OwnerName == "" || in.VehicleType == "" {
		return nil, false, fmt.Errorf("%w: please fill all fields (number_plate, owner_name, vehicle_type)", ErrInvalidInput)
	}
	if !utils.IsValidPlate(in.Plate) {
		return nil, false, fmt.Errorf("%w: enter a valid number plate format (e.g. MH04AB1234)", ErrInvalidInput)
	}

	created, err := s.repo.UpsertVehicle(ctx, in)
	if err != nil {
		s.log.Error().Err(err).Str("plate", in.Plate).Msg("failed to register vehicle")
		return nil, false, fmt.Errorf("failed to register vehicle: %w", err)
	}

	vehicle, err := s.repo.GetVehicle(ctx, in.Plate)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load vehicle: %w", err)
	}

	s.log.Info().
		Str("plate", vehicle.Plate).
		Str("owner", vehicle.OwnerName).
		Str("type", vehicle.VehicleType).
		Bool("allowed", vehicle.Allowed).
		Bool("created", created).
		Msg("vehicle registered")

	s.publish(notify.Update{Type: notify.UpdateRegistry, Plate: vehicle.Plate})
	return vehicle, created, nil
}

func (s *ParkingService) DeleteVehicle(ctx context.Context, plate string) error {
	normalized := utils.NormalizePlate(plate)
	if normalized == "" {
		return fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}

	deleted, err := s.repo.DeleteVehicle(ctx, normalized)
	if err != nil {
		s.log.Error().Err(err).Str("plate", normalized).Msg("failed to delete vehicle")
		return fmt.Errorf("failed to delete vehicle: %w", err)
	}
	if !deleted {
		return fmt.Errorf("%w: vehicle %s is not registered", ErrNotFound, normalized)
	}

	s.tracker.Forget(normalized)
	s.log.Info().Str("plate", normalized).Msg("vehicle deleted and slot released")
	s.publish(notify.Update{Type: notify.UpdateRegistry, Plate: normalized})
	return nil
}

func (s *ParkingService) GetVehicle(ctx context.Context, plate string) (*parking.Vehicle, error) {
	normalized := utils.NormalizePlate(plate)
	if normalized == "" {
		return nil, fmt.Errorf("%w: plate is required", ErrInvalidInput)
	}
	vehicle, err := s.repo.GetVehicle(ctx, normalized)
	if err != nil {
		return nil, mapRepoError(err, "vehicle "+normalized)
	}
	return vehicle, nil
}

func (s *ParkingService) ListVehicles(ctx context.Context) ([]parking.Vehicle, error) {
	vehicles, err := s.repo.ListVehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	return vehicles, nil
}

func (s *ParkingService) ListSlots(ctx context.Context) ([]parking.Slot, error) {
	slotList, err := s.repo.ListSlots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	return slotList, nil
}

// ReleaseSlot frees a slot by hand, e.g. when a vehicle left unseen by the camera.
func (s *ParkingService) ReleaseSlot(ctx context.Context, slot int) error {
	if slot <= 0 {
		return fmt.Errorf("%w: slot must be positive", ErrInvalidInput)
	}
	released, err := s.repo.ReleaseSlot(ctx, slot)
	if err != nil {
		return fmt.Errorf("failed to release slot: %w", err)
	}
	if !released {
		return fmt.Errorf("%w: slot %d is not occupied", ErrNotFound, slot)
	}

	s.log.Info().Int("slot", slot).Msg("slot released manually")
	s.publish(notify.Update{Type: notify.UpdateSlots})
	return nil
}

// Dashboard собирает обе таблицы панели: зарегистрированные автомобили и места
func (s *ParkingService) Dashboard(ctx context.Context) (*parking.Dashboard, error) {
	vehicles, err := s.ListVehicles(ctx)
	if err != nil {
		return nil, err
	}
	slotList, err := s.ListSlots(ctx)
	if err != nil {
		return nil, err
	}
	total, occupied, err := s.repo.SlotStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count slots: %w", err)
	}

	board := &parking.Dashboard{
		Vehicles:      make([]parking.VehicleRow, 0, len(vehicles)),
		Slots:         make([]parking.SlotRow, 0, len(slotList)),
		TotalSlots:    int(total),
		OccupiedSlots: int(occupied),
		FreeSlots:     int(total - occupied),
		GeneratedAt:   s.now(),
	}
	for i, v := range vehicles {
		board.Vehicles = append(board.Vehicles, parking.VehicleRow{
			Index:       i + 1,
			Plate:       v.Plate,
			OwnerName:   v.OwnerName,
			VehicleType: v.VehicleType,
			Allowed:     v.Allowed,
		})
	}
	for _, slot := range slotList {
		row := parking.SlotRow{Slot: slot.Number, Plate: "-", OwnerName: "-"}
		if slot.Occupied() {
			row.Plate = *slot.Plate
			if slot.OwnerName != nil && *slot.OwnerName != "" {
				row.OwnerName = *slot.OwnerName
			}
		}
		board.Slots = append(board.Slots, row)
	}

	return board, nil
}

func mapRepoError(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}
