package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"parking-service/internal/domain/parking"
)

var ErrNotFound = errors.New("record not found")

const maxEventsPageSize = 100

type ParkingRepository struct {
	db *gorm.DB
}

func NewParkingRepository(db *gorm.DB) *ParkingRepository {
	return &ParkingRepository{db: db}
}

func (Vehicle) TableName() string {
	return "vehicles"
}

func (ParkingSlot) TableName() string {
	return "parking_slots"
}

func (GateEvent) TableName() string {
	return "gate_events"
}

type Vehicle struct {
	NumberPlate string `gorm:"column:number_plate;primaryKey"`
	OwnerName   string `gorm:"not null"`
	VehicleType string `gorm:"not null"`
	Allowed     bool   `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ParkingSlot struct {
	SlotNumber  int `gorm:"column:slot_number;primaryKey;autoIncrement:false"`
	NumberPlate *string
	AssignedAt  *time.Time
}

type GateEvent struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	CameraID        string    `gorm:"not null"`
	Source          *string
	RawPlate        string `gorm:"not null"`
	NormalizedPlate string `gorm:"not null"`
	Confidence      *float64
	Direction       *string
	Decision        string `gorm:"not null"`
	SlotNumber      *int
	OwnerName       *string
	SnapshotURL     *string
	RawPayload      datatypes.JSON
	EventTime       time.Time `gorm:"not null"`
	CreatedAt       time.Time
}

func (v Vehicle) toDomain() parking.Vehicle {
	return parking.Vehicle{
		Plate:       v.NumberPlate,
		OwnerName:   v.OwnerName,
		VehicleType: v.VehicleType,
		Allowed:     v.Allowed,
		CreatedAt:   v.CreatedAt,
		UpdatedAt:   v.UpdatedAt,
	}
}

// UpsertVehicle регистрирует автомобиль или обновляет владельца и тип у существующего.
// Allowed == nil сохраняет текущее значение (для новых записей true).
func (r *ParkingRepository) UpsertVehicle(ctx context.Context, in parking.VehicleInput) (bool, error) {
	created := false
	now := time.Now().UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Vehicle
		err := tx.Where("number_plate = ?", in.Plate).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			allowed := true
			if in.Allowed != nil {
				allowed = *in.Allowed
			}
			created = true
			return tx.Create(&Vehicle{
				NumberPlate: in.Plate,
				OwnerName:   in.OwnerName,
				VehicleType: in.VehicleType,
				Allowed:     allowed,
				CreatedAt:   now,
				UpdatedAt:   now,
			}).Error
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"owner_name":   in.OwnerName,
			"vehicle_type": in.VehicleType,
			"updated_at":   now,
		}
		if in.Allowed != nil {
			updates["allowed"] = *in.Allowed
		}
		return tx.Model(&Vehicle{}).Where("number_plate = ?", in.Plate).Updates(updates).Error
	})
	if err != nil {
		return false, fmt.Errorf("upsert vehicle: %w", err)
	}
	return created, nil
}

func (r *ParkingRepository) GetVehicle(ctx context.Context, plate string) (*parking.Vehicle, error) {
	var v Vehicle
	err := r.db.WithContext(ctx).Where("number_plate = ?", plate).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	result := v.toDomain()
	return &result, nil
}

func (r *ParkingRepository) ListVehicles(ctx context.Context) ([]parking.Vehicle, error) {
	var rows []Vehicle
	if err := r.db.WithContext(ctx).Order("created_at ASC, number_plate ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]parking.Vehicle, 0, len(rows))
	for _, v := range rows {
		result = append(result, v.toDomain())
	}
	return result, nil
}

// DeleteVehicle удаляет автомобиль и освобождает занятое им место в одной транзакции
func (r *ParkingRepository) DeleteVehicle(ctx context.Context, plate string) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ParkingSlot{}).
			Where("number_plate = ?", plate).
			Updates(map[string]interface{}{"number_plate": nil, "assigned_at": nil}).Error; err != nil {
			return err
		}
		res := tx.Where("number_plate = ?", plate).Delete(&Vehicle{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete vehicle: %w", err)
	}
	return deleted, nil
}

type slotWithOwner struct {
	SlotNumber  int
	NumberPlate *string
	AssignedAt  *time.Time
	OwnerName   *string
}

func (r *ParkingRepository) ListSlots(ctx context.Context) ([]parking.Slot, error) {
	var rows []slotWithOwner
	err := r.db.WithContext(ctx).
		Table("parking_slots").
		Select("parking_slots.slot_number, parking_slots.number_plate, parking_slots.assigned_at, vehicles.owner_name").
		Joins("LEFT JOIN vehicles ON vehicles.number_plate = parking_slots.number_plate").
		Order("parking_slots.slot_number ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]parking.Slot, 0, len(rows))
	for _, row := range rows {
		result = append(result, parking.Slot{
			Number:     row.SlotNumber,
			Plate:      row.NumberPlate,
			OwnerName:  row.OwnerName,
			AssignedAt: row.AssignedAt,
		})
	}
	return result, nil
}

func (r *ParkingRepository) FreeSlotNumbers(ctx context.Context) ([]int, error) {
	var numbers []int
	err := r.db.WithContext(ctx).
		Model(&ParkingSlot{}).
		Where("number_plate IS NULL").
		Order("slot_number ASC").
		Pluck("slot_number", &numbers).Error
	return numbers, err
}

func (r *ParkingRepository) FindSlotByPlate(ctx context.Context, plate string) (int, bool, error) {
	var slot ParkingSlot
	err := r.db.WithContext(ctx).Where("number_plate = ?", plate).First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return slot.SlotNumber, true, nil
}

// ClaimSlot занимает место, только если оно всё ещё свободно.
// false означает, что место успел занять другой запрос.
func (r *ParkingRepository) ClaimSlot(ctx context.Context, slot int, plate string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&ParkingSlot{}).
		Where("slot_number = ? AND number_plate IS NULL", slot).
		Updates(map[string]interface{}{"number_plate": plate, "assigned_at": at.UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("claim slot %d: %w", slot, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *ParkingRepository) ReleaseSlot(ctx context.Context, slot int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&ParkingSlot{}).
		Where("slot_number = ? AND number_plate IS NOT NULL", slot).
		Updates(map[string]interface{}{"number_plate": nil, "assigned_at": nil})
	if res.Error != nil {
		return false, fmt.Errorf("release slot %d: %w", slot, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ReleasePlate frees the slot held by plate and returns its number.
func (r *ParkingRepository) ReleasePlate(ctx context.Context, plate string) (int, bool, error) {
	slot, found, err := r.FindSlotByPlate(ctx, plate)
	if err != nil || !found {
		return 0, false, err
	}
	res := r.db.WithContext(ctx).
		Model(&ParkingSlot{}).
		Where("slot_number = ? AND number_plate = ?", slot, plate).
		Updates(map[string]interface{}{"number_plate": nil, "assigned_at": nil})
	if res.Error != nil {
		return 0, false, fmt.Errorf("release plate %s: %w", plate, res.Error)
	}
	return slot, res.RowsAffected > 0, nil
}

func (r *ParkingRepository) SlotStats(ctx context.Context) (total, occupied int64, err error) {
	if err = r.db.WithContext(ctx).Model(&ParkingSlot{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err = r.db.WithContext(ctx).Model(&ParkingSlot{}).Where("number_plate IS NOT NULL").Count(&occupied).Error; err != nil {
		return 0, 0, err
	}
	return total, occupied, nil
}

func (r *ParkingRepository) CreateGateEvent(ctx context.Context, event *parking.Event) error {
	dbEvent := GateEvent{
		ID:              uuid.New(),
		CameraID:        event.CameraID,
		RawPlate:        event.RawPlate,
		NormalizedPlate: event.NormalizedPlate,
		Decision:        string(event.Decision),
		SlotNumber:      event.SlotNumber,
		EventTime:       event.EventTime.UTC(),
		CreatedAt:       time.Now().UTC(),
	}

	if event.Source != "" {
		dbEvent.Source = &event.Source
	}
	if event.Confidence != 0 {
		dbEvent.Confidence = &event.Confidence
	}
	if event.Direction != "" {
		direction := string(event.Direction)
		dbEvent.Direction = &direction
	}
	if event.OwnerName != "" {
		dbEvent.OwnerName = &event.OwnerName
	}
	if event.SnapshotURL != "" {
		dbEvent.SnapshotURL = &event.SnapshotURL
	}
	if len(event.RawPayload) > 0 {
		raw, err := json.Marshal(event.RawPayload)
		if err != nil {
			return fmt.Errorf("marshal raw payload: %w", err)
		}
		dbEvent.RawPayload = datatypes.JSON(raw)
	}

	if err := r.db.WithContext(ctx).Create(&dbEvent).Error; err != nil {
		return fmt.Errorf("failed to create gate event in database: %w", err)
	}

	event.ID = dbEvent.ID
	return nil
}

// SetEventSnapshot links a picture stored after the decision to its gate event.
func (r *ParkingRepository) SetEventSnapshot(ctx context.Context, id uuid.UUID, url string) error {
	result := r.db.WithContext(ctx).
		Model(&GateEvent{}).
		Where("id = ?", id).
		Update("snapshot_url", url)
	if result.Error != nil {
		return fmt.Errorf("failed to set event snapshot: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ParkingRepository) FindEvents(ctx context.Context, filter parking.EventFilter) ([]GateEvent, error) {
	query := r.db.WithContext(ctx).Model(&GateEvent{})

	if filter.Plate != nil {
		query = query.Where("normalized_plate = ?", *filter.Plate)
	}
	if filter.Decision != nil {
		query = query.Where("decision = ?", string(*filter.Decision))
	}
	if filter.From != nil {
		query = query.Where("event_time >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("event_time <= ?", filter.To.UTC())
	}

	query = query.Order("event_time DESC")

	if filter.Limit > 0 {
		limit := filter.Limit
		if limit > maxEventsPageSize {
			limit = maxEventsPageSize
		}
		query = query.Limit(limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var events []GateEvent
	err := query.Find(&events).Error
	return events, err
}

// DeleteOldEvents удаляет события старше указанного количества дней
func (r *ParkingRepository) DeleteOldEvents(ctx context.Context, days int) (int64, error) {
	return r.DeleteEventsBefore(ctx, time.Now().AddDate(0, 0, -days))
}

func (r *ParkingRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&GateEvent{})

	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}
