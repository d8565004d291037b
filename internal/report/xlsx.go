package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"parking-service/internal/domain/parking"
	"parking-service/internal/service"
)

const (
	EventsSheet = "Events"
	SlotsSheet  = "Slots"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var (
	eventsHeader = []interface{}{"Time (UTC)", "Camera", "Plate", "Raw plate", "Decision", "Slot", "Owner", "Confidence", "Snapshot"}
	slotsHeader  = []interface{}{"Slot", "Plate", "Owner"}
)

// WriteEventsXLSX выгружает журнал проездов в один лист.
func WriteEventsXLSX(w io.Writer, events []service.EventInfo) error {
	f, sheet, err := newWorkbook(EventsSheet, eventsHeader)
	if err != nil {
		return err
	}
	defer f.Close()

	for i, e := range events {
		row := []interface{}{
			e.EventTime.UTC().Format(time.DateTime),
			e.CameraID,
			e.NormalizedPlate,
			e.RawPlate,
			e.Decision,
			optionalInt(e.SlotNumber),
			optionalString(e.OwnerName),
			optionalFloat(e.Confidence),
			optionalString(e.SnapshotURL),
		}
		if err := setRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}

	return write(f, w)
}

// WriteSlotsXLSX writes the current slot table, free slots shown with "-".
func WriteSlotsXLSX(w io.Writer, rows []parking.SlotRow) error {
	f, sheet, err := newWorkbook(SlotsSheet, slotsHeader)
	if err != nil {
		return err
	}
	defer f.Close()

	for i, r := range rows {
		if err := setRow(f, sheet, i+2, []interface{}{r.Slot, r.Plate, r.OwnerName}); err != nil {
			return err
		}
	}

	return write(f, w)
}

func newWorkbook(sheet string, header []interface{}) (*excelize.File, string, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		f.Close()
		return nil, "", fmt.Errorf("rename sheet: %w", err)
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		f.Close()
		return nil, "", err
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		f.Close()
		return nil, "", fmt.Errorf("apply header style: %w", err)
	}

	return f, sheet, nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	return nil
}

func write(f *excelize.File, w io.Writer) error {
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func optionalInt(v *int) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func optionalFloat(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}

func optionalString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
