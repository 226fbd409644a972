// Package report builds operator-facing Excel exports.
package report

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"parkgate/internal/db"
)

// Exporter writes bookings and fines into an Excel workbook.
type Exporter struct {
	db *db.DB
}

// NewExporter creates an exporter over the database.
func NewExporter(database *db.DB) *Exporter {
	return &Exporter{db: database}
}

// Export writes the workbook: one sheet of bookings, one of fine records.
func (e *Exporter) Export(ctx context.Context, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	if err := e.writeBookings(ctx, f, bold); err != nil {
		return err
	}
	if err := e.writeFines(ctx, f, bold); err != nil {
		return err
	}

	return f.Write(w)
}

func (e *Exporter) writeBookings(ctx context.Context, f *excelize.File, headerStyle int) error {
	const sheet = "Bookings"
	f.SetSheetName("Sheet1", sheet)

	header := []any{"ID", "Username", "Floor", "Slot", "Rate", "Entry", "Exit", "Price", "Status", "Reason"}
	if err := writeRow(f, sheet, 1, header); err != nil {
		return err
	}
	if err := applyHeaderStyle(f, sheet, len(header), headerStyle); err != nil {
		return err
	}

	bookings, err := e.db.Bookings(ctx)
	if err != nil {
		return fmt.Errorf("loading bookings: %w", err)
	}
	for i, b := range bookings {
		row := []any{
			b.ID, b.Username, b.Floor, b.SlotID, string(b.RateType),
			joinDateTime(b.EntryDate, b.EntryTime),
			joinDateTime(b.ExitDate, b.ExitTime),
			b.Price, b.Status, b.CancellationReason,
		}
		if err := writeRow(f, sheet, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) writeFines(ctx context.Context, f *excelize.File, headerStyle int) error {
	const sheet = "Fines"
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("creating sheet %s: %w", sheet, err)
	}

	header := []any{"Booking ID", "Username", "Floor", "Slot", "Minutes Overdue", "Rounds", "Amount", "Status", "Paid"}
	if err := writeRow(f, sheet, 1, header); err != nil {
		return err
	}
	if err := applyHeaderStyle(f, sheet, len(header), headerStyle); err != nil {
		return err
	}

	bookings, err := e.db.Bookings(ctx)
	if err != nil {
		return fmt.Errorf("loading bookings: %w", err)
	}

	rowNum := 2
	for _, b := range bookings {
		fine, err := e.db.Fine(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("loading fine for %s: %w", b.ID, err)
		}
		if fine == nil {
			continue
		}
		row := []any{
			fine.BookingID, fine.Username, fine.Floor, fine.SlotID,
			fine.MinutesOverdue, fine.Rounds, fine.Amount,
			fine.PayFineStatus, joinDateTime(fine.PaidDate, fine.PaidTime),
		}
		if err := writeRow(f, sheet, rowNum, row); err != nil {
			return err
		}
		rowNum++
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for i, val := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, val); err != nil {
			return err
		}
	}
	return nil
}

func applyHeaderStyle(f *excelize.File, sheet string, columns, style int) error {
	start, _ := excelize.CoordinatesToCellName(1, 1)
	end, _ := excelize.CoordinatesToCellName(columns, 1)
	return f.SetCellStyle(sheet, start, end, style)
}

func joinDateTime(date, clock string) string {
	if clock == "" {
		return date
	}
	return date + " " + clock
}
