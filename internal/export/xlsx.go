package export

import (
	"fmt"
	"io"

	"github.com/dukerupert/boothsurvey/internal/model"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Households"

var columnWidths = []float64{22, 8, 15, 20, 16, 24, 16, 48, 10}

// XLSX writes the records as a single-sheet workbook with the CSV header
// and cells. Phones stay text without the apostrophe prefix.
func (f *Formatter) XLSX(w io.Writer, records []model.HouseholdRecord) error {
	wb := excelize.NewFile()
	defer wb.Close()

	if err := wb.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := wb.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i := range records {
		row := f.Row(&records[i])
		row[4] = plainPhone(records[i].UserPhone)
		row[6] = plainPhone(records[i].PhoneNumber)

		cells := make([]any, len(row))
		for j, c := range row {
			cells[j] = c
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := wb.SetSheetRow(sheetName, cell, &cells); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("column name: %w", err)
		}
		if err := wb.SetColWidth(sheetName, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	if err := wb.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func plainPhone(p string) string {
	if p == "" {
		return "-"
	}
	return p
}
