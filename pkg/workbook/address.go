package workbook

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Area is a rectangular cell range on one sheet, 1-based and inclusive.
type Area struct {
	Sheet    string
	StartCol int
	StartRow int
	EndCol   int
	EndRow   int
}

// ParseArea parses "A1", "A1:C10", "$A$1:$C$10" and sheet-qualified forms
// such as "Sheet1!A1:B2" or "'My Sheet'!A1". defaultSheet is used when the
// reference carries no sheet.
func ParseArea(ref, defaultSheet string) (Area, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Area{}, fmt.Errorf("empty range reference")
	}

	sheet := defaultSheet
	if i := strings.LastIndex(ref, "!"); i >= 0 {
		sheet = strings.Trim(ref[:i], "'")
		ref = ref[i+1:]
	}
	ref = strings.ReplaceAll(ref, "$", "")

	start, end, found := strings.Cut(ref, ":")
	if !found {
		end = start
	}
	c1, r1, err := excelize.CellNameToCoordinates(start)
	if err != nil {
		return Area{}, fmt.Errorf("invalid range %q: %w", ref, err)
	}
	c2, r2, err := excelize.CellNameToCoordinates(end)
	if err != nil {
		return Area{}, fmt.Errorf("invalid range %q: %w", ref, err)
	}
	if c2 < c1 {
		c1, c2 = c2, c1
	}
	if r2 < r1 {
		r1, r2 = r2, r1
	}
	return Area{Sheet: sheet, StartCol: c1, StartRow: r1, EndCol: c2, EndRow: r2}, nil
}

func (a Area) Rows() int { return a.EndRow - a.StartRow + 1 }

func (a Area) Cols() int { return a.EndCol - a.StartCol + 1 }

// TopLeft returns the first cell name, e.g. "B2".
func (a Area) TopLeft() string {
	name, _ := excelize.CoordinatesToCellName(a.StartCol, a.StartRow)
	return name
}

// BottomRight returns the last cell name.
func (a Area) BottomRight() string {
	name, _ := excelize.CoordinatesToCellName(a.EndCol, a.EndRow)
	return name
}

// Ref renders the range without a sheet prefix.
func (a Area) Ref() string {
	tl, br := a.TopLeft(), a.BottomRight()
	if tl == br {
		return tl
	}
	return tl + ":" + br
}

// String renders the sheet-qualified range.
func (a Area) String() string {
	if a.Sheet == "" {
		return a.Ref()
	}
	if strings.ContainsAny(a.Sheet, " -'") {
		return "'" + a.Sheet + "'!" + a.Ref()
	}
	return a.Sheet + "!" + a.Ref()
}

// Intersects reports whether a and b share at least one cell on the same sheet.
func (a Area) Intersects(b Area) bool {
	if !strings.EqualFold(a.Sheet, b.Sheet) {
		return false
	}
	return a.StartCol <= b.EndCol && b.StartCol <= a.EndCol &&
		a.StartRow <= b.EndRow && b.StartRow <= a.EndRow
}

// Equal compares geometry and sheet.
func (a Area) Equal(b Area) bool {
	return strings.EqualFold(a.Sheet, b.Sheet) &&
		a.StartCol == b.StartCol && a.StartRow == b.StartRow &&
		a.EndCol == b.EndCol && a.EndRow == b.EndRow
}

// Resize returns an area with the same top-left corner and at most rows x cols.
func (a Area) Resize(rows, cols int) Area {
	out := a
	if rows > 0 && a.Rows() > rows {
		out.EndRow = a.StartRow + rows - 1
	}
	if cols > 0 && a.Cols() > cols {
		out.EndCol = a.StartCol + cols - 1
	}
	return out
}
