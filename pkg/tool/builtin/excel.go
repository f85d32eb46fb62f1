package builtin

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/odvcencio/excella/pkg/errors"
	"github.com/odvcencio/excella/pkg/workbook"
)

const (
	ToolReadRange = "read_range"

	defaultReadRows = 50
	defaultReadCols = 20
)

// RangeOutput is the read_range output.
type RangeOutput struct {
	Sheet     string     `json:"sheet"`
	Range     string     `json:"range"`
	Values    [][]string `json:"values"`
	Formulas  [][]string `json:"formulas,omitempty"`
	Truncated bool       `json:"truncated"`
}

// ReadRangeTool reads a bounded block of cells from the open workbook. It
// never writes.
type ReadRangeTool struct {
	Path string
}

func (t *ReadRangeTool) Name() string { return ToolReadRange }

func (t *ReadRangeTool) Description() string {
	return "Read cell values (and optionally formulas) from a range of the open workbook, e.g. 'Sales!A1:D20'. Large ranges are truncated to maxRows x maxColumns."
}

func (t *ReadRangeTool) Parameters() ParameterSchema {
	return ParameterSchema{
		Type: "object",
		Properties: map[string]PropertySchema{
			"range": {
				Type:        "string",
				Description: "A1 range, optionally sheet-qualified (e.g. 'Data!A1:C10')",
			},
			"sheet": {
				Type:        "string",
				Description: "Sheet for unqualified ranges (defaults to the first sheet)",
			},
			"maxRows": {
				Type:        "integer",
				Description: "Maximum rows to return",
				Default:     defaultReadRows,
			},
			"maxColumns": {
				Type:        "integer",
				Description: "Maximum columns to return",
				Default:     defaultReadCols,
			},
			"includeFormulas": {
				Type:        "boolean",
				Description: "Also return cell formulas",
				Default:     false,
			},
		},
		Required: []string{"range"},
	}
}

func (t *ReadRangeTool) Execute(params map[string]any) (*Result, error) {
	return t.ExecuteWithContext(context.Background(), params)
}

func (t *ReadRangeTool) ExecuteWithContext(_ context.Context, params map[string]any) (*Result, error) {
	var in struct {
		Range           string `json:"range"`
		Sheet           string `json:"sheet"`
		MaxRows         int    `json:"maxRows"`
		MaxColumns      int    `json:"maxColumns"`
		IncludeFormulas bool   `json:"includeFormulas"`
	}
	if err := decodeParams(params, &in); err != nil {
		return Fail(err), nil
	}
	if in.MaxRows <= 0 {
		in.MaxRows = defaultReadRows
	}
	if in.MaxColumns <= 0 {
		in.MaxColumns = defaultReadCols
	}
	if strings.TrimSpace(t.Path) == "" {
		return Fail(errors.New(errors.ErrCodeConfigInvalid, "no workbook configured").
			WithUserMessage("No workbook is open in this session.")), nil
	}
	if strings.ToLower(filepath.Ext(t.Path)) == ".xls" {
		return Fail(errors.New(errors.ErrCodeInvalidInput, ".xls (BIFF8) workbooks are not supported; please convert the file to .xlsx and try again")), nil
	}

	f, err := excelize.OpenFile(t.Path)
	if err != nil {
		return Fail(errors.Wrap(err, errors.ErrCodeStorageRead, "open workbook").
			WithUserMessage(fmt.Sprintf("failed to open workbook: %v", err))), nil
	}
	defer f.Close()

	sheet := strings.TrimSpace(in.Sheet)
	if sheet == "" {
		if sheets := f.GetSheetList(); len(sheets) > 0 {
			sheet = sheets[0]
		}
	}
	area, err := workbook.ParseArea(in.Range, sheet)
	if err != nil {
		return Fail(errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid range").
			WithUserMessage(fmt.Sprintf("failed to parse range: %v", err))), nil
	}
	if idx, _ := f.GetSheetIndex(area.Sheet); idx < 0 {
		return Fail(errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("worksheet %q not found", area.Sheet))), nil
	}

	out := RangeOutput{Sheet: area.Sheet, Values: [][]string{}}
	read := area
	if read.Rows() > in.MaxRows || read.Cols() > in.MaxColumns {
		read = read.Resize(min(read.Rows(), in.MaxRows), min(read.Cols(), in.MaxColumns))
		out.Truncated = true
	}
	out.Range = read.Ref()

	for r := read.StartRow; r <= read.EndRow; r++ {
		values := make([]string, 0, read.Cols())
		var formulas []string
		for c := read.StartCol; c <= read.EndCol; c++ {
			cell, err := excelize.CoordinatesToCellName(c, r)
			if err != nil {
				return Fail(errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid cell")), nil
			}
			v, err := f.GetCellValue(area.Sheet, cell)
			if err != nil {
				return Fail(errors.Wrap(err, errors.ErrCodeStorageRead, "read cell "+cell)), nil
			}
			values = append(values, v)
			if in.IncludeFormulas {
				formula, _ := f.GetCellFormula(area.Sheet, cell)
				formulas = append(formulas, formula)
			}
		}
		out.Values = append(out.Values, values)
		if in.IncludeFormulas {
			out.Formulas = append(out.Formulas, formulas)
		}
	}
	return Succeed(out)
}
