package xlsx

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/odvcencio/excella/pkg/memory"
	"github.com/odvcencio/excella/pkg/plan"
	"github.com/odvcencio/excella/pkg/workbook"
)

type stepContext struct {
	f      *excelize.File
	step   plan.Step
	limits workbook.Limits
	author string
}

type stepHandler func(*stepContext) error

var handlers = map[memory.ActionKind]stepHandler{
	memory.KindWriteValues:          writeValues,
	memory.KindFillFormulas:         fillFormulas,
	memory.KindTransformData:        transformData,
	memory.KindInsertTable:          insertTable,
	memory.KindSortRange:            sortRange,
	memory.KindFilterRange:          filterRange,
	memory.KindFormattingChange:     formatRange,
	memory.KindInsertRows:           insertRows,
	memory.KindInsertColumns:        insertColumns,
	memory.KindDeleteRows:           deleteRows,
	memory.KindDeleteColumns:        deleteColumns,
	memory.KindCreateSheet:          createSheet,
	memory.KindRenameSheet:          renameSheet,
	memory.KindDeleteSheet:          deleteSheet,
	memory.KindMoveSheet:            moveSheet,
	memory.KindCreateNamedRange:     setNamedRange,
	memory.KindUpdateNamedRange:     setNamedRange,
	memory.KindSetDataValidation:    setDataValidation,
	memory.KindRemoveDataValidation: removeDataValidation,
	memory.KindAddComment:           addComment,
	memory.KindEditComment:          editComment,
	memory.KindRemoveComment:        removeComment,
}

// Supported reports whether the executor can apply steps of kind k.
func Supported(k memory.ActionKind) bool {
	_, ok := handlers[k]
	return ok
}

func (c *stepContext) run() error {
	h, ok := handlers[c.step.ActionKind()]
	if !ok {
		return fmt.Errorf("step kind %q is not supported by the workbook executor", c.step.Kind)
	}
	return h(c)
}

func (c *stepContext) sheet() string { return c.step.TargetWorksheet }

// area parses the target range and checks that its sheet exists.
func (c *stepContext) area() (workbook.Area, error) {
	a, err := workbook.ParseArea(c.step.TargetRange, c.sheet())
	if err != nil {
		return workbook.Area{}, err
	}
	if idx, err := c.f.GetSheetIndex(a.Sheet); err != nil || idx < 0 {
		return workbook.Area{}, fmt.Errorf("worksheet %q not found", a.Sheet)
	}
	return a, nil
}

func (c *stepContext) params(v any) error {
	return c.step.DecodeParameters(v)
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func writeValues(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	var p struct {
		Values [][]any `json:"values"`
	}
	if err := c.params(&p); err != nil {
		return err
	}
	if len(p.Values) == 0 {
		return fmt.Errorf("parameters.values is required")
	}
	cells := 0
	for _, row := range p.Values {
		if len(row) > a.Cols() {
			return fmt.Errorf("row has %d values but %s is %d column(s) wide", len(row), a.Ref(), a.Cols())
		}
		cells += len(row)
	}
	if len(p.Values) > a.Rows() {
		return fmt.Errorf("%d rows of values do not fit in %s", len(p.Values), a.Ref())
	}
	if max := c.limits.MaxCellsToWrite; max > 0 && cells > max {
		return fmt.Errorf("writing %d cells exceeds the limit of %d", cells, max)
	}
	for i, row := range p.Values {
		if err := c.f.SetSheetRow(a.Sheet, cellName(a.StartCol, a.StartRow+i), &row); err != nil {
			return err
		}
	}
	return nil
}

func fillFormulas(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	var p struct {
		Formula  string     `json:"formula"`
		Formulas [][]string `json:"formulas"`
	}
	if err := c.params(&p); err != nil {
		return err
	}

	if len(p.Formulas) > 0 {
		for i, row := range p.Formulas {
			if i >= a.Rows() || len(row) > a.Cols() {
				return fmt.Errorf("formulas do not fit in %s", a.Ref())
			}
			for j, formula := range row {
				if err := c.f.SetCellFormula(a.Sheet, cellName(a.StartCol+j, a.StartRow+i), strings.TrimPrefix(formula, "=")); err != nil {
					return err
				}
			}
		}
		return nil
	}

	formula := strings.TrimPrefix(strings.TrimSpace(p.Formula), "=")
	if formula == "" {
		return fmt.Errorf("parameters.formula or parameters.formulas is required")
	}
	if a.Rows()*a.Cols() == 1 {
		return c.f.SetCellFormula(a.Sheet, a.TopLeft(), formula)
	}
	// Shared formula: the top-left cell is the master and references shift
	// relative to it across the range.
	typ, ref := excelize.STCellFormulaTypeShared, a.Ref()
	return c.f.SetCellFormula(a.Sheet, a.TopLeft(), formula, excelize.FormulaOpts{Type: &typ, Ref: &ref})
}

func transformData(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	var p struct {
		Operation string `json:"operation"`
	}
	if err := c.params(&p); err != nil {
		return err
	}
	var fn func(string) string
	switch strings.ToLower(p.Operation) {
	case "trim":
		fn = strings.TrimSpace
	case "upper", "uppercase":
		fn = strings.ToUpper
	case "lower", "lowercase":
		fn = strings.ToLower
	default:
		return fmt.Errorf("unsupported transform operation %q", p.Operation)
	}
	for r := a.StartRow; r <= a.EndRow; r++ {
		for col := a.StartCol; col <= a.EndCol; col++ {
			cell := cellName(col, r)
			if formula, _ := c.f.GetCellFormula(a.Sheet, cell); formula != "" {
				continue
			}
			v, err := c.f.GetCellValue(a.Sheet, cell, excelize.Options{RawCellValue: true})
			if err != nil {
				return err
			}
			if v == "" {
				continue
			}
			if _, numErr := strconv.ParseFloat(v, 64); numErr == nil {
				continue
			}
			if out := fn(v); out != v {
				if err := c.f.SetCellValue(a.Sheet, cell, out); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func insertTable(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	var p struct {
		Name  string `json:"name"`
		Style string `json:"style"`
	}
	if err := c.params(&p); err != nil {
		return err
	}
	if p.Style == "" {
		p.Style = "TableStyleMedium2"
	}
	return c.f.AddTable(a.Sheet, &excelize.Table{Range: a.Ref(), Name: p.Name, StyleName: p.Style})
}

func sortRange(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	var p struct {
		Column     string `json:"column"`
		Descending bool   `json:"descending"`
		HasHeaders bool   `json:"hasHeaders"`
	}
	if err := c.params(&p); err != nil {
		return err
	}
	key := a.StartCol
	if p.Column != "" {
		if key, err = excelize.ColumnNameToNumber(p.Column); err != nil {
			return err
		}
		if key < a.StartCol || key > a.EndCol {
			return fmt.Errorf("sort column %s is outside %s", p.Column, a.Ref())
		}
	}

	first := a.StartRow
	if p.HasHeaders {
		first++
	}
	var rows [][]string
	for r := first; r <= a.EndRow; r++ {
		row := make([]string, 0, a.Cols())
		for col := a.StartCol; col <= a.EndCol; col++ {
			cell := cellName(col, r)
			if formula, _ := c.f.GetCellFormula(a.Sheet, cell); formula != "" {
				return fmt.Errorf("cannot sort %s: cell %s contains a formula", a.Ref(), cell)
			}
			v, err := c.f.GetCellValue(a.Sheet, cell, excelize.Options{RawCellValue: true})
			if err != nil {
				return err
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}

	k := key - a.StartCol
	sort.SliceStable(rows, func(i, j int) bool {
		if p.Descending {
			return compareCells(rows[j][k], rows[i][k]) < 0
		}
		return compareCells(rows[i][k], rows[j][k]) < 0
	})

	for i, row := range rows {
		for j, v := range row {
			cell := cellName(a.StartCol+j, first+i)
			var val any = v
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				val = n
			}
			if v == "" {
				val = nil
			}
			if err := c.f.SetCellValue(a.Sheet, cell, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// compareCells orders numbers before text and blanks last.
func compareCells(x, y string) int {
	switch {
	case x == "" && y == "":
		return 0
	case x == "":
		return 1
	case y == "":
		return -1
	}
	xf, xerr := strconv.ParseFloat(x, 64)
	yf, yerr := strconv.ParseFloat(y, 64)
	switch {
	case xerr == nil && yerr == nil:
		switch {
		case xf < yf:
			return -1
		case xf > yf:
			return 1
		}
		return 0
	case xerr == nil:
		return -1
	case yerr == nil:
		return 1
	}
	return strings.Compare(strings.ToLower(x), strings.ToLower(y))
}

func filterRange(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	var p struct {
		Column     string `json:"column"`
		Expression string `json:"expression"`
	}
	if err := c.params(&p); err != nil {
		return err
	}
	var opts []excelize.AutoFilterOptions
	if p.Column != "" && p.Expression != "" {
		opts = append(opts, excelize.AutoFilterOptions{Column: p.Column, Expression: p.Expression})
	}
	return c.f.AutoFilter(a.Sheet, a.Ref(), opts)
}

func formatRange(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	var p struct {
		Bold         bool   `json:"bold"`
		Italic       bool   `json:"italic"`
		FontColor    string `json:"fontColor"`
		FillColor    string `json:"fillColor"`
		NumberFormat string `json:"numberFormat"`
		Horizontal   string `json:"horizontalAlignment"`
	}
	if err := c.params(&p); err != nil {
		return err
	}
	style := &excelize.Style{}
	if p.Bold || p.Italic || p.FontColor != "" {
		style.Font = &excelize.Font{Bold: p.Bold, Italic: p.Italic, Color: strings.TrimPrefix(p.FontColor, "#")}
	}
	if p.FillColor != "" {
		style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{strings.TrimPrefix(p.FillColor, "#")}}
	}
	if p.NumberFormat != "" {
		format := p.NumberFormat
		style.CustomNumFmt = &format
	}
	if p.Horizontal != "" {
		style.Alignment = &excelize.Alignment{Horizontal: p.Horizontal}
	}
	id, err := c.f.NewStyle(style)
	if err != nil {
		return err
	}
	return c.f.SetCellStyle(a.Sheet, a.TopLeft(), a.BottomRight(), id)
}

func insertRows(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	return c.f.InsertRows(a.Sheet, a.StartRow, a.Rows())
}

func insertColumns(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	col, err := excelize.ColumnNumberToName(a.StartCol)
	if err != nil {
		return err
	}
	return c.f.InsertCols(a.Sheet, col, a.Cols())
}

func deleteRows(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	if max := c.limits.MaxRowsToDelete; max > 0 && a.Rows() > max {
		return fmt.Errorf("deleting %d rows exceeds the limit of %d", a.Rows(), max)
	}
	for i := 0; i < a.Rows(); i++ {
		if err := c.f.RemoveRow(a.Sheet, a.StartRow); err != nil {
			return err
		}
	}
	return nil
}

func deleteColumns(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	if max := c.limits.MaxColumnsToDelete; max > 0 && a.Cols() > max {
		return fmt.Errorf("deleting %d columns exceeds the limit of %d", a.Cols(), max)
	}
	col, err := excelize.ColumnNumberToName(a.StartCol)
	if err != nil {
		return err
	}
	for i := 0; i < a.Cols(); i++ {
		if err := c.f.RemoveCol(a.Sheet, col); err != nil {
			return err
		}
	}
	return nil
}

func createSheet(c *stepContext) error {
	if idx, _ := c.f.GetSheetIndex(c.sheet()); idx >= 0 {
		return fmt.Errorf("worksheet %q already exists", c.sheet())
	}
	_, err := c.f.NewSheet(c.sheet())
	return err
}

func renameSheet(c *stepContext) error {
	var p struct {
		NewName string `json:"newName"`
	}
	if err := c.params(&p); err != nil {
		return err
	}
	if strings.TrimSpace(p.NewName) == "" {
		return fmt.Errorf("parameters.newName is required")
	}
	if idx, _ := c.f.GetSheetIndex(c.sheet()); idx < 0 {
		return fmt.Errorf("worksheet %q not found", c.sheet())
	}
	return c.f.SetSheetName(c.sheet(), p.NewName)
}

func deleteSheet(c *stepContext) error {
	if c.limits.RequireConfirmationForWholeSheetOps {
		var p struct {
			Confirmed bool `json:"confirmed"`
		}
		if err := c.params(&p); err != nil {
			return err
		}
		if !p.Confirmed {
			return fmt.Errorf("deleting worksheet %q requires confirmation", c.sheet())
		}
	}
	if idx, _ := c.f.GetSheetIndex(c.sheet()); idx < 0 {
		return fmt.Errorf("worksheet %q not found", c.sheet())
	}
	if c.sheet() == workbook.ContextSheetName {
		return fmt.Errorf("worksheet %q is reserved", c.sheet())
	}
	return c.f.DeleteSheet(c.sheet())
}

func moveSheet(c *stepContext) error {
	var p struct {
		Before string `json:"before"`
	}
	if err := c.params(&p); err != nil {
		return err
	}
	if p.Before == "" {
		return fmt.Errorf("parameters.before is required")
	}
	return c.f.MoveSheet(c.sheet(), p.Before)
}

func setNamedRange(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	var p struct {
		Name    string `json:"name"`
		Comment string `json:"comment"`
		Scope   string `json:"scope"`
	}
	if err := c.params(&p); err != nil {
		return err
	}
	if p.Name == "" {
		return fmt.Errorf("parameters.name is required")
	}
	refersTo := absoluteRef(a)

	existing := ""
	for _, dn := range c.f.GetDefinedName() {
		if strings.EqualFold(dn.Name, p.Name) && dn.Scope == scopeOrWorkbook(p.Scope) {
			existing = dn.Name
			break
		}
	}
	exists := existing != ""
	switch c.step.ActionKind() {
	case memory.KindCreateNamedRange:
		if exists {
			return fmt.Errorf("named range %q already exists", p.Name)
		}
	case memory.KindUpdateNamedRange:
		if !exists {
			return fmt.Errorf("named range %q not found", p.Name)
		}
		if err := c.f.DeleteDefinedName(&excelize.DefinedName{Name: existing, Scope: p.Scope}); err != nil {
			return err
		}
	}
	return c.f.SetDefinedName(&excelize.DefinedName{Name: p.Name, Comment: p.Comment, RefersTo: refersTo, Scope: p.Scope})
}

func scopeOrWorkbook(s string) string {
	if s == "" {
		return "Workbook"
	}
	return s
}

func absoluteRef(a workbook.Area) string {
	sheet := a.Sheet
	if strings.ContainsAny(sheet, " -'") {
		sheet = "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	}
	abs := func(col, row int) string {
		name, _ := excelize.ColumnNumberToName(col)
		return fmt.Sprintf("$%s$%d", name, row)
	}
	if a.StartCol == a.EndCol && a.StartRow == a.EndRow {
		return sheet + "!" + abs(a.StartCol, a.StartRow)
	}
	return sheet + "!" + abs(a.StartCol, a.StartRow) + ":" + abs(a.EndCol, a.EndRow)
}

func setDataValidation(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	var p struct {
		List  []string `json:"list"`
		Type  string   `json:"type"`
		Min   *float64 `json:"min"`
		Max   *float64 `json:"max"`
		Blank *bool    `json:"allowBlank"`
	}
	if err := c.params(&p); err != nil {
		return err
	}
	allowBlank := true
	if p.Blank != nil {
		allowBlank = *p.Blank
	}
	dv := excelize.NewDataValidation(allowBlank)
	dv.SetSqref(a.Ref())
	switch {
	case len(p.List) > 0:
		if err := dv.SetDropList(p.List); err != nil {
			return err
		}
	case p.Min != nil && p.Max != nil:
		typ := excelize.DataValidationTypeDecimal
		if p.Type == "whole" {
			typ = excelize.DataValidationTypeWhole
		}
		if err := dv.SetRange(*p.Min, *p.Max, typ, excelize.DataValidationOperatorBetween); err != nil {
			return err
		}
	default:
		return fmt.Errorf("parameters.list or parameters.min and parameters.max are required")
	}
	return c.f.AddDataValidation(a.Sheet, dv)
}

func removeDataValidation(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	return c.f.DeleteDataValidation(a.Sheet, a.Ref())
}

func addComment(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	var p struct {
		Text   string `json:"text"`
		Author string `json:"author"`
	}
	if err := c.params(&p); err != nil {
		return err
	}
	if p.Text == "" {
		return fmt.Errorf("parameters.text is required")
	}
	if p.Author == "" {
		p.Author = c.author
	}
	return c.f.AddComment(a.Sheet, excelize.Comment{Author: p.Author, Cell: a.TopLeft(), Text: p.Text})
}

func editComment(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	if err := c.f.DeleteComment(a.Sheet, a.TopLeft()); err != nil {
		return err
	}
	return addComment(c)
}

func removeComment(c *stepContext) error {
	a, err := c.area()
	if err != nil {
		return err
	}
	return c.f.DeleteComment(a.Sheet, a.TopLeft())
}
