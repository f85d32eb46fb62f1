package workbook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Clock reports a monotonically increasing version for the workbook file.
type Clock interface {
	Version() int64
}

// FileGateway reads snapshots from an .xlsx file on disk. Every call opens
// the file afresh so concurrent reads never share an excelize handle.
type FileGateway struct {
	path      string
	selection string
	clock     Clock
	now       func() time.Time
}

// GatewayOption configures a FileGateway.
type GatewayOption func(*FileGateway)

// WithSelection fixes the selection instead of reading it from the sheet
// view stored in the file. ref may be sheet-qualified, e.g. "Data!A1:C20".
func WithSelection(ref string) GatewayOption {
	return func(g *FileGateway) { g.selection = strings.TrimSpace(ref) }
}

// WithClock sets the snapshot version source.
func WithClock(c Clock) GatewayOption {
	return func(g *FileGateway) { g.clock = c }
}

// WithNow overrides the time source for snapshot timestamps.
func WithNow(now func() time.Time) GatewayOption {
	return func(g *FileGateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewFileGateway creates a gateway for the workbook at path.
func NewFileGateway(path string, opts ...GatewayOption) *FileGateway {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	g := &FileGateway{path: path, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Path returns the absolute workbook path.
func (g *FileGateway) Path() string { return g.path }

// WorkbookID derives a stable owner ID from the absolute path.
func WorkbookID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	sum := sha256.Sum256([]byte(path))
	return "wb-" + hex.EncodeToString(sum[:6])
}

func (g *FileGateway) open() (*excelize.File, error) {
	if strings.EqualFold(filepath.Ext(g.path), ".xls") {
		return nil, fmt.Errorf(".xls (BIFF8) workbooks are not supported; convert %s to .xlsx", filepath.Base(g.path))
	}
	f, err := excelize.OpenFile(g.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", g.path, err)
	}
	return f, nil
}

// Meta hashes the visible content into the snapshot ID so any edit to cells,
// sheets, tables or names produces a new ID. The hidden memory sheet is
// excluded; recording memory does not make a plan stale.
func (g *FileGateway) Meta(ctx context.Context) (Meta, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	if _, err := os.Stat(g.path); err != nil {
		return Meta{}, fmt.Errorf("stat workbook %s: %w", g.path, err)
	}
	f, err := g.open()
	if err != nil {
		return Meta{}, err
	}
	defer f.Close()

	id, err := contentHash(f)
	if err != nil {
		return Meta{}, err
	}

	version := int64(1)
	if g.clock != nil {
		version = g.clock.Version()
	}
	return Meta{
		SnapshotID:      "snap-" + id,
		SnapshotVersion: version,
		CreatedAt:       g.now().UTC(),
		WorkbookID:      WorkbookID(g.path),
		WorkbookName:    filepath.Base(g.path),
		WorkbookPath:    g.path,
	}, nil
}

func contentHash(f *excelize.File) (string, error) {
	h := sha256.New()
	for _, sheet := range f.GetSheetList() {
		if sheet == ContextSheetName {
			continue
		}
		fmt.Fprintf(h, "sheet\x00%s\x00", sheet)
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", sheet, err)
		}
		for _, row := range rows {
			fmt.Fprintf(h, "%q\n", row)
		}
		tables, _ := f.GetTables(sheet)
		for _, t := range tables {
			fmt.Fprintf(h, "table\x00%s\x00%s\n", t.Name, t.Range)
		}
	}
	for _, dn := range f.GetDefinedName() {
		fmt.Fprintf(h, "name\x00%s\x00%s\x00%s\n", dn.Name, dn.Scope, dn.RefersTo)
	}
	return hex.EncodeToString(h.Sum(nil)[:8]), nil
}

// Structure lists worksheets, tables and defined names.
func (g *FileGateway) Structure(ctx context.Context) (Structure, error) {
	if err := ctx.Err(); err != nil {
		return Structure{}, err
	}
	f, err := g.open()
	if err != nil {
		return Structure{}, err
	}
	defer f.Close()

	ids := make(map[string]int)
	for id, name := range f.GetSheetMap() {
		ids[name] = id
	}

	out := Structure{
		Worksheets:  []WorksheetSummary{},
		Tables:      []TableSummary{},
		NamedRanges: []NamedRangeSummary{},
	}
	for pos, name := range f.GetSheetList() {
		vis := Visible
		if ok, _ := f.GetSheetVisible(name); !ok {
			vis = Hidden
			if name == ContextSheetName {
				vis = VeryHidden
			}
		}
		out.Worksheets = append(out.Worksheets, WorksheetSummary{
			ID:         strconv.Itoa(ids[name]),
			Name:       name,
			Position:   pos,
			Visibility: vis,
		})

		tables, err := readTables(f, name)
		if err != nil {
			return Structure{}, err
		}
		out.Tables = append(out.Tables, tables...)
	}
	out.WorksheetCount = len(out.Worksheets)

	active := f.GetSheetName(f.GetActiveSheetIndex())
	for i := range out.Worksheets {
		if out.Worksheets[i].Name == active {
			ws := out.Worksheets[i]
			out.ActiveWorksheet = &ws
			break
		}
	}

	for _, dn := range f.GetDefinedName() {
		if strings.HasPrefix(dn.Name, "_xlnm.") {
			continue
		}
		nr := NamedRangeSummary{
			Name:    dn.Name,
			Address: strings.TrimPrefix(dn.RefersTo, "="),
			Comment: dn.Comment,
		}
		if dn.Scope != "" && dn.Scope != "Workbook" {
			nr.WorksheetName = dn.Scope
		} else if area, err := ParseArea(nr.Address, ""); err == nil {
			nr.WorksheetName = area.Sheet
		}
		out.NamedRanges = append(out.NamedRanges, nr)
	}
	sort.SliceStable(out.NamedRanges, func(i, j int) bool {
		return out.NamedRanges[i].Name < out.NamedRanges[j].Name
	})
	return out, nil
}

type tableInfo struct {
	summary TableSummary
	area    Area
	header  *Area
	body    *Area
}

func loadTables(f *excelize.File, sheet string) ([]tableInfo, error) {
	tables, err := f.GetTables(sheet)
	if err != nil {
		return nil, fmt.Errorf("read tables on %s: %w", sheet, err)
	}
	rows, _ := f.GetRows(sheet)

	out := make([]tableInfo, 0, len(tables))
	for i, t := range tables {
		area, err := ParseArea(t.Range, sheet)
		if err != nil {
			continue
		}
		info := tableInfo{area: area}
		sum := TableSummary{
			ID:            fmt.Sprintf("%s-%d", sheet, i+1),
			Name:          t.Name,
			WorksheetName: sheet,
			Address:       area.String(),
			Columns:       []TableColumn{},
		}

		hasHeader := t.ShowHeaderRow == nil || *t.ShowHeaderRow
		bodyStart := area.StartRow
		if hasHeader {
			h := area
			h.EndRow = h.StartRow
			info.header = &h
			sum.HeaderRowRange = h.String()
			bodyStart++
		}
		if bodyStart <= area.EndRow {
			b := area
			b.StartRow = bodyStart
			info.body = &b
			sum.DataBodyRange = b.String()
		}

		for c := area.StartCol; c <= area.EndCol; c++ {
			col := area
			col.StartCol, col.EndCol = c, c
			name := ""
			if hasHeader {
				name = cellAt(rows, area.StartRow, c)
			}
			if name == "" {
				letter, _ := excelize.ColumnNumberToName(c)
				name = "Column" + letter
			}
			sum.Columns = append(sum.Columns, TableColumn{
				Name:    name,
				Index:   c - area.StartCol,
				Address: col.String(),
			})
		}
		info.summary = sum
		out = append(out, info)
	}
	return out, nil
}

func readTables(f *excelize.File, sheet string) ([]TableSummary, error) {
	infos, err := loadTables(f, sheet)
	if err != nil {
		return nil, err
	}
	out := make([]TableSummary, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.summary)
	}
	return out, nil
}

// Selection returns the configured selection or the one saved in the
// active sheet's view. Excel defaults to A1 when no view is stored.
func (g *FileGateway) Selection(ctx context.Context) (*Selection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := g.open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	active := f.GetSheetName(f.GetActiveSheetIndex())
	ref := g.selection
	if ref == "" {
		ref = storedSelection(f, active)
	}
	area, err := ParseArea(ref, active)
	if err != nil {
		return nil, fmt.Errorf("selection: %w", err)
	}
	if idx, err := f.GetSheetIndex(area.Sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("selection: worksheet %q not found", area.Sheet)
	}

	sel := &Selection{
		Type:          SelectionRange,
		WorksheetName: area.Sheet,
		RangeAddress:  area.String(),
		RowCount:      area.Rows(),
		ColumnCount:   area.Cols(),
	}

	tables, err := loadTables(f, area.Sheet)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		if !t.area.Intersects(area) {
			continue
		}
		sel.Type = SelectionTable
		sel.TableName = t.summary.Name
		sel.TableID = t.summary.ID
		switch {
		case t.header != nil && area.Equal(*t.header):
			sel.TableRegion = RegionHeader
		case t.body != nil && area.Equal(*t.body):
			sel.TableRegion = RegionBody
		default:
			sel.TableRegion = RegionWhole
		}
		break
	}
	return sel, nil
}

func storedSelection(f *excelize.File, sheet string) string {
	panes, err := f.GetPanes(sheet)
	if err != nil {
		return "A1"
	}
	for i := len(panes.Selection) - 1; i >= 0; i-- {
		s := panes.Selection[i]
		if ref := strings.TrimSpace(s.SQRef); ref != "" {
			// multi-area selections keep only the first area
			return strings.Fields(ref)[0]
		}
		if s.ActiveCell != "" {
			return s.ActiveCell
		}
	}
	return "A1"
}

// Preview samples the selection and, for tables, the table body; long
// selections also get a top-rows sample.
func (g *FileGateway) Preview(ctx context.Context, sel *Selection, opts PreviewOptions) (Preview, error) {
	out := Preview{SecondarySamples: []RangeSample{}}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if sel == nil || sel.Type == SelectionNone {
		return out, nil
	}

	f, err := g.open()
	if err != nil {
		return out, err
	}
	defer f.Close()

	sheet := sel.WorksheetName
	if sheet == "" {
		sheet = f.GetSheetName(f.GetActiveSheetIndex())
	}
	ref := sel.RangeAddress
	if ref == "" {
		ref = "A1"
	}
	primary, err := ParseArea(ref, sheet)
	if err != nil {
		return out, fmt.Errorf("preview: %w", err)
	}

	var secondary []Area
	if sel.Type == SelectionTable && sel.TableName != "" {
		tables, err := loadTables(f, primary.Sheet)
		if err != nil {
			return out, err
		}
		for _, t := range tables {
			if t.summary.Name == sel.TableName && t.body != nil && !t.body.Equal(primary) {
				secondary = append(secondary, *t.body)
			}
		}
	}
	if sel.RowCount > opts.MaxPrimaryRows && opts.MaxPrimaryRows > 0 {
		secondary = append(secondary, primary.Resize(opts.MaxPrimaryRows, 0))
	}
	if opts.MaxSecondarySamples > 0 && len(secondary) > opts.MaxSecondarySamples {
		secondary = secondary[:opts.MaxSecondarySamples]
	}

	p, err := sampleArea(f, primary, opts.MaxPrimaryRows, opts.MaxPrimaryColumns, true, opts.IncludeFormulas)
	if err != nil {
		return out, err
	}
	out.PrimarySample = &p
	for _, a := range secondary {
		s, err := sampleArea(f, a, opts.MaxSecondaryRows, opts.MaxSecondaryColumns, false, opts.IncludeFormulas)
		if err != nil {
			return out, err
		}
		out.SecondarySamples = append(out.SecondarySamples, s)
	}
	return out, nil
}

func sampleArea(f *excelize.File, a Area, maxRows, maxCols int, hasHeaders, includeFormulas bool) (RangeSample, error) {
	rows, err := f.GetRows(a.Sheet)
	if err != nil {
		return RangeSample{}, fmt.Errorf("read %s: %w", a.Sheet, err)
	}

	rowLimit, colLimit := a.Rows(), a.Cols()
	if maxRows > 0 && rowLimit > maxRows {
		rowLimit = maxRows
	}
	if maxCols > 0 && colLimit > maxCols {
		colLimit = maxCols
	}

	values := make([][]string, 0, rowLimit)
	var formulas [][]string
	for r := 0; r < rowLimit; r++ {
		row := make([]string, colLimit)
		var frow []string
		if includeFormulas {
			frow = make([]string, colLimit)
		}
		for c := 0; c < colLimit; c++ {
			row[c] = cellAt(rows, a.StartRow+r, a.StartCol+c)
			if includeFormulas {
				name, _ := excelize.CoordinatesToCellName(a.StartCol+c, a.StartRow+r)
				frow[c], _ = f.GetCellFormula(a.Sheet, name)
			}
		}
		values = append(values, row)
		if includeFormulas {
			formulas = append(formulas, frow)
		}
	}

	sample := RangeSample{
		WorksheetName: a.Sheet,
		Address:       a.String(),
		RowCount:      rowLimit,
		ColumnCount:   colLimit,
		HasHeaders:    hasHeaders,
		Truncated:     a.Rows() > rowLimit || a.Cols() > colLimit,
	}
	data := values
	if hasHeaders && len(values) > 0 {
		sample.Headers = values[0]
		data = values[1:]
		if formulas != nil {
			formulas = formulas[1:]
		}
	}
	sample.Rows = data
	if includeFormulas {
		sample.Formulas = formulas
	}

	sample.Kinds = make([][]CellKind, len(data))
	for r, row := range data {
		kinds := make([]CellKind, len(row))
		for c, v := range row {
			switch {
			case formulas != nil && strings.TrimSpace(formulas[r][c]) != "":
				kinds[c] = CellFormula
			case v == "":
				kinds[c] = CellEmpty
			case strings.HasPrefix(v, "#"):
				kinds[c] = CellError
			default:
				kinds[c] = CellValue
			}
		}
		sample.Kinds[r] = kinds
	}
	return sample, nil
}

// cellAt reads a 1-based cell from GetRows output, which omits trailing
// empty cells and rows.
func cellAt(rows [][]string, row, col int) string {
	if row < 1 || row > len(rows) {
		return ""
	}
	r := rows[row-1]
	if col < 1 || col > len(r) {
		return ""
	}
	return r[col-1]
}
