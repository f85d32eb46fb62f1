// Package workbook describes the observed state of a spreadsheet (the
// snapshot) and assesses the risk of writing to it. FileGateway and
// HiddenSheetRepository read and persist that state in .xlsx files.
package workbook

import (
	"time"

	"github.com/odvcencio/excella/pkg/memory"
)

// Meta identifies one observation of a workbook. SnapshotID changes whenever
// the observed content changes; plans carry it as a staleness token.
type Meta struct {
	SnapshotID      string    `json:"snapshotId"`
	SnapshotVersion int64     `json:"snapshotVersion"`
	CreatedAt       time.Time `json:"createdAt"`
	WorkbookID      string    `json:"workbookId"`
	WorkbookName    string    `json:"workbookName"`
	WorkbookPath    string    `json:"workbookPath,omitempty"`
	Locale          string    `json:"locale,omitempty"`
}

// Visibility of a worksheet.
type Visibility string

const (
	Visible    Visibility = "visible"
	Hidden     Visibility = "hidden"
	VeryHidden Visibility = "veryHidden"
)

type WorksheetSummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Position   int        `json:"position"`
	Visibility Visibility `json:"visibility"`
}

type TableColumn struct {
	Name    string `json:"name"`
	Index   int    `json:"index"`
	Address string `json:"address"`
}

type TableSummary struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	WorksheetName  string        `json:"worksheetName"`
	Address        string        `json:"address"`
	HeaderRowRange string        `json:"headerRowRange,omitempty"`
	DataBodyRange  string        `json:"dataBodyRange,omitempty"`
	ShowTotalsRow  bool          `json:"showTotalsRow"`
	Columns        []TableColumn `json:"columns"`
}

type NamedRangeSummary struct {
	Name          string `json:"name"`
	WorksheetName string `json:"worksheetName,omitempty"`
	Address       string `json:"address"`
	Comment       string `json:"comment,omitempty"`
}

// Structure is the workbook's sheet, table and name inventory.
type Structure struct {
	WorksheetCount  int                 `json:"worksheetCount"`
	ActiveWorksheet *WorksheetSummary   `json:"activeWorksheet"`
	Worksheets      []WorksheetSummary  `json:"worksheets"`
	Tables          []TableSummary      `json:"tables"`
	NamedRanges     []NamedRangeSummary `json:"namedRanges"`
}

// SelectionType classifies the active selection.
type SelectionType string

const (
	SelectionRange SelectionType = "range"
	SelectionTable SelectionType = "table"
	SelectionNone  SelectionType = "none"
)

// TableRegion names which part of a table a selection covers.
type TableRegion string

const (
	RegionHeader TableRegion = "header"
	RegionBody   TableRegion = "body"
	RegionTotals TableRegion = "totals"
	RegionWhole  TableRegion = "whole"
)

type Selection struct {
	Type          SelectionType `json:"type"`
	WorksheetName string        `json:"worksheetName,omitempty"`
	RangeAddress  string        `json:"rangeAddress,omitempty"`
	RowCount      int           `json:"rowCount,omitempty"`
	ColumnCount   int           `json:"columnCount,omitempty"`
	TableName     string        `json:"tableName,omitempty"`
	TableID       string        `json:"tableId,omitempty"`
	TableRegion   TableRegion   `json:"tableRegion,omitempty"`
}

// CellKind classifies one previewed cell.
type CellKind string

const (
	CellValue   CellKind = "value"
	CellFormula CellKind = "formula"
	CellEmpty   CellKind = "empty"
	CellError   CellKind = "error"
)

// RangeSample is a bounded window of cell values.
type RangeSample struct {
	WorksheetName string       `json:"worksheetName"`
	Address       string       `json:"address"`
	RowCount      int          `json:"rowCount"`
	ColumnCount   int          `json:"columnCount"`
	HasHeaders    bool         `json:"hasHeaders"`
	Headers       []string     `json:"headers,omitempty"`
	Rows          [][]string   `json:"rows"`
	Formulas      [][]string   `json:"formulas,omitempty"`
	Kinds         [][]CellKind `json:"kinds,omitempty"`
	Truncated     bool         `json:"truncated"`
}

type Preview struct {
	PrimarySample    *RangeSample  `json:"primarySample"`
	SecondarySamples []RangeSample `json:"secondarySamples"`
}

// PreviewOptions bound the data preview.
type PreviewOptions struct {
	MaxPrimaryRows      int
	MaxPrimaryColumns   int
	MaxSecondarySamples int
	MaxSecondaryRows    int
	MaxSecondaryColumns int
	IncludeFormulas     bool
}

// DefaultPreviewOptions mirrors the limits the assistant UI uses.
func DefaultPreviewOptions() PreviewOptions {
	return PreviewOptions{
		MaxPrimaryRows:      50,
		MaxPrimaryColumns:   20,
		MaxSecondarySamples: 3,
		MaxSecondaryRows:    20,
		MaxSecondaryColumns: 10,
	}
}

// Limits are the configured write and delete ceilings.
type Limits struct {
	MaxCellsToWrite                     int  `json:"maxCellsToWrite"`
	MaxRowsToDelete                     int  `json:"maxRowsToDelete"`
	MaxColumnsToDelete                  int  `json:"maxColumnsToDelete"`
	RequireConfirmationForWholeSheetOps bool `json:"requireConfirmationForWholeSheetOps"`
	RequireBackupBeforeDestructiveOps   bool `json:"requireBackupBeforeDestructiveOps"`
}

type Flags struct {
	ReadOnlyMode                bool `json:"readOnlyMode"`
	ExperimentalFeaturesEnabled bool `json:"experimentalFeaturesEnabled"`
}

// Safety is the snapshot's safety context. CurrentRisk is nil when no
// selection exists to assess.
type Safety struct {
	Limits      Limits `json:"limits"`
	CurrentRisk *Risk  `json:"currentRisk"`
	Flags       Flags  `json:"flags"`
}

// Snapshot is everything the agent knows about the workbook at one moment.
type Snapshot struct {
	Meta      Meta               `json:"meta"`
	Workbook  Structure          `json:"workbook"`
	Selection *Selection         `json:"selection"`
	Preview   Preview            `json:"dataPreview"`
	Memory    memory.AgentMemory `json:"memory"`
	Safety    Safety             `json:"safety"`
}

// ID returns the snapshot's staleness token.
func (s Snapshot) ID() string { return s.Meta.SnapshotID }
