package workbook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/odvcencio/excella/pkg/memory"
)

// ContextSheetName is the veryHidden worksheet that stores AgentMemory
// inside the workbook.
const ContextSheetName = "_AI_CONTEXT"

const contextCell = "A1"

// HiddenSheetRepository stores memory as JSON in ContextSheetName!A1 of the
// workbook itself, so the memory travels with the file. The owner ID is
// ignored; the workbook is the owner.
type HiddenSheetRepository struct {
	path string
	mu   sync.Mutex
}

// NewHiddenSheetRepository creates a repository for the workbook at path.
func NewHiddenSheetRepository(path string) *HiddenSheetRepository {
	return &HiddenSheetRepository{path: path}
}

// Load returns empty memory when the sheet is absent or its content does
// not parse.
func (r *HiddenSheetRepository) Load(ctx context.Context, _ string) (memory.AgentMemory, error) {
	if err := ctx.Err(); err != nil {
		return memory.Empty(), err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := excelize.OpenFile(r.path)
	if err != nil {
		return memory.Empty(), fmt.Errorf("open workbook %s: %w", r.path, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(ContextSheetName); err != nil || idx < 0 {
		return memory.Empty(), nil
	}
	raw, err := f.GetCellValue(ContextSheetName, contextCell)
	if err != nil {
		return memory.Empty(), nil
	}
	mem, _ := memory.Decode([]byte(raw))
	return mem, nil
}

// Save writes memory, creating the hidden sheet on first use.
func (r *HiddenSheetRepository) Save(ctx context.Context, _ string, mem memory.AgentMemory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(mem.Normalize())
	if err != nil {
		return fmt.Errorf("encode memory: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := excelize.OpenFile(r.path)
	if err != nil {
		return fmt.Errorf("open workbook %s: %w", r.path, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(ContextSheetName); err != nil || idx < 0 {
		active := f.GetActiveSheetIndex()
		if _, err := f.NewSheet(ContextSheetName); err != nil {
			return fmt.Errorf("create %s: %w", ContextSheetName, err)
		}
		f.SetActiveSheet(active)
		if err := f.SetSheetVisible(ContextSheetName, false, true); err != nil {
			return fmt.Errorf("hide %s: %w", ContextSheetName, err)
		}
	}
	if err := f.SetCellValue(ContextSheetName, contextCell, string(data)); err != nil {
		return fmt.Errorf("write memory: %w", err)
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("save workbook %s: %w", r.path, err)
	}
	return nil
}
