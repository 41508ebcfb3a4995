package render

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	logx "github.com/coursegen-core/server/pkg/logger"
)

// CellMapping places one flattened value into a sheet cell.
type CellMapping struct {
	Key   string `yaml:"key"`
	Sheet string `yaml:"sheet"`
	Cell  string `yaml:"cell"`
}

// ExcelRenderer writes mapped values into a workbook. Without a template a
// new workbook is created.
type ExcelRenderer struct {
	Template string
	Cells    []CellMapping
}

type cellMappingFile struct {
	Template string        `yaml:"template"`
	Cells    []CellMapping `yaml:"cells"`
}

// LoadExcelRenderer reads a YAML mapping file.
func LoadExcelRenderer(path string) (*ExcelRenderer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cell mapping: %w", err)
	}
	var f cellMappingFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode cell mapping %s: %w", path, err)
	}
	for i, c := range f.Cells {
		if c.Key == "" || c.Sheet == "" || c.Cell == "" {
			return nil, fmt.Errorf("cell mapping %s: entry %d needs key, sheet and cell", path, i)
		}
	}
	return &ExcelRenderer{Template: f.Template, Cells: f.Cells}, nil
}

func (r *ExcelRenderer) open() (*excelize.File, error) {
	if r.Template == "" {
		return excelize.NewFile(), nil
	}
	f, err := excelize.OpenFile(r.Template)
	if err != nil {
		return nil, fmt.Errorf("open xlsx template %s: %w", r.Template, err)
	}
	return f, nil
}

// Render writes the workbook to w. Numeric values are stored as numbers.
func (r *ExcelRenderer) Render(values map[string]string, w io.Writer) error {
	f, err := r.open()
	if err != nil {
		return err
	}
	defer f.Close()

	for _, c := range r.Cells {
		v, ok := values[c.Key]
		if !ok {
			logx.Warn().Str("key", c.Key).Str("sheet", c.Sheet).Str("cell", c.Cell).Msg("no value for mapped cell")
			continue
		}
		if idx, err := f.GetSheetIndex(c.Sheet); err != nil || idx < 0 {
			if _, err := f.NewSheet(c.Sheet); err != nil {
				return fmt.Errorf("create sheet %s: %w", c.Sheet, err)
			}
		}
		var cell any = v
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cell = n
		}
		if err := f.SetCellValue(c.Sheet, c.Cell, cell); err != nil {
			return fmt.Errorf("set %s!%s: %w", c.Sheet, c.Cell, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
