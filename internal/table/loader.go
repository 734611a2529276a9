package table

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Loader 把数据源解析为 Table
type Loader interface {
	Load(ctx context.Context, path string) (*Table, error)
}

// FileLoader 从本地文件加载 CSV / TSV / XLSX
type FileLoader struct {
	// MaxRows 大于 0 时截断数据行
	MaxRows int
}

// NewFileLoader 创建文件加载器
func NewFileLoader(maxRows int) *FileLoader {
	return &FileLoader{MaxRows: maxRows}
}

// SupportedExtension 判断扩展名是否可加载
func SupportedExtension(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt", ".xlsx":
		return true
	}
	return false
}

// Load 按扩展名选择解析方式
func (l *FileLoader) Load(ctx context.Context, path string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		header  []string
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		header, records, err = l.readDelimited(path, ',')
	case ".tsv":
		header, records, err = l.readDelimited(path, '\t')
	case ".xlsx":
		header, records, err = l.readXLSX(path)
	default:
		return nil, &DataError{Path: path, Reason: "unsupported file type " + filepath.Ext(path)}
	}
	if err != nil {
		var de *DataError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &DataError{Path: path, Reason: "parse failed", Err: err}
	}
	if len(header) == 0 {
		return nil, &DataError{Path: path, Reason: "missing header row"}
	}
	records = dropTrailingBlank(records)
	if len(records) == 0 {
		return nil, &DataError{Path: path, Reason: "no data rows"}
	}

	return Infer(tableName(path), header, records)
}

func (l *FileLoader) readDelimited(path string, comma rune) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &DataError{Path: path, Reason: "open failed", Err: err}
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
		if l.MaxRows > 0 && len(records) >= l.MaxRows {
			break
		}
	}
	return header, records, nil
}

func (l *FileLoader) readXLSX(path string) ([]string, [][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, &DataError{Path: path, Reason: "open workbook failed", Err: err}
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	records := rows[1:]
	if l.MaxRows > 0 && len(records) > l.MaxRows {
		records = records[:l.MaxRows]
	}
	return rows[0], records, nil
}

func dropTrailingBlank(records [][]string) [][]string {
	for len(records) > 0 {
		last := records[len(records)-1]
		blank := true
		for _, v := range last {
			if strings.TrimSpace(v) != "" {
				blank = false
				break
			}
		}
		if !blank {
			break
		}
		records = records[:len(records)-1]
	}
	return records
}

func tableName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
