package table

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ColumnType 列的推断类型
type ColumnType string

const (
	TypeNumeric     ColumnType = "numeric"
	TypeCategorical ColumnType = "categorical"
	TypeDatetime    ColumnType = "datetime"
	TypeText        ColumnType = "text"
)

// SubKind 数值列的细分类型
type SubKind string

const (
	SubKindNone    SubKind = ""
	SubKindInteger SubKind = "integer"
	SubKindDecimal SubKind = "decimal"
)

// Field 列的模式描述
type Field struct {
	Name    string     `json:"name"`
	Type    ColumnType `json:"type"`
	SubKind SubKind    `json:"sub_kind,omitempty"`
}

// Column 一列数据。加载后不可修改，所有派生操作都返回新的 Table。
type Column struct {
	field   Field
	raw     []string
	missing []bool
	invalid []bool
	num     []float64
	times   []time.Time
}

func (c *Column) Name() string { return c.field.Name }
func (c *Column) Type() ColumnType { return c.field.Type }
func (c *Column) SubKind() SubKind { return c.field.SubKind }
func (c *Column) Field() Field { return c.field }
func (c *Column) Len() int { return len(c.raw) }
func (c *Column) Raw(i int) string { return c.raw[i] }
func (c *Column) IsMissing(i int) bool { return c.missing[i] }

// IsInvalid 单元格非空，但无法按列类型转换
func (c *Column) IsInvalid(i int) bool { return c.invalid[i] }

// HasValue 单元格在类型视图中可用
func (c *Column) HasValue(i int) bool { return !c.missing[i] && !c.invalid[i] }

// Float 返回数值列第 i 行的值
func (c *Column) Float(i int) (float64, bool) {
	if c.field.Type != TypeNumeric || !c.HasValue(i) {
		return math.NaN(), false
	}
	return c.num[i], true
}

// Time 返回日期列第 i 行的值
func (c *Column) Time(i int) (time.Time, bool) {
	if c.field.Type != TypeDatetime || !c.HasValue(i) {
		return time.Time{}, false
	}
	return c.times[i], true
}

// Floats 按行序返回所有可用的数值（新切片）
func (c *Column) Floats() []float64 {
	if c.field.Type != TypeNumeric {
		return nil
	}
	out := make([]float64, 0, len(c.num))
	for i, v := range c.num {
		if c.HasValue(i) {
			out = append(out, v)
		}
	}
	return out
}

// MissingCount 缺失或无效单元格数量
func (c *Column) MissingCount() int {
	n := 0
	for i := range c.raw {
		if !c.HasValue(i) {
			n++
		}
	}
	return n
}

// Table 类型化的列式表
type Table struct {
	name string
	cols []*Column
	rows int
}

func (t *Table) Name() string { return t.name }
func (t *Table) NumRows() int { return t.rows }
func (t *Table) NumCols() int { return len(t.cols) }
func (t *Table) Col(j int) *Column { return t.cols[j] }

// Columns 返回列的浅拷贝切片
func (t *Table) Columns() []*Column {
	out := make([]*Column, len(t.cols))
	copy(out, t.cols)
	return out
}

// Column 按名称查找列（大小写不敏感）
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.cols {
		if strings.EqualFold(c.field.Name, name) {
			return c, true
		}
	}
	return nil, false
}

// ColumnsOfType 返回指定类型的列
func (t *Table) ColumnsOfType(typ ColumnType) []*Column {
	var out []*Column
	for _, c := range t.cols {
		if c.field.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

// Schema 返回所有列的模式
func (t *Table) Schema() []Field {
	out := make([]Field, len(t.cols))
	for j, c := range t.cols {
		out[j] = c.field
	}
	return out
}

// Row 返回第 i 行的原始文本
func (t *Table) Row(i int) []string {
	row := make([]string, len(t.cols))
	for j, c := range t.cols {
		row[j] = c.raw[i]
	}
	return row
}

// RawColumn 返回第 j 列原始文本的拷贝
func (t *Table) RawColumn(j int) []string {
	out := make([]string, t.rows)
	copy(out, t.cols[j].raw)
	return out
}

// Select 按给定行号生成新表，模式不变
func (t *Table) Select(rows []int) *Table {
	columns := make([][]string, len(t.cols))
	for j, c := range t.cols {
		vals := make([]string, len(rows))
		for k, i := range rows {
			vals[k] = c.raw[i]
		}
		columns[j] = vals
	}
	out, _ := FromSchema(t.name, t.Schema(), columns)
	return out
}

// Infer 从表头和行记录推断列类型并构建表
func Infer(name string, header []string, records [][]string) (*Table, error) {
	if len(header) == 0 {
		return nil, &DataError{Reason: "no columns"}
	}
	names := normalizeHeader(header)
	columns := make([][]string, len(names))
	for j := range columns {
		columns[j] = make([]string, len(records))
	}
	for i, rec := range records {
		for j := range names {
			if j < len(rec) {
				columns[j][i] = strings.TrimSpace(rec[j])
			}
		}
	}

	fields := make([]Field, len(names))
	for j, n := range names {
		typ, sub := inferType(columns[j])
		fields[j] = Field{Name: n, Type: typ, SubKind: sub}
	}
	return FromSchema(name, fields, columns)
}

// FromSchema 按给定模式构建表，不再重新推断类型
func FromSchema(name string, fields []Field, columns [][]string) (*Table, error) {
	if len(fields) != len(columns) {
		return nil, fmt.Errorf("schema has %d fields but %d columns given", len(fields), len(columns))
	}
	t := &Table{name: name, cols: make([]*Column, len(fields))}
	for j, f := range fields {
		if j == 0 {
			t.rows = len(columns[j])
		} else if len(columns[j]) != t.rows {
			return nil, fmt.Errorf("column %q has %d rows, want %d", f.Name, len(columns[j]), t.rows)
		}
		t.cols[j] = buildColumn(f, columns[j])
	}
	return t, nil
}

func buildColumn(f Field, raw []string) *Column {
	c := &Column{
		field:   f,
		raw:     make([]string, len(raw)),
		missing: make([]bool, len(raw)),
		invalid: make([]bool, len(raw)),
	}
	copy(c.raw, raw)
	switch f.Type {
	case TypeNumeric:
		c.num = make([]float64, len(raw))
	case TypeDatetime:
		c.times = make([]time.Time, len(raw))
	}
	for i, s := range c.raw {
		if isMissing(s) {
			c.missing[i] = true
			if c.num != nil {
				c.num[i] = math.NaN()
			}
			continue
		}
		switch f.Type {
		case TypeNumeric:
			v, ok := ParseNumber(s)
			if !ok {
				c.invalid[i] = true
				v = math.NaN()
			}
			c.num[i] = v
		case TypeDatetime:
			tm, ok := ParseTime(s)
			if !ok {
				c.invalid[i] = true
			}
			c.times[i] = tm
		}
	}
	return c
}

func normalizeHeader(header []string) []string {
	names := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for j, h := range header {
		n := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if n == "" {
			n = fmt.Sprintf("column_%d", j+1)
		}
		key := strings.ToLower(n)
		if cnt, ok := seen[key]; ok {
			seen[key] = cnt + 1
			n = fmt.Sprintf("%s_%d", n, cnt+1)
		} else {
			seen[key] = 1
		}
		names[j] = n
	}
	return names
}
