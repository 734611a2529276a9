package sqlgen

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/qs3c/anal_data_server/internal/table"
)

// DefaultMaxInserts 示例 INSERT 语句数量
const DefaultMaxInserts = 5

// SQL 列类型
const (
	TypeInteger   = "INTEGER"
	TypeNumeric   = "NUMERIC"
	TypeText      = "TEXT"
	TypeTimestamp = "TIMESTAMP"
)

// ColumnDef 数据集列到 SQL 列的映射
type ColumnDef struct {
	Name    string `json:"name"`
	Source  string `json:"source"`
	SQLType string `json:"sql_type"`
}

// Artifact 生成的 SQL 产物
type Artifact struct {
	TableName   string      `json:"table_name"`
	Columns     []ColumnDef `json:"columns"`
	CreateTable string      `json:"create_table"`
	Inserts     []string    `json:"inserts"`
	Script      string      `json:"script"`
}

// SchemaError 无法为数据集生成模式
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string { return "schema error: " + e.Reason }

// reservedWords SQL-92、SQLite 关键字和 PostgreSQL 保留字的并集，命中时加下划线后缀
var reservedWords = strings.Fields(`
	abort action add after all alter always analyse analyze and any array as asc
	asymmetric attach autoincrement before begin between both by call cascade case
	cast check collate column commit conflict constraint create cross current
	current_catalog current_date current_role current_time current_timestamp
	current_user database default deferrable deferred delete desc detach distinct do
	drop each else end escape except exclude exclusive exec execute exists explain
	fail false fetch filter first following for foreign from full generated glob
	grant group groups having if ignore immediate in index indexed initially inner
	insert instead intersect into is isnull join key last lateral leading left like
	limit localtime localtimestamp match materialized merge natural no not nothing
	notnull null nulls of offset on only or order others outer over partition placing
	plan pragma preceding primary query raise range recursive references regexp
	reindex release rename replace restrict returning revoke right rollback row rows
	savepoint select session_user set some symmetric table temp temporary then ties
	to trailing transaction trigger true truncate unbounded union unique update user
	using vacuum values variadic view virtual when where window with without
`)

var reserved = func() map[string]struct{} {
	m := make(map[string]struct{}, len(reservedWords))
	for _, w := range reservedWords {
		m[w] = struct{}{}
	}
	return m
}()

// IsReserved 判断标识符是否为 SQL 关键字（不区分大小写）
func IsReserved(id string) bool {
	_, ok := reserved[strings.ToLower(id)]
	return ok
}


// SanitizeIdentifier 转为小写，非字母数字替换为下划线，数字开头加 c_ 前缀
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	id := strings.Trim(b.String(), "_")
	if id == "" {
		return ""
	}
	if id[0] >= '0' && id[0] <= '9' {
		id = "c_" + id
	}
	if IsReserved(id) {
		id += "_"
	}
	return id
}

// TableNameFor 根据原始文件名生成表名
func TableNameFor(filename string) string {
	base := filepath.Base(filename)
	name := SanitizeIdentifier(strings.TrimSuffix(base, filepath.Ext(base)))
	if name == "" {
		return "dataset"
	}
	return name
}

// SQLType 返回列类型对应的 SQL 类型
func SQLType(f table.Field) string {
	switch f.Type {
	case table.TypeNumeric:
		if f.SubKind == table.SubKindInteger {
			return TypeInteger
		}
		return TypeNumeric
	case table.TypeDatetime:
		return TypeTimestamp
	}
	return TypeText
}

// Columns 生成去重后的列定义
func Columns(schema []table.Field) []ColumnDef {
	used := make(map[string]int, len(schema))
	defs := make([]ColumnDef, len(schema))
	for j, f := range schema {
		id := SanitizeIdentifier(f.Name)
		if id == "" {
			id = fmt.Sprintf("column_%d", j+1)
		}
		if _, ok := used[id]; ok {
			base := id
			for n := used[base] + 1; ; n++ {
				id = fmt.Sprintf("%s_%d", base, n)
				if _, taken := used[id]; !taken {
					used[base] = n
					break
				}
			}
		}
		used[id]++
		defs[j] = ColumnDef{Name: id, Source: f.Name, SQLType: SQLType(f)}
	}
	return defs
}

// Generate 生成建表语句和前 maxInserts 行的 INSERT 示例
func Generate(t *table.Table, tableName string, maxInserts int) (*Artifact, error) {
	if t == nil || t.NumCols() == 0 {
		return nil, &SchemaError{Reason: "dataset has no columns"}
	}
	name := SanitizeIdentifier(tableName)
	if name == "" {
		name = "dataset"
	}
	if maxInserts < 0 {
		maxInserts = 0
	}

	defs := Columns(t.Schema())
	colDefs := make([]string, len(defs))
	colNames := make([]string, len(defs))
	for j, d := range defs {
		colDefs[j] = fmt.Sprintf("    %s %s", d.Name, d.SQLType)
		colNames[j] = d.Name
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n);", name, strings.Join(colDefs, ",\n"))

	n := t.NumRows()
	if n > maxInserts {
		n = maxInserts
	}
	inserts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		values := make([]string, len(defs))
		for j, c := range t.Columns() {
			values[j] = literal(c, i)
		}
		inserts = append(inserts, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);",
			name, strings.Join(colNames, ", "), strings.Join(values, ", ")))
	}

	var script strings.Builder
	fmt.Fprintf(&script, "-- Table for dataset %s\n", tableName)
	script.WriteString(create)
	script.WriteString("\n")
	if len(inserts) > 0 {
		script.WriteString("\n-- Sample data\n")
		script.WriteString(strings.Join(inserts, "\n"))
		script.WriteString("\n")
	}

	return &Artifact{
		TableName:   name,
		Columns:     defs,
		CreateTable: create,
		Inserts:     inserts,
		Script:      script.String(),
	}, nil
}

func literal(c *table.Column, i int) string {
	if !c.HasValue(i) {
		return "NULL"
	}
	switch c.Type() {
	case table.TypeNumeric:
		v, _ := c.Float(i)
		return strconv.FormatFloat(v, 'f', -1, 64)
	case table.TypeDatetime:
		tm, _ := c.Time(i)
		return Quote(tm.Format("2006-01-02 15:04:05"))
	}
	return Quote(c.Raw(i))
}

// Quote 单引号包裹字符串，内部单引号转义为两个
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
