package translator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qs3c/anal_data_server/internal/sqlgen"
	"github.com/qs3c/anal_data_server/internal/stats"
	"github.com/qs3c/anal_data_server/internal/table"
)

const (
	DefaultMaxAmbiguousColumns = 2
	DefaultLimit               = 10
)

// Column 可查询的列
type Column struct {
	Name    string           `json:"name"`
	Source  string           `json:"source"`
	Type    table.ColumnType `json:"type"`
	SQLType string           `json:"sql_type"`
}

// Schema 翻译时使用的表结构
type Schema struct {
	TableName string   `json:"table_name"`
	Columns   []Column `json:"columns"`
}

// NewSchema 根据数据集的列模式构建 Schema，列名与 SQL 产物保持一致
func NewSchema(tableName string, fields []table.Field) Schema {
	defs := sqlgen.Columns(fields)
	s := Schema{TableName: tableName, Columns: make([]Column, len(defs))}
	for j, d := range defs {
		s.Columns[j] = Column{Name: d.Name, Source: fields[j].Name, Type: fields[j].Type, SQLType: d.SQLType}
	}
	return s
}

// SQLTypes 列名到 SQL 类型的映射
func (s Schema) SQLTypes() map[string]string {
	out := make(map[string]string, len(s.Columns))
	for _, c := range s.Columns {
		out[c.Name] = c.SQLType
	}
	return out
}

func (s Schema) columnNames() []string {
	names := make([]string, len(s.Columns))
	for j, c := range s.Columns {
		names[j] = c.Name
	}
	return names
}

// Answer 翻译结果：要么是 SQL，要么是澄清请求
type Answer struct {
	Question             string            `json:"question"`
	SQLQuery             *string           `json:"sql_query"`
	NeedsClarification   bool              `json:"needs_clarification"`
	ClarificationMessage *string           `json:"clarification_message"`
	TableName            string            `json:"table_name"`
	Schema               map[string]string `json:"schema"`
}

// Translator 把自然语言问题翻译为只读 SQL。无状态，可并发使用。
type Translator struct {
	MaxAmbiguousColumns int
	DefaultLimit        int
}

// New 创建翻译器
func New(maxAmbiguousColumns, defaultLimit int) *Translator {
	if maxAmbiguousColumns <= 0 {
		maxAmbiguousColumns = DefaultMaxAmbiguousColumns
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Translator{MaxAmbiguousColumns: maxAmbiguousColumns, DefaultLimit: defaultLimit}
}

// Translate 翻译一个问题。只有生成的 SQL 未通过只读校验时才返回错误。
func (tr *Translator) Translate(schema Schema, summary *stats.Summary, question string) (*Answer, error) {
	ans := &Answer{
		Question:  question,
		TableName: schema.TableName,
		Schema:    schema.SQLTypes(),
	}

	p := tr.parse(schema, summary, question)
	sql, reason := tr.plan(schema, p)
	if reason != "" {
		msg := clarification(schema, reason)
		ans.NeedsClarification = true
		ans.ClarificationMessage = &msg
		return ans, nil
	}

	if err := ValidateReadOnly(sql, schema); err != nil {
		return nil, err
	}
	ans.SQLQuery = &sql
	return ans, nil
}

func clarification(schema Schema, reason string) string {
	return fmt.Sprintf("Could you clarify your question? %s. Available columns: %s.",
		reason, strings.Join(schema.columnNames(), ", "))
}

type aggregate string

const (
	aggNone  aggregate = ""
	aggAvg   aggregate = "AVG"
	aggSum   aggregate = "SUM"
	aggMax   aggregate = "MAX"
	aggMin   aggregate = "MIN"
	aggCount aggregate = "COUNT"
)

type filter struct {
	col   int
	op    string
	value string
}

type parsed struct {
	tokens      []string
	columns     []columnMatch
	agg         aggregate
	limit       int
	limitRank   bool // top/bottom N，需要排序列
	descending  bool
	superlative bool
	rowsIntent  bool
	group       int
	filters     []filter
	compareErr  string
	targets     []int
}

var singleAggWords = map[string]aggregate{
	"average": aggAvg, "mean": aggAvg, "avg": aggAvg,
	"sum": aggSum, "total": aggSum,
	"max": aggMax, "maximum": aggMax, "highest": aggMax, "largest": aggMax, "biggest": aggMax,
	"min": aggMin, "minimum": aggMin, "lowest": aggMin, "smallest": aggMin,
	"count": aggCount,
}

var superlativeWords = map[string]bool{
	"best": true, "top": true, "greatest": true, "most": true,
	"worst": false, "bottom": false, "least": false,
}

var rankWords = map[string]bool{
	"top": true, "highest": true, "largest": true, "biggest": true, "best": true,
	"bottom": false, "lowest": false, "smallest": false, "worst": false,
}

var rowsWords = map[string]bool{
	"show": true, "list": true, "display": true, "rows": true, "row": true,
	"records": true, "record": true, "preview": true, "sample": true, "first": true,
	"all": true, "everything": true,
}

type comparison struct {
	words    []string
	op       string
	explicit bool
}

// 长短语在前，保证 "greater than or equal to" 先于 "greater than" 匹配
var comparisons = []comparison{
	{[]string{"greater", "than", "or", "equal", "to"}, ">=", true},
	{[]string{"less", "than", "or", "equal", "to"}, "<=", true},
	{[]string{"no", "less", "than"}, ">=", true},
	{[]string{"no", "more", "than"}, "<=", true},
	{[]string{"at", "least"}, ">=", true},
	{[]string{"at", "most"}, "<=", true},
	{[]string{"greater", "than"}, ">", true},
	{[]string{"more", "than"}, ">", true},
	{[]string{"higher", "than"}, ">", true},
	{[]string{"less", "than"}, "<", true},
	{[]string{"fewer", "than"}, "<", true},
	{[]string{"lower", "than"}, "<", true},
	{[]string{"equal", "to"}, "=", true},
	{[]string{">="}, ">=", true},
	{[]string{"<="}, "<=", true},
	{[]string{">"}, ">", true},
	{[]string{"<"}, "<", true},
	{[]string{"="}, "=", true},
	{[]string{"above"}, ">", false},
	{[]string{"over"}, ">", false},
	{[]string{"exceeds"}, ">", false},
	{[]string{"exceeding"}, ">", false},
	{[]string{"below"}, "<", false},
	{[]string{"under"}, "<", false},
	{[]string{"equals"}, "=", false},
	{[]string{"is"}, "=", false},
}

func (tr *Translator) parse(schema Schema, summary *stats.Summary, question string) *parsed {
	p := &parsed{tokens: tokenize(question), group: -1}
	p.columns = matchColumns(p.tokens, schema)

	used := make([]bool, len(p.tokens))
	for _, m := range p.columns {
		for i := m.start; i < m.end; i++ {
			used[i] = true
		}
	}

	// top/bottom/first N
	for i := 0; i+1 < len(p.tokens); i++ {
		if used[i] || !isInteger(p.tokens[i+1]) {
			continue
		}
		n, _ := strconv.Atoi(p.tokens[i+1])
		if n <= 0 {
			continue
		}
		if desc, ok := rankWords[p.tokens[i]]; ok {
			p.limit, p.limitRank, p.descending = n, true, desc
			used[i], used[i+1] = true, true
			break
		}
		if p.tokens[i] == "first" || p.tokens[i] == "show" || p.tokens[i] == "list" {
			p.limit, p.rowsIntent = n, true
			used[i], used[i+1] = true, true
			break
		}
	}

	// 聚合关键词
	for i, tok := range p.tokens {
		if used[i] {
			continue
		}
		if i+1 < len(p.tokens) && ((tok == "how" && p.tokens[i+1] == "many") || (tok == "number" && p.tokens[i+1] == "of")) {
			if p.agg == aggNone {
				p.agg = aggCount
			}
			used[i], used[i+1] = true, true
			continue
		}
		if a, ok := singleAggWords[tok]; ok {
			if p.limitRank && (a == aggMax || a == aggMin) {
				used[i] = true
				continue
			}
			if p.agg == aggNone {
				p.agg = a
			}
			used[i] = true
			continue
		}
		if desc, ok := superlativeWords[tok]; ok && !p.limitRank {
			p.superlative = true
			p.descending = desc
			used[i] = true
			continue
		}
		if rowsWords[tok] {
			p.rowsIntent = true
		}
	}

	// 分组：by / per / each 后紧跟列名
	for _, m := range p.columns {
		if m.start == 0 {
			continue
		}
		prev := p.tokens[m.start-1]
		if prev == "by" || prev == "per" || prev == "each" {
			p.group = m.col
			break
		}
	}

	filterCols := make(map[int]bool)
	p.parseComparisons(schema, used, filterCols)

	if summary != nil {
		categories := make(map[string][]string, len(summary.Categorical))
		for name, c := range summary.Categorical {
			for _, v := range c.Values {
				categories[name] = append(categories[name], v.Value)
			}
		}
		for _, lit := range matchLiterals(p.tokens, schema, categories, p.columns) {
			if lit.col == p.group {
				continue
			}
			p.filters = append(p.filters, filter{col: lit.col, op: "=", value: sqlgen.Quote(lit.value)})
			filterCols[lit.col] = true
		}
	}

	seen := make(map[int]bool)
	for _, m := range p.columns {
		if m.col == p.group || filterCols[m.col] || seen[m.col] {
			continue
		}
		seen[m.col] = true
		p.targets = append(p.targets, m.col)
	}
	return p
}

func (p *parsed) parseComparisons(schema Schema, used []bool, filterCols map[int]bool) {
	for i := 0; i < len(p.tokens); i++ {
		if used[i] {
			continue
		}
		cmp, ok := matchComparison(p.tokens, i)
		if !ok {
			continue
		}
		valueAt := i + len(cmp.words)
		if valueAt >= len(p.tokens) || used[valueAt] || !isNumber(p.tokens[valueAt]) {
			if cmp.explicit {
				p.compareErr = "which value should be compared"
			}
			continue
		}

		col := p.nearestColumn(i, valueAt+1)
		if col < 0 {
			p.compareErr = "which column should be compared against " + p.tokens[valueAt]
			continue
		}
		c := schema.Columns[col]
		if c.Type != table.TypeNumeric {
			p.compareErr = fmt.Sprintf("column %s is not numeric and cannot be compared with %s", c.Name, p.tokens[valueAt])
			continue
		}
		p.filters = append(p.filters, filter{col: col, op: cmp.op, value: p.tokens[valueAt]})
		filterCols[col] = true
		for k := i; k <= valueAt; k++ {
			used[k] = true
		}
		i = valueAt
	}
}

func matchComparison(tokens []string, i int) (comparison, bool) {
	for _, c := range comparisons {
		if i+len(c.words) <= len(tokens) && equalWords(tokens[i:i+len(c.words)], c.words) {
			return c, true
		}
	}
	return comparison{}, false
}

// nearestColumn 优先取比较短语之前最近的列，其次取数值之后紧邻的列
func (p *parsed) nearestColumn(before, after int) int {
	best := -1
	for _, m := range p.columns {
		if m.end <= before && m.col != p.group {
			best = m.col
		}
	}
	if best >= 0 {
		return best
	}
	for _, m := range p.columns {
		if m.start >= after && m.col != p.group {
			return m.col
		}
	}
	return -1
}

func isInteger(tok string) bool {
	_, err := strconv.Atoi(tok)
	return err == nil
}

// plan 选择查询模板；返回非空 reason 表示需要澄清
func (tr *Translator) plan(schema Schema, p *parsed) (string, string) {
	if p.compareErr != "" {
		return "", p.compareErr
	}
	if len(p.targets) > tr.MaxAmbiguousColumns {
		names := make([]string, len(p.targets))
		for i, c := range p.targets {
			names[i] = schema.Columns[c].Name
		}
		return "", fmt.Sprintf("several columns match (%s), please name the one you mean", strings.Join(names, ", "))
	}

	from := " FROM " + schema.TableName + where(schema, p.filters)
	col := func(j int) string { return schema.Columns[j].Name }

	switch {
	case p.agg == aggCount:
		var selects []string
		for _, t := range p.targets {
			selects = append(selects, "COUNT(DISTINCT "+col(t)+")")
		}
		if len(selects) == 0 {
			selects = []string{"COUNT(*)"}
		}
		if p.group >= 0 {
			return "SELECT " + col(p.group) + ", COUNT(*)" + from + " GROUP BY " + col(p.group) + " ORDER BY COUNT(*) DESC", ""
		}
		return "SELECT " + strings.Join(selects, ", ") + from, ""

	case p.agg != aggNone:
		if len(p.targets) == 0 {
			return "", fmt.Sprintf("which column should the %s be computed on", aggName(p.agg))
		}
		selects := make([]string, 0, len(p.targets))
		for _, t := range p.targets {
			c := schema.Columns[t]
			if c.Type != table.TypeNumeric && !((p.agg == aggMax || p.agg == aggMin) && c.Type == table.TypeDatetime) {
				return "", fmt.Sprintf("the %s needs a numeric column but %s is %s", aggName(p.agg), c.Name, c.Type)
			}
			selects = append(selects, string(p.agg)+"("+c.Name+")")
		}
		if p.group >= 0 {
			return "SELECT " + col(p.group) + ", " + strings.Join(selects, ", ") + from + " GROUP BY " + col(p.group), ""
		}
		return "SELECT " + strings.Join(selects, ", ") + from, ""

	case p.limitRank || p.superlative:
		rankBy := -1
		if len(p.targets) > 0 {
			rankBy = p.targets[0]
		} else if p.group >= 0 {
			rankBy = p.group
		}
		if rankBy < 0 {
			return "", "which column should the results be ranked by"
		}
		limit := p.limit
		if limit <= 0 {
			limit = tr.DefaultLimit
		}
		dir := "DESC"
		if !p.descending {
			dir = "ASC"
		}
		return fmt.Sprintf("SELECT *%s ORDER BY %s %s LIMIT %d", from, col(rankBy), dir, limit), ""

	case p.group >= 0:
		return "SELECT " + col(p.group) + ", COUNT(*)" + from + " GROUP BY " + col(p.group) + " ORDER BY COUNT(*) DESC", ""

	case len(p.filters) > 0:
		return "SELECT *" + from, ""

	case p.rowsIntent:
		limit := p.limit
		if limit <= 0 {
			limit = tr.DefaultLimit
		}
		selects := "*"
		if len(p.targets) > 0 {
			names := make([]string, len(p.targets))
			for i, t := range p.targets {
				names[i] = col(t)
			}
			selects = strings.Join(names, ", ")
		}
		return fmt.Sprintf("SELECT %s FROM %s LIMIT %d", selects, schema.TableName, limit), ""
	}

	if len(p.columns) == 0 {
		return "", "the question does not mention any known column"
	}
	return "", "what would you like to know about " + col(p.columns[0].col)
}

func where(schema Schema, filters []filter) string {
	if len(filters) == 0 {
		return ""
	}
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = schema.Columns[f.col].Name + " " + f.op + " " + f.value
	}
	return " WHERE " + strings.Join(parts, " AND ")
}

func aggName(a aggregate) string {
	switch a {
	case aggAvg:
		return "average"
	case aggSum:
		return "sum"
	case aggMax:
		return "maximum"
	case aggMin:
		return "minimum"
	}
	return "count"
}
