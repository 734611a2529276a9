package translator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/qs3c/anal_data_server/internal/sqlgen"
)

// ErrUnsafeQuery 生成的 SQL 不是针对已知模式的单条只读查询
var ErrUnsafeQuery = errors.New("unsafe query")

var (
	identRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

	forbiddenKeywords = map[string]struct{}{
		"INSERT": {}, "UPDATE": {}, "DELETE": {}, "DROP": {}, "ALTER": {}, "CREATE": {},
		"TRUNCATE": {}, "GRANT": {}, "REVOKE": {}, "MERGE": {}, "REPLACE": {}, "ATTACH": {},
		"DETACH": {}, "PRAGMA": {}, "EXEC": {}, "EXECUTE": {}, "CALL": {}, "INTO": {},
	}

	allowedKeywords = map[string]struct{}{
		"SELECT": {}, "FROM": {}, "WHERE": {}, "AND": {}, "OR": {}, "NOT": {}, "GROUP": {},
		"BY": {}, "ORDER": {}, "ASC": {}, "DESC": {}, "LIMIT": {}, "AS": {}, "DISTINCT": {},
		"COUNT": {}, "AVG": {}, "SUM": {}, "MIN": {}, "MAX": {}, "IS": {}, "NULL": {},
		"IN": {}, "LIKE": {}, "BETWEEN": {}, "HAVING": {},
	}
)

// ValidateReadOnly 确认 sql 是单条 SELECT，不含写操作关键字，且标识符都来自模式
func ValidateReadOnly(sql string, schema Schema) error {
	stripped, err := stripLiterals(strings.TrimSpace(sql))
	if err != nil {
		return err
	}
	stripped = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(stripped), ";"))
	if strings.Contains(stripped, ";") {
		return fmt.Errorf("%w: multiple statements", ErrUnsafeQuery)
	}
	if strings.Contains(stripped, "--") || strings.Contains(stripped, "/*") {
		return fmt.Errorf("%w: comments are not allowed", ErrUnsafeQuery)
	}

	words := identRe.FindAllString(stripped, -1)
	if len(words) == 0 || !strings.EqualFold(words[0], "SELECT") {
		return fmt.Errorf("%w: must start with SELECT", ErrUnsafeQuery)
	}

	known := make(map[string]struct{}, len(schema.Columns)+1)
	known[strings.ToLower(schema.TableName)] = struct{}{}
	for _, c := range schema.Columns {
		known[strings.ToLower(c.Name)] = struct{}{}
	}
	// 关键字作标识符时未加引号的 SQL 无法解析
	for name := range known {
		if sqlgen.IsReserved(name) {
			return fmt.Errorf("%w: reserved word %q used as identifier", ErrUnsafeQuery, name)
		}
	}

	for _, w := range words {
		upper := strings.ToUpper(w)
		if _, bad := forbiddenKeywords[upper]; bad {
			return fmt.Errorf("%w: %s is not allowed", ErrUnsafeQuery, upper)
		}
		if _, ok := allowedKeywords[upper]; ok {
			continue
		}
		if _, ok := known[strings.ToLower(w)]; !ok {
			return fmt.Errorf("%w: unknown identifier %q", ErrUnsafeQuery, w)
		}
	}
	return nil
}

// stripLiterals 把单引号字符串替换为空字面量，'' 视为转义
func stripLiterals(sql string) (string, error) {
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if !inQuote {
			if ch == '"' || ch == '`' {
				return "", fmt.Errorf("%w: quoted identifiers are not allowed", ErrUnsafeQuery)
			}
			if ch == '\'' {
				inQuote = true
				b.WriteString("''")
				continue
			}
			b.WriteByte(ch)
			continue
		}
		if ch == '\'' {
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inQuote = false
		}
	}
	if inQuote {
		return "", fmt.Errorf("%w: unterminated string literal", ErrUnsafeQuery)
	}
	return b.String(), nil
}
