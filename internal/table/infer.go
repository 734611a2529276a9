package table

import (
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// 非缺失单元格中可转换比例达到该值即认定为数值/日期列
	coercionThreshold = 0.9
	// 分类列判定：唯一值数量上限，或唯一值占比上限
	categoricalMaxUnique = 20
	categoricalMaxRatio  = 0.5
)

var missingTokens = map[string]struct{}{
	"":     {},
	"nan":  {},
	"null": {},
	"none": {},
	"n/a":  {},
	"na":   {},
}

func isMissing(s string) bool {
	_, ok := missingTokens[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// IsMissingToken 判断文本是否表示缺失值
func IsMissingToken(s string) bool { return isMissing(s) }

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02/01/2006",
	"01/02/2006",
	"1/2/2006",
	"1/2/2006 15:04",
	"1/2/2006 15:04:05",
	"02-Jan-2006",
	"Jan 2, 2006",
}

// ParseTime 依次尝试常见的日期格式
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseNumber 解析数值，允许千分位逗号、货币符号和百分号
func ParseNumber(s string) (float64, bool) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "$")
	raw = strings.TrimSuffix(raw, "%")
	if strings.Contains(raw, ",") {
		if !looksLikeThousands(raw) {
			return 0, false
		}
		raw = strings.ReplaceAll(raw, ",", "")
	}
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func looksLikeThousands(s string) bool {
	intPart := s
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		intPart = s[:dot]
	}
	intPart = strings.TrimPrefix(intPart, "-")
	groups := strings.Split(intPart, ",")
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

func isWholeNumberText(s string) bool {
	s = strings.TrimSpace(s)
	return !strings.ContainsAny(s, ".eE")
}

func inferType(values []string) (ColumnType, SubKind) {
	nonMissing := 0
	numeric := 0
	integer := true
	dates := 0
	unique := make(map[string]struct{})

	for _, v := range values {
		if isMissing(v) {
			continue
		}
		nonMissing++
		unique[v] = struct{}{}
		if f, ok := ParseNumber(v); ok {
			numeric++
			if f != math.Trunc(f) || !isWholeNumberText(v) {
				integer = false
			}
			continue
		}
		if _, ok := ParseTime(v); ok {
			dates++
		}
	}

	if nonMissing == 0 {
		return TypeText, SubKindNone
	}
	if float64(numeric) >= coercionThreshold*float64(nonMissing) {
		if integer {
			return TypeNumeric, SubKindInteger
		}
		return TypeNumeric, SubKindDecimal
	}
	if float64(dates) >= coercionThreshold*float64(nonMissing) {
		return TypeDatetime, SubKindNone
	}
	if len(unique) <= categoricalMaxUnique || float64(len(unique)) <= categoricalMaxRatio*float64(nonMissing) {
		return TypeCategorical, SubKindNone
	}
	return TypeText, SubKindNone
}
