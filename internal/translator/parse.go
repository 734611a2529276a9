package translator

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/qs3c/anal_data_server/internal/table"
)

var (
	tokenRe     = regexp.MustCompile(`>=|<=|!=|[<>=]|\d+(?:\.\d+)?|[a-z0-9]+`)
	thousandsRe = regexp.MustCompile(`(\d),(\d{3})`)
)

// tokenize 小写化并切分问题，下划线视为空格，数字中的千分位逗号被去除
func tokenize(question string) []string {
	q := strings.ToLower(question)
	q = strings.ReplaceAll(q, "_", " ")
	for thousandsRe.MatchString(q) {
		q = thousandsRe.ReplaceAllString(q, "$1$2")
	}
	return tokenRe.FindAllString(q, -1)
}

// stem 简单的复数还原
func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 4 && (strings.HasSuffix(w, "ses") || strings.HasSuffix(w, "xes")):
		return w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

func stemAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = stem(w)
	}
	return out
}

func isNumber(tok string) bool {
	_, err := strconv.ParseFloat(tok, 64)
	return err == nil
}

// span 问题中一段被识别的词
type span struct {
	start, end int // [start, end)
}

func (s span) overlaps(o span) bool { return s.start < o.end && o.start < s.end }

type columnMatch struct {
	col int
	span
}

// matchColumns 在词序列中匹配列名，长匹配优先且互不重叠
func matchColumns(tokens []string, schema Schema) []columnMatch {
	stemmed := stemAll(tokens)

	type candidate struct {
		col   int
		words []string
	}
	var cands []candidate
	for j, c := range schema.Columns {
		seen := make(map[string]struct{})
		for _, name := range []string{c.Source, c.Name} {
			words := stemAll(tokenRe.FindAllString(strings.ReplaceAll(strings.ToLower(name), "_", " "), -1))
			if len(words) == 0 {
				continue
			}
			key := strings.Join(words, " ")
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			cands = append(cands, candidate{col: j, words: words})
		}
	}

	sort.SliceStable(cands, func(a, b int) bool { return len(cands[a].words) > len(cands[b].words) })

	var found []columnMatch
	for _, cand := range cands {
		for i := range stemmed {
			end, ok := matchAt(stemmed, i, cand.words)
			if !ok {
				continue
			}
			m := columnMatch{col: cand.col, span: span{i, end}}
			if !overlapsAny(m.span, found) {
				found = append(found, m)
			}
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].start < found[j].start })
	return found
}

// 多词列名之间允许出现的虚词，如 "years of experience"
var fillers = map[string]bool{"of": true, "the": true, "in": true}

// matchAt 从 tokens[i] 开始匹配 words，返回匹配结束位置
func matchAt(tokens []string, i int, words []string) (int, bool) {
	pos := i
	for j, w := range words {
		if j > 0 {
			for pos < len(tokens) && fillers[tokens[pos]] && tokens[pos] != w {
				pos++
			}
		}
		if pos >= len(tokens) || tokens[pos] != w {
			return 0, false
		}
		pos++
	}
	return pos, true
}

func equalWords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func overlapsAny(s span, matches []columnMatch) bool {
	for _, m := range matches {
		if m.overlaps(s) {
			return true
		}
	}
	return false
}

type literalMatch struct {
	col   int
	value string
	span
}

// matchLiterals 把问题中的词与分类列的已知取值对应起来
func matchLiterals(tokens []string, schema Schema, categories map[string][]string, taken []columnMatch) []literalMatch {
	var out []literalMatch
	for j, c := range schema.Columns {
		if c.Type != table.TypeCategorical && c.Type != table.TypeText {
			continue
		}
		for _, v := range categories[c.Source] {
			words := tokenRe.FindAllString(strings.ToLower(v), -1)
			if len(words) == 0 {
				continue
			}
			for i := 0; i+len(words) <= len(tokens); i++ {
				if !equalWords(tokens[i:i+len(words)], words) {
					continue
				}
				s := span{i, i + len(words)}
				if overlapsAny(s, taken) || literalTaken(s, out) {
					continue
				}
				out = append(out, literalMatch{col: j, value: v, span: s})
			}
		}
	}
	return out
}

func literalTaken(s span, ls []literalMatch) bool {
	for _, l := range ls {
		if l.overlaps(s) {
			return true
		}
	}
	return false
}
