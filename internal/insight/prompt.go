package insight

import (
	"fmt"
	"sort"
	"strings"

	"github.com/qs3c/anal_data_server/internal/anomaly"
	"github.com/qs3c/anal_data_server/internal/cleaner"
	"github.com/qs3c/anal_data_server/internal/stats"
)

const promptHeader = `You are a data analyst. Based on the dataset summary below, write 3 to 6 concise,
plain-language insights about notable patterns, relationships, data quality issues and anomalies.
Only use facts present in the summary. Do not invent values.`

// BuildPrompt 只使用摘要信息组装提示词，不包含原始行数据
func BuildPrompt(summary *stats.Summary, anomalies *anomaly.Report, cleaning *cleaner.Report) string {
	var sb strings.Builder
	sb.WriteString(promptHeader)
	sb.WriteString("\n\n")

	if summary != nil {
		fmt.Fprintf(&sb, "[Dataset]\nrows=%d columns=%d\n", summary.RowCount, summary.ColumnCount)
		for _, f := range summary.Columns {
			fmt.Fprintf(&sb, "- %s (%s)\n", f.Name, f.Type)
		}

		if len(summary.Numeric) > 0 {
			sb.WriteString("\n[Numeric columns]\n")
			for _, name := range sortedKeys(summary.Numeric) {
				s := summary.Numeric[name]
				fmt.Fprintf(&sb, "- %s: count=%d mean=%s std=%s min=%s median=%s max=%s\n",
					name, s.Count, num(s.Mean), num(s.Std), num(s.Min), num(s.Median), num(s.Max))
			}
		}

		if len(summary.Categorical) > 0 {
			sb.WriteString("\n[Categorical columns]\n")
			for _, name := range sortedKeys(summary.Categorical) {
				c := summary.Categorical[name]
				top := c.Values
				if len(top) > 5 {
					top = top[:5]
				}
				parts := make([]string, len(top))
				for i, v := range top {
					parts[i] = fmt.Sprintf("%s=%d", v.Value, v.Count)
				}
				fmt.Fprintf(&sb, "- %s: unique=%d top: %s\n", name, c.Unique, strings.Join(parts, ", "))
			}
		}

		if m := summary.Correlation; m != nil && len(m.Columns) > 1 {
			sb.WriteString("\n[Correlations]\n")
			for i := 0; i < len(m.Columns); i++ {
				for j := i + 1; j < len(m.Columns); j++ {
					r := m.Values[i][j]
					if r.IsNaN() {
						continue
					}
					fmt.Fprintf(&sb, "- %s ~ %s: r=%.2f\n", m.Columns[i], m.Columns[j], float64(r))
				}
			}
		}
	}

	if cleaning != nil {
		fmt.Fprintf(&sb, "\n[Cleaning]\noriginal_rows=%d cleaned_rows=%d duplicates_removed=%d empty_rows_removed=%d\n",
			cleaning.OriginalRows, cleaning.CleanedRows, cleaning.DuplicatesRemoved, cleaning.EmptyRowsRemoved)
		for _, name := range sortedKeys(cleaning.Imputations) {
			imp := cleaning.Imputations[name]
			if imp.Count > 0 {
				fmt.Fprintf(&sb, "- %s: %d values imputed by %s\n", name, imp.Count, imp.Method)
			}
		}
	}

	if anomalies != nil {
		sb.WriteString("\n[Anomalies]\n")
		for _, name := range sortedKeys(anomalies.Outliers) {
			o := anomalies.Outliers[name]
			if o.Count > 0 {
				fmt.Fprintf(&sb, "- %s: %d IQR outliers (%.1f%%) outside [%s, %s]\n",
					name, o.Count, o.Percentage, num(o.Lower), num(o.Upper))
			}
		}
		for _, rule := range sortedKeys(anomalies.DomainAnomalies) {
			fmt.Fprintf(&sb, "- rule %s: %d rows\n", rule, len(anomalies.DomainAnomalies[rule]))
		}
		for _, name := range sortedKeys(anomalies.InvalidValues) {
			fmt.Fprintf(&sb, "- %s: invalid values %s\n", name, strings.Join(anomalies.InvalidValues[name], ", "))
		}
		if n := len(anomalies.MultivariateOutliers); n > 0 {
			fmt.Fprintf(&sb, "- %d multivariate outlier rows\n", n)
		}
	}

	return sb.String()
}

func num(f stats.Float) string {
	if f.IsNaN() {
		return "n/a"
	}
	return fmt.Sprintf("%.6g", float64(f))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
