package insight

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/qs3c/anal_data_server/internal/anomaly"
	"github.com/qs3c/anal_data_server/internal/cleaner"
	"github.com/qs3c/anal_data_server/internal/pkg/llm"
	"github.com/qs3c/anal_data_server/internal/stats"
)

// Gateway 语言模型网关
type Gateway interface {
	Complete(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

// InsightGenerationError 无法生成洞察
type InsightGenerationError struct {
	Err error
}

func (e *InsightGenerationError) Error() string {
	return fmt.Sprintf("insight generation failed: %v", e.Err)
}

func (e *InsightGenerationError) Unwrap() error { return e.Err }

// Generator 基于统计摘要生成自然语言洞察
type Generator struct {
	gateway      Gateway
	opts         llm.Options
	timeout      time.Duration
	mockFallback bool
}

// NewGenerator 创建洞察生成器
func NewGenerator(gw Gateway, opts llm.Options, timeout time.Duration, mockFallback bool) *Generator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Generator{gateway: gw, opts: opts, timeout: timeout, mockFallback: mockFallback}
}

// Generate 调用模型生成洞察；瞬时错误最多重试一次
func (g *Generator) Generate(ctx context.Context, summary *stats.Summary, anomalies *anomaly.Report, cleaning *cleaner.Report) (string, error) {
	if g.gateway == nil {
		if g.mockFallback {
			return MockInsights(summary, anomalies), nil
		}
		return "", &InsightGenerationError{Err: &llm.LLMError{Message: "no gateway configured"}}
	}

	prompt := BuildPrompt(summary, anomalies, cleaning)
	text, err := g.complete(ctx, prompt)
	if err != nil && llm.IsTransient(err) && ctx.Err() == nil {
		text, err = g.complete(ctx, prompt)
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = &llm.LLMError{Message: "empty completion"}
	}
	if err != nil {
		if g.mockFallback && ctx.Err() == nil {
			return MockInsights(summary, anomalies), nil
		}
		return "", &InsightGenerationError{Err: err}
	}
	return strings.TrimSpace(text), nil
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.gateway.Complete(callCtx, prompt, g.opts)
}

// MockInsights 不依赖模型，直接由统计结果生成确定性的摘要
func MockInsights(summary *stats.Summary, anomalies *anomaly.Report) string {
	var lines []string
	if summary != nil {
		lines = append(lines, fmt.Sprintf("The dataset has %d rows and %d columns.", summary.RowCount, summary.ColumnCount))
		for _, name := range sortedKeys(summary.Numeric) {
			s := summary.Numeric[name]
			if s.Count == 0 {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s ranges from %s to %s with a mean of %s.", name, num(s.Min), num(s.Max), num(s.Mean)))
		}
		if m := summary.Correlation; m != nil {
			best, a, b := 0.0, "", ""
			for i := 0; i < len(m.Columns); i++ {
				for j := i + 1; j < len(m.Columns); j++ {
					r := m.Values[i][j]
					if r.IsNaN() {
						continue
					}
					if v := float64(r); v*v > best*best {
						best, a, b = v, m.Columns[i], m.Columns[j]
					}
				}
			}
			if a != "" {
				lines = append(lines, fmt.Sprintf("The strongest correlation is between %s and %s (r=%.2f).", a, b, best))
			}
		}
	}
	if anomalies != nil {
		rules := make([]string, 0, len(anomalies.DomainAnomalies))
		for rule := range anomalies.DomainAnomalies {
			rules = append(rules, rule)
		}
		sort.Strings(rules)
		if len(rules) > 0 {
			lines = append(lines, "Domain rule violations found: "+strings.Join(rules, ", ")+".")
		}
		if anomalies.Summary != "" {
			lines = append(lines, "Anomaly scan: "+anomalies.Summary+".")
		}
	}
	return strings.Join(lines, "\n")
}
