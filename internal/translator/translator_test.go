package translator

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_data_server/internal/stats"
	"github.com/qs3c/anal_data_server/internal/table"
)

func employeeFixture(t *testing.T) (Schema, *stats.Summary) {
	t.Helper()
	tbl, err := table.Infer("employees", []string{"name", "age", "salary", "department", "years_experience"}, [][]string{
		{"Alice", "30", "50000", "Engineering", "5"},
		{"Bob", "25", "42000", "Sales", "2"},
		{"Carol", "41", "61000", "Engineering", "15"},
		{"Dan", "35", "55000", "Human Resources", "9"},
		{"Eve", "29", "47000", "Sales", "4"},
	})
	require.NoError(t, err)
	summary, err := stats.Summarize(tbl)
	require.NoError(t, err)
	return NewSchema("employees", tbl.Schema()), summary
}

func translate(t *testing.T, question string) *Answer {
	t.Helper()
	schema, summary := employeeFixture(t)
	ans, err := New(0, 0).Translate(schema, summary, question)
	require.NoError(t, err)
	return ans
}

func requireSQL(t *testing.T, ans *Answer) string {
	t.Helper()
	require.False(t, ans.NeedsClarification, "unexpected clarification: %v", ans.ClarificationMessage)
	require.NotNil(t, ans.SQLQuery)
	assert.Nil(t, ans.ClarificationMessage)
	return *ans.SQLQuery
}

func requireClarification(t *testing.T, ans *Answer) string {
	t.Helper()
	require.True(t, ans.NeedsClarification, "expected clarification, got %v", ans.SQLQuery)
	assert.Nil(t, ans.SQLQuery)
	require.NotNil(t, ans.ClarificationMessage)
	assert.NotEmpty(t, *ans.ClarificationMessage)
	return *ans.ClarificationMessage
}

func TestTranslate_Templates(t *testing.T) {
	tests := []struct {
		question string
		want     string
	}{
		{"What is the average salary?", "SELECT AVG(salary) FROM employees"},
		{"Total salaries", "SELECT SUM(salary) FROM employees"},
		{"What's the highest age?", "SELECT MAX(age) FROM employees"},
		{"minimum years of experience", "SELECT MIN(years_experience) FROM employees"},
		{"How many employees are there?", "SELECT COUNT(*) FROM employees"},
		{"How many employees have age over 30?", "SELECT COUNT(*) FROM employees WHERE age > 30"},
		{"Show employees with salary greater than 50,000", "SELECT * FROM employees WHERE salary > 50000"},
		{"employees whose age is at least 35", "SELECT * FROM employees WHERE age >= 35"},
		{"salary <= 47000", "SELECT * FROM employees WHERE salary <= 47000"},
		{"Top 3 salaries", "SELECT * FROM employees ORDER BY salary DESC LIMIT 3"},
		{"bottom 2 by age", "SELECT * FROM employees ORDER BY age ASC LIMIT 2"},
		{"Show the first 5 rows", "SELECT * FROM employees LIMIT 5"},
		{"list all records", "SELECT * FROM employees LIMIT 10"},
		{"Count employees by department", "SELECT department, COUNT(*) FROM employees GROUP BY department ORDER BY COUNT(*) DESC"},
		{"breakdown per department", "SELECT department, COUNT(*) FROM employees GROUP BY department ORDER BY COUNT(*) DESC"},
		{"average salary for each department", "SELECT department, AVG(salary) FROM employees GROUP BY department"},
		{"average salary in Engineering", "SELECT AVG(salary) FROM employees WHERE department = 'Engineering'"},
		{"How many people work in human resources?", "SELECT COUNT(*) FROM employees WHERE department = 'Human Resources'"},
		{"how many departments", "SELECT COUNT(DISTINCT department) FROM employees"},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			ans := translate(t, tt.question)
			assert.Equal(t, tt.want, requireSQL(t, ans))
			assert.Equal(t, "employees", ans.TableName)
			assert.Equal(t, "INTEGER", ans.Schema["salary"])
		})
	}
}

func TestTranslate_Clarifications(t *testing.T) {
	tests := []struct {
		question string
		contains string
	}{
		{"Show me the best one", "ranked"},
		{"What is the average?", "average"},
		{"Which employees earn more than 50000?", "column"},
		{"salary greater than", "value"},
		{"average name", "numeric"},
		{"Tell me something interesting", "does not mention"},
		{"average salary age and years of experience", "several columns"},
		{"department", "what would you like to know"},
		{"top 5", "ranked"},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			msg := requireClarification(t, translate(t, tt.question))
			assert.Contains(t, msg, tt.contains)
			assert.Contains(t, msg, "Available columns: name, age, salary, department, years_experience")
		})
	}
}

func TestTranslate_AmbiguityThresholdIsTunable(t *testing.T) {
	schema, summary := employeeFixture(t)

	ans, err := New(3, 0).Translate(schema, summary, "average salary age and years of experience")
	require.NoError(t, err)
	assert.Equal(t, "SELECT AVG(salary), AVG(age), AVG(years_experience) FROM employees", requireSQL(t, ans))

	ans, err = New(1, 0).Translate(schema, summary, "average salary and age")
	require.NoError(t, err)
	requireClarification(t, ans)
}

func TestTranslate_OutputIsAlwaysReadOnly(t *testing.T) {
	schema, summary := employeeFixture(t)
	tr := New(0, 0)
	questions := []string{
		"drop table employees",
		"delete all rows where salary > 1",
		"update salary to 0",
		"'; DROP TABLE employees; --",
		"average salary; insert into employees values (1)",
		"show salary",
	}
	for _, q := range questions {
		ans, err := tr.Translate(schema, summary, q)
		require.NoError(t, err, q)
		if ans.SQLQuery == nil {
			continue
		}
		sql := *ans.SQLQuery
		assert.True(t, strings.HasPrefix(sql, "SELECT "), sql)
		assert.NoError(t, ValidateReadOnly(sql, schema), sql)
	}
}

func TestTranslate_Concurrent(t *testing.T) {
	schema, summary := employeeFixture(t)
	tr := New(0, 0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ans, err := tr.Translate(schema, summary, "What is the average salary?")
			if assert.NoError(t, err) && assert.NotNil(t, ans.SQLQuery) {
				assert.Equal(t, "SELECT AVG(salary) FROM employees", *ans.SQLQuery)
			}
		}()
	}
	wg.Wait()
}

func TestValidateReadOnly(t *testing.T) {
	schema, _ := employeeFixture(t)

	ok := []string{
		"SELECT * FROM employees",
		"select avg(salary) from employees;",
		"SELECT * FROM employees WHERE name = 'Robert''); DROP TABLE x; --'",
		"SELECT department, COUNT(*) FROM employees GROUP BY department ORDER BY COUNT(*) DESC",
	}
	for _, sql := range ok {
		assert.NoError(t, ValidateReadOnly(sql, schema), sql)
	}

	bad := []string{
		"DELETE FROM employees",
		"SELECT * FROM employees; DROP TABLE employees",
		"SELECT * FROM employees WHERE salary > 1 -- comment",
		"SELECT password FROM employees",
		"SELECT * FROM users",
		"SELECT * FROM employees WHERE name = 'open",
		`SELECT "name" FROM employees`,
		"WITH x AS (SELECT 1) SELECT * FROM x",
		"",
	}
	for _, sql := range bad {
		err := ValidateReadOnly(sql, schema)
		assert.True(t, errors.Is(err, ErrUnsafeQuery), sql)
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"salary", ">=", "50000", "years", "experience"}, tokenize("Salary >= 50,000 years_experience"))
	assert.Equal(t, "salary", stem("salaries"))
	assert.Equal(t, "age", stem("ages"))
	assert.Equal(t, "address", stem("address"))
}

func TestTranslate_ReservedWordColumns(t *testing.T) {
	tbl, err := table.Infer("cases", []string{"case", "desc", "amount"}, [][]string{
		{"A-1", "open", "10"},
		{"A-2", "closed", "20"},
		{"A-3", "open", "35"},
	})
	require.NoError(t, err)
	summary, err := stats.Summarize(tbl)
	require.NoError(t, err)
	schema := NewSchema("cases", tbl.Schema())

	assert.Equal(t, "TEXT", schema.SQLTypes()["case_"])
	assert.Equal(t, "TEXT", schema.SQLTypes()["desc_"])

	ans, err := New(0, 0).Translate(schema, summary, "list case and amount")
	require.NoError(t, err)
	assert.Equal(t, "SELECT case_, amount FROM cases LIMIT 10", requireSQL(t, ans))

	ans, err = New(0, 0).Translate(schema, summary, "What is the average amount?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT AVG(amount) FROM cases", requireSQL(t, ans))
}

func TestValidateReadOnly_RejectsReservedIdentifiers(t *testing.T) {
	schema := Schema{TableName: "cases", Columns: []Column{
		{Name: "case", Source: "case", Type: table.TypeText, SQLType: "TEXT"},
		{Name: "amount", Source: "amount", Type: table.TypeNumeric, SQLType: "INTEGER"},
	}}
	err := ValidateReadOnly("SELECT case, amount FROM cases LIMIT 10", schema)
	assert.True(t, errors.Is(err, ErrUnsafeQuery))
}
