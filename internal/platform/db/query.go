package db

import (
	"fmt"
	"strings"
)

// Query builds a SELECT with a scoped WHERE clause and matching COUNT.
// Clauses use ? placeholders which are numbered as they are added.
type Query struct {
	from    string
	cols    string
	where   []string
	args    []any
	orderBy string
}

func NewQuery(from, cols string) *Query {
	return &Query{from: from, cols: cols}
}

// Add appends a clause joined with AND.
func (q *Query) Add(clause string, args ...any) *Query {
	var b strings.Builder
	n := 0
	for _, r := range clause {
		if r == '?' && n < len(args) {
			fmt.Fprintf(&b, "$%d", len(q.args)+n+1)
			n++
			continue
		}
		b.WriteRune(r)
	}
	q.where = append(q.where, b.String())
	q.args = append(q.args, args...)
	return q
}

// AddIf appends the clause only when cond holds.
func (q *Query) AddIf(cond bool, clause string, args ...any) *Query {
	if cond {
		q.Add(clause, args...)
	}
	return q
}

// OrderBy sets the ORDER BY clause (without the keyword).
func (q *Query) OrderBy(orderBy string) *Query {
	q.orderBy = orderBy
	return q
}

// ApplySort maps a comma-separated sort parameter ("-createdAt,name") onto
// whitelisted columns, falling back to defaultOrder.
func (q *Query) ApplySort(sortParam, defaultOrder string, columns map[string]string) *Query {
	var parts []string
	for _, field := range strings.Split(sortParam, ",") {
		field = strings.TrimSpace(field)
		dir := "ASC"
		if strings.HasPrefix(field, "-") {
			dir = "DESC"
			field = field[1:]
		}
		if col, ok := columns[field]; ok {
			parts = append(parts, col+" "+dir)
		}
	}
	if len(parts) == 0 {
		q.orderBy = defaultOrder
	} else {
		q.orderBy = strings.Join(parts, ", ")
	}
	return q
}

func (q *Query) whereSQL() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func (q *Query) Args() []any {
	return q.args
}

func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", q.from, q.whereSQL())
}

// SelectSQL returns the unpaginated data query.
func (q *Query) SelectSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s%s", q.cols, q.from, q.whereSQL())
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql
}

// DataSQL returns the data query with LIMIT/OFFSET placeholders appended.
func (q *Query) DataSQL() string {
	n := len(q.args)
	return q.SelectSQL() + fmt.Sprintf(" LIMIT $%d OFFSET $%d", n+1, n+2)
}

func (q *Query) DataArgs(limit, offset int) []any {
	out := make([]any, len(q.args), len(q.args)+2)
	copy(out, q.args)
	return append(out, limit, offset)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern is an ILIKE pattern matching s literally anywhere in the
// value. Backslash is the default LIKE escape character.
func ContainsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
