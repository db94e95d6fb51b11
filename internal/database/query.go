package database

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// query builds PostgREST filter strings.
type query struct {
	parts []string
}

func newQuery() *query { return &query{} }

// Eq adds an equality filter.
func (q *query) Eq(column, value string) *query {
	q.parts = append(q.parts, column+"=eq."+url.QueryEscape(value))
	return q
}

// Is adds an IS filter (for null, true, false).
func (q *query) Is(column, value string) *query {
	q.parts = append(q.parts, column+"=is."+value)
	return q
}

// In adds an IN filter.
func (q *query) In(column string, values ...string) *query {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = url.QueryEscape(v)
	}
	q.parts = append(q.parts, fmt.Sprintf("%s=in.(%s)", column, strings.Join(escaped, ",")))
	return q
}

// Select restricts the returned columns.
func (q *query) Select(columns string) *query {
	q.parts = append(q.parts, "select="+columns)
	return q
}

// Order adds an ordering clause such as "id.asc".
func (q *query) Order(clause string) *query {
	q.parts = append(q.parts, "order="+clause)
	return q
}

// Limit caps the number of rows. Non-positive values are ignored.
func (q *query) Limit(n int) *query {
	if n > 0 {
		q.parts = append(q.parts, "limit="+strconv.Itoa(n))
	}
	return q
}

func (q *query) String() string {
	return strings.Join(q.parts, "&")
}
