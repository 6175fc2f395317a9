package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/predictx-oracle/internal/domain"
)

// listQuery builds a SELECT with numbered placeholders. The base query must
// already have a WHERE clause.
type listQuery struct {
	sb   strings.Builder
	args []any
}

func newListQuery(base string, args ...any) *listQuery {
	q := &listQuery{args: args}
	q.sb.WriteString(base)
	return q
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// window appends the ListOpts time range on timeCol, newest-first ordering
// and paging.
func (q *listQuery) window(timeCol string, opts domain.ListOpts) *listQuery {
	if opts.Since != nil {
		q.sb.WriteString(" AND " + timeCol + " >= " + q.arg(*opts.Since))
	}
	if opts.Until != nil {
		q.sb.WriteString(" AND " + timeCol + " <= " + q.arg(*opts.Until))
	}
	q.sb.WriteString(" ORDER BY " + timeCol + " DESC")
	if opts.Limit > 0 {
		q.sb.WriteString(" LIMIT " + q.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		q.sb.WriteString(" OFFSET " + q.arg(opts.Offset))
	}
	return q
}

func (q *listQuery) String() string { return q.sb.String() }
