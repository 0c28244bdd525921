package vectorstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

// FilterOp selects how a metadata filter compares.
type FilterOp string

const (
	FilterEquals      FilterOp = "eq"
	FilterIn          FilterOp = "in"
	FilterGreaterThan FilterOp = "gt"
	FilterLessThan    FilterOp = "lt"
)

// MetadataFilter is one predicate over the JSONB metadata column.
// Value serves eq, Values serves in, Number serves gt/lt.
type MetadataFilter struct {
	Key    string
	Op     FilterOp
	Value  string
	Values []string
	Number float64
}

// TimeRange restricts created_at to [Start, End].
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// buildFilterClauses renders the filters as SQL predicates with
// positional parameters starting at argOffset+1.
func buildFilterClauses(filters []MetadataFilter, timeRange *TimeRange, argOffset int) ([]string, []any, error) {
	var clauses []string
	var args []any
	n := argOffset

	for _, f := range filters {
		if f.Key == "" {
			return nil, nil, smerrors.New(smerrors.KindInvalidInput, "vectorstore", "metadata filter with empty key")
		}
		switch f.Op {
		case FilterEquals:
			clauses = append(clauses, fmt.Sprintf("metadata->>$%d = $%d", n+1, n+2))
			args = append(args, f.Key, f.Value)
			n += 2
		case FilterIn:
			if len(f.Values) == 0 {
				return nil, nil, smerrors.Newf(smerrors.KindInvalidInput, "vectorstore", "membership filter %q with no values", f.Key)
			}
			clauses = append(clauses, fmt.Sprintf("metadata->>$%d = ANY($%d)", n+1, n+2))
			args = append(args, f.Key, pq.Array(f.Values))
			n += 2
		case FilterGreaterThan:
			clauses = append(clauses, fmt.Sprintf("(metadata->>$%d)::float > $%d", n+1, n+2))
			args = append(args, f.Key, f.Number)
			n += 2
		case FilterLessThan:
			clauses = append(clauses, fmt.Sprintf("(metadata->>$%d)::float < $%d", n+1, n+2))
			args = append(args, f.Key, f.Number)
			n += 2
		default:
			return nil, nil, smerrors.Newf(smerrors.KindInvalidInput, "vectorstore", "unknown filter op %q", f.Op)
		}
	}

	if timeRange != nil {
		if timeRange.End.Before(timeRange.Start) {
			return nil, nil, smerrors.New(smerrors.KindInvalidInput, "vectorstore", "time range end precedes start")
		}
		clauses = append(clauses, fmt.Sprintf("created_at BETWEEN $%d AND $%d", n+1, n+2))
		args = append(args, timeRange.Start, timeRange.End)
	}

	return clauses, args, nil
}

func joinClauses(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " AND " + strings.Join(clauses, " AND ")
}
