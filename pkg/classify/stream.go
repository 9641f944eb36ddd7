package classify

import (
	"context"
	"fmt"

	"github.com/colascope/colascope/pkg/remote"
)

// streamPageSize bounds one page of the ordered walk. The remote endpoint
// handles LIMIT/OFFSET fine at this size; larger pages risk response
// truncation.
const streamPageSize = 50_000

// row is the slice of a record the classifier needs.
type row struct {
	ttbID        string
	companyName  string
	brandName    string
	fancifulName string
}

// partition is one (year, month) slice of the corpus. Undated records form
// a single partition with hasDate false.
type partition struct {
	year, month int
	hasDate     bool
}

// streamOrdered walks the whole corpus in chronological order and calls
// visit for every record. Order is partition-by-partition (undated rows
// first, then months ascending), and day ASC, ttb_id ASC within a
// partition. Paging by LIMIT/OFFSET is stable because the sort key is
// total within a partition.
func (c *Classifier) streamOrdered(ctx context.Context, visit func(row) error) error {
	parts, err := c.partitions(ctx)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if err := c.streamPartition(ctx, p, visit); err != nil {
			return err
		}
	}
	return nil
}

// partitions lists the distinct (year, month) pairs present. SQLite sorts
// NULL before everything, which is exactly the order wanted: undated
// legacy rows precede all dated ones.
func (c *Classifier) partitions(ctx context.Context) ([]partition, error) {
	rows, err := c.rc.Query(ctx,
		`SELECT DISTINCT year, month FROM records ORDER BY year ASC, month ASC`)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	parts := make([]partition, 0, len(rows))
	for _, r := range rows {
		if r["year"] == nil || r["month"] == nil {
			parts = append(parts, partition{})
			continue
		}
		parts = append(parts, partition{
			year:    remote.AsInt(r["year"]),
			month:   remote.AsInt(r["month"]),
			hasDate: true,
		})
	}
	return parts, nil
}

func (c *Classifier) streamPartition(ctx context.Context, p partition, visit func(row) error) error {
	where := `year IS NULL`
	if p.hasDate {
		where = fmt.Sprintf(`year = %d AND month = %d`, p.year, p.month)
	}
	for offset := 0; ; offset += streamPageSize {
		rows, err := c.rc.Query(ctx, fmt.Sprintf(
			`SELECT ttb_id, company_name, brand_name, fanciful_name
			 FROM records WHERE %s
			 ORDER BY day ASC, ttb_id ASC
			 LIMIT %d OFFSET %d`, where, streamPageSize, offset))
		if err != nil {
			return fmt.Errorf("stream partition %d-%02d: %w", p.year, p.month, err)
		}
		for _, r := range rows {
			rec := row{
				ttbID:        remote.AsString(r["ttb_id"]),
				companyName:  remote.AsString(r["company_name"]),
				brandName:    remote.AsString(r["brand_name"]),
				fancifulName: remote.AsString(r["fanciful_name"]),
			}
			if err := visit(rec); err != nil {
				return err
			}
		}
		if len(rows) < streamPageSize {
			return nil
		}
	}
}
