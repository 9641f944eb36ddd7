// Package indexer maintains the company and brand lookup tables in the
// remote store: brand slugs for URL routing, company rows with alias
// mappings for spelling normalization, and the periodic merge that folds
// case-variant duplicate companies together.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/colascope/colascope/pkg/cola"
	"github.com/colascope/colascope/pkg/localstore"
	"github.com/colascope/colascope/pkg/remote"
)

const (
	// slugRowsPerStatement is the multi-row VALUES width for slug inserts.
	slugRowsPerStatement = 1_000
	aliasPageSize        = 10_000
	// companyInsertChunk bounds one company insert round trip; ids are
	// selected back per chunk.
	companyInsertChunk = 500
)

type Indexer struct {
	local *localstore.Store
	rc    *remote.Client
	log   *slog.Logger
}

func New(local *localstore.Store, rc *remote.Client, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{local: local, rc: rc, log: log}
}

// Stats summarizes one index maintenance run.
type Stats struct {
	BrandSlugs    int
	NewCompanies  int
	NewAliases    int
	MergedAliases int
}

// Update refreshes both index tables from the consolidated local store.
func (ix *Indexer) Update(ctx context.Context) (Stats, error) {
	var stats Stats

	n, err := ix.UpdateBrandSlugs(ctx)
	if err != nil {
		return stats, err
	}
	stats.BrandSlugs = n

	companies, aliases, err := ix.UpdateCompanies(ctx)
	if err != nil {
		return stats, err
	}
	stats.NewCompanies = companies
	stats.NewAliases = aliases
	return stats, nil
}

// UpdateBrandSlugs inserts slug rows for brand names the remote table does
// not know yet. Collisions inside one run keep the preferred brand name;
// collisions with existing rows are settled by INSERT OR IGNORE, first
// writer wins.
func (ix *Indexer) UpdateBrandSlugs(ctx context.Context) (int, error) {
	counts, err := ix.local.BrandFilingCounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("local brand counts: %w", err)
	}

	// Resolve slug collisions before building statements.
	bySlug := make(map[string]string, len(counts))
	for name := range counts {
		slug := cola.Slugify(name)
		if slug == "" {
			continue
		}
		if prev, ok := bySlug[slug]; ok {
			bySlug[slug] = cola.PreferredBrandForSlug(prev, name)
		} else {
			bySlug[slug] = name
		}
	}

	slugs := make([]string, 0, len(bySlug))
	for slug := range bySlug {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	inserted := 0
	for start := 0; start < len(slugs); start += slugRowsPerStatement {
		end := start + slugRowsPerStatement
		if end > len(slugs) {
			end = len(slugs)
		}
		rows := make([]string, 0, end-start)
		for _, slug := range slugs[start:end] {
			name := bySlug[slug]
			rows = append(rows, fmt.Sprintf("(%s, %s, %d)",
				remote.QuoteString(slug), remote.QuoteString(name), counts[name]))
		}
		stmt := `INSERT OR IGNORE INTO brand_slugs (slug, brand_name, filing_count) VALUES ` +
			strings.Join(rows, ", ")
		res, err := ix.rc.Exec(ctx, stmt)
		if err != nil {
			return inserted, fmt.Errorf("insert brand slugs: %w", err)
		}
		for _, r := range res {
			inserted += r.Meta.Changes
		}
	}
	ix.log.Info("brand slugs updated", "candidates", len(slugs), "inserted", inserted)
	return inserted, nil
}

// UpdateCompanies creates Company rows and alias mappings for raw company
// names with no existing alias. Spellings that fold to the same upper-cased
// name share one company; the lexicographically smallest spelling becomes
// canonical.
func (ix *Indexer) UpdateCompanies(ctx context.Context) (companies, aliases int, err error) {
	names, err := ix.local.DistinctCompanyNames(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("local company names: %w", err)
	}
	known, err := ix.loadAliases(ctx)
	if err != nil {
		return 0, 0, err
	}

	// Group uncovered spellings by their folded form.
	groups := make(map[string][]string)
	for _, name := range names {
		folded := cola.NormalizeCompanyName(name)
		if _, ok := known[folded]; ok {
			continue
		}
		groups[folded] = append(groups[folded], name)
	}
	if len(groups) == 0 {
		return 0, 0, nil
	}

	folded := make([]string, 0, len(groups))
	for f := range groups {
		folded = append(folded, f)
	}
	sort.Strings(folded)

	for start := 0; start < len(folded); start += companyInsertChunk {
		end := start + companyInsertChunk
		if end > len(folded) {
			end = len(folded)
		}
		chunk := folded[start:end]

		canonical := make(map[string]string, len(chunk)) // folded -> canonical spelling
		rows := make([]string, 0, len(chunk))
		for _, f := range chunk {
			spellings := groups[f]
			sort.Strings(spellings)
			canonical[f] = spellings[0]
			rows = append(rows, fmt.Sprintf("(%s, %s, 0)",
				remote.QuoteString(spellings[0]),
				remote.QuoteString(cola.Slugify(spellings[0]))))
		}
		stmt := `INSERT INTO companies (canonical_name, slug, total_filings) VALUES ` +
			strings.Join(rows, ", ")
		if _, err := ix.rc.Exec(ctx, stmt); err != nil {
			return companies, aliases, fmt.Errorf("insert companies: %w", err)
		}
		companies += len(chunk)

		ids, err := ix.companyIDs(ctx, canonical)
		if err != nil {
			return companies, aliases, err
		}

		aliasRows := make([]string, 0, len(chunk))
		for _, f := range chunk {
			id, ok := ids[f]
			if !ok {
				return companies, aliases, fmt.Errorf("company id missing for %q after insert", canonical[f])
			}
			for _, spelling := range groups[f] {
				aliasRows = append(aliasRows, fmt.Sprintf("(%s, %d)",
					remote.QuoteString(spelling), id))
			}
		}
		stmt = `INSERT OR IGNORE INTO company_aliases (raw_name, company_id) VALUES ` +
			strings.Join(aliasRows, ", ")
		if _, err := ix.rc.Exec(ctx, stmt); err != nil {
			return companies, aliases, fmt.Errorf("insert aliases: %w", err)
		}
		aliases += len(aliasRows)
	}
	ix.log.Info("companies indexed", "new_companies", companies, "new_aliases", aliases)
	return companies, aliases, nil
}

// companyIDs selects back the ids of just-inserted companies, keyed by the
// folded name. Duplicate canonical names keep the newest row, which is the
// one this run inserted.
func (ix *Indexer) companyIDs(ctx context.Context, canonical map[string]string) (map[string]int64, error) {
	quoted := make([]string, 0, len(canonical))
	for _, name := range canonical {
		quoted = append(quoted, remote.QuoteString(name))
	}
	rows, err := ix.rc.Query(ctx, fmt.Sprintf(
		`SELECT id, canonical_name FROM companies WHERE canonical_name IN (%s) ORDER BY id ASC`,
		strings.Join(quoted, ", ")))
	if err != nil {
		return nil, fmt.Errorf("select company ids: %w", err)
	}
	ids := make(map[string]int64, len(rows))
	for _, r := range rows {
		name := remote.AsString(r["canonical_name"])
		ids[cola.NormalizeCompanyName(name)] = int64(remote.AsInt(r["id"]))
	}
	return ids, nil
}

// MergeDuplicates folds alias groups that share an upper-cased spelling but
// point at different companies, rewriting every alias in the group to the
// smallest company id.
func (ix *Indexer) MergeDuplicates(ctx context.Context) (int, error) {
	type aliasRow struct {
		raw string
		id  int64
	}
	groups := make(map[string][]aliasRow)
	for offset := 0; ; offset += aliasPageSize {
		rows, err := ix.rc.Query(ctx, fmt.Sprintf(
			`SELECT raw_name, company_id FROM company_aliases ORDER BY raw_name LIMIT %d OFFSET %d`,
			aliasPageSize, offset))
		if err != nil {
			return 0, fmt.Errorf("load aliases: %w", err)
		}
		for _, r := range rows {
			raw := remote.AsString(r["raw_name"])
			folded := cola.NormalizeCompanyName(raw)
			groups[folded] = append(groups[folded], aliasRow{
				raw: raw,
				id:  int64(remote.AsInt(r["company_id"])),
			})
		}
		if len(rows) < aliasPageSize {
			break
		}
	}

	merged := 0
	for _, group := range groups {
		minID := group[0].id
		spansMultiple := false
		for _, a := range group[1:] {
			if a.id != group[0].id {
				spansMultiple = true
			}
			if a.id < minID {
				minID = a.id
			}
		}
		if !spansMultiple {
			continue
		}
		var rewrite []string
		for _, a := range group {
			if a.id != minID {
				rewrite = append(rewrite, a.raw)
			}
		}
		stmt := fmt.Sprintf(
			`UPDATE company_aliases SET company_id = %d WHERE raw_name IN (%s)`,
			minID, remote.InList(rewrite))
		if _, err := ix.rc.Exec(ctx, stmt); err != nil {
			return merged, fmt.Errorf("merge aliases: %w", err)
		}
		merged += len(rewrite)
	}
	ix.log.Info("duplicate companies merged", "aliases_rewritten", merged)
	return merged, nil
}

// RefreshCompanyTotals recomputes total_filings for every company from the
// synced record corpus.
func (ix *Indexer) RefreshCompanyTotals(ctx context.Context) error {
	stmt := `UPDATE companies SET total_filings = (
		SELECT COUNT(*) FROM records r
		JOIN company_aliases a ON r.company_name = a.raw_name
		WHERE a.company_id = companies.id)`
	if _, err := ix.rc.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("refresh company totals: %w", err)
	}
	ix.log.Info("company filing totals refreshed")
	return nil
}

func (ix *Indexer) loadAliases(ctx context.Context) (map[string]int64, error) {
	aliases := make(map[string]int64)
	for offset := 0; ; offset += aliasPageSize {
		rows, err := ix.rc.Query(ctx, fmt.Sprintf(
			`SELECT raw_name, company_id FROM company_aliases ORDER BY raw_name LIMIT %d OFFSET %d`,
			aliasPageSize, offset))
		if err != nil {
			return nil, fmt.Errorf("load aliases: %w", err)
		}
		for _, r := range rows {
			aliases[cola.NormalizeCompanyName(remote.AsString(r["raw_name"]))] =
				int64(remote.AsInt(r["company_id"]))
		}
		if len(rows) < aliasPageSize {
			return aliases, nil
		}
	}
}
