// Package classify assigns every record its first-observation signal by
// walking the full corpus in chronological order: first sighting of a
// company, of a brand under that company, of a SKU under that brand, or a
// re-filing. Records without company or brand identity are LEGACY and stay
// out of all seen-sets.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/colascope/colascope/pkg/cola"
	"github.com/colascope/colascope/pkg/remote"
)

const (
	aliasPageSize = 10_000
	// updateChunk caps one UPDATE's IN-list.
	updateChunk = 500
)

// companyKey identifies a company either by its resolved id or, for
// orphaned raw names with no alias entry, by the upper-cased spelling.
// Value-typed so it can key maps directly.
type companyKey struct {
	id  int64
	raw string
}

func orphanKey(rawName string) companyKey {
	return companyKey{id: -1, raw: cola.NormalizeCompanyName(rawName)}
}

type brandKey struct {
	company companyKey
	brand   string
}

type skuKey struct {
	company  companyKey
	brand    string
	fanciful string
}

// Classifier runs the two-pass classification against the remote store.
type Classifier struct {
	rc  *remote.Client
	log *slog.Logger
}

func New(rc *remote.Client, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{rc: rc, log: log}
}

// Stats summarizes one classification run.
type Stats struct {
	Records     int
	BySignal    map[cola.Signal]int
	DistinctSKU int
	Updated     int
}

// Run executes the three passes. Rerunning with the same corpus and alias
// table writes the same signals and counts; the updates are keyed and
// idempotent.
func (c *Classifier) Run(ctx context.Context) (Stats, error) {
	stats := Stats{BySignal: make(map[cola.Signal]int)}

	aliases, err := c.loadAliases(ctx)
	if err != nil {
		return stats, err
	}
	c.log.Info("alias map loaded", "aliases", len(aliases))

	// Pass 1: chronological classification.
	seenCompanyIDs := make(map[int64]struct{})
	seenCompanyRaw := make(map[string]struct{})
	seenBrands := make(map[brandKey]struct{})
	seenSkus := make(map[skuKey]struct{})
	firstInstance := make(map[skuKey]string)
	signals := make(map[string]cola.Signal)

	err = c.streamOrdered(ctx, func(r row) error {
		stats.Records++
		if r.companyName == "" || r.brandName == "" {
			signals[r.ttbID] = cola.SignalLegacy
			return nil
		}

		key := c.companyKeyFor(aliases, r.companyName)
		bk := brandKey{company: key, brand: strings.ToLower(r.brandName)}
		sk := skuKey{company: key, brand: bk.brand, fanciful: strings.ToLower(r.fancifulName)}

		var companySeen bool
		if key.id >= 0 {
			_, companySeen = seenCompanyIDs[key.id]
		} else {
			_, companySeen = seenCompanyRaw[key.raw]
		}

		switch {
		case !companySeen:
			signals[r.ttbID] = cola.SignalNewCompany
		default:
			if _, ok := seenBrands[bk]; !ok {
				signals[r.ttbID] = cola.SignalNewBrand
			} else if _, ok := seenSkus[sk]; !ok {
				signals[r.ttbID] = cola.SignalNewSKU
			} else {
				signals[r.ttbID] = cola.SignalRefile
			}
		}

		if key.id >= 0 {
			seenCompanyIDs[key.id] = struct{}{}
		} else {
			seenCompanyRaw[key.raw] = struct{}{}
		}
		seenBrands[bk] = struct{}{}
		if _, ok := seenSkus[sk]; !ok {
			seenSkus[sk] = struct{}{}
			firstInstance[sk] = r.ttbID
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("pass 1: %w", err)
	}
	stats.DistinctSKU = len(firstInstance)
	c.log.Info("pass 1 complete", "records", stats.Records, "skus", stats.DistinctSKU)

	// Pass 2: per-SKU occurrence counts over a second walk.
	skuCounts := make(map[skuKey]int, len(firstInstance))
	err = c.streamOrdered(ctx, func(r row) error {
		if r.companyName == "" || r.brandName == "" {
			return nil
		}
		key := c.companyKeyFor(aliases, r.companyName)
		sk := skuKey{
			company:  key,
			brand:    strings.ToLower(r.brandName),
			fanciful: strings.ToLower(r.fancifulName),
		}
		skuCounts[sk]++
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("pass 2: %w", err)
	}

	refileCounts := make(map[string]int, len(firstInstance))
	for sk, ttbID := range firstInstance {
		refileCounts[ttbID] = skuCounts[sk] - 1
	}
	c.log.Info("pass 2 complete")

	// Pass 3: grouped updates.
	updated, err := c.applyUpdates(ctx, signals, refileCounts)
	if err != nil {
		return stats, fmt.Errorf("pass 3: %w", err)
	}
	stats.Updated = updated
	for _, sig := range signals {
		stats.BySignal[sig]++
	}
	c.log.Info("classification complete",
		"records", stats.Records,
		"new_company", stats.BySignal[cola.SignalNewCompany],
		"new_brand", stats.BySignal[cola.SignalNewBrand],
		"new_sku", stats.BySignal[cola.SignalNewSKU],
		"refile", stats.BySignal[cola.SignalRefile],
		"legacy", stats.BySignal[cola.SignalLegacy])
	return stats, nil
}

func (c *Classifier) companyKeyFor(aliases map[string]int64, companyName string) companyKey {
	if id, ok := aliases[cola.NormalizeCompanyName(companyName)]; ok {
		return companyKey{id: id}
	}
	return orphanKey(companyName)
}

// loadAliases pages through the alias table and builds the case-folded
// lookup map.
func (c *Classifier) loadAliases(ctx context.Context) (map[string]int64, error) {
	aliases := make(map[string]int64)
	for offset := 0; ; offset += aliasPageSize {
		rows, err := c.rc.Query(ctx, fmt.Sprintf(
			`SELECT raw_name, company_id FROM company_aliases ORDER BY raw_name LIMIT %d OFFSET %d`,
			aliasPageSize, offset))
		if err != nil {
			return nil, fmt.Errorf("load aliases: %w", err)
		}
		for _, r := range rows {
			raw := remote.AsString(r["raw_name"])
			aliases[cola.NormalizeCompanyName(raw)] = int64(remote.AsInt(r["company_id"]))
		}
		if len(rows) < aliasPageSize {
			return aliases, nil
		}
	}
}

// updateGroup is one (signal, refile_count) bucket of pass 3.
type updateGroup struct {
	signal cola.Signal
	refile int
}

// applyUpdates groups keys by their target state and emits chunked keyed
// UPDATEs, batched under the request-size cap.
func (c *Classifier) applyUpdates(ctx context.Context, signals map[string]cola.Signal, refileCounts map[string]int) (int, error) {
	groups := make(map[updateGroup][]string)
	for ttbID, sig := range signals {
		g := updateGroup{signal: sig, refile: refileCounts[ttbID]}
		groups[g] = append(groups[g], ttbID)
	}

	// Deterministic emission order helps log diffing between runs.
	ordered := make([]updateGroup, 0, len(groups))
	for g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].signal != ordered[j].signal {
			return ordered[i].signal < ordered[j].signal
		}
		return ordered[i].refile < ordered[j].refile
	})

	var batch []string
	var batchBytes, updated int
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := c.rc.Exec(ctx, strings.Join(batch, ";\n")); err != nil {
			return err
		}
		batch = batch[:0]
		batchBytes = 0
		return nil
	}

	for _, g := range ordered {
		keys := groups[g]
		sort.Strings(keys)
		for start := 0; start < len(keys); start += updateChunk {
			end := start + updateChunk
			if end > len(keys) {
				end = len(keys)
			}
			stmt := fmt.Sprintf(
				`UPDATE records SET signal = %s, refile_count = %d WHERE ttb_id IN (%s)`,
				remote.QuoteString(string(g.signal)), g.refile,
				remote.InList(keys[start:end]))
			stmtBytes := remote.StatementBytes(stmt)
			if batchBytes+stmtBytes > remote.MaxRequestBytes-4096 {
				if err := flush(); err != nil {
					return updated, err
				}
			}
			batch = append(batch, stmt)
			batchBytes += stmtBytes + 3
			updated += end - start
		}
	}
	return updated, flush()
}
