// Package controlcatalog implements interfaces.ControlCatalog (§3
// "Control / Framework catalog records") against SurrealDB. The catalog is
// read-only from the pipeline's perspective; rows are populated by the
// out-of-scope CRUD API.
package controlcatalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/agnivade/levenshtein"
	sdk "github.com/surrealdb/surrealdb.go"

	"github.com/ctrlmap/mapper/internal/common"
	"github.com/ctrlmap/mapper/internal/interfaces"
	"github.com/ctrlmap/mapper/internal/models"
)

type frameworkRow struct {
	FrameworkKey string `json:"framework_key"`
	Name         string `json:"name"`
	Version      string `json:"version"`
	Active       bool   `json:"active"`
}

type controlRow struct {
	ControlKey   string `json:"control_key"`
	FrameworkKey string `json:"framework_key"`
	ControlID    string `json:"control_id"`
	ShortID      string `json:"short_id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Active       bool   `json:"active"`
}

// Catalog implements interfaces.ControlCatalog.
type Catalog struct {
	db     *sdk.DB
	logger *common.Logger
}

// New builds a Catalog over an already-connected SurrealDB handle.
func New(db *sdk.DB, logger *common.Logger) *Catalog {
	return &Catalog{db: db, logger: logger}
}

func (c *Catalog) GetFramework(ctx context.Context, frameworkKey string) (*models.Framework, bool, error) {
	sql := "SELECT framework_key, name, version, active FROM framework WHERE framework_key = $key AND active = true LIMIT 1"
	results, err := sdk.Query[[]frameworkRow](ctx, c.db, sql, map[string]any{"key": frameworkKey})
	if err != nil {
		return nil, false, fmt.Errorf("get framework %s: %w", frameworkKey, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, false, nil
	}
	r := (*results)[0].Result[0]
	return &models.Framework{FrameworkKey: r.FrameworkKey, Name: r.Name, Version: r.Version, Active: r.Active}, true, nil
}

func (c *Catalog) GetControl(ctx context.Context, controlKey string) (*models.Control, bool, error) {
	sql := "SELECT control_key, framework_key, control_id, short_id, title, description, active FROM control WHERE control_key = $key AND active = true LIMIT 1"
	results, err := sdk.Query[[]controlRow](ctx, c.db, sql, map[string]any{"key": controlKey})
	if err != nil {
		return nil, false, fmt.Errorf("get control %s: %w", controlKey, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, false, nil
	}
	return toControl((*results)[0].Result[0]), true, nil
}

func (c *Catalog) ListControls(ctx context.Context, frameworkKey string, controlIDs []string) ([]*models.Control, error) {
	sql := "SELECT control_key, framework_key, control_id, short_id, title, description, active FROM control WHERE framework_key = $fk AND active = true"
	vars := map[string]any{"fk": frameworkKey}
	// B3: an explicit empty list is equivalent to omitted — no filter applied.
	if len(controlIDs) > 0 {
		sql += " AND control_id IN $ids"
		vars["ids"] = controlIDs
	}

	results, err := sdk.Query[[]controlRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list controls for %s: %w", frameworkKey, err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	out := make([]*models.Control, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		out = append(out, toControl(r))
	}
	return out, nil
}

func (c *Catalog) SuggestControlIDs(ctx context.Context, frameworkKey, query string, limit int) ([]string, error) {
	sql := "SELECT short_id FROM control WHERE active = true"
	vars := map[string]any{}
	if frameworkKey != "" {
		sql += " AND framework_key = $fk"
		vars["fk"] = frameworkKey
	}

	type shortIDRow struct {
		ShortID string `json:"short_id"`
	}
	results, err := sdk.Query[[]shortIDRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("suggest control ids: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	candidates := make([]string, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		candidates = append(candidates, r.ShortID)
	}
	return rankSuggestions(candidates, query, limit), nil
}

func (c *Catalog) SuggestFrameworkKeys(ctx context.Context, query string, limit int) ([]string, error) {
	sql := "SELECT framework_key FROM framework WHERE active = true"
	results, err := sdk.Query[[]frameworkRow](ctx, c.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("suggest framework keys: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	candidates := make([]string, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		candidates = append(candidates, r.FrameworkKey)
	}
	return rankSuggestions(candidates, query, limit), nil
}

// rankSuggestions orders candidates by Levenshtein distance to query
// ascending, then lexicographically, and truncates to limit (§4.8 step 2).
func rankSuggestions(candidates []string, query string, limit int) []string {
	type scored struct {
		value    string
		distance int
	}
	ranked := make([]scored, len(candidates))
	for i, cand := range candidates {
		ranked[i] = scored{value: cand, distance: levenshtein.ComputeDistance(query, cand)}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].distance != ranked[j].distance {
			return ranked[i].distance < ranked[j].distance
		}
		return ranked[i].value < ranked[j].value
	})
	if limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = ranked[i].value
	}
	return out
}

func toControl(r controlRow) *models.Control {
	return &models.Control{
		ControlKey:   r.ControlKey,
		FrameworkKey: r.FrameworkKey,
		ControlID:    r.ControlID,
		ShortID:      r.ShortID,
		Title:        r.Title,
		Description:  r.Description,
		Active:       r.Active,
	}
}

var _ interfaces.ControlCatalog = (*Catalog)(nil)
