// Package transfer implements the JSON entry import and export
// invariants: a conflict strategy, a scope remap table, an entry cap, and
// per-entry error tolerance that keeps the batch going. Like package
// backup, it is a library only — import/export is an out-of-scope
// external collaborator per spec.md §1, specified only as the invariants
// it must uphold, so this package isn't wired into a boundary tool.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/coccobas/agent-memory/internal/apperr"
	"github.com/coccobas/agent-memory/internal/store"
)

// ConflictStrategy governs what happens when an imported record's
// (scope, kind, identityKey) already has an active entry.
type ConflictStrategy string

const (
	ConflictUpdate  ConflictStrategy = "update"
	ConflictSkip    ConflictStrategy = "skip"
	ConflictError   ConflictStrategy = "error"
	ConflictReplace ConflictStrategy = "replace"
)

const defaultMaxEntries = 10000

// Record is the JSON wire shape of one entry, used by both Export and
// Import; Kind/Scope/IdentityKey/Content round-trip exactly, the rest are
// carried for fidelity but not required on import.
type Record struct {
	ID          string          `json:"id,omitempty"`
	Kind        store.EntryKind `json:"kind"`
	Scope       string          `json:"scope"`
	ScopeID     string          `json:"scopeId,omitempty"`
	IdentityKey string          `json:"identityKey"`
	Category    string          `json:"category,omitempty"`
	Priority    int             `json:"priority,omitempty"`
	Level       string          `json:"level,omitempty"`
	Content     json.RawMessage `json:"content"`
}

// Bundle is the top-level JSON document Import/Export exchange.
type Bundle struct {
	Entries []Record `json:"entries"`
}

// Options configures one Import call.
type Options struct {
	ConflictStrategy ConflictStrategy
	// ScopeRemap maps an incoming scopeId to the scopeId it should be
	// imported under, e.g. when restoring into a renamed project.
	ScopeRemap map[string]string
	// MaxEntries caps a single import call; <= 0 uses the 10000 default.
	MaxEntries int
	Agent      string
}

// EntryError records one record's per-entry import failure without
// aborting the rest of the batch.
type EntryError struct {
	IdentityKey string
	Reason      string
}

// Result summarizes one Import call.
type Result struct {
	Created int
	Updated int
	Skipped int
	Errors  []EntryError
}

// Importer applies Bundle records against the live entry repositories.
type Importer struct {
	Repos map[store.EntryKind]*store.EntryRepository
}

// ErrNotImplemented is returned by the YAML and Markdown importers, which
// spec.md §6 names explicitly as unsupported formats.
var ErrNotImplemented = errors.New("transfer: format not implemented")

// ImportYAML is a named stub: YAML entry import is explicitly
// not-implemented per spec.md §6.
func (im *Importer) ImportYAML(context.Context, []byte, Options) (*Result, error) {
	return nil, ErrNotImplemented
}

// ImportMarkdown is a named stub: Markdown entry import is explicitly
// not-implemented per spec.md §6.
func (im *Importer) ImportMarkdown(context.Context, []byte, Options) (*Result, error) {
	return nil, ErrNotImplemented
}

// ImportJSON decodes a Bundle and applies each record, honoring
// opts.ConflictStrategy and opts.ScopeRemap, enforcing opts.MaxEntries,
// and tolerating per-entry failures (they land in Result.Errors and the
// batch continues).
func (im *Importer) ImportJSON(ctx context.Context, data []byte, opts Options) (*Result, error) {
	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, apperr.Validation("body", "malformed import bundle").Wrap(err)
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if len(bundle.Entries) > maxEntries {
		return nil, apperr.New(apperr.CodeSizeLimitExceeded, "import exceeds maxImportEntries").
			With("limit", maxEntries).With("count", len(bundle.Entries))
	}

	result := &Result{}
	strategy := opts.ConflictStrategy
	if strategy == "" {
		strategy = ConflictUpdate
	}

	for _, rec := range bundle.Entries {
		if err := im.importOne(ctx, rec, strategy, opts, result); err != nil {
			result.Errors = append(result.Errors, EntryError{IdentityKey: rec.IdentityKey, Reason: err.Error()})
		}
	}
	return result, nil
}

func (im *Importer) importOne(ctx context.Context, rec Record, strategy ConflictStrategy, opts Options, result *Result) error {
	repo, ok := im.Repos[rec.Kind]
	if !ok {
		return apperr.Validation("kind", "unknown entry kind "+string(rec.Kind))
	}
	scopeID := rec.ScopeID
	if remapped, ok := opts.ScopeRemap[scopeID]; ok {
		scopeID = remapped
	}
	scope := store.Scope{Type: store.ScopeType(rec.Scope), ID: scopeID}

	existing, err := repo.GetByIdentity(ctx, scope, rec.IdentityKey)
	if err != nil && apperr.CodeOf(err) != apperr.CodeNotFound {
		return err
	}
	if err != nil { // not found: create fresh
		_, err := repo.Create(ctx, store.CreateInput{
			Scope:       scope,
			IdentityKey: rec.IdentityKey,
			Category:    rec.Category,
			Priority:    rec.Priority,
			Level:       store.ExperienceLevel(rec.Level),
			Content:     rec.Content,
			CreatedBy:   opts.Agent,
		})
		if err != nil {
			return err
		}
		result.Created++
		return nil
	}

	switch strategy {
	case ConflictSkip:
		result.Skipped++
		return nil
	case ConflictError:
		return apperr.Conflict(string(rec.Kind), rec.IdentityKey, "an active entry already exists at this identity")
	case ConflictReplace:
		if err := repo.Deactivate(ctx, existing.ID); err != nil {
			return err
		}
		if _, err := repo.Create(ctx, store.CreateInput{
			Scope: scope, IdentityKey: rec.IdentityKey, Category: rec.Category, Priority: rec.Priority,
			Level: store.ExperienceLevel(rec.Level), Content: rec.Content, CreatedBy: opts.Agent,
		}); err != nil {
			return err
		}
		result.Updated++
		return nil
	default: // ConflictUpdate
		category, priority := rec.Category, rec.Priority
		level := store.ExperienceLevel(rec.Level)
		if _, err := repo.Update(ctx, existing.ID, store.Patch{
			Content: rec.Content, Category: &category, Priority: &priority, Level: &level,
			ChangeReason: "import",
		}, opts.Agent); err != nil {
			return err
		}
		result.Updated++
		return nil
	}
}

// Exporter reads entries back out into the same Bundle shape Import
// consumes, so export(import(bundle)) round-trips up to ordering.
type Exporter struct {
	Repos map[store.EntryKind]*store.EntryRepository
}

// ExportJSON returns every active, current entry of the given kinds
// (all repos if kinds is empty) at the given scope as a JSON Bundle,
// sorted by (kind, identityKey) for a stable, deterministic byte output.
func (ex *Exporter) ExportJSON(ctx context.Context, scope store.Scope, kinds []store.EntryKind) ([]byte, error) {
	if len(kinds) == 0 {
		for k := range ex.Repos {
			kinds = append(kinds, k)
		}
	}
	var records []Record
	for _, kind := range kinds {
		repo, ok := ex.Repos[kind]
		if !ok {
			continue
		}
		entries, err := repo.List(ctx, store.ListFilter{Scope: scope})
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			records = append(records, Record{
				ID: e.ID, Kind: e.Kind, Scope: string(e.ScopeType), ScopeID: e.ScopeID,
				IdentityKey: e.IdentityKey, Category: e.Category, Priority: e.Priority,
				Level: string(e.Level), Content: json.RawMessage(e.Content),
			})
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Kind != records[j].Kind {
			return records[i].Kind < records[j].Kind
		}
		return records[i].IdentityKey < records[j].IdentityKey
	})
	return json.Marshal(Bundle{Entries: records})
}
