package transfer

import (
	"context"
	"sort"
)

// ContentWriter applies an import to a record in three steps: fields, then
// metadata, then taxonomy terms. A failed step stops the write; earlier
// steps stay applied.
type ContentWriter struct {
	store Store
	log   Logger
}

// NewContentWriter creates a ContentWriter.
func NewContentWriter(store Store, log Logger) *ContentWriter {
	return &ContentWriter{store: store, log: log}
}

// Write runs all three steps for post. A nil meta or terms map skips that
// step; an empty one clears it.
func (w *ContentWriter) Write(ctx context.Context, post Post, u PostUpdate, meta MetaMap, terms TermMap) error {
	if err := w.WriteFields(ctx, post.ID, u); err != nil {
		return err
	}
	if meta != nil {
		if err := w.WriteMeta(ctx, post.ID, meta); err != nil {
			return err
		}
	}
	if terms != nil {
		if err := w.WriteTerms(ctx, post, terms); err != nil {
			return err
		}
	}
	return nil
}

// WriteFields updates the record's scalar fields.
func (w *ContentWriter) WriteFields(ctx context.Context, postID int64, u PostUpdate) error {
	if u.Empty() {
		return nil
	}
	if err := w.store.UpdatePost(ctx, postID, u); err != nil {
		return &WriteError{Step: StepFields, Err: err}
	}
	return nil
}

// WriteMeta replaces every non-reserved metadata key on the record with the
// values in meta.
func (w *ContentWriter) WriteMeta(ctx context.Context, postID int64, meta MetaMap) error {
	current, err := w.store.ListMeta(ctx, postID)
	if err != nil {
		return &WriteError{Step: StepMetadata, Err: err}
	}
	deleted := make(map[string]struct{})
	for _, e := range current {
		if IsReservedMetaKey(e.Key) {
			continue
		}
		if _, ok := deleted[e.Key]; ok {
			continue
		}
		if err := w.store.DeleteMeta(ctx, postID, e.Key); err != nil {
			return &WriteError{Step: StepMetadata, Err: err}
		}
		deleted[e.Key] = struct{}{}
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if IsReservedMetaKey(key) {
			w.log.Debugf("ignoring reserved meta key %s", key)
			continue
		}
		for _, v := range meta[key] {
			if err := w.store.AddMeta(ctx, postID, key, string(v)); err != nil {
				return &WriteError{Step: StepMetadata, Err: err}
			}
		}
	}
	return nil
}

// WriteTerms replaces the record's terms for every taxonomy in terms that
// is registered for the record's type. Terms are matched by slug, then by
// name, and created when neither matches.
func (w *ContentWriter) WriteTerms(ctx context.Context, post Post, terms TermMap) error {
	registered, err := w.store.TaxonomiesFor(ctx, post.Type)
	if err != nil {
		return &WriteError{Step: StepTaxonomy, Err: err}
	}
	allowed := make(map[string]struct{}, len(registered))
	for _, t := range registered {
		allowed[t] = struct{}{}
	}

	taxonomies := make([]string, 0, len(terms))
	for t := range terms {
		taxonomies = append(taxonomies, t)
	}
	sort.Strings(taxonomies)
	for _, taxonomy := range taxonomies {
		if _, ok := allowed[taxonomy]; !ok {
			w.log.Warnf("taxonomy %s is not registered for %s, skipping", taxonomy, post.Type)
			continue
		}
		ids := make([]int64, 0, len(terms[taxonomy]))
		seen := make(map[int64]struct{})
		for _, ref := range terms[taxonomy] {
			term, ok, err := w.resolveTerm(ctx, taxonomy, ref)
			if err != nil {
				return &WriteError{Step: StepTaxonomy, Err: err}
			}
			if !ok {
				continue
			}
			if _, dup := seen[term.ID]; dup {
				continue
			}
			seen[term.ID] = struct{}{}
			ids = append(ids, term.ID)
		}
		if err := w.store.SetPostTerms(ctx, post.ID, taxonomy, ids); err != nil {
			return &WriteError{Step: StepTaxonomy, Err: err}
		}
	}
	return nil
}

func (w *ContentWriter) resolveTerm(ctx context.Context, taxonomy string, ref TermRef) (Term, bool, error) {
	name, slug := ref.Name, ref.Slug
	if slug == "" {
		slug = Slugify(name)
	}
	if slug != "" {
		t, ok, err := w.store.FindTermBySlug(ctx, taxonomy, slug)
		if err != nil || ok {
			return t, ok, err
		}
	}
	if name != "" {
		t, ok, err := w.store.FindTermByName(ctx, taxonomy, name)
		if err != nil || ok {
			return t, ok, err
		}
	}
	if slug == "" {
		w.log.Warnf("skipping %s term with no usable name or slug", taxonomy)
		return Term{}, false, nil
	}
	if name == "" {
		name = slug
	}
	t, err := w.store.CreateTerm(ctx, taxonomy, name, slug)
	if err != nil {
		return Term{}, false, err
	}
	w.log.Infof("created %s term %q (%s)", taxonomy, t.Name, t.Slug)
	return t, true, nil
}
