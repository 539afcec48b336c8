package transfer

import (
	"context"
	"errors"
	"fmt"
)

// Exporter builds export payloads from the content store.
type Exporter struct {
	store Store
	log   Logger
}

// NewExporter creates an Exporter.
func NewExporter(store Store, log Logger) *Exporter {
	return &Exporter{store: store, log: log}
}

// Export snapshots record postID. siteURL identifies the exporting site so
// an import elsewhere can rewrite its URLs.
func (e *Exporter) Export(ctx context.Context, postID int64, siteURL string) (*Payload, error) {
	post, err := e.store.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	p := &Payload{
		SiteURL:       siteURL,
		PostTitle:     ptr(post.Title),
		PostContent:   ptr(post.Content),
		PostExcerpt:   ptr(post.Excerpt),
		PostStatus:    ptr(post.Status),
		PostType:      ptr(post.Type),
		PostName:      ptr(post.Slug),
		PostAuthor:    ptr(Text(post.Author)),
		PostDate:      ptr(post.Date),
		PostDateGMT:   ptr(post.DateGMT),
		CommentStatus: ptr(post.CommentStatus),
		PingStatus:    ptr(post.PingStatus),
		PostPassword:  ptr(post.Password),
		MenuOrder:     ptr(Int(post.MenuOrder)),
		PostMeta:      MetaMap{},
		Taxonomies:    TermMap{},
		FeaturedImage: ptr(""),
	}

	meta, err := e.store.ListMeta(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("list meta: %w", err)
	}
	for _, m := range meta {
		if IsReservedMetaKey(m.Key) {
			continue
		}
		p.PostMeta[m.Key] = append(p.PostMeta[m.Key], MetaValue(m.Value))
	}

	taxonomies, err := e.store.TaxonomiesFor(ctx, post.Type)
	if err != nil {
		return nil, fmt.Errorf("list taxonomies: %w", err)
	}
	for _, taxonomy := range taxonomies {
		terms, err := e.store.PostTerms(ctx, postID, taxonomy)
		if err != nil {
			return nil, fmt.Errorf("list %s terms: %w", taxonomy, err)
		}
		if len(terms) == 0 {
			continue
		}
		refs := make([]TermRef, len(terms))
		for i, t := range terms {
			refs[i] = TermRef{Name: t.Name, Slug: t.Slug}
		}
		p.Taxonomies[taxonomy] = refs
	}

	if post.FeaturedMediaID != 0 {
		u, err := e.store.MediaURL(ctx, post.FeaturedMediaID)
		switch {
		case err == nil:
			p.FeaturedImage = ptr(u)
			p.FeaturedImageID = ptr(Int(post.FeaturedMediaID))
		case errors.Is(err, ErrNotFound):
			e.log.Warnf("post %d references missing featured media %d", postID, post.FeaturedMediaID)
		default:
			return nil, fmt.Errorf("featured media %d: %w", post.FeaturedMediaID, err)
		}
	}
	return p, nil
}
