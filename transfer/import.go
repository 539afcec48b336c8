package transfer

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Request is one import of a payload onto an existing record.
type Request struct {
	PostID       int64
	Data         []byte
	SiteURL      string // destination site base URL
	ReplaceURLs  bool
	ImportImages bool
}

// Result summarizes a completed or failed import.
type Result struct {
	RunID         string
	PostID        int64
	Title         string
	Images        []ImageResult
	FeaturedImage *ImageResult
}

// ImageCounts returns how many images were newly stored, reused and skipped.
func (r *Result) ImageCounts() (imported, reused, failed int) {
	all := r.Images
	if r.FeaturedImage != nil {
		all = append(all[:len(all):len(all)], *r.FeaturedImage)
	}
	for _, img := range all {
		switch {
		case img.Err != nil:
			failed++
		case img.Reused:
			reused++
		default:
			imported++
		}
	}
	return imported, reused, failed
}

// Importer runs the import pipeline:
// parse, rewrite URLs, resolve media, write.
type Importer struct {
	store  Store
	media  *MediaResolver
	writer *ContentWriter
	log    Logger
}

// NewImporter creates an Importer that fetches images with fetcher.
func NewImporter(store Store, fetcher Fetcher, log Logger) *Importer {
	return &Importer{
		store:  store,
		media:  NewMediaResolver(store, fetcher, log),
		writer: NewContentWriter(store, log),
		log:    log,
	}
}

// Import applies req. The payload is validated before the store is touched
// and the target record must exist before any image is fetched. Image
// failures are logged and reported in Result; write failures are returned
// as *WriteError.
//
// Cancelling ctx does not stop an import once it has started: a caller that
// goes away mid-write would otherwise leave the record with its metadata
// deleted and not yet re-added. Fetches stay bounded by the Fetcher's own
// timeout.
func (im *Importer) Import(ctx context.Context, req Request) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	res := &Result{RunID: uuid.NewString(), PostID: req.PostID}
	im.log.Infof("import %s: received %s for post %d", res.RunID, humanize.Bytes(uint64(len(req.Data))), req.PostID)

	p, err := Parse(req.Data)
	if err != nil {
		im.log.Warnf("import %s: %v", res.RunID, err)
		return res, err
	}
	res.Title = *p.PostTitle
	im.log.Infof("import %s: parsed %q from %s", res.RunID, res.Title, p.SiteURL)

	post, err := im.store.GetPost(ctx, req.PostID)
	if err != nil {
		im.log.Warnf("import %s: load post %d: %v", res.RunID, req.PostID, err)
		return res, err
	}

	origin := p.SiteURL
	u := payloadUpdate(p)
	if p.PostContent != nil {
		content := RewriteURLs(*p.PostContent, origin, req.SiteURL, req.ReplaceURLs)
		u.Content = &content
	}
	if p.PostExcerpt != nil {
		excerpt := RewriteURLs(*p.PostExcerpt, origin, req.SiteURL, req.ReplaceURLs)
		u.Excerpt = &excerpt
	}
	im.log.Debugf("import %s: rewritten (replace urls: %t)", res.RunID, req.ReplaceURLs)

	if req.ImportImages {
		if u.Content != nil {
			content, images := im.media.ResolveImages(ctx, *u.Content, origin)
			u.Content = &content
			res.Images = images
		}
		if featured := deref(p.FeaturedImage); featured != "" {
			source := originImageURL(featured, origin)
			fr := ImageResult{Match: featured, Source: source}
			asset, reused, err := im.media.Resolve(ctx, source)
			if err != nil {
				im.log.Warnf("import %s: skipping featured image %s: %v", res.RunID, source, err)
				fr.Err = err
			} else {
				fr.Asset, fr.Reused = asset, reused
				u.FeaturedMediaID = &asset.ID
			}
			res.FeaturedImage = &fr
		}
		imported, reused, failed := res.ImageCounts()
		im.log.Infof("import %s: media resolved (%d imported, %d reused, %d skipped)", res.RunID, imported, reused, failed)
	}

	if err := im.writer.Write(ctx, post, u, p.PostMeta, p.Taxonomies); err != nil {
		im.log.Errorf("import %s: %v", res.RunID, err)
		return res, err
	}
	im.log.Infof("import %s: post %d written", res.RunID, req.PostID)
	return res, nil
}

// payloadUpdate maps the payload's scalar fields onto a PostUpdate. Content
// and excerpt are filled in by the caller after rewriting. Author and type
// are never imported. Empty status, slug and dates are treated as absent.
func payloadUpdate(p *Payload) PostUpdate {
	u := PostUpdate{
		Title:         p.PostTitle,
		Status:        nonEmpty(p.PostStatus),
		Slug:          nonEmpty(p.PostName),
		Date:          nonEmpty(p.PostDate),
		DateGMT:       nonEmpty(p.PostDateGMT),
		CommentStatus: nonEmpty(p.CommentStatus),
		PingStatus:    nonEmpty(p.PingStatus),
		Password:      p.PostPassword,
	}
	if p.MenuOrder != nil {
		u.MenuOrder = ptr(int(*p.MenuOrder))
	}
	return u
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
