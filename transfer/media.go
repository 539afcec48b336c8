package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ImageResult describes what happened to one image referenced by a body.
type ImageResult struct {
	Match  string // as found in the body
	Source string // URL actually fetched
	Asset  MediaAsset
	Reused bool
	Err    error
}

// MediaResolver fetches images into the destination media library, reusing
// an existing asset when one with the same fingerprint is already stored.
type MediaResolver struct {
	store   MediaStore
	fetcher Fetcher
	log     Logger
}

// NewMediaResolver creates a MediaResolver.
func NewMediaResolver(store MediaStore, fetcher Fetcher, log Logger) *MediaResolver {
	return &MediaResolver{store: store, fetcher: fetcher, log: log}
}

// Resolve fetches sourceURL and returns the asset holding its bytes. reused
// is true when an asset with the same size and hash already existed, in
// which case nothing new is stored.
func (r *MediaResolver) Resolve(ctx context.Context, sourceURL string) (asset MediaAsset, reused bool, err error) {
	dl, err := r.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return MediaAsset{}, false, err
	}
	r.log.Debugf("fetched %s (%s, sha256 %s)", sourceURL, humanize.Bytes(uint64(dl.Size)), dl.Hash)

	existing, err := r.store.ListMedia(ctx)
	if err != nil {
		dl.Remove()
		return MediaAsset{}, false, fmt.Errorf("list media: %w", err)
	}
	for _, a := range existing {
		if a.Size == dl.Size && a.Hash == dl.Hash {
			dl.Remove()
			if a.URL == "" {
				if a.URL, err = r.store.MediaURL(ctx, a.ID); err != nil {
					return MediaAsset{}, false, fmt.Errorf("media url %d: %w", a.ID, err)
				}
			}
			r.log.Infof("image %s matches existing media %d (%s)", sourceURL, a.ID, a.Filename)
			return a, true, nil
		}
	}

	asset, err = r.store.SideloadMedia(ctx, dl.Path, dl.Name)
	if err != nil {
		dl.Remove()
		return MediaAsset{}, false, fmt.Errorf("sideload %s: %w", dl.Name, err)
	}
	r.log.Infof("image %s imported as media %d (%s)", sourceURL, asset.ID, asset.Filename)
	return asset, false, nil
}

// ResolveImages imports every image referenced by body and points the body
// at the local copies. Failures are per image: the body keeps the URL of an
// image that could not be imported.
func (r *MediaResolver) ResolveImages(ctx context.Context, body, origin string) (string, []ImageResult) {
	var results []ImageResult
	for _, match := range FindImageURLs(body) {
		clean := unescapeSlashes(match)
		source := originImageURL(clean, origin)
		if source != clean {
			r.log.Debugf("reconstructed origin image url %s from %s", source, clean)
		}

		res := ImageResult{Match: match, Source: source}
		asset, reused, err := r.Resolve(ctx, source)
		if err != nil {
			r.log.Warnf("skipping image %s: %v", source, err)
			res.Err = err
			results = append(results, res)
			continue
		}
		res.Asset, res.Reused = asset, reused

		body = strings.ReplaceAll(body, match, asset.URL)
		if clean != match {
			body = strings.ReplaceAll(body, clean, asset.URL)
		}
		if source != clean {
			body = strings.ReplaceAll(body, source, asset.URL)
		}
		results = append(results, res)
	}
	return body, results
}
