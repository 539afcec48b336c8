package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/labstack/gommon/log"
)

func testLogger() *log.Logger {
	l := log.New("test")
	l.SetOutput(io.Discard)
	return l
}

// memStore is an in-memory Store for pipeline tests.
type memStore struct {
	posts      map[int64]Post
	meta       map[int64][]MetaEntry
	taxonomies map[string][]string
	terms      []Term
	postTerms  map[int64]map[string][]int64
	media      []MediaAsset
	mediaDir   string
	writes     int
	failStep   string
}

func newMemStore(t *testing.T) *memStore {
	t.Helper()
	return &memStore{
		posts:      make(map[int64]Post),
		meta:       make(map[int64][]MetaEntry),
		taxonomies: map[string][]string{"post": {"category", "post_tag"}},
		postTerms:  make(map[int64]map[string][]int64),
		mediaDir:   t.TempDir(),
	}
}

var errInjected = errors.New("injected failure")

func (s *memStore) GetPost(_ context.Context, id int64) (Post, error) {
	p, ok := s.posts[id]
	if !ok {
		return Post{}, fmt.Errorf("post %d: %w", id, ErrNotFound)
	}
	return p, nil
}

func (s *memStore) UpdatePost(_ context.Context, id int64, u PostUpdate) error {
	if s.failStep == StepFields {
		return errInjected
	}
	p, ok := s.posts[id]
	if !ok {
		return ErrNotFound
	}
	s.writes++
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&p.Title, u.Title)
	set(&p.Content, u.Content)
	set(&p.Excerpt, u.Excerpt)
	set(&p.Status, u.Status)
	set(&p.Slug, u.Slug)
	set(&p.Date, u.Date)
	set(&p.DateGMT, u.DateGMT)
	set(&p.CommentStatus, u.CommentStatus)
	set(&p.PingStatus, u.PingStatus)
	set(&p.Password, u.Password)
	if u.MenuOrder != nil {
		p.MenuOrder = *u.MenuOrder
	}
	if u.FeaturedMediaID != nil {
		p.FeaturedMediaID = *u.FeaturedMediaID
	}
	s.posts[id] = p
	return nil
}

func (s *memStore) ListMeta(_ context.Context, postID int64) ([]MetaEntry, error) {
	return append([]MetaEntry(nil), s.meta[postID]...), nil
}

func (s *memStore) DeleteMeta(_ context.Context, postID int64, key string) error {
	if s.failStep == StepMetadata {
		return errInjected
	}
	s.writes++
	kept := s.meta[postID][:0]
	for _, e := range s.meta[postID] {
		if e.Key != key {
			kept = append(kept, e)
		}
	}
	s.meta[postID] = kept
	return nil
}

func (s *memStore) AddMeta(_ context.Context, postID int64, key, value string) error {
	if s.failStep == StepMetadata {
		return errInjected
	}
	s.writes++
	s.meta[postID] = append(s.meta[postID], MetaEntry{Key: key, Value: value})
	return nil
}

func (s *memStore) TaxonomiesFor(_ context.Context, postType string) ([]string, error) {
	return s.taxonomies[postType], nil
}

func (s *memStore) PostTerms(_ context.Context, postID int64, taxonomy string) ([]Term, error) {
	var out []Term
	for _, id := range s.postTerms[postID][taxonomy] {
		for _, t := range s.terms {
			if t.ID == id {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

func (s *memStore) FindTermBySlug(_ context.Context, taxonomy, slug string) (Term, bool, error) {
	for _, t := range s.terms {
		if t.Taxonomy == taxonomy && t.Slug == slug {
			return t, true, nil
		}
	}
	return Term{}, false, nil
}

func (s *memStore) FindTermByName(_ context.Context, taxonomy, name string) (Term, bool, error) {
	for _, t := range s.terms {
		if t.Taxonomy == taxonomy && t.Name == name {
			return t, true, nil
		}
	}
	return Term{}, false, nil
}

func (s *memStore) CreateTerm(_ context.Context, taxonomy, name, slug string) (Term, error) {
	if s.failStep == StepTaxonomy {
		return Term{}, errInjected
	}
	s.writes++
	t := Term{ID: int64(len(s.terms) + 1), Taxonomy: taxonomy, Name: name, Slug: slug}
	s.terms = append(s.terms, t)
	return t, nil
}

func (s *memStore) SetPostTerms(_ context.Context, postID int64, taxonomy string, ids []int64) error {
	if s.failStep == StepTaxonomy {
		return errInjected
	}
	s.writes++
	if s.postTerms[postID] == nil {
		s.postTerms[postID] = make(map[string][]int64)
	}
	s.postTerms[postID][taxonomy] = append([]int64(nil), ids...)
	return nil
}

func (s *memStore) ListMedia(context.Context) ([]MediaAsset, error) {
	return append([]MediaAsset(nil), s.media...), nil
}

func (s *memStore) SideloadMedia(_ context.Context, path, name string) (MediaAsset, error) {
	size, hash, err := FingerprintFile(path)
	if err != nil {
		return MediaAsset{}, err
	}
	id := int64(len(s.media) + 1)
	filename := fmt.Sprintf("%d-%s", id, name)
	if err := os.Rename(path, filepath.Join(s.mediaDir, filename)); err != nil {
		return MediaAsset{}, err
	}
	a := MediaAsset{
		ID:       id,
		Filename: filename,
		Size:     size,
		Hash:     hash,
		URL:      "http://dest.test/public/uploads/" + filename,
	}
	s.media = append(s.media, a)
	return a, nil
}

func (s *memStore) MediaURL(_ context.Context, id int64) (string, error) {
	for _, a := range s.media {
		if a.ID == id {
			return a.URL, nil
		}
	}
	return "", ErrNotFound
}

func (s *memStore) metaValues(postID int64, key string) []string {
	var out []string
	for _, e := range s.meta[postID] {
		if e.Key == key {
			out = append(out, e.Value)
		}
	}
	sort.Strings(out)
	return out
}

func (s *memStore) termSlugs(postID int64, taxonomy string) []string {
	terms, _ := s.PostTerms(context.Background(), postID, taxonomy)
	var out []string
	for _, t := range terms {
		out = append(out, t.Slug)
	}
	sort.Strings(out)
	return out
}
