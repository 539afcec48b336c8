package transfer

import "context"

// Post statuses understood by the admin editor. Imports accept any string.
const (
	StatusPublish = "publish"
	StatusDraft   = "draft"
	StatusPending = "pending"
	StatusPrivate = "private"
	StatusFuture  = "future"
)

// DateLayout is the layout of Post.Date and Post.DateGMT.
const DateLayout = "2006-01-02 15:04:05"

// Post is a single content record (a post or a page).
type Post struct {
	ID              int64
	Title           string
	Content         string
	Excerpt         string
	Status          string
	Type            string
	Slug            string
	Author          string
	Date            string
	DateGMT         string
	CommentStatus   string
	PingStatus      string
	Password        string
	MenuOrder       int
	FeaturedMediaID int64
}

// PostUpdate is a partial update of a Post. Nil fields are left untouched.
type PostUpdate struct {
	Title           *string
	Content         *string
	Excerpt         *string
	Status          *string
	Slug            *string
	Date            *string
	DateGMT         *string
	CommentStatus   *string
	PingStatus      *string
	Password        *string
	MenuOrder       *int
	FeaturedMediaID *int64
}

// Empty reports whether the update changes nothing.
func (u PostUpdate) Empty() bool {
	return u.Title == nil && u.Content == nil && u.Excerpt == nil && u.Status == nil &&
		u.Slug == nil && u.Date == nil && u.DateGMT == nil && u.CommentStatus == nil &&
		u.PingStatus == nil && u.Password == nil && u.MenuOrder == nil && u.FeaturedMediaID == nil
}

// MetaEntry is one value of a (possibly multi-valued) metadata key.
type MetaEntry struct {
	Key   string
	Value string
}

// Term is a classification term stored under a taxonomy.
type Term struct {
	ID       int64
	Taxonomy string
	Name     string
	Slug     string
}

// TermRef identifies a term inside an export payload.
type TermRef struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// MediaAsset is a stored media file. Size and Hash form its fingerprint.
type MediaAsset struct {
	ID           int64
	Filename     string
	OriginalName string
	MimeType     string
	Width        int
	Height       int
	Size         int64
	Hash         string
	URL          string
	UploadedAt   string
}

// reservedMetaKeys are bookkeeping keys owned by the platform. They never
// leave the site and an import never touches them.
var reservedMetaKeys = map[string]struct{}{
	"_edit_lock": {},
	"_edit_last": {},
	"_encloseme": {},
	"_pingme":    {},
}

// IsReservedMetaKey reports whether key is excluded from export and import.
func IsReservedMetaKey(key string) bool {
	_, ok := reservedMetaKeys[key]
	return ok
}

// ContentStore reads and updates content records.
type ContentStore interface {
	GetPost(ctx context.Context, id int64) (Post, error)
	UpdatePost(ctx context.Context, id int64, u PostUpdate) error
}

// MetaStore holds record metadata.
type MetaStore interface {
	ListMeta(ctx context.Context, postID int64) ([]MetaEntry, error)
	DeleteMeta(ctx context.Context, postID int64, key string) error
	AddMeta(ctx context.Context, postID int64, key, value string) error
}

// TaxonomyStore holds taxonomies, terms and record/term assignments.
type TaxonomyStore interface {
	TaxonomiesFor(ctx context.Context, postType string) ([]string, error)
	PostTerms(ctx context.Context, postID int64, taxonomy string) ([]Term, error)
	FindTermBySlug(ctx context.Context, taxonomy, slug string) (Term, bool, error)
	FindTermByName(ctx context.Context, taxonomy, name string) (Term, bool, error)
	CreateTerm(ctx context.Context, taxonomy, name, slug string) (Term, error)
	SetPostTerms(ctx context.Context, postID int64, taxonomy string, termIDs []int64) error
}

// MediaStore is the destination media library.
type MediaStore interface {
	ListMedia(ctx context.Context) ([]MediaAsset, error)
	SideloadMedia(ctx context.Context, path, name string) (MediaAsset, error)
	MediaURL(ctx context.Context, id int64) (string, error)
}

// Store is everything the export and import pipelines need.
type Store interface {
	ContentStore
	MetaStore
	TaxonomyStore
	MediaStore
}

// Logger is the logging surface used by the pipeline. echo.Logger satisfies it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}
