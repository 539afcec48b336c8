package transfer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Payload is the JSON export format. Field names are the compatibility
// contract between sites; nil fields were absent from the imported file.
type Payload struct {
	SiteURL         string  `json:"site_url"`
	PostTitle       *string `json:"post_title"`
	PostContent     *string `json:"post_content"`
	PostExcerpt     *string `json:"post_excerpt"`
	PostStatus      *string `json:"post_status"`
	PostType        *string `json:"post_type"`
	PostName        *string `json:"post_name"`
	PostAuthor      *Text   `json:"post_author"`
	PostDate        *string `json:"post_date"`
	PostDateGMT     *string `json:"post_date_gmt"`
	CommentStatus   *string `json:"comment_status"`
	PingStatus      *string `json:"ping_status"`
	PostPassword    *string `json:"post_password"`
	MenuOrder       *Int    `json:"menu_order"`
	PostMeta        MetaMap `json:"post_meta"`
	Taxonomies      TermMap `json:"taxonomies"`
	FeaturedImage   *string `json:"featured_image"`
	FeaturedImageID *Int    `json:"featured_image_id,omitempty"`
}

// UnmarshalJSON decodes each field on its own. A field whose value has the
// wrong shape is treated like an absent one. Text fields take JSON strings
// and numbers.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Payload{}
	var siteURL *string
	fields := map[string]func(json.RawMessage){
		"site_url":          func(r json.RawMessage) { decodeText(r, &siteURL) },
		"post_title":        func(r json.RawMessage) { decodeText(r, &p.PostTitle) },
		"post_content":      func(r json.RawMessage) { decodeText(r, &p.PostContent) },
		"post_excerpt":      func(r json.RawMessage) { decodeText(r, &p.PostExcerpt) },
		"post_status":       func(r json.RawMessage) { decodeText(r, &p.PostStatus) },
		"post_type":         func(r json.RawMessage) { decodeText(r, &p.PostType) },
		"post_name":         func(r json.RawMessage) { decodeText(r, &p.PostName) },
		"post_author":       func(r json.RawMessage) { decodeField(r, &p.PostAuthor) },
		"post_date":         func(r json.RawMessage) { decodeText(r, &p.PostDate) },
		"post_date_gmt":     func(r json.RawMessage) { decodeText(r, &p.PostDateGMT) },
		"comment_status":    func(r json.RawMessage) { decodeText(r, &p.CommentStatus) },
		"ping_status":       func(r json.RawMessage) { decodeText(r, &p.PingStatus) },
		"post_password":     func(r json.RawMessage) { decodeText(r, &p.PostPassword) },
		"menu_order":        func(r json.RawMessage) { decodeField(r, &p.MenuOrder) },
		"post_meta":         func(r json.RawMessage) { decodeField(r, &p.PostMeta) },
		"taxonomies":        func(r json.RawMessage) { decodeField(r, &p.Taxonomies) },
		"featured_image":    func(r json.RawMessage) { decodeText(r, &p.FeaturedImage) },
		"featured_image_id": func(r json.RawMessage) { decodeField(r, &p.FeaturedImageID) },
	}
	for name, value := range raw {
		if decode, ok := fields[name]; ok {
			decode(value)
		}
	}
	p.SiteURL = deref(siteURL)
	return nil
}

// decodeField stores value in dst only if it decodes cleanly.
func decodeField[T any](value json.RawMessage, dst *T) {
	var v T
	if json.Unmarshal(value, &v) == nil {
		*dst = v
	}
}

func decodeText(value json.RawMessage, dst **string) {
	var t *Text
	decodeField(value, &t)
	if t != nil {
		s := string(*t)
		*dst = &s
	}
}

// MetaMap maps a metadata key to its values in order.
type MetaMap map[string][]MetaValue

// UnmarshalJSON also accepts an empty JSON array, which is how PHP encodes
// an empty map.
func (m *MetaMap) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	if isEmptyArray(data) {
		*m = MetaMap{}
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := make(MetaMap, len(raw))
	// Keys whose values are not a list are dropped.
	for key, values := range raw {
		var list []MetaValue
		if json.Unmarshal(values, &list) == nil {
			v[key] = list
		}
	}
	*m = v
	return nil
}

// TermMap maps a taxonomy name to its assigned terms.
type TermMap map[string][]TermRef

// UnmarshalJSON also accepts an empty JSON array.
func (m *TermMap) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	if isEmptyArray(data) {
		*m = TermMap{}
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v := make(TermMap, len(raw))
	// Taxonomies whose terms are not a list of objects are dropped.
	for taxonomy, terms := range raw {
		var refs []TermRef
		if json.Unmarshal(terms, &refs) == nil {
			v[taxonomy] = refs
		}
	}
	*m = v
	return nil
}

// MetaValue is one stored metadata value. Non-string JSON values are
// serialized structures and are kept as their compact JSON text.
type MetaValue string

func (v *MetaValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		*v = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = MetaValue(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*v = MetaValue(buf.String())
	return nil
}

// Int decodes from a JSON number or a numeric string.
type Int int64

func (n *Int) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		return nil
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		*n = Int(i)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %s", data)
	}
	*n = Int(f)
	return nil
}

// Text decodes from a JSON string or number.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if isNull(data) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	if len(data) == 0 || data[0] == '{' || data[0] == '[' || data[0] == 't' || data[0] == 'f' {
		return fmt.Errorf("not a string or number: %s", data)
	}
	*t = Text(data)
	return nil
}

func isNull(data []byte) bool {
	return string(bytes.TrimSpace(data)) == "null"
}

func isEmptyArray(data []byte) bool {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return false
	}
	return len(arr) == 0
}

// Parse decodes and validates an import file. Malformed JSON yields
// ErrParse; a well-formed document without a usable post_title yields
// ErrSchema. Other fields of the wrong shape are treated as absent.
func Parse(data []byte) (*Payload, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrParse)
	}
	if !json.Valid(trimmed) {
		var v interface{}
		err := json.Unmarshal(trimmed, &v)
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrParse)
	}
	var p Payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if p.PostTitle == nil {
		return nil, fmt.Errorf("%w: missing post_title", ErrSchema)
	}
	return &p, nil
}

// EncodePayload writes p as indented JSON with literal Unicode and
// unescaped HTML.
func EncodePayload(w io.Writer, p *Payload) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc.Encode(p)
}

// ExportFilename returns the download name for an export of a record.
func ExportFilename(title string, postID int64, now time.Time) string {
	slug := Slugify(title)
	if slug == "" {
		slug = "post-" + strconv.FormatInt(postID, 10)
	}
	return slug + "-" + now.Format("2006-01-02-15-04-05") + ".json"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ptr[T any](v T) *T {
	return &v
}
