package transfer

import (
	"net/url"
	"regexp"
	"strings"
)

// RewriteURLs replaces every literal occurrence of origin in s with
// destination. It is a plain substring replacement, so it also rewrites
// matches inside attribute values or any other text.
func RewriteURLs(s, origin, destination string, enabled bool) string {
	if !enabled || origin == "" || origin == destination {
		return s
	}
	return strings.ReplaceAll(s, origin, destination)
}

// imageURLPattern matches http(s) image URLs, tolerating `\/` escapes left
// in block-comment attributes.
var imageURLPattern = regexp.MustCompile(`(?i)https?:(?:\\?/){2}[^"'\s\[\]<>(),]+\.(?:jpe?g|png|gif)\b`)

// FindImageURLs returns the distinct image URLs referenced by body, in order
// of first appearance.
func FindImageURLs(body string) []string {
	matches := imageURLPattern.FindAllString(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// unescapeSlashes turns `https:\/\/a\/b.png` into `https://a/b.png`.
func unescapeSlashes(s string) string {
	s = strings.ReplaceAll(s, `\/`, "/")
	return strings.ReplaceAll(s, `\`, "")
}

// originImageURL points an image URL back at the origin site when its host
// differs, keeping the path. Embedded URLs are expected to belong to the
// origin, and after a URL rewrite they carry the destination host instead.
func originImageURL(imageURL, origin string) string {
	o, err := url.Parse(origin)
	if err != nil || o.Host == "" {
		return imageURL
	}
	u, err := url.Parse(imageURL)
	if err != nil || u.Host == o.Host {
		return imageURL
	}
	scheme := o.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: o.Host, Path: u.Path, RawPath: u.RawPath}).String()
}
