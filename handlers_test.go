package postxfer_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/eringen/postxfer"
	"github.com/eringen/postxfer/transfer"
	"github.com/eringen/postxfer/views"
)

const testPassword = "correct horse"

type testEnv struct {
	t      *testing.T
	app    *postxfer.App
	srv    *httptest.Server
	client *http.Client
	csrf   string
}

func newTestEnv(t *testing.T, opts ...postxfer.Option) *testEnv {
	t.Helper()
	dir := t.TempDir()
	app := postxfer.New(postxfer.SiteConfig{
		URL:           "http://dest.test",
		DatabasePath:  filepath.Join(dir, "data", "site.db"),
		StaticDir:     filepath.Join(dir, "public"),
		AdminPassword: testPassword,
		SessionSecret: "0123456789abcdef0123456789abcdef",
		LogLevel:      "off",
	}, views.Funcs(), opts...)
	if err := app.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	srv := httptest.NewServer(app.Echo)
	t.Cleanup(func() {
		srv.Close()
		app.Close()
	})

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{t: t, app: app, srv: srv, client: &http.Client{Jar: jar}}

	resp, err := env.client.Get(srv.URL + "/admin/")
	if err != nil {
		t.Fatalf("GET /admin/: %v", err)
	}
	resp.Body.Close()
	u, _ := url.Parse(srv.URL)
	for _, c := range jar.Cookies(u) {
		if c.Name == "_csrf" {
			env.csrf = c.Value
		}
	}
	if env.csrf == "" {
		t.Fatal("no CSRF cookie issued")
	}
	return env
}

func (e *testEnv) login() {
	e.t.Helper()
	resp, err := e.client.PostForm(e.srv.URL+"/admin/login/", url.Values{
		"password": {testPassword},
		"_csrf":    {e.csrf},
	})
	if err != nil {
		e.t.Fatalf("login: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "<h1>Records</h1>") {
		e.t.Fatalf("login did not reach the dashboard: %d %s", resp.StatusCode, body)
	}
}

func (e *testEnv) createPost(p transfer.Post) int64 {
	e.t.Helper()
	id, err := e.app.Store.CreatePost(context.Background(), p)
	if err != nil {
		e.t.Fatalf("CreatePost: %v", err)
	}
	return id
}

func (e *testEnv) post(id int64) transfer.Post {
	e.t.Helper()
	p, err := e.app.Store.GetPost(context.Background(), id)
	if err != nil {
		e.t.Fatalf("GetPost(%d): %v", id, err)
	}
	return p
}

func (e *testEnv) export(postID int64, nonce string) *http.Response {
	e.t.Helper()
	resp, err := e.client.PostForm(e.srv.URL+"/admin/export/", url.Values{
		"post_id": {strconv.FormatInt(postID, 10)},
		"nonce":   {nonce},
		"_csrf":   {e.csrf},
	})
	if err != nil {
		e.t.Fatalf("export: %v", err)
	}
	return resp
}

type importForm struct {
	postID       int64
	nonce        string
	data         []byte
	replaceURL   string
	importImages string
	noFile       bool
}

type envelope struct {
	Success bool `json:"success"`
	Data    struct {
		Message string `json:"message"`
	} `json:"data"`
}

func (e *testEnv) importFile(f importForm) (int, envelope) {
	e.t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("post_id", strconv.FormatInt(f.postID, 10))
	_ = w.WriteField("import_post_nonce", f.nonce)
	_ = w.WriteField("replace_url", f.replaceURL)
	_ = w.WriteField("import_images", f.importImages)
	if !f.noFile {
		fw, err := w.CreateFormFile("import_file", "export.json")
		if err != nil {
			e.t.Fatal(err)
		}
		fw.Write(f.data)
	}
	w.Close()

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/admin/import/", &body)
	if err != nil {
		e.t.Fatal(err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-CSRF-Token", e.csrf)
	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("import: %v", err)
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		e.t.Fatalf("import response is not JSON: %v", err)
	}
	return resp.StatusCode, env
}

func TestExportDownloadsJSON(t *testing.T) {
	env := newTestEnv(t)
	env.login()
	id := env.createPost(transfer.Post{
		Title:   "Hello World",
		Content: `<p>Café & "quotes" <b>bold</b></p>`,
		Status:  transfer.StatusPublish,
		Slug:    "hello-world",
	})
	ctx := context.Background()
	_ = env.app.Store.AddMeta(ctx, id, "subtitle", "Hi")
	_ = env.app.Store.AddMeta(ctx, id, "_edit_lock", "1:1")

	resp := env.export(id, env.app.ActionToken("export_post", id))
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}
	cd := resp.Header.Get("Content-Disposition")
	if !strings.HasPrefix(cd, `attachment; filename="hello-world-`) || !strings.HasSuffix(cd, `.json"`) {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if cl := resp.Header.Get("Content-Length"); cl != strconv.Itoa(len(body)) {
		t.Errorf("Content-Length = %q, body is %d bytes", cl, len(body))
	}
	if !bytes.Contains(body, []byte(`Café & \"quotes\" <b>bold</b>`)) {
		t.Errorf("content should keep literal Unicode and HTML: %s", body)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if payload["site_url"] != "http://dest.test" || payload["post_title"] != "Hello World" {
		t.Errorf("unexpected payload header fields: %v", payload)
	}
	meta, _ := payload["post_meta"].(map[string]any)
	if _, ok := meta["_edit_lock"]; ok {
		t.Error("reserved meta key exported")
	}
	if vals, _ := meta["subtitle"].([]any); len(vals) != 1 || vals[0] != "Hi" {
		t.Errorf("subtitle meta = %v", meta["subtitle"])
	}
}

func TestExportRejects(t *testing.T) {
	env := newTestEnv(t)
	id := env.createPost(transfer.Post{Title: "Secret"})

	resp := env.export(id, env.app.ActionToken("export_post", id))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without session: status = %d, want 401", resp.StatusCode)
	}

	env.login()
	tests := []struct {
		name   string
		postID int64
		nonce  string
		want   int
	}{
		{"bad nonce", id, "nope", http.StatusForbidden},
		{"import nonce", id, env.app.ActionToken("import_post", id), http.StatusForbidden},
		{"other record nonce", id, env.app.ActionToken("export_post", id+1), http.StatusForbidden},
		{"missing record", id + 1, env.app.ActionToken("export_post", id+1), http.StatusNotFound},
	}
	for _, tt := range tests {
		resp := env.export(tt.postID, tt.nonce)
		var body envelope
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if resp.StatusCode != tt.want || body.Success {
			t.Errorf("%s: status = %d success = %v, want %d", tt.name, resp.StatusCode, body.Success, tt.want)
		}
	}
}

func TestExportThenImportIntoAnotherRecord(t *testing.T) {
	env := newTestEnv(t)
	env.login()
	ctx := context.Background()
	src := env.createPost(transfer.Post{
		Title:         "Source",
		Content:       `<p>See <a href="http://dest.test/about">about</a></p>`,
		Excerpt:       "An excerpt",
		Status:        transfer.StatusPublish,
		Slug:          "source",
		Date:          "2024-05-01 09:00:00",
		DateGMT:       "2024-05-01 07:00:00",
		CommentStatus: "closed",
		PingStatus:    "open",
		MenuOrder:     3,
	})
	_ = env.app.Store.AddMeta(ctx, src, "color", "red")
	_ = env.app.Store.AddMeta(ctx, src, "color", "blue")
	tag, _ := env.app.Store.CreateTerm(ctx, "post_tag", "Go", "go")
	_ = env.app.Store.SetPostTerms(ctx, src, "post_tag", []int64{tag.ID})

	dst := env.createPost(transfer.Post{Title: "Target", Status: transfer.StatusDraft})

	resp := env.export(src, env.app.ActionToken("export_post", src))
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	code, res := env.importFile(importForm{
		postID:       dst,
		nonce:        env.app.ActionToken("import_post", dst),
		data:         data,
		replaceURL:   "1",
		importImages: "1",
	})
	if code != http.StatusOK || !res.Success || res.Data.Message != "Import completed successfully" {
		t.Fatalf("import = %d %+v", code, res)
	}

	got, want := env.post(dst), env.post(src)
	want.ID = dst
	if got != want {
		t.Errorf("imported record = %+v\nwant %+v", got, want)
	}
	meta, _ := env.app.Store.ListMeta(ctx, dst)
	if len(meta) != 2 || meta[0].Value != "red" || meta[1].Value != "blue" {
		t.Errorf("meta = %+v", meta)
	}
	tags, _ := env.app.Store.PostTerms(ctx, dst, "post_tag")
	if len(tags) != 1 || tags[0].ID != tag.ID {
		t.Errorf("tags = %+v", tags)
	}
}

func TestImportFailuresLeaveRecordUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.login()
	id := env.createPost(transfer.Post{Title: "Untouched", Content: "original"})
	nonce := env.app.ActionToken("import_post", id)

	tests := []struct {
		name string
		form importForm
		want int
	}{
		{"not json", importForm{postID: id, nonce: nonce, data: []byte("{not json")}, http.StatusBadRequest},
		{"not an object", importForm{postID: id, nonce: nonce, data: []byte(`["a"]`)}, http.StatusBadRequest},
		{"missing title", importForm{postID: id, nonce: nonce, data: []byte(`{"post_content":"x"}`)}, http.StatusBadRequest},
		{"no file", importForm{postID: id, nonce: nonce, noFile: true}, http.StatusBadRequest},
		{"bad nonce", importForm{postID: id, nonce: "nope", data: []byte(`{"post_title":"x"}`)}, http.StatusForbidden},
		{"export nonce", importForm{postID: id, nonce: env.app.ActionToken("export_post", id), data: []byte(`{"post_title":"x"}`)}, http.StatusForbidden},
		{"missing record", importForm{postID: id + 1, nonce: env.app.ActionToken("import_post", id+1), data: []byte(`{"post_title":"x"}`)}, http.StatusNotFound},
	}
	for _, tt := range tests {
		code, res := env.importFile(tt.form)
		if code != tt.want || res.Success || res.Data.Message == "" {
			t.Errorf("%s: status = %d %+v, want %d with a message", tt.name, code, res, tt.want)
		}
	}
	if p := env.post(id); p.Title != "Untouched" || p.Content != "original" {
		t.Errorf("record changed by failed imports: %+v", p)
	}
}

func TestImportRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.createPost(transfer.Post{Title: "Untouched"})
	code, res := env.importFile(importForm{
		postID: id,
		nonce:  env.app.ActionToken("import_post", id),
		data:   []byte(`{"post_title":"Hijacked"}`),
	})
	if code != http.StatusUnauthorized || res.Success {
		t.Errorf("status = %d %+v, want 401", code, res)
	}
	if p := env.post(id); p.Title != "Untouched" {
		t.Errorf("title = %q", p.Title)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestImportPullsImagesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.login()
	pic := pngBytes(t)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/wp-content/uploads/pic.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pic)
	}))
	defer origin.Close()

	data := []byte(fmt.Sprintf(`{
		"site_url": %q,
		"post_title": "With images",
		"post_content": "<img src=\"%s/wp-content/uploads/pic.png\"><img src=\"%s/missing.jpg\"><a href=\"%s/page\">x</a>",
		"featured_image": "%s/wp-content/uploads/pic.png"
	}`, origin.URL, origin.URL, origin.URL, origin.URL, origin.URL))

	for i := 0; i < 2; i++ {
		id := env.createPost(transfer.Post{Title: "Target"})
		code, res := env.importFile(importForm{
			postID:       id,
			nonce:        env.app.ActionToken("import_post", id),
			data:         data,
			replaceURL:   "1",
			importImages: "1",
		})
		if code != http.StatusOK || !res.Success {
			t.Fatalf("import %d = %d %+v", i, code, res)
		}

		p := env.post(id)
		if !strings.Contains(p.Content, `<img src="http://dest.test/public/uploads/pic.png">`) {
			t.Errorf("import %d: image not pointed at the local copy: %s", i, p.Content)
		}
		if !strings.Contains(p.Content, `<img src="http://dest.test/missing.jpg">`) {
			t.Errorf("import %d: unfetchable image should keep its rewritten URL: %s", i, p.Content)
		}
		if !strings.Contains(p.Content, `href="http://dest.test/page"`) {
			t.Errorf("import %d: link not rewritten: %s", i, p.Content)
		}
		if p.FeaturedMediaID == 0 {
			t.Errorf("import %d: featured image not set", i)
		}
	}

	media, err := env.app.Store.ListMedia(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(media) != 1 {
		t.Fatalf("media library has %d assets, want 1", len(media))
	}
	stored, err := os.ReadFile(filepath.Join(env.app.Config.StaticDir, "uploads", media[0].Filename))
	if err != nil || !bytes.Equal(stored, pic) {
		t.Errorf("stored file differs from the origin image (err %v)", err)
	}
}

func TestImportWithoutReplaceKeepsOriginURLs(t *testing.T) {
	env := newTestEnv(t)
	env.login()
	id := env.createPost(transfer.Post{Title: "Target"})
	data := []byte(`{"site_url":"https://origin.test","post_title":"T","post_content":"<a href=\"https://origin.test/x\">x</a>"}`)

	code, res := env.importFile(importForm{
		postID:       id,
		nonce:        env.app.ActionToken("import_post", id),
		data:         data,
		replaceURL:   "0",
		importImages: "0",
	})
	if code != http.StatusOK || !res.Success {
		t.Fatalf("import = %d %+v", code, res)
	}
	if p := env.post(id); p.Content != `<a href="https://origin.test/x">x</a>` {
		t.Errorf("content = %q", p.Content)
	}
}

func TestImportChecksCSRF(t *testing.T) {
	env := newTestEnv(t)
	env.login()
	id := env.createPost(transfer.Post{Title: "Target"})
	env.csrf = "forged"
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("post_id", strconv.FormatInt(id, 10))
	w.Close()
	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/admin/import/", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-CSRF-Token", env.csrf)
	resp, err := env.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var res envelope
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("CSRF rejection is not the JSON envelope: %v", err)
	}
	if resp.StatusCode != http.StatusForbidden || res.Success || res.Data.Message != "Unauthorized" {
		t.Errorf("status = %d %+v, want 403 Unauthorized", resp.StatusCode, res)
	}
}

// failingFetcher refuses every download and counts the attempts.
type failingFetcher struct {
	calls []string
}

func (f *failingFetcher) Fetch(_ context.Context, rawURL string) (*transfer.Download, error) {
	f.calls = append(f.calls, rawURL)
	return nil, fmt.Errorf("%w: offline", transfer.ErrFetch)
}

func TestImportUsesConfiguredFetcher(t *testing.T) {
	fetcher := &failingFetcher{}
	env := newTestEnv(t, postxfer.WithFetcher(fetcher))
	env.login()
	id := env.createPost(transfer.Post{Title: "Target"})
	data := []byte(`{
		"site_url": "https://origin.test",
		"post_title": "T",
		"post_content": "<img src=\"https://origin.test/a.png\">",
		"featured_image": "https://origin.test/f.jpg"
	}`)

	code, res := env.importFile(importForm{
		postID:       id,
		nonce:        env.app.ActionToken("import_post", id),
		data:         data,
		replaceURL:   "0",
		importImages: "1",
	})
	if code != http.StatusOK || !res.Success {
		t.Fatalf("import = %d %+v, image failures must not fail the import", code, res)
	}
	if want := []string{"https://origin.test/a.png", "https://origin.test/f.jpg"}; !reflect.DeepEqual(fetcher.calls, want) {
		t.Errorf("fetched %v, want %v", fetcher.calls, want)
	}
	p := env.post(id)
	if p.Content != `<img src="https://origin.test/a.png">` || p.FeaturedMediaID != 0 {
		t.Errorf("post = %+v, want content kept and no featured image", p)
	}
}

func TestMediaLibraryRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	env.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := env.client.Get(env.srv.URL + "/admin/images/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/admin/" {
		t.Errorf("status = %d location %q, want 303 to /admin/", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestEditorShowsTransferBox(t *testing.T) {
	env := newTestEnv(t)
	env.login()
	id := env.createPost(transfer.Post{Title: "Editable"})

	resp, err := env.client.Get(fmt.Sprintf("%s/admin/post/%d/", env.srv.URL, id))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	for _, want := range []string{
		env.app.ActionToken("export_post", id),
		env.app.ActionToken("import_post", id),
		`id="pie-replace-url" checked`,
		`id="pie-import-images" checked`,
	} {
		if !bytes.Contains(body, []byte(want)) {
			t.Errorf("editor is missing %q", want)
		}
	}
}

func TestAdminSaveAssignsTerms(t *testing.T) {
	env := newTestEnv(t)
	env.login()

	resp, err := env.client.PostForm(env.srv.URL+"/admin/save/", url.Values{
		"_csrf":          {env.csrf},
		"title":          {"Fresh Post"},
		"content":        {"<p>hi</p>"},
		"status":         {"publish"},
		"date":           {"2024-06-01 12:00:00"},
		"categories":     {"News, Updates"},
		"tags":           {"go"},
		"comment_status": {"open"},
	})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d", resp.StatusCode)
	}

	posts, _ := env.app.Store.ListPosts(context.Background())
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1", len(posts))
	}
	p := posts[0]
	if p.Title != "Fresh Post" || p.Slug != "fresh-post" || p.Status != "publish" || p.CommentStatus != "open" || p.PingStatus != "closed" {
		t.Errorf("saved post = %+v", p)
	}
	cats, _ := env.app.Store.PostTerms(context.Background(), p.ID, "category")
	if len(cats) != 2 || cats[0].Slug != "news" || cats[1].Slug != "updates" {
		t.Errorf("categories = %+v", cats)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.client.PostForm(env.srv.URL+"/admin/login/", url.Values{
		"password": {"wrong"},
		"_csrf":    {env.csrf},
	})
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "Wrong password.") {
		t.Errorf("expected login error, got %s", body)
	}
}
