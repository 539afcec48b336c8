// Package postxfer is a single-record export/import tool for a small
// content site built with Go, Echo, and templ. An administrator can download
// one record (fields, metadata, terms, featured image) as a JSON file and
// load such a file into another record, optionally rewriting the origin
// site's URLs and pulling referenced images into the local media library.
//
// Users provide their own templ templates via the ViewFuncs struct; the
// views package ships a default set.
package postxfer

import (
	"fmt"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/gorilla/securecookie"
	"github.com/labstack/echo/v4"

	"github.com/eringen/postxfer/transfer"
)

// ViewFuncs holds the templ components the handlers render.
type ViewFuncs struct {
	AdminLogin     func(showError bool, csrfToken string) templ.Component
	AdminDashboard func(posts []transfer.Post, message string, csrfToken string) templ.Component
	AdminPost      func(post transfer.Post, terms map[string][]transfer.Term, box TransferBox, csrfToken string) templ.Component
	AdminImages    func(media []transfer.MediaAsset, message string, csrfToken string) templ.Component
	NotFound       func() templ.Component
	ServerError    func() templ.Component
}

// App wires together the store, the transfer pipeline, handlers, middleware,
// and user-provided templates.
type App struct {
	Config SiteConfig
	Echo   *echo.Echo
	Store  *Store
	Views  ViewFuncs

	exporter     *transfer.Exporter
	importer     *transfer.Importer
	fetcher      transfer.Fetcher
	loginLimiter *LoginLimiter
	tokens       *securecookie.SecureCookie
	now          func() time.Time
}

// New creates an App with the given configuration and view functions.
func New(cfg SiteConfig, views ViewFuncs, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
		Views:  views,
		now:    time.Now,
	}
	a.Echo.HideBanner = true
	a.Echo.Logger.SetLevel(logLevel(cfg.LogLevel))

	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Setup opens the store and registers middleware and routes without
// starting the server.
func (a *App) Setup() error {
	if a.Config.AdminPassword == "" {
		return fmt.Errorf("postxfer: AdminPassword is required")
	}
	if a.Config.SessionSecret == "" {
		return fmt.Errorf("postxfer: SessionSecret is required")
	}

	store, err := NewStore(a.Config.DatabasePath, a.Config.Media())
	if err != nil {
		return fmt.Errorf("postxfer: init store: %w", err)
	}
	a.Store = store

	if a.fetcher == nil {
		a.fetcher = transfer.NewHTTPFetcher(a.Config.ImageFetchTimeout, a.Config.MaxImageBytes)
	}
	a.exporter = transfer.NewExporter(a.Store, a.Echo.Logger)
	a.importer = transfer.NewImporter(a.Store, a.fetcher, a.Echo.Logger)
	a.loginLimiter = NewLoginLimiter(5, time.Minute)
	a.tokens = newActionTokens(a.Config.SessionSecret, actionTokenMaxAge)

	a.setupMiddleware()
	a.setupRoutes()
	return nil
}

// Start sets the App up and serves HTTP until the server is closed.
func (a *App) Start() error {
	if err := a.Setup(); err != nil {
		return err
	}
	a.Echo.Logger.Infof("postxfer listening on %s (%s)", a.Config.Addr, a.Config.URL)
	if err := a.Echo.Start(a.Config.Addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo

	e.Static("/public", a.Config.StaticDir)
	e.GET("/", func(c echo.Context) error {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	})
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/admin/", a.handleAdmin)
	e.POST("/admin/login/", a.handleAdminLogin)
	e.POST("/admin/logout/", handleAdminLogout)
	e.GET("/admin/post/:id/", a.handleAdminPost)
	e.POST("/admin/save/", a.handleAdminSave)
	e.POST("/admin/export/", a.handleExport)
	e.POST("/admin/import/", a.handleImport)

	media := e.Group("/admin/images", requireAdmin)
	media.GET("/", a.handleImageList)
	media.POST("/upload/", a.handleImageUpload)
	media.DELETE("/:id/", a.handleImageDelete)
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.loginLimiter != nil {
		a.loginLimiter.Close()
	}
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}
