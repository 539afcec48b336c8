package postxfer

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	sessionName  = "postxfer_admin"
	sessionAuth  = "admin"
	sessionSince = "since"
	sessionTTL   = 12 * time.Hour
)

// transferPaths answer with the JSON envelope rather than HTML.
var transferPaths = map[string]bool{
	"/admin/export/": true,
	"/admin/import/": true,
}

func (a *App) setupMiddleware() {
	e := a.Echo

	e.IPExtractor = echo.ExtractIPFromXFFHeader(
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(true),
	)
	e.HTTPErrorHandler = a.httpErrorHandler

	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(a.bodyLimit()))
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			// Downloads carry an exact Content-Length.
			return strings.HasPrefix(path, "/public/") || path == "/admin/export/"
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ReferrerPolicy:        "same-origin",
		ContentSecurityPolicy: "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' https: data:; connect-src 'self'",
		HSTSMaxAge:            31536000,
	}))
	e.Use(session.Middleware(a.newSessionStore()))
	e.Use(middleware.CSRFWithConfig(middleware.CSRFConfig{
		TokenLookup:    "header:X-CSRF-Token,form:_csrf",
		CookieName:     "_csrf",
		CookiePath:     "/",
		CookieSameSite: http.SameSiteLaxMode,
		CookieSecure:   a.Config.CookieSecure,
		ErrorHandler:   a.csrfFailed,
	}))
	e.Use(middleware.AddTrailingSlashWithConfig(middleware.TrailingSlashConfig{
		RedirectCode: http.StatusMovedPermanently,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasPrefix(path, "/public") || path == "/healthz"
		},
	}))
	e.Use(cacheControl)
}

// bodyLimit admits the larger of an import file and an image upload plus
// room for the other multipart fields.
func (a *App) bodyLimit() string {
	limit := max(a.Config.MaxImportBytes, a.Config.MaxImageBytes) + 1<<20
	return fmt.Sprintf("%dK", limit>>10)
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:       true,
		LogURI:          true,
		LogMethod:       true,
		LogLatency:      true,
		LogRemoteIP:     true,
		LogResponseSize: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			c.Logger().Infof("%s %s %d %s %s from %s", v.Method, v.URI, v.Status,
				humanize.Bytes(uint64(max(v.ResponseSize, 0))), v.Latency, v.RemoteIP)
			return nil
		},
	})
}

// csrfFailed rejects a form post without a matching CSRF cookie. Transfer
// endpoints answer in the envelope their script expects.
func (a *App) csrfFailed(err error, c echo.Context) error {
	c.Logger().Warnf("csrf check failed for %s: %v", c.Request().URL.Path, err)
	if transferPaths[c.Request().URL.Path] {
		return transferError(c, errBadCSRF)
	}
	return c.String(http.StatusForbidden, "Forbidden")
}

func cacheControl(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		value := "no-cache"
		switch {
		case strings.HasPrefix(path, "/public/uploads/"):
			// Imported names are unique but may be deleted and reused.
			value = "public, max-age=86400"
		case strings.HasPrefix(path, "/public/"):
			value = "public, max-age=31536000, immutable"
		case strings.HasPrefix(path, "/admin"):
			value = "no-store"
		}
		c.Response().Header().Set("Cache-Control", value)
		return next(c)
	}
}

func (a *App) newSessionStore() *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(a.Config.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/admin",
		HttpOnly: true,
		MaxAge:   int(sessionTTL / time.Second),
		SameSite: http.SameSiteLaxMode,
		Secure:   a.Config.CookieSecure,
	}
	return store
}

// isAdmin reports whether the request carries a live admin session.
func isAdmin(c echo.Context) bool {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return false
	}
	ok, _ := sess.Values[sessionAuth].(bool)
	return ok
}

// requireAdmin sends visitors without a session to the login form.
func requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !isAdmin(c) {
			return c.Redirect(http.StatusSeeOther, "/admin/")
		}
		return next(c)
	}
}

func startAdminSession(c echo.Context, now time.Time) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	sess.Values[sessionAuth] = true
	sess.Values[sessionSince] = now.Unix()
	return sess.Save(c.Request(), c.Response())
}

func endAdminSession(c echo.Context) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	delete(sess.Values, sessionAuth)
	delete(sess.Values, sessionSince)
	sess.Options.MaxAge = -1
	return sess.Save(c.Request(), c.Response())
}

func csrfToken(c echo.Context) string {
	token, _ := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string)
	return token
}
