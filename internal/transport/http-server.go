package transport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/auth"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/config"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/models"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/service"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/store"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/validation"
)

const (
	TokenHeader = "X-Token"
	TokenCookie = "session"
	TokenQuery  = "token"

	censored = "$censored"
)

var (
	Module = fx.Provide(
		NewHTTPServer,
		func(a *auth.Authenticator) Accounts { return a },
	)

	publicPaths = map[string]bool{
		"/ping":          true,
		"/login":         true,
		"/auth/register": true,
		"/auth/signin":   true,
	}

	censoredFields = []string{"password", "access_token", "token"}

	homeActions = []string{"create", "delete", "refresh", "signout"}
)

type (
	// Accounts is the part of the authenticator the HTTP layer talks to directly.
	Accounts interface {
		Register(ctx context.Context, email, password string) (*auth.Identity, error)
		Providers() []string
	}

	CustomValidator struct {
		schema *validation.Schema
	}

	HTTPServer struct {
		echo     *echo.Echo
		views    *service.Views
		accounts Accounts
		upgrader websocket.Upgrader
		logger   *zap.SugaredLogger
	}
)

func NewHTTPServer(lc fx.Lifecycle, cfg *config.Config, views *service.Views, accounts Accounts, schema *validation.Schema, logger *zap.SugaredLogger) *HTTPServer {
	instance := newHTTPServer(views, accounts, schema, logger)
	e := instance.echo

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := e.Start(cfg.HTTPAddr()); err != nil && err != http.ErrServerClosed {
					e.Logger.Fatal("shutting down the server")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server.")
			return e.Shutdown(ctx)
		},
	})

	return instance
}

func newHTTPServer(views *service.Views, accounts Accounts, schema *validation.Schema, logger *zap.SugaredLogger) *HTTPServer {
	e := echo.New()
	e.HideBanner = true

	instance := &HTTPServer{
		echo:     e,
		views:    views,
		accounts: accounts,
		logger:   logger,
	}

	e.GET("/", instance.Home)
	e.GET("/login", instance.Login)

	authG := e.Group("/auth")
	authG.POST("/register", instance.Register)
	authG.POST("/signin", instance.SignIn)
	authG.POST("/signout", instance.SignOut)

	bookmarkG := e.Group("/bookmarks")
	bookmarkG.GET("", instance.BookmarkList)
	bookmarkG.POST("", instance.BookmarkCreate)
	bookmarkG.POST("/refresh", instance.BookmarkRefresh)
	bookmarkG.DELETE("/:id", instance.BookmarkDelete)
	bookmarkG.GET("/live", instance.BookmarkLive)

	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") })

	e.Use(middleware.CORS())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyDumpWithConfig(middleware.BodyDumpConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/bookmarks/live" || !logger.Desugar().Core().Enabled(zap.DebugLevel)
		},
		Handler: func(c echo.Context, reqBody, resBody []byte) {
			logger.Debugw("HTTP body",
				"path", c.Path(),
				"request", string(censorBody(reqBody)),
				"response", string(censorBody(resBody)),
			)
		},
	}))

	e.Use(instance.AuthMiddleware)

	e.Validator = &CustomValidator{schema: schema}

	echo.NotFoundHandler = func(c echo.Context) error {
		return c.NoContent(http.StatusNotFound)
	}

	return instance
}

func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

// Home shows the signed-in user's list, or sends anonymous visitors to the login page.
func (s *HTTPServer) Home(c echo.Context) error {
	view, err := GetViewFromContext(c)
	if err != nil {
		return err
	}
	identity := view.Sync().Identity()
	if identity == nil {
		return c.Redirect(http.StatusFound, "/login")
	}
	return c.JSON(http.StatusOK, models.HomeResp{
		User:      identity.Email,
		Bookmarks: models.NewBookmarkRespList(view.Sync().List()),
		Actions:   homeActions,
	})
}

func (s *HTTPServer) Login(c echo.Context) error {
	return c.JSON(http.StatusOK, models.LoginResp{Providers: s.accounts.Providers()})
}

func (s *HTTPServer) Register(c echo.Context) error {
	req := models.RegisterReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	identity, err := s.accounts.Register(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return errors.Wrap(err, "register")
	}

	setTokenCookie(c, identity.Token)
	return c.JSON(http.StatusOK, models.TokenResp{Token: identity.Token})
}

func (s *HTTPServer) SignIn(c echo.Context) error {
	req := models.SignInReq{}
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	_, identity, err := s.views.SignIn(c.Request().Context(), auth.Credentials{
		Provider:    req.Provider,
		AccessToken: req.AccessToken,
		Email:       req.Email,
		Password:    req.Password,
	})
	switch {
	case errors.Is(err, auth.ErrUnknownProvider):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthorized):
		return c.NoContent(http.StatusUnauthorized)
	case err != nil:
		return errors.Wrap(err, "sign in")
	}

	setTokenCookie(c, identity.Token)
	return c.JSON(http.StatusOK, models.TokenResp{Token: identity.Token})
}

// SignOut revokes the token and tears its view down, then sends the client to the login page.
func (s *HTTPServer) SignOut(c echo.Context) error {
	token := GetToken(c)
	if err := s.views.Drop(c.Request().Context(), token); err != nil {
		s.logger.Errorw("Error signing out", "error", err)
	}

	c.SetCookie(&http.Cookie{Name: TokenCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	return c.Redirect(http.StatusSeeOther, "/login")
}

func (s *HTTPServer) BookmarkList(c echo.Context) error {
	view, err := GetViewFromContext(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.NewBookmarkRespList(view.Sync().List()))
}

// BookmarkCreate answers 202: the new row shows up in the list once the change feed delivers it.
func (s *HTTPServer) BookmarkCreate(c echo.Context) error {
	view, err := GetViewFromContext(c)
	if err != nil {
		return err
	}

	req := models.BookmarkCandidate{}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := view.Sync().Create(c.Request().Context(), req); err != nil {
		return mapSyncError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (s *HTTPServer) BookmarkRefresh(c echo.Context) error {
	view, err := GetViewFromContext(c)
	if err != nil {
		return err
	}

	if err := view.Sync().Refresh(c.Request().Context()); err != nil {
		return mapSyncError(err)
	}
	return c.JSON(http.StatusOK, models.NewBookmarkRespList(view.Sync().List()))
}

func (s *HTTPServer) BookmarkDelete(c echo.Context) error {
	id, err := GetParam(c, "id")
	if err != nil {
		return err
	}
	view, err := GetViewFromContext(c)
	if err != nil {
		return err
	}

	if err := view.Sync().Delete(c.Request().Context(), id); err != nil {
		return mapSyncError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// BookmarkLive streams the whole list over a websocket, once on connect and again after every change.
func (s *HTTPServer) BookmarkLive(c echo.Context) error {
	view, err := GetViewFromContext(c)
	if err != nil {
		return err
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return nil
	}
	defer conn.Close()

	changed := make(chan struct{}, 1)
	cancel := view.Sync().OnChange(func([]models.Bookmark) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func() error {
		return conn.WriteJSON(models.NewBookmarkRespList(view.Sync().List()))
	}
	if err := send(); err != nil {
		return nil
	}

	for {
		select {
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case <-changed:
			if err := send(); err != nil {
				s.logger.Debugw("websocket write failed", "error", err)
				return nil
			}
		}
	}
}

// AuthMiddleware resolves the request token to its view. "/" lets anonymous requests through to redirect them.
func (s *HTTPServer) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if publicPaths[c.Path()] {
			return next(c)
		}

		view, err := s.views.Resolve(c.Request().Context(), GetToken(c))
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) {
				s.logger.Errorw("Error resolving session", "error", err)
			}
			if c.Path() == "/" {
				return c.Redirect(http.StatusFound, "/login")
			}
			return c.NoContent(http.StatusUnauthorized)
		}

		c.Set("view", view)
		return next(c)
	}
}

////////

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.schema.Struct(i)
}

func BindAndValidate(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(v); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusBadRequest, models.FieldErrorsResp{Errors: verr.Messages()})
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func GetViewFromContext(c echo.Context) (*service.View, error) {
	view, ok := c.Get("view").(*service.View)
	if !ok || view == nil {
		return nil, errors.New("no view found in context")
	}
	return view, nil
}

// GetToken reads the session token from the header, then the cookie, then the query string.
func GetToken(c echo.Context) string {
	if token := c.Request().Header.Get(TokenHeader); token != "" {
		return token
	}
	if cookie, err := c.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return c.QueryParam(TokenQuery)
}

func GetParam(c echo.Context, name string) (string, error) {
	value := c.Param(name)
	if value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid path param '"+name+"'")
	}
	return value, nil
}

func setTokenCookie(c echo.Context, token string) {
	c.SetCookie(&http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func mapSyncError(err error) error {
	var (
		verr  *validation.Error
		werr  *service.WriteError
		fetch *service.FetchError
	)
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, models.FieldErrorsResp{Errors: verr.Messages()})
	case errors.Is(err, service.ErrNoIdentity):
		return echo.NewHTTPError(http.StatusUnauthorized)
	case errors.As(err, &werr) && errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &werr), errors.As(err, &fetch):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return err
	}
}

// censorBody masks secret fields of a JSON object. Anything else is returned unchanged.
func censorBody(body []byte) []byte {
	fields := map[string]interface{}{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return body
	}

	touched := false
	for _, name := range censoredFields {
		if _, ok := fields[name]; ok {
			fields[name] = censored
			touched = true
		}
	}
	if !touched {
		return body
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return body
	}
	return out
}
