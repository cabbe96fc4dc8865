package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jackc/pgconn"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/config"
	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/db"
)

const (
	bcryptCost = 12

	uniqueViolation = "23505"
)

var (
	Module = fx.Provide(
		NewAuthenticator,
	)

	ErrEmailTaken = errors.New("email already registered")
)

type (
	// Authenticator is the server side of the session provider: it checks credentials with the
	// password store or the OAuth provider and issues revocable session tokens.
	Authenticator struct {
		db     *gorm.DB
		http   *resty.Client
		tokens *TokenIssuer
		logger *zap.SugaredLogger

		oauthProvider string
		userInfoURL   string
	}

	userInfo struct {
		Subject       string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
	}
)

func NewAuthenticator(cfg *config.Config, gdb *gorm.DB, l *zap.SugaredLogger) *Authenticator {
	return &Authenticator{
		db:            gdb,
		http:          resty.New().SetTimeout(cfg.OAuthTimeout),
		tokens:        NewTokenIssuer([]byte(cfg.SessionSecret), cfg.SessionTTL),
		logger:        l,
		oauthProvider: cfg.OAuthProvider,
		userInfoURL:   cfg.OAuthUserInfoURL,
	}
}

func (a *Authenticator) Providers() []string {
	return []string{a.oauthProvider, config.ProviderPassword}
}

func (a *Authenticator) Register(ctx context.Context, email, pass string) (*Identity, error) {
	hash, err := a.bcryptGen(pass)
	if err != nil {
		return nil, errors.Wrap(err, "bcryptGen")
	}

	user := db.User{
		Email:    strings.ToLower(email),
		Provider: config.ProviderPassword,
		Password: &hash,
	}

	var count int64
	res := a.db.WithContext(ctx).Model(&db.User{}).
		Where("email = ? AND provider = ?", user.Email, user.Provider).
		Count(&count)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "count users")
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}

	// a concurrent registration can still win between the count and the insert
	if res := a.db.WithContext(ctx).Create(&user); res.Error != nil {
		if isUniqueViolation(res.Error) {
			return nil, ErrEmailTaken
		}
		return nil, errors.Wrap(res.Error, "create user")
	}
	return a.issue(ctx, &user)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (a *Authenticator) SignIn(ctx context.Context, creds Credentials) (*Identity, error) {
	switch creds.Provider {
	case config.ProviderPassword:
		return a.login(ctx, creds.Email, creds.Password)
	case a.oauthProvider:
		return a.exchange(ctx, creds.AccessToken)
	default:
		return nil, errors.Wrap(ErrUnknownProvider, creds.Provider)
	}
}

func (a *Authenticator) Verify(ctx context.Context, token string) (*Identity, error) {
	claims, err := a.tokens.Parse(token, true)
	if err != nil {
		return nil, err
	}

	sess := db.Session{}
	res := a.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL", claims.ID, claims.Subject).
		First(&sess)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(res.Error, "find session")
	}

	return &Identity{
		UserID:   claims.Subject,
		Email:    claims.Email,
		Provider: claims.Provider,
		Token:    token,
	}, nil
}

func (a *Authenticator) SignOut(ctx context.Context, token string) error {
	claims, err := a.tokens.Parse(token, false)
	if err != nil {
		return err
	}

	res := a.db.WithContext(ctx).Model(&db.Session{}).
		Where("id = ? AND revoked_at IS NULL", claims.ID).
		Update("revoked_at", time.Now())
	if res.Error != nil {
		return errors.Wrap(res.Error, "revoke session")
	}
	return nil
}

func (a *Authenticator) login(ctx context.Context, email, pass string) (*Identity, error) {
	user := db.User{}
	res := a.db.WithContext(ctx).
		Where("email = ? AND provider = ?", strings.ToLower(email), config.ProviderPassword).
		First(&user)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(res.Error, "find user")
	}

	if user.Password == nil || a.bcryptCheck(*user.Password, pass) != nil {
		return nil, ErrUnauthorized
	}
	return a.issue(ctx, &user)
}

func (a *Authenticator) exchange(ctx context.Context, accessToken string) (*Identity, error) {
	info, err := a.fetchUserInfo(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	user := db.User{}
	res := a.db.WithContext(ctx).
		Where(db.User{Email: strings.ToLower(info.Email), Provider: a.oauthProvider}).
		FirstOrCreate(&user)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "upsert user")
	}
	return a.issue(ctx, &user)
}

func (a *Authenticator) fetchUserInfo(ctx context.Context, accessToken string) (*userInfo, error) {
	if accessToken == "" {
		return nil, ErrUnauthorized
	}

	info := userInfo{}
	resp, err := a.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Accept", "application/json").
		SetResult(&info).
		Get(a.userInfoURL)
	if err != nil {
		return nil, errors.Wrap(err, "userinfo request")
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.IsError():
		return nil, errors.Errorf("userinfo returned %d", resp.StatusCode())
	}

	if info.Subject == "" || info.Email == "" {
		return nil, errors.Wrap(ErrUnauthorized, "userinfo has no subject or email")
	}
	if info.EmailVerified != nil && !*info.EmailVerified {
		return nil, errors.Wrap(ErrUnauthorized, "email not verified")
	}
	return &info, nil
}

func (a *Authenticator) issue(ctx context.Context, user *db.User) (*Identity, error) {
	sess := db.Session{
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(a.tokens.ttl),
	}
	if res := a.db.WithContext(ctx).Create(&sess); res.Error != nil {
		return nil, errors.Wrap(res.Error, "create session")
	}

	token, _, err := a.tokens.Issue(sess.ID, user.ID, user.Email, user.Provider)
	if err != nil {
		return nil, err
	}

	a.logger.Infow("session issued", "user_id", user.ID, "provider", user.Provider)
	return &Identity{
		UserID:   user.ID,
		Email:    user.Email,
		Provider: user.Provider,
		Token:    token,
	}, nil
}

func (a *Authenticator) bcryptGen(pass string) (string, error) {
	passwordHashB, err := bcrypt.GenerateFromPassword([]byte(pass), bcryptCost)
	if err != nil {
		return "", errors.Wrap(err, "generate password hash")
	}
	return string(passwordHashB), nil
}

func (a *Authenticator) bcryptCheck(hash, pass string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass))
}
