//go:build functional

package test_functional

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/models"
)

func register(t *testing.T, ctx context.Context, email string) string {
	t.Helper()
	u := AppBaseURL
	u.Path = "/auth/register"

	resp, err := resty.New().
		R().
		SetHeader("Content-Type", "application/json").
		SetContext(ctx).
		SetResult(&models.TokenResp{}).
		SetBody(map[string]string{"email": email, "password": "111111111111"}).
		Post(u.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())

	got, ok := resp.Result().(*models.TokenResp)
	require.True(t, ok)
	require.NotEmpty(t, got.Token)
	return got.Token
}

func listBookmarks(t *testing.T, ctx context.Context, token string) []models.BookmarkResp {
	t.Helper()
	u := AppBaseURL
	u.Path = "/bookmarks"

	resp, err := resty.New().
		R().
		SetContext(ctx).
		SetHeader("X-Token", token).
		SetResult(&[]models.BookmarkResp{}).
		Get(u.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	return *resp.Result().(*[]models.BookmarkResp)
}

func TestRegister(t *testing.T) {
	u := AppBaseURL
	u.Path = "/auth/register"

	t.Run("successful register", func(t *testing.T) {
		defer FlushDB()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		token := register(t, ctx, "test@gmail.com")
		assert.NotEmpty(t, token)

		var (
			id       string
			provider string
		)
		err := DBConn.QueryRow(ctx, "SELECT id, provider FROM users WHERE email=$1", "test@gmail.com").Scan(&id, &provider)
		assert.Nil(t, err)
		assert.Equal(t, "password", provider)

		var sessions int
		err = DBConn.QueryRow(ctx, "SELECT count(*) FROM sessions WHERE user_id=$1", id).Scan(&sessions)
		assert.Nil(t, err)
		assert.Equal(t, 1, sessions)
	})

	t.Run("concurrent duplicate", func(t *testing.T) {
		defer FlushDB()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
		defer cancel()

		codes := make([]int, 8)
		var wg sync.WaitGroup
		for i := range codes {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				resp, err := resty.New().
					R().
					SetHeader("Content-Type", "application/json").
					SetContext(ctx).
					SetBody(map[string]string{"email": "race@gmail.com", "password": "111111111111"}).
					Post(u.String())
				if assert.NoError(t, err) {
					codes[i] = resp.StatusCode()
				}
			}(i)
		}
		wg.Wait()

		created := 0
		for _, code := range codes {
			if code == http.StatusOK {
				created++
				continue
			}
			assert.Equal(t, http.StatusConflict, code)
		}
		assert.Equal(t, 1, created)
	})

	t.Run("bad body", func(t *testing.T) {
		defer FlushDB()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		resp, err := resty.New().
			R().
			SetHeader("Content-Type", "application/json").
			SetContext(ctx).
			SetBody(`
			{"something": "???"}
		`).
			Post(u.String())
		assert.Nil(t, err)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	})
}

func TestBookmarksSync(t *testing.T) {
	defer FlushDB()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	token := register(t, ctx, "sync@gmail.com")
	other := register(t, ctx, "other@gmail.com")

	u := AppBaseURL
	u.Path = "/bookmarks"

	resp, err := resty.New().
		R().
		SetContext(ctx).
		SetHeader("X-Token", token).
		SetBody(map[string]string{"title": "ab", "url": "nope"}).
		Post(u.String())
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())

	resp, err = resty.New().
		R().
		SetContext(ctx).
		SetHeader("X-Token", token).
		SetBody(map[string]string{"title": "Go blog", "url": "https://go.dev/blog"}).
		Post(u.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode())

	// the row arrives through the change feed
	require.Eventually(t, func() bool { return len(listBookmarks(t, ctx, token)) == 1 }, 5*time.Second, 50*time.Millisecond)
	assert.Empty(t, listBookmarks(t, ctx, other))

	got := listBookmarks(t, ctx, token)[0]
	assert.Equal(t, "Go blog", got.Title)

	var stored int
	err = DBConn.QueryRow(ctx, "SELECT count(*) FROM bookmarks WHERE id=$1", got.ID).Scan(&stored)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)

	del := AppBaseURL
	del.Path = "/bookmarks/" + got.ID
	resp, err = resty.New().
		R().
		SetContext(ctx).
		SetHeader("X-Token", other).
		Delete(del.String())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode())

	resp, err = resty.New().
		R().
		SetContext(ctx).
		SetHeader("X-Token", token).
		Delete(del.String())
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode())
	assert.Empty(t, listBookmarks(t, ctx, token))

	err = DBConn.QueryRow(ctx, "SELECT count(*) FROM bookmarks WHERE id=$1", got.ID).Scan(&stored)
	require.NoError(t, err)
	assert.Equal(t, 0, stored)

	// longer than a NOTIFY payload may be
	long := "https://example.com/" + strings.Repeat("a", 9000)
	resp, err = resty.New().
		R().
		SetContext(ctx).
		SetHeader("X-Token", token).
		SetBody(map[string]string{"title": "Long one", "url": long}).
		Post(u.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode())

	require.Eventually(t, func() bool { return len(listBookmarks(t, ctx, token)) == 1 }, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, long, listBookmarks(t, ctx, token)[0].URL)
}

func TestSignOut(t *testing.T) {
	defer FlushDB()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	token := register(t, ctx, "bye@gmail.com")
	assert.Empty(t, listBookmarks(t, ctx, token))

	u := AppBaseURL
	u.Path = "/auth/signout"
	resp, err := resty.New().
		R().
		SetContext(ctx).
		SetHeader("X-Token", token).
		SetResult(&models.LoginResp{}).
		Post(u.String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Contains(t, resp.Result().(*models.LoginResp).Providers, "password")

	list := AppBaseURL
	list.Path = "/bookmarks"
	resp, err = resty.New().
		R().
		SetContext(ctx).
		SetHeader("X-Token", token).
		Get(list.String())
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
}
