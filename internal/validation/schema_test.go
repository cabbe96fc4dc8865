package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rogue-Bear-Innovations/bookmarker-sync/internal/models"
)

func TestSchemaValidate(t *testing.T) {
	s := NewSchema()

	t.Run("valid", func(t *testing.T) {
		in := models.BookmarkCandidate{Title: "Go blog", URL: "https://go.dev/blog"}
		got, err := s.Validate(in)
		require.NoError(t, err)
		assert.Equal(t, in, got)
	})

	t.Run("boundaries", func(t *testing.T) {
		_, err := s.Validate(models.BookmarkCandidate{Title: "abc", URL: "https://a.com"})
		assert.NoError(t, err)
		_, err = s.Validate(models.BookmarkCandidate{Title: strings.Repeat("x", 100), URL: "https://a.com"})
		assert.NoError(t, err)
	})

	t.Run("title too short", func(t *testing.T) {
		for _, title := range []string{"", "a", "ab", "日本"} {
			_, err := s.Validate(models.BookmarkCandidate{Title: title, URL: "https://a.com"})
			verr := asError(t, err)
			code, ok := verr.Code("title")
			assert.True(t, ok, title)
			assert.Equal(t, TooShort, code, title)
			assert.Equal(t, "Title must be at least 3 characters", verr.Messages()["title"])
		}
	})

	t.Run("title too long", func(t *testing.T) {
		for _, n := range []int{101, 150, 1000} {
			_, err := s.Validate(models.BookmarkCandidate{Title: strings.Repeat("x", n), URL: "https://a.com"})
			verr := asError(t, err)
			code, _ := verr.Code("title")
			assert.Equal(t, TooLong, code)
			assert.Equal(t, "Title too long", verr.Messages()["title"])
		}
	})

	t.Run("title counts runes", func(t *testing.T) {
		_, err := s.Validate(models.BookmarkCandidate{Title: "日本語", URL: "https://a.com"})
		assert.NoError(t, err)
	})

	t.Run("invalid urls", func(t *testing.T) {
		for _, u := range []string{
			"", "not a url", "example.com", "//example.com/path", "http//missing-colon",
			"https://", "http:///", "http:/path", "foo://", "http://:8080/x",
		} {
			_, err := s.Validate(models.BookmarkCandidate{Title: "Valid title", URL: u})
			verr := asError(t, err)
			code, ok := verr.Code("url")
			assert.True(t, ok, u)
			assert.Equal(t, InvalidFormat, code, u)
			assert.Equal(t, "Please enter a valid URL", verr.Messages()["url"])
		}
	})

	t.Run("absolute urls", func(t *testing.T) {
		for _, u := range []string{"https://go.dev", "http://localhost:8080/a?b=c#d", "ftp://files.example.com/x"} {
			_, err := s.Validate(models.BookmarkCandidate{Title: "Valid title", URL: u})
			assert.NoError(t, err, u)
		}
	})

	t.Run("both fields", func(t *testing.T) {
		_, err := s.Validate(models.BookmarkCandidate{Title: "a", URL: "nope"})
		verr := asError(t, err)
		assert.Len(t, verr.Fields, 2)
		assert.Equal(t, "title", verr.Fields[0].Field)
		assert.Equal(t, "url", verr.Fields[1].Field)
	})

	t.Run("idempotent", func(t *testing.T) {
		in := models.BookmarkCandidate{Title: "a", URL: "https://a.com"}
		_, err1 := s.Validate(in)
		_, err2 := s.Validate(in)
		assert.Equal(t, err1, err2)
	})
}

func TestSchemaStruct(t *testing.T) {
	s := NewSchema()

	err := s.Struct(&models.RegisterReq{Email: "not-an-email", Password: "12345678"})
	verr := asError(t, err)
	code, ok := verr.Code("email")
	assert.True(t, ok)
	assert.Equal(t, InvalidFormat, code)

	assert.NoError(t, s.Struct(&models.RegisterReq{Email: "test@gmail.com", Password: "111111111111"}))
}

func asError(t *testing.T, err error) *Error {
	t.Helper()
	require.Error(t, err)
	verr, ok := err.(*Error)
	require.True(t, ok, "expected *validation.Error, got %T", err)
	return verr
}
