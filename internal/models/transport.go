package models

import (
	"time"
)

type RegisterReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type SignInReq struct {
	Provider    string `json:"provider" validate:"required"`
	AccessToken string `json:"access_token,omitempty"`
	Email       string `json:"email,omitempty"`
	Password    string `json:"password,omitempty"`
}

type TokenResp struct {
	Token string `json:"token"`
}

type BookmarkResp struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	CreatedAt string `json:"created_at"`
}

type HomeResp struct {
	User      string         `json:"user"`
	Bookmarks []BookmarkResp `json:"bookmarks"`
	Actions   []string       `json:"actions"`
}

type LoginResp struct {
	Providers []string `json:"providers"`
}

type FieldErrorsResp struct {
	Errors map[string]string `json:"errors"`
}

func NewBookmarkResp(b Bookmark) BookmarkResp {
	return BookmarkResp{
		ID:        b.ID,
		Title:     b.Title,
		URL:       b.URL,
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func NewBookmarkRespList(bookmarks []Bookmark) []BookmarkResp {
	resp := make([]BookmarkResp, len(bookmarks))
	for i := range bookmarks {
		resp[i] = NewBookmarkResp(bookmarks[i])
	}
	return resp
}
