package models

import (
	"time"
)

type (
	// Bookmark is a stored row as seen by a client: fetched in bulk or delivered by the change feed.
	Bookmark struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		URL       string    `json:"url"`
		Owner     string    `json:"user_id"`
		CreatedAt time.Time `json:"created_at"`
	}

	// BookmarkCandidate is the user-supplied part of a bookmark before it reaches the store.
	BookmarkCandidate struct {
		Title string `json:"title" validate:"min=3,max=100"`
		URL   string `json:"url" validate:"url,absurl"`
	}
)
