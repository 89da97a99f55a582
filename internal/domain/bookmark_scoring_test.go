package domain

import (
	"testing"
	"time"
)

func TestScoreBookmark(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		title          string
		url            string
		expectPositive bool
	}{
		{
			name:           "exact title match",
			query:          "chatgpt",
			title:          "ChatGPT",
			url:            "https://chat.openai.com",
			expectPositive: true,
		},
		{
			name:           "prefix match",
			query:          "chat",
			title:          "ChatGPT",
			url:            "https://chat.openai.com",
			expectPositive: true,
		},
		{
			name:           "substring match",
			query:          "gpt",
			title:          "ChatGPT",
			url:            "https://chat.openai.com",
			expectPositive: true,
		},
		{
			name:           "url only match",
			query:          "openai",
			title:          "Assistant",
			url:            "https://chat.openai.com",
			expectPositive: true,
		},
		{
			name:           "no match",
			query:          "xyz",
			title:          "ChatGPT",
			url:            "https://example.com",
			expectPositive: false,
		},
		{
			name:           "multi-word match",
			query:          "docker hub",
			title:          "Docker Hub",
			url:            "hub.docker.com",
			expectPositive: true,
		},
		{
			name:           "blank query",
			query:          "   ",
			title:          "Docker Hub",
			url:            "hub.docker.com",
			expectPositive: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := ScoreBookmark(tt.query, Bookmark{ID: "test-id", Title: tt.title, URL: tt.url})

			if tt.expectPositive && score <= 0 {
				t.Errorf("Expected positive score, got %f", score)
			}
			if !tt.expectPositive && score > 0 {
				t.Errorf("Expected zero score, got %f", score)
			}
		})
	}
}

func TestScoreBookmark_TitleBeatsURL(t *testing.T) {
	byTitle := ScoreBookmark("github", Bookmark{Title: "GitHub", URL: "https://example.com"})
	byURL := ScoreBookmark("github", Bookmark{Title: "Code", URL: "github"})

	if byTitle <= byURL {
		t.Errorf("title match (%f) should outrank url match (%f)", byTitle, byURL)
	}
}

func TestFilterBookmarks(t *testing.T) {
	now := time.Now()
	bookmarks := []Bookmark{
		{ID: "3", Title: "Go blog", URL: "go.dev/blog", CreatedAt: now},
		{ID: "2", Title: "GitHub", URL: "https://github.com", CreatedAt: now.Add(-time.Minute)},
		{ID: "1", Title: "Weather", URL: "https://meteo.example", CreatedAt: now.Add(-2 * time.Minute)},
	}

	got := FilterBookmarks("github", bookmarks)
	if len(got) == 0 || got[0].ID != "2" {
		t.Fatalf("FilterBookmarks(github) = %v, want GitHub first", got)
	}
	for _, b := range got {
		if b.ID == "1" {
			t.Error("Weather should not match github")
		}
	}

	if all := FilterBookmarks("", bookmarks); len(all) != 3 {
		t.Errorf("empty query should return all bookmarks, got %d", len(all))
	}
}
