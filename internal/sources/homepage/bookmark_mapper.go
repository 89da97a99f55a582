package homepage

import (
	"context"
	"fmt"
	"sort"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
)

// Entry is one importable bookmark
type Entry struct {
	Category string
	Title    string
	URL      string
}

// MapBookmarks flattens the config into entries, in file order.
// Entries without href are counted in skipped.
func MapBookmarks(config BookmarksConfig) (entries []Entry, skipped int) {
	for _, category := range config {
		// A category item normally holds a single key; sort in case it does not.
		names := make([]string, 0, len(category))
		for name := range category {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, categoryName := range names {
			for _, bookmarkMap := range category[categoryName] {
				for bookmarkName, entryList := range bookmarkMap {
					// Each bookmark has a list with a single entry
					if len(entryList) == 0 {
						skipped++
						continue
					}
					entry := entryList[0]

					if entry.Href == "" {
						skipped++
						continue
					}

					// Use Abbr if present, otherwise use bookmark name
					title := entry.Abbr
					if title == "" {
						title = bookmarkName
					}

					entries = append(entries, Entry{
						Category: categoryName,
						Title:    title,
						URL:      entry.Href,
					})
				}
			}
		}
	}

	return entries, skipped
}

// Adder creates a bookmark for the signed-in user
type Adder interface {
	Add(ctx context.Context, title, url string) (domain.Bookmark, bool, error)
}

// Result summarizes an import
type Result struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// Import adds every entry of config through a. It stops at the first failed
// create and returns the counts reached so far with the error.
func Import(ctx context.Context, a Adder, config BookmarksConfig) (Result, error) {
	entries, skipped := MapBookmarks(config)
	res := Result{Skipped: skipped}

	for _, e := range entries {
		_, ok, err := a.Add(ctx, e.Title, e.URL)
		if err != nil {
			return res, fmt.Errorf("failed to import %q: %w", e.Title, err)
		}
		if ok {
			res.Imported++
		} else {
			res.Skipped++
		}
	}

	return res, nil
}
