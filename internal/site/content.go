// Package site serves the public, unauthenticated documents: the product
// summary, the sitemap and robots.txt.
package site

import (
	"encoding/json"
	"fmt"
	"io/fs"
)

// Page is one sitemap location relative to the site base URL.
type Page struct {
	Path       string `json:"path"`
	ChangeFreq string `json:"changefreq"`
	Priority   string `json:"priority"`
}

// Content is the parsed set of embedded documents.
type Content struct {
	Summary []byte
	Pages   []Page
	Robots  string
}

// LoadContent reads site-summary.json, pages.json and robots.txt from the
// content directory of fsys.
func LoadContent(fsys fs.FS) (Content, error) {
	summary, err := fs.ReadFile(fsys, "content/site-summary.json")
	if err != nil {
		return Content{}, fmt.Errorf("site: read summary: %w", err)
	}
	if !json.Valid(summary) {
		return Content{}, fmt.Errorf("site: summary is not valid JSON")
	}
	rawPages, err := fs.ReadFile(fsys, "content/pages.json")
	if err != nil {
		return Content{}, fmt.Errorf("site: read pages: %w", err)
	}
	var pages []Page
	if err := json.Unmarshal(rawPages, &pages); err != nil {
		return Content{}, fmt.Errorf("site: decode pages: %w", err)
	}
	robots, err := fs.ReadFile(fsys, "content/robots.txt")
	if err != nil {
		return Content{}, fmt.Errorf("site: read robots: %w", err)
	}
	return Content{Summary: summary, Pages: pages, Robots: string(robots)}, nil
}
