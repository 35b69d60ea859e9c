package site

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const sitemapNS = "http://www.sitemaps.org/schemas/sitemap/0.9"

// fallbackSitemap is served when the configured base URL cannot be used.
const fallbackSitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://clipgate.app/</loc></url>
</urlset>
`

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// ParseBaseURL accepts an absolute http(s) URL and strips trailing slashes.
func ParseBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("site: base url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("site: base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("site: base url %q must be absolute http(s)", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// BuildSitemap renders pages under baseURL.
func BuildSitemap(baseURL string, pages []Page, lastMod time.Time) ([]byte, error) {
	base, err := ParseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, errors.New("site: no pages to list")
	}
	set := urlSet{XMLNS: sitemapNS}
	date := lastMod.UTC().Format("2006-01-02")
	for _, p := range pages {
		path := "/" + strings.TrimLeft(p.Path, "/")
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        base + path,
			LastMod:    date,
			ChangeFreq: p.ChangeFreq,
			Priority:   p.Priority,
		})
	}
	body, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("site: encode sitemap: %w", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}
