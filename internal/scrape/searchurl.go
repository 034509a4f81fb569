package scrape

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const itemsPerPage = 50

// BuildSearchURL renders the search URL for one page of results. Page numbers
// are 1-based here; the site counts from zero, so the parameter is only added
// past the first page.
func BuildSearchURL(baseURL, keyword, areaID string, exp Experience, page int) (string, error) {
	if strings.TrimSpace(keyword) == "" {
		return "", fmt.Errorf("keyword is required")
	}
	if page < 1 {
		return "", fmt.Errorf("page must be >= 1, got %d", page)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = "/search/vacancy"

	q := url.Values{}
	q.Set("text", keyword)
	q.Set("search_field", "name")
	q.Set("items_on_page", strconv.Itoa(itemsPerPage))
	if areaID != "" {
		q.Set("area", areaID)
	}
	if p := exp.queryParam(); p != "" {
		q.Set("experience", p)
	}
	if page > 1 {
		q.Set("page", strconv.Itoa(page-1))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// CanonicalLink absolutizes a listing href against the base URL and strips
// query parameters, yielding the stable natural key for deduplication.
func CanonicalLink(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	abs.RawQuery = ""
	abs.Fragment = ""
	return abs.String()
}
