package scrape

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Parser extracts vacancy listings from hh.ru search result pages. The
// layout is fixed: listing containers and fields are addressed by the site's
// data-qa attributes, with class-based fallbacks for older markup.
type Parser struct {
	baseURL string
}

// NewParser constructs a Parser that absolutizes listing links against
// baseURL.
func NewParser(baseURL string) *Parser {
	return &Parser{baseURL: baseURL}
}

// ParsePage extracts all listings from one search page and reports whether a
// further page exists. A malformed individual listing is skipped; it never
// fails the page. An empty listing set reports HasNextPage false regardless
// of pager markup, since the site renders an empty serp past the last page.
func (p *Parser) ParsePage(html []byte) (PageResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return PageResult{}, fmt.Errorf("parse html: %w", err)
	}

	items := doc.Find(`[data-qa="vacancy-serp__vacancy"]`)
	if items.Length() == 0 {
		items = doc.Find("div.vacancy-serp-item")
	}

	result := PageResult{}
	items.Each(func(_ int, sel *goquery.Selection) {
		raw, ok := p.extractListing(sel)
		if !ok {
			return
		}
		result.Listings = append(result.Listings, raw)
	})

	if len(result.Listings) == 0 {
		return result, nil
	}
	result.HasNextPage = hasNextPage(doc)
	return result, nil
}

func (p *Parser) extractListing(sel *goquery.Selection) (RawVacancy, bool) {
	titleNode := sel.Find(`a[data-qa="vacancy-serp__vacancy-title"]`).First()
	if titleNode.Length() == 0 {
		titleNode = sel.Find(`a[href*="/vacancy/"]`).First()
	}
	href, _ := titleNode.Attr("href")
	link := CanonicalLink(p.baseURL, href)
	if link == "" {
		return RawVacancy{}, false
	}

	raw := RawVacancy{
		Link:           link,
		Title:          CleanText(titleNode.Text()),
		Company:        firstText(sel, `[data-qa="vacancy-serp__vacancy-employer"]`, ".vacancy-serp-item__meta-info-company"),
		Location:       firstText(sel, `[data-qa="vacancy-serp__vacancy-address"]`, ".vacancy-serp__vacancy-address"),
		SalaryText:     firstText(sel, `[data-qa="vacancy-serp__vacancy-compensation"]`, ".compensation-text"),
		ExperienceText: firstText(sel, `[data-qa="vacancy-serp__vacancy-work-experience"]`, ".vacancy-serp__vacancy-work-experience"),
	}
	return raw, true
}

// firstText returns the cleaned text of the first selector that matches.
func firstText(sel *goquery.Selection, selectors ...string) string {
	for _, s := range selectors {
		if node := sel.Find(s).First(); node.Length() > 0 {
			return CleanText(node.Text())
		}
	}
	return ""
}

// hasNextPage checks the pager block for an enabled "next" affordance.
func hasNextPage(doc *goquery.Document) bool {
	next := doc.Find(`[data-qa="pager-next"]`).First()
	if next.Length() == 0 {
		return false
	}
	if _, disabled := next.Attr("disabled"); disabled {
		return false
	}
	if class, ok := next.Attr("class"); ok && strings.Contains(class, "disabled") {
		return false
	}
	if aria, ok := next.Attr("aria-disabled"); ok && aria == "true" {
		return false
	}
	return true
}
