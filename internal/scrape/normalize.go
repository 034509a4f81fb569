package scrape

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	numberRe     = regexp.MustCompile(`\d+`)

	// Salary strings arrive with regular, non-breaking, narrow and thin
	// spaces as thousand separators; all of them must go before digit
	// extraction so "100 000" reads as one number.
	salarySpaceReplacer = strings.NewReplacer(
		" ", "",
		" ", "",
		" ", "",
		" ", "",
		"\t", "",
	)
)

var remoteMarkers = []string{
	"удалённ", "удаленн", "удалёнк", "дистанционн", "remote",
	"работа из дома", "home office", "work from home", "wfh",
}

// Normalize converts a raw field bag into a storable Vacancy. Title and Link
// are required; everything else degrades to its zero value when malformed.
func Normalize(raw RawVacancy, now time.Time) (Vacancy, error) {
	title := CleanText(raw.Title)
	if title == "" {
		return Vacancy{}, &ValidationError{Field: "title", Reason: "empty"}
	}
	link := strings.TrimSpace(raw.Link)
	if link == "" {
		return Vacancy{}, &ValidationError{Field: "link", Reason: "empty"}
	}

	salaryMin, salaryMax, currency := ParseSalary(raw.SalaryText)
	exp := ParseExperience(raw.ExperienceText)

	v := Vacancy{
		Link:       link,
		Title:      title,
		Company:    CleanText(raw.Company),
		Location:   CleanText(raw.Location),
		Experience: exp,
		KeySkills:  SplitSkills(raw.SkillsText),
		SalaryMin:  salaryMin,
		SalaryMax:  salaryMax,
		Currency:   currency,
		CreatedAt:  now,
	}
	v.Remote = DetectRemote(raw.Title, raw.Location, raw.ExperienceText, raw.SkillsText)
	return v, nil
}

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// ParseSalary extracts (min, max, currency) from free-form compensation text.
// "от X" yields a lower bound only, "до X" an upper bound only; a dash range
// yields both ends ordered. Unparseable text yields nils rather than an error.
func ParseSalary(text string) (*int64, *int64, *string) {
	text = CleanText(text)
	if text == "" {
		return nil, nil, nil
	}
	lower := strings.ToLower(text)

	var currency *string
	switch {
	case strings.Contains(lower, "руб") || strings.Contains(text, "₽"):
		currency = strptr("RUB")
	case strings.Contains(lower, "usd") || strings.Contains(text, "$"):
		currency = strptr("USD")
	case strings.Contains(lower, "eur") || strings.Contains(text, "€"):
		currency = strptr("EUR")
	}

	if strings.Contains(lower, "не указан") {
		return nil, nil, nil
	}

	compact := salarySpaceReplacer.Replace(text)
	digits := numberRe.FindAllString(compact, -1)
	if len(digits) == 0 {
		return nil, nil, currency
	}

	nums := make([]int64, 0, len(digits))
	for _, d := range digits {
		n, err := strconv.ParseInt(d, 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	if len(nums) == 0 {
		return nil, nil, currency
	}

	// "до вычета налогов" is a tax note, not an upper bound.
	bounds := strings.ReplaceAll(lower, "до вычета", "")
	hasFrom := strings.Contains(bounds, "от ") || strings.Contains(bounds, "from ")
	hasTo := strings.Contains(bounds, "до ") || strings.Contains(bounds, "up to ")

	switch {
	case len(nums) == 1 && hasFrom && !hasTo:
		return int64ptr(nums[0]), nil, currency
	case len(nums) == 1 && hasTo && !hasFrom:
		return nil, int64ptr(nums[0]), currency
	case len(nums) == 1:
		return int64ptr(nums[0]), int64ptr(nums[0]), currency
	default:
		lo, hi := nums[0], nums[0]
		for _, n := range nums[1:] {
			if n < lo {
				lo = n
			}
			if n > hi {
				hi = n
			}
		}
		return int64ptr(lo), int64ptr(hi), currency
	}
}

// ParseExperience maps free-text experience requirements to the fixed bucket
// set. Unrecognized text maps to ExperienceUnknown.
func ParseExperience(text string) Experience {
	lower := strings.ToLower(CleanText(text))
	if lower == "" {
		return ExperienceUnknown
	}
	switch {
	case strings.Contains(lower, "нет опыта") || strings.Contains(lower, "без опыта"):
		return ExperienceNone
	case strings.Contains(lower, "более 6") || strings.Contains(lower, "от 6"):
		return ExperienceSixPlus
	case strings.Contains(lower, "от 3") || strings.Contains(lower, "3-6") || strings.Contains(lower, "3–6"):
		return ExperienceThreeToSix
	case strings.Contains(lower, "от 1") || strings.Contains(lower, "1-3") || strings.Contains(lower, "1–3") || strings.Contains(lower, "до 3"):
		return ExperienceOneToThree
	}
	return ExperienceUnknown
}

// DetectRemote reports whether any of the given free-text fields carry a
// remote-work marker.
func DetectRemote(fields ...string) bool {
	haystack := strings.ToLower(strings.Join(fields, " "))
	for _, marker := range remoteMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

// SplitSkills splits a comma-separated skills string, trimming entries and
// dropping empties while preserving order.
func SplitSkills(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = CleanText(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func strptr(s string) *string { return &s }

func int64ptr(n int64) *int64 { return &n }
