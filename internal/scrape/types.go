// Package scrape defines the vacancy scraping pipeline: fetching search
// pages, extracting raw listings, and normalizing them into storable records.
package scrape

import "time"

// Experience buckets a vacancy's required experience into the fixed set the
// source site uses for filtering.
type Experience string

// Experience bucket values. The empty string means the listing did not state
// a recognizable requirement.
const (
	ExperienceUnknown    Experience = ""
	ExperienceNone       Experience = "none"
	ExperienceOneToThree Experience = "1-3"
	ExperienceThreeToSix Experience = "3-6"
	ExperienceSixPlus    Experience = "6+"
)

// queryParam returns the hh.ru search parameter value for the bucket.
func (e Experience) queryParam() string {
	switch e {
	case ExperienceNone:
		return "noExperience"
	case ExperienceOneToThree:
		return "between1And3"
	case ExperienceThreeToSix:
		return "between3And6"
	case ExperienceSixPlus:
		return "moreThan6"
	default:
		return ""
	}
}

// Valid reports whether the bucket is one of the known values.
func (e Experience) Valid() bool {
	switch e {
	case ExperienceUnknown, ExperienceNone, ExperienceOneToThree, ExperienceThreeToSix, ExperienceSixPlus:
		return true
	}
	return false
}

// Vacancy is one normalized job-posting snapshot. Link is the natural key;
// re-fetching an already stored link must not create a second row.
type Vacancy struct {
	Link       string     `json:"link"`
	Title      string     `json:"title"`
	Company    string     `json:"company"`
	Location   string     `json:"location"`
	Experience Experience `json:"experience"`
	Remote     bool       `json:"remote"`
	KeySkills  []string   `json:"key_skills"`
	SalaryMin  *int64     `json:"salary_min"`
	SalaryMax  *int64     `json:"salary_max"`
	Currency   *string    `json:"currency"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RawVacancy is the unparsed field bag extracted from one search-page
// listing. All fields except Link and Title may legitimately be empty.
type RawVacancy struct {
	Link           string
	Title          string
	Company        string
	Location       string
	SalaryText     string
	ExperienceText string
	SkillsText     string
}

// PageResult is what the parser extracts from one fetched search page.
type PageResult struct {
	Listings    []RawVacancy
	HasNextPage bool
}

// SearchRequest describes one end-to-end search run. It is transient; only a
// search_history row outlives the run.
type SearchRequest struct {
	Keyword    string
	Location   string
	Experience Experience
	PageLimit  int
	// Reimport switches duplicate links from skip to overwrite.
	Reimport bool
}
