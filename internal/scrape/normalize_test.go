package scrape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSalary(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantMin  *int64
		wantMax  *int64
		wantCurr *string
	}{
		{
			name:     "range with nbsp separators",
			text:     "100 000 – 150 000 руб.",
			wantMin:  int64ptr(100000),
			wantMax:  int64ptr(150000),
			wantCurr: strptr("RUB"),
		},
		{
			name:     "range with regular spaces",
			text:     "100 000 – 150 000 руб.",
			wantMin:  int64ptr(100000),
			wantMax:  int64ptr(150000),
			wantCurr: strptr("RUB"),
		},
		{
			name:     "lower bound only",
			text:     "от 80 000 руб.",
			wantMin:  int64ptr(80000),
			wantCurr: strptr("RUB"),
		},
		{
			name:     "lower bound with tax note",
			text:     "от 300 000 ₽ за месяц, до вычета налогов",
			wantMin:  int64ptr(300000),
			wantCurr: strptr("RUB"),
		},
		{
			name:     "upper bound only",
			text:     "до 120 000 руб.",
			wantMax:  int64ptr(120000),
			wantCurr: strptr("RUB"),
		},
		{
			name:     "single value in dollars",
			text:     "5 000 $",
			wantMin:  int64ptr(5000),
			wantMax:  int64ptr(5000),
			wantCurr: strptr("USD"),
		},
		{
			name:     "euro range",
			text:     "3 000 – 4 500 EUR",
			wantMin:  int64ptr(3000),
			wantMax:  int64ptr(4500),
			wantCurr: strptr("EUR"),
		},
		{
			name: "not specified",
			text: "з/п не указана",
		},
		{
			name: "empty",
			text: "",
		},
		{
			name:     "currency without numbers",
			text:     "руб.",
			wantCurr: strptr("RUB"),
		},
		{
			name:     "reversed range is ordered",
			text:     "150 000 - 100 000 руб.",
			wantMin:  int64ptr(100000),
			wantMax:  int64ptr(150000),
			wantCurr: strptr("RUB"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMin, gotMax, gotCurr := ParseSalary(tt.text)
			assert.Equal(t, tt.wantMin, gotMin, "salary min")
			assert.Equal(t, tt.wantMax, gotMax, "salary max")
			assert.Equal(t, tt.wantCurr, gotCurr, "currency")
		})
	}
}

func TestParseExperience(t *testing.T) {
	tests := []struct {
		text string
		want Experience
	}{
		{"Нет опыта", ExperienceNone},
		{"Без опыта работы", ExperienceNone},
		{"Опыт работы от 1 года до 3 лет", ExperienceOneToThree},
		{"1-3 года", ExperienceOneToThree},
		{"От 3 до 6 лет", ExperienceThreeToSix},
		{"3–6 лет", ExperienceThreeToSix},
		{"Более 6 лет", ExperienceSixPlus},
		{"от 6 лет", ExperienceSixPlus},
		{"", ExperienceUnknown},
		{"senior developer", ExperienceUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseExperience(tt.text))
		})
	}
}

func TestDetectRemote(t *testing.T) {
	assert.True(t, DetectRemote("Go разработчик", "Москва, можно удалённо"))
	assert.True(t, DetectRemote("Remote Golang Engineer", ""))
	assert.True(t, DetectRemote("", "дистанционная работа"))
	assert.False(t, DetectRemote("Go разработчик", "Москва"))
}

func TestSplitSkills(t *testing.T) {
	assert.Equal(t, []string{"Go", "PostgreSQL", "Docker"}, SplitSkills("Go, PostgreSQL , Docker"))
	assert.Equal(t, []string{"SQL"}, SplitSkills(",SQL,,"))
	assert.Nil(t, SplitSkills("  "))
	assert.Nil(t, SplitSkills(""))
}

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	t.Run("full record", func(t *testing.T) {
		raw := RawVacancy{
			Link:           "https://hh.ru/vacancy/123",
			Title:          " Senior  Go разработчик ",
			Company:        "ООО Рога и Копыта",
			Location:       "Москва, можно удалённо",
			SalaryText:     "100 000 – 150 000 руб.",
			ExperienceText: "От 3 до 6 лет",
			SkillsText:     "Go, PostgreSQL",
		}
		v, err := Normalize(raw, now)
		require.NoError(t, err)
		assert.Equal(t, "https://hh.ru/vacancy/123", v.Link)
		assert.Equal(t, "Senior Go разработчик", v.Title)
		assert.Equal(t, ExperienceThreeToSix, v.Experience)
		assert.True(t, v.Remote)
		assert.Equal(t, []string{"Go", "PostgreSQL"}, v.KeySkills)
		require.NotNil(t, v.SalaryMin)
		require.NotNil(t, v.SalaryMax)
		assert.EqualValues(t, 100000, *v.SalaryMin)
		assert.EqualValues(t, 150000, *v.SalaryMax)
		require.NotNil(t, v.Currency)
		assert.Equal(t, "RUB", *v.Currency)
		assert.Equal(t, now, v.CreatedAt)
	})

	t.Run("empty title is rejected", func(t *testing.T) {
		_, err := Normalize(RawVacancy{Link: "https://hh.ru/vacancy/1", Title: "  "}, now)
		verr, ok := AsValidation(err)
		require.True(t, ok)
		assert.Equal(t, "title", verr.Field)
	})

	t.Run("missing link is rejected", func(t *testing.T) {
		_, err := Normalize(RawVacancy{Title: "Go разработчик"}, now)
		verr, ok := AsValidation(err)
		require.True(t, ok)
		assert.Equal(t, "link", verr.Field)
	})

	t.Run("malformed salary degrades to nulls", func(t *testing.T) {
		v, err := Normalize(RawVacancy{
			Link:       "https://hh.ru/vacancy/2",
			Title:      "Аналитик данных",
			SalaryText: "по договорённости",
		}, now)
		require.NoError(t, err)
		assert.Nil(t, v.SalaryMin)
		assert.Nil(t, v.SalaryMax)
		assert.Nil(t, v.Currency)
	})
}
