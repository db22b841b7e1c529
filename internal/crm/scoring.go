package crm

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/delsolprime/backoffice/internal/model"
)

// LeadPayload is the body of a lead registration from the site forms and the chat assistant
type LeadPayload struct {
	FirstName     string  `json:"firstName"`
	LastName      string  `json:"lastName"`
	Phone         string  `json:"phone"`
	Email         *string `json:"email,omitempty"`
	CountryPrefix string  `json:"countryPrefix,omitempty"`

	LeadSource       string  `json:"leadSource,omitempty"`
	LeadSourceDetail *string `json:"leadSourceDetail,omitempty"`
	PageURL          *string `json:"pageUrl,omitempty"`
	PageType         *string `json:"pageType,omitempty"`
	PageTitle        *string `json:"pageTitle,omitempty"`
	PageSlug         *string `json:"pageSlug,omitempty"`
	Referrer         *string `json:"referrer,omitempty"`
	Language         string  `json:"language,omitempty"`

	QuestionsAnswered    int             `json:"questionsAnswered,omitempty"`
	QAPairs              json.RawMessage `json:"qaPairs,omitempty"`
	IntakeComplete       bool            `json:"intakeComplete,omitempty"`
	ExitPoint            *string         `json:"exitPoint,omitempty"`
	ConversationDuration *string         `json:"conversationDuration,omitempty"`

	PropertyRef   *string `json:"propertyRef,omitempty"`
	PropertyPrice *string `json:"propertyPrice,omitempty"`
	CityName      *string `json:"cityName,omitempty"`
	Message       *string `json:"message,omitempty"`

	LocationPreference []string `json:"locationPreference,omitempty"`
	SeaViewImportance  *string  `json:"seaViewImportance,omitempty"`
	BudgetRange        *string  `json:"budgetRange,omitempty"`
	BedroomsDesired    *string  `json:"bedroomsDesired,omitempty"`
	PropertyType       []string `json:"propertyType,omitempty"`
	PropertyPurpose    *string  `json:"propertyPurpose,omitempty"`
	Timeframe          *string  `json:"timeframe,omitempty"`
}

// Score rates a lead 0-100 from budget, timeframe, intake depth, location
// specificity and criteria completeness.
func Score(p LeadPayload) int {
	score := 0.0

	budget := strings.ToLower(strOr(p.BudgetRange, ""))
	switch {
	case containsAny(budget, "2m", "2,000,000", "€2"):
		score += 30
	case containsAny(budget, "1m", "1,000,000", "€1"):
		score += 25
	case containsAny(budget, "500k", "500,000"):
		score += 20
	case containsAny(budget, "300k", "300,000"):
		score += 15
	default:
		score += 10
	}

	timeframe := strings.ToLower(strOr(p.Timeframe, ""))
	switch {
	case containsAny(timeframe, "6_month", "immediate"):
		score += 25
	case containsAny(timeframe, "1_year", "12_month"):
		score += 20
	case strings.Contains(timeframe, "2_year"):
		score += 15
	default:
		score += 5
	}

	switch {
	case p.IntakeComplete:
		score += 20
	case p.QuestionsAnswered >= 3:
		score += 15
	case p.QuestionsAnswered >= 1:
		score += 10
	}

	switch n := len(p.LocationPreference); {
	case n >= 2:
		score += 15
	case n == 1:
		score += 10
	default:
		score += 5
	}

	criteria := 0
	if len(p.PropertyType) > 0 {
		criteria++
	}
	if strOr(p.PropertyPurpose, "") != "" {
		criteria++
	}
	if strOr(p.BedroomsDesired, "") != "" {
		criteria++
	}
	if strOr(p.SeaViewImportance, "") != "" {
		criteria++
	}
	score += float64(criteria) * 2.5

	// half rounds up
	rounded := int(math.Floor(score + 0.5))
	if rounded > 100 {
		return 100
	}
	return rounded
}

// SegmentFor maps a score to a lead segment
func SegmentFor(score int) model.Segment {
	switch {
	case score >= 80:
		return model.SegmentHot
	case score >= 60:
		return model.SegmentWarm
	case score >= 40:
		return model.SegmentCool
	default:
		return model.SegmentCold
	}
}

// PriorityFor maps a score and timeframe to a handling priority
func PriorityFor(score int, timeframe string) model.Priority {
	tf := strings.ToLower(timeframe)
	switch {
	case score >= 80 || containsAny(tf, "6_month", "immediate"):
		return model.PriorityUrgent
	case score >= 60 || strings.Contains(tf, "1_year"):
		return model.PriorityHigh
	case score >= 40:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
