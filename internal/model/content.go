package model

import "time"

// Languages are the site languages, English first
var Languages = []string{"en", "nl", "de", "fr", "pl", "sv", "da", "hu", "fi", "no"}

// IsSupportedLanguage reports whether lang is one of the site languages
func IsSupportedLanguage(lang string) bool {
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// FunnelStage tags content by marketing funnel position
type FunnelStage string

const (
	FunnelTOFU FunnelStage = "TOFU"
	FunnelMOFU FunnelStage = "MOFU"
	FunnelBOFU FunnelStage = "BOFU"
)

// ContentStatus is the publication state of a content row
type ContentStatus string

const (
	StatusDraft     ContentStatus = "draft"
	StatusPublished ContentStatus = "published"
	StatusArchived  ContentStatus = "archived"
)

// InternalLink is an entry in a page's internal_links column. Authority
// links to outside sources live in the same list with Type "external_authority".
type InternalLink struct {
	Text           string      `json:"text"`
	URL            string      `json:"url"`
	Title          string      `json:"title,omitempty"`
	Question       string      `json:"question,omitempty"`
	Snippet        string      `json:"snippet,omitempty"`
	FunnelStage    FunnelStage `json:"funnel_stage,omitempty"`
	Purpose        string      `json:"purpose,omitempty"`
	RelevanceScore int         `json:"relevance_score,omitempty"`
	Type           string      `json:"type,omitempty"`
	Rel            string      `json:"rel,omitempty"`
}

// ExternalCitation is an outbound authority source cited by an article
type ExternalCitation struct {
	URL    string `json:"url"`
	Source string `json:"source"`
	Text   string `json:"text,omitempty"`
}

// Article is a row in blog_articles
type Article struct {
	ID                   string             `json:"id,omitempty"`
	Slug                 string             `json:"slug"`
	Language             string             `json:"language"`
	Headline             string             `json:"headline"`
	MetaTitle            string             `json:"meta_title"`
	MetaDescription      string             `json:"meta_description"`
	DetailedContent      string             `json:"detailed_content"`
	SpeakableAnswer      string             `json:"speakable_answer,omitempty"`
	Category             string             `json:"category"`
	FunnelStage          FunnelStage        `json:"funnel_stage"`
	Status               ContentStatus      `json:"status"`
	ClusterID            *string            `json:"cluster_id"`
	ClusterNumber        *int               `json:"cluster_number"`
	ClusterTheme         *string            `json:"cluster_theme"`
	HreflangGroupID      *string            `json:"hreflang_group_id"`
	SourceArticleID      *string            `json:"source_article_id"`
	SourceLanguage       string             `json:"source_language,omitempty"`
	IsPrimary            bool               `json:"is_primary"`
	FeaturedImageURL     string             `json:"featured_image_url,omitempty"`
	FeaturedImageAlt     string             `json:"featured_image_alt,omitempty"`
	FeaturedImageCaption string             `json:"featured_image_caption,omitempty"`
	InternalLinks        []InternalLink     `json:"internal_links,omitempty"`
	ExternalCitations    []ExternalCitation `json:"external_citations,omitempty"`
	Translations         map[string]string  `json:"translations,omitempty"`
	DatePublished        *time.Time         `json:"date_published,omitempty"`
	CreatedAt            time.Time          `json:"created_at,omitempty"`
	UpdatedAt            time.Time          `json:"updated_at,omitempty"`
}

// QAPage is a row in qa_pages
type QAPage struct {
	ID              string            `json:"id,omitempty"`
	Slug            string            `json:"slug"`
	Language        string            `json:"language"`
	Title           string            `json:"title"`
	QuestionMain    string            `json:"question_main"`
	AnswerMain      string            `json:"answer_main"`
	QAType          *string           `json:"qa_type"`
	ClusterID       *string           `json:"cluster_id"`
	Status          ContentStatus     `json:"status"`
	SourceArticleID *string           `json:"source_article_id"`
	HreflangGroupID *string           `json:"hreflang_group_id"`
	Translations    map[string]string `json:"translations,omitempty"`
	InternalLinks   []InternalLink    `json:"internal_links,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at,omitempty"`
}

// PageRef is the minimal projection of a comparison or location page
// needed to build public URLs.
type PageRef struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Language  string    `json:"language"`
	CitySlug  string    `json:"city_slug,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
