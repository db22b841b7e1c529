package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"strings"
	"time"
)

var languageFlags = map[string]string{
	"fr": "🇫🇷", "fi": "🇫🇮", "pl": "🇵🇱", "en": "🇬🇧", "nl": "🇳🇱",
	"de": "🇩🇪", "es": "🇪🇸", "sv": "🇸🇪", "da": "🇩🇰", "hu": "🇭🇺",
}

var segmentColors = map[string]string{
	"Hot":  "#EF4444",
	"Warm": "#F59E0B",
	"Cool": "#3B82F6",
	"Cold": "#6B7280",
}

// LanguageFlag returns the flag emoji for a language code, 🌍 when unknown
func LanguageFlag(lang string) string {
	if flag, ok := languageFlags[strings.ToLower(lang)]; ok {
		return flag
	}
	return "🌍"
}

// SegmentColor returns the badge colour of a lead segment
func SegmentColor(segment string) string {
	if c, ok := segmentColors[segment]; ok {
		return c
	}
	return "#6B7280"
}

const layoutHTML = `{{define "layout"}}<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"><title>{{.Title}}</title></head>
<body style="margin:0;padding:0;font-family:-apple-system,'Segoe UI',Roboto,Arial,sans-serif;background-color:#f3f4f6;">
<table width="100%" cellpadding="0" cellspacing="0" style="background-color:#f3f4f6;padding:40px 0;"><tr><td align="center">
<table width="600" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:12px;overflow:hidden;">
<tr><td style="background:{{.HeaderColor}};padding:30px;text-align:center;">
<h1 style="margin:0;color:#ffffff;font-size:24px;">{{.Title}}</h1>
{{if .Subtitle}}<p style="margin:10px 0 0;color:#ffffff;font-size:14px;">{{.Subtitle}}</p>{{end}}
</td></tr>
<tr><td style="padding:30px;color:#374151;font-size:16px;">{{template "body" .Body}}</td></tr>
<tr><td style="background-color:#f9fafb;padding:20px 30px;border-top:1px solid #e5e7eb;">
<p style="margin:0;color:#6b7280;font-size:12px;text-align:center;">Del Sol Prime Homes CRM</p>
</td></tr>
</table></td></tr></table>
</body>
</html>{{end}}
{{define "field"}}<p style="margin:8px 0 0;color:#6b7280;font-size:12px;text-transform:uppercase;">{{.Label}}</p>
<p style="margin:4px 0 0;color:#111827;font-size:14px;font-weight:500;">{{.Value}}</p>{{end}}
{{define "button"}}<p style="text-align:center;margin:24px 0 0;"><a href="{{.URL}}" style="display:inline-block;background:#C5A028;color:#ffffff;font-weight:bold;text-decoration:none;padding:14px 40px;border-radius:8px;">{{.Label}}</a></p>{{end}}`

const leadAvailableHTML = `{{define "body"}}
{{if .ClaimWindowMinutes}}<p style="margin:0 0 20px;padding:12px 16px;background-color:#FEF3C7;color:#92400E;font-weight:600;">⏱️ You have {{.ClaimWindowMinutes}} minutes to claim this lead</p>{{end}}
<p style="margin:0 0 20px;">Hi {{.AgentName}},</p>
{{if .RuleName}}<p style="margin:0 0 24px;">A new {{.LanguageUpper}} lead was assigned to you by the routing rule "{{.RuleName}}":</p>
{{else}}<p style="margin:0 0 24px;">A new {{.LanguageUpper}} lead matching your profile is available for claiming:</p>{{end}}
<h2 style="margin:0 0 4px;color:#111827;font-size:20px;">{{.LeadName}}</h2>
<span style="display:inline-block;background-color:{{.SegmentColor}};color:white;font-size:12px;font-weight:600;padding:4px 12px;border-radius:9999px;">{{.Segment}}</span>
{{template "field" (field "Phone" .Phone)}}
{{template "field" (field "Budget" .Budget)}}
{{template "field" (field "Location" .Locations)}}
{{template "field" (field "Timeframe" .Timeframe)}}
{{template "field" (field "Source" .Source)}}
{{template "button" (button .ActionURL .ActionLabel)}}
{{end}}`

const alertHTML = `{{define "body"}}
<p style="margin:0 0 20px;">{{.Intro}}</p>
<h2 style="margin:0 0 4px;color:#111827;font-size:20px;">{{.LeadName}} ({{.LanguageUpper}})</h2>
{{range .Fields}}{{template "field" .}}
{{end}}
{{template "button" (button .ActionURL .ActionLabel)}}
{{end}}`

const reminderHTML = `{{define "body"}}
<p style="margin:0 0 20px;padding:12px 16px;background-color:{{.BarColor}};color:#111827;font-weight:600;text-align:center;">⏰ {{.Until}}</p>
<p style="margin:0 0 8px;color:#6b7280;">Hi {{.AgentName}},</p>
<p style="margin:0 0 20px;">{{if .Urgent}}Your {{.TypeLabel}} is about to start:{{else}}You have an upcoming {{.TypeLabel}}:{{end}}</p>
<h2 style="margin:0;color:#111827;font-size:16px;">{{.Icon}} {{.Title}}</h2>
<p style="margin:8px 0 0;color:#6b7280;font-size:13px;">📅 {{.Date}}<br>🕐 {{.Time}}</p>
{{if .Description}}<p style="margin:12px 0 0;">{{.Description}}</p>{{end}}
{{if .LeadName}}{{template "field" (field "Lead" .LeadLine)}}{{end}}
{{template "button" (button .ActionURL "View in CRM Calendar")}}
{{end}}`

var templateFuncs = template.FuncMap{
	"field":  func(label, value string) fieldData { return fieldData{Label: label, Value: orNotSpecified(value)} },
	"button": func(url, label string) buttonData { return buttonData{URL: url, Label: label} },
}

var (
	leadAvailableTmpl = template.Must(template.New("lead").Funcs(templateFuncs).Parse(layoutHTML + leadAvailableHTML))
	alertTmpl         = template.Must(template.New("alert").Funcs(templateFuncs).Parse(layoutHTML + alertHTML))
	reminderTmpl      = template.Must(template.New("reminder").Funcs(templateFuncs).Parse(layoutHTML + reminderHTML))
)

type fieldData struct {
	Label string
	Value string
}

type buttonData struct {
	URL   string
	Label string
}

type layoutData struct {
	Title       string
	Subtitle    string
	HeaderColor template.CSS
	Body        any
}

// LeadAvailable is the data of the "new lead" email sent to agents
type LeadAvailable struct {
	AgentName          string
	LeadName           string
	Language           string
	Segment            string
	Phone              string
	Budget             string
	Locations          []string
	Timeframe          string
	Source             string
	ClaimURL           string
	ClaimWindowMinutes int

	// RuleName is set for instant rule assignments, which have no claim window
	RuleName string
}

// Alert is the data of an admin or agent alert email
type Alert struct {
	Title       string
	Subtitle    string
	Urgent      bool
	Intro       string
	LeadName    string
	Language    string
	Fields      [][2]string
	ActionURL   string
	ActionLabel string
}

// LeadAvailableSubject is e.g. "🇳🇱 New NL Lead: Jan Smit"
func LeadAvailableSubject(lang, leadName string) string {
	return fmt.Sprintf("%s New %s Lead: %s", LanguageFlag(lang), strings.ToUpper(lang), leadName)
}

// RenderLeadAvailable renders the new-lead email
func RenderLeadAvailable(d LeadAvailable) (string, error) {
	label := "⚡ Claim This Lead Now"
	if d.RuleName != "" {
		label = "Open Lead"
	}
	body := struct {
		LeadAvailable
		LanguageUpper string
		SegmentColor  template.CSS
		Locations     string
		ActionURL     string
		ActionLabel   string
	}{
		LeadAvailable: d,
		LanguageUpper: strings.ToUpper(d.Language),
		SegmentColor:  template.CSS(SegmentColor(d.Segment)),
		Locations:     strings.Join(d.Locations, ", "),
		ActionURL:     d.ClaimURL,
		ActionLabel:   label,
	}
	if body.Source == "" {
		body.Source = "Website"
	}
	return render(leadAvailableTmpl, layoutData{
		Title:       LanguageFlag(d.Language) + " New Lead Available!",
		Subtitle:    "Claim this lead before it's gone",
		HeaderColor: "#C5A028",
		Body:        body,
	})
}

// RenderAlert renders an alert email
func RenderAlert(a Alert) (string, error) {
	color := template.CSS("#C5A028")
	if a.Urgent {
		color = "#DC2626"
	}
	fields := make([]fieldData, 0, len(a.Fields))
	for _, f := range a.Fields {
		fields = append(fields, fieldData{Label: f[0], Value: orNotSpecified(f[1])})
	}
	body := struct {
		Alert
		LanguageUpper string
		Fields        []fieldData
	}{
		Alert:         a,
		LanguageUpper: strings.ToUpper(a.Language),
		Fields:        fields,
	}
	return render(alertTmpl, layoutData{
		Title:       a.Title,
		Subtitle:    a.Subtitle,
		HeaderColor: color,
		Body:        body,
	})
}

var reminderIcons = map[string]string{
	"callback":    "📞",
	"follow_up":   "🔄",
	"viewing":     "🏠",
	"meeting":     "👥",
	"appointment": "📅",
	"deadline":    "⏰",
}

// ReminderIcon returns the icon of a reminder type, 🔔 when unknown
func ReminderIcon(reminderType string) string {
	if icon, ok := reminderIcons[reminderType]; ok {
		return icon
	}
	return "🔔"
}

// Reminder is the data of a calendar reminder email
type Reminder struct {
	AgentName    string
	Title        string
	Description  string
	ReminderType string
	At           time.Time
	Now          time.Time

	// Urgent marks the final reminder shortly before the start
	Urgent bool

	LeadName     string
	LeadLanguage string
	LeadSegment  string
	LeadPhone    string

	ActionURL string
}

// ReminderSubject is "🔔 Reminder: <title>", or the urgent variant
func ReminderSubject(title string, urgent bool) string {
	if urgent {
		return "🚨 STARTING SOON: " + title
	}
	return "🔔 Reminder: " + title
}

// TimeUntil describes how far away t is from now, e.g. "in 2 hours"
func TimeUntil(t, now time.Time) string {
	minutes := int(math.Floor(t.Sub(now).Minutes()))
	switch {
	case minutes < 0:
		return fmt.Sprintf("%d minutes overdue", -minutes)
	case minutes < 60:
		return fmt.Sprintf("in %d minutes", minutes)
	case minutes < 1440:
		return plural("in %d hour", minutes/60)
	default:
		return plural("in %d day", minutes/1440)
	}
}

func plural(format string, n int) string {
	s := fmt.Sprintf(format, n)
	if n > 1 {
		s += "s"
	}
	return s
}

func urgencyColor(minutes int, urgent bool) template.CSS {
	switch {
	case minutes < 0, urgent, minutes <= 10:
		return "#FEE2E2"
	case minutes < 30:
		return "#FFEDD5"
	case minutes < 60:
		return "#FEF3C7"
	default:
		return "#FEF9C3"
	}
}

// RenderReminder renders a reminder email
func RenderReminder(r Reminder) (string, error) {
	until := TimeUntil(r.At, r.Now)
	lead := ""
	if r.LeadName != "" {
		lead = strings.TrimSpace(fmt.Sprintf("%s %s %s", LanguageFlag(orDefault(r.LeadLanguage, "en")), r.LeadName, orDefault(r.LeadSegment, "New Lead")))
		if r.LeadPhone != "" {
			lead += " • " + r.LeadPhone
		}
	}
	body := struct {
		Reminder
		Until     string
		BarColor  template.CSS
		TypeLabel string
		Icon      string
		Date      string
		Time      string
		LeadLine  string
	}{
		Reminder:  r,
		Until:     strings.ToUpper(until[:1]) + until[1:],
		BarColor:  urgencyColor(int(math.Floor(r.At.Sub(r.Now).Minutes())), r.Urgent),
		TypeLabel: strings.Replace(r.ReminderType, "_", " ", 1),
		Icon:      ReminderIcon(r.ReminderType),
		Date:      r.At.Format("Monday, January 2, 2006"),
		Time:      r.At.Format("03:04 PM"),
		LeadLine:  lead,
	}
	title, subtitle, color := "🔔 Reminder", "Del Sol Prime Homes CRM", template.CSS("#C5A028")
	if r.Urgent {
		title, subtitle, color = "🚨 Final Reminder", "Your appointment is about to start!", "#DC2626"
	}
	return render(reminderTmpl, layoutData{
		Title:       title,
		Subtitle:    subtitle,
		HeaderColor: color,
		Body:        body,
	})
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func render(t *template.Template, data layoutData) (string, error) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("render %s email: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func orNotSpecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Not specified"
	}
	return s
}
