package crm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/notify"
)

// ReminderWindow selects which reminder email a run sends
type ReminderWindow string

const (
	// WindowHour sends the heads-up an hour before the reminder
	WindowHour ReminderWindow = "1hour"
	// WindowTenMinutes sends the urgent "starting soon" email
	WindowTenMinutes ReminderWindow = "10min"
)

type windowSpec struct {
	from, to   time.Duration
	sentColumn string
	urgent     bool
}

var reminderWindows = map[ReminderWindow]windowSpec{
	WindowHour:       {from: 55 * time.Minute, to: 65 * time.Minute, sentColumn: "email_sent"},
	WindowTenMinutes: {from: 5 * time.Minute, to: 15 * time.Minute, sentColumn: "email_10min_sent", urgent: true},
}

// WindowResult counts the emails of one reminder window
type WindowResult struct {
	Sent   int      `json:"sent"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors"`
}

// ReminderResult is the outcome of a reminder run
type ReminderResult struct {
	Success         bool          `json:"success"`
	HourReminders   *WindowResult `json:"hour_reminders,omitempty"`
	TenMinReminders *WindowResult `json:"ten_min_reminders,omitempty"`
	TotalSent       int           `json:"total_sent"`
	TotalFailed     int           `json:"total_failed"`
}

// SendReminders emails agents about upcoming calendar reminders. With no
// window given both windows are processed concurrently.
func (s *Service) SendReminders(ctx context.Context, windows ...ReminderWindow) (*ReminderResult, error) {
	if len(windows) == 0 {
		windows = []ReminderWindow{WindowHour, WindowTenMinutes}
	}

	for _, w := range windows {
		if _, ok := reminderWindows[w]; !ok {
			return nil, validationError(fmt.Sprintf("unknown reminder window %q", w))
		}
	}

	results := make([]*WindowResult, len(windows))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range windows {
		g.Go(func() error {
			r, err := s.processReminders(gctx, w, reminderWindows[w])
			results[i] = r
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &ReminderResult{Success: true}
	for i, w := range windows {
		r := results[i]
		out.TotalSent += r.Sent
		out.TotalFailed += r.Failed
		switch w {
		case WindowHour:
			out.HourReminders = r
		case WindowTenMinutes:
			out.TenMinReminders = r
		}
	}
	s.logger.Info("reminder run complete", zap.Int("sent", out.TotalSent), zap.Int("failed", out.TotalFailed))
	return out, nil
}

func (s *Service) processReminders(ctx context.Context, w ReminderWindow, spec windowSpec) (*WindowResult, error) {
	now := s.now()
	result := &WindowResult{Errors: []string{}}

	reminders, err := s.store.DueReminders(ctx, spec.sentColumn, now.Add(spec.from), now.Add(spec.to))
	if err != nil {
		return nil, fmt.Errorf("load %s reminders: %w", w, err)
	}
	s.logger.Debug("reminders due", zap.String("window", string(w)), zap.Int("count", len(reminders)))

	for _, r := range reminders {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		agent, err := s.store.GetAgent(ctx, r.AgentID)
		if err != nil || agent.Email == "" {
			result.Failed++
			result.Errors = append(result.Errors, "Agent not found for reminder "+r.ID)
			continue
		}

		var lead *model.Lead
		if id := strOr(r.LeadID, ""); id != "" {
			if l, err := s.store.GetLead(ctx, id); err == nil {
				lead = l
			}
		}

		if err := s.emailReminder(ctx, r, *agent, lead, now, spec.urgent); err != nil {
			s.logger.Warn("reminder email failed", zap.String("reminder_id", r.ID), zap.Error(err))
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("Failed to send for %s: %s", r.ID, err))
			continue
		}

		if err := s.store.MarkReminderSent(ctx, r.ID, spec.sentColumn, s.now()); err != nil {
			s.logger.Warn("mark reminder sent failed", zap.String("reminder_id", r.ID), zap.Error(err))
		}
		result.Sent++
		s.logger.Info("reminder email sent",
			zap.String("window", string(w)),
			zap.String("reminder_id", r.ID),
			zap.String("to", agent.Email))
	}
	return result, nil
}

func (s *Service) emailReminder(ctx context.Context, r model.Reminder, agent model.Agent, lead *model.Lead, now time.Time, urgent bool) error {
	data := notify.Reminder{
		AgentName:    agent.FirstName,
		Title:        r.Title,
		Description:  strOr(r.Description, ""),
		ReminderType: r.ReminderType,
		At:           r.ReminderDatetime,
		Now:          now,
		Urgent:       urgent,
		ActionURL:    s.opts.AppURL + "/crm/agent/calendar",
	}
	if lead != nil {
		data.LeadName = lead.FullName()
		data.LeadLanguage = lead.Language
		data.LeadSegment = string(lead.LeadSegment)
		data.LeadPhone = lead.PhoneNumber
	}
	html, err := notify.RenderReminder(data)
	if err != nil {
		return err
	}

	email := notify.Email{
		From:    s.opts.From,
		To:      []string{agent.Email},
		Subject: notify.ReminderSubject(r.Title, urgent),
		HTML:    html,
	}
	if urgent {
		email.Headers = map[string]string{"X-Priority": "1"}
	}
	return s.sendEmail(ctx, email)
}
