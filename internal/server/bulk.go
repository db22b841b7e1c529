package server

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/bulk"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/realtime"
)

type bulkStartRequest struct {
	Operation model.OperationType `json:"operation"`
	IDs       []string            `json:"ids"`
	Resume    bool                `json:"resume"`
}

func (s *Server) handleBulkStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bulk == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req bulkStartRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if !req.Operation.Valid() {
		s.fail(w, r, badRequest("unknown operation: "+string(req.Operation)))
		return
	}
	state, err := s.deps.Bulk.Start(r.Context(), req.Operation, bulk.RunOptions{IDs: req.IDs, Resume: req.Resume})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, state)
}

func (s *Server) handleBulkPause(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bulk == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	state, err := s.deps.Bulk.Pause()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleBulkResume(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bulk == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	state, err := s.deps.Bulk.Resume()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleBulkCancel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bulk == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	if err := s.deps.Bulk.Cancel(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "state": s.deps.Bulk.Status()})
}

// handleBulkStatus returns the tracker state. With ?type= it also returns
// that operation's resumable checkpoint.
func (s *Server) handleBulkStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bulk == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	resp := map[string]any{"state": s.deps.Bulk.Status()}
	if t := model.OperationType(r.URL.Query().Get("type")); t != "" {
		if !t.Valid() {
			s.fail(w, r, badRequest("unknown operation: "+string(t)))
			return
		}
		cp, err := s.deps.Bulk.PendingCheckpoint(r.Context(), t)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		resp["checkpoint"] = cp
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRealtime streams change events. ?topics= takes a comma-separated
// list and defaults to lead events.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	topics := []realtime.Topic{realtime.TopicLeads}
	if q := r.URL.Query().Get("topics"); q != "" {
		topics = topics[:0]
		for _, t := range strings.Split(q, ",") {
			switch topic := realtime.Topic(strings.TrimSpace(t)); topic {
			case realtime.TopicLeads, realtime.TopicBulk:
				topics = append(topics, topic)
			default:
				s.fail(w, r, badRequest("unknown topic: "+string(topic)))
				return
			}
		}
	}

	sub, err := s.deps.Feed.Subscribe(r.Context(), topics...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer func() { _ = sub.Close() }()

	// streams outlive the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	if err := realtime.Stream(w, r, sub); err != nil {
		s.logger.Debug("realtime stream ended", zap.Error(err))
	}
}
