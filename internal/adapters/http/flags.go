package httpadapter

import (
	"net/http"
	"strings"
	"time"

	"github.com/oapi-codegen/runtime"

	"redflag/internal/domain"
	"redflag/internal/ports"
)

type listResponse struct {
	Flags []*domain.RedFlag `json:"flags"`
	Total int               `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

func (s *Server) createFlag(w http.ResponseWriter, r *http.Request) {
	var in ports.NewFlag
	if err := decodeBody(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := s.flags.CreateFlag(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, f)
}

// queryFilter reads filter criteria shared by listing and export. List
// values may be repeated or comma separated.
func queryFilter(r *http.Request) (domain.FlagFilter, error) {
	q := r.URL.Query()
	var (
		f                           domain.FlagFilter
		categories, severities, sts []string
		from, to                    string
	)
	binds := []struct {
		name string
		dest any
	}{
		{"category", &categories},
		{"severity", &severities},
		{"status", &sts},
		{"q", &f.Search},
		{"entity", &f.EntityRef},
		{"owner", &f.OwnerID},
		{"from", &from},
		{"to", &to},
		{"include_snoozed", &f.IncludeSnoozed},
	}
	for _, b := range binds {
		if err := runtime.BindQueryParameter("form", true, false, b.name, q, b.dest); err != nil {
			return f, domain.Errorf(domain.KindInvalidInput, "invalid %s: %v", b.name, err)
		}
	}
	for _, c := range splitList(categories) {
		f.Categories = append(f.Categories, domain.Category(c))
	}
	for _, v := range splitList(severities) {
		f.Severities = append(f.Severities, domain.Severity(v))
	}
	for _, v := range splitList(sts) {
		f.Statuses = append(f.Statuses, domain.Status(v))
	}
	var err error
	if f.DetectedFrom, err = parseTime("from", from); err != nil {
		return f, err
	}
	if f.DetectedTo, err = parseTime("to", to); err != nil {
		return f, err
	}
	return f, nil
}

func splitList(in []string) []string {
	var out []string
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (s *Server) listFlags(w http.ResponseWriter, r *http.Request) {
	filter, err := queryFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var (
		sort, order string
		page, limit int
	)
	q := r.URL.Query()
	for name, dest := range map[string]any{"sort": &sort, "order": &order, "page": &page, "limit": &limit} {
		if err := runtime.BindQueryParameter("form", true, false, name, q, dest); err != nil {
			s.fail(w, r, domain.Errorf(domain.KindInvalidInput, "invalid %s: %v", name, err))
			return
		}
	}
	query := domain.FlagQuery{
		Filter:     filter,
		Sort:       domain.SortField(sort),
		Descending: order != "asc",
		Page:       page,
		Limit:      limit,
	}
	if sort != "" && !query.Sort.Valid() {
		s.fail(w, r, domain.Errorf(domain.KindInvalidInput, "cannot sort by %q", sort))
		return
	}
	query = query.Normalize()
	flags, total, err := s.flags.ListFlags(r.Context(), query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listResponse{Flags: flags, Total: total, Page: query.Page, Limit: query.Limit})
}

func (s *Server) getFlag(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := s.flags.GetFlag(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) allowedTransitions(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	next, err := s.flags.AllowedTransitions(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"flag_id": id, "transitions": next})
}

// command decodes the body into req, runs fn with the flag id and actor,
// and responds with the updated flag.
func command[T any](s *Server, w http.ResponseWriter, r *http.Request, fn func(id, actorID string, req T) (*domain.RedFlag, error)) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req T
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := fn(id, actor(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

type statusRequest struct {
	To     domain.Status `json:"to"`
	Reason string        `json:"reason"`
}

func (s *Server) changeStatus(w http.ResponseWriter, r *http.Request) {
	command(s, w, r, func(id, actorID string, req statusRequest) (*domain.RedFlag, error) {
		return s.flags.ChangeStatus(r.Context(), id, req.To, req.Reason, actorID)
	})
}

type assignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

func (s *Server) assign(w http.ResponseWriter, r *http.Request) {
	command(s, w, r, func(id, actorID string, req assignRequest) (*domain.RedFlag, error) {
		return s.flags.Assign(r.Context(), id, req.AssigneeID, actorID)
	})
}

type noteRequest struct {
	Text       string `json:"text"`
	IsInternal bool   `json:"is_internal"`
}

func (s *Server) addNote(w http.ResponseWriter, r *http.Request) {
	command(s, w, r, func(id, actorID string, req noteRequest) (*domain.RedFlag, error) {
		return s.flags.AddNote(r.Context(), id, req.Text, req.IsInternal, actorID)
	})
}

type snoozeRequest struct {
	DurationDays int    `json:"duration_days"`
	Reason       string `json:"reason"`
}

func (s *Server) snooze(w http.ResponseWriter, r *http.Request) {
	command(s, w, r, func(id, actorID string, req snoozeRequest) (*domain.RedFlag, error) {
		return s.flags.Snooze(r.Context(), id, req.DurationDays, req.Reason, actorID)
	})
}

type remediationRequest struct {
	Plan         string     `json:"plan"`
	ETA          *time.Time `json:"eta"`
	Stakeholders []string   `json:"stakeholders"`
}

func (s *Server) recordRemediation(w http.ResponseWriter, r *http.Request) {
	command(s, w, r, func(id, actorID string, req remediationRequest) (*domain.RedFlag, error) {
		return s.flags.RecordRemediation(r.Context(), id, req.Plan, req.ETA, req.Stakeholders, actorID)
	})
}

type overrideRequest struct {
	Field  string `json:"field"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

func (s *Server) override(w http.ResponseWriter, r *http.Request) {
	command(s, w, r, func(id, actorID string, req overrideRequest) (*domain.RedFlag, error) {
		return s.flags.Override(r.Context(), id, req.Field, req.From, req.To, req.Reason, actorID)
	})
}

func (s *Server) listEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var grouped bool
	if err := runtime.BindQueryParameter("form", true, false, "grouped", r.URL.Query(), &grouped); err != nil {
		s.fail(w, r, domain.Errorf(domain.KindInvalidInput, "invalid grouped: %v", err))
		return
	}
	items, err := s.flags.ListEvidence(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if grouped {
		s.writeJSON(w, http.StatusOK, map[string]any{"flag_id": id, "evidence": domain.GroupEvidence(items)})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"flag_id": id, "evidence": items})
}

func (s *Server) addEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var in ports.NewEvidence
	if err := decodeBody(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	in.FlagID = id
	ev, err := s.flags.AddEvidence(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	actions, err := s.flags.ListActions(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"flag_id": id, "actions": actions})
}
