package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/testsabirweb/slack_digest/pkg/candidates"
	"github.com/testsabirweb/slack_digest/pkg/chat"
	"github.com/testsabirweb/slack_digest/pkg/digest"
	"github.com/testsabirweb/slack_digest/pkg/models"
)

type digestRequest struct {
	Start string `json:"start" validate:"omitempty,datetime=2006-01-02"`
	End   string `json:"end" validate:"omitempty,datetime=2006-01-02"`
}

type digestResponse struct {
	*digest.Result
	Markdown string `json:"markdown"`
}

type askRequest struct {
	Query     string `json:"query" validate:"required"`
	Start     string `json:"start,omitempty" validate:"omitempty,datetime=2006-01-02"`
	End       string `json:"end,omitempty" validate:"omitempty,datetime=2006-01-02"`
	ChannelID string `json:"channel_id,omitempty"`
	Limit     int    `json:"limit,omitempty" validate:"gte=0,lte=100"`
	Mode      string `json:"mode,omitempty" validate:"omitempty,oneof=channel_activity candidate_pipeline full_context"`
}

// question resolves the request window; omitted dates select last week.
func (r askRequest) question(now time.Time, loc *time.Location) (chat.Question, error) {
	start, end, err := digest.ResolveRange(now, loc, r.Start, r.End)
	if err != nil {
		return chat.Question{}, err
	}
	return chat.Question{
		Query:     r.Query,
		Start:     start,
		End:       end,
		ChannelID: r.ChannelID,
		Limit:     r.Limit,
		Mode:      chat.Mode(r.Mode),
	}, nil
}

type askResponse struct {
	*chat.Answer
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type channelResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsMember   bool   `json:"is_member"`
	IsArchived bool   `json:"is_archived"`
	Client     string `json:"client,omitempty"`
	Included   bool   `json:"included"`
	Reason     string `json:"reason,omitempty"`
}

// decode reads an optional JSON body into v and validates it.
func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return s.validate.Struct(v)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Digest == nil {
		writeError(w, http.StatusServiceUnavailable, "digest generation is not configured")
		return
	}
	var req digestRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, end, err := digest.ResolveRange(s.now(), s.deps.Location, req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.deps.Digest.GenerateDigest(r.Context(), start, end)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "digest failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, digestResponse{
		Result:   res,
		Markdown: digest.RenderMarkdown(res, s.deps.Location, s.deps.GeneratedFor),
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "question answering is not configured")
		return
	}
	var req askRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q, err := req.question(s.now(), s.deps.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ans, err := s.deps.Chat.Answer(r.Context(), q)
	switch {
	case errors.Is(err, chat.ErrEmptyQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.ErrorContext(r.Context(), "answer failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Answer: ans, Start: q.Start, End: q.End})
}

// handleSearch accepts a JSON SearchRequest on POST and q, limit, offset,
// channel and profile_url query parameters on GET.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Search == nil {
		writeError(w, http.StatusServiceUnavailable, "semantic search is not configured")
		return
	}

	var req SearchRequest
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	} else {
		q := r.URL.Query()
		req.Query = q.Get("q")
		req.Limit, _ = strconv.Atoi(q.Get("limit"))
		req.Offset, _ = strconv.Atoi(q.Get("offset"))
		if ch, url := q.Get("channel"), q.Get("profile_url"); ch != "" || url != "" {
			req.Filters = &SearchFilters{Channel: ch, ProfileURL: url}
		}
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := search(r.Context(), s.deps.Search, req)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "search failed", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if s.deps.Channels == nil {
		writeError(w, http.StatusServiceUnavailable, "channel listing is not configured")
		return
	}
	channels, err := s.deps.Channels.ListChannels(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	out := make([]channelResponse, 0, len(channels))
	for _, ch := range channels {
		ok, reason := s.deps.Policy.Allow(ch)
		out = append(out, channelResponse{
			ID:         ch.ID,
			Name:       ch.Name,
			IsMember:   ch.IsMember,
			IsArchived: ch.IsArchived,
			Client:     digest.ClientName(ch.Name),
			Included:   ok,
			Reason:     reason,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out, "total": len(out)})
}

// handleProfiles lists every recorded submission of the profile in ?url=,
// oldest first.
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if s.deps.Profiles == nil {
		writeError(w, http.StatusServiceUnavailable, "profile lookup is not configured")
		return
	}
	profileURL := candidates.CanonicalURL(r.URL.Query().Get("url"))
	if profileURL == "" {
		writeError(w, http.StatusBadRequest, "url must be a profile link")
		return
	}
	anchors, err := s.deps.Profiles.ProfileLinks(r.Context(), profileURL)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "profile lookup failed", "profile_url", profileURL, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if anchors == nil {
		anchors = []models.Candidate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"profile_url": profileURL, "submissions": anchors, "total": len(anchors)})
}
