package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/iantaiahn/topicscraper/internal/pipeline"
	"github.com/iantaiahn/topicscraper/internal/scraper"
)

type output int

const (
	outputAll output = iota
	outputCleaned
	outputTopics
	outputClouds
)

type processRequest struct {
	URL              string `json:"url"`
	Headless         *bool  `json:"headless,omitempty"`
	MaxContentLength int    `json:"max_content_length,omitempty"`
}

// process runs the pipeline inline and writes the fields selected by out.
// Fetch failures map to 400 (invalid input), 504 (timeout), 503 (memory
// exceeded) or 502 (other fetch errors).
func (s *Server) process(out output) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if status, msg := s.jobs.admit(r, req.URL); status != 0 {
			writeError(w, status, msg)
			return
		}
		if s.deps.Runner == nil {
			writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
			return
		}

		preq := pipeline.Request{
			URL:              strings.TrimSpace(req.URL),
			Headless:         s.opts.Headless,
			MaxContentLength: req.MaxContentLength,
			SkipTopics:       out == outputCleaned,
			SkipReport:       true,
		}
		if req.Headless != nil {
			preq.Headless = *req.Headless
		}
		if preq.MaxContentLength <= 0 {
			preq.MaxContentLength = s.opts.MaxContentLength
		}

		res, err := s.deps.Runner.Run(r.Context(), preq)
		if err != nil {
			status := statusForError(err)
			s.logger.Warn("synchronous pipeline failed",
				zap.String("url", preq.URL),
				zap.Int("status", status),
				zap.Error(err),
			)
			writeError(w, status, err.Error())
			return
		}

		switch out {
		case outputCleaned:
			writeJSON(w, http.StatusOK, map[string]any{"cleaned_text": res.CleanedText})
		case outputTopics:
			writeJSON(w, http.StatusOK, map[string]any{"topics": res.Topics})
		case outputClouds:
			writeJSON(w, http.StatusOK, map[string]any{"wordclouds": clouds(res)})
		default:
			writeJSON(w, http.StatusOK, map[string]any{
				"url":          res.URL,
				"title":        res.Title,
				"wordclouds":   clouds(res),
				"cleaned_text": res.CleanedText,
				"topics":       res.Topics,
			})
		}
	}
}

func clouds(res pipeline.Result) map[string]string {
	if res.WordClouds == nil {
		return map[string]string{}
	}
	return res.WordClouds
}

// statusForError maps a pipeline error to an HTTP status.
func statusForError(err error) int {
	var fe *pipeline.FetchError
	switch {
	case errors.Is(err, scraper.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, scraper.ErrDisallowed):
		return http.StatusForbidden
	case errors.As(err, &fe):
		switch fe.Kind {
		case scraper.KindTimeout:
			return http.StatusGatewayTimeout
		case scraper.KindMemoryExceeded:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadGateway
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
