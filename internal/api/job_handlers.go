package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shelfminer/shelfminer/internal/jobs"
)

type crawlJobRequest struct {
	ListingURL  string `json:"listing_url"`
	MaxItems    int    `json:"max_items"`
	MaxScrolls  int    `json:"max_scrolls"`
	Concurrency int    `json:"concurrency"`
	ItemDelayMS int    `json:"item_delay_ms"`
}

type labelJobRequest struct {
	Limit     int `json:"limit"`
	MaxImages int `json:"max_images"`
}

func (s *Server) createCrawlJob(w http.ResponseWriter, r *http.Request) {
	var req crawlJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg := jobs.CrawlConfig{
		ListingURL:  req.ListingURL,
		MaxItems:    req.MaxItems,
		MaxScrolls:  req.MaxScrolls,
		Concurrency: req.Concurrency,
		ItemDelay:   time.Duration(req.ItemDelayMS) * time.Millisecond,
	}
	if cfg.MaxItems == 0 {
		cfg.MaxItems = 200
	}
	if cfg.MaxScrolls == 0 {
		cfg.MaxScrolls = 30
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 3
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.enqueueJob(w, r, jobs.KindCrawl, cfg)
}

func (s *Server) createLabelJob(w http.ResponseWriter, r *http.Request) {
	var req labelJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	cfg := jobs.LabelConfig{
		Limit:     req.Limit,
		MaxImages: req.MaxImages,
	}
	if cfg.MaxImages == 0 {
		cfg.MaxImages = 10
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.enqueueJob(w, r, jobs.KindLabel, cfg)
}

// enqueueJob persists a queued record and fires its execution loop.
func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request, kind jobs.Kind, cfg any) {
	raw, err := jobs.EncodeConfig(cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	jobID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("generate job id: %v", err))
		return
	}
	rec := jobs.Record{
		ID:        jobID,
		Kind:      kind,
		Status:    jobs.StatusQueued,
		Config:    raw,
		CreatedAt: s.clock.Now(),
	}
	if err := s.jobs.CreateJob(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("create job: %v", err))
		return
	}
	s.launcher.Launch(jobID, kind)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": string(jobs.StatusQueued)})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	kind := jobs.Kind(r.URL.Query().Get("kind"))
	if kind != "" && kind != jobs.KindCrawl && kind != jobs.KindLabel {
		writeError(w, http.StatusBadRequest, "unknown job kind")
		return
	}
	records, err := s.jobs.ListJobs(r.Context(), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if records == nil {
		records = []jobs.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": records})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	rec, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": rec})
}

func (s *Server) pauseJob(w http.ResponseWriter, r *http.Request) {
	s.flipStatus(w, r, jobs.StatusRunning, jobs.StatusPaused)
}

func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	s.flipStatus(w, r, jobs.StatusPaused, jobs.StatusRunning)
}

// flipStatus is the pause/resume contract: a pure status flip, observed by
// the job's control loop within one poll interval.
func (s *Server) flipStatus(w http.ResponseWriter, r *http.Request, from, to jobs.Status) {
	jobID := chi.URLParam(r, "job_id")
	rec, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch job")
		return
	}
	if rec.Status != from {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, not %s", rec.Status, from))
		return
	}
	if err := s.jobs.SetStatus(r.Context(), jobID, to); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(to)})
}

// clearHistory fails every non-terminal job and wipes the catalog. Running
// loops observe the change as cancellation on their next status check.
func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.jobs.FailUnfinished(r.Context(), "history cleared", s.clock.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stop jobs")
		return
	}
	if err := s.catalog.Purge(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to purge catalog")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped_jobs": n})
}
