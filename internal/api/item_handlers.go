package api

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shelfminer/shelfminer/internal/catalog"
	"github.com/shelfminer/shelfminer/internal/jobs"
)

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 500 || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid paging parameters")
		return
	}
	items, err := s.catalog.ListItems(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	if items == nil {
		items = []catalog.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

type itemResponse struct {
	Item   catalog.Item        `json:"item"`
	Images []catalog.ItemImage `json:"images"`
	Label  *catalog.Label      `json:"label,omitempty"`
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	item, err := s.catalog.GetItem(r.Context(), itemID)
	if err != nil {
		if errors.Is(err, jobs.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch item")
		return
	}
	images, err := s.catalog.ItemImages(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch images")
		return
	}
	resp := itemResponse{Item: item, Images: images}
	if label, ok, err := s.catalog.GetLabel(r.Context(), itemID); err == nil && ok {
		resp.Label = &label
	}
	writeJSON(w, http.StatusOK, resp)
}

// exportItemsCSV streams the catalog with label grades, pages at a time.
func (s *Server) exportItemsCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="items.csv"`)

	cw := csv.NewWriter(w)
	defer cw.Flush()
	if err := cw.Write([]string{"id", "url", "title", "author", "downloads", "grade", "reason", "updated_at"}); err != nil {
		return
	}

	const pageSize = 200
	for offset := 0; ; offset += pageSize {
		items, err := s.catalog.ListItems(r.Context(), pageSize, offset)
		if err != nil {
			s.logger.Warn("csv export aborted", zap.Error(err))
			return
		}
		if len(items) == 0 {
			return
		}
		for _, item := range items {
			grade, reason := "", ""
			if label, ok, err := s.catalog.GetLabel(r.Context(), item.ID); err == nil && ok {
				grade, reason = string(label.Grade), label.Reason
			}
			row := []string{
				item.ID,
				item.URL,
				item.Title,
				item.Author,
				strconv.Itoa(item.Downloads),
				grade,
				reason,
				item.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			}
			if err := cw.Write(row); err != nil {
				return
			}
		}
	}
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
