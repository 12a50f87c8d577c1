package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/boothsurvey/internal/archive"
	"github.com/dukerupert/boothsurvey/internal/export"
	"github.com/dukerupert/boothsurvey/internal/model"
	"github.com/dukerupert/boothsurvey/internal/store"
)

const (
	exportBasename    = "household_data_admin"
	archiveRunTimeout = 10 * time.Minute
)

type AdminHandler struct {
	recordStore  *store.RecordStore
	archiveStore *store.ArchiveStore
	archives     *archive.Manager
	formatter    *export.Formatter
	logger       *slog.Logger
}

func NewAdminHandler(rs *store.RecordStore, as *store.ArchiveStore, am *archive.Manager, f *export.Formatter, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		recordStore:  rs,
		archiveStore: as,
		archives:     am,
		formatter:    f,
		logger:       logger.With("component", "admin"),
	}
}

// filterFromQuery reads the dashboard dropdowns. "all" and "" mean no filter.
func filterFromQuery(r *http.Request) store.RecordFilter {
	value := func(key string) string {
		v := strings.TrimSpace(r.URL.Query().Get(key))
		if strings.EqualFold(v, "all") {
			return ""
		}
		return v
	}
	return store.RecordFilter{
		BoothNumber:    value("booth"),
		HouseholdBooth: value("household_booth"),
	}
}

func (h *AdminHandler) list(w http.ResponseWriter, r *http.Request) ([]model.HouseholdRecord, bool) {
	records, err := h.recordStore.List(filterFromQuery(r))
	if err != nil {
		h.logger.Error("list records", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	if records == nil {
		records = []model.HouseholdRecord{}
	}
	return records, true
}

type recordsResponse struct {
	Records         []model.HouseholdRecord `json:"records"`
	Total           int                     `json:"total"`
	Booths          []string                `json:"booths"`
	HouseholdBooths []string                `json:"household_booths"`
}

func (h *AdminHandler) Records(w http.ResponseWriter, r *http.Request) {
	records, ok := h.list(w, r)
	if !ok {
		return
	}
	agent, household, err := h.recordStore.DistinctBooths()
	if err != nil {
		h.logger.Error("distinct booths", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, recordsResponse{
		Records:         records,
		Total:           len(records),
		Booths:          nonNil(agent),
		HouseholdBooths: nonNil(household),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (h *AdminHandler) Summary(w http.ResponseWriter, r *http.Request) {
	records, ok := h.list(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.formatter.Summarize(records))
}

// Export downloads the filtered records as csv (default), json or xlsx.
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "json" && format != "xlsx" {
		writeError(w, http.StatusBadRequest, "format must be csv, json, or xlsx")
		return
	}

	records, ok := h.list(w, r)
	if !ok {
		return
	}

	switch format {
	case "csv":
		if len(records) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		export.Write(w, []byte(h.formatter.CSV(records)), exportBasename+".csv", export.ContentTypeCSV)
	case "json":
		body, err := export.FormatJSON(records)
		if err != nil {
			h.logger.Error("format json", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		export.Write(w, body, exportBasename+".json", export.ContentTypeJSON)
	case "xlsx":
		err := export.Stream(w, exportBasename+".xlsx", export.ContentTypeXLSX, func(out io.Writer) error {
			return h.formatter.XLSX(out, records)
		})
		if err != nil {
			h.logger.Error("write xlsx", "error", err)
		}
	}
}

type importError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type importResponse struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []importError `json:"errors"`
}

// Import loads legacy documents. Rows that fail to decode are reported by
// index and the rest are inserted together.
func (h *AdminHandler) Import(w http.ResponseWriter, r *http.Request) {
	var docs []map[string]any
	if err := decodeJSON(w, r, &docs); err != nil {
		writeError(w, http.StatusBadRequest, "expected a JSON array of records")
		return
	}

	resp := importResponse{Errors: []importError{}}
	valid := make([]model.HouseholdRecord, 0, len(docs))
	for i, doc := range docs {
		rec, err := model.DecodeHouseholdDocument(doc)
		if err != nil {
			resp.Errors = append(resp.Errors, importError{Index: i, Error: err.Error()})
			continue
		}
		valid = append(valid, rec)
	}

	n, err := h.recordStore.Import(valid)
	if err != nil {
		h.logger.Error("import records", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	resp.Imported = n
	resp.Skipped = len(valid) - n

	h.logger.Info("imported records", "imported", n, "skipped", resp.Skipped, "invalid", len(resp.Errors))
	writeJSON(w, http.StatusOK, resp)
}

type archivesResponse struct {
	Archives []model.Archive `json:"archives"`
	Status   archive.Status  `json:"status"`
}

func (h *AdminHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	list, err := h.archiveStore.List(50)
	if err != nil {
		h.logger.Error("list archives", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if list == nil {
		list = []model.Archive{}
	}
	writeJSON(w, http.StatusOK, archivesResponse{Archives: list, Status: h.archives.Status()})
}

// CreateArchive runs an archive immediately.
func (h *AdminHandler) CreateArchive(w http.ResponseWriter, r *http.Request) {
	// The upload outlives the request so a closed tab does not cut it short.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), archiveRunTimeout)
	defer cancel()
	id, err := h.archives.RunNow(ctx)
	switch {
	case errors.Is(err, archive.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, "archives are not configured")
		return
	case errors.Is(err, archive.ErrRunning):
		writeError(w, http.StatusConflict, "an archive is already running")
		return
	case err != nil:
		h.logger.Error("run archive", "id", id, "error", err)
		writeError(w, http.StatusBadGateway, "archive failed")
		return
	}

	rec, err := h.archiveStore.GetByID(id)
	if err != nil || rec == nil {
		h.logger.Error("get archive", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// DownloadArchive streams the encrypted object for a completed archive.
func (h *AdminHandler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	body, rec, err := h.archives.Download(r.Context(), id)
	switch {
	case errors.Is(err, archive.ErrDisabled):
		writeError(w, http.StatusServiceUnavailable, "archives are not configured")
		return
	case errors.Is(err, archive.ErrNotFound):
		writeError(w, http.StatusNotFound, "archive not found")
		return
	case err != nil:
		h.logger.Error("download archive", "id", id, "error", err)
		writeError(w, http.StatusBadGateway, "download failed")
		return
	}
	defer body.Close()

	err = export.Stream(w, rec.Filename, "application/octet-stream", func(out io.Writer) error {
		_, err := io.Copy(out, body)
		return err
	})
	if err != nil {
		h.logger.Warn("stream archive", "id", id, "error", err)
	}
}
