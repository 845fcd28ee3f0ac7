package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/igolaizola/musigen/pkg/service"
	"github.com/igolaizola/musigen/pkg/storage"
	"github.com/igolaizola/musigen/pkg/task"
	"github.com/igolaizola/musigen/pkg/worker"
	"go.uber.org/zap"
)

const maxMemory = 32 << 20

type handler struct {
	svc *service.Service
	log *zap.Logger
}

type submitResponse struct {
	TaskID string `json:"taskId"`
}

// statusResponse always carries every key, with null for missing values.
type statusResponse struct {
	TaskID   string      `json:"taskId"`
	Status   task.Status `json:"status"`
	AudioURL *string     `json:"audioUrl"`
	Result   *task.Track `json:"result"`
	Error    *string     `json:"error"`
}

type errorResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

type Track struct {
	ID        string   `json:"id"`
	TaskID    string   `json:"taskId"`
	Title     string   `json:"title"`
	Type      string   `json:"type"`
	Prompt    string   `json:"prompt"`
	Genres    []string `json:"genres"`
	Moods     []string `json:"moods"`
	Duration  int      `json:"duration"`
	Measured  float32  `json:"measured"`
	AudioURL  string   `json:"audioUrl"`
	Source    string   `json:"source"`
	CreatedAt string   `json:"createdAt"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, &healthResponse{Status: "OK", Model: h.svc.Model()})
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	job, err := h.parseSubmit(r)
	if err != nil {
		h.log.Warn("couldn't parse submission", zap.Error(err))
		h.json(w, http.StatusBadRequest, &errorResponse{Error: err.Error()})
		return
	}
	id, err := h.svc.Worker.Submit(job)
	if err != nil {
		h.log.Error("couldn't submit task", zap.Error(err))
		h.json(w, http.StatusInternalServerError, &errorResponse{Error: err.Error()})
		return
	}
	h.json(w, http.StatusOK, &submitResponse{TaskID: id})
}

func (h *handler) parseSubmit(r *http.Request) (*worker.Job, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return h.parseMultipart(r)
	}
	// Unreadable JSON bodies are treated as empty submissions.
	fields := map[string]json.RawMessage{}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("web: couldn't read body: %w", err)
	}
	if err := json.Unmarshal(b, &fields); err != nil {
		h.log.Debug("couldn't decode json body, using defaults", zap.Error(err))
	}
	return &worker.Job{
		Description: service.RawString(fields["description"]),
		Genres:      service.RawList(fields["genres"]),
		Moods:       service.RawList(fields["moods"]),
		Duration:    service.RawDuration(fields["duration"]),
	}, nil
}

func (h *handler) parseMultipart(r *http.Request) (*worker.Job, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, fmt.Errorf("web: couldn't parse multipart form: %w", err)
	}
	form := r.MultipartForm
	job := &worker.Job{
		Description: formValue(form, "description"),
		Genres:      formList(form, "genres"),
		Moods:       formList(form, "moods"),
		Duration:    service.ParseDuration(formValue(form, "duration")),
	}
	f, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return job, nil
	}
	if err != nil {
		return nil, fmt.Errorf("web: couldn't read file: %w", err)
	}
	defer f.Close()
	path, err := h.svc.Scratch.Save(header.Filename, f)
	if err != nil {
		return nil, err
	}
	h.log.Debug("reference audio saved", zap.String("path", path), zap.Int64("size", header.Size))
	job.AudioPath = path
	return job, nil
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("task_id")
	if id == "" {
		id = q.Get("taskId")
	}
	t, err := h.svc.Tasks.Get(id)
	if errors.Is(err, task.ErrNotFound) {
		h.json(w, http.StatusNotFound, &errorResponse{Status: string(task.Failed), Error: "Unknown task"})
		return
	}
	if err != nil {
		h.log.Error("couldn't get task", zap.String("task", id), zap.Error(err))
		h.json(w, http.StatusInternalServerError, &errorResponse{Error: err.Error()})
		return
	}
	resp := &statusResponse{
		TaskID: t.ID,
		Status: t.Status,
		Result: t.Result,
	}
	if t.AudioURL != "" {
		resp.AudioURL = &t.AudioURL
	}
	if t.Error != "" {
		resp.Error = &t.Error
	}
	h.json(w, http.StatusOK, resp)
}

func (h *handler) tracks(w http.ResponseWriter, r *http.Request) {
	if h.svc.Storage == nil {
		h.json(w, http.StatusNotFound, &errorResponse{Error: "track archive disabled"})
		return
	}
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil {
		page = 1
	}
	size, err := strconv.Atoi(q.Get("size"))
	if err != nil || size < 1 {
		size = 100
	}
	var filters []storage.Filter
	if v := q.Get("type"); v != "" {
		filters = append(filters, storage.Where("type = ?", v))
	}
	if v := q.Get("genre"); v != "" {
		filters = append(filters, storage.Where("genres LIKE ?", "%"+v+"%"))
	}
	if v := q.Get("mood"); v != "" {
		filters = append(filters, storage.Where("moods LIKE ?", "%"+v+"%"))
	}

	tracks, err := h.svc.Storage.ListTracks(r.Context(), page, size, "created_at desc", filters...)
	if err != nil {
		h.log.Error("couldn't list tracks", zap.Error(err))
		h.json(w, http.StatusInternalServerError, &errorResponse{Error: err.Error()})
		return
	}
	resp := []*Track{}
	for _, t := range tracks {
		resp = append(resp, newTrack(t))
	}
	h.json(w, http.StatusOK, resp)
}

func (h *handler) track(w http.ResponseWriter, r *http.Request) {
	if h.svc.Storage == nil {
		h.json(w, http.StatusNotFound, &errorResponse{Error: "track archive disabled"})
		return
	}
	id := chi.URLParam(r, "id")
	t, err := h.svc.Storage.GetTrack(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.json(w, http.StatusNotFound, &errorResponse{Error: "Unknown track"})
		return
	}
	if err != nil {
		h.log.Error("couldn't get track", zap.String("track", id), zap.Error(err))
		h.json(w, http.StatusInternalServerError, &errorResponse{Error: err.Error()})
		return
	}
	h.json(w, http.StatusOK, newTrack(t))
}

// deleteTrack removes a track from the archive. Mirrored files are kept.
func (h *handler) deleteTrack(w http.ResponseWriter, r *http.Request) {
	if h.svc.Storage == nil {
		h.json(w, http.StatusNotFound, &errorResponse{Error: "track archive disabled"})
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.svc.Storage.GetTrack(r.Context(), id); errors.Is(err, storage.ErrNotFound) {
		h.json(w, http.StatusNotFound, &errorResponse{Error: "Unknown track"})
		return
	}
	if err := h.svc.Storage.DeleteTrack(r.Context(), id); err != nil {
		h.log.Error("couldn't delete track", zap.String("track", id), zap.Error(err))
		h.json(w, http.StatusInternalServerError, &errorResponse{Error: err.Error()})
		return
	}
	h.log.Info("track deleted", zap.String("track", id))
	w.WriteHeader(http.StatusNoContent)
}

func newTrack(t *storage.Track) *Track {
	return &Track{
		ID:        t.ID,
		TaskID:    t.TaskID,
		Title:     t.Title,
		Type:      t.Type,
		Prompt:    t.Prompt,
		Genres:    storage.SplitTags(t.Genres),
		Moods:     storage.SplitTags(t.Moods),
		Duration:  t.Duration,
		Measured:  t.Measured,
		AudioURL:  t.Audio,
		Source:    t.Source,
		CreatedAt: t.CreatedAt.UTC().Format(task.TimeLayout),
	}
}

func (h *handler) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Warn("couldn't encode response", zap.Error(err))
	}
}

func formValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// formList accepts repeated fields as a list, otherwise the single value is
// parsed with service.ParseList.
func formList(form *multipart.Form, key string) []string {
	vs := form.Value[key]
	switch len(vs) {
	case 0:
		return []string{}
	case 1:
		return service.ParseList(vs[0])
	default:
		return vs
	}
}
