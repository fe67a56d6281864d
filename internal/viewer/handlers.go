package viewer

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/jorge-barreto/weave/internal/manifest"
	"github.com/jorge-barreto/weave/internal/transcript"
)

// RunSummary is one entry of GET /api/runs.
type RunSummary struct {
	RunID      string     `json:"runId"`
	Status     string     `json:"status"`
	Task       string     `json:"task,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	ExecCount  int        `json:"execCount"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := manifest.List(s.runsDir, func(dir string, err error) {
		s.log.Warnw("skipping run", "dir", dir, "error", err)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]RunSummary, 0, len(runs))
	for _, m := range runs {
		out = append(out, RunSummary{
			RunID:      m.RunID,
			Status:     m.Status,
			Task:       m.Task,
			StartedAt:  m.StartedAt,
			FinishedAt: m.FinishedAt,
			ExecCount:  len(m.Execs),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// getManifest serves manifest.json as stored, after checking it parses.
func (s *Server) getManifest(w http.ResponseWriter, r *http.Request) {
	runDir, ok := s.runDir(w, r)
	if !ok {
		return
	}
	if _, err := manifest.Load(runDir); err != nil {
		s.writeLoadError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, filepath.Join(runDir, manifest.FileName))
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	runDir, ok := s.runDir(w, r)
	if !ok {
		return
	}
	rel := r.URL.Query().Get("path")
	path, err := manifest.ResolveArtifact(runDir, rel)
	switch {
	case errors.Is(err, manifest.ErrUnsafePath):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "no such file: "+rel)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.serveRegularFile(w, r, path, contentType(path))
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	threadID := mux.Vars(r)["threadId"]
	if !transcript.ValidThreadID(threadID) {
		writeError(w, http.StatusBadRequest, "invalid thread id")
		return
	}
	if s.transcripts == nil {
		writeError(w, http.StatusNotFound, "transcript lookup is disabled")
		return
	}
	path, err := s.transcripts.Find(threadID)
	if errors.Is(err, transcript.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no transcript for thread "+threadID)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.serveRegularFile(w, r, path, "application/x-ndjson")
}

// runDir resolves the {runId} route variable, writing a 400 for ids that
// are not safe directory names.
func (s *Server) runDir(w http.ResponseWriter, r *http.Request) (string, bool) {
	dir, err := manifest.RunDir(s.runsDir, mux.Vars(r)["runId"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return dir, true
}

func (s *Server) writeLoadError(w http.ResponseWriter, err error) {
	var schemaErr *manifest.SchemaError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.As(err, &schemaErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) serveRegularFile(w http.ResponseWriter, r *http.Request, path, ctype string) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.Mode().IsRegular() {
		writeError(w, http.StatusBadRequest, "not a regular file")
		return
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, "", info.ModTime(), f)
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	default:
		return "text/plain; charset=utf-8"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
