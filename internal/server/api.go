package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/MrWong99/copyedit/internal/observe"
	"github.com/MrWong99/copyedit/internal/pipeline"
	"github.com/MrWong99/copyedit/internal/service"
	"github.com/MrWong99/copyedit/pkg/types"
)

type copyeditRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode"`
}

type copyeditResponse struct {
	RevisedText string         `json:"revised_text"`
	Changes     []types.Change `json:"changes"`
	Cached      bool           `json:"cached"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleCopyedit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var req copyeditRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large", Code: "invalid_input"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed JSON body", Code: "invalid_input"})
		return
	}

	mode, err := pipeline.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.svc.Copyedit(ctx, service.Request{
		Text:   req.Text,
		Mode:   mode,
		Client: s.clientKey(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	changes := resp.Changes
	if changes == nil {
		changes = []types.Change{}
	}
	if r.URL.Query().Get("units") == "utf16" {
		changes = toUTF16(resp.RevisedText, changes)
	}

	log.Debug("copyedit served", "mode", mode, "changes", len(changes), "cached", resp.Cached, "shared", resp.Shared)
	writeJSON(w, http.StatusOK, copyeditResponse{
		RevisedText: resp.RevisedText,
		Changes:     changes,
		Cached:      resp.Cached,
	})
}

// writeError maps an error kind onto a status code and a message safe to
// show to the caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := types.ErrorKind(err)
	status, msg := http.StatusInternalServerError, "internal error"
	switch kind {
	case "invalid_input":
		status, msg = http.StatusBadRequest, err.Error()
	case "rate_limited":
		status, msg = http.StatusTooManyRequests, "too many requests, slow down"
	case "configuration_error":
		status, msg = http.StatusInternalServerError, "service is not configured for this request"
	case "upstream_error":
		status, msg = http.StatusBadGateway, "language model request failed"
	case "parse_error":
		status, msg = http.StatusBadGateway, "language model returned an unusable response"
	case "timeout":
		status, msg = http.StatusGatewayTimeout, "copyedit timed out"
	}

	log := observe.Logger(r.Context()).With("code", kind, "err", err)
	if status >= http.StatusInternalServerError {
		log.Error("copyedit failed")
	} else {
		log.Info("copyedit rejected")
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	writeJSON(w, status, errorBody{Error: msg, Code: kind})
}

// toUTF16 returns copies of changes whose spans count UTF-16 code units of
// text instead of bytes.
func toUTF16(text string, changes []types.Change) []types.Change {
	// units[i] is the UTF-16 offset of byte offset i for every rune boundary.
	units := make([]int, len(text)+1)
	n := 0
	for i, r := range text {
		units[i] = n
		n += utf16.RuneLen(r)
	}
	units[len(text)] = n

	out := types.CloneChanges(changes)
	for i := range out {
		loc := out[i].Loc
		if loc == nil || !loc.Valid(len(text)) || !runeBoundary(text, loc.Start) || !runeBoundary(text, loc.End) {
			continue
		}
		loc.Start, loc.End = units[loc.Start], units[loc.End]
	}
	return out
}

func runeBoundary(text string, i int) bool {
	return i == len(text) || utf8.RuneStart(text[i])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal error","code":"internal"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
