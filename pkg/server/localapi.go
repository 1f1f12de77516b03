package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/raterudder/fleetproxy/pkg/localapi"
	"github.com/raterudder/fleetproxy/pkg/log"
)

// queryBool reads a boolean query flag, absent or unparseable is false.
func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

// handlePoll answers GET /api/... and /vitals. Unknown paths and missing
// upstream data are still 200 responses, with the ERROR document and null
// respectively.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	doc, err := s.gateway.Poll(ctx, r.URL.Path, localapi.PollOptions{
		Force:     queryBool(r, "force"),
		Recursive: queryBool(r, "recursive"),
		Raw:       queryBool(r, "raw"),
	})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to poll", slog.Any("error", err))
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, doc)
}

// handlePost answers POST /api/... with a JSON object body. The device id
// comes from the din query parameter or the din field of the body.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to read request body", slog.Any("error", err))
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if len(bytes.TrimSpace(body)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to decode request body", slog.Any("error", err))
			writeJSONError(w, "invalid json body", http.StatusBadRequest)
			return
		}
	}

	din := r.URL.Query().Get("din")
	if v, ok := payload["din"].(string); ok {
		if din == "" {
			din = v
		}
		delete(payload, "din")
	}

	doc, err := s.gateway.Post(ctx, r.URL.Path, payload, din)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to post", slog.Any("error", err))
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, doc)
}
