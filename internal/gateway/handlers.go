package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/nextlevelbuilder/hivemind/internal/artifacts"
	"github.com/nextlevelbuilder/hivemind/internal/bus"
	"github.com/nextlevelbuilder/hivemind/internal/fault"
	"github.com/nextlevelbuilder/hivemind/internal/org"
)

// sendMessageRequest is the user-facing message submission body. An
// empty "to" targets the root agent.
type sendMessageRequest struct {
	To          string             `json:"to,omitempty"`
	Text        string             `json:"text"`
	Attachments []uploadAttachment `json:"attachments,omitempty"`
}

type uploadAttachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data"` // base64
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fault.MissingParameter, "invalid JSON body")
		return
	}
	if req.Text == "" && len(req.Attachments) == 0 {
		writeError(w, http.StatusBadRequest, fault.MissingParameter, "text or attachments required")
		return
	}
	to := req.To
	if to == "" {
		to = bus.RootID
	}

	atts := make([]bus.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			writeError(w, http.StatusBadRequest, fault.MissingParameter, "attachment %q: invalid base64", a.Filename)
			return
		}
		uploaded, err := s.arts.SaveUploadedFile(data, "file", a.Filename, a.MimeType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fault.ProcessingFailed, "store attachment: %v", err)
			return
		}
		atts = append(atts, bus.Attachment{
			Type:        "file",
			ArtifactRef: uploaded.Ref,
			Filename:    a.Filename,
		})
	}

	id, err := s.bus.Send(bus.SendRequest{
		From: bus.UserID,
		To:   to,
		Payload: bus.Payload{
			Text:        req.Text,
			Attachments: atts,
		},
	})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"messageId": id, "to": to})
}

// agentView joins persisted agent state with the live compute status.
type agentView struct {
	*org.Agent
	ComputeStatus string `json:"computeStatus"`
	QueueDepth    int    `json:"queueDepth"`
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	agents := s.org.ListAgents()
	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, agentView{
			Agent:         a,
			ComputeStatus: s.mgr.Status(a.ID),
			QueueDepth:    s.bus.PeekQueueDepth(a.ID),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleListRoles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.org.ListRoles())
}

func (s *Server) handleOrgTree(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.org.GetOrgTree())
}

func (s *Server) handleAgentMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.org.GetAgent(id) == nil {
		writeError(w, http.StatusNotFound, fault.UnknownRecipient, "no agent %q", id)
		return
	}
	if s.archive == nil {
		writeError(w, http.StatusNotFound, fault.ProcessingFailed, "message archive disabled")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fault.MissingParameter, "limit must be a positive integer")
			return
		}
		limit = n
	}
	msgs, err := s.archive.ListByAgent(id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fault.ProcessingFailed, "read archive: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.org.GetAgent(id) == nil {
		writeError(w, http.StatusNotFound, fault.UnknownRecipient, "no agent %q", id)
		return
	}
	cascade := r.URL.Query().Get("cascade") == "true"
	if err := s.mgr.AbortLlmCall(id, cascade); err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"aborted": id, "cascade": cascade})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	ref := artifacts.MakeRef(r.PathValue("id"))
	a, err := s.arts.Get(ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fault.ProcessingFailed, "read artifact: %v", err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, fault.ArtifactNotFound, "no artifact %q", r.PathValue("id"))
		return
	}
	if a.IsBinary {
		mime := a.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		w.Header().Set("Content-Type", mime)
		if name, ok := a.Meta["filename"].(string); ok && name != "" {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		}
		w.WriteHeader(http.StatusOK)
		w.Write(a.Raw)
		return
	}
	if text, ok := a.Content.(string); ok {
		mime := a.MimeType
		if mime == "" {
			mime = "text/plain; charset=utf-8"
		}
		w.Header().Set("Content-Type", mime)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(text))
		return
	}
	writeJSON(w, http.StatusOK, a.Content)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, format string, args ...any) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": fmt.Sprintf(format, args...),
	})
}

// writeFault maps a runtime fault code to an HTTP status.
func writeFault(w http.ResponseWriter, err error) {
	code := fault.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case fault.UnknownRecipient, fault.ArtifactNotFound, fault.FileNotFound:
		status = http.StatusNotFound
	case fault.InvalidRoute, fault.MissingParameter, fault.QuickRepliesTooMany,
		fault.QuickRepliesInvalid, fault.QuickRepliesEmpty, fault.InvalidPath:
		status = http.StatusBadRequest
	case fault.NotChildAgent, fault.AccessDenied, fault.PathTraversalBlocked:
		status = http.StatusForbidden
	case fault.AlreadyStopped:
		status = http.StatusConflict
	}
	if code == "" {
		code = fault.ProcessingFailed
	}
	writeError(w, status, code, "%s", err.Error())
}
