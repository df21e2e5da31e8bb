package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-intercom/internal/audit"
	"github.com/nerrad567/gray-logic-intercom/internal/dtmf"
	"github.com/nerrad567/gray-logic-intercom/internal/sip/digest"
)

// configResponse is GET /config.
type configResponse struct {
	Station     string         `json:"station"`
	Username    string         `json:"username"`
	Domain      string         `json:"domain"`
	DTMFEnabled bool           `json:"dtmf_enabled"`
	Mappings    []dtmf.Mapping `json:"mappings"`
}

// configRequest is PUT /config. A missing mappings field keeps the table.
type configRequest struct {
	Username string         `json:"username"`
	Domain   string         `json:"domain"`
	Password string         `json:"password"`
	Mappings []dtmf.Mapping `json:"mappings"`
}

type executeRequest struct {
	Command string `json:"command"`
	Param   uint32 `json:"param"`
}

type callRequest struct {
	Target string `json:"target"`
}

type dtmfRequest struct {
	Enabled *bool `json:"enabled"`
}

var okResponse = map[string]string{"status": "ok"}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.ctl.Snapshot(r.Context())
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRelays(w http.ResponseWriter, r *http.Request) {
	state, err := s.ctl.Snapshot(r.Context())
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state.Relays)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	state, err := s.ctl.Snapshot(r.Context())
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configResponse{
		Station:     state.Station,
		Username:    state.Username,
		Domain:      state.Domain,
		DTMFEnabled: state.DTMFEnabled,
		Mappings:    state.Mappings,
	})
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !decodeBody(w, r, &req) {
		return
	}

	creds := digest.Credentials{Username: req.Username, Domain: req.Domain, Password: req.Password}
	if err := s.ctl.Reconfigure(r.Context(), creds, req.Mappings); err != nil {
		writeControlError(w, err)
		return
	}
	s.logger.Info("configuration updated via API", "subject", subjectFrom(r.Context()))
	s.handleGetConfig(w, r)
}

func (s *Server) handleDoorbell(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.ctl.Ring(r.Context()))
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.ctl.HandleExternalTrigger(r.Context()))
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cmd, err := dtmf.ParseCommand(req.Command)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	s.respond(w, s.ctl.Execute(r.Context(), cmd, req.Param))
}

func (s *Server) handleInitiateCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	s.respond(w, s.ctl.InitiateCall(r.Context(), req.Target))
}

func (s *Server) handleTerminateCall(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.ctl.TerminateCall(r.Context()))
}

func (s *Server) handleSetDTMF(w http.ResponseWriter, r *http.Request) {
	var req dtmfRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeBadRequest(w, "enabled is required")
		return
	}
	s.respond(w, s.ctl.SetDTMFEnabled(r.Context(), *req.Enabled))
}

func (s *Server) handleResetStats(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.ctl.ResetStatistics(r.Context()))
}

func (s *Server) handleResetErrors(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.ctl.ResetErrorCount(r.Context()))
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "not_found", "event log is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Type: q.Get("type")}
	var err error
	if filter.Limit, filter.Offset, err = pageParams(r); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if since := q.Get("since"); since != "" {
		if filter.Since, err = time.Parse(time.RFC3339, since); err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing event log", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "not_found", "call log is not enabled")
		return
	}
	limit, offset, err := pageParams(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	calls, err := s.history.ListCalls(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("listing call log", "error", err)
		writeInternalError(w, "failed to list calls")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

// respond writes 200 {"status":"ok"} or the mapped error.
func (s *Server) respond(w http.ResponseWriter, err error) {
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

// decodeBody decodes a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return 0, 0, errors.New("limit must be an integer")
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil {
			return 0, 0, errors.New("offset must be an integer")
		}
	}
	return limit, offset, nil
}
