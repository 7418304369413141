package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"

	"github.com/sanonone/kartadb/pkg/graph"
	"github.com/sanonone/kartadb/pkg/metrics"
	"github.com/sanonone/kartadb/pkg/query"
	"github.com/sanonone/kartadb/pkg/traverse"
)

// registerHandlers sets up the REST API routes.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /graph/query", s.handleQuery)
	mux.HandleFunc("POST /graph/traverse", s.handleTraverse)
	mux.HandleFunc("GET /graph/nodes/{id}", s.handleGetNode)
	mux.HandleFunc("GET /graph/stats", s.handleStats)

	mux.HandleFunc("POST /system/reload", s.handleReload)
	mux.HandleFunc("GET /system/tasks/{id}", s.handleTaskStatus)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, map[string]string{"status": "OK"})
}

// handleQuery runs one query request against the serving snapshot, or
// across all partitions in federated mode.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if s.fed != nil {
		results, err := s.fed.Query(r.Context(), req)
		if err != nil {
			metrics.QueriesTotal.WithLabelValues("http", "error").Inc()
			s.writeHTTPError(w, statusForError(err), err.Error())
			return
		}
		metrics.QueriesTotal.WithLabelValues("http", "ok").Inc()
		s.writeHTTPResponse(w, http.StatusOK, map[string]any{"results": results})
		return
	}

	nodes, err := query.Run(r.Context(), s.store(), req)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("http", "error").Inc()
		s.writeHTTPError(w, statusForError(err), err.Error())
		return
	}
	metrics.QueriesTotal.WithLabelValues("http", "ok").Inc()
	s.writeHTTPResponse(w, http.StatusOK, map[string]any{"results": nodes})
}

// handleTraverse runs one breadth-first walk from a start node.
func (s *Server) handleTraverse(w http.ResponseWriter, r *http.Request) {
	var req traverse.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if s.fed != nil {
		visits, err := s.fed.Traverse(r.Context(), req)
		if err != nil {
			metrics.TraversalsTotal.WithLabelValues("http", "error").Inc()
			s.writeHTTPError(w, statusForError(err), err.Error())
			return
		}
		metrics.TraversalsTotal.WithLabelValues("http", "ok").Inc()
		s.writeHTTPResponse(w, http.StatusOK, map[string]any{"visits": visits})
		return
	}

	visits, err := traverse.Run(r.Context(), s.store(), req)
	if err != nil {
		metrics.TraversalsTotal.WithLabelValues("http", "error").Inc()
		s.writeHTTPError(w, statusForError(err), err.Error())
		return
	}
	metrics.TraversalsTotal.WithLabelValues("http", "ok").Inc()
	s.writeHTTPResponse(w, http.StatusOK, map[string]any{"visits": visits})
}

// handleGetNode returns the full projection of one node by id.
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		s.writeHTTPError(w, http.StatusBadRequest, "node id cannot be empty")
		return
	}

	lookup := query.Request{
		Where: &query.Predicate{Op: "equals", Field: "id", Value: id},
		Limit: 1,
	}

	if s.fed != nil {
		results, err := s.fed.Query(r.Context(), lookup)
		if err != nil {
			s.writeHTTPError(w, statusForError(err), err.Error())
			return
		}
		if len(results) == 0 {
			s.writeHTTPError(w, http.StatusNotFound, fmt.Sprintf("node %q not found", id))
			return
		}
		s.writeHTTPResponse(w, http.StatusOK, results[0])
		return
	}

	nodes, err := query.Run(r.Context(), s.store(), lookup)
	if err != nil {
		s.writeHTTPError(w, statusForError(err), err.Error())
		return
	}
	if len(nodes) == 0 {
		s.writeHTTPError(w, http.StatusNotFound, fmt.Sprintf("node %q not found", id))
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, nodes[0])
}

// handleStats reports snapshot sizes, per partition in federated mode.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.fed != nil {
		type partStats struct {
			Key   string `json:"key"`
			Nodes int    `json:"nodes"`
			Edges int    `json:"edges"`
		}
		var parts []partStats
		for _, key := range s.fed.Keys() {
			st, ok := s.fed.Partition(key)
			if !ok {
				continue
			}
			parts = append(parts, partStats{Key: key, Nodes: st.NodeCount(), Edges: st.EdgeCount()})
		}
		s.writeHTTPResponse(w, http.StatusOK, map[string]any{"partitions": parts})
		return
	}

	st := s.store()
	s.writeHTTPResponse(w, http.StatusOK, map[string]any{
		"nodes": st.NodeCount(),
		"edges": st.EdgeCount(),
	})
}

// handleReload rebuilds the store from the configured declaration files in
// the background and swaps it in atomically on success. The response is a
// task id to poll on /system/tasks/{id}.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.fed != nil {
		s.writeHTTPError(w, http.StatusConflict, "reload is not available in federated mode")
		return
	}
	if len(s.cfg.Declarations) == 0 {
		s.writeHTTPError(w, http.StatusConflict, "no declaration files configured")
		return
	}

	task := s.taskManager.NewTask()

	go func() {
		task.SetStatus(TaskStatusRunning)
		task.SetProgress("rebuilding store from declarations")

		st, err := s.buildOrLoad()
		if err != nil {
			slog.Error("Store rebuild failed", "task_id", task.ID, "error", err)
			metrics.RebuildsTotal.WithLabelValues("error").Inc()
			task.SetError(err)
			return
		}

		s.install(st)
		metrics.RebuildsTotal.WithLabelValues("ok").Inc()
		slog.Info("Store rebuilt and swapped in",
			"task_id", task.ID,
			"nodes", st.NodeCount(),
			"edges", st.EdgeCount(),
		)
		task.SetProgress("")
		task.SetStatus(TaskStatusCompleted)
	}()

	s.writeHTTPResponse(w, http.StatusAccepted, map[string]string{"task_id": task.ID})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	task, found := s.taskManager.GetTask(r.PathValue("id"))
	if !found {
		s.writeHTTPError(w, http.StatusNotFound, "task not found")
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, task.Snapshot())
}

// statusForError maps engine errors to HTTP statuses: request shape
// problems are the client's fault, a missing start node is a 404, and
// anything else is a 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, graph.ErrUnknownStartNode):
		return http.StatusNotFound
	case errors.Is(err, query.ErrUnknownField),
		errors.Is(err, query.ErrTypeMismatch),
		errors.Is(err, query.ErrInvalidRelationTypeLiteral),
		errors.Is(err, query.ErrUnknownSourceClass),
		errors.Is(err, query.ErrBadPredicate),
		errors.Is(err, graph.ErrUnknownRelationType),
		errors.Is(err, traverse.ErrBadDirection):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// --- HTTP response helpers ---

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}
