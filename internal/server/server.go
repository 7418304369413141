package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanonone/kartadb/pkg/federation"
	"github.com/sanonone/kartadb/pkg/graph"
	"github.com/sanonone/kartadb/pkg/metrics"
	"github.com/sanonone/kartadb/pkg/storage/mmap"
)

// Server holds the HTTP interface over the serving snapshot.
//
// The snapshot itself is an atomic pointer: readers load it once per
// request and keep working against that store even if a reload swaps in a
// new one mid-flight. In federated mode the federation client replaces the
// local snapshot as the query/traversal surface.
type Server struct {
	cfg  *Config
	snap atomic.Pointer[graph.Store]
	fed  *federation.Client

	taskManager *TaskManager
	httpServer  *http.Server
}

// NewServer builds (or loads) the initial store per the configuration and
// prepares the HTTP stack. It does not start listening; call Run.
func NewServer(cfg *Config) (*Server, error) {
	s := &Server{
		cfg:         cfg,
		taskManager: NewTaskManager(),
	}

	if len(cfg.Partitions) > 0 {
		if err := s.initFederation(); err != nil {
			return nil, err
		}
	} else {
		st, err := s.buildOrLoad()
		if err != nil {
			return nil, err
		}
		s.install(st)
	}

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	// Middleware chain: Recovery -> Logging -> Auth -> mux. Recovery sits
	// outermost so it catches everything below it.
	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", s.handleHealthz)
	rootMux.Handle("GET /metrics", promhttp.Handler())
	rootMux.Handle("/", handler)

	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: rootMux,
	}
	return s, nil
}

// buildOrLoad builds the store from declarations when configured, falling
// back to loading the snapshot file.
func (s *Server) buildOrLoad() (*graph.Store, error) {
	if len(s.cfg.Declarations) > 0 {
		decls, err := LoadDeclarations(s.cfg.Declarations)
		if err != nil {
			return nil, err
		}
		st, err := graph.Build(decls)
		if err != nil {
			return nil, fmt.Errorf("building store: %w", err)
		}
		if s.cfg.SnapshotPath != "" {
			if err := writeSnapshotFile(st, s.cfg.SnapshotPath); err != nil {
				return nil, err
			}
		}
		return st, nil
	}
	if s.cfg.SnapshotPath != "" {
		return readSnapshotFile(s.cfg.SnapshotPath)
	}
	return nil, errors.New("config needs declarations, snapshot_path or partitions")
}

// install atomically swaps the serving snapshot. Old readers finish
// against the old store; new requests see the new one.
func (s *Server) install(st *graph.Store) {
	s.snap.Store(st)
	metrics.NodesServing.Set(float64(st.NodeCount()))
	metrics.EdgesServing.Set(float64(st.EdgeCount()))
}

func (s *Server) initFederation() error {
	byKey := make(map[string]PartitionConfig, len(s.cfg.Partitions))
	for _, p := range s.cfg.Partitions {
		byKey[p.Key] = p
	}

	// The router cannot know ownership without opening a partition, so the
	// static config maps unknown ids to the partitions not yet loaded, in
	// config order. A loaded partition that still does not own the id ends
	// the search via the federation client's own directory.
	loader := func(ctx context.Context, key string) (*graph.Store, error) {
		p, ok := byKey[key]
		if !ok {
			return nil, fmt.Errorf("no such partition: %q", key)
		}
		return readSnapshotFile(p.Snapshot)
	}

	fed := federation.New(s.routeID, loader)
	s.fed = fed

	for _, p := range s.cfg.Partitions {
		if !p.Eager {
			continue
		}
		st, err := readSnapshotFile(p.Snapshot)
		if err != nil {
			return err
		}
		if err := fed.Register(p.Key, st); err != nil {
			return err
		}
	}
	return nil
}

// routeID is the static partition router: with file-backed partitions the
// owner is unknown until loaded, so it proposes the first configured
// partition the client has not loaded yet. The client's single-flight load
// keeps this cheap even under concurrent misses.
func (s *Server) routeID(id string) (string, bool) {
	for _, p := range s.cfg.Partitions {
		if !s.fed.Loaded(p.Key) {
			return p.Key, true
		}
	}
	return "", false
}

// Run starts the HTTP listener and blocks until the server is shut down.
func (s *Server) Run() error {
	slog.Info("KartaDB HTTP server listening", "addr", s.cfg.ListenAddr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown() error {
	slog.Info("Shutting down KartaDB server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// store returns the current serving snapshot (single-store mode).
func (s *Server) store() *graph.Store {
	return s.snap.Load()
}

// Snapshot exposes the serving snapshot to sibling surfaces (the MCP
// server). Nil in federated mode.
func (s *Server) Snapshot() *graph.Store {
	return s.snap.Load()
}

// Federated reports whether the server runs over partitions instead of one
// local snapshot.
func (s *Server) Federated() bool {
	return s.fed != nil
}

func writeSnapshotFile(st *graph.Store, path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := st.EncodeSnapshot(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing snapshot: %w", err)
	}
	// Rename-into-place keeps a crash from ever leaving a half-written
	// snapshot at the serving path.
	return os.Rename(tmp, path)
}

// readSnapshotFile maps the snapshot read-only and decodes it. The mapping
// is released right after the decode; the decoded store owns its memory.
func readSnapshotFile(path string) (*graph.Store, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer m.Close()
	st, err := graph.DecodeSnapshot(bytes.NewReader(m.Data))
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", path, err)
	}
	return st, nil
}
