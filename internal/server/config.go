// Package server implements the KartaDB HTTP surface: a thin, read-only
// API over the serving snapshot, plus the system endpoints that trigger
// rebuilds and report task progress.
//
// This file defines the YAML configuration and the declaration file loader.
// Declaration files are the interface boundary with the authoring front
// end: they carry plain NodeDecl lists, already syntactically validated
// upstream; the builder enforces graph-level invariants.
package server

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/kartadb/pkg/graph"
)

// Config is the top-level server configuration.
type Config struct {
	// ListenAddr is the HTTP listen address (default ":9091").
	ListenAddr string `yaml:"listen_addr"`

	// AuthToken, when set, is required as a Bearer token on every request
	// outside /healthz and /metrics.
	AuthToken string `yaml:"auth_token"`

	// Declarations lists the YAML declaration files the store is built
	// from, in order. Build order is input order, so the file order is
	// part of the store identity.
	Declarations []string `yaml:"declarations"`

	// SnapshotPath, when set, is where the built store is persisted and
	// where it is loaded from at startup if no declarations are given.
	SnapshotPath string `yaml:"snapshot_path"`

	// Partitions switches the server into federated mode: instead of one
	// local store, queries and traversals fan out over the listed
	// partitions. Entries with eager=false load lazily on first crossing.
	Partitions []PartitionConfig `yaml:"partitions"`
}

// PartitionConfig describes one federation partition backed by a snapshot
// file.
type PartitionConfig struct {
	Key      string `yaml:"key"`
	Snapshot string `yaml:"snapshot"`
	Eager    bool   `yaml:"eager"`
}

// LoadConfig reads and parses the YAML configuration from path.
// Strict mode (KnownFields) turns typos into load errors instead of
// silently ignored keys.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9091"
	}
	return &cfg, nil
}

// declFile is the on-disk shape of one declaration file.
type declFile struct {
	Nodes []graph.NodeDecl `yaml:"nodes"`
}

// LoadDeclarations reads node declarations from the given YAML files and
// concatenates them in file order.
func LoadDeclarations(paths []string) ([]graph.NodeDecl, error) {
	var decls []graph.NodeDecl
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening declarations: %w", err)
		}
		var df declFile
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		err = dec.Decode(&df)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing declarations %s: %w", path, err)
		}
		decls = append(decls, df.Nodes...)
	}
	return decls, nil
}
