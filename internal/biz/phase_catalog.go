package biz

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed phases.yaml
var defaultPhases []byte

// ErrInvalidCatalog is returned when a phase catalog fails to load.
var ErrInvalidCatalog = errors.New("invalid phase catalog")

type catalogFile struct {
	Version int                `yaml:"version"`
	Phases  []*PhaseDefinition `yaml:"phases"`
}

// PhaseCatalog is the read-only, ordered table of phase definitions.
type PhaseCatalog struct {
	version int
	phases  []*PhaseDefinition
}

// NewPhaseCatalog loads the embedded catalog.
func NewPhaseCatalog() (*PhaseCatalog, error) {
	return LoadPhaseCatalog(defaultPhases)
}

// LoadPhaseCatalog decodes and validates a YAML catalog. Unknown keys are rejected.
func LoadPhaseCatalog(data []byte) (*PhaseCatalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", ErrInvalidCatalog)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidCatalog, err)
	}
	if file.Version != 1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidCatalog, file.Version)
	}
	if len(file.Phases) != MaxPhase {
		return nil, fmt.Errorf("%w: expected %d phases, got %d", ErrInvalidCatalog, MaxPhase, len(file.Phases))
	}
	for i, p := range file.Phases {
		if p == nil {
			return nil, fmt.Errorf("%w: phase at position %d is empty", ErrInvalidCatalog, i+1)
		}
		if err := p.validate(i + 1); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
	}

	return &PhaseCatalog{version: file.Version, phases: file.Phases}, nil
}

// Phase returns phase n, or ErrPhaseNotFound outside 1..MaxPhase.
func (c *PhaseCatalog) Phase(n int) (*PhaseDefinition, error) {
	if n < 1 || n > len(c.phases) {
		return nil, fmt.Errorf("%w: %d", ErrPhaseNotFound, n)
	}
	return c.phases[n-1], nil
}

// Phases returns every phase in order.
func (c *PhaseCatalog) Phases() []*PhaseDefinition {
	return append([]*PhaseDefinition(nil), c.phases...)
}

// Len returns the number of phases.
func (c *PhaseCatalog) Len() int { return len(c.phases) }

// Version returns the catalog schema version.
func (c *PhaseCatalog) Version() int { return c.version }
