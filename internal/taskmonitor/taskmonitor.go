// Copyright 2026 The seccask Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskmonitor implements the pending/active/finished pipeline
// bookkeeping the Coordinator core consumes (spec §6's "Task monitor"
// collaborator interface: add_pending_components and a mutable
// pending_components[id] record with path/command fields).
//
// Grounded on original_source/pysrc/daemon/coordinator.py's
// TaskMonitor and pysrc/pipeline.py's Component/Pipeline, with the
// DAG-parent/child machinery dropped: spec §3's PipelineTask is a flat
// ordered list, so "is_end_of_sequence" reduces to "last component in
// submission order", not graph-child-count.
package taskmonitor

import (
	"fmt"
	"sync"

	"github.com/seccask/seccask/lib/clock"
)

// ComponentRecord is the Coordinator's mutable view of one pending or
// in-flight pipeline step, grounded on pipeline.py's Component
// (path/command/done/start_time/end_time fields; id/name immutable).
type ComponentRecord struct {
	ID   string
	Name string

	// Path and Command are filled in by SetDispatch (spec §4.4.2.a:
	// "fills in path, command") once the driver submits the working
	// directory and argv for this component.
	Path    string
	Command []string

	Done      bool
	StartTime int64 // Unix milliseconds, from the monitor's clock
	EndTime   int64
}

// Pipeline is an ordered, named batch of components submitted as one
// unit, grounded on pipeline.py's Pipeline.
type Pipeline struct {
	Name         string
	Version      string
	ComponentIDs []string
	Done         bool
}

// isDummy reports whether p is the sentinel idle-state pipeline,
// grounded on TaskMonitor.get_dummy_pipeline's "DUMMY"/"DUMMY" pair.
func (p *Pipeline) isDummy() bool {
	return p.Name == "DUMMY" && p.Version == "DUMMY"
}

func dummyPipeline() *Pipeline {
	return &Pipeline{Name: "DUMMY", Version: "DUMMY"}
}

// Monitor tracks the Coordinator's pipeline lifecycle: one active
// pipeline at a time (or the dummy sentinel when idle), a history of
// finished pipelines, and a map of pending component records indexed
// by component id. Monitor is safe for concurrent use, though per
// spec §5 it is in practice only ever touched from the lifecycle
// serializer.
type Monitor struct {
	mu    sync.Mutex
	clock clock.Clock

	active   *Pipeline
	finished []*Pipeline
	pending  map[string]*ComponentRecord
}

// New constructs a Monitor with no active pipeline (the dummy
// sentinel) and an empty pending set.
func New(clk clock.Clock) *Monitor {
	return &Monitor{
		clock:   clk,
		active:  dummyPipeline(),
		pending: make(map[string]*ComponentRecord),
	}
}

// NewPipeline registers a new pipeline's components as pending,
// grounded on Coordinator::OnNewPipeline's per-(name,id) Component
// construction plus TaskMonitor.add_pending_components. names and ids
// must be equal-length and non-empty (spec §4.4.1).
func (m *Monitor) NewPipeline(name, version string, names, ids []string) (*Pipeline, error) {
	if len(names) == 0 || len(ids) == 0 {
		return nil, fmt.Errorf("taskmonitor: pipeline must have at least one component")
	}
	if len(names) != len(ids) {
		return nil, fmt.Errorf("taskmonitor: names and ids must be equal length, got %d and %d", len(names), len(ids))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pipeline := &Pipeline{Name: name, Version: version, ComponentIDs: append([]string(nil), ids...)}
	m.active = pipeline

	for i, id := range ids {
		if _, exists := m.pending[id]; exists {
			return nil, fmt.Errorf("taskmonitor: component id %q already pending", id)
		}
		m.pending[id] = &ComponentRecord{ID: id, Name: names[i]}
	}
	return pipeline, nil
}

// Pending returns the mutable record for a pending or in-flight
// component id.
func (m *Monitor) Pending(id string) (*ComponentRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.pending[id]
	return record, ok
}

// SetDispatch fills in a pending component's working directory and
// command vector, grounded on OnNewComponent's
// "component.path = working_directory; component.command = info".
func (m *Monitor) SetDispatch(id, path string, command []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.pending[id]
	if !ok {
		return fmt.Errorf("taskmonitor: no pending component %q", id)
	}
	record.Path = path
	record.Command = command
	record.StartTime = m.clock.Now().UnixMilli()
	return nil
}

// RecordDone marks a component done and, if it was the last component
// of the active pipeline in submission order, finalizes that pipeline
// and returns pipelineDone = true. Grounded on
// TaskMonitor.record_component_done's done/end_time update and
// is_end_of_sequence check.
func (m *Monitor) RecordDone(id string) (pipelineDone bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.pending[id]
	if !ok {
		return false, fmt.Errorf("taskmonitor: no pending component %q", id)
	}
	record.Done = true
	record.EndTime = m.clock.Now().UnixMilli()

	if !m.isEndOfSequence(id) {
		return false, nil
	}

	m.active.Done = true
	m.finished = append(m.finished, m.active)
	m.active = dummyPipeline()
	return true, nil
}

// isEndOfSequence reports whether id is the last entry of the active
// pipeline's component order.
func (m *Monitor) isEndOfSequence(id string) bool {
	ids := m.active.ComponentIDs
	return len(ids) > 0 && ids[len(ids)-1] == id
}

// ActivePipeline returns the currently active pipeline, or the dummy
// sentinel if the Coordinator is idle.
func (m *Monitor) ActivePipeline() *Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// FinishedPipelines returns all pipelines completed so far, oldest
// first.
func (m *Monitor) FinishedPipelines() []*Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Pipeline(nil), m.finished...)
}
