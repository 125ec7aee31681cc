// Package cluster orchestrates incremental person clustering: one task at a
// time mutates the embedding-to-cluster assignment table, while reads stay
// concurrent. Manual corrections (merge, split) and snapshot export/import
// round out the lifecycle.
package cluster

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/photodex/codec"
)

const (
	// Noise marks embeddings that belong to no person cluster.
	Noise uint32 = 0

	// DefaultHistoryLimit bounds the retained finished tasks.
	DefaultHistoryLimit = 32
)

var (
	// ErrTaskInProgress is returned when a task is already pending or running.
	ErrTaskInProgress = errors.New("cluster: task in progress")

	// ErrNoActiveTask is returned for progress or cancel calls without a task.
	ErrNoActiveTask = errors.New("cluster: no active task")

	// ErrNoBaseline is returned when an incremental task is submitted before
	// any full scan completed.
	ErrNoBaseline = errors.New("cluster: no completed full scan to build on")

	// ErrNotFound is returned for unknown cluster or photo ids.
	ErrNotFound = errors.New("cluster: not found")

	// ErrInvalidParameter is returned for invalid arguments.
	ErrInvalidParameter = errors.New("cluster: invalid parameter")

	// ErrInvalidSnapshot is returned when imported data fails validation.
	ErrInvalidSnapshot = errors.New("cluster: invalid snapshot")
)

// ErrIndexOutOfRange indicates a split position beyond the member list.
type ErrIndexOutOfRange struct {
	Index int // Index that was requested
	Size  int // Size of the member list
}

// Error returns the error message for the out-of-range index.
func (e *ErrIndexOutOfRange) Error() string {
	return fmt.Sprintf("cluster: index %d out of range for %d members", e.Index, e.Size)
}

// Stats summarizes the assignment table and task history.
type Stats struct {
	ClusterCount   int
	TotalVectors   int
	TaskCount      int
	AvgClusterSize float64
}

// Options represents the options for configuring the manager.
type Options struct {
	// Logger receives task lifecycle diagnostics.
	Logger *slog.Logger

	// HistoryLimit bounds the finished task history.
	HistoryLimit int

	// Codec encodes snapshot payloads.
	Codec codec.Codec

	// Compression selects the snapshot compression scheme.
	Compression Compression
}

// DefaultOptions holds the default manager configuration.
var DefaultOptions = Options{
	Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	HistoryLimit: DefaultHistoryLimit,
	Codec:        codec.Default,
	Compression:  CompressionLZ4,
}

// Manager owns the assignment table. All mutation is serialized through the
// task state machine and the manual correction calls.
type Manager struct {
	mu sync.RWMutex

	assignments map[uint32]uint32   // embedding id to cluster id
	clusters    map[uint32][]uint32 // cluster id to member ids, insertion order
	maxCluster  uint32

	current    *Task
	processed  map[uint32]bool // ids already counted for the current task
	nextTaskID uint32
	history    []Task

	versions   []Version
	versionSeq uint64

	hasBaseline bool

	logger *slog.Logger
	opts   Options
}

// NewManager creates a manager with an empty assignment table.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HistoryLimit < 1 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	return &Manager{
		assignments: make(map[uint32]uint32),
		clusters:    make(map[uint32][]uint32),
		logger:      opts.Logger,
		opts:        opts,
	}
}

// SubmitFullScanTask queues a full re-clustering over the given embedding ids.
func (m *Manager) SubmitFullScanTask(photoIDs []uint32) (uint32, error) {
	return m.submit(TaskModeFullScan, photoIDs)
}

// SubmitIncrementalTask queues an incremental assignment pass. Requires a
// completed full scan as baseline.
func (m *Manager) SubmitIncrementalTask(photoIDs []uint32) (uint32, error) {
	return m.submit(TaskModeIncremental, photoIDs)
}

func (m *Manager) submit(mode TaskMode, photoIDs []uint32) (uint32, error) {
	if len(photoIDs) == 0 {
		return 0, fmt.Errorf("%w: empty photo id list", ErrInvalidParameter)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.Status.active() {
		return 0, fmt.Errorf("%w: task %d is %s", ErrTaskInProgress, m.current.ID, m.current.Status)
	}
	if mode == TaskModeIncremental && !m.hasBaseline {
		return 0, ErrNoBaseline
	}

	m.nextTaskID++
	ids := make([]uint32, len(photoIDs))
	copy(ids, photoIDs)

	m.current = &Task{
		ID:        m.nextTaskID,
		Mode:      mode,
		Status:    TaskStatusPending,
		PhotoIDs:  ids,
		CreatedAt: time.Now(),
	}
	m.processed = make(map[uint32]bool, len(ids))

	m.logger.Info("submitted clustering task", "task", m.current.ID, "mode", mode.String(), "photos", len(ids))

	return m.current.ID, nil
}

// UpdateProgress records one assignment for the active task. The first call
// moves the task to Running; processing the last photo completes it. Cluster
// id Noise (0) leaves the embedding outside every cluster.
func (m *Manager) UpdateProgress(photoID, clusterID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.current.Status.active() {
		return ErrNoActiveTask
	}

	task := m.current

	if !contains(task.PhotoIDs, photoID) {
		return fmt.Errorf("%w: photo %d not part of task %d", ErrNotFound, photoID, task.ID)
	}

	if task.Status == TaskStatusPending {
		task.Status = TaskStatusRunning
		task.StartedAt = time.Now()
	}

	m.assign(photoID, clusterID)

	if !m.processed[photoID] {
		m.processed[photoID] = true
		task.Processed++
	}

	if task.Processed == len(task.PhotoIDs) {
		m.finishCurrent(TaskStatusCompleted)
	}

	return nil
}

// FailCurrentTask marks the active task as failed. Assignments recorded so
// far are retained.
func (m *Manager) FailCurrentTask() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.current.Status.active() {
		return ErrNoActiveTask
	}

	m.finishCurrent(TaskStatusFailed)
	return nil
}

// CancelCurrentTask cancels the active task. Processed photos keep their
// cluster ids, unprocessed ones stay unassigned.
func (m *Manager) CancelCurrentTask() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || !m.current.Status.active() {
		return ErrNoActiveTask
	}

	m.finishCurrent(TaskStatusCancelled)
	return nil
}

// finishCurrent retires the active task into the bounded history. Caller
// holds the write lock.
func (m *Manager) finishCurrent(status TaskStatus) {
	task := m.current
	task.Status = status
	task.CompletedAt = time.Now()

	if status == TaskStatusCompleted {
		if task.Mode == TaskModeFullScan {
			m.hasBaseline = true
		}
		m.versionSeq++
		m.versions = append(m.versions, Version{
			Seq:          m.versionSeq,
			TaskID:       task.ID,
			ClusterCount: len(m.clusters),
			CreatedAt:    task.CompletedAt,
		})
	}

	m.history = append(m.history, *task)
	if len(m.history) > m.opts.HistoryLimit {
		m.history = m.history[len(m.history)-m.opts.HistoryLimit:]
	}

	m.current = nil
	m.processed = nil

	m.logger.Info("task finished", "task", task.ID, "status", status.String(), "processed", task.Processed)
}

// GetCurrentTaskStatus returns the active task's id, status and progress.
func (m *Manager) GetCurrentTaskStatus() (TaskView, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return TaskView{}, false
	}

	return TaskView{
		TaskID:          m.current.ID,
		Mode:            m.current.Mode,
		Status:          m.current.Status,
		ProgressPercent: m.current.Progress(),
	}, true
}

// MergeClusters relabels every member of b into a and removes b. The second
// argument always merges into the first.
func (m *Manager) MergeClusters(a, b uint32) error {
	if a == b {
		return fmt.Errorf("%w: cannot merge cluster %d into itself", ErrInvalidParameter, a)
	}
	if a == Noise || b == Noise {
		return fmt.Errorf("%w: noise is not a mergeable cluster", ErrInvalidParameter)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.Status.active() {
		return fmt.Errorf("%w: corrections race the running task", ErrTaskInProgress)
	}

	if len(m.clusters[a]) == 0 {
		return fmt.Errorf("%w: cluster %d has no members", ErrNotFound, a)
	}
	if len(m.clusters[b]) == 0 {
		return fmt.Errorf("%w: cluster %d has no members", ErrNotFound, b)
	}

	for _, id := range m.clusters[b] {
		m.assignments[id] = a
		m.clusters[a] = append(m.clusters[a], id)
	}
	delete(m.clusters, b)

	m.logger.Info("merged clusters", "into", a, "from", b, "members", len(m.clusters[a]))

	return nil
}

// SplitCluster moves the members at the given positions out of the cluster
// and into a brand-new one, returning the new cluster id. Positions refer to
// the cluster's member list in insertion order. Ids are never reused.
func (m *Manager) SplitCluster(clusterID uint32, outlierIndices []int) (uint32, error) {
	if clusterID == Noise {
		return 0, fmt.Errorf("%w: noise is not a splittable cluster", ErrInvalidParameter)
	}
	if len(outlierIndices) == 0 {
		return 0, fmt.Errorf("%w: no outlier positions given", ErrInvalidParameter)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.Status.active() {
		return 0, fmt.Errorf("%w: corrections race the running task", ErrTaskInProgress)
	}

	members := m.clusters[clusterID]
	if len(members) == 0 {
		return 0, fmt.Errorf("%w: cluster %d has no members", ErrNotFound, clusterID)
	}

	// Validate before mutating anything.
	seen := make(map[int]bool, len(outlierIndices))
	for _, i := range outlierIndices {
		if i < 0 || i >= len(members) {
			return 0, &ErrIndexOutOfRange{Index: i, Size: len(members)}
		}
		if seen[i] {
			return 0, fmt.Errorf("%w: duplicate outlier position %d", ErrInvalidParameter, i)
		}
		seen[i] = true
	}

	m.maxCluster++
	newID := m.maxCluster

	remaining := make([]uint32, 0, len(members)-len(outlierIndices))
	moved := make([]uint32, 0, len(outlierIndices))

	for i, id := range members {
		if seen[i] {
			moved = append(moved, id)
			m.assignments[id] = newID
		} else {
			remaining = append(remaining, id)
		}
	}

	m.clusters[newID] = moved
	if len(remaining) == 0 {
		delete(m.clusters, clusterID)
	} else {
		m.clusters[clusterID] = remaining
	}

	m.logger.Info("split cluster", "from", clusterID, "new", newID, "moved", len(moved))

	return newID, nil
}

// AssignmentOf returns the cluster id of an embedding.
func (m *Manager) AssignmentOf(photoID uint32) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cid, ok := m.assignments[photoID]
	return cid, ok
}

// ClusterMembers returns the member ids of a cluster in insertion order.
func (m *Manager) ClusterMembers(clusterID uint32) []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members := m.clusters[clusterID]
	out := make([]uint32, len(members))
	copy(out, members)
	return out
}

// ClusterIDs returns every active cluster id in ascending order.
func (m *Manager) ClusterIDs() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uint32, 0, len(m.clusters))
	for id := range m.clusters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TaskHistory returns the retained finished tasks, oldest first.
func (m *Manager) TaskHistory() []Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Task, len(m.history))
	copy(out, m.history)
	return out
}

// Versions returns the recorded assignment table versions, oldest first.
func (m *Manager) Versions() []Version {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Version, len(m.versions))
	copy(out, m.versions)
	return out
}

// Stats returns assignment table and task counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		ClusterCount: len(m.clusters),
		TotalVectors: len(m.assignments),
		TaskCount:    len(m.history),
	}
	if m.current != nil {
		stats.TaskCount++
	}

	if len(m.clusters) > 0 {
		var clustered int
		for _, members := range m.clusters {
			clustered += len(members)
		}
		stats.AvgClusterSize = float64(clustered) / float64(len(m.clusters))
	}

	return stats
}

// assign writes one assignment, keeping the cluster member lists consistent.
// Caller holds the write lock.
func (m *Manager) assign(photoID, clusterID uint32) {
	if prev, ok := m.assignments[photoID]; ok && prev != Noise && prev != clusterID {
		m.clusters[prev] = removeMember(m.clusters[prev], photoID)
		if len(m.clusters[prev]) == 0 {
			delete(m.clusters, prev)
		}
	}

	m.assignments[photoID] = clusterID

	if clusterID != Noise {
		if !contains(m.clusters[clusterID], photoID) {
			m.clusters[clusterID] = append(m.clusters[clusterID], photoID)
		}
		m.maxCluster = max(m.maxCluster, clusterID)
	}
}

func contains(ids []uint32, id uint32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeMember(members []uint32, id uint32) []uint32 {
	for i, v := range members {
		if v == id {
			return append(members[:i], members[i+1:]...)
		}
	}
	return members
}
