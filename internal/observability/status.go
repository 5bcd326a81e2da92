package observability

import (
	"sync"
	"time"
)

type Role string

const (
	RoleIdle      Role = "IDLE"
	RoleMaster    Role = "MASTER"
	RoleWorker    Role = "WORKER"
	RoleResponder Role = "RESPONDER"
)

// Snapshot is a point-in-time copy of a Status.
type Snapshot struct {
	Role          Role
	ActiveTask    string
	Progress      int
	LastHeartbeat time.Time
}

// Status is the live agent state rendered by the dashboard. One instance is
// created in main and handed to whoever reports into it.
type Status struct {
	mu            sync.RWMutex
	role          Role
	activeTask    string
	progress      int
	lastHeartbeat time.Time
}

func NewStatus() *Status {
	return &Status{
		role:          RoleIdle,
		lastHeartbeat: time.Now(),
	}
}

// Set records the current role and task description and resets progress.
func (s *Status) Set(role Role, task string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
	s.activeTask = task
	s.progress = 0
}

func (s *Status) SetProgress(progress int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = progress
}

// Heartbeat updates the last heartbeat time.
func (s *Status) Heartbeat() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = time.Now()
}

func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Role:          s.role,
		ActiveTask:    s.activeTask,
		Progress:      s.progress,
		LastHeartbeat: s.lastHeartbeat,
	}
}
