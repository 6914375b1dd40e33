package schedule

import "sort"

// Table maps agent ids to their scheduled tasks. It is not safe for
// concurrent use; callers serialize access behind the scheduler mutex.
type Table struct {
	tasks map[string]*Task
}

// NewTable creates an empty task table.
func NewTable() *Table {
	return &Table{tasks: make(map[string]*Task)}
}

// Upsert inserts or replaces the task for its agent id.
func (tb *Table) Upsert(task *Task) {
	if task == nil || task.AgentID == "" {
		return
	}
	tb.tasks[task.AgentID] = task
}

// Remove deletes the task for the agent id. Returns true if a task existed.
func (tb *Table) Remove(agentID string) bool {
	if _, ok := tb.tasks[agentID]; !ok {
		return false
	}
	delete(tb.tasks, agentID)
	return true
}

// Get returns the task for the agent id, or nil.
func (tb *Table) Get(agentID string) *Task {
	return tb.tasks[agentID]
}

// List returns all tasks ordered by agent id for deterministic iteration.
func (tb *Table) List() []*Task {
	out := make([]*Task, 0, len(tb.tasks))
	for _, t := range tb.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Len returns the number of tasks, manual one-shots included.
func (tb *Table) Len() int {
	return len(tb.tasks)
}

// ScheduledLen returns the number of recurring tasks, excluding manual
// one-shot runs.
func (tb *Table) ScheduledLen() int {
	n := 0
	for _, t := range tb.tasks {
		if !t.IsManualRun {
			n++
		}
	}
	return n
}

// PausedLen returns the number of paused tasks.
func (tb *Table) PausedLen() int {
	n := 0
	for _, t := range tb.tasks {
		if t.IsPaused {
			n++
		}
	}
	return n
}
