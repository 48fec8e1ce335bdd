package service

import (
	"context"
	"fmt"
	"sort"

	appErrors "github.com/noah-isme/training-enrollment-api/pkg/errors"
)

// TaskKind names a maintenance task. The set is closed.
type TaskKind string

// Maintenance tasks.
const (
	TaskExpireInvitations TaskKind = "expire-invitations"
	TaskCascadeWaitlists  TaskKind = "cascade-waitlists"
)

var taskKinds = map[TaskKind]struct{}{
	TaskExpireInvitations: {},
	TaskCascadeWaitlists:  {},
}

// TaskHandler executes one maintenance task.
type TaskHandler func(ctx context.Context) error

// TaskRegistry binds every TaskKind to its handler once at startup.
type TaskRegistry struct {
	handlers map[TaskKind]TaskHandler
}

// NewTaskRegistry fails when a kind is missing a handler or an unknown kind is bound.
func NewTaskRegistry(handlers map[TaskKind]TaskHandler) (*TaskRegistry, error) {
	bound := make(map[TaskKind]TaskHandler, len(handlers))
	for kind, handler := range handlers {
		if _, ok := taskKinds[kind]; !ok {
			return nil, fmt.Errorf("unknown task kind %q", kind)
		}
		if handler == nil {
			return nil, fmt.Errorf("task %q has no handler", kind)
		}
		bound[kind] = handler
	}
	for kind := range taskKinds {
		if _, ok := bound[kind]; !ok {
			return nil, fmt.Errorf("task %q has no handler", kind)
		}
	}
	return &TaskRegistry{handlers: bound}, nil
}

// ParseTaskKind validates a task name.
func ParseTaskKind(name string) (TaskKind, error) {
	kind := TaskKind(name)
	if _, ok := taskKinds[kind]; !ok {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown task %q", name))
	}
	return kind, nil
}

// Dispatch runs the named task.
func (r *TaskRegistry) Dispatch(ctx context.Context, name string) error {
	kind, err := ParseTaskKind(name)
	if err != nil {
		return err
	}
	return r.handlers[kind](ctx)
}

// Kinds lists the registered tasks in name order.
func (r *TaskRegistry) Kinds() []TaskKind {
	kinds := make([]TaskKind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
