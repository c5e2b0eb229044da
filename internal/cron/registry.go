package cron

import (
	"context"
	"fmt"
)

// Job is one maintenance task run on every cron cycle. Run reports how many
// rows it touched so the cycle can log and count them.
type Job interface {
	Name() string
	Run(ctx context.Context) (affected int64, err error)
}

// Registry holds jobs in registration order, keyed by name.
type Registry struct {
	ordered []Job
	byName  map[string]struct{}
}

// NewRegistry registers jobs in order, skipping nils. It panics on a
// duplicate name because that is a wiring bug in main.
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{byName: make(map[string]struct{})}
	for _, job := range jobs {
		if err := r.Register(job); err != nil {
			panic(err)
		}
	}
	return r
}

// Register appends job. A nil job is ignored.
func (r *Registry) Register(job Job) error {
	if job == nil {
		return nil
	}
	name := job.Name()
	if _, taken := r.byName[name]; taken {
		return fmt.Errorf("cron job %q registered twice", name)
	}
	r.byName[name] = struct{}{}
	r.ordered = append(r.ordered, job)
	return nil
}

func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.ordered...)
}
