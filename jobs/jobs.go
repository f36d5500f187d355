package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Jeffail/tunny"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"

	"github.com/thavlik/molsuite/workflow"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("job manager closed")

// State of a job. Jobs only move forward:
// pending -> running -> done|failed.
type State string

const (
	Pending State = "pending"
	Running State = "running"
	Done    State = "done"
	Failed  State = "failed"
)

// Finished reports whether the state is terminal.
func (s State) Finished() bool {
	return s == Done || s == Failed
}

// Output is what a job produces. Artifacts are named PNG images
// served under /jobs/{id}/{name}.png.
type Output struct {
	Data      interface{}
	Artifacts map[string][]byte
}

// Func is the work a job performs. It has no deadline.
type Func func() (*Output, error)

// Status is a snapshot of a job, safe to marshal.
type Status struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	State     State     `json:"state"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Artifacts []string  `json:"artifacts,omitempty"`
	Created   time.Time `json:"created"`
	Started   time.Time `json:"started,omitempty"`
	Finished  time.Time `json:"finished,omitempty"`
}

// Job is a future for one unit of work.
type Job struct {
	id      string
	kind    string
	fn      Func
	meta    interface{}
	l       sync.Mutex
	state   State
	err     error
	output  *Output
	created time.Time
	started time.Time
	ended   time.Time
	done    chan struct{}
	subs    map[chan Status]struct{}
}

// ID ...
func (j *Job) ID() string { return j.id }

// Meta is the value given to SubmitMeta, or nil.
func (j *Job) Meta() interface{} { return j.meta }

// Kind is the workflow that submitted the job.
func (j *Job) Kind() string { return j.kind }

// Status ...
func (j *Job) Status() Status {
	j.l.Lock()
	defer j.l.Unlock()
	return j.statusLocked()
}

func (j *Job) statusLocked() Status {
	s := Status{
		ID:       j.id,
		Kind:     j.kind,
		State:    j.state,
		Created:  j.created,
		Started:  j.started,
		Finished: j.ended,
	}
	if j.err != nil {
		s.Error = j.err.Error()
		s.ErrorKind = workflow.KindOf(j.err).String()
	}
	if j.output != nil {
		for name := range j.output.Artifacts {
			s.Artifacts = append(s.Artifacts, name)
		}
		sort.Strings(s.Artifacts)
	}
	return s
}

// Result returns the output and error of a finished job. Before the
// job finishes both are nil.
func (j *Job) Result() (*Output, error) {
	j.l.Lock()
	defer j.l.Unlock()
	return j.output, j.err
}

// Artifact returns a named artifact of a finished job.
func (j *Job) Artifact(name string) ([]byte, bool) {
	j.l.Lock()
	defer j.l.Unlock()
	if j.output == nil {
		return nil, false
	}
	data, ok := j.output.Artifacts[name]
	return data, ok
}

// Done is closed when the job finishes.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx is done. A ctx error
// does not affect the job, which keeps running.
func (j *Job) Wait(ctx context.Context) (*Output, error) {
	select {
	case <-j.done:
		return j.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe streams status changes, starting with the current one.
// The channel is closed after the terminal status is sent or when
// cancel is called.
func (j *Job) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 4)
	j.l.Lock()
	ch <- j.statusLocked()
	if j.state.Finished() {
		j.l.Unlock()
		close(ch)
		return ch, func() {}
	}
	j.subs[ch] = struct{}{}
	j.l.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			j.l.Lock()
			defer j.l.Unlock()
			if _, ok := j.subs[ch]; ok {
				delete(j.subs, ch)
				close(ch)
			}
		})
	}
}

func (j *Job) setState(state State, output *Output, err error) {
	j.l.Lock()
	defer j.l.Unlock()
	j.state = state
	switch state {
	case Running:
		j.started = time.Now()
	case Done, Failed:
		j.ended = time.Now()
		j.output = output
		j.err = err
	}
	status := j.statusLocked()
	for ch := range j.subs {
		select {
		case ch <- status:
		default:
			// Slow subscriber, drop the oldest update.
			select {
			case <-ch:
			default:
			}
			ch <- status
		}
		if state.Finished() {
			delete(j.subs, ch)
			close(ch)
		}
	}
	if state.Finished() {
		close(j.done)
	}
}

func (j *Job) run() {
	j.setState(Running, nil, nil)
	output, err := func() (output *Output, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return j.fn()
	}()
	if err != nil {
		log.Printf("Job %s (%s) failed: %v", j.id, j.kind, err)
		j.setState(Failed, nil, err)
		return
	}
	if output == nil {
		output = &Output{}
	}
	log.Printf("Job %s (%s) done", j.id, j.kind)
	j.setState(Done, output, nil)
}

// Manager runs jobs on a fixed number of workers and remembers the
// most recent ones.
type Manager struct {
	pool   *tunny.Pool
	jobs   *lru.Cache
	closed bool
	wg     sync.WaitGroup
	l      sync.RWMutex
}

// NewManager creates a manager with the given number of workers that
// retains up to retain jobs for lookup.
func NewManager(workers, retain int) (*Manager, error) {
	if workers < 1 {
		workers = 1
	}
	cache, err := lru.New(retain)
	if err != nil {
		return nil, fmt.Errorf("lru: %v", err)
	}
	return &Manager{
		pool: tunny.NewFunc(workers, func(payload interface{}) interface{} {
			payload.(*Job).run()
			return nil
		}),
		jobs: cache,
	}, nil
}

// Submit queues fn and returns its future immediately.
func (m *Manager) Submit(kind string, fn Func) (*Job, error) {
	return m.SubmitMeta(kind, nil, fn)
}

// SubmitMeta is Submit with a value kept alongside the job for
// whoever renders it later.
func (m *Manager) SubmitMeta(kind string, meta interface{}, fn Func) (*Job, error) {
	m.l.RLock()
	defer m.l.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	job := &Job{
		id:      uuid.New().String(),
		kind:    kind,
		fn:      fn,
		meta:    meta,
		state:   Pending,
		created: time.Now(),
		done:    make(chan struct{}),
		subs:    make(map[chan Status]struct{}),
	}
	m.jobs.Add(job.id, job)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.pool.Process(job)
	}()
	log.Printf("Submitted job %s (%s)", job.id, kind)
	return job, nil
}

// Get looks up a retained job.
func (m *Manager) Get(id string) (*Job, bool) {
	v, ok := m.jobs.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

// Len is the number of retained jobs.
func (m *Manager) Len() int {
	return m.jobs.Len()
}

// Close waits for queued jobs to finish and stops the workers.
func (m *Manager) Close() {
	m.l.Lock()
	if m.closed {
		m.l.Unlock()
		return
	}
	m.closed = true
	m.l.Unlock()
	m.wg.Wait()
	m.pool.Close()
}
