package cron

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// CronSchedule describes when a job should next fire: a fixed point in time
// ("at"), a fixed interval ("every"), or a cron expression ("cron").
type CronSchedule struct {
	Kind    string `json:"kind"`
	AtMS    *int64 `json:"at_ms,omitempty"`
	EveryMS *int64 `json:"every_ms,omitempty"`
	Expr    string `json:"expr,omitempty"`
}

// CronPayload is what gets delivered or processed when a job runs.
type CronPayload struct {
	Message string `json:"message"`
	Deliver bool   `json:"deliver"`
	Channel string `json:"channel,omitempty"`
	To      string `json:"to,omitempty"`
}

// CronJobState tracks a job's run history.
type CronJobState struct {
	NextRunAtMS       *int64 `json:"next_run_at_ms,omitempty"`
	LastRunAtMS       *int64 `json:"last_run_at_ms,omitempty"`
	LastStatus        string `json:"last_status,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
}

type CronJob struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Enabled        bool         `json:"enabled"`
	Schedule       CronSchedule `json:"schedule"`
	Payload        CronPayload  `json:"payload"`
	State          CronJobState `json:"state"`
	CreatedAtMS    int64        `json:"created_at_ms"`
	UpdatedAtMS    int64        `json:"updated_at_ms"`
	DeleteAfterRun bool         `json:"delete_after_run"`
}

type cronStore struct {
	Version int       `json:"version"`
	Jobs    []CronJob `json:"jobs"`
}

// Dispatcher runs a due job and reports its result/error back to the
// scheduler for status bookkeeping.
type Dispatcher func(job *CronJob) (string, error)

var errorBackoffMS = []int64{30_000, 60_000, 300_000, 900_000}

const maxConsecutiveErrors = 4

// CronService persists scheduled jobs to disk and dispatches due ones on a
// polling loop, independent of whether anything is actually running.
type CronService struct {
	storePath  string
	store      *cronStore
	dispatcher Dispatcher
	gronx      *gronx.Gronx

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
}

func NewCronService(storePath string, dispatcher Dispatcher) *CronService {
	cs := &CronService{
		storePath:  storePath,
		dispatcher: dispatcher,
		gronx:      gronx.New(),
	}
	cs.loadStore()
	return cs
}

func (cs *CronService) loadStore() error {
	cs.store = &cronStore{Version: 1, Jobs: []CronJob{}}

	data, err := os.ReadFile(cs.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, cs.store)
}

func (cs *CronService) saveStoreUnsafe() error {
	if dir := filepath.Dir(cs.storePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(cs.store, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cs.storePath, data, 0o644)
}

func randomJobID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("job-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// AddJob creates and persists a new job, computing its first run time from
// schedule immediately.
func (cs *CronService) AddJob(name string, schedule CronSchedule, message string, deliver bool, channel, to string) (*CronJob, error) {
	if deliver && channel == "" {
		return nil, fmt.Errorf("channel is required when deliver is true")
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	now := time.Now().UnixMilli()
	job := CronJob{
		ID:       randomJobID(),
		Name:     name,
		Enabled:  true,
		Schedule: schedule,
		Payload: CronPayload{
			Message: message,
			Deliver: deliver,
			Channel: channel,
			To:      to,
		},
		CreatedAtMS:    now,
		UpdatedAtMS:    now,
		DeleteAfterRun: schedule.Kind == "at",
	}
	job.State.NextRunAtMS = cs.computeNextRun(&job.Schedule, now)

	cs.store.Jobs = append(cs.store.Jobs, job)
	if err := cs.saveStoreUnsafe(); err != nil {
		return nil, err
	}

	created := cs.store.Jobs[len(cs.store.Jobs)-1]
	return &created, nil
}

func (cs *CronService) RemoveJob(jobID string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.removeJobUnsafe(jobID)
}

func (cs *CronService) removeJobUnsafe(jobID string) bool {
	before := len(cs.store.Jobs)
	jobs := cs.store.Jobs[:0:0]
	for _, job := range cs.store.Jobs {
		if job.ID != jobID {
			jobs = append(jobs, job)
		}
	}
	cs.store.Jobs = jobs
	removed := len(cs.store.Jobs) < before
	if removed {
		cs.saveStoreUnsafe()
	}
	return removed
}

// EnableJob flips a job's enabled flag, recomputing or clearing its next run
// time to match, and returns the updated job (nil if jobID is unknown).
func (cs *CronService) EnableJob(jobID string, enabled bool) *CronJob {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for i := range cs.store.Jobs {
		if cs.store.Jobs[i].ID != jobID {
			continue
		}
		job := &cs.store.Jobs[i]
		job.Enabled = enabled
		if enabled {
			job.State.NextRunAtMS = cs.computeNextRun(&job.Schedule, time.Now().UnixMilli())
			job.State.ConsecutiveErrors = 0
		} else {
			job.State.NextRunAtMS = nil
		}
		job.UpdatedAtMS = time.Now().UnixMilli()
		cs.saveStoreUnsafe()

		result := *job
		return &result
	}
	return nil
}

func (cs *CronService) ListJobs(includeDisabled bool) []CronJob {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if includeDisabled {
		out := make([]CronJob, len(cs.store.Jobs))
		copy(out, cs.store.Jobs)
		return out
	}

	var out []CronJob
	for _, job := range cs.store.Jobs {
		if job.Enabled {
			out = append(out, job)
		}
	}
	return out
}

func (cs *CronService) Status() map[string]interface{} {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return map[string]interface{}{
		"jobs":    len(cs.store.Jobs),
		"enabled": cs.running,
	}
}

func (cs *CronService) computeNextRun(schedule *CronSchedule, nowMS int64) *int64 {
	switch schedule.Kind {
	case "at":
		if schedule.AtMS == nil || *schedule.AtMS <= nowMS {
			return nil
		}
		at := *schedule.AtMS
		return &at

	case "every":
		if schedule.EveryMS == nil || *schedule.EveryMS <= 0 {
			return nil
		}
		next := nowMS + *schedule.EveryMS
		return &next

	case "cron":
		if schedule.Expr == "" {
			return nil
		}
		nextTime, err := gronx.NextTickAfter(schedule.Expr, time.UnixMilli(nowMS), false)
		if err != nil {
			return nil
		}
		nextMS := nextTime.UnixMilli()
		return &nextMS

	default:
		return nil
	}
}

func (cs *CronService) recomputeNextRuns() {
	now := time.Now().UnixMilli()
	for i := range cs.store.Jobs {
		job := &cs.store.Jobs[i]
		if job.Enabled {
			job.State.NextRunAtMS = cs.computeNextRun(&job.Schedule, now)
		}
	}
}

func (cs *CronService) Start() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.running {
		return nil
	}

	cs.recomputeNextRuns()
	if err := cs.saveStoreUnsafe(); err != nil {
		return fmt.Errorf("failed to save cron store: %w", err)
	}

	cs.stopChan = make(chan struct{})
	cs.running = true
	go cs.runLoop(cs.stopChan)
	return nil
}

func (cs *CronService) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.running {
		return
	}
	cs.running = false
	close(cs.stopChan)
	cs.stopChan = nil
}

func (cs *CronService) runLoop(stopChan chan struct{}) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stopChan:
			return
		case <-ticker.C:
			cs.checkJobs()
		}
	}
}

func (cs *CronService) checkJobs() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}

	now := time.Now().UnixMilli()
	var due []string
	for i := range cs.store.Jobs {
		job := &cs.store.Jobs[i]
		if job.Enabled && job.State.NextRunAtMS != nil && *job.State.NextRunAtMS <= now {
			due = append(due, job.ID)
			job.State.NextRunAtMS = nil
		}
	}
	cs.mu.Unlock()

	for _, jobID := range due {
		cs.runJobByID(jobID)
	}
}

func (cs *CronService) runJobByID(jobID string) {
	cs.mu.RLock()
	var snapshot *CronJob
	for i := range cs.store.Jobs {
		if cs.store.Jobs[i].ID == jobID {
			job := cs.store.Jobs[i]
			snapshot = &job
			break
		}
	}
	cs.mu.RUnlock()
	if snapshot == nil {
		return
	}

	var err error
	if cs.dispatcher != nil {
		_, err = cs.dispatcher(snapshot)
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	var job *CronJob
	for i := range cs.store.Jobs {
		if cs.store.Jobs[i].ID == jobID {
			job = &cs.store.Jobs[i]
			break
		}
	}
	if job == nil {
		return
	}

	now := time.Now().UnixMilli()
	job.UpdatedAtMS = now
	runAt := now
	job.State.LastRunAtMS = &runAt

	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		job.State.ConsecutiveErrors++
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
		job.State.ConsecutiveErrors = 0
	}

	if job.Schedule.Kind == "at" {
		if job.DeleteAfterRun {
			cs.removeJobUnsafe(job.ID)
			return
		}
		job.Enabled = false
		job.State.NextRunAtMS = nil
	} else if err != nil {
		idx := job.State.ConsecutiveErrors - 1
		if idx >= len(errorBackoffMS) {
			idx = len(errorBackoffMS) - 1
		}
		next := now + errorBackoffMS[idx]
		job.State.NextRunAtMS = &next
		if job.State.ConsecutiveErrors >= maxConsecutiveErrors {
			job.Enabled = false
			job.State.NextRunAtMS = nil
		}
	} else {
		job.State.NextRunAtMS = cs.computeNextRun(&job.Schedule, now)
	}

	cs.saveStoreUnsafe()
}
