// Package schedule triggers exports on cron specs read from a YAML file:
//
//	schedules:
//	  - consumer: warehouse
//	    type: incremental
//	    cron: "*/15 * * * *"
//
// Specs use the standard five fields and are evaluated in UTC.
package schedule

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"example.com/userexports/internal/domain"
	"example.com/userexports/internal/jobs"
)

type Entry struct {
	Consumer string            `yaml:"consumer"`
	Type     domain.ExportType `yaml:"type"`
	Cron     string            `yaml:"cron"`
}

type file struct {
	Schedules []Entry `yaml:"schedules"`
}

func Load(path string) ([]Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates every entry.
func Parse(b []byte) ([]Entry, error) {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	for i, e := range f.Schedules {
		if errs := domain.ValidateConsumerID(e.Consumer); len(errs) > 0 {
			return nil, fmt.Errorf("schedules[%d]: %v", i, errs[0])
		}
		if !e.Type.Valid() {
			return nil, fmt.Errorf("schedules[%d]: unknown export type %q", i, e.Type)
		}
		if _, err := cron.ParseStandard(e.Cron); err != nil {
			return nil, fmt.Errorf("schedules[%d]: cron %q: %w", i, e.Cron, err)
		}
	}
	return f.Schedules, nil
}

type Scheduler struct {
	cron       *cron.Cron
	dispatcher jobs.Dispatcher
	log        *zap.Logger
	now        func() time.Time
	newID      func() string
}

func New(entries []Entry, d jobs.Dispatcher, log *zap.Logger, now func() time.Time, newID func() string) (*Scheduler, error) {
	s := &Scheduler{
		cron:       cron.New(cron.WithLocation(time.UTC)),
		dispatcher: d,
		log:        log,
		now:        now,
		newID:      newID,
	}
	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.Cron, func() { s.fire(e) }); err != nil {
			return nil, fmt.Errorf("schedule %s/%s: %w", e.Consumer, e.Type, err)
		}
	}
	return s, nil
}

func (s *Scheduler) fire(e Entry) {
	job := domain.Job{
		ID:             s.newID(),
		ConsumerID:     e.Consumer,
		Type:           e.Type,
		OutputFilename: domain.OutputFilename(e.Type, e.Consumer, s.now()),
	}
	if err := s.dispatcher.Submit(context.Background(), job); err != nil {
		s.log.Warn("scheduled export not queued",
			zap.String("consumerId", e.Consumer), zap.String("exportType", string(e.Type)), zap.Error(err))
		return
	}
	s.log.Info("scheduled export queued",
		zap.String("jobId", job.ID), zap.String("consumerId", e.Consumer), zap.String("exportType", string(e.Type)))
}

// Len is the number of registered entries.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for a firing in progress.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
