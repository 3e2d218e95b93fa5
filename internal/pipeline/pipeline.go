// Package pipeline runs named stages in order and stops at the first failure.
package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Stage is one named step of a provisioning run.
type Stage struct {
	Name string
	Fn   func(ctx context.Context) error
}

// StageError reports which stage failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Observer is notified around each stage. Either field may be nil.
type Observer struct {
	Start  func(name string)
	Finish func(name string, elapsed time.Duration, err error)
}

// Result records what happened to each stage that ran.
type Result struct {
	Completed []string
	Failed    string
}

// Run executes stages in order. It halts at the first failing stage, or
// before the next stage once ctx is done, and returns a *StageError.
func Run(ctx context.Context, stages []Stage, obs Observer) (Result, error) {
	var res Result
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			res.Failed = stage.Name
			return res, &StageError{Stage: stage.Name, Err: err}
		}

		if obs.Start != nil {
			obs.Start(stage.Name)
		}
		start := time.Now()
		err := stage.Fn(ctx)
		if obs.Finish != nil {
			obs.Finish(stage.Name, time.Since(start), err)
		}

		if err != nil {
			res.Failed = stage.Name
			return res, &StageError{Stage: stage.Name, Err: err}
		}
		res.Completed = append(res.Completed, stage.Name)
	}
	return res, nil
}
