package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/docrepo/internal/repository"
	"github.com/roach88/docrepo/internal/store"
	"github.com/roach88/docrepo/internal/testutil"
)

// eventBuffer bounds how many events one scenario can observe.
const eventBuffer = 4096

// epoch stamps change records so runs do not depend on wall time.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type repo = repository.Repository[Doc, Doc, any]

// Harness executes scenarios against a throwaway database.
type Harness struct {
	writer *repo
}

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	logger *slog.Logger
	dir    string
}

// WithLogger sets the logger for the store and repositories. Logs are
// discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) { o.logger = l }
}

// WithDir places the database in dir instead of a fresh temporary directory.
// The file is left behind for inspection.
func WithDir(dir string) Option {
	return func(o *runOptions) { o.dir = dir }
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Create a fresh database and two repositories on the entity's table
//  2. Execute steps through the writer, checking expect clauses
//  3. Evaluate final_count and final_state assertions
//  4. Close the database, which flushes every pending change event
//  5. Collect the observer's events and evaluate event assertions
//
// Errors are returned only when the scenario could not run at all; failed
// expectations are reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	decl := scenario.Declaration()
	if decl == nil {
		return nil, fmt.Errorf("scenario %s was not loaded through ParseScenario", scenario.Name)
	}
	entity, err := decl.Entity()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	dir := o.dir
	if dir == "" {
		dir, err = os.MkdirTemp("", "docrepo-harness-")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)
	}

	db := store.New(filepath.Join(dir, scenario.Name+".db"),
		store.WithLogger(o.logger),
		store.WithClock(testutil.NewManualClock(epoch)),
	)
	defer db.Close()

	table := decl.TableName()
	writer, err := repository.NewRepository[Doc, any](ctx, db, entity, table,
		repository.WithLogger(o.logger),
		repository.WithTokenGenerator(testutil.NewFixedGenerator(scenario.writerToken())),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}
	defer writer.Close()

	observer, err := repository.NewRepository[Doc, any](ctx, db, entity, table,
		repository.WithLogger(o.logger),
		repository.WithTokenGenerator(testutil.NewSequenceGenerator("observer")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create observer: %w", err)
	}
	defer observer.Close()
	events, cancel := observer.Events(eventBuffer)
	defer cancel()

	h := &Harness{writer: writer}
	result := NewResult()

	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	for _, msg := range evaluateStateAssertions(ctx, writer, scenario.Assertions) {
		result.AddError(msg)
	}

	if err := db.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database: %w", err)
	}
	result.Events = collectEvents(events)

	for _, msg := range evaluateEventAssertions(result.Events, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// collectEvents drains everything already buffered on ch.
func collectEvents(ch <-chan repository.Event[Doc, any]) []EventTrace {
	out := []EventTrace{}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			trace := EventTrace{Seq: len(out) + 1, Type: ev.Type.String(), Key: ev.Key}
			if ev.NewValue != nil {
				trace.New = *ev.NewValue
			}
			if ev.PreviousValue != nil {
				trace.Previous = *ev.PreviousValue
			}
			out = append(out, trace)
		default:
			return out
		}
	}
}

// executeStep runs one step and records it. Failures are added to result.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) {
	trace := StepTrace{Seq: index + 1, Op: step.Op()}
	output, err := h.call(ctx, step, &trace)
	if err != nil {
		trace.Error = err.Error()
	} else {
		trace.Output = output
	}
	result.Steps = append(result.Steps, trace)

	label := fmt.Sprintf("steps[%d] %s", index, trace.Op)
	switch {
	case step.Expect != nil && step.Expect.Error != "":
		if err == nil {
			result.AddError(fmt.Sprintf("%s: expected error containing %q, got success", label, step.Expect.Error))
		} else if !containsFold(err.Error(), step.Expect.Error) {
			result.AddError(fmt.Sprintf("%s: expected error containing %q, got %q", label, step.Expect.Error, err.Error()))
		}
		return
	case err != nil:
		result.AddError(fmt.Sprintf("%s: %v", label, err))
		return
	}

	if step.Expect != nil {
		for _, msg := range checkExpect(step.Expect, output) {
			result.AddError(fmt.Sprintf("%s: %s", label, msg))
		}
	}
}

// call dispatches the step to the writer and returns its output in the
// shape expect clauses are matched against.
func (h *Harness) call(ctx context.Context, step Step, trace *StepTrace) (any, error) {
	w := h.writer
	switch trace.Op {
	case OpSave:
		trace.Input = step.Save
		return w.Save(ctx, step.Save)
	case OpSaveAll:
		trace.Input = step.SaveAll
		return w.SaveAll(ctx, step.SaveAll...)
	case OpFind:
		trace.Input = step.Find
		v, found, err := w.FindByID(ctx, step.Find)
		if err != nil {
			return nil, err
		}
		out := map[string]any{"found": found}
		if found {
			out["value"] = v
		}
		return out, nil
	case OpFindAll:
		return w.FindAll(ctx)
	case OpDelete:
		trace.Input = step.Delete
		return nil, w.Delete(ctx, step.Delete)
	case OpClear:
		return nil, w.Clear(ctx)
	case OpCount:
		return w.Count(ctx)
	case OpSearch:
		trace.Input = step.Search
		q := w.Search()
		for _, c := range step.Search.Where {
			switch c.Op {
			case ClauseAndEqual:
				q.AndEqual(c.Field, c.Value)
			case ClauseAndNotEqual:
				q.AndNotEqual(c.Field, c.Value)
			case ClauseOrEqual:
				q.OrEqual(c.Field, c.Value)
			case ClauseOrNotEqual:
				q.OrNotEqual(c.Field, c.Value)
			}
		}
		if step.Search.Count {
			return q.Count(ctx)
		}
		return q.Find(ctx)
	}
	return nil, fmt.Errorf("unknown operation %q", trace.Op)
}
