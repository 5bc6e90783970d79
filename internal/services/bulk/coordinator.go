package bulk

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"redflag/internal/domain"
	"redflag/internal/ports"
)

var _ ports.Bulk = (*Coordinator)(nil)

// Commands is the slice of the flag aggregate the coordinator drives.
type Commands interface {
	ChangeStatus(ctx context.Context, flagID string, to domain.Status, reason, actorID string) (*domain.RedFlag, error)
	AddNote(ctx context.Context, flagID, text string, isInternal bool, actorID string) (*domain.RedFlag, error)
	Assign(ctx context.Context, flagID, assigneeID, actorID string) (*domain.RedFlag, error)
}

const DefaultConcurrency = 8

// Coordinator applies one operation to many flags. Items are independent: a
// failure on one is recorded and the rest carry on. Nothing is rolled back.
type Coordinator struct {
	flags       Commands
	concurrency int
	log         logrus.FieldLogger
}

func New(flags Commands, concurrency int, log logrus.FieldLogger) *Coordinator {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Coordinator{flags: flags, concurrency: concurrency, log: log}
}

type itemFunc func(ctx context.Context, flagID string) error

// Apply validates the request as a whole, then runs op on each distinct id
// with bounded parallelism. Request-level problems (no ids, missing uniform
// reason, unknown op) are returned as errors; per-item problems are reported
// in the result.
func (c *Coordinator) Apply(ctx context.Context, op ports.BulkOperation, flagIDs []string, params ports.BulkParams, actorID string) (*ports.BulkResult, error) {
	ids := dedupe(flagIDs)
	if len(ids) == 0 {
		return nil, domain.Errorf(domain.KindEmptySelection, "select at least one flag")
	}
	run, err := c.plan(op, params, actorID)
	if err != nil {
		return nil, err
	}

	res := &ports.BulkResult{Total: len(ids), Succeeded: []string{}, Failures: []ports.BulkFailure{}}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := run(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Failures = append(res.Failures, ports.BulkFailure{
					FlagID:  id,
					Kind:    domain.KindOf(err),
					Message: domain.MessageOf(err),
				})
				return nil
			}
			res.Success++
			res.Succeeded = append(res.Succeeded, id)
			return nil
		})
	}
	_ = g.Wait()

	c.log.WithFields(logrus.Fields{
		"operation": op,
		"actor":     actorID,
		"total":     res.Total,
		"success":   res.Success,
		"failed":    res.Failed,
	}).Info("bulk operation applied")
	return res, nil
}

func (c *Coordinator) plan(op ports.BulkOperation, p ports.BulkParams, actorID string) (itemFunc, error) {
	notes := strings.TrimSpace(p.Notes)
	reason := strings.TrimSpace(p.Reason)
	status := func(to domain.Status, why string) itemFunc {
		return func(ctx context.Context, id string) error {
			_, err := c.flags.ChangeStatus(ctx, id, to, why, actorID)
			return err
		}
	}

	switch op {
	case ports.BulkAcknowledge:
		return status(domain.StatusReviewing, firstNonEmpty(reason, notes)), nil
	case ports.BulkStartMitigation:
		return status(domain.StatusMitigating, firstNonEmpty(reason, notes)), nil
	case ports.BulkReopen:
		return status(domain.StatusOpen, firstNonEmpty(reason, notes)), nil
	case ports.BulkResolve:
		why := firstNonEmpty(notes, reason)
		if why == "" {
			return nil, domain.Errorf(domain.KindReasonRequired, "resolution notes are required to resolve flags in bulk")
		}
		return status(domain.StatusResolved, why), nil
	case ports.BulkFalsePositive:
		why := firstNonEmpty(reason, notes)
		if why == "" {
			return nil, domain.Errorf(domain.KindReasonRequired, "reason required to mark flags as false positive")
		}
		return status(domain.StatusFalsePositive, why), nil
	case ports.BulkAddNote:
		if notes == "" {
			return nil, domain.Errorf(domain.KindInvalidInput, "note text is required")
		}
		return func(ctx context.Context, id string) error {
			_, err := c.flags.AddNote(ctx, id, notes, p.IsInternal, actorID)
			return err
		}, nil
	case ports.BulkAssign:
		assignee := strings.TrimSpace(p.AssigneeID)
		if assignee == "" {
			return nil, domain.Errorf(domain.KindInvalidInput, "assignee is required")
		}
		return func(ctx context.Context, id string) error {
			_, err := c.flags.Assign(ctx, id, assignee, actorID)
			return err
		}, nil
	}
	return nil, domain.Errorf(domain.KindUnknownOperation, "unknown bulk operation %q", op)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
