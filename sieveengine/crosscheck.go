package sieveengine

import (
	"context"
	"fmt"
	"runtime"

	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/filter"
	"github.com/migadu/sieveforge/logger"
	"github.com/migadu/sieveforge/matcher"
	"golang.org/x/sync/errgroup"
)

// Mismatch is an email the two evaluators send to different places.
type Mismatch struct {
	Email   *email.Email
	Matcher string
	Sieve   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: matcher=%s sieve=%s", m.Email, m.Matcher, m.Sieve)
}

type CrossCheckResult struct {
	Checked    int
	Agreed     int
	Mismatches []Mismatch
}

// CrossCheck renders f, loads it into go-sieve and compares the destination
// of every email with the one predicted by the in-process matcher.
// Mismatches are returned in input order. A script go-sieve rejects fails
// with consts.ErrScriptRejected.
func CrossCheck(ctx context.Context, f *filter.SieveFilter, emails []*email.Email, enabledExtensions []string) (*CrossCheckResult, error) {
	exec, err := NewSieveExecutor(f.ToSieveScript(), enabledExtensions)
	if err != nil {
		return nil, err
	}

	predicted := PredictDestinations(f, emails)
	actual := make([]string, len(emails))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, e := range emails {
		i, e := i, e
		g.Go(func() error {
			res, err := exec.Evaluate(gctx, ContextFromEmail(e))
			if err != nil {
				return fmt.Errorf("evaluating %s: %w", e.ID, err)
			}
			actual[i] = res.Destination()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &CrossCheckResult{Checked: len(emails)}
	for i, e := range emails {
		if predicted[i] == actual[i] {
			out.Agreed++
			continue
		}
		out.Mismatches = append(out.Mismatches, Mismatch{Email: e, Matcher: predicted[i], Sieve: actual[i]})
	}
	if len(out.Mismatches) > 0 {
		logger.Warn("Sieve cross-check found disagreements", "filter", f.Name, "checked", out.Checked, "mismatches", len(out.Mismatches))
	} else {
		logger.Debug("Sieve cross-check agreed", "filter", f.Name, "checked", out.Checked)
	}
	return out, nil
}

// PredictDestinations runs the in-process matcher and reduces the matched
// actions of each email to a destination with the same meaning as
// Result.Destination: the first fileinto wins, discard and redirect
// without keep cancel delivery to INBOX.
func PredictDestinations(f *filter.SieveFilter, emails []*email.Email) []string {
	res := matcher.New().TestFilter(f, emails)

	byEmail := make(map[*email.Email][]filter.Action, len(res.MatchResults))
	for _, mr := range res.MatchResults {
		byEmail[mr.Email] = append(byEmail[mr.Email], mr.Actions...)
	}

	out := make([]string, len(emails))
	for i, e := range emails {
		out[i] = destination(byEmail[e])
	}
	return out
}

func destination(actions []filter.Action) string {
	var kept, discarded, redirected bool
	for _, a := range actions {
		switch a.Kind() {
		case filter.ActFileInto:
			return a.Param()
		case filter.ActKeep:
			kept = true
		case filter.ActDiscard:
			discarded = true
		case filter.ActRedirect:
			redirected = true
		case filter.ActStop, filter.ActSetFlag, filter.ActAddFlag:
		}
	}
	switch {
	case kept:
		return consts.DefaultFolder
	case redirected:
		return DestinationRedirected
	case discarded:
		return DestinationDiscarded
	}
	return consts.DefaultFolder
}
