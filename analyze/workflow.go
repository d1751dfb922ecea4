package analyze

import (
	"context"
	"fmt"
	"time"

	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/corpus"
	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/lint"
	"github.com/migadu/sieveforge/logger"
	"github.com/migadu/sieveforge/storage"
)

// Source yields the mail a filter is derived from. *imapfetch.Fetcher is
// one; CorpusSource reads files.
type Source interface {
	Fetch(ctx context.Context) ([]*email.Email, error)
}

// CorpusSource reads messages from disk.
type CorpusSource struct {
	Paths   []string
	Options corpus.Options
}

func (s CorpusSource) Fetch(ctx context.Context) ([]*email.Email, error) {
	return corpus.Load(ctx, s.Paths, s.Options)
}

// Uploader installs a script on a server. *managesieve.Service is one.
type Uploader interface {
	Upload(ctx context.Context, name, script string, activate bool) error
}

// Options control what Run does with the filter after generating it.
type Options struct {
	// ScriptName is the name the script is saved and uploaded under.
	ScriptName string
	Activate   bool
	// AllowLintErrors lets a filter with lint errors be saved and uploaded.
	AllowLintErrors bool
}

// Report is everything one Run produced. Fields are filled step by step,
// so a failed Run still returns the steps that completed.
type Report struct {
	Emails    int               `json:"emails"`
	Detection *Detection        `json:"detection,omitempty"`
	Generated *Generated        `json:"generated,omitempty"`
	DryRun    *DryRun           `json:"dry_run,omitempty"`
	Stored    *storage.Metadata `json:"stored,omitempty"`
	Uploaded  bool              `json:"uploaded"`
	Duration  time.Duration     `json:"duration"`
}

// Workflow runs the whole analysis. Repository and Uploader are optional.
type Workflow struct {
	Pipeline   *Pipeline
	Source     Source
	Repository storage.Repository
	Uploader   Uploader
	Options    Options
}

// Run fetches mail, derives categories from it, generates and checks a
// filter, dry-runs it on the same mail, then saves and uploads it. A filter
// with lint errors stops before saving unless AllowLintErrors is set; the
// error wraps consts.ErrInvalidFilter.
func (w *Workflow) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	rep := &Report{}
	defer func() { rep.Duration = time.Since(start) }()

	emails, err := w.Source.Fetch(ctx)
	if err != nil {
		return rep, fmt.Errorf("fetching mail: %w", err)
	}
	rep.Emails = len(emails)
	if len(emails) == 0 {
		return rep, fmt.Errorf("%w: no emails to analyze", consts.ErrInvalidInput)
	}

	rep.Detection = w.Pipeline.Detect(emails)
	logger.Info("Detected patterns", "emails", len(emails), "patterns", len(rep.Detection.Patterns), "categories", len(rep.Detection.Categories))
	if len(rep.Detection.Categories) == 0 {
		return rep, fmt.Errorf("%w: no recurring patterns in %d emails", consts.ErrEmptyResult, len(emails))
	}

	gen, err := w.Pipeline.Generate("analyze", rep.Detection.Categories)
	if err != nil {
		return rep, err
	}
	rep.Generated = gen

	rep.DryRun, err = w.Pipeline.DryRun(ctx, gen.Filter, emails)
	if err != nil {
		return rep, fmt.Errorf("dry run: %w", err)
	}

	if gen.HasErrors() && !w.Options.AllowLintErrors {
		return rep, fmt.Errorf("%w: %d lint errors", consts.ErrInvalidFilter, gen.Counts[lint.SeverityError])
	}

	name := w.Options.ScriptName
	if w.Repository != nil {
		md, err := w.Repository.Save(ctx, name, gen.Script)
		if err != nil {
			return rep, fmt.Errorf("saving script: %w", err)
		}
		rep.Stored = &md
	}
	if w.Uploader != nil {
		if err := w.Uploader.Upload(ctx, name, gen.Script, w.Options.Activate); err != nil {
			return rep, fmt.Errorf("uploading script: %w", err)
		}
		rep.Uploaded = true
	}

	logger.Info("Analysis complete",
		"emails", rep.Emails,
		"rules", len(gen.Filter.Rules),
		"matched", rep.DryRun.Test.MatchedEmails,
		"mismatches", len(rep.DryRun.CrossCheck.Mismatches),
		"stored", rep.Stored != nil,
		"uploaded", rep.Uploaded)
	return rep, nil
}
