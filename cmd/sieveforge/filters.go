package main

// filters.go - generate, validate, test and detect

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/migadu/sieveforge/analyze"
	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/corpus"
	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/filter"
	"github.com/migadu/sieveforge/generator"
	"github.com/migadu/sieveforge/imapfetch"
	"github.com/migadu/sieveforge/lint"
	"github.com/migadu/sieveforge/storage"
	"gopkg.in/yaml.v3"
)

func runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to TOML configuration file")
	categories := fs.String("categories", "", "Categories document, JSON or YAML; - for stdin (required)")
	output := fs.String("output", "", "Write the script to this file instead of stdout")
	save := fs.String("save", "", "Also save the script to the repository under this name")
	allowErrors := fs.Bool("allow-errors", false, "Save and exit 0 even when lint finds errors")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Generate a Sieve script from a categories document

Usage:
  sieveforge generate --categories FILE [options]

Options:
  --categories string  Categories document, JSON or YAML; - for stdin (required)
  --output string      Write the script to this file instead of stdout
  --save string        Also save the script to the repository under this name
  --allow-errors       Save and exit 0 even when lint finds errors
  --config string      Path to TOML configuration file (default: %s)

Examples:
  sieveforge generate --categories categories.yaml > filters.sieve
  sieveforge generate --categories categories.json --save main
`, defaultConfigPath)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *categories == "" {
		return usage(fs, "--categories is required")
	}

	env, err := setup(fs, *configPath)
	if err != nil {
		return err
	}
	defer env.close()

	data, err := readInput(*categories)
	if err != nil {
		return err
	}
	pipeline := analyze.NewPipeline(env.cfg)
	gen, err := pipeline.GenerateFromDocument("cli", data)
	if err != nil {
		return err
	}

	printSkipped(gen.Skipped)
	if err := writeOutput(*output, gen.Script); err != nil {
		return err
	}
	fmt.Fprintln(stderr, lint.FormatIssuesReport(gen.Issues))

	if gen.HasErrors() && !*allowErrors {
		return fmt.Errorf("%w: %d lint errors", consts.ErrInvalidFilter, gen.Counts[lint.SeverityError])
	}
	if *save != "" {
		repo, err := storage.New(env.cfg.Storage, env.backoff)
		if err != nil {
			return err
		}
		md, err := repo.Save(ctx, *save, gen.Script)
		if err != nil {
			return err
		}
		fmt.Fprintf(stderr, "Saved script %s (%s)\n", md.Name, md.Digest)
	}
	return nil
}

func printSkipped(skipped []generator.Skip) {
	for _, s := range skipped {
		fmt.Fprintf(stderr, "Skipped: %s\n", s)
	}
}

// isScriptFile tells Sieve scripts from categories documents by extension.
func isScriptFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == storage.ScriptExt || ext == ".siv"
}

func runValidate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to TOML configuration file")
	asScript := fs.Bool("script", false, "Treat the input as a Sieve script regardless of its extension")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Lint a categories document or a Sieve script

Usage:
  sieveforge validate [options] FILE

A file ending in .sieve or .siv is checked as a script: go-sieve parses it
and the rules are linted. Anything else is read as a categories document,
turned into a filter and linted.

Options:
  --script         Treat the input as a Sieve script regardless of its extension
  --config string  Path to TOML configuration file (default: %s)
`, defaultConfigPath)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return usage(fs, "exactly one file is required")
	}
	path := fs.Arg(0)

	env, err := setup(fs, *configPath)
	if err != nil {
		return err
	}
	defer env.close()

	data, err := readInput(path)
	if err != nil {
		return err
	}
	pipeline := analyze.NewPipeline(env.cfg)

	var issues []lint.ValidationIssue
	if *asScript || isScriptFile(path) {
		issues, err = pipeline.LintScript(string(data))
		if err != nil {
			return err
		}
	} else {
		gen, err := pipeline.GenerateFromDocument("cli", data)
		if err != nil {
			return err
		}
		printSkipped(gen.Skipped)
		issues = gen.Issues
	}

	fmt.Fprintln(stdout, lint.FormatIssuesReport(issues))
	if lint.HasErrors(issues) {
		return fmt.Errorf("%w: %d lint errors", consts.ErrInvalidFilter, lint.Counts(issues)[lint.SeverityError])
	}
	return nil
}

// corpusFlags are shared by the commands that read mail from disk.
type corpusFlags struct {
	folder      *string
	maxEmails   *int
	concurrency *int
	strict      *bool
}

func addCorpusFlags(fs *flag.FlagSet) corpusFlags {
	return corpusFlags{
		folder:      fs.String("folder", "", "Folder to assign to every message (default: derived from the path)"),
		maxEmails:   fs.Int("max-emails", 0, "Read at most this many messages (0 for all)"),
		concurrency: fs.Int("concurrency", 0, "Parallel message parsers (default: number of CPUs)"),
		strict:      fs.Bool("strict", false, "Fail on the first message that does not parse"),
	}
}

func (c corpusFlags) options() corpus.Options {
	return corpus.Options{
		Folder:      *c.folder,
		MaxEmails:   *c.maxEmails,
		Concurrency: *c.concurrency,
		Strict:      *c.strict,
	}
}

func runTest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to TOML configuration file")
	scriptPath := fs.String("script", "", "Sieve script to test")
	categories := fs.String("categories", "", "Categories document to generate the filter from")
	stored := fs.String("stored", "", "Name of a script in the repository to test")
	cf := addCorpusFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Dry-run a filter against mail on disk

Usage:
  sieveforge test (--script FILE | --categories FILE | --stored NAME) [options] PATH...

PATH is an .eml file, a directory of .eml files or a Maildir. Nothing is
moved; the report shows what each rule would match, and every message is
also run through go-sieve to confirm both agree.

Options:
  --script string      Sieve script to test
  --categories string  Categories document to generate the filter from
  --stored string      Name of a script in the repository to test
  --folder string      Folder to assign to every message (default: derived from the path)
  --max-emails int     Read at most this many messages (0 for all)
  --concurrency int    Parallel message parsers (default: number of CPUs)
  --strict             Fail on the first message that does not parse
  --config string      Path to TOML configuration file (default: %s)
`, defaultConfigPath)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if countSet(*scriptPath, *categories, *stored) != 1 {
		return usage(fs, "exactly one of --script, --categories or --stored is required")
	}
	if fs.NArg() == 0 {
		return usage(fs, "at least one PATH is required")
	}

	env, err := setup(fs, *configPath)
	if err != nil {
		return err
	}
	defer env.close()

	pipeline := analyze.NewPipeline(env.cfg)
	f, err := loadFilter(ctx, env, pipeline, *scriptPath, *categories, *stored)
	if err != nil {
		return err
	}
	emails, err := corpus.Load(ctx, fs.Args(), cf.options())
	if err != nil {
		return err
	}
	if len(emails) == 0 {
		return fmt.Errorf("%w: no messages found", consts.ErrInvalidInput)
	}

	run, err := pipeline.DryRun(ctx, f, emails)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, run.Report)
	printCrossCheck(run)
	if n := len(run.CrossCheck.Mismatches); n > 0 {
		return fmt.Errorf("go-sieve disagreed with the dry run on %d messages", n)
	}
	return nil
}

func countSet(values ...string) int {
	n := 0
	for _, v := range values {
		if v != "" {
			n++
		}
	}
	return n
}

// loadFilter builds the filter under test from whichever source was given.
func loadFilter(ctx context.Context, env *environment, pipeline *analyze.Pipeline, scriptPath, categories, stored string) (*filter.SieveFilter, error) {
	switch {
	case categories != "":
		data, err := readInput(categories)
		if err != nil {
			return nil, err
		}
		gen, err := pipeline.GenerateFromDocument("cli", data)
		if err != nil {
			return nil, err
		}
		printSkipped(gen.Skipped)
		return gen.Filter, nil
	case stored != "":
		repo, err := storage.New(env.cfg.Storage, env.backoff)
		if err != nil {
			return nil, err
		}
		s, err := repo.Load(ctx, stored)
		if err != nil {
			return nil, err
		}
		return filter.ParseScript(s.Script)
	default:
		data, err := readInput(scriptPath)
		if err != nil {
			return nil, err
		}
		return filter.ParseScript(string(data))
	}
}

func printCrossCheck(run *analyze.DryRun) {
	cc := run.CrossCheck
	fmt.Fprintf(stdout, "\ngo-sieve cross-check: %d of %d messages agree\n", cc.Agreed, cc.Checked)
	for _, m := range cc.Mismatches {
		fmt.Fprintf(stdout, "  MISMATCH %s\n", m)
	}
}

func runDetect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to TOML configuration file")
	fromIMAP := fs.Bool("imap", false, "Read mail from the configured IMAP server instead of PATH")
	asJSON := fs.Bool("json", false, "Print the detection as JSON")
	categoriesOut := fs.String("categories-out", "", "Write the suggested categories as a YAML document to this file")
	cf := addCorpusFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Detect recurring senders, domains and subject keywords

Usage:
  sieveforge detect [options] PATH...
  sieveforge detect --imap [options]

The suggested categories written by --categories-out can be edited and fed
back into 'sieveforge generate'.

Options:
  --imap                   Read mail from the configured IMAP server instead of PATH
  --json                   Print the detection as JSON
  --categories-out string  Write the suggested categories as a YAML document to this file
  --folder string          Folder to assign to every message (default: derived from the path)
  --max-emails int         Read at most this many messages (0 for all)
  --concurrency int        Parallel message parsers (default: number of CPUs)
  --strict                 Fail on the first message that does not parse
  --config string          Path to TOML configuration file (default: %s)
`, defaultConfigPath)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fromIMAP == (fs.NArg() > 0) {
		return usage(fs, "give either --imap or at least one PATH")
	}

	env, err := setup(fs, *configPath)
	if err != nil {
		return err
	}
	defer env.close()

	var emails []*email.Email
	if *fromIMAP {
		fetcher, err := imapfetch.New(env.cfg.IMAP, env.backoff)
		if err != nil {
			return err
		}
		emails, err = fetcher.Fetch(ctx)
		if err != nil {
			return err
		}
	} else {
		emails, err = corpus.Load(ctx, fs.Args(), cf.options())
		if err != nil {
			return err
		}
	}

	det := analyze.NewPipeline(env.cfg).Detect(emails)
	if *categoriesOut != "" {
		if err := writeCategories(*categoriesOut, det.Categories); err != nil {
			return err
		}
	}
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(det)
	}
	printDetection(len(emails), det)
	return nil
}

// writeCategories writes a document generate accepts.
func writeCategories(path string, cats []generator.CategoryPattern) error {
	data, err := yaml.Marshal(map[string]any{"categories": cats})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func printDetection(total int, det *analyze.Detection) {
	fmt.Fprintf(stdout, "Analyzed %d emails\n\n", total)

	fmt.Fprintln(stdout, "Folders:")
	for _, fc := range det.Distribution {
		fmt.Fprintf(stdout, "  %-30s %6d\n", fc.Folder, fc.Count)
	}

	fmt.Fprintln(stdout, "\nPatterns:")
	if len(det.Patterns) == 0 {
		fmt.Fprintln(stdout, "  none")
	}
	for _, p := range det.Patterns {
		fmt.Fprintf(stdout, "  %-15s %-35s %5d  %.2f\n", p.Kind, p.Value, p.Frequency, p.Confidence)
	}

	fmt.Fprintln(stdout, "\nSuggested categories:")
	if len(det.Categories) == 0 {
		fmt.Fprintln(stdout, "  none")
	}
	for _, c := range det.Categories {
		fmt.Fprintf(stdout, "  %s -> %s (%s)\n", c.Name, c.Folder(), strings.Join(c.Patterns, ", "))
	}
}
