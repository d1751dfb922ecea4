package main

// remote.go - analyze, upload and scripts

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/migadu/sieveforge/analyze"
	"github.com/migadu/sieveforge/imapfetch"
	"github.com/migadu/sieveforge/lint"
	"github.com/migadu/sieveforge/managesieve"
	"github.com/migadu/sieveforge/sieveengine"
	"github.com/migadu/sieveforge/storage"
)

func runAnalyze(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to TOML configuration file")
	name := fs.String("name", "", "Script name (default: managesieve.script_name)")
	upload := fs.Bool("upload", false, "Upload the script to the configured ManageSieve server")
	activate := fs.Bool("activate", false, "Activate the uploaded script (default: managesieve.activate)")
	noSave := fs.Bool("no-save", false, "Do not save the script to the repository")
	allowErrors := fs.Bool("allow-errors", false, "Save and upload even when lint finds errors")
	asJSON := fs.Bool("json", false, "Print the report as JSON")
	cf := addCorpusFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Fetch mail, derive a filter from it, dry-run, save and upload it

Usage:
  sieveforge analyze [options] [PATH...]

Without PATH, mail is fetched from the configured IMAP server.

Options:
  --name string        Script name (default: managesieve.script_name)
  --upload             Upload the script to the configured ManageSieve server
  --activate           Activate the uploaded script (default: managesieve.activate)
  --no-save            Do not save the script to the repository
  --allow-errors       Save and upload even when lint finds errors
  --json               Print the report as JSON
  --folder string      Folder to assign to every message read from PATH
  --max-emails int     Read at most this many messages from PATH (0 for all)
  --concurrency int    Parallel message parsers (default: number of CPUs)
  --strict             Fail on the first message that does not parse
  --config string      Path to TOML configuration file (default: %s)
`, defaultConfigPath)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := setup(fs, *configPath)
	if err != nil {
		return err
	}
	defer env.close()
	cfg := env.cfg

	wf := &analyze.Workflow{
		Pipeline: analyze.NewPipeline(cfg),
		Options: analyze.Options{
			ScriptName:      cfg.ManageSieve.ScriptName,
			Activate:        cfg.ManageSieve.Activate,
			AllowLintErrors: *allowErrors,
		},
	}
	if isFlagSet(fs, "name") {
		wf.Options.ScriptName = *name
	}
	if isFlagSet(fs, "activate") {
		wf.Options.Activate = *activate
	}

	if fs.NArg() > 0 {
		wf.Source = analyze.CorpusSource{Paths: fs.Args(), Options: cf.options()}
	} else {
		fetcher, err := imapfetch.New(cfg.IMAP, env.backoff)
		if err != nil {
			return fmt.Errorf("imap: %w", err)
		}
		wf.Source = fetcher
	}
	if !*noSave {
		if wf.Repository, err = storage.New(cfg.Storage, env.backoff); err != nil {
			return err
		}
	}
	if *upload {
		if wf.Uploader, err = managesieve.NewService(cfg.ManageSieve, env.backoff); err != nil {
			return fmt.Errorf("managesieve: %w", err)
		}
	}

	rep, runErr := wf.Run(ctx)
	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		printAnalysis(rep)
	}
	return runErr
}

func printAnalysis(rep *analyze.Report) {
	fmt.Fprintf(stdout, "Emails analyzed: %d\n", rep.Emails)
	if rep.Detection != nil {
		fmt.Fprintf(stdout, "Patterns: %d, categories: %d\n", len(rep.Detection.Patterns), len(rep.Detection.Categories))
	}
	if rep.Generated != nil {
		fmt.Fprintf(stdout, "Rules generated: %d\n\n", len(rep.Generated.Filter.Rules))
		fmt.Fprintln(stdout, lint.FormatIssuesReport(rep.Generated.Issues))
	}
	if rep.DryRun != nil {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, rep.DryRun.Report)
		printCrossCheck(rep.DryRun)
	}
	if rep.Stored != nil {
		fmt.Fprintf(stdout, "\nSaved script %s (%s)\n", rep.Stored.Name, rep.Stored.Digest)
	}
	if rep.Uploaded {
		fmt.Fprintln(stdout, "Uploaded script to ManageSieve server")
	}
	fmt.Fprintf(stdout, "Completed in %s\n", rep.Duration.Round(time.Millisecond))
}

func runUpload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to TOML configuration file")
	name := fs.String("name", "", "Script name on the server (default: managesieve.script_name)")
	stored := fs.String("stored", "", "Upload this script from the repository instead of FILE")
	activate := fs.Bool("activate", false, "Activate the script after uploading (default: managesieve.activate)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Upload a Sieve script to a ManageSieve server

Usage:
  sieveforge upload [options] FILE
  sieveforge upload --stored NAME [options]

The script is checked with go-sieve before it is sent.

Options:
  --name string    Script name on the server (default: managesieve.script_name)
  --stored string  Upload this script from the repository instead of FILE
  --activate       Activate the script after uploading (default: managesieve.activate)
  --config string  Path to TOML configuration file (default: %s)
`, defaultConfigPath)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*stored == "") == (fs.NArg() == 0) {
		return usage(fs, "give either FILE or --stored NAME")
	}

	env, err := setup(fs, *configPath)
	if err != nil {
		return err
	}
	defer env.close()
	cfg := env.cfg

	var script string
	if *stored != "" {
		repo, err := storage.New(cfg.Storage, env.backoff)
		if err != nil {
			return err
		}
		s, err := repo.Load(ctx, *stored)
		if err != nil {
			return err
		}
		script = s.Script
	} else {
		data, err := readInput(fs.Arg(0))
		if err != nil {
			return err
		}
		script = string(data)
	}
	if err := sieveengine.CheckScript(script, cfg.Generator.Extensions); err != nil {
		return err
	}

	scriptName := cfg.ManageSieve.ScriptName
	if isFlagSet(fs, "name") {
		scriptName = *name
	}
	active := cfg.ManageSieve.Activate
	if isFlagSet(fs, "activate") {
		active = *activate
	}

	svc, err := managesieve.NewService(cfg.ManageSieve, env.backoff)
	if err != nil {
		return err
	}
	if err := svc.Upload(ctx, scriptName, script, active); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Uploaded script %s (active: %t)\n", scriptName, active)
	return nil
}

func runScripts(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scripts", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to TOML configuration file")
	remote := fs.Bool("remote", false, "Work on the ManageSieve server instead of the repository")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `List, show, activate or delete scripts

Usage:
  sieveforge scripts [options] list
  sieveforge scripts [options] get NAME
  sieveforge scripts [options] delete NAME
  sieveforge scripts --remote activate NAME

Without --remote the commands work on the script repository.

Options:
  --remote         Work on the ManageSieve server instead of the repository
  --config string  Path to TOML configuration file (default: %s)
`, defaultConfigPath)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	action := "list"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}
	name := fs.Arg(1)
	switch action {
	case "list":
	case "get", "delete", "activate":
		if name == "" {
			return usage(fs, "%s needs a script NAME", action)
		}
		if action == "activate" && !*remote {
			return usage(fs, "activate needs --remote")
		}
	default:
		return usage(fs, "unknown action %q", action)
	}

	env, err := setup(fs, *configPath)
	if err != nil {
		return err
	}
	defer env.close()

	if *remote {
		svc, err := managesieve.NewService(env.cfg.ManageSieve, env.backoff)
		if err != nil {
			return err
		}
		return remoteScripts(ctx, svc, action, name)
	}
	repo, err := storage.New(env.cfg.Storage, env.backoff)
	if err != nil {
		return err
	}
	return localScripts(ctx, repo, action, name)
}

func remoteScripts(ctx context.Context, svc *managesieve.Service, action, name string) error {
	switch action {
	case "get":
		script, err := svc.Get(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, script)
	case "delete":
		if err := svc.Delete(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Deleted script %s\n", name)
	case "activate":
		if err := svc.Activate(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Activated script %s\n", name)
	default:
		scripts, err := svc.List(ctx)
		if err != nil {
			return err
		}
		if len(scripts) == 0 {
			fmt.Fprintln(stdout, "No scripts on server")
		}
		for _, s := range scripts {
			marker := " "
			if s.Active {
				marker = "*"
			}
			fmt.Fprintf(stdout, "%s %s\n", marker, s.Name)
		}
	}
	return nil
}

func localScripts(ctx context.Context, repo storage.Repository, action, name string) error {
	switch action {
	case "get":
		s, err := repo.Load(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprint(stdout, s.Script)
	case "delete":
		if err := repo.Delete(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Deleted script %s\n", name)
	default:
		scripts, err := repo.List(ctx)
		if err != nil {
			return err
		}
		if len(scripts) == 0 {
			fmt.Fprintln(stdout, "No stored scripts")
			return nil
		}
		fmt.Fprintf(stdout, "%-30s %-12s %8s  %s\n", "NAME", "DIGEST", "SIZE", "MODIFIED")
		fmt.Fprintln(stdout, strings.Repeat("-", 72))
		for _, md := range scripts {
			fmt.Fprintf(stdout, "%-30s %-12s %8d  %s\n", md.Name, shortDigest(md.Digest), md.Size, md.ModifiedAt.Format(time.RFC3339))
		}
	}
	return nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
