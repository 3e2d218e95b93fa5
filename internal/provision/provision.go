// Package provision assembles the provisioning stages for each entry point:
// a full install, the automation installer run in place, and the automation
// payload copied to another directory. Every run prints progress, can append
// to a run log and is recorded in the history database when one is open.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hzinstall/internal/bootstrap"
	"hzinstall/internal/chain"
	"hzinstall/internal/compose"
	"hzinstall/internal/config"
	"hzinstall/internal/failure"
	"hzinstall/internal/ghhook"
	"hzinstall/internal/history"
	"hzinstall/internal/monitorcfg"
	"hzinstall/internal/pipeline"
	"hzinstall/internal/reposync"
	"hzinstall/internal/security"
	"hzinstall/pkg/cmdutil"
	"hzinstall/pkg/templates"
)

// Stage names. They prefix stage errors, e.g. "syncing repository: ...".
const (
	StagePreflight = "checking prerequisites"
	StageSync      = "syncing repository"
	StageConfigure = "writing configuration"
	StageLaunch    = "starting containers"
	StageChain     = "running automation installer"
	StagePayload   = "installing automation payload"
	StageWebhook   = "registering webhook"
)

// ConfigFile is the generated or bootstrapped monitor configuration.
const ConfigFile = "config.yaml"

// Run is the context of one provisioning invocation.
type Run struct {
	Target    string
	Branch    string
	Compose   compose.Command
	EUID      int
	Trigger   string
	StartedAt time.Time
	Commit    string
	Result    pipeline.Result
}

// HookRegistrar makes sure the push webhook for repoURL points at hookURL.
type HookRegistrar func(ctx context.Context, repoURL, hookURL, secret string) (created bool, err error)

// Provisioner runs provisioning sequences for one configuration.
type Provisioner struct {
	Config *config.Config
	// Out receives progress lines and the streamed output of compose and the
	// installer. Webhook-triggered runs leave it alone and write their
	// progress to the run log instead.
	Out    io.Writer
	Logger *slog.Logger
	Runner cmdutil.Runner
	// History is optional.
	History *history.History
	// Trigger is recorded with each run; empty means history.TriggerCLI.
	Trigger string
	// Geteuid overrides os.Geteuid.
	Geteuid func() int
	// TempDir is the parent of transient payload directories.
	TempDir string
	// RegisterHook overrides the GitHub registration.
	RegisterHook HookRegistrar
	// Templates overrides monitorcfg.Templates().
	Templates *templates.Registry
}

// New creates a Provisioner writing progress to out.
func New(cfg *config.Config, out io.Writer, logger *slog.Logger) *Provisioner {
	return &Provisioner{Config: cfg, Out: out, Logger: logger}
}

func (p *Provisioner) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p.Logger
}

func (p *Provisioner) out() io.Writer {
	if p.Out == nil {
		return io.Discard
	}
	return p.Out
}

func (p *Provisioner) geteuid() int {
	if p.Geteuid != nil {
		return p.Geteuid()
	}
	return os.Geteuid()
}

// session carries the per-run collaborators shared by the stages.
type session struct {
	run      *Run
	out      io.Writer
	progress *Progress
	runner   cmdutil.Runner
	log      *RunLog

	// config.yaml as rendered during preflight
	rendered  []byte
	generated bool
}

func (p *Provisioner) syncer(s *session, depth int) *reposync.Syncer {
	return &reposync.Syncer{
		RepoURL:  p.Config.RepoURL,
		Branch:   p.Config.Branch,
		Strategy: p.Config.Strategy(),
		Depth:    depth,
		Runner:   s.runner,
	}
}

func (p *Provisioner) chainer(s *session) *chain.Chainer {
	return &chain.Chainer{
		Runner:  s.runner,
		Output:  s.out,
		TempDir: p.TempDir,
		Geteuid: func() int { return s.run.EUID },
	}
}

func (p *Provisioner) launcher(s *session) *compose.Launcher {
	return &compose.Launcher{Runner: s.runner, Output: s.out}
}

// Install syncs dir, writes its configuration, starts the containers and,
// when configured, chains into the automation installer and registers the webhook.
func (p *Provisioner) Install(ctx context.Context, dir string) (*Run, error) {
	cfg := p.Config
	registerHook := cfg.GitHubToken != "" && cfg.WebhookURL != ""

	return p.execute(ctx, "Installation", dir, func(s *session) []pipeline.Stage {
		stages := []pipeline.Stage{
			{Name: StagePreflight, Fn: func(ctx context.Context) error {
				if err := p.checkTarget(dir); err != nil {
					return err
				}
				content, generated, err := p.Render()
				if err != nil {
					return err
				}
				s.rendered, s.generated = content, generated
				cmd, err := p.launcher(s).Detect(ctx)
				if err != nil {
					return err
				}
				s.run.Compose = cmd
				if cfg.WithAutomation {
					if err := p.chainer(s).CheckPrivilege(); err != nil {
						return err
					}
				}
				if registerHook {
					return p.checkWebhook(dir)
				}
				return nil
			}},
			{Name: StageSync, Fn: func(ctx context.Context) error {
				return p.sync(ctx, s, dir)
			}},
			{Name: StageConfigure, Fn: func(ctx context.Context) error {
				return p.writeConfig(dir, s.progress, s.rendered, s.generated)
			}},
			{Name: StageLaunch, Fn: func(ctx context.Context) error {
				return p.launcher(s).Up(ctx, s.run.Compose, dir)
			}},
		}

		if cfg.WithAutomation {
			stages = append(stages, pipeline.Stage{Name: StageChain, Fn: func(ctx context.Context) error {
				return p.chainer(s).RunInPlace(ctx, dir)
			}})
		}
		if registerHook {
			stages = append(stages, pipeline.Stage{Name: StageWebhook, Fn: func(ctx context.Context) error {
				return p.registerWebhook(ctx, s, dir)
			}})
		}
		return stages
	})
}

// Automation syncs dir and runs the automation installer inside it.
func (p *Provisioner) Automation(ctx context.Context, dir string) (*Run, error) {
	return p.execute(ctx, "Automation install", dir, func(s *session) []pipeline.Stage {
		return []pipeline.Stage{
			{Name: StagePreflight, Fn: func(ctx context.Context) error {
				if err := p.chainer(s).CheckPrivilege(); err != nil {
					return err
				}
				return p.checkTarget(dir)
			}},
			{Name: StageSync, Fn: func(ctx context.Context) error {
				return p.sync(ctx, s, dir)
			}},
			{Name: StageChain, Fn: func(ctx context.Context) error {
				return p.chainer(s).RunInPlace(ctx, dir)
			}},
		}
	})
}

// AutomationTo performs a shallow sync into a transient directory, copies the
// automation payload into target and runs the installer there.
func (p *Provisioner) AutomationTo(ctx context.Context, target string) (*Run, error) {
	return p.execute(ctx, "Automation install", target, func(s *session) []pipeline.Stage {
		return []pipeline.Stage{
			{Name: StagePreflight, Fn: func(ctx context.Context) error {
				if err := p.chainer(s).CheckPrivilege(); err != nil {
					return err
				}
				if _, err := security.SanitizePath(target); err != nil {
					return failure.Precondition("checking target", err)
				}
				if !cmdutil.LookPath("git") {
					return failure.Precondition("checking tools", errors.New("git is not installed"))
				}
				if p.Config.RepoURL == "" {
					return failure.Precondition("checking repository", errors.New("REPO_URL is required to stage the automation payload"))
				}
				return nil
			}},
			{Name: StagePayload, Fn: func(ctx context.Context) error {
				stage := func(ctx context.Context, dir string) error {
					_, err := p.syncer(s, 1).Sync(ctx, dir)
					return err
				}
				return p.chainer(s).RunFromPayload(ctx, stage, target)
			}},
		}
	})
}

// Render builds the document Install would write without touching the disk.
// It reports false when no document would be generated.
func (p *Provisioner) Render() ([]byte, bool, error) {
	doc, ok, err := monitorcfg.Generate(p.Config.Monitor, monitorcfg.Options{Duplicates: p.Config.Duplicates()})
	if err != nil || !ok {
		return nil, ok, err
	}
	content, err := monitorcfg.RenderWith(p.templates(), doc)
	if err != nil {
		return nil, true, err
	}
	return content, true, nil
}

func (p *Provisioner) templates() *templates.Registry {
	if p.Templates != nil {
		return p.Templates
	}
	return monitorcfg.Templates()
}

// writeConfig writes content as config.yaml when generated is set, then
// creates every still missing file from its packaged example.
func (p *Provisioner) writeConfig(dir string, progress *Progress, content []byte, generated bool) error {
	target := filepath.Join(dir, ConfigFile)

	if generated {
		backupPath, err := monitorcfg.WriteFile(target, content, p.Config.Backup)
		if err != nil {
			return err
		}
		if backupPath != "" {
			progress.Success("Backed up previous " + ConfigFile + " to " + filepath.Base(backupPath))
		}
		progress.Success("Generated " + ConfigFile + " from environment")
	} else {
		p.logger().Info("HETZNER_API_TOKEN not set; using the packaged example configuration")
	}

	results, err := bootstrap.Ensure(dir, bootstrap.DefaultPairs)
	if err != nil {
		return err
	}
	for _, r := range results {
		switch {
		case r.Action == bootstrap.Created:
			progress.Success(fmt.Sprintf("Created %s from %s", r.Pair.Target, r.Pair.Example))
		case generated && r.Pair.Target == ConfigFile:
			// written above
		default:
			progress.Skip(r.Pair.Target + " already present")
		}
	}

	if err := security.ValidateSecurePermissions(target); err != nil {
		progress.Warn(ConfigFile + " is accessible by other users; consider chmod 640")
		p.logger().Warn("Insecure config permissions", "error", err)
	}
	return nil
}

// checkTarget rejects directories that sync would refuse, before anything is mutated.
func (p *Provisioner) checkTarget(dir string) error {
	if !cmdutil.LookPath("git") {
		return failure.Precondition("checking tools", errors.New("git is not installed"))
	}

	state, err := reposync.Detect(dir)
	if err != nil {
		return failure.StateConflict("inspecting "+dir, err)
	}
	switch state {
	case reposync.StatePlain:
		return failure.StateConflict("inspecting "+dir,
			fmt.Errorf("%s exists and is not a git repository; move it aside or choose another directory", dir))
	case reposync.StateAbsent:
		if p.Config.RepoURL == "" {
			return failure.Precondition("checking repository", errors.New("REPO_URL is required to clone into an empty directory"))
		}
	}
	return nil
}

func (p *Provisioner) sync(ctx context.Context, s *session, dir string) error {
	state, err := p.syncer(s, 1).Sync(ctx, dir)
	if err != nil {
		return err
	}
	if state == reposync.StateRepository {
		p.logger().Info("Updated existing checkout", "dir", dir, "branch", p.Config.Branch, "strategy", p.Config.Strategy())
	} else {
		p.logger().Info("Cloned repository", "dir", dir, "branch", p.Config.Branch)
	}
	return nil
}

// repoURL is the configured URL, else the origin of the existing checkout.
func (p *Provisioner) repoURL(dir string) (string, error) {
	if p.Config.RepoURL != "" {
		return p.Config.RepoURL, nil
	}
	return reposync.OriginURL(dir)
}

func (p *Provisioner) checkWebhook(dir string) error {
	if err := security.ValidateSecret(p.Config.WebhookSecret); err != nil {
		return failure.Precondition("checking webhook secret", err)
	}
	if p.RegisterHook != nil {
		return nil
	}
	repoURL, err := p.repoURL(dir)
	if err != nil {
		return failure.Precondition("checking webhook repository", err)
	}
	if _, _, err := ghhook.ParseRepo(repoURL); err != nil {
		return failure.Precondition("checking webhook repository", err)
	}
	return nil
}

func (p *Provisioner) registerWebhook(ctx context.Context, s *session, dir string) error {
	repoURL, err := p.repoURL(dir)
	if err != nil {
		return failure.ExternalOperation("reading origin URL", err)
	}

	register := p.RegisterHook
	if register == nil {
		register = p.githubRegistrar()
	}

	created, err := register(ctx, repoURL, p.Config.WebhookURL, p.Config.WebhookSecret)
	if err != nil {
		return failure.ExternalOperation("registering webhook", err)
	}
	if created {
		s.progress.Success("Created GitHub webhook for " + p.Config.WebhookURL)
	} else {
		s.progress.Skip("GitHub webhook already exists")
	}
	return nil
}

func (p *Provisioner) githubRegistrar() HookRegistrar {
	return func(ctx context.Context, repoURL, hookURL, secret string) (bool, error) {
		owner, repo, err := ghhook.ParseRepo(repoURL)
		if err != nil {
			return false, err
		}
		client := ghhook.NewClient(ctx, p.Config.GitHubToken)
		return ghhook.Ensure(ctx, client, owner, repo, hookURL, secret)
	}
}

// execute runs the stages build returns and handles the run log, progress
// and history around them.
func (p *Provisioner) execute(ctx context.Context, what, dir string, build func(s *session) []pipeline.Stage) (*Run, error) {
	trigger := p.Trigger
	if trigger == "" {
		trigger = history.TriggerCLI
	}

	s := &session{
		run: &Run{
			Target:    dir,
			Branch:    p.Config.Branch,
			EUID:      p.geteuid(),
			Trigger:   trigger,
			StartedAt: time.Now(),
		},
		out:    p.out(),
		runner: p.Runner,
	}
	if s.runner == nil {
		s.runner = cmdutil.Default
	}

	if p.Config.LogFile != "" {
		runLog, err := OpenRunLog(p.Config.LogFile, p.Config.Secrets())
		if err != nil {
			return s.run, err
		}
		defer runLog.Close()
		s.log = runLog
		s.runner = runLog.Runner(s.runner)
	}

	// A webhook run shares the server's stdout with its JSON log stream.
	// Command output is still captured by the run log runner.
	progressOut := s.out
	if trigger == history.TriggerWebhook {
		s.out = io.Discard
		progressOut = io.Discard
		if s.log != nil {
			progressOut = s.log
		}
	}
	s.progress = NewProgress(progressOut)

	s.log.Begin(what)
	p.logger().Debug("Provisioning started", "what", what, "dir", dir, "branch", p.Config.Branch, "euid", s.run.EUID)

	result, err := pipeline.Run(ctx, build(s), pipeline.Observer{
		Start: func(name string) {
			s.log.Stage(name)
			p.logger().Debug("Stage started", "stage", name)
		},
		Finish: func(name string, elapsed time.Duration, err error) {
			if err != nil {
				s.progress.Fail(title(name) + "...")
				return
			}
			s.progress.Success(title(name) + "...")
			p.logger().Debug("Stage finished", "stage", name, "elapsed", elapsed)
		},
	})
	s.run.Result = result
	s.log.End(what, err)

	if state, derr := reposync.Detect(dir); derr == nil && state == reposync.StateRepository {
		if head, herr := reposync.Head(dir); herr == nil {
			s.run.Commit = head
		}
	}

	p.record(ctx, s.run, err)
	return s.run, err
}

func (p *Provisioner) record(ctx context.Context, run *Run, runErr error) {
	if p.History == nil {
		return
	}

	duration := time.Since(run.StartedAt).Seconds()
	completed := time.Now()
	rec := &history.RunRecord{
		Target:          run.Target,
		Branch:          run.Branch,
		Trigger:         run.Trigger,
		Status:          history.StatusSuccess,
		StartedAt:       run.StartedAt,
		CompletedAt:     &completed,
		DurationSeconds: &duration,
	}
	if run.Commit != "" {
		commit := run.Commit
		rec.CommitHash = &commit
	}
	if runErr != nil {
		rec.Status = history.StatusFailed
		msg := string(cmdutil.SanitizeOutput([]byte(runErr.Error()), p.Config.Secrets()))
		rec.ErrorMessage = &msg
		if run.Result.Failed != "" {
			stage := run.Result.Failed
			rec.FailedStage = &stage
		}
	}

	// History must not fail a run that already happened.
	if _, err := p.History.Record(context.WithoutCancel(ctx), rec); err != nil {
		p.logger().Warn("Failed to record run", "error", err)
	}
}

// PrintSummary prints where everything ended up after a successful install.
func (p *Provisioner) PrintSummary(run *Run) {
	progress := NewProgress(p.out())
	cfg := p.Config

	progress.Banner("Installation complete")
	progress.Field("Directory", run.Target)
	progress.Field("Branch", run.Branch)
	if run.Commit != "" {
		progress.Field("Commit", shortHash(run.Commit))
	}
	if run.Compose != nil {
		progress.Field("Compose", run.Compose.String())
	}
	progress.Field("Config", filepath.Join(run.Target, ConfigFile))
	if cfg.LogFile != "" {
		progress.Field("Log", cfg.LogFile)
	}
	if p.History != nil {
		progress.Field("History", cfg.DBPath)
	}
	progress.Println()
	progress.Println("Next steps:")
	if run.Compose != nil {
		progress.Println(fmt.Sprintf("  Containers: cd %s && %s ps", run.Target, run.Compose))
		progress.Println(fmt.Sprintf("  Logs:       cd %s && %s logs -f", run.Target, run.Compose))
	}
	progress.Println("  Re-run:     hzinstall install " + run.Target)
	progress.Println()
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
