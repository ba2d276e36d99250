// Package build drives the SDK's make based build and collects the
// resulting artifacts and metadata.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/buckleypaul/sdkrun/internal/runner"
)

// makefileNames are the files marking a directory as an application.
var makefileNames = []string{"Makefile", "makefile", "GNUmakefile"}

// ErrNotApp is returned for a directory without a makefile.
var ErrNotApp = errors.New("not an application directory")

// IsApp reports whether dir contains a makefile.
func IsApp(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	for _, name := range makefileNames {
		if fi, err := os.Stat(filepath.Join(dir, name)); err == nil && !fi.IsDir() {
			return true
		}
	}
	return false
}

// FindApps walks root and returns every application directory below it,
// in lexical order.
func FindApps(root string) ([]string, error) {
	var apps []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && IsApp(path) {
			apps = append(apps, filepath.ToSlash(filepath.Clean(path)))
		}
		return nil
	})
	return apps, err
}

// Request describes one build.
type Request struct {
	AppDir   string
	Options  map[string]string // passed to make as KEY=VALUE
	Goal     string            // space separated make goals
	Parallel string            // e.g. "-j8"; empty builds serially
	LogFile  string
	Echo     io.Writer
	Timeout  time.Duration
}

// MakeOptions renders options as sorted KEY=VALUE arguments. Keys that
// contain spaces are skipped.
func MakeOptions(options map[string]string) []string {
	keys := make([]string, 0, len(options))
	for k := range options {
		if k == "" || strings.ContainsAny(k, " \t") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, k := range keys {
		args = append(args, k+"="+strings.TrimSpace(options[k]))
	}
	return args
}

// Make runs builds with GNU make.
type Make struct {
	Command   string   // defaults to "make"
	Env       []string // nil inherits the parent environment
	SizeTools []string // defaults to DefaultSizeTools
	Log       *logrus.Entry
}

func (m *Make) command() string {
	if m.Command == "" {
		return "make"
	}
	return m.Command
}

func (m *Make) logger() *logrus.Entry {
	if m.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return m.Log
}

func (m *Make) argv(req Request, parallel string, goals ...string) []string {
	argv := []string{m.command()}
	if parallel != "" {
		argv = append(argv, parallel)
	}
	argv = append(argv, "-C", req.AppDir)
	argv = append(argv, MakeOptions(req.Options)...)
	return append(argv, goals...)
}

// Build runs the requested goals and gathers build metadata, objects and
// size. The returned artifact is never nil.
func (m *Make) Build(ctx context.Context, req Request) *Artifact {
	log := m.logger().WithField("app", req.AppDir)
	art := &Artifact{
		AppDir:      req.AppDir,
		MakeOptions: MakeOptions(req.Options),
		Goal:        req.Goal,
		LogFile:     req.LogFile,
		Objects:     map[string]string{},
		Size:        UnknownSize(),
	}
	if !IsApp(req.AppDir) {
		art.Status = runner.StatusInvalid
		art.Err = ErrNotApp.Error()
		return art
	}

	if req.LogFile != "" {
		os.Remove(req.LogFile)
	}

	res := m.runGoals(ctx, req, log)
	art.Status = res.Status
	art.ExitCode = res.ExitCode
	art.Elapsed = res.Duration
	art.Passed = res.OK()
	if res.Err != nil {
		art.Err = res.Err.Error()
	}
	log.WithField("status", res.Status).Infof("Build finished in %s", res.Duration.Round(time.Millisecond))

	if res.Status == runner.StatusInterrupted {
		return art
	}

	if err := m.collectMetadata(ctx, req, art); err != nil {
		log.WithError(err).Warn("Unable to collect build metadata")
	}
	art.Objects = FindObjects(req.AppDir, art.Flags["TARGET"], time.Time{})
	art.Size = ELFSize(ctx, art.Objects[ObjectELF], m.SizeTools, m.Env)
	return art
}

// runGoals builds all goals in one make invocation, or one at a time in
// parallel mode so that ordered goals like "clean all" do not race.
func (m *Make) runGoals(ctx context.Context, req Request, log *logrus.Entry) runner.Result {
	goals := strings.Fields(req.Goal)
	parallel := strings.TrimSpace(req.Parallel)
	if !strings.HasPrefix(parallel, "-j") {
		parallel = ""
	}

	batches := [][]string{goals}
	if parallel != "" && len(goals) > 1 {
		batches = batches[:0]
		for _, g := range goals {
			batches = append(batches, []string{g})
		}
	}

	var total time.Duration
	var res runner.Result
	for _, batch := range batches {
		argv := m.argv(req, parallel, batch...)
		log.Debugf("Build command: %s", strings.Join(argv, " "))
		res = runner.Run(ctx, argv, runner.Options{
			Env:     m.Env,
			Timeout: req.Timeout,
			LogFile: req.LogFile,
			Append:  true,
			Echo:    req.Echo,
		})
		total += res.Duration
		if !res.OK() {
			break
		}
	}
	res.Duration = total
	return res
}

// query runs a metadata goal and returns its output.
func (m *Make) query(ctx context.Context, req Request, goal string) (string, error) {
	var out bytes.Buffer
	res := runner.Run(ctx, m.argv(req, "", goal), runner.Options{Env: m.Env, Echo: &out, Timeout: time.Minute})
	if !res.OK() {
		return "", fmt.Errorf("make %s: %s", goal, res.Status)
	}
	return out.String(), nil
}

// collectMetadata runs the info, showflags and showtoolver goals
// concurrently.
func (m *Make) collectMetadata(ctx context.Context, req Request, art *Artifact) error {
	var info, flags, toolver string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		info, err = m.query(gctx, req, "info")
		return err
	})
	g.Go(func() (err error) {
		flags, err = m.query(gctx, req, "showflags")
		return err
	})
	g.Go(func() (err error) {
		toolver, err = m.query(gctx, req, "showtoolver")
		return err
	})
	err := g.Wait()

	art.Info = ParseInfo(info)
	art.Flags = ParseFlags(flags)
	art.ToolVersions = ParseToolVersions(toolver)
	return err
}

// Info runs only the info goal, resolving the configuration the
// application would build with.
func (m *Make) Info(ctx context.Context, req Request) (map[string]string, error) {
	out, err := m.query(ctx, req, "info")
	if err != nil {
		return nil, err
	}
	return ParseInfo(out), nil
}
