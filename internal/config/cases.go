package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/buckleypaul/sdkrun/internal/build"
	"github.com/buckleypaul/sdkrun/internal/harness"
	"github.com/buckleypaul/sdkrun/internal/isa"
	"github.com/buckleypaul/sdkrun/internal/logcheck"
)

// ExpandOptions controls how a run configuration becomes cases.
type ExpandOptions struct {
	LogDir     string // per case log directories are created below it
	BuildOnly  bool
	HangAction string
}

// Expand finds every application below the configured appdirs and returns
// one case per (application, named build configuration) pair, in
// directory order. Applications below appdirs_ignore are left out.
func Expand(rc *RunConfig, rctx RunContext, opts ExpandOptions) ([]harness.CaseSpec, error) {
	ignored := map[string]bool{}
	for _, root := range rc.AppDirsIgnore {
		apps, err := build.FindApps(root)
		if err != nil {
			return nil, fmt.Errorf("find ignored apps in %s: %w", root, err)
		}
		for _, app := range apps {
			ignored[app] = true
		}
	}

	var specs []harness.CaseSpec
	seen := map[string]bool{}
	for _, root := range rc.AppDirs {
		apps, err := build.FindApps(root)
		if err != nil {
			return nil, fmt.Errorf("find apps in %s: %w", root, err)
		}
		for _, app := range apps {
			if ignored[app] || seen[app] {
				continue
			}
			seen[app] = true
			appSpecs, err := rc.expandApp(root, app, rctx, opts)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", app, err)
			}
			specs = append(specs, appSpecs...)
		}
	}
	return specs, nil
}

func (rc *RunConfig) expandApp(root, app string, rctx RunContext, opts ExpandOptions) ([]harness.CaseSpec, error) {
	eff := rc.resolve(app)

	target := stringValue(eff.RunConfig["target"], DefaultRunTarget)
	backendCfg, _ := eff.RunConfig[target].(map[string]interface{})
	timeout, err := intValue(backendCfg["timeout"], 0)
	if err != nil {
		return nil, fmt.Errorf("%s timeout: %w", target, err)
	}
	baud, err := intValue(backendCfg["baudrate"], 0)
	if err != nil {
		return nil, fmt.Errorf("%s baudrate: %w", target, err)
	}
	backendOpts := make(map[string]string, len(backendCfg))
	for k, v := range backendCfg {
		if _, nested := v.(map[string]interface{}); nested {
			continue
		}
		backendOpts[k] = stringValue(v, "")
	}

	checks := logcheck.DefaultChecks()
	if eff.Checks != nil {
		checks = *eff.Checks
	}
	runTimeout := time.Duration(timeout) * time.Second
	if rctx.RunTimeout > 0 {
		runTimeout = rctx.RunTimeout
	}
	goal := ""
	if opts.BuildOnly {
		goal = eff.BuildTarget
	}

	names := make([]string, 0, len(eff.BuildConfigs))
	for name := range eff.BuildConfigs {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		names = []string{""}
	}

	specs := make([]harness.CaseSpec, 0, len(names))
	for _, name := range names {
		options := copyStrings(eff.BuildConfig)
		for k, v := range eff.BuildConfigs[name] {
			options[k] = v
		}
		id := app
		if name != "" {
			id = app + ":" + name
		}
		spec := harness.CaseSpec{
			ID:             id,
			App:            app,
			Config:         name,
			BuildOptions:   options,
			BuildGoal:      goal,
			Parallel:       eff.Parallel,
			BuildOnly:      opts.BuildOnly,
			Backend:        target,
			BackendOptions: backendOpts,
			Checks:         checks,
			RunTimeout:     runTimeout,
			BannerTimeout:  rctx.BannerTimeout,
			BannerCheck:    rctx.BannerCheck,
			BannerTag:      rctx.BannerTag,
			Retry:          rctx.Retry,
			SerialPort:     backendOpts["serport"],
			BaudRate:       baud,
			ProbeSerial:    backendOpts["ftdi_serial"],
			HangAction:     opts.HangAction,
			FPGABitstream:  backendOpts["fpgabit"],
			FPGASerial:     backendOpts["fpgaserial"],
			CopyObjects:    rctx.CopyObjects || (eff.CopyObjects != nil && *eff.CopyObjects),
		}
		if opts.LogDir != "" {
			spec.LogDir = filepath.Join(opts.LogDir, caseLogDir(root, app), name)
		}
		if exp, ok := rc.expected(id, app); ok {
			spec.Expected = &exp
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// expected looks up the expectation of a case by id, then by application
// using the appconfig matching rules.
func (rc *RunConfig) expected(id, app string) (harness.Expectation, bool) {
	if exp, ok := rc.Expected[id]; ok {
		return exp, true
	}
	keys := make([]string, 0, len(rc.Expected))
	for k := range rc.Expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if key := FindAppConfig(app, keys); key != "" {
		return rc.Expected[key], true
	}
	return harness.Expectation{}, false
}

// caseLogDir mirrors the application path below its root directory.
func caseLogDir(root, app string) string {
	base := filepath.Base(filepath.Clean(root))
	rel, err := filepath.Rel(root, app)
	if err != nil || rel == "." {
		return base
	}
	return filepath.Join(base, rel)
}

// InfoFunc resolves the configuration an application builds with, as
// printed by make info.
type InfoFunc func(spec harness.CaseSpec) (map[string]string, error)

// NewFilter returns the case filter implied by the supported arch and
// ignored extension settings, or nil when neither is set. The core to arch
// table is read from the SDK when a supported arch is given. Cases that
// leave CORE to the application makefile are resolved through info when
// it is not nil.
func NewFilter(rctx RunContext, sdkRoot string, info InfoFunc) (harness.Filter, error) {
	if rctx.SupportArch == "" && rctx.IgnoredExts == "" {
		return nil, nil
	}
	f := isa.Filter{SupportedArch: rctx.SupportArch, IgnoredExts: rctx.IgnoredExts}
	if f.SupportedArch != "" && sdkRoot != "" {
		archs, err := isa.ParseMakefileCore(sdkRoot)
		if err != nil {
			return nil, fmt.Errorf("read core table: %w", err)
		}
		f.CoreArchs = archs
	}
	return func(spec harness.CaseSpec) (bool, string) {
		return f.Skip(filterOptions(spec, info))
	}, nil
}

// filterOptions returns the build options a case is filtered on, with
// CORE and ARCH_EXT filled from make info when the case does not set CORE.
func filterOptions(spec harness.CaseSpec, info InfoFunc) map[string]string {
	if info == nil || spec.BuildOptions["CORE"] != "" {
		return spec.BuildOptions
	}
	resolved, err := info(spec)
	if err != nil {
		return spec.BuildOptions
	}
	opts := map[string]string{}
	for _, k := range []string{"CORE", "ARCH_EXT"} {
		if v := resolved[k]; v != "" {
			opts[k] = v
		}
	}
	for k, v := range spec.BuildOptions {
		opts[k] = v
	}
	return opts
}
