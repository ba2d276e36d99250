package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/buckleypaul/sdkrun/internal/harness"
	"github.com/buckleypaul/sdkrun/internal/logcheck"
)

// DefaultRunTarget is the backend used when run_config names none.
const DefaultRunTarget = "hardware"

// AppConfig is the part of a run configuration that can be overridden per
// application.
type AppConfig struct {
	// MergeGlobal merges this block over the global one. When false the
	// block replaces it. Absent means true.
	MergeGlobal  *bool                  `json:"merge_global,omitempty"`
	BuildConfig  Options                `json:"build_config,omitempty"`
	BuildConfigs map[string]Options     `json:"build_configs,omitempty"`
	BuildTarget  string                 `json:"build_target,omitempty"`
	Parallel     string                 `json:"parallel,omitempty"`
	RunConfig    map[string]interface{} `json:"run_config,omitempty"`
	Checks       *logcheck.Checks       `json:"checks,omitempty"`
	CopyObjects  *bool                  `json:"copy_objects,omitempty"`
}

// Options are make variables. Scalars of any type are accepted and kept
// in their text form.
type Options map[string]string

func (o *Options) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Options, len(raw))
	for k, v := range raw {
		out[k] = stringValue(v, "")
	}
	*o = out
	return nil
}

// RunConfig is a run configuration file.
type RunConfig struct {
	AppConfig
	AppDirs         []string                       `json:"appdirs"`
	AppDirsIgnore   []string                       `json:"appdirs_ignore,omitempty"`
	Apps            map[string]AppConfig           `json:"appconfig,omitempty"`
	Expected        map[string]harness.Expectation `json:"expected,omitempty"`
	GlobalVariables map[string]interface{}         `json:"global_variables,omitempty"`
}

// LoadRunConfig reads a JSON or YAML run configuration.
func LoadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRunConfig(data)
}

// ParseRunConfig parses a JSON or YAML run configuration.
func ParseRunConfig(data []byte) (*RunConfig, error) {
	var rc RunConfig
	if err := yaml.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("parse run config: %w", err)
	}
	if len(rc.AppDirs) == 0 {
		return nil, fmt.Errorf("parse run config: no appdirs specified")
	}
	return &rc, nil
}

// Overrides are command line values applied over a run configuration.
type Overrides struct {
	SerialPort  string
	BaudRate    int
	MakeOptions string // space separated KEY=VALUE pairs
	RunTarget   string
	Timeout     time.Duration
	Parallel    string
	BuildTarget string
}

// Apply merges o into the global section of rc.
func (rc *RunConfig) Apply(o Overrides) {
	if o.SerialPort != "" || o.BaudRate > 0 {
		hw := map[string]interface{}{}
		if o.SerialPort != "" {
			hw["serport"] = o.SerialPort
		}
		if o.BaudRate > 0 {
			hw["baudrate"] = o.BaudRate
		}
		rc.RunConfig = MergeMaps(rc.RunConfig, map[string]interface{}{DefaultRunTarget: hw})
	}
	if o.RunTarget != "" {
		rc.RunConfig = MergeMaps(rc.RunConfig, map[string]interface{}{"target": o.RunTarget})
	}
	if o.Timeout > 0 {
		target := stringValue(rc.RunConfig["target"], DefaultRunTarget)
		rc.RunConfig = MergeMaps(rc.RunConfig, map[string]interface{}{
			target: map[string]interface{}{"timeout": int(o.Timeout / time.Second)},
		})
	}
	if opts := ParseMakeOptions(o.MakeOptions); len(opts) > 0 {
		if rc.BuildConfig == nil {
			rc.BuildConfig = Options{}
		}
		for k, v := range opts {
			rc.BuildConfig[k] = v
		}
	}
	if o.Parallel != "" {
		rc.Parallel = o.Parallel
	}
	if o.BuildTarget != "" {
		rc.BuildTarget = o.BuildTarget
	}
}

// ParseMakeOptions parses "K1=V1 K2=V2". Tokens without exactly one '='
// are ignored.
func ParseMakeOptions(s string) map[string]string {
	out := map[string]string{}
	for _, tok := range strings.Fields(s) {
		parts := strings.Split(tok, "=")
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

// FindAppConfig returns the appconfig key applying to appDir: an exact
// match, or else the longest key naming appDir or one of its ancestors by
// whole trailing path components, so relative keys match absolute
// application paths. It returns "" when none applies.
func FindAppConfig(appDir string, keys []string) string {
	appDir = strings.ReplaceAll(appDir, "\\", "/")
	found := ""
	for _, key := range keys {
		if key == appDir {
			return key
		}
		k := strings.Trim(strings.ReplaceAll(key, "\\", "/"), "/")
		if k == "" {
			continue
		}
		match := appDir == k ||
			strings.HasSuffix(appDir, "/"+k) ||
			strings.HasPrefix(appDir, k+"/") ||
			strings.Contains(appDir, "/"+k+"/")
		if match && len(key) > len(found) {
			found = key
		}
	}
	return found
}

// resolve returns the effective configuration of appDir.
func (rc *RunConfig) resolve(appDir string) AppConfig {
	eff := AppConfig{
		BuildConfig:  copyStrings(rc.BuildConfig),
		BuildConfigs: copyConfigs(rc.BuildConfigs),
		BuildTarget:  rc.BuildTarget,
		Parallel:     rc.Parallel,
		RunConfig:    CopyMap(rc.RunConfig),
		Checks:       rc.Checks,
		CopyObjects:  rc.CopyObjects,
	}
	keys := make([]string, 0, len(rc.Apps))
	for k := range rc.Apps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := FindAppConfig(appDir, keys)
	if key == "" {
		return eff
	}

	app := rc.Apps[key]
	if app.MergeGlobal != nil && !*app.MergeGlobal {
		app.BuildConfig = copyStrings(app.BuildConfig)
		app.BuildConfigs = copyConfigs(app.BuildConfigs)
		app.RunConfig = CopyMap(app.RunConfig)
		return app
	}

	for k, v := range app.BuildConfig {
		eff.BuildConfig[k] = v
	}
	for name, cfg := range app.BuildConfigs {
		eff.BuildConfigs[name] = copyStrings(cfg)
	}
	if app.BuildTarget != "" {
		eff.BuildTarget = app.BuildTarget
	}
	if app.Parallel != "" {
		eff.Parallel = app.Parallel
	}
	eff.RunConfig = MergeMaps(eff.RunConfig, app.RunConfig)
	eff.Checks = mergeChecks(eff.Checks, app.Checks)
	if app.CopyObjects != nil {
		eff.CopyObjects = app.CopyObjects
	}
	return eff
}

func copyConfigs(m map[string]Options) map[string]Options {
	out := make(map[string]Options, len(m))
	for k, v := range m {
		out[k] = copyStrings(v)
	}
	return out
}

// mergeChecks replaces each marker list the override sets.
func mergeChecks(base, override *logcheck.Checks) *logcheck.Checks {
	if override == nil {
		return base
	}
	if base == nil {
		c := *override
		return &c
	}
	c := *base
	if override.Pass != nil {
		c.Pass = override.Pass
	}
	if override.Fail != nil {
		c.Fail = override.Fail
	}
	return &c
}

func stringValue(v interface{}, def string) string {
	switch t := v.(type) {
	case nil:
		return def
	case string:
		if t == "" {
			return def
		}
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func intValue(v interface{}, def int) (int, error) {
	switch t := v.(type) {
	case nil:
		return def, nil
	case float64:
		return int(t), nil
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case string:
		if t == "" {
			return def, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def, fmt.Errorf("invalid number %q", t)
		}
		return n, nil
	}
	return def, fmt.Errorf("invalid number %v", v)
}

func boolValue(v interface{}, def bool) (bool, error) {
	switch t := v.(type) {
	case nil:
		return def, nil
	case bool:
		return t, nil
	case string:
		return parseFlag(t), nil
	case float64:
		return t != 0, nil
	}
	return def, fmt.Errorf("invalid flag %v", v)
}

// parseFlag follows the environment convention: true, 1 and t are true,
// anything else false.
func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "t":
		return true
	}
	return false
}
