package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/buckleypaul/sdkrun/internal/harness"
	"github.com/buckleypaul/sdkrun/internal/logcheck"
)

// Defaults of the run wide settings.
const (
	DefaultBannerTimeout = 15 * time.Second
	DefaultCopyObjects   = "elf,map"
)

// RunContext holds the run wide settings. It is resolved once, from the
// defaults, the run configuration's global_variables and the environment,
// in that order of precedence from lowest to highest.
type RunContext struct {
	BannerTag          string
	BannerCheck        bool
	BannerTimeout      time.Duration
	RunTimeout         time.Duration // overrides every case timeout when set
	CopyObjects        bool
	CopyObjectKinds    []string
	CopyFailed         bool
	VerboseBuild       bool
	Ceilings           harness.Ceilings
	Retry              harness.RetryBudget
	FPGAProgramTimeout time.Duration
	SupportArch        string
	IgnoredExts        string
	CI                 harness.CIInfo
}

// LookupFunc looks up an environment variable.
type LookupFunc func(key string) (string, bool)

// DefaultRunContext returns the settings used when nothing overrides them.
func DefaultRunContext() RunContext {
	return RunContext{
		BannerTag:       logcheck.DefaultBannerTag,
		BannerCheck:     true,
		BannerTimeout:   DefaultBannerTimeout,
		CopyObjectKinds: splitKinds(DefaultCopyObjects),
		CopyFailed:      true,
		VerboseBuild:    true,
		Ceilings:        harness.DefaultCeilings(),
		Retry:           harness.DefaultRetryBudget(),
	}
}

// source yields a setting from the environment, falling back to the
// global variables of the run configuration.
type source struct {
	globals map[string]interface{}
	lookup  LookupFunc
}

func (s source) get(env, global string) (interface{}, bool) {
	if env != "" {
		if v, ok := s.lookup(env); ok {
			return v, true
		}
	}
	if global != "" {
		if v, ok := s.globals[global]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (s source) str(dst *string, env, global string) {
	if v, ok := s.get(env, global); ok {
		*dst = stringValue(v, *dst)
	}
}

func (s source) flag(dst *bool, env, global string) error {
	v, ok := s.get(env, global)
	if !ok {
		return nil
	}
	b, err := boolValue(v, *dst)
	if err != nil {
		return fmt.Errorf("%s: %w", firstNonEmpty(env, global), err)
	}
	*dst = b
	return nil
}

func (s source) num(dst *int, env, global string) error {
	v, ok := s.get(env, global)
	if !ok {
		return nil
	}
	n, err := intValue(v, *dst)
	if err != nil {
		return fmt.Errorf("%s: %w", firstNonEmpty(env, global), err)
	}
	*dst = n
	return nil
}

func (s source) seconds(dst *time.Duration, env, global string) error {
	n := int(*dst / time.Second)
	if err := s.num(&n, env, global); err != nil {
		return err
	}
	*dst = time.Duration(n) * time.Second
	return nil
}

// NewRunContext resolves the run wide settings. A nil lookup reads the
// process environment.
func NewRunContext(globals map[string]interface{}, lookup LookupFunc) (RunContext, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	src := source{globals: globals, lookup: lookup}
	rc := DefaultRunContext()

	src.str(&rc.BannerTag, "SDK_CHECKTAG", "sdk_checktag")

	kinds := strings.Join(rc.CopyObjectKinds, ",")
	src.str(&kinds, "SDK_COPY_OBJECTS", "sdk_copy_objects")
	rc.CopyObjectKinds = splitKinds(kinds)

	src.str(&rc.SupportArch, "SDK_SUPPORT_ARCH", "")
	src.str(&rc.IgnoredExts, "SDK_IGNORED_EXTS", "")
	src.str(&rc.CI.JobURL, "CI_JOB_URL", "")
	src.str(&rc.CI.PipelineURL, "CI_PIPELINE_URL", "")

	errs := []error{
		src.flag(&rc.BannerCheck, "SDK_CHECK", "sdk_check"),
		src.flag(&rc.CopyObjects, "SDK_COPY_OBJECTS_FLAG", "sdk_copy_objects_flag"),
		src.flag(&rc.CopyFailed, "SDK_COPY_FAILOBJ", "sdk_copy_failobj"),
		src.flag(&rc.VerboseBuild, "SDK_VERB_BUILDMSG", "sdk_verb_buildmsg"),

		src.seconds(&rc.BannerTimeout, "SDK_BANNER_TMOUT", "sdk_banner_tmout"),
		src.seconds(&rc.RunTimeout, "SDK_RUN_TMOUT", ""),
		src.seconds(&rc.FPGAProgramTimeout, "FPGA_PROG_TMOUT", ""),

		src.num(&rc.Ceilings.TTY, "SDK_TTYERR_MAXCNT", "sdk_ttyerr_maxcnt"),
		src.num(&rc.Ceilings.FPGAProgram, "SDK_FPGAPROG_MAXCNT", "sdk_fpgaprog_maxcnt"),
		src.num(&rc.Ceilings.Debugger, "SDK_GDBERR_MAXCNT", "sdk_gdberr_maxcnt"),
		src.num(&rc.Ceilings.Upload, "SDK_UPLOADERR_MAXCNT", "sdk_uploaderr_maxcnt"),
		src.num(&rc.Ceilings.Banner, "SDK_BANNERTMOUT_MAXCNT", "sdk_bannertmout_maxcnt"),

		src.num(&rc.Retry.DeviceHung, "", "sdk_hang_maxretry"),
		src.num(&rc.Retry.DebuggerFault, "", "sdk_gdberr_maxretry"),
		src.num(&rc.Retry.BannerTimeout, "", "sdk_bannertmout_maxretry"),
		src.num(&rc.Retry.DeployFailed, "", "sdk_uploaderr_maxretry"),
	}
	if err := multierr.Combine(errs...); err != nil {
		return rc, fmt.Errorf("resolve run settings: %w", err)
	}
	return rc, nil
}

func splitKinds(s string) []string {
	var kinds []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Env returns the settings as the environment variables that produce
// them, sorted by name, for logging the effective configuration.
func (rc RunContext) Env() []string {
	vars := map[string]string{
		"SDK_CHECKTAG":           rc.BannerTag,
		"SDK_CHECK":              strconv.FormatBool(rc.BannerCheck),
		"SDK_BANNER_TMOUT":       strconv.Itoa(int(rc.BannerTimeout / time.Second)),
		"SDK_COPY_OBJECTS":       strings.Join(rc.CopyObjectKinds, ","),
		"SDK_COPY_OBJECTS_FLAG":  strconv.FormatBool(rc.CopyObjects),
		"SDK_COPY_FAILOBJ":       strconv.FormatBool(rc.CopyFailed),
		"SDK_VERB_BUILDMSG":      strconv.FormatBool(rc.VerboseBuild),
		"SDK_TTYERR_MAXCNT":      strconv.Itoa(rc.Ceilings.TTY),
		"SDK_FPGAPROG_MAXCNT":    strconv.Itoa(rc.Ceilings.FPGAProgram),
		"SDK_GDBERR_MAXCNT":      strconv.Itoa(rc.Ceilings.Debugger),
		"SDK_UPLOADERR_MAXCNT":   strconv.Itoa(rc.Ceilings.Upload),
		"SDK_BANNERTMOUT_MAXCNT": strconv.Itoa(rc.Ceilings.Banner),
	}
	if rc.RunTimeout > 0 {
		vars["SDK_RUN_TMOUT"] = strconv.Itoa(int(rc.RunTimeout / time.Second))
	}
	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
