package isa

import (
	"fmt"
	"strings"
)

// Filter decides whether a build configuration is skipped. The zero
// value accepts everything.
type Filter struct {
	SupportedArch string            // SDK_SUPPORT_ARCH
	IgnoredExts   string            // SDK_IGNORED_EXTS, underscore separated
	CoreArchs     map[string]string // from ParseMakefileCore
}

// Skip reports whether the configuration given by its build options
// (CORE, ARCH_EXT) must be skipped, and why.
func (f Filter) Skip(options map[string]string) (bool, string) {
	if len(options) == 0 {
		return false, ""
	}
	core := strings.ToLower(options["CORE"])
	archExt := options["ARCH_EXT"]

	if core != "" && f.SupportedArch != "" {
		if coreArch, ok := f.CoreArchs[core]; ok && !Compatible(coreArch, archExt, f.SupportedArch) {
			return true, fmt.Sprintf("Core %s with extensions %s not supported by %s", core, archExt, f.SupportedArch)
		}
	}

	if strings.TrimSpace(archExt) == "" || f.IgnoredExts == "" {
		return false, ""
	}

	// Single letter extensions come before the first underscore, multi
	// letter ones after it.
	var single, multi string
	switch {
	case strings.HasPrefix(archExt, "_"):
		multi = archExt
	case strings.Contains(archExt, "_"):
		single, multi, _ = strings.Cut(archExt, "_")
	case strings.HasPrefix(archExt, "z"):
		multi = archExt
	default:
		single = archExt
	}

	seen := map[string]bool{}
	for _, ext := range strings.Split(f.IgnoredExts, "_") {
		ext = strings.TrimSpace(ext)
		if ext == "" || seen[ext] {
			continue
		}
		seen[ext] = true
		if len(ext) == 1 {
			if single != "" && strings.Contains(single, ext) {
				return true, fmt.Sprintf("Filtered by %s extension", ext)
			}
		} else if multi != "" && strings.Contains(multi, ext) {
			return true, fmt.Sprintf("Filtered by %s extension", ext)
		}
	}
	return false, ""
}
