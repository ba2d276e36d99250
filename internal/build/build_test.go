package build

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/buckleypaul/sdkrun/internal/runner"
)

const fakeMake = `#!/bin/sh
dir=""
prev=""
goal=""
for a in "$@"; do
	if [ "$prev" = "-C" ]; then dir="$a"; fi
	prev="$a"
	goal="$a"
done
echo "make $@" >> "$dir/calls.txt"
case "$goal" in
info)
	echo "make: Entering directory"
	echo "Current Configuration: SOC=evalsoc BOARD=nuclei_fpga_eval CORE=n300 RISCV_ARCH=rv32imac DOWNLOAD=ilm"
	;;
showflags)
	echo "TARGET: helloworld"
	echo "CFLAGS: -O2 -g"
	echo "LINK: a:b:c"
	;;
showtoolver)
	echo "Show gcc version"
	echo "riscv64-unknown-elf-gcc 13.1.1"
	echo "make: Leaving directory"
	;;
broken)
	echo "error: undefined reference" >&2
	exit 2
	;;
*)
	echo "building $goal"
	touch "$dir/helloworld.elf" "$dir/helloworld.map"
	;;
esac
`

const fakeSize = `#!/bin/sh
echo "   text    data     bss     dec     hex filename"
echo "  12345     678    9012   22035    5613 $1"
`

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func newApp(t *testing.T) (string, *Make) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tools are shell scripts")
	}
	root := t.TempDir()
	app := filepath.Join(root, "helloworld")
	if err := os.MkdirAll(app, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(app, "Makefile"), []byte("all:\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(root, "bin")
	os.MkdirAll(bin, 0o755)
	m := &Make{
		Command:   writeScript(t, bin, "make", fakeMake),
		SizeTools: []string{filepath.Join(bin, "missing-size"), writeScript(t, bin, "size", fakeSize)},
	}
	return app, m
}

func TestBuildCollectsArtifact(t *testing.T) {
	app, m := newApp(t)
	logFile := filepath.Join(t.TempDir(), "build.log")

	art := m.Build(context.Background(), Request{
		AppDir:  app,
		Options: map[string]string{"SOC": "evalsoc", "CORE": "n300", "bad key": "x"},
		Goal:    "clean dasm",
		LogFile: logFile,
	})

	if !art.Passed {
		t.Fatalf("expected build to pass, got=%s %s", art.Status, art.Err)
	}
	if diff := cmp.Diff([]string{"CORE=n300", "SOC=evalsoc"}, art.MakeOptions); diff != "" {
		t.Errorf("make options mismatch (-want +got):\n%s", diff)
	}
	if art.Info["CORE"] != "n300" || art.Info["RISCV_ARCH"] != "rv32imac" {
		t.Errorf("unexpected info %v", art.Info)
	}
	if art.Flags["TARGET"] != "helloworld" {
		t.Errorf("unexpected flags %v", art.Flags)
	}
	if _, ok := art.Flags["LINK"]; ok {
		t.Error("expected multi-colon flag line ignored")
	}
	if !strings.Contains(art.ToolVersions["gcc"], "13.1.1") {
		t.Errorf("unexpected tool versions %v", art.ToolVersions)
	}
	if art.ELF() != filepath.Join(app, "helloworld.elf") {
		t.Errorf("unexpected elf %q", art.ELF())
	}
	if diff := cmp.Diff(Size{Text: 12345, Data: 678, Bss: 9012, Total: 22035}, art.Size); diff != "" {
		t.Errorf("size mismatch (-want +got):\n%s", diff)
	}

	data, _ := os.ReadFile(logFile)
	if !strings.Contains(string(data), "building dasm") {
		t.Errorf("expected build output in log, got=%q", data)
	}
}

func TestBuildFailure(t *testing.T) {
	app, m := newApp(t)
	art := m.Build(context.Background(), Request{AppDir: app, Goal: "broken"})
	if art.Passed {
		t.Fatal("expected build failure")
	}
	if art.Status != runner.StatusFailed || art.ExitCode != 2 {
		t.Errorf("expected failed with exit 2, got=%s/%d", art.Status, art.ExitCode)
	}
}

func TestBuildNotApp(t *testing.T) {
	m := &Make{}
	art := m.Build(context.Background(), Request{AppDir: t.TempDir(), Goal: "all"})
	if art.Passed || art.Status != runner.StatusInvalid {
		t.Errorf("expected invalid status for non app, got=%s", art.Status)
	}
}

func TestBuildParallelSplitsGoals(t *testing.T) {
	app, m := newApp(t)
	m.Build(context.Background(), Request{AppDir: app, Goal: "clean all", Parallel: "-j4"})

	data, err := os.ReadFile(filepath.Join(app, "calls.txt"))
	if err != nil {
		t.Fatal(err)
	}
	calls := string(data)
	if !strings.Contains(calls, "-j4 -C "+app+" clean\n") || !strings.Contains(calls, "-j4 -C "+app+" all\n") {
		t.Errorf("expected one make call per goal, got:\n%s", calls)
	}
}

func TestParseInfo(t *testing.T) {
	got := ParseInfo("noise\nCurrent Configuration: SOC=evalsoc CORE=n900 BROKEN A=b=c\n")
	want := map[string]string{"SOC": "evalsoc", "CORE": "n900"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("info mismatch (-want +got):\n%s", diff)
	}
}

func TestParseToolVersions(t *testing.T) {
	out := "Show gcc version\ngcc 13\nShow openocd version\nOpen On-Chip Debugger 0.11\nmake: done\n"
	got := ParseToolVersions(out)
	want := map[string]string{"gcc": "gcc 13\n", "openocd": "Open On-Chip Debugger 0.11\n"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tool versions mismatch (-want +got):\n%s", diff)
	}
}

func TestParseSize(t *testing.T) {
	if _, ok := ParseSize("garbage"); ok {
		t.Error("expected garbage to fail")
	}
	got, ok := ParseSize("text data bss dec hex filename\n1 2 3 6 6 a.elf\n")
	if !ok || got.Total != 6 {
		t.Errorf("unexpected size %+v", got)
	}
}

func TestFindObjects(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old_app.elf")
	cur := filepath.Join(dir, "new_app.elf")
	os.WriteFile(old, nil, 0o644)
	os.WriteFile(cur, nil, 0o644)
	past := time.Now().Add(-time.Hour)
	os.Chtimes(old, past, past)

	objs := FindObjects(dir, "", time.Time{})
	if objs[ObjectELF] != cur {
		t.Errorf("expected newest elf %q, got=%q", cur, objs[ObjectELF])
	}
	if objs[ObjectMap] != "" {
		t.Errorf("expected no map, got=%q", objs[ObjectMap])
	}

	objs = FindObjects(dir, "", time.Now().Add(-time.Minute))
	if objs[ObjectELF] != cur {
		t.Errorf("expected elf newer than checkpoint, got=%q", objs[ObjectELF])
	}
}

func TestCopyObjects(t *testing.T) {
	src := t.TempDir()
	elf := filepath.Join(src, "app.elf")
	mp := filepath.Join(src, "app.map")
	os.WriteFile(elf, []byte("ELF"), 0o644)
	os.WriteFile(mp, []byte("MAP"), 0o644)

	dst := filepath.Join(t.TempDir(), "objs")
	saved, err := CopyObjects(map[string]string{ObjectELF: elf, ObjectMap: mp, ObjectDump: filepath.Join(src, "missing.dump")}, dst, []string{"elf"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{ObjectELF: filepath.Join(dst, "app.elf")}, saved); diff != "" {
		t.Errorf("saved objects mismatch (-want +got):\n%s", diff)
	}
	data, _ := os.ReadFile(filepath.Join(dst, "app.elf"))
	if string(data) != "ELF" {
		t.Errorf("unexpected copied content %q", data)
	}
}

func TestFindApps(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"a/app1", "b/app2", "c/notapp"} {
		os.MkdirAll(filepath.Join(root, d), 0o755)
	}
	os.WriteFile(filepath.Join(root, "a/app1/Makefile"), nil, 0o644)
	os.WriteFile(filepath.Join(root, "b/app2/makefile"), nil, 0o644)

	apps, err := FindApps(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(apps) != 2 || !strings.HasSuffix(apps[0], "a/app1") || !strings.HasSuffix(apps[1], "b/app2") {
		t.Errorf("unexpected apps %v", apps)
	}
}
