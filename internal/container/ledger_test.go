// SPDX-License-Identifier: MPL-2.0

package container

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/e4s-project/e4s-cl/internal/testutil"
)

func TestLedger_KeepsEveryRequest(t *testing.T) {
	t.Parallel()

	var l Ledger
	if _, err := l.Bind("/tmp"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Bind("/tmp", To("/tmp"), As(ReadWrite)); err != nil {
		t.Fatal(err)
	}

	tmp, err := filepath.EvalSymlinks("/tmp")
	if err != nil {
		t.Fatal(err)
	}
	want := []Binding{
		{Source: tmp, Dest: tmp, Option: ReadOnly},
		{Source: tmp, Dest: "/tmp", Option: ReadWrite},
	}
	if diff := cmp.Diff(want, l.Entries()); diff != "" {
		t.Errorf("Entries() mismatch (-want +got):\n%s", diff)
	}
}

func TestLedger_Canonicalizes(t *testing.T) {
	t.Parallel()

	if _, err := os.Stat("/proc/meminfo"); err != nil {
		t.Skip("no /proc on this host")
	}

	var l Ledger
	b, err := l.Bind("/tmp/../proc/meminfo")
	if err != nil {
		t.Fatal(err)
	}
	if b.Source != "/proc/meminfo" || b.Dest != "/proc/meminfo" {
		t.Errorf("Bind() = %+v, want /proc/meminfo", b)
	}

	if _, err := l.Bind("/tmp"); err != nil {
		t.Fatal(err)
	}
	tmp, _ := filepath.EvalSymlinks("/tmp")
	var sources []string
	for _, e := range l.Entries() {
		sources = append(sources, e.Source)
	}
	if diff := cmp.Diff([]string{"/proc/meminfo", tmp}, sources); diff != "" {
		t.Errorf("sources mismatch (-want +got):\n%s", diff)
	}
}

func TestLedger_ResolvesSymlinks(t *testing.T) {
	t.Parallel()

	dir := testutil.TempDir(t)
	target := filepath.Join(dir, "libfoo.so.1.2")
	testutil.MustWriteFile(t, target, "")
	link := filepath.Join(dir, "libfoo.so.1")
	testutil.MustSymlink(t, "libfoo.so.1.2", link)

	var l Ledger
	b, err := l.Bind(link, To("/.e4s-cl/hostlibs/libfoo.so.1"))
	if err != nil {
		t.Fatal(err)
	}
	if b.Source != target || b.Dest != "/.e4s-cl/hostlibs/libfoo.so.1" || b.Option != ReadOnly {
		t.Errorf("Bind() = %+v", b)
	}

	if _, err := l.Bind(filepath.Join(dir, "absent")); err == nil {
		t.Error("Bind() of a missing file should fail")
	}
	if l.Len() != 1 {
		t.Errorf("failed bind was recorded: %v", l.Entries())
	}
}

func TestLedger_Realize(t *testing.T) {
	t.Parallel()

	l := Ledger{entries: []Binding{
		{Source: "/tmp", Dest: "/tmp", Option: ReadOnly},
		{Source: "/data", Dest: "/data", Option: ReadWrite},
		{Source: "/tmp", Dest: "/tmp", Option: ReadWrite},
		{Source: "/tmp", Dest: "/tmp", Option: ReadOnly},
		{Source: "/lib/a.so", Dest: "/hostlibs/x.so", Option: ReadOnly},
		{Source: "/lib/b.so", Dest: "/hostlibs/x.so", Option: ReadOnly},
	}}

	want := []specs.Mount{
		{Destination: "/tmp", Type: "bind", Source: "/tmp", Options: []string{"rbind", "rw"}},
		{Destination: "/data", Type: "bind", Source: "/data", Options: []string{"rbind", "rw"}},
		{Destination: "/hostlibs/x.so", Type: "bind", Source: "/lib/b.so", Options: []string{"rbind", "ro"}},
	}
	got := l.Realize()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Realize() mismatch (-want +got):\n%s", diff)
	}
	if IsReadOnly(got[0]) || !IsReadOnly(got[2]) {
		t.Error("IsReadOnly() disagrees with realized options")
	}
	if l.Len() != 6 {
		t.Error("Realize() must not modify the ledger")
	}
}
