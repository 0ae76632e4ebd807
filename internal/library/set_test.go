// SPDX-License-Identifier: MPL-2.0

package library

import (
	"errors"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/google/go-cmp/cmp"
)

func paths(s *Set) []string {
	var out []string
	for _, lib := range s.Libraries() {
		out = append(out, lib.CanonicalPath)
	}
	return out
}

func chain() *Set {
	return NewSet(
		&Library{CanonicalPath: "/lib/libA.so.1", Soname: "libA.so.1", Dependencies: []string{"libB.so.1"}},
		&Library{CanonicalPath: "/lib/libB.so.1.2", Aliases: []string{"/lib/libB.so.1"}, Dependencies: []string{"libC.so"}},
		&Library{CanonicalPath: "/lib/libC.so.3", Aliases: []string{"/usr/lib/libC.so"}},
	)
}

func TestSet_TopLevelOfChain(t *testing.T) {
	t.Parallel()

	got := paths(chain().TopLevel())
	if diff := cmp.Diff([]string{"/lib/libA.so.1"}, got); diff != "" {
		t.Errorf("TopLevel() mismatch (-want +got):\n%s", diff)
	}
}

func TestSet_TopLevelByCanonicalPath(t *testing.T) {
	t.Parallel()

	s := NewSet(
		&Library{CanonicalPath: "/a/app.so", Dependencies: []string{"/b/dep.so"}},
		&Library{CanonicalPath: "/b/dep.so"},
		&Library{CanonicalPath: "/c/standalone.so"},
	)
	if diff := cmp.Diff([]string{"/a/app.so", "/c/standalone.so"}, paths(s.TopLevel())); diff != "" {
		t.Errorf("TopLevel() mismatch (-want +got):\n%s", diff)
	}
}

func TestSet_MergeByCanonicalPath(t *testing.T) {
	t.Parallel()

	s := NewSet()
	first := s.Add(&Library{CanonicalPath: "/lib/libz.so.1.2.13", Aliases: []string{"/lib/libz.so.1"}})
	second := s.Add(&Library{CanonicalPath: "/lib/libz.so.1.2.13", Aliases: []string{"/lib/libz.so"}, IsLibcFamily: true})

	if first != second {
		t.Fatal("Add() should return the existing member")
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
	want := []string{"/lib/libz.so.1", "/lib/libz.so.1.2.13", "/lib/libz.so"}
	if diff := cmp.Diff(want, first.Aliases); diff != "" {
		t.Errorf("Aliases mismatch (-want +got):\n%s", diff)
	}
	if !first.IsLibcFamily {
		t.Error("merged flags lost")
	}
}

func TestSet_Views(t *testing.T) {
	t.Parallel()

	s := NewSet(
		&Library{CanonicalPath: "/lib/libmpi.so.40"},
		&Library{CanonicalPath: "/lib/libc.so.6", IsLibcFamily: true},
		&Library{CanonicalPath: "/lib/ld-linux-x86-64.so.2", IsLibcFamily: true, IsLinker: true},
	)

	if diff := cmp.Diff([]string{"/lib/libc.so.6", "/lib/ld-linux-x86-64.so.2"}, paths(s.Glib())); diff != "" {
		t.Errorf("Glib() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/lib/libmpi.so.40"}, paths(s.Without(s.Glib()))); diff != "" {
		t.Errorf("Without(Glib()) mismatch (-want +got):\n%s", diff)
	}
	linker, err := s.Linker()
	if err != nil {
		t.Fatalf("Linker() error = %v", err)
	}
	if linker.CanonicalPath != "/lib/ld-linux-x86-64.so.2" {
		t.Errorf("Linker() = %s", linker.CanonicalPath)
	}
}

func TestSet_LinkerAmbiguity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		set  *Set
		want int
	}{
		{name: "none", set: NewSet(&Library{CanonicalPath: "/lib/libfoo.so"}), want: 0},
		{name: "two", set: NewSet(
			&Library{CanonicalPath: "/opt/glibc/lib/ld-linux-x86-64.so.2", IsLinker: true},
			&Library{CanonicalPath: "/lib64/ld-linux-x86-64.so.2", IsLinker: true},
		), want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.set.Linker()
			var ambiguous *AmbiguousLinkerError
			if !errors.As(err, &ambiguous) {
				t.Fatalf("Linker() error = %v, want *AmbiguousLinkerError", err)
			}
			if len(ambiguous.Linkers) != tt.want {
				t.Errorf("len(Linkers) = %d, want %d", len(ambiguous.Linkers), tt.want)
			}
			if !errors.Is(err, ErrAmbiguousLinker) {
				t.Error("error should wrap ErrAmbiguousLinker")
			}
		})
	}
}

func TestSet_LDDFormat(t *testing.T) {
	t.Parallel()

	s := NewSet(
		&Library{CanonicalPath: "/lib/libmpi.so.40.30.0", Soname: "libmpi.so.40", Version: semver.MustParse("40.30.0")},
		&Library{CanonicalPath: "/lib/libplain.so"},
	)
	want := []string{
		"libmpi.so.40 => /lib/libmpi.so.40.30.0 (40.30.0)",
		"libplain.so => /lib/libplain.so",
	}
	if diff := cmp.Diff(want, s.LDDFormat()); diff != "" {
		t.Errorf("LDDFormat() mismatch (-want +got):\n%s", diff)
	}
}

func TestClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		libc   bool
		linker bool
	}{
		{"libc.so.6", true, false},
		{"libc-2.17.so", true, false},
		{"libm.so.6", true, false},
		{"libpthread.so.0", true, false},
		{"libnss_files.so.2", true, false},
		{"ld-linux-x86-64.so.2", true, true},
		{"ld-linux-aarch64.so.1", true, true},
		{"ld64.so.2", true, true},
		{"ld-2.17.so", true, true},
		{"libcrypto.so.3", false, false},
		{"libmpi.so.40", false, false},
		{"libcuda.so.1", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsLibcFamilyName(tt.name); got != tt.libc {
				t.Errorf("IsLibcFamilyName(%q) = %v, want %v", tt.name, got, tt.libc)
			}
			if got := IsLinkerName("/some/dir/" + tt.name); got != tt.linker {
				t.Errorf("IsLinkerName(%q) = %v, want %v", tt.name, got, tt.linker)
			}
		})
	}
}

func TestVersionFromName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"libmpi.so.40.30.0": "40.30.0",
		"libfoo.so.1":       "1.0.0",
		"libbar.so.1.2.3.4": "1.2.3",
		"libc-2.17.so":      "2.17.0",
		"libplain.so":       "",
	}
	for name, want := range tests {
		got := VersionFromName(name)
		switch {
		case want == "" && got != nil:
			t.Errorf("VersionFromName(%q) = %s, want nil", name, got)
		case want != "" && (got == nil || got.String() != want):
			t.Errorf("VersionFromName(%q) = %v, want %s", name, got, want)
		}
	}
}
