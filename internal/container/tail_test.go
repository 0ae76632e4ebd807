// SPDX-License-Identifier: MPL-2.0

package container

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTailBuffer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		max    int
		writes []string
		want   []string
	}{
		{name: "split writes", max: 10, writes: []string{"hel", "lo\nwor", "ld\n"}, want: []string{"hello", "world"}},
		{name: "partial last line", max: 10, writes: []string{"a\nb"}, want: []string{"a", "b"}},
		{name: "keeps the tail", max: 2, writes: []string{"1\n2\n3\n4\n"}, want: []string{"3", "4"}},
		{name: "partial counts toward the limit", max: 2, writes: []string{"1\n2\n3"}, want: []string{"2", "3"}},
		{name: "crlf", max: 5, writes: []string{"dos\r\n"}, want: []string{"dos"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			buf := newTailBuffer(tt.max)
			for _, w := range tt.writes {
				if n, err := buf.Write([]byte(w)); err != nil || n != len(w) {
					t.Fatalf("Write(%q) = %d, %v", w, n, err)
				}
			}
			if diff := cmp.Diff(tt.want, buf.Lines()); diff != "" {
				t.Errorf("Lines() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTailBuffer_Bounded(t *testing.T) {
	t.Parallel()

	buf := newTailBuffer(tailLines)
	for i := range 1000 {
		fmt.Fprintf(buf, "line %d\n", i)
	}
	lines := buf.Lines()
	if len(lines) != tailLines || lines[0] != "line 900" || lines[tailLines-1] != "line 999" {
		t.Errorf("Lines() = %d lines from %q to %q", len(lines), lines[0], lines[len(lines)-1])
	}
}
