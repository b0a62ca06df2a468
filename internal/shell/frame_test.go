package shell

import (
	"testing"

	"github.com/danmuck/shellpool/internal/testutil/testlog"
)

func TestEscapePath(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		in   string
		want string
	}{
		{in: "/data/bin/busybox", want: "/data/bin/busybox"},
		{in: "/data/my files/busybox", want: `/data/my\ files/busybox`},
		{in: "/a b/c\td", want: "/a\\ b/c\\\td"},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		if got := EscapePath(tc.in); got != tc.want {
			t.Fatalf("EscapePath(%q) = %q want %q", tc.in, got, tc.want)
		}
	}
}

func TestFrameWithPrefix(t *testing.T) {
	testlog.Start(t)
	got := Frame(`/opt/my\ tools/busybox`, []string{"ls /", "id"}, "marker{1}")
	want := "/opt/my\\ tools/busybox ls /\n/opt/my\\ tools/busybox id\necho marker{1}\necho marker{1} >&2\n"
	if got != want {
		t.Fatalf("unexpected frame\nwant: %q\ngot:  %q", want, got)
	}
}

func TestFrameWithoutPrefix(t *testing.T) {
	testlog.Start(t)
	got := Frame("", []string{"echo a"}, "marker{2}")
	want := "echo a\necho marker{2}\necho marker{2} >&2\n"
	if got != want {
		t.Fatalf("unexpected frame\nwant: %q\ngot:  %q", want, got)
	}
}

func TestClassify(t *testing.T) {
	testlog.Start(t)
	const m = "marker{x}"

	lines, err := classify("a\nb\n"+m+"\n", m+"\n", m)
	if err != nil || len(lines) != 2 || lines[0] != "a" || lines[1] != "b" {
		t.Fatalf("unexpected lines=%q err=%v", lines, err)
	}

	lines, err = classify("  "+m+"\n", "", m)
	if err != nil || len(lines) != 0 {
		t.Fatalf("expected empty result, got lines=%q err=%v", lines, err)
	}

	lines, err = classify("only\n"+m, m+"\n", m)
	if err != nil || len(lines) != 1 || lines[0] != "only" {
		t.Fatalf("unexpected single line=%q err=%v", lines, err)
	}

	_, err = classify("ignored\n"+m, "  boom\n"+m+"\n", m)
	var cmdErr *CommandError
	if !errorsAs(err, &cmdErr) || cmdErr.Error() != "boom" {
		t.Fatalf("expected CommandError boom, got %v", err)
	}

	// stderr cut short before its marker arrived
	_, err = classify("", "e1\n", m)
	if !errorsAs(err, &cmdErr) || cmdErr.Error() != "e1" {
		t.Fatalf("expected CommandError e1, got %v", err)
	}
}

func TestClassifyCutsAtLastMarker(t *testing.T) {
	testlog.Start(t)
	const m = "marker{x}"
	lines, err := classify("a "+m+" b\n"+m, m+"\n", m)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(lines) != 1 || lines[0] != "a "+m+" b" {
		t.Fatalf("unexpected lines: %q", lines)
	}
}

func TestSettled(t *testing.T) {
	testlog.Start(t)
	const m = "marker{x}"
	if settled("a\n", "", m, false) {
		t.Fatalf("stdout without marker must not settle")
	}
	if settled("a\n"+m+"\n", "", m, false) {
		t.Fatalf("stdout marker alone must wait for the stderr marker")
	}
	if !settled("a\n"+m+"\n", m+"\n", m, false) {
		t.Fatalf("both markers must settle in reference mode")
	}
	if !settled("", "err\n", m, false) {
		t.Fatalf("newline-terminated stderr must settle in reference mode")
	}
	if settled("", m+"\n", m, false) {
		t.Fatalf("a bare stderr marker is not command output")
	}
	if settled("", "err", m, false) {
		t.Fatalf("stderr without newline must not settle")
	}
	if settled("a\n"+m+"\n", "err\n", m, true) {
		t.Fatalf("sync mode must wait for the stderr marker")
	}
	if !settled(m+"\n", "err\n"+m+"\n", m, true) {
		t.Fatalf("sync mode must settle once both markers arrived")
	}
}
