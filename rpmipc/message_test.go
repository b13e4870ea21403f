package rpmipc

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCommitBodyRoundTrip(t *testing.T) {
	c := Commit{
		Root:       "/",
		DBPath:     "/var/lib/rpm",
		Arch:       "x86_64",
		IgnoreArch: false,
		LockFile:   "/run/rpm.lock",
		Steps: []Step{
			InstallStep(1, "/var/cache/pkg/foo-1.0.rpm", false),
			RemoveStep(2, "bar", "2.0", "1", "x86_64"),
		},
	}

	got, err := DecodeCommitBody(c.EncodeBody())
	if err != nil {
		t.Fatalf("DecodeCommitBody: %v", err)
	}
	if diff := cmp.Diff(c, got); diff != "" {
		t.Fatalf("commit round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFrameWriteReadRoundTrip(t *testing.T) {
	cases := []Frame{
		{Command: "Commit", Headers: map[string]string{"version": "1"}, Body: []byte("hello\x00world\x00")},
		{Command: "TransFinished", Headers: map[string]string{}, Body: nil},
	}

	for _, want := range cases {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, want); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		got, err := ReadFrame(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if got.Command != want.Command {
			t.Fatalf("command mismatch: got %q want %q", got.Command, want.Command)
		}
		if !bytes.Equal(got.Body, want.Body) {
			t.Fatalf("body mismatch: got %q want %q", got.Body, want.Body)
		}
		for k, v := range want.Headers {
			if got.Headers[k] != v {
				t.Fatalf("header %q mismatch: got %q want %q", k, got.Headers[k], v)
			}
		}
	}
}

func TestEventEncodeDecodeRoundTrip(t *testing.T) {
	events := []Event{
		PackageBegin{StepID: 3},
		PackageProgress{StepID: 3, Amount: 42},
		ScriptBegin{StepID: 3, ScriptType: "%post", ScriptPackage: "foo-1.0"},
		ScriptError{StepID: 3, Fatal: true},
		TransFinished{},
		RpmLog{Level: 4, Line: "warning: something"},
		TransactionError{Problems: []string{"file conflict", "disk full"}},
	}

	for _, want := range events {
		f := EncodeEvent(want)
		got, err := DecodeEvent(f)
		if err != nil {
			t.Fatalf("DecodeEvent(%T): %v", want, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("event round-trip mismatch for %T (-want +got):\n%s", want, diff)
		}
	}
}

func TestDecodeEventUnknownCommand(t *testing.T) {
	_, err := DecodeEvent(Frame{Command: "NotARealEvent"})
	if err == nil {
		t.Fatal("expected an error for an unknown event command")
	}
}

func TestExitCodeString(t *testing.T) {
	cases := map[ExitCode]string{
		NoError:                         "no-error",
		WrongMessageFormat:              "wrong-message-format",
		RpmFinishedWithTransactionError: "rpm-finished-with-transaction-error",
		ExitCode(999):                   "other-error",
	}
	for code, want := range cases {
		if got := code.String(); got != want {
			t.Errorf("ExitCode(%d).String() = %q, want %q", code, got, want)
		}
	}
}
