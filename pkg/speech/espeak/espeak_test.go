package espeak

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxdeck/pkg/speech"
	"github.com/MrWong99/voxdeck/pkg/voice"
)

const voicesOutput = `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  en-us           --/M      English_(America)  gmw/en-US            (en 10)
 5  ja              --/M      Japanese           jpx/ja
 5  th              --/M      Thai               tai/th
`

// fakeBinary writes a shell script that mimics espeak-ng. Stdin and the
// argument list of speak invocations are written next to the script.
func fakeBinary(t *testing.T, speakBody string) (bin, dir string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	dir = t.TempDir()
	bin = filepath.Join(dir, "espeak-ng")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"--voices\" ]; then\ncat <<'EOT'\n" + voicesOutput + "EOT\nexit 0\nfi\n" +
		"echo \"$@\" > " + filepath.Join(dir, "args") + "\n" +
		"cat > " + filepath.Join(dir, "stdin") + "\n" +
		speakBody + "\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return bin, dir
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		req  speech.Request
		want []string
	}{
		{
			name: "defaults with language",
			req:  speech.Request{Text: "x", Rate: 1, Pitch: 1, Volume: 1, Language: "th-TH"},
			want: []string{"-s", "175", "-p", "50", "-a", "100", "-v", "th-th", "--stdin"},
		},
		{
			name: "voice id wins",
			req: speech.Request{Text: "x", Rate: 1.5, Pitch: 1.1, Volume: 0.5, Language: "th",
				Voice: voice.Voice{ID: "tai/th", Language: "th"}},
			want: []string{"-s", "263", "-p", "55", "-a", "50", "-v", "tai/th", "--stdin"},
		},
		{
			name: "clamped",
			req:  speech.Request{Text: "x", Rate: 0.1, Pitch: 2.0, Volume: 0},
			want: []string{"-s", "80", "-p", "99", "-a", "0", "--stdin"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := buildArgs(tc.req); !slices.Equal(got, tc.want) {
				t.Errorf("buildArgs = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseVoices(t *testing.T) {
	voices, err := parseVoices([]byte(voicesOutput))
	if err != nil {
		t.Fatalf("parseVoices: %v", err)
	}
	want := []voice.Voice{
		{ID: "gmw/en-US", Name: "English (America)", Language: "en-us"},
		{ID: "jpx/ja", Name: "Japanese", Language: "ja"},
		{ID: "tai/th", Name: "Thai", Language: "th"},
	}
	if !slices.Equal(voices, want) {
		t.Errorf("voices = %+v, want %+v", voices, want)
	}
}

func TestParseVoices_Empty(t *testing.T) {
	if _, err := parseVoices([]byte("Pty Language Age/Gender VoiceName File\n")); err == nil {
		t.Error("expected error for empty voice table")
	}
}

func TestNew_MissingBinary(t *testing.T) {
	_, err := New(WithBinary(filepath.Join(t.TempDir(), "nope")))
	if !errors.Is(err, speech.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestNew_ResolvesBinary(t *testing.T) {
	bin, _ := fakeBinary(t, "exit 0")
	e, err := New(WithBinary(bin))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Binary() != bin {
		t.Errorf("Binary = %q, want %q", e.Binary(), bin)
	}
}

func TestSpeak_FeedsTextOnStdin(t *testing.T) {
	bin, dir := fakeBinary(t, "exit 0")
	e, err := New(WithBinary(bin))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := speech.Request{Text: "-สวัสดี", Rate: 1, Pitch: 1, Volume: 1, Language: "th"}
	done, err := e.Speak(context.Background(), req)
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("completion = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Speak did not complete")
	}

	stdin, _ := os.ReadFile(filepath.Join(dir, "stdin"))
	if string(stdin) != req.Text {
		t.Errorf("stdin = %q, want %q", stdin, req.Text)
	}
	args, _ := os.ReadFile(filepath.Join(dir, "args"))
	if !strings.Contains(string(args), "-v th") {
		t.Errorf("args = %q, want voice flag", args)
	}
}

func TestSpeak_ProcessFailure(t *testing.T) {
	bin, _ := fakeBinary(t, "echo broken >&2\nexit 3")
	e, err := New(WithBinary(bin))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done, err := e.Speak(context.Background(), speech.Request{Text: "hi", Rate: 1, Pitch: 1, Volume: 1})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	err = <-done
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("completion = %v, want error carrying stderr", err)
	}
}

func TestSpeak_Cancel(t *testing.T) {
	bin, _ := fakeBinary(t, "exec sleep 10")
	e, err := New(WithBinary(bin))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done, err := e.Speak(ctx, speech.Request{Text: "hi", Rate: 1, Pitch: 1, Volume: 1})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("completion = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop synthesis")
	}
	if _, ok := <-done; ok {
		t.Error("completion channel should be closed after one value")
	}
}

func TestSpeak_EmptyText(t *testing.T) {
	bin, _ := fakeBinary(t, "exit 0")
	e, _ := New(WithBinary(bin))
	if _, err := e.Speak(context.Background(), speech.Request{Text: "  "}); !errors.Is(err, speech.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestVoices_LoadedAsynchronously(t *testing.T) {
	bin, _ := fakeBinary(t, "exit 0")
	e, err := New(WithBinary(bin))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := e.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(first) != 0 {
		t.Fatalf("first query should be empty, got %+v", first)
	}

	select {
	case <-e.Changed():
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification after voice load")
	}
	voices, _ := e.Voices(context.Background())
	if len(voices) != 3 {
		t.Errorf("got %d voices, want 3", len(voices))
	}
}
