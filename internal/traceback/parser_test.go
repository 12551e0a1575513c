package traceback

import (
	"strings"
	"testing"

	"silexa/triagebot/internal/errs"
)

func TestContainsTraceback_Empty(t *testing.T) {
	if ContainsTraceback("") {
		t.Fatalf("expected empty text to not contain a traceback")
	}
}

func TestContainsTraceback_PlainChat(t *testing.T) {
	if ContainsTraceback("hello world, how's it going?") {
		t.Fatalf("expected plain chat to not contain a traceback")
	}
}

const simpleTraceback = `Traceback (most recent call last):
  File "app/main.py", line 10, in run
    do_thing()
  File "app/util.py", line 42, in do_thing
    return int(x)
ValueError: invalid literal for int() with base 10: 'abc'`

func TestParse_SimpleTraceback(t *testing.T) {
	pt, err := Parse(simpleTraceback)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pt.ExceptionType != "ValueError" {
		t.Fatalf("expected ValueError, got %q", pt.ExceptionType)
	}
	if !strings.Contains(pt.ExceptionMessage, "invalid literal") {
		t.Fatalf("unexpected message: %q", pt.ExceptionMessage)
	}
	if len(pt.Frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(pt.Frames))
	}
	last, ok := pt.Innermost()
	if !ok || last.Func != "do_thing" {
		t.Fatalf("unexpected innermost frame: %+v", last)
	}
	if pt.Signature() != "ValueError: invalid literal for int() with base 10: 'abc'" {
		t.Fatalf("unexpected signature: %q", pt.Signature())
	}
}

func TestParse_BannerOnly_IsParseError(t *testing.T) {
	_, err := Parse("Traceback (most recent call last):\n")
	if errs.KindOf(err) != errs.KindParseError {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestParse_EmptyText_IsParseError(t *testing.T) {
	_, err := Parse("")
	if errs.KindOf(err) != errs.KindParseError {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestParse_TruncatedMidExceptionLine(t *testing.T) {
	truncated := `Traceback (most recent call last):
  File "app/main.py", line 10, in run
    do_thing()`
	pt, err := Parse(truncated)
	if err != nil {
		t.Fatalf("expected success for truncated traceback, got %v", err)
	}
	if pt.ExceptionType != "<truncated>" {
		t.Fatalf("expected <truncated>, got %q", pt.ExceptionType)
	}
	if pt.ExceptionMessage != "" {
		t.Fatalf("expected empty message, got %q", pt.ExceptionMessage)
	}
}

func TestParse_FencedCodeBlock(t *testing.T) {
	fenced := "```\n" + simpleTraceback + "\n```"
	pt, err := Parse(fenced)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pt.ExceptionType != "ValueError" {
		t.Fatalf("expected ValueError, got %q", pt.ExceptionType)
	}
}

func TestParse_ANSIColoredFrames(t *testing.T) {
	colored := "\x1b[31mTraceback (most recent call last):\x1b[0m\n" +
		"  File \"app/main.py\", line 10, in run\n" +
		"ValueError: boom"
	pt, err := Parse(colored)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pt.ExceptionType != "ValueError" {
		t.Fatalf("expected ValueError, got %q", pt.ExceptionType)
	}
}

func TestExtractAll_ChainedTraceback(t *testing.T) {
	chained := `Traceback (most recent call last):
  File "app/db.py", line 5, in connect
    raise ConnectionError("refused")
ConnectionError: refused

The above exception was the direct cause of the following exception:

Traceback (most recent call last):
  File "app/main.py", line 20, in run
    connect()
RuntimeError: startup failed`

	blocks := ExtractAll(chained)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	second := blocks[1]
	if !second.IsChained {
		t.Fatalf("expected second block to be chained")
	}
	if second.Cause == nil || second.Cause.ExceptionType != "ConnectionError" {
		t.Fatalf("expected cause ConnectionError, got %+v", second.Cause)
	}
}

func TestParse_SyntaxErrorFrame(t *testing.T) {
	syntaxErr := `  File "app/broken.py", line 3
    x = (1 +
        ^
SyntaxError: invalid syntax`
	pt, err := Parse(syntaxErr)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if pt.ExceptionType != "SyntaxError" {
		t.Fatalf("expected SyntaxError, got %q", pt.ExceptionType)
	}
	if len(pt.Frames) != 1 || pt.Frames[0].Func != "<module>" {
		t.Fatalf("unexpected frames: %+v", pt.Frames)
	}
}

func TestStackFrame_Classification(t *testing.T) {
	stdlib := StackFrame{File: "/usr/lib/python3.11/json/decoder.py"}
	if !stdlib.IsStdlib() {
		t.Fatalf("expected stdlib frame to be classified as stdlib")
	}
	if stdlib.IsProjectFrame() {
		t.Fatalf("stdlib frame should not be a project frame")
	}

	sitePkg := StackFrame{File: "/app/.venv/lib/python3.11/site-packages/requests/api.py"}
	if !sitePkg.IsSitePackages() {
		t.Fatalf("expected site-packages classification")
	}

	project := StackFrame{File: "/app/src/service.py"}
	if !project.IsProjectFrame() {
		t.Fatalf("expected project frame classification")
	}
	if project.NormalizedPath() != "app/src/service.py" {
		t.Fatalf("unexpected normalized path: %q", project.NormalizedPath())
	}
}

func TestProjectFrames_ExcludesStdlibAndSitePackages(t *testing.T) {
	pt := ParsedTraceback{Frames: []StackFrame{
		{File: "/usr/lib/python3.11/json/decoder.py"},
		{File: "/app/.venv/lib/python3.11/site-packages/requests/api.py"},
		{File: "/app/src/service.py"},
	}}
	proj := pt.ProjectFrames()
	if len(proj) != 1 || proj[0].File != "/app/src/service.py" {
		t.Fatalf("unexpected project frames: %+v", proj)
	}
}
