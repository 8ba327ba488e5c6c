package reader_test

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/pkarsten/clavis/internal/reader"
)

func newConsole(input string) (*reader.Console, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return reader.NewConsole(bufio.NewReader(strings.NewReader(input)), out), out
}

func TestConsole_ReadParsesUIDAndContent(t *testing.T) {
	c, _ := newConsole("42 abc123\n")

	uid, content, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if uid != 42 || content != "abc123" {
		t.Errorf("expected 42/abc123, got %d/%q", uid, content)
	}
}

func TestConsole_MultiWordContentJoined(t *testing.T) {
	c, _ := newConsole("7 two words\n")

	_, content, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if content != "two words" {
		t.Errorf("expected joined content, got %q", content)
	}
}

func TestConsole_BareUIDReplaysLastWrite(t *testing.T) {
	c, _ := newConsole("42\n42\n")

	// No write yet: the simulated tag is blank.
	uid, content, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if uid != 42 || content != "" {
		t.Errorf("expected blank tag, got %d/%q", uid, content)
	}

	if err := c.Write("cred-on-tag"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, content, err = c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if content != "cred-on-tag" {
		t.Errorf("expected replayed write, got %q", content)
	}
}

func TestConsole_BadUIDRepromptsUntilValid(t *testing.T) {
	c, out := newConsole("not-a-uid\n7 ok\n")

	uid, content, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if uid != 7 || content != "ok" {
		t.Errorf("expected 7/ok after a bad line, got %d/%q", uid, content)
	}
	if !strings.Contains(out.String(), "bad uid") {
		t.Errorf("expected a bad-uid hint, got %q", out.String())
	}
}

func TestConsole_BlankLinesSkipped(t *testing.T) {
	c, _ := newConsole("\n   \n9 go\n")

	uid, _, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if uid != 9 {
		t.Errorf("expected 9, got %d", uid)
	}
}

func TestConsole_FinalLineWithoutNewline(t *testing.T) {
	c, _ := newConsole("7 abc")

	uid, content, err := c.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if uid != 7 || content != "abc" {
		t.Errorf("expected 7/abc, got %d/%q", uid, content)
	}

	if _, _, err := c.Read(); err != io.EOF {
		t.Errorf("expected EOF after the input drained, got %v", err)
	}
}
