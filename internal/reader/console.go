package reader

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Console simulates a reader on an interactive terminal so the kiosk can
// run without hardware. Each input line is one tap:
//
//	<uid> <content>   tap a tag carrying that content
//	<uid>             tap a tag carrying the last written content
//
// The bare-uid form is how a write-then-verify round trip plays out in
// the simulation: the "tag" retains whatever was last written.
type Console struct {
	in      *bufio.Reader
	out     io.Writer
	written string
}

// NewConsole reads taps from in and prompts on out. The bufio.Reader may
// be shared with other consumers of the same terminal, as long as reads
// stay sequential.
func NewConsole(in *bufio.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out}
}

func (c *Console) Read() (int64, string, error) {
	for {
		fmt.Fprint(c.out, "tap> ")
		line, err := c.in.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.TrimSpace(line) != "" {
				// Final line without a trailing newline still counts.
				if uid, content, ok := c.parse(line); ok {
					return uid, content, nil
				}
			}
			return 0, "", err
		}
		if uid, content, ok := c.parse(line); ok {
			return uid, content, nil
		}
	}
}

func (c *Console) parse(line string) (int64, string, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, "", false
	}
	uid, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		fmt.Fprintf(c.out, "bad uid %q: a tap is \"<uid> [content]\"\n", fields[0])
		return 0, "", false
	}
	if len(fields) == 1 {
		return uid, c.written, true
	}
	return uid, strings.Join(fields[1:], " "), true
}

func (c *Console) Write(content string) error {
	c.written = content
	fmt.Fprintf(c.out, "(simulated tag write: %s)\n", content)
	return nil
}
