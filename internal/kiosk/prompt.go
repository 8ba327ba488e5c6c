package kiosk

import (
	"fmt"
	"strconv"
	"strings"
)

// prompt prints a numbered menu and reads the operator's choice,
// re-asking until a valid number comes in. The returned choice is
// 1-based. A read error (input ran out) aborts the prompt.
func (k *Kiosk) prompt(question string, options ...string) (int, error) {
	fmt.Fprintln(k.out, question)
	for i, opt := range options {
		fmt.Fprintf(k.out, "  [%d] %s\n", i+1, opt)
	}

	for {
		fmt.Fprint(k.out, "Enter choice number: ")
		line, err := k.in.ReadString('\n')

		// A final line without a trailing newline still counts.
		choice, convErr := strconv.Atoi(strings.TrimSpace(line))
		if convErr == nil && choice >= 1 && choice <= len(options) {
			return choice, nil
		}
		if err != nil {
			return 0, err
		}
		fmt.Fprintf(k.out, "Invalid choice. Enter a number between 1 and %d.\n", len(options))
	}
}

// confirm is a Yes/No prompt; everything but an explicit Yes declines.
func (k *Kiosk) confirm(question string) bool {
	choice, err := k.prompt(question, "Yes", "No")
	return err == nil && choice == 1
}

// readLine reads one trimmed input line.
func (k *Kiosk) readLine(promptText string) (string, error) {
	fmt.Fprint(k.out, promptText)
	line, err := k.in.ReadString('\n')
	trimmed := strings.TrimSpace(line)
	if err != nil && trimmed == "" {
		return "", err
	}
	return trimmed, nil
}
