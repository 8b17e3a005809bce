// Package console implements the operator commands (snapshot, reset,
// stats, trim), reading one whitespace-separated command per line from
// stdin.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Compulsed/lineagedb/engine"
	"github.com/Compulsed/lineagedb/rowid"
	"github.com/Compulsed/lineagedb/table"
)

// Run reads one command per line from in until EOF, writing responses to
// out. It blocks until in is exhausted.
func Run(e *engine.Engine, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fmt.Fprintln(out, dispatch(e, line))
	}
}

func dispatch(e *engine.Engine, line string) string {
	fields := strings.Fields(line)
	cmd := fields[0]

	switch cmd {
	case "snapshot":
		if err := e.Snapshot(); err != nil {
			return "ERROR: " + err.Error()
		}
		return "OK"

	case "reset":
		if err := e.Reset(); err != nil {
			return "ERROR: " + err.Error()
		}
		return "OK"

	case "stats":
		return e.Stats().String()

	case "trim":
		if len(fields) != 3 {
			return "ERROR: usage: trim <row-id> <before-tx>"
		}
		n, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return "ERROR: invalid tx: " + err.Error()
		}
		removed, err := e.TrimRow(rowid.ID(fields[1]), table.TxId(n))
		if err != nil {
			return "ERROR: " + err.Error()
		}
		return fmt.Sprintf("OK removed=%d", removed)

	default:
		return "ERROR: unknown command " + cmd
	}
}
