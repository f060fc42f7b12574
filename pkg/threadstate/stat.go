package threadstate

import (
	"bytes"
	"fmt"
)

// parseStatState extracts the state letter from a /proc stat line. The
// command name in parentheses may itself contain spaces and parentheses,
// so the state is located after the last ')'.
func parseStatState(line []byte) (byte, error) {
	end := bytes.LastIndexByte(line, ')')
	if end < 0 {
		return 0, fmt.Errorf("malformed stat line: no command terminator")
	}
	rest := bytes.TrimLeft(line[end+1:], " ")
	if len(rest) == 0 {
		return 0, fmt.Errorf("malformed stat line: missing state")
	}
	return rest[0], nil
}
