package server

import (
	"strings"

	"github.com/pkg/errors"
)

// Wire verbs. Verbs are case-insensitive on the wire and normalized to
// upper case during parsing.
const (
	VerbSet     = "SET"
	VerbGet     = "GET"
	VerbDelete  = "DELETE"
	VerbCompact = "COMPACT"
	VerbQuit    = "QUIT"
	VerbHelp    = "HELP"
)

const (
	responseOK       = "OK"
	responseNotFound = "NOT_FOUND"

	helpText = "commands: GET <key>, SET <key> <value>, DELETE <key>, COMPACT, QUIT, HELP"
)

var ErrInvalidCommand = errors.New("invalid command")

// Command is a single parsed client request.
type Command struct {
	Verb  string
	Key   string
	Value []byte
}

// ParseCommand parses one request line. The value of a SET is the rest of
// the line after the key, taken verbatim; clients are expected to encode
// values containing whitespace or binary themselves. A SET with no value
// sets the key to the empty value.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, " ", 3)

	switch strings.ToUpper(parts[0]) {
	case VerbGet:
		if len(parts) != 2 || parts[1] == "" {
			return Command{}, ErrInvalidCommand
		}
		return Command{Verb: VerbGet, Key: parts[1]}, nil
	case VerbSet:
		if len(parts) < 2 || parts[1] == "" {
			return Command{}, ErrInvalidCommand
		}
		cmd := Command{Verb: VerbSet, Key: parts[1], Value: []byte{}}
		if len(parts) == 3 {
			cmd.Value = []byte(parts[2])
		}
		return cmd, nil
	case VerbDelete:
		if len(parts) != 2 || parts[1] == "" {
			return Command{}, ErrInvalidCommand
		}
		return Command{Verb: VerbDelete, Key: parts[1]}, nil
	case VerbCompact:
		if len(parts) != 1 {
			return Command{}, ErrInvalidCommand
		}
		return Command{Verb: VerbCompact}, nil
	case VerbQuit:
		if len(parts) != 1 {
			return Command{}, ErrInvalidCommand
		}
		return Command{Verb: VerbQuit}, nil
	case VerbHelp:
		if len(parts) != 1 {
			return Command{}, ErrInvalidCommand
		}
		return Command{Verb: VerbHelp}, nil
	}
	return Command{}, ErrInvalidCommand
}
