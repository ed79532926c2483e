package engine

import (
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
)

const (
	OpSet = "SET"
	OpDel = "DEL"
)

// Record is one log line. Value payloads are kept binary in memory and
// base64-encoded on disk so the log stays line-oriented.
type Record struct {
	Op    string
	Key   string
	Value []byte
}

func NewSetRecord(key string, value []byte) Record {
	return Record{Op: OpSet, Key: key, Value: value}
}

func NewDelRecord(key string) Record {
	return Record{Op: OpDel, Key: key}
}

// ValidateKey enforces the key rules: non-empty, no whitespace. Keys with
// spaces or newlines would break the single-line record framing.
func ValidateKey(key string) error {
	if key == "" || strings.ContainsAny(key, " \t\r\n") {
		return ErrInvalidKey
	}
	return nil
}

// EncodeRecord renders the canonical line for a record, newline included:
// "SET <key> <base64(value)>\n" or "DEL <key>\n".
func EncodeRecord(r Record) []byte {
	switch r.Op {
	case OpSet:
		encoded := base64.StdEncoding.EncodeToString(r.Value)
		line := make([]byte, 0, len(OpSet)+1+len(r.Key)+1+len(encoded)+1)
		line = append(line, OpSet...)
		line = append(line, ' ')
		line = append(line, r.Key...)
		line = append(line, ' ')
		line = append(line, encoded...)
		line = append(line, '\n')
		return line
	case OpDel:
		line := make([]byte, 0, len(OpDel)+1+len(r.Key)+1)
		line = append(line, OpDel...)
		line = append(line, ' ')
		line = append(line, r.Key...)
		line = append(line, '\n')
		return line
	}
	return nil
}

// DecodeRecord parses one line (without its trailing newline). Only the
// canonical single-space form is accepted; anything else is an error so
// that replay surfaces damage instead of guessing.
func DecodeRecord(line string) (Record, error) {
	parts := strings.SplitN(line, " ", 3)
	switch parts[0] {
	case OpSet:
		if len(parts) != 3 {
			return Record{}, errors.New("SET record needs a key and a value")
		}
		if err := ValidateKey(parts[1]); err != nil {
			return Record{}, errors.Wrap(err, "SET record")
		}
		value, err := base64.StdEncoding.DecodeString(parts[2])
		if err != nil {
			return Record{}, errors.Wrap(err, "SET record value")
		}
		return Record{Op: OpSet, Key: parts[1], Value: value}, nil
	case OpDel:
		if len(parts) != 2 {
			return Record{}, errors.New("DEL record needs exactly a key")
		}
		if err := ValidateKey(parts[1]); err != nil {
			return Record{}, errors.Wrap(err, "DEL record")
		}
		return Record{Op: OpDel, Key: parts[1]}, nil
	}
	return Record{}, errors.Errorf("unknown record op %q", parts[0])
}
