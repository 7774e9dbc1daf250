package at

import (
	"encoding/csv"
	"errors"
	"strconv"
	"strings"
)

// ErrNoFields is returned by Fields when a line does not carry the expected
// information prefix.
var ErrNoFields = errors.New("at: line does not match prefix")

// CommandLine formats a bare command, e.g. "AT+CSQ\r".
func CommandLine(name string) string {
	return Prefix + name + CR
}

// QueryLine formats a query, e.g. "AT+CCLK?\r".
func QueryLine(name string) string {
	return Prefix + name + "?" + CR
}

// SetLine formats a single value set, e.g. "AT+HTAG=topic\r".
func SetLine(name, value string) string {
	return Prefix + name + "=" + value + CR
}

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	switch line {
	case "":
		return TypeEmpty
	case OK, ERROR:
		return TypeFinal
	}

	if IsURC(line) {
		return TypeURC
	}
	return TypeData
}

// Fields strips the information prefix of a reply line ("+CSQ" for
// "+CSQ: 21,0") and splits the remainder on commas. Quoted fields may
// contain commas and are returned without their quotes.
func Fields(line, prefix string) ([]string, error) {
	rest, ok := strings.CutPrefix(line, prefix+":")
	if !ok {
		return nil, ErrNoFields
	}
	return splitFields(strings.TrimSpace(rest))
}

// Int parses the i-th field as a decimal integer.
func Int(fields []string, i int) (int, error) {
	if i >= len(fields) {
		return 0, ErrNoFields
	}
	return strconv.Atoi(strings.TrimSpace(fields[i]))
}

func splitFields(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(s))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	return r.Read()
}
