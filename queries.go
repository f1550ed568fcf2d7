package pg

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Queries is an ordered collection of named SQL statements. In the source
// text each statement is introduced by a comment line of the form
//
//	-- <key>
//
// and runs until the next such line. Key order is kept, so a set of
// statements can also be executed in sequence (for example DDL).
type Queries struct {
	keys    []string
	queries map[string]string
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

var (
	reQuerySeparator = regexp.MustCompile(`^--\s*([a-zA-Z0-9_.-]+)\s*$`)
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewQueries parses SQL statements from a reader. It returns ErrBadParameter
// if a key is repeated or a key has no statement.
func NewQueries(r io.Reader) (*Queries, error) {
	var key string
	var sql strings.Builder

	self := &Queries{
		queries: make(map[string]string),
	}
	flush := func() error {
		if key == "" {
			return nil
		}
		stmt := strings.TrimSpace(sql.String())
		if stmt == "" {
			return ErrBadParameter.Withf("empty SQL statement for key %q", key)
		}
		self.queries[key] = stmt
		self.keys = append(self.keys, key)
		return nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		matches := reQuerySeparator.FindStringSubmatch(line)
		if matches == nil {
			sql.WriteString(line)
			sql.WriteString("\n")
			continue
		}

		// Save previous statement and start a new one
		if err := flush(); err != nil {
			return nil, err
		}
		key = matches[1]
		if _, exists := self.queries[key]; exists {
			return nil, ErrBadParameter.Withf("duplicate SQL statement key: %q", key)
		}
		sql.Reset()
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}

	// Return success
	return self, nil
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Keys returns the statement keys in the order they were parsed.
func (s *Queries) Keys() []string {
	return s.keys
}

// Has returns true if a statement exists for the key
func (s *Queries) Has(key string) bool {
	_, ok := s.queries[key]
	return ok
}

// Get returns the statement for the key, or an empty string
func (s *Queries) Get(key string) string {
	return s.queries[key]
}
