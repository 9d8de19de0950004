package lockfile

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseOutcome reports how cleanly a persisted lockfile parsed.
type ParseOutcome int

const (
	// OutcomeClean means the text parsed without incident.
	OutcomeClean ParseOutcome = iota
	// OutcomeMerged means version-control merge markers were present and both
	// sides were heuristically reconciled.
	OutcomeMerged
	// OutcomeConflicted means merge markers were present and reconciliation
	// failed; the returned lockfile is a best-effort partial structure.
	OutcomeConflicted
)

func (o ParseOutcome) String() string {
	switch o {
	case OutcomeClean:
		return "clean"
	case OutcomeMerged:
		return "merged"
	case OutcomeConflicted:
		return "conflicted"
	}
	return fmt.Sprintf("ParseOutcome(%d)", int(o))
}

// ParseError reports structurally invalid lockfile text. Nothing is
// considered locked when Parse returns one.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("lockfile parse error at line %d: %s", e.Line, e.Msg)
}

// Parse parses a persisted lockfile text blob. When the text contains
// version-control merge markers both sides are parsed and reconciled: if both
// parse the union is returned with OutcomeMerged (the later side wins on
// overlap); otherwise whichever side parses is returned with
// OutcomeConflicted.
func Parse(data []byte) (*Lockfile, ParseOutcome, error) {
	text := string(data)
	if !strings.Contains(text, "<<<<<<<") {
		lf, err := parseBlob(text)
		if err != nil {
			return nil, OutcomeClean, err
		}
		return lf, OutcomeClean, nil
	}

	ours, theirs := splitConflict(text)
	oursLock, oursErr := parseBlob(ours)
	theirsLock, theirsErr := parseBlob(theirs)

	if oursErr == nil && theirsErr == nil {
		merged := New()
		for p, n := range oursLock.cache {
			merged.cache[p] = n
		}
		for p, n := range theirsLock.cache {
			merged.cache[p] = n
		}
		return merged, OutcomeMerged, nil
	}
	if oursErr == nil {
		return oursLock, OutcomeConflicted, nil
	}
	if theirsErr == nil {
		return theirsLock, OutcomeConflicted, nil
	}
	return New(), OutcomeConflicted, nil
}

// splitConflict reconstructs the two sides of a merge-conflicted blob.
// diff3-style base sections are discarded.
func splitConflict(text string) (ours, theirs string) {
	const (
		stateBoth = iota
		stateOurs
		stateBase
		stateTheirs
	)
	var o, t []string
	state := stateBoth
	for line := range strings.Lines(text) {
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "<<<<<<<"):
			state = stateOurs
		case strings.HasPrefix(line, "|||||||") && state == stateOurs:
			state = stateBase
		case strings.HasPrefix(line, "=======") && (state == stateOurs || state == stateBase):
			state = stateTheirs
		case strings.HasPrefix(line, ">>>>>>>") && state == stateTheirs:
			state = stateBoth
		default:
			switch state {
			case stateBoth:
				o = append(o, line)
				t = append(t, line)
			case stateOurs:
				o = append(o, line)
			case stateTheirs:
				t = append(t, line)
			}
		}
	}
	return strings.Join(o, "\n"), strings.Join(t, "\n")
}

func parseBlob(text string) (*Lockfile, error) {
	lf := New()
	lines := strings.Split(text, "\n")

	i := 0
	for i < len(lines) {
		line := strings.TrimRight(lines[i], "\r")
		lineno := i + 1

		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			i++
			continue
		}
		if strings.HasPrefix(line, " ") {
			return nil, &ParseError{Line: lineno, Msg: "unexpected indentation"}
		}

		if rest, ok := strings.CutSuffix(line, ":"); ok {
			keys, err := splitKeys(rest, lineno)
			if err != nil {
				return nil, err
			}
			entry, next, err := parseEntry(lines, i+1)
			if err != nil {
				return nil, err
			}
			for _, key := range keys {
				lf.Set(key, entry)
			}
			i = next
			continue
		}

		// A bare string value at the top level is an alias binding.
		key, rest, err := readToken(line, lineno)
		if err != nil {
			return nil, err
		}
		target, rest, err := readToken(rest, lineno)
		if err != nil || strings.TrimSpace(rest) != "" {
			return nil, &ParseError{Line: lineno, Msg: "expected block or alias value"}
		}
		lf.SetAlias(key, target)
		i++
	}

	return lf, nil
}

// parseEntry reads one indented entry block starting at line index i,
// returning the entry and the index of the first line past the block.
func parseEntry(lines []string, i int) (*Entry, int, error) {
	e := &Entry{}
	for i < len(lines) {
		line := strings.TrimRight(lines[i], "\r")
		lineno := i + 1

		if strings.TrimSpace(line) == "" {
			i++
			continue
		}
		if !strings.HasPrefix(line, "  ") {
			break
		}
		if strings.HasPrefix(line, "   ") {
			return nil, 0, &ParseError{Line: lineno, Msg: "unexpected indentation"}
		}

		body := line[2:]
		if name, ok := strings.CutSuffix(body, ":"); ok {
			m, perms, next, err := parseBlock(lines, i+1, name == "permissions")
			if err != nil {
				return nil, 0, err
			}
			switch name {
			case "permissions":
				e.Permissions = perms
			case "dependencies":
				e.Dependencies = m
			case "peerDependencies":
				e.PeerDependencies = m
			case "optionalDependencies":
				e.OptionalDependencies = m
			default:
				return nil, 0, &ParseError{Line: lineno, Msg: fmt.Sprintf("unknown block %q", name)}
			}
			i = next
			continue
		}

		field, rest, err := readToken(body, lineno)
		if err != nil {
			return nil, 0, err
		}
		value, rest, err := readToken(rest, lineno)
		if err != nil || strings.TrimSpace(rest) != "" {
			return nil, 0, &ParseError{Line: lineno, Msg: "malformed field line"}
		}
		switch field {
		case "name":
			e.Name = value
		case "version":
			e.Version = value
		case "uid":
			e.UID = value
		case "resolved":
			e.Resolved = value
		case "registry":
			e.Registry = value
		default:
			return nil, 0, &ParseError{Line: lineno, Msg: fmt.Sprintf("unknown field %q", field)}
		}
		i++
	}
	if e.Version == "" {
		return nil, 0, &ParseError{Line: i, Msg: "entry is missing a version"}
	}
	return e, i, nil
}

// parseBlock reads a doubly indented key/value block. With boolValues the
// values are parsed as booleans (the permissions block), otherwise as
// strings.
func parseBlock(lines []string, i int, boolValues bool) (map[string]string, map[string]bool, int, error) {
	var strs map[string]string
	var bools map[string]bool
	for i < len(lines) {
		line := strings.TrimRight(lines[i], "\r")
		lineno := i + 1

		if strings.TrimSpace(line) == "" {
			i++
			continue
		}
		if !strings.HasPrefix(line, "    ") {
			break
		}

		key, rest, err := readToken(line[4:], lineno)
		if err != nil {
			return nil, nil, 0, err
		}
		value, rest, err := readToken(rest, lineno)
		if err != nil || strings.TrimSpace(rest) != "" {
			return nil, nil, 0, &ParseError{Line: lineno, Msg: "malformed map line"}
		}

		if boolValues {
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, nil, 0, &ParseError{Line: lineno, Msg: fmt.Sprintf("invalid boolean %q", value)}
			}
			if bools == nil {
				bools = make(map[string]bool)
			}
			bools[key] = b
		} else {
			if strs == nil {
				strs = make(map[string]string)
			}
			strs[key] = value
		}
		i++
	}
	return strs, bools, i, nil
}

// splitKeys parses a comma-separated pattern key list, honoring quoting.
func splitKeys(s string, lineno int) ([]string, error) {
	var keys []string
	rest := strings.TrimSpace(s)
	for rest != "" {
		var key string
		var err error
		if rest[0] == '"' {
			key, rest, err = readToken(rest, lineno)
			if err != nil {
				return nil, err
			}
		} else if j := strings.Index(rest, ","); j >= 0 {
			key, rest = strings.TrimSpace(rest[:j]), rest[j:]
		} else {
			key, rest = strings.TrimSpace(rest), ""
		}
		if key == "" {
			return nil, &ParseError{Line: lineno, Msg: "empty pattern key"}
		}
		keys = append(keys, key)
		rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), ","))
	}
	if len(keys) == 0 {
		return nil, &ParseError{Line: lineno, Msg: "empty pattern key"}
	}
	return keys, nil
}

// readToken consumes one token from s: either a quoted string or a bare run
// up to the next space. Returns the token and the unconsumed remainder.
func readToken(s string, lineno int) (string, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", &ParseError{Line: lineno, Msg: "missing value"}
	}
	if s[0] == '"' {
		prefix, err := strconv.QuotedPrefix(s)
		if err != nil {
			return "", "", &ParseError{Line: lineno, Msg: "unterminated string"}
		}
		value, err := strconv.Unquote(prefix)
		if err != nil {
			return "", "", &ParseError{Line: lineno, Msg: "invalid string"}
		}
		return value, s[len(prefix):], nil
	}
	if j := strings.IndexByte(s, ' '); j >= 0 {
		return s[:j], s[j:], nil
	}
	return s, "", nil
}
