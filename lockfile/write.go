package lockfile

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

const header = "# resolve lockfile v1\n"

// Serialize renders the object in the persisted lock text format. Output is
// stable: blocks are ordered by their first pattern, patterns sharing an
// entry are grouped onto one comma-joined key line, and map keys are sorted.
func (o Object) Serialize() []byte {
	type block struct {
		patterns []string
		entry    *Entry
	}

	byEntry := make(map[*Entry]*block)
	var blocks []*block
	for pattern, e := range o {
		b, ok := byEntry[e]
		if !ok {
			b = &block{entry: e}
			byEntry[e] = b
			blocks = append(blocks, b)
		}
		b.patterns = append(b.patterns, pattern)
	}
	for _, b := range blocks {
		sort.Strings(b.patterns)
	}
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].patterns[0] < blocks[j].patterns[0]
	})

	var buf bytes.Buffer
	buf.WriteString(header)
	for _, b := range blocks {
		buf.WriteByte('\n')
		for i, pattern := range b.patterns {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(strconv.Quote(pattern))
		}
		buf.WriteString(":\n")
		writeEntry(&buf, b.entry)
	}
	return buf.Bytes()
}

func writeEntry(buf *bytes.Buffer, e *Entry) {
	writeScalar(buf, "name", e.Name)
	writeScalar(buf, "version", e.Version)
	writeScalar(buf, "uid", e.UID)
	writeScalar(buf, "resolved", e.Resolved)
	writeScalar(buf, "registry", e.Registry)
	writeBools(buf, "permissions", e.Permissions)
	writeMap(buf, "dependencies", e.Dependencies)
	writeMap(buf, "peerDependencies", e.PeerDependencies)
	writeMap(buf, "optionalDependencies", e.OptionalDependencies)
}

func writeScalar(buf *bytes.Buffer, field, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(buf, "  %s %s\n", field, strconv.Quote(value))
}

func writeMap(buf *bytes.Buffer, field string, m map[string]string) {
	if len(m) == 0 {
		return
	}
	fmt.Fprintf(buf, "  %s:\n", field)
	for _, k := range sortedKeys(m) {
		fmt.Fprintf(buf, "    %s %s\n", strconv.Quote(k), strconv.Quote(m[k]))
	}
}

func writeBools(buf *bytes.Buffer, field string, m map[string]bool) {
	if len(m) == 0 {
		return
	}
	fmt.Fprintf(buf, "  %s:\n", field)
	for _, k := range sortedKeys(m) {
		fmt.Fprintf(buf, "    %s %t\n", strconv.Quote(k), m[k])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
