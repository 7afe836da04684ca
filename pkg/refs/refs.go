// Package refs builds and parses the reference names and commit message
// trailers WARP layers on top of pkg/store (spec.md §6).
package refs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// WriterTip returns the ref name for a writer's chain tip.
func WriterTip(graph, writer string) string {
	return fmt.Sprintf("refs/warp/%s/writers/%s", graph, writer)
}

// WritersPrefix returns the ref-name prefix under which every writer's
// tip lives, for ListRefs-based writer discovery.
func WritersPrefix(graph string) string {
	return fmt.Sprintf("refs/warp/%s/writers/", graph)
}

// Checkpoint returns the ref name for the graph's latest checkpoint.
func Checkpoint(graph string) string {
	return fmt.Sprintf("refs/warp/%s/checkpoint", graph)
}

// Coverage returns the ref name for the graph's coverage anchor.
func Coverage(graph string) string {
	return fmt.Sprintf("refs/warp/%s/coverage", graph)
}

// AuditChain returns the ref name for a writer's optional audit chain.
func AuditChain(graph, writer string) string {
	return fmt.Sprintf("refs/warp/%s/audit/%s", graph, writer)
}

// WriterFromTipRef extracts the writer id from a writer-tip ref name
// produced by WriterTip, or ok=false if name doesn't match that shape.
func WriterFromTipRef(graph, name string) (writer string, ok bool) {
	prefix := WritersPrefix(graph)
	if !strings.HasPrefix(name, prefix) {
		return "", false
	}
	return strings.TrimPrefix(name, prefix), true
}

// CommitKind names the recognized first-line marker of a commit message.
type CommitKind string

const (
	KindPatch      CommitKind = "patch"
	KindCheckpoint CommitKind = "checkpoint"
	KindAnchor     CommitKind = "anchor"
	KindAudit      CommitKind = "audit"
)

// Message is a parsed commit message: a kind line followed by sorted
// trailer key/value lines (spec.md §6).
type Message struct {
	Kind     CommitKind
	Trailers map[string]string
}

// requiredTrailers lists the trailers each kind must carry.
var requiredTrailers = map[CommitKind][]string{
	KindPatch:      {"graph", "writer", "lamport", "patch-oid", "schema"},
	KindCheckpoint: {"graph", "state-hash", "frontier-oid", "index-oid", "schema"},
	KindAnchor:     {"graph"},
	KindAudit:      {"graph", "writer", "data-commit", "ops-digest"},
}

// NewMessage builds a Message, validating that every trailer the kind
// requires is present.
func NewMessage(kind CommitKind, trailers map[string]string) (Message, error) {
	for _, key := range requiredTrailers[kind] {
		if _, ok := trailers[key]; !ok {
			return Message{}, fmt.Errorf("refs: commit kind %q missing trailer %q", kind, key)
		}
	}
	cp := make(map[string]string, len(trailers))
	for k, v := range trailers {
		cp[k] = v
	}
	return Message{Kind: kind, Trailers: cp}, nil
}

// Encode renders m as "kind\nkey: value\n..." with trailers sorted by
// key, for deterministic commit messages.
func (m Message) Encode() string {
	keys := make([]string, 0, len(m.Trailers))
	for k := range m.Trailers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(string(m.Kind))
	sb.WriteByte('\n')
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(m.Trailers[k])
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ParseMessage decodes a commit message previously produced by Encode.
// Malformed input returns a plain error; callers that need the
// warperr.ErrInvalidPatchMessage classification wrap it themselves.
func ParseMessage(raw string) (Message, error) {
	lines := strings.Split(strings.TrimRight(raw, "\n"), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return Message{}, fmt.Errorf("refs: empty commit message")
	}
	kind := CommitKind(lines[0])
	trailers := make(map[string]string, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ": ")
		if !ok {
			return Message{}, fmt.Errorf("refs: malformed trailer line %q", line)
		}
		trailers[k] = v
	}
	return NewMessage(kind, trailers)
}

// Lamport parses the "lamport" trailer as a uint64.
func (m Message) Lamport() (uint64, error) {
	v, ok := m.Trailers["lamport"]
	if !ok {
		return 0, fmt.Errorf("refs: no lamport trailer")
	}
	return strconv.ParseUint(v, 10, 64)
}
