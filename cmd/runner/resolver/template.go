package resolver

import "strings"

// Template strings mix literal text with {{reference}} segments. The
// scanner below produces the node list once; evaluation walks it against
// the run context. References are never resolved by string replacement.

type nodeKind int

const (
	nodeLiteral nodeKind = iota
	nodeReference
)

type node struct {
	kind nodeKind
	text string // literal text, or the trimmed reference body
}

// reference is a parsed {{...}} body.
type reference struct {
	root string // "env", "loop", "parallel", or a block id
	rest string // dotted path after the root, may be empty
}

// parseTemplate splits a string into literal and reference nodes.
// Unterminated "{{" is kept as literal text.
func parseTemplate(s string) []node {
	var nodes []node
	for len(s) > 0 {
		start := strings.Index(s, "{{")
		if start < 0 {
			nodes = append(nodes, node{kind: nodeLiteral, text: s})
			break
		}
		end := strings.Index(s[start:], "}}")
		if end < 0 {
			nodes = append(nodes, node{kind: nodeLiteral, text: s})
			break
		}
		end += start
		if start > 0 {
			nodes = append(nodes, node{kind: nodeLiteral, text: s[:start]})
		}
		body := strings.TrimSpace(s[start+2 : end])
		nodes = append(nodes, node{kind: nodeReference, text: body})
		s = s[end+2:]
	}
	return nodes
}

// parseReference splits a reference body into root selector and path.
func parseReference(body string) reference {
	root, rest, _ := strings.Cut(body, ".")
	return reference{root: root, rest: rest}
}

// isTemplate reports whether a string contains at least one reference.
func isTemplate(s string) bool {
	start := strings.Index(s, "{{")
	return start >= 0 && strings.Contains(s[start:], "}}")
}

// isSingleReference reports whether the whole string is one reference,
// which resolves to the referenced value's native type instead of a
// string interpolation.
func isSingleReference(nodes []node) bool {
	return len(nodes) == 1 && nodes[0].kind == nodeReference
}
