package serializer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Validation errors raised while building the execution graph.
var (
	ErrUnknownBlockKind        = errors.New("unknown block kind")
	ErrDanglingEdge            = errors.New("connection references missing block")
	ErrMissingStarter          = errors.New("workflow has no starter block")
	ErrDuplicateSubflowMember  = errors.New("block belongs to more than one subflow")
	ErrSubflowMemberNotFound   = errors.New("subflow references missing block")
)

// Serialize validates the stored workflow state and produces the immutable
// execution graph. Beyond validation the only computation performed here is
// resolving default parameter values and tool selection.
func Serialize(state json.RawMessage) (*Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(state, &w); err != nil {
		return nil, fmt.Errorf("decode workflow state: %w", err)
	}
	if w.Blocks == nil {
		w.Blocks = map[string]*Block{}
	}
	if w.Loops == nil {
		w.Loops = map[string]*LoopDef{}
	}
	if w.Parallels == nil {
		w.Parallels = map[string]*ParallelDef{}
	}

	// Stored block maps may omit the id field on the record itself.
	for id, b := range w.Blocks {
		if b.ID == "" {
			b.ID = id
		}
	}

	if err := validate(&w); err != nil {
		return nil, err
	}

	w.BlockOrder = make([]string, 0, len(w.Blocks))
	for id := range w.Blocks {
		w.BlockOrder = append(w.BlockOrder, id)
	}
	sort.Strings(w.BlockOrder)

	w.outgoing = make(map[string][]Connection)
	w.incoming = make(map[string][]Connection)
	for _, c := range w.Connections {
		w.outgoing[c.Source] = append(w.outgoing[c.Source], c)
		w.incoming[c.Target] = append(w.incoming[c.Target], c)
	}

	w.memberOf = make(map[string]string)
	for id, l := range w.Loops {
		if l.ID == "" {
			l.ID = id
		}
		for _, n := range l.Nodes {
			w.memberOf[n] = id
		}
	}
	for id, p := range w.Parallels {
		if p.ID == "" {
			p.ID = id
		}
		for _, n := range p.Nodes {
			w.memberOf[n] = id
		}
	}

	for _, id := range w.BlockOrder {
		b := w.Blocks[id]
		applyDefaults(b)
		selectTool(b)
	}

	return &w, nil
}

func validate(w *Workflow) error {
	starters := 0
	for id, b := range w.Blocks {
		if !knownKinds[b.Kind] {
			return fmt.Errorf("%w: block %s has kind %q", ErrUnknownBlockKind, id, b.Kind)
		}
		if b.Kind == KindStarter {
			starters++
		}
	}
	if starters == 0 {
		return ErrMissingStarter
	}

	for _, c := range w.Connections {
		if _, ok := w.Blocks[c.Source]; !ok {
			return fmt.Errorf("%w: source %s", ErrDanglingEdge, c.Source)
		}
		if _, ok := w.Blocks[c.Target]; !ok {
			return fmt.Errorf("%w: target %s", ErrDanglingEdge, c.Target)
		}
	}

	seen := make(map[string]string)
	check := func(subflowID string, nodes []string) error {
		for _, n := range nodes {
			if _, ok := w.Blocks[n]; !ok {
				return fmt.Errorf("%w: %s in subflow %s", ErrSubflowMemberNotFound, n, subflowID)
			}
			if prev, ok := seen[n]; ok && prev != subflowID {
				return fmt.Errorf("%w: block %s in %s and %s", ErrDuplicateSubflowMember, n, prev, subflowID)
			}
			seen[n] = subflowID
		}
		return nil
	}
	for id, l := range w.Loops {
		if err := check(id, l.Nodes); err != nil {
			return err
		}
	}
	for id, p := range w.Parallels {
		if err := check(id, p.Nodes); err != nil {
			return err
		}
	}

	return nil
}
