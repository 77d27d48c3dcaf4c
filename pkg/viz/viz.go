// Package viz renders the change history of a room document, with the value at one path after
// every change, to help explain how participants' edits merged.
package viz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/appcanvas/pkg/attributes"
)

// Change is one node of the history.
type Change struct {
	Hash    string
	Actor   string
	Seq     uint64
	Message string
	Time    time.Time
	Deps    []string
	// Value is the value at the inspected path once the change is applied.
	Value any
}

func (c Change) Label() string {
	encoded, err := json.Marshal(c.Value)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%v", c.Value))
	}
	short := c.Hash
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s %s@%d %s %s", short, c.Actor, c.Seq, c.Message, string(encoded))
}

// History lists every change of doc in causal order, resolving path at each of them. An empty
// path resolves the whole tree.
func History(doc *automerge.Doc, path []string) ([]Change, error) {
	changes, err := doc.Changes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate changes: %w", err)
	}
	out := make([]Change, 0, len(changes))
	for _, change := range changes {
		docAt, err := doc.Fork(change.Hash())
		if err != nil {
			return nil, fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
		}
		var value any
		if len(path) == 0 {
			value = attributes.NewDocStore(docAt).Attributes()
		} else {
			value, _ = attributes.NewDocStore(docAt).Get(path...)
		}
		deps := make([]string, 0, len(change.Dependencies()))
		for _, hash := range change.Dependencies() {
			deps = append(deps, hash.String())
		}
		out = append(out, Change{
			Hash:    change.Hash().String(),
			Actor:   change.ActorID(),
			Seq:     change.ActorSeq(),
			Message: change.Message(),
			Time:    change.Timestamp(),
			Deps:    deps,
			Value:   value,
		})
	}
	return out, nil
}

// Render draws the history as a graph in the given format (graphviz.SVG, graphviz.XDOT, ...).
func Render(changes []Change, format graphviz.Format, w io.Writer) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	nodeMap := make(map[string]*cgraph.Node, len(changes))
	edgeCounter := 0
	for _, change := range changes {
		n, err := graph.CreateNode(change.Hash)
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(change.Label())
		nodeMap[change.Hash] = n

		for _, dep := range change.Deps {
			parent, ok := nodeMap[dep]
			if !ok {
				continue
			}
			edgeCounter++
			if _, err := graph.CreateEdge(strconv.Itoa(edgeCounter), parent, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	if err := g.Render(graph, format, w); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}

// RenderToTemp renders an svg into the temp dir and returns its path.
func RenderToTemp(changes []Change) (string, error) {
	var buff bytes.Buffer
	if err := Render(changes, graphviz.SVG, &buff); err != nil {
		return "", err
	}
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := os.WriteFile(tf, buff.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", tf, err)
	}
	return tf, nil
}
