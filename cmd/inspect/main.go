package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"

	"github.com/astromechza/appcanvas/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	pathVar := flag.String("path", "focus", "the slash separated attribute path to track through history, empty for the whole tree")
	formatVar := flag.String("format", "dot", "the output format: dot or svg")
	outVar := flag.String("out", "", "write the graph to this file instead of stdout")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the file to read")
	}

	buff, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	doc, err := automerge.Load(buff)
	if err != nil {
		return fmt.Errorf("failed to load doc: %w", err)
	}
	slog.Info("loaded doc", "contents", doc.RootMap().GoString())
	slog.Info("loaded heads", "heads", doc.Heads())

	var format graphviz.Format
	switch *formatVar {
	case "dot":
		format = graphviz.XDOT
	case "svg":
		format = graphviz.SVG
	default:
		return fmt.Errorf("unsupported format %q", *formatVar)
	}

	var path []string
	if *pathVar != "" {
		path = strings.Split(*pathVar, "/")
	}
	changes, err := viz.History(doc, path)
	if err != nil {
		return err
	}
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash, "actor", change.Actor, "seq", change.Seq, "message", change.Message, "value", change.Value)
	}

	out := os.Stdout
	if *outVar != "" {
		f, err := os.Create(*outVar)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	return viz.Render(changes, format, out)
}
