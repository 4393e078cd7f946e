package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	json "github.com/goccy/go-json"

	"github.com/lazygraph/lazygraph/internal/engine"
	"github.com/lazygraph/lazygraph/internal/eventbus"
	"github.com/lazygraph/lazygraph/internal/graph"
	"github.com/lazygraph/lazygraph/internal/otel"
	"github.com/lazygraph/lazygraph/internal/schema"
	"github.com/lazygraph/lazygraph/internal/server"
)

const rootUsage = `lazygraph — schema-driven lazy rules engine

USAGE:
  lazygraph <command> [flags]

COMMANDS:
  serve            Run the HTTP resolve endpoint for a schema
  compile          Build a schema document and report violations
  query            Resolve a query against a schema and input document
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -schema <file>          Schema document, JSON or YAML (required)
  -addr <addr>            HTTP listen address (default: :8080)
  -pretty                 Pretty-print JSON responses
  -timeout <duration>     Per-request timeout, e.g. 10s (default: 10s)
  -validate               Validate inputs against the structural schema
  -otel.endpoint <addr>   OTLP collector endpoint
  -otel.service <name>    OpenTelemetry service name (default: lazygraph)
`

const compileUsage = `compile FLAGS:
  -schema <file>   Schema document, JSON or YAML (required)
  (Rule binding and calc compilation always run; exits non-zero on errors)
`

const queryUsage = `query FLAGS:
  -schema <file>   Schema document, JSON or YAML (required)
  -input <file>    Input document, JSON (default: empty document)
  -path <path>     Query path; empty resolves the whole graph
  -debug           Include the evaluation trace
  -strip           Emit the strip-missing JSON view instead of the envelope
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := args[0]
	cmdArgs := args[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "compile":
		return cmdCompile(cmdArgs)
	case "query":
		return cmdQuery(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "compile":
		fmt.Print(compileUsage)
	case "query":
		fmt.Print(queryUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func loadGraph(schemaPath string) (*graph.Graph, any, error) {
	doc, err := schema.LoadFile(schemaPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load schema: %w", err)
	}
	g, err := graph.Build(doc)
	if err != nil {
		return nil, nil, err
	}
	return g, doc, nil
}

func cmdServe(args []string) error {
	schemaPath := ""
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	validate := false
	otelEndpoint := ""
	otelService := "lazygraph"

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaPath, "schema", schemaPath, "Schema document")
	fs.StringVar(&addr, "addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "timeout", timeout, "Per-request timeout")
	fs.BoolVar(&validate, "validate", validate, "Validate inputs structurally")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if schemaPath == "" {
		fmt.Fprint(os.Stderr, serveUsage)
		return fmt.Errorf("-schema is required")
	}

	g, doc, err := loadGraph(schemaPath)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}()

	opts := []server.Option{server.WithTimeout(timeout)}
	if pretty {
		opts = append(opts, server.WithPretty())
	}
	if validate {
		v, err := schema.CompileValidator(doc)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithValidator(v))
	}

	h := server.New(g, opts...)
	log.Printf("lazygraph listening on %s (schema %s)", addr, schemaPath)
	return http.ListenAndServe(addr, h)
}

func cmdCompile(args []string) error {
	schemaPath := ""
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaPath, "schema", schemaPath, "Schema document")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, compileUsage)
		return err
	}
	if schemaPath == "" {
		fmt.Fprint(os.Stderr, compileUsage)
		return fmt.Errorf("-schema is required")
	}

	if _, _, err := loadGraph(schemaPath); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func cmdQuery(args []string) error {
	schemaPath := ""
	inputPath := ""
	path := ""
	debug := false
	strip := false

	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaPath, "schema", schemaPath, "Schema document")
	fs.StringVar(&inputPath, "input", inputPath, "Input document")
	fs.StringVar(&path, "path", path, "Query path")
	fs.BoolVar(&debug, "debug", debug, "Include evaluation trace")
	fs.BoolVar(&strip, "strip", strip, "Emit the strip-missing view")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, queryUsage)
		return err
	}
	if schemaPath == "" {
		fmt.Fprint(os.Stderr, queryUsage)
		return fmt.Errorf("-schema is required")
	}

	g, _, err := loadGraph(schemaPath)
	if err != nil {
		return err
	}

	input := map[string]any{}
	if inputPath != "" {
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return fmt.Errorf("load input: %w", err)
		}
		if err := json.Unmarshal(data, &input); err != nil {
			return fmt.Errorf("parse input: %w", err)
		}
	}

	var opts []engine.Option
	if debug {
		opts = append(opts, engine.WithDebug())
	}
	ec := engine.NewContext(g, input, opts...)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if strip {
		out, err := ec.GetJSON(path)
		if err != nil {
			return err
		}
		var pretty any
		if err := json.Unmarshal(out, &pretty); err != nil {
			return err
		}
		return enc.Encode(pretty)
	}
	return enc.Encode(ec.Resolve(path))
}
