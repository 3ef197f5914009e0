// Command gen-api-docs emits a JSON reference of the HTTP API by
// reading the @Endpoint annotations on the handler functions.
//
// Usage: go run ./scripts/gen-api-docs [handlers-dir]
package main

import (
	"encoding/json"
	"go/ast"
	"go/parser"
	"go/token"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Handler     string `json:"handler"`
	Description string `json:"description,omitempty"`
}

type Reference struct {
	Count     int        `json:"count"`
	Endpoints []Endpoint `json:"endpoints"`
}

var endpointTag = regexp.MustCompile(`@Endpoint\s+(GET|POST|PUT|DELETE|PATCH)\s+(/\S*)`)

func main() {
	dir := "internal/handlers"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.go"))
	if err != nil {
		log.Fatalf("glob: %v", err)
	}

	var endpoints []Endpoint
	for _, file := range files {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}
		endpoints = append(endpoints, extractEndpoints(file)...)
	}

	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Path != endpoints[j].Path {
			return endpoints[i].Path < endpoints[j].Path
		}
		return endpoints[i].Method < endpoints[j].Method
	})

	ref := Reference{Count: len(endpoints), Endpoints: endpoints}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ref); err != nil {
		log.Fatalf("encode: %v", err)
	}
}

// extractEndpoints reads every annotated handler in one file. The first
// prose line of the doc comment becomes the description.
func extractEndpoints(path string) []Endpoint {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		log.Fatalf("parse %s: %v", path, err)
	}

	var endpoints []Endpoint
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Doc == nil {
			continue
		}

		var desc string
		for _, comment := range fn.Doc.List {
			line := strings.TrimSpace(strings.TrimPrefix(comment.Text, "//"))
			if desc == "" && line != "" && !strings.HasPrefix(line, "@") {
				desc = strings.TrimPrefix(line, fn.Name.Name+" ")
			}
			m := endpointTag.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			endpoints = append(endpoints, Endpoint{
				Method:      m[1],
				Path:        m[2],
				Handler:     fn.Name.Name,
				Description: desc,
			})
		}
	}
	return endpoints
}
