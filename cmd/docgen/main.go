// Command docgen scans the handler annotations in internal/api and writes an
// AsciiDoc API reference that the dashboard renders under /docs.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

type Endpoint struct {
	Title       string
	Route       string
	Description string
	Response    string
}

// Method returns the HTTP verb of the route.
func (e Endpoint) Method() string {
	method, _, _ := strings.Cut(e.Route, " ")
	return method
}

// Path returns the route without verb and query.
func (e Endpoint) Path() string {
	_, rest, _ := strings.Cut(e.Route, " ")
	path, _, _ := strings.Cut(rest, "?")
	return path
}

// Query returns the documented query parameters, if any.
func (e Endpoint) Query() string {
	_, query, _ := strings.Cut(e.Route, "?")
	return query
}

var (
	reTitle = regexp.MustCompile(`// @Title: (.*)`)
	reRoute = regexp.MustCompile(`// @Route: (.*)`)
	reDesc  = regexp.MustCompile(`// @Description: (.*)`)
	reResp  = regexp.MustCompile(`// @Response: (.*)`)
)

func main() {
	apiDir := flag.String("src", "internal/api", "directory with annotated handlers")
	outPath := flag.String("out", filepath.Join("docs", "api.adoc"), "output file")
	flag.Parse()

	endpoints, err := parseEndpoints(*apiDir)
	if err != nil {
		log.Fatalf("scan %s: %v", *apiDir, err)
	}
	if len(endpoints) == 0 {
		log.Fatalf("no annotated endpoints found in %s", *apiDir)
	}

	if err := os.MkdirAll(filepath.Dir(*outPath), 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}
	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("create %s: %v", *outPath, err)
	}
	if err := writeAsciiDoc(f, endpoints); err != nil {
		f.Close()
		log.Fatalf("write %s: %v", *outPath, err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("close %s: %v", *outPath, err)
	}
	fmt.Printf("Generated %s (%d endpoints)\n", *outPath, len(endpoints))
}

// parseEndpoints reads every non-test .go file in dir. An annotation block
// ends with its @Response line.
func parseEndpoints(dir string) ([]Endpoint, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var endpoints []Endpoint
	for _, file := range files {
		name := file.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		found, err := parseFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, found...)
	}

	sort.SliceStable(endpoints, func(i, j int) bool {
		return endpoints[i].Path() < endpoints[j].Path()
	})
	return endpoints, nil
}

func parseFile(path string) ([]Endpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		endpoints []Endpoint
		current   Endpoint
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		if match := reTitle.FindStringSubmatch(line); len(match) > 1 {
			current.Title = strings.TrimSpace(match[1])
		}
		if match := reRoute.FindStringSubmatch(line); len(match) > 1 {
			current.Route = strings.TrimSpace(match[1])
		}
		if match := reDesc.FindStringSubmatch(line); len(match) > 1 {
			current.Description = strings.TrimSpace(match[1])
		}
		if match := reResp.FindStringSubmatch(line); len(match) > 1 {
			current.Response = strings.TrimSpace(match[1])
			if current.Title != "" && current.Route != "" {
				endpoints = append(endpoints, current)
			}
			current = Endpoint{}
		}
	}
	return endpoints, scanner.Err()
}

func writeAsciiDoc(w io.Writer, endpoints []Endpoint) error {
	b := &strings.Builder{}
	b.WriteString("= API Reference\n")
	b.WriteString(":toc: left\n\n")
	b.WriteString("Generated from the handler annotations in `internal/api`. ")
	b.WriteString("All endpoints exchange JSON. Admin endpoints are rate limited per client.\n\n")

	b.WriteString("[cols=\"1,3,4\",options=\"header\"]\n|===\n|Method |Path |Summary\n")
	for _, ep := range endpoints {
		fmt.Fprintf(b, "|%s |`%s` |%s\n", ep.Method(), ep.Path(), ep.Title)
	}
	b.WriteString("|===\n")

	for _, ep := range endpoints {
		fmt.Fprintf(b, "\n== %s\n\n", ep.Title)
		fmt.Fprintf(b, "`%s %s`\n\n", ep.Method(), ep.Path())
		if q := ep.Query(); q != "" {
			fmt.Fprintf(b, "Query parameters: `%s`\n\n", q)
		}
		if ep.Description != "" {
			fmt.Fprintf(b, "%s\n\n", ep.Description)
		}
		if ep.Response != "" {
			fmt.Fprintf(b, "Response:: `%s`\n", ep.Response)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
