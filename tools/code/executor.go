// Package code provides source structure analysis for change review using
// tree-sitter.
package code

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// Executor extracts declaration-level structure from Go source files.
type Executor struct {
	repoRoot string
	parser   *sitter.Parser
}

// NewExecutor creates a new code structure executor.
func NewExecutor(repoRoot string) *Executor {
	p := sitter.NewParser()
	p.SetLanguage(golang.GetLanguage())
	return &Executor{repoRoot: repoRoot, parser: p}
}

// Declaration is one top-level declaration in a source file.
type Declaration struct {
	Kind      string `json:"kind"` // "func", "method", "type", "const", "var"
	Name      string `json:"name"`
	Receiver  string `json:"receiver,omitempty"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Structure parses the requested Go files and reports their top-level
// declarations. Non-Go files are skipped with a note rather than failing the
// whole request.
func (e *Executor) Structure(ctx context.Context, args map[string]any) (map[string]any, error) {
	files := argFiles(args)
	if len(files) == 0 {
		return nil, fmt.Errorf("files are required")
	}

	perFile := make([]map[string]any, 0, len(files))
	total := 0
	for _, rel := range files {
		if !strings.HasSuffix(rel, ".go") {
			perFile = append(perFile, map[string]any{"file": rel, "skipped": "not a Go file"})
			continue
		}

		decls, pkg, err := e.parseFile(ctx, rel)
		if err != nil {
			perFile = append(perFile, map[string]any{"file": rel, "error": err.Error()})
			continue
		}

		total += len(decls)
		perFile = append(perFile, map[string]any{
			"file":         rel,
			"package":      pkg,
			"declarations": decls,
		})
	}

	return map[string]any{
		"files":   perFile,
		"summary": fmt.Sprintf("%d declarations across %d files", total, len(files)),
	}, nil
}

func (e *Executor) parseFile(ctx context.Context, rel string) ([]Declaration, string, error) {
	if strings.Contains(rel, "..") {
		return nil, "", fmt.Errorf("path traversal not allowed")
	}

	content, err := os.ReadFile(filepath.Join(e.repoRoot, filepath.Clean(rel)))
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}

	tree, err := e.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, "", fmt.Errorf("parse file: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	pkg := ""
	var decls []Declaration

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "package_clause":
			if name := node.NamedChild(0); name != nil {
				pkg = name.Content(content)
			}
		case "function_declaration":
			decls = append(decls, declaration("func", nameOf(node, content), "", node))
		case "method_declaration":
			decls = append(decls, declaration("method", nameOf(node, content), receiverOf(node, content), node))
		case "type_declaration":
			for j := 0; j < int(node.NamedChildCount()); j++ {
				spec := node.NamedChild(j)
				if spec.Type() == "type_spec" {
					decls = append(decls, declaration("type", nameOf(spec, content), "", spec))
				}
			}
		case "const_declaration", "var_declaration":
			kind := strings.TrimSuffix(node.Type(), "_declaration")
			for j := 0; j < int(node.NamedChildCount()); j++ {
				spec := node.NamedChild(j)
				if spec.Type() == "const_spec" || spec.Type() == "var_spec" {
					decls = append(decls, declaration(kind, nameOf(spec, content), "", spec))
				}
			}
		}
	}

	return decls, pkg, nil
}

func declaration(kind, name, receiver string, node *sitter.Node) Declaration {
	return Declaration{
		Kind:      kind,
		Name:      name,
		Receiver:  receiver,
		StartLine: int(node.StartPoint().Row) + 1,
		EndLine:   int(node.EndPoint().Row) + 1,
	}
}

func nameOf(node *sitter.Node, content []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return name.Content(content)
	}
	return ""
}

// receiverOf extracts the receiver type of a method declaration, without
// pointer markers.
func receiverOf(node *sitter.Node, content []byte) string {
	recv := node.ChildByFieldName("receiver")
	if recv == nil || recv.NamedChildCount() == 0 {
		return ""
	}
	param := recv.NamedChild(0)
	typ := param.ChildByFieldName("type")
	if typ == nil {
		return ""
	}
	return strings.TrimPrefix(typ.Content(content), "*")
}

func argFiles(args map[string]any) []string {
	switch v := args["files"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
