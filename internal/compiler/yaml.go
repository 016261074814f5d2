package compiler

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docrepo/internal/schema"
)

// CompileYAML reads every entity declared under the top-level "entity" key
// of a YAML document. The shape mirrors the CUE form:
//
//	entity:
//	  contact:
//	    table: contacts
//	    fields:
//	      name: Id
//	      email: [Unique, Indexed]
//	      address: {kind: Unique, since: 3}
//
// Declarations and fields keep document order.
func CompileYAML(data []byte, source string) ([]*Declaration, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &CompileError{Field: "yaml", Message: err.Error()}
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return []*Declaration{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, &CompileError{Field: "yaml", Message: "document must be a mapping", Line: root.Line}
	}

	entities := lookupKey(root, "entity")
	if entities == nil {
		return []*Declaration{}, nil
	}
	return CompileYAMLNode(entities, source)
}

// CompileYAMLNode reads declarations from an already parsed mapping of
// entity name to body, the value found under the "entity" key.
func CompileYAMLNode(entities *yaml.Node, source string) ([]*Declaration, error) {
	if entities.Kind != yaml.MappingNode {
		return nil, &CompileError{Field: "entity", Message: "entity must be a mapping of declarations", Line: entities.Line}
	}

	decls := []*Declaration{}
	for i := 0; i+1 < len(entities.Content); i += 2 {
		name, body := entities.Content[i], entities.Content[i+1]
		decl, err := compileYAMLEntity(name.Value, body)
		if err != nil {
			return nil, err
		}
		decl.Source = source
		decl.Line = name.Line
		decls = append(decls, decl)
	}
	return decls, nil
}

func compileYAMLEntity(name string, body *yaml.Node) (*Declaration, error) {
	prefix := "entity." + name
	if body.Kind != yaml.MappingNode {
		return nil, &CompileError{Field: prefix, Message: "declaration must be a mapping", Line: body.Line}
	}

	decl := &Declaration{Name: name}
	if table := lookupKey(body, "table"); table != nil {
		if table.Kind != yaml.ScalarNode {
			return nil, &CompileError{Field: prefix + ".table", Message: "table must be a string", Line: table.Line}
		}
		decl.Table = table.Value
	}

	fields := lookupKey(body, "fields")
	if fields == nil {
		return nil, &CompileError{Field: prefix + ".fields", Message: "fields is required", Line: body.Line}
	}
	if fields.Kind != yaml.MappingNode {
		return nil, &CompileError{Field: prefix + ".fields", Message: "fields must be a mapping", Line: fields.Line}
	}
	for i := 0; i+1 < len(fields.Content); i += 2 {
		field, value := fields.Content[i].Value, fields.Content[i+1]
		fds, err := parseYAMLAnnotations(prefix+".fields."+field, field, value)
		if err != nil {
			return nil, err
		}
		decl.Fields = append(decl.Fields, fds...)
	}
	return decl, nil
}

func parseYAMLAnnotations(path, field string, n *yaml.Node) ([]FieldDecl, error) {
	if n.Kind != yaml.SequenceNode {
		fd, err := parseYAMLAnnotation(path, field, n)
		if err != nil {
			return nil, err
		}
		return []FieldDecl{fd}, nil
	}
	if len(n.Content) == 0 {
		return nil, &CompileError{Field: path, Message: "annotation list is empty", Line: n.Line}
	}
	out := make([]FieldDecl, 0, len(n.Content))
	for _, item := range n.Content {
		fd, err := parseYAMLAnnotation(path, field, item)
		if err != nil {
			return nil, err
		}
		out = append(out, fd)
	}
	return out, nil
}

type yamlAnnotation struct {
	Kind  string `yaml:"kind"`
	Since int    `yaml:"since"`
}

func parseYAMLAnnotation(path, field string, n *yaml.Node) (FieldDecl, error) {
	fd := FieldDecl{Field: field, Line: n.Line}
	switch n.Kind {
	case yaml.ScalarNode:
		fd.Kind = n.Value
	case yaml.MappingNode:
		var a yamlAnnotation
		if err := n.Decode(&a); err != nil {
			return fd, &CompileError{Field: path, Message: err.Error(), Line: n.Line}
		}
		if a.Kind == "" {
			return fd, &CompileError{Field: path + ".kind", Message: "kind is required", Line: n.Line}
		}
		fd.Kind, fd.Since = a.Kind, a.Since
	default:
		return fd, &CompileError{Field: path, Message: "expected annotation name, mapping or list", Line: n.Line}
	}

	if _, ok := schema.ParseKind(fd.Kind); !ok {
		return fd, &CompileError{Field: path, Message: fmt.Sprintf("unknown annotation %q", fd.Kind), Line: n.Line}
	}
	return fd, nil
}

func lookupKey(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}
