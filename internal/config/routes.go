package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oriys/customruntime/internal/domain"
)

// DefaultRoutes is used when no route file is configured.
func DefaultRoutes() domain.RouteTable {
	return domain.RouteTable{
		domain.MethodAny: {
			{Pattern: "/hello", HandlerID: "EchoHandler"},
		},
	}
}

// LoadRoutes reads a route table file.
func LoadRoutes(path string) (domain.RouteTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	table, err := ParseRoutes(data)
	if err != nil {
		return nil, fmt.Errorf("parse routes %s: %w", path, err)
	}
	return table, nil
}

// ParseRoutes decodes a route table:
//
//	ANY:
//	  - /hello: EchoHandler
//	GET:
//	  - /api:
//	      - /users/:id: UserHandler
//
// Each method maps to an ordered list of single-entry mappings. A list in
// place of a handler id declares a nested group under that prefix.
// Registration order follows document order.
func ParseRoutes(data []byte) (domain.RouteTable, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	table := domain.RouteTable{}
	if len(doc.Content) == 0 {
		return table, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: route table must be a mapping of methods", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		method := strings.ToUpper(root.Content[i].Value)
		bindings, err := parseBindings(root.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", method, err)
		}
		table[method] = append(table[method], bindings...)
	}
	return table, nil
}

func parseBindings(n *yaml.Node) ([]domain.RouteBinding, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a list of routes", n.Line)
	}
	var out []domain.RouteBinding
	for _, item := range n.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: route must be a pattern: handler mapping", item.Line)
		}
		for j := 0; j+1 < len(item.Content); j += 2 {
			pattern, value := item.Content[j].Value, item.Content[j+1]
			switch value.Kind {
			case yaml.ScalarNode:
				if value.Value == "" {
					return nil, fmt.Errorf("line %d: empty handler for %q", value.Line, pattern)
				}
				out = append(out, domain.RouteBinding{Pattern: pattern, HandlerID: value.Value})
			case yaml.SequenceNode:
				children, err := parseBindings(value)
				if err != nil {
					return nil, err
				}
				out = append(out, domain.RouteBinding{Pattern: pattern, Children: children})
			default:
				return nil, fmt.Errorf("line %d: unsupported value for %q", value.Line, pattern)
			}
		}
	}
	return out, nil
}
