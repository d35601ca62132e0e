package changelog

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/changeling/internal/ir"
)

// yamlChangelog is the document root of a YAML changelog.
type yamlChangelog struct {
	Dialect    string      `yaml:"dialect"`
	Changesets []yaml.Node `yaml:"changesets"`
}

// yamlChangeset is one entry of the "changesets" list.
type yamlChangeset struct {
	Author   string     `yaml:"author"`
	ID       string     `yaml:"id"`
	Labels   stringList `yaml:"labels"`
	Context  stringList `yaml:"context"`
	Contexts stringList `yaml:"contexts"`
	RunWith  string     `yaml:"runWith"`
	Comment  string     `yaml:"comment"`
	Forward  string     `yaml:"forward"`
	Rollback string     `yaml:"rollback"`
}

var yamlChangesetKeys = map[string]bool{
	"author": true, "id": true, "labels": true, "context": true, "contexts": true,
	"runWith": true, "comment": true, "forward": true, "rollback": true,
}

// stringList accepts either a YAML sequence or a comma-separated scalar.
type stringList []string

func (l *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*l = splitList(value.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return errors.New("expected a list or a comma-separated string")
	}
}

// parseYAML parses:
//
//	dialect: mongodb
//	changesets:
//	  - author: jbennett
//	    id: "1"
//	    labels: [release-1.0.0]
//	    runWith: mongosh
//	    forward: db.createCollection('Organizations')
//	    rollback: db.Organizations.drop()
func parseYAML(file string, data []byte) ([]ir.Changeset, error) {
	var doc yamlChangelog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, newParseError(ErrCodeSyntax, file, 0, "decode yaml: %v", err)
	}

	sets := make([]ir.Changeset, 0, len(doc.Changesets))
	for i := range doc.Changesets {
		node := &doc.Changesets[i]
		if node.Kind != yaml.MappingNode {
			return nil, newParseError(ErrCodeSyntax, file, node.Line, "changesets[%d]: expected a mapping", i)
		}
		for k := 0; k+1 < len(node.Content); k += 2 {
			key := node.Content[k]
			if !yamlChangesetKeys[key.Value] {
				return nil, newParseError(ErrCodeAttribute, file, key.Line, "changesets[%d]: unknown field %q", i, key.Value)
			}
		}

		var y yamlChangeset
		if err := node.Decode(&y); err != nil {
			return nil, newParseError(ErrCodeSyntax, file, node.Line, "changesets[%d]: %v", i, err)
		}

		kind := operationKind(y.RunWith, doc.Dialect)
		cs := ir.Changeset{
			ID:      ir.ChangesetID{Author: y.Author, ID: y.ID},
			Labels:  y.Labels,
			Context: ir.Context{RunWith: y.RunWith, Contexts: append(y.Context, y.Contexts...)},
			Comment: y.Comment,
			Forward: ir.Operation{Kind: kind, Body: strings.TrimSpace(y.Forward)},
			Source:  ir.SourcePos{File: file, Line: node.Line},
		}
		if y.Rollback != "" {
			cs.Rollback = &ir.Operation{Kind: kind, Body: strings.TrimSpace(y.Rollback)}
		}
		sets = append(sets, cs)
	}
	return sets, nil
}
