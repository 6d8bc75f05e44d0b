package flow

import (
	"encoding/json"
	"fmt"

	"github.com/woolane/journey/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// documentSchema describes the graph document exchanged with the
// authoring UI. The engine only consumes this shape; it never emits
// it.
const documentSchema = `{
	"type": "object",
	"required": ["nodes", "edges"],
	"properties": {
		"nodes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "type"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"type": {"type": "string", "enum": ["trigger", "action", "delay", "condition"]},
					"config": {"type": "object"}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["source", "target"],
				"properties": {
					"source": {"type": "string", "minLength": 1},
					"target": {"type": "string", "minLength": 1},
					"label": {"type": "string", "enum": ["true", "false"]}
				}
			}
		}
	}
}`

type documentNode struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

type document struct {
	Nodes []documentNode `json:"nodes"`
	Edges []*models.Edge `json:"edges"`
}

// ParseDocument validates a graph document against the document schema
// and decodes it into typed nodes and edges. The result still needs
// Validate before it may be activated.
func ParseDocument(data []byte) ([]*models.Node, []*models.Edge, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check graph document: %w", err)
	}

	if !result.Valid() {
		issues := make([]Issue, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, Issue{Code: InvalidNodeConfig, Detail: desc.String()})
		}

		return nil, nil, &GraphError{Issues: issues}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to decode graph document: %w", err)
	}

	nodes := make([]*models.Node, 0, len(doc.Nodes))
	for _, raw := range doc.Nodes {
		node, err := decodeNode(raw)
		if err != nil {
			return nil, nil, err
		}

		nodes = append(nodes, node)
	}

	return nodes, doc.Edges, nil
}

// decodeNode maps a document node onto the closed node union. The
// action kind lives inside config as "kind" alongside the kind's own
// parameters.
func decodeNode(raw documentNode) (*models.Node, error) {
	node := &models.Node{ID: raw.ID, Type: models.NodeType(raw.Type)}

	switch node.Type {
	case models.NodeTypeTrigger:
		return node, nil
	case models.NodeTypeDelay:
		cfg := &models.DelayConfig{}
		if err := decodeConfig(raw, cfg); err != nil {
			return nil, err
		}

		node.Delay = cfg
	case models.NodeTypeCondition:
		cfg := &models.ConditionConfig{}
		if err := decodeConfig(raw, cfg); err != nil {
			return nil, err
		}

		node.Condition = cfg
	case models.NodeTypeAction:
		var kind struct {
			Kind models.ActionKind `json:"kind"`
		}

		if err := decodeConfig(raw, &kind); err != nil {
			return nil, err
		}

		cfg := &models.ActionConfig{}
		if err := decodeConfig(raw, cfg); err != nil {
			return nil, err
		}

		node.Kind = kind.Kind
		node.Action = cfg
	}

	return node, nil
}

func decodeConfig(raw documentNode, into any) error {
	if len(raw.Config) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw.Config, into); err != nil {
		return fmt.Errorf("failed to decode config of node %s: %w", raw.ID, err)
	}

	return nil
}
