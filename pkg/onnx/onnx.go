// Package onnx provides a minimal wire-level codec for serialized ONNX models.
//
// Only the fields this tool needs to read or rewrite are decoded into Go
// values: the model envelope, the graph, and the per-node metadata strings.
// Everything else (tensor initializers, value infos, node attributes, fields
// added by newer opset revisions) is carried through as raw wire bytes and
// re-emitted untouched, so a decode/encode cycle of a canonically serialized
// model reproduces every byte outside the fields that were rewritten.
//
// The codec is built directly on protobuf wire primitives
// (google.golang.org/protobuf/encoding/protowire) rather than generated
// bindings: the full ONNX schema is large, and generated types would not give
// the raw-passthrough guarantee the renamer depends on.
//
// Example:
//
//	m, err := onnx.Load("model.onnx")
//	if err != nil {
//		return err
//	}
//	for i, n := range m.Graph.Nodes {
//		n.Name = fmt.Sprintf("node%d", i)
//	}
//	err = onnx.Save("model_modified.onnx", m)
package onnx

import (
	"fmt"
	"os"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from onnx.proto (ModelProto, GraphProto, NodeProto,
// OperatorSetIdProto). These are fixed by the ONNX specification.
const (
	fieldModelIRVersion       = 1
	fieldModelProducerName    = 2
	fieldModelProducerVersion = 3
	fieldModelDomain          = 4
	fieldModelVersion         = 5
	fieldModelDocString       = 6
	fieldModelGraph           = 7
	fieldModelOpsetImport     = 8

	fieldGraphNode      = 1
	fieldGraphName      = 2
	fieldGraphDocString = 10

	fieldNodeInput     = 1
	fieldNodeOutput    = 2
	fieldNodeName      = 3
	fieldNodeOpType    = 4
	fieldNodeDocString = 6
	fieldNodeDomain    = 7

	fieldOpsetDomain  = 1
	fieldOpsetVersion = 2
)

// rawField is one undecoded wire field, kept as its full tag+value encoding.
type rawField struct {
	num protowire.Number
	enc []byte
}

// Model is the decoded ONNX ModelProto envelope.
//
// Graph is nil when the serialized model carries no graph message. Fields the
// codec does not model (metadata_props, training_info, functions, ...) are
// retained internally and survive a Marshal round-trip.
type Model struct {
	IRVersion       int64
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *Graph
	OpsetImport     []*OperatorSet

	unknown []rawField
}

// Graph is the decoded ONNX GraphProto. Nodes preserves the exact sequence
// order from the wire; initializers, inputs, outputs and value infos are
// carried as raw bytes.
type Graph struct {
	Name      string
	DocString string
	Nodes     []*Node

	unknown []rawField
}

// Node is one computation node. Attributes are carried as raw bytes.
type Node struct {
	Name      string
	OpType    string
	Domain    string
	DocString string
	Input     []string
	Output    []string

	unknown []rawField
}

// OperatorSet is one opset_import entry.
type OperatorSet struct {
	Domain  string
	Version int64

	unknown []rawField
}

// Unmarshal decodes a serialized ONNX model.
func Unmarshal(b []byte) (*Model, error) {
	m := &Model{}
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return nil, fmt.Errorf("onnx: model: %w", protowire.ParseError(tagLen))
		}
		rest := b[tagLen:]
		var n int
		switch {
		case num == fieldModelIRVersion && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(rest)
			m.IRVersion = int64(v)
		case num == fieldModelProducerName && typ == protowire.BytesType:
			m.ProducerName, n = protowire.ConsumeString(rest)
		case num == fieldModelProducerVersion && typ == protowire.BytesType:
			m.ProducerVersion, n = protowire.ConsumeString(rest)
		case num == fieldModelDomain && typ == protowire.BytesType:
			m.Domain, n = protowire.ConsumeString(rest)
		case num == fieldModelVersion && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(rest)
			m.ModelVersion = int64(v)
		case num == fieldModelDocString && typ == protowire.BytesType:
			m.DocString, n = protowire.ConsumeString(rest)
		case num == fieldModelGraph && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(rest)
			if n >= 0 {
				g, err := unmarshalGraph(v)
				if err != nil {
					return nil, err
				}
				m.Graph = g
			}
		case num == fieldModelOpsetImport && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(rest)
			if n >= 0 {
				set, err := unmarshalOperatorSet(v)
				if err != nil {
					return nil, err
				}
				m.OpsetImport = append(m.OpsetImport, set)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, rest)
			if n >= 0 {
				m.unknown = append(m.unknown, rawField{num, b[:tagLen+n]})
			}
		}
		if n < 0 {
			return nil, fmt.Errorf("onnx: model field %d: %w", num, protowire.ParseError(n))
		}
		b = b[tagLen+n:]
	}
	return m, nil
}

func unmarshalGraph(b []byte) (*Graph, error) {
	g := &Graph{}
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return nil, fmt.Errorf("onnx: graph: %w", protowire.ParseError(tagLen))
		}
		rest := b[tagLen:]
		var n int
		switch {
		case num == fieldGraphNode && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(rest)
			if n >= 0 {
				node, err := unmarshalNode(v)
				if err != nil {
					return nil, err
				}
				g.Nodes = append(g.Nodes, node)
			}
		case num == fieldGraphName && typ == protowire.BytesType:
			g.Name, n = protowire.ConsumeString(rest)
		case num == fieldGraphDocString && typ == protowire.BytesType:
			g.DocString, n = protowire.ConsumeString(rest)
		default:
			n = protowire.ConsumeFieldValue(num, typ, rest)
			if n >= 0 {
				g.unknown = append(g.unknown, rawField{num, b[:tagLen+n]})
			}
		}
		if n < 0 {
			return nil, fmt.Errorf("onnx: graph field %d: %w", num, protowire.ParseError(n))
		}
		b = b[tagLen+n:]
	}
	return g, nil
}

func unmarshalNode(b []byte) (*Node, error) {
	node := &Node{}
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return nil, fmt.Errorf("onnx: node: %w", protowire.ParseError(tagLen))
		}
		rest := b[tagLen:]
		var n int
		switch {
		case num == fieldNodeInput && typ == protowire.BytesType:
			var v string
			v, n = protowire.ConsumeString(rest)
			if n >= 0 {
				node.Input = append(node.Input, v)
			}
		case num == fieldNodeOutput && typ == protowire.BytesType:
			var v string
			v, n = protowire.ConsumeString(rest)
			if n >= 0 {
				node.Output = append(node.Output, v)
			}
		case num == fieldNodeName && typ == protowire.BytesType:
			node.Name, n = protowire.ConsumeString(rest)
		case num == fieldNodeOpType && typ == protowire.BytesType:
			node.OpType, n = protowire.ConsumeString(rest)
		case num == fieldNodeDocString && typ == protowire.BytesType:
			node.DocString, n = protowire.ConsumeString(rest)
		case num == fieldNodeDomain && typ == protowire.BytesType:
			node.Domain, n = protowire.ConsumeString(rest)
		default:
			n = protowire.ConsumeFieldValue(num, typ, rest)
			if n >= 0 {
				node.unknown = append(node.unknown, rawField{num, b[:tagLen+n]})
			}
		}
		if n < 0 {
			return nil, fmt.Errorf("onnx: node field %d: %w", num, protowire.ParseError(n))
		}
		b = b[tagLen+n:]
	}
	return node, nil
}

func unmarshalOperatorSet(b []byte) (*OperatorSet, error) {
	set := &OperatorSet{}
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return nil, fmt.Errorf("onnx: opset: %w", protowire.ParseError(tagLen))
		}
		rest := b[tagLen:]
		var n int
		switch {
		case num == fieldOpsetDomain && typ == protowire.BytesType:
			set.Domain, n = protowire.ConsumeString(rest)
		case num == fieldOpsetVersion && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(rest)
			set.Version = int64(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, rest)
			if n >= 0 {
				set.unknown = append(set.unknown, rawField{num, b[:tagLen+n]})
			}
		}
		if n < 0 {
			return nil, fmt.Errorf("onnx: opset field %d: %w", num, protowire.ParseError(n))
		}
		b = b[tagLen+n:]
	}
	return set, nil
}

// Marshal serializes the model back to ONNX wire format. Fields are emitted
// in canonical field-number order with preserved raw fields interleaved at
// their original numbers, matching the output of the reference ONNX
// serializers. Marshal of an unmodified, canonically serialized Model
// reproduces the input bytes.
func Marshal(m *Model) []byte {
	var fs []rawField
	if m.IRVersion != 0 {
		fs = append(fs, encVarint(fieldModelIRVersion, uint64(m.IRVersion)))
	}
	if m.ProducerName != "" {
		fs = append(fs, encString(fieldModelProducerName, m.ProducerName))
	}
	if m.ProducerVersion != "" {
		fs = append(fs, encString(fieldModelProducerVersion, m.ProducerVersion))
	}
	if m.Domain != "" {
		fs = append(fs, encString(fieldModelDomain, m.Domain))
	}
	if m.ModelVersion != 0 {
		fs = append(fs, encVarint(fieldModelVersion, uint64(m.ModelVersion)))
	}
	if m.DocString != "" {
		fs = append(fs, encString(fieldModelDocString, m.DocString))
	}
	if m.Graph != nil {
		fs = append(fs, encBytes(fieldModelGraph, marshalGraph(m.Graph)))
	}
	for _, set := range m.OpsetImport {
		fs = append(fs, encBytes(fieldModelOpsetImport, marshalOperatorSet(set)))
	}
	return join(fs, m.unknown)
}

func marshalGraph(g *Graph) []byte {
	var fs []rawField
	for _, n := range g.Nodes {
		fs = append(fs, encBytes(fieldGraphNode, marshalNode(n)))
	}
	if g.Name != "" {
		fs = append(fs, encString(fieldGraphName, g.Name))
	}
	if g.DocString != "" {
		fs = append(fs, encString(fieldGraphDocString, g.DocString))
	}
	return join(fs, g.unknown)
}

func marshalNode(n *Node) []byte {
	var fs []rawField
	for _, s := range n.Input {
		fs = append(fs, encString(fieldNodeInput, s))
	}
	for _, s := range n.Output {
		fs = append(fs, encString(fieldNodeOutput, s))
	}
	if n.Name != "" {
		fs = append(fs, encString(fieldNodeName, n.Name))
	}
	if n.OpType != "" {
		fs = append(fs, encString(fieldNodeOpType, n.OpType))
	}
	if n.DocString != "" {
		fs = append(fs, encString(fieldNodeDocString, n.DocString))
	}
	if n.Domain != "" {
		fs = append(fs, encString(fieldNodeDomain, n.Domain))
	}
	return join(fs, n.unknown)
}

func marshalOperatorSet(set *OperatorSet) []byte {
	var fs []rawField
	if set.Domain != "" {
		fs = append(fs, encString(fieldOpsetDomain, set.Domain))
	}
	if set.Version != 0 {
		fs = append(fs, encVarint(fieldOpsetVersion, uint64(set.Version)))
	}
	return join(fs, set.unknown)
}

func encVarint(num protowire.Number, v uint64) rawField {
	b := protowire.AppendTag(nil, num, protowire.VarintType)
	return rawField{num, protowire.AppendVarint(b, v)}
}

func encString(num protowire.Number, v string) rawField {
	b := protowire.AppendTag(nil, num, protowire.BytesType)
	return rawField{num, protowire.AppendString(b, v)}
}

func encBytes(num protowire.Number, v []byte) rawField {
	b := protowire.AppendTag(nil, num, protowire.BytesType)
	return rawField{num, protowire.AppendBytes(b, v)}
}

// join merges decoded and preserved fields into canonical field-number order.
// The sort is stable so repeated fields keep their relative wire order.
func join(typed, unknown []rawField) []byte {
	fs := make([]rawField, 0, len(typed)+len(unknown))
	fs = append(fs, typed...)
	fs = append(fs, unknown...)
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].num < fs[j].num })
	var size int
	for _, f := range fs {
		size += len(f.enc)
	}
	out := make([]byte, 0, size)
	for _, f := range fs {
		out = append(out, f.enc...)
	}
	return out
}

// Load reads and decodes an ONNX model file.
func Load(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	m, err := Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// Save encodes the model and writes it to path, creating the file if absent
// and truncating it otherwise.
func Save(path string, m *Model) error {
	if err := os.WriteFile(path, Marshal(m), 0644); err != nil {
		return fmt.Errorf("writing model: %w", err)
	}
	return nil
}
