package onnx

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire-building helpers. Fields must be appended in canonical (field-number)
// order to produce the same layout the reference ONNX serializers emit.

func appendStr(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMsg(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendUvarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// buildTestModel serializes a small but representative model: two opsets,
// metadata_props (not decoded by the codec), and a graph with initializers,
// value infos, and nodes carrying attributes.
func buildTestModel(t *testing.T) []byte {
	t.Helper()

	// Node "conv1" with an attribute (field 5, opaque to the codec).
	attr := appendStr(nil, 1, "kernel_shape")
	conv := appendStr(nil, fieldNodeInput, "input")
	conv = appendStr(conv, fieldNodeInput, "conv1.weight")
	conv = appendStr(conv, fieldNodeOutput, "conv1_out")
	conv = appendStr(conv, fieldNodeName, "conv1")
	conv = appendStr(conv, fieldNodeOpType, "Conv")
	conv = appendMsg(conv, 5, attr)

	relu := appendStr(nil, fieldNodeInput, "conv1_out")
	relu = appendStr(relu, fieldNodeOutput, "relu_out")
	relu = appendStr(relu, fieldNodeName, "relu")
	relu = appendStr(relu, fieldNodeOpType, "Relu")

	// Anonymous node: no name field on the wire at all.
	gemm := appendStr(nil, fieldNodeInput, "relu_out")
	gemm = appendStr(gemm, fieldNodeOutput, "output")
	gemm = appendStr(gemm, fieldNodeOpType, "Gemm")

	initializer := appendStr(nil, 1, "conv1.weight") // TensorProto.name
	valueInfo := appendStr(nil, 1, "input")          // ValueInfoProto.name

	graph := appendMsg(nil, fieldGraphNode, conv)
	graph = appendMsg(graph, fieldGraphNode, relu)
	graph = appendMsg(graph, fieldGraphNode, gemm)
	graph = appendStr(graph, fieldGraphName, "tcga")
	graph = appendMsg(graph, 5, initializer) // initializer, kept raw
	graph = appendMsg(graph, 11, valueInfo)  // graph input, kept raw

	opset := appendUvarint(nil, fieldOpsetVersion, 13)
	metadata := appendStr(nil, 1, "converted_from")
	metadata = appendStr(metadata, 2, "caffe2")

	model := appendUvarint(nil, fieldModelIRVersion, 7)
	model = appendStr(model, fieldModelProducerName, "pytorch")
	model = appendStr(model, fieldModelProducerVersion, "1.9")
	model = appendUvarint(model, fieldModelVersion, 1)
	model = appendMsg(model, fieldModelGraph, graph)
	model = appendMsg(model, fieldModelOpsetImport, opset)
	model = appendMsg(model, 14, metadata) // metadata_props, kept raw
	return model
}

func TestUnmarshal(t *testing.T) {
	m, err := Unmarshal(buildTestModel(t))
	require.NoError(t, err)

	assert.Equal(t, int64(7), m.IRVersion)
	assert.Equal(t, "pytorch", m.ProducerName)
	assert.Equal(t, "1.9", m.ProducerVersion)
	assert.Equal(t, int64(1), m.ModelVersion)

	require.Len(t, m.OpsetImport, 1)
	assert.Equal(t, "", m.OpsetImport[0].Domain)
	assert.Equal(t, int64(13), m.OpsetImport[0].Version)

	require.NotNil(t, m.Graph)
	assert.Equal(t, "tcga", m.Graph.Name)
	require.Len(t, m.Graph.Nodes, 3)

	conv := m.Graph.Nodes[0]
	assert.Equal(t, "conv1", conv.Name)
	assert.Equal(t, "Conv", conv.OpType)
	assert.Equal(t, []string{"input", "conv1.weight"}, conv.Input)
	assert.Equal(t, []string{"conv1_out"}, conv.Output)

	assert.Equal(t, "relu", m.Graph.Nodes[1].Name)
	assert.Equal(t, "", m.Graph.Nodes[2].Name, "name-less node decodes to empty name")
	assert.Equal(t, "Gemm", m.Graph.Nodes[2].OpType)
}

func TestRoundTrip(t *testing.T) {
	t.Run("unmodified model is byte-identical", func(t *testing.T) {
		in := buildTestModel(t)
		m, err := Unmarshal(in)
		require.NoError(t, err)
		assert.Equal(t, in, Marshal(m))
	})

	t.Run("preserves fields unknown to the codec", func(t *testing.T) {
		// A node carrying every wire type the codec does not decode.
		node := appendStr(nil, fieldNodeName, "n")
		node = protowire.AppendTag(node, 90, protowire.VarintType)
		node = protowire.AppendVarint(node, 42)
		node = protowire.AppendTag(node, 91, protowire.Fixed32Type)
		node = protowire.AppendFixed32(node, 7)
		node = protowire.AppendTag(node, 92, protowire.Fixed64Type)
		node = protowire.AppendFixed64(node, 9)
		node = appendStr(node, 93, "opaque")

		graph := appendMsg(nil, fieldGraphNode, node)
		in := appendMsg(nil, fieldModelGraph, graph)

		m, err := Unmarshal(in)
		require.NoError(t, err)
		assert.Equal(t, in, Marshal(m))
	})

	t.Run("rename keeps everything else intact", func(t *testing.T) {
		in := buildTestModel(t)
		m, err := Unmarshal(in)
		require.NoError(t, err)

		m.Graph.Nodes[0].Name = "node0"
		out := Marshal(m)
		assert.NotEqual(t, in, out)

		back, err := Unmarshal(out)
		require.NoError(t, err)
		assert.Equal(t, "node0", back.Graph.Nodes[0].Name)
		assert.Equal(t, m.Graph.Nodes[0].Input, back.Graph.Nodes[0].Input)

		// Restoring the original name restores the original bytes.
		back.Graph.Nodes[0].Name = "conv1"
		assert.Equal(t, in, Marshal(back))
	})

	t.Run("empty model", func(t *testing.T) {
		m, err := Unmarshal(nil)
		require.NoError(t, err)
		assert.Nil(t, m.Graph)
		assert.Empty(t, Marshal(m))
	})

	t.Run("empty graph", func(t *testing.T) {
		in := appendMsg(nil, fieldModelGraph, appendStr(nil, fieldGraphName, "empty"))
		m, err := Unmarshal(in)
		require.NoError(t, err)
		require.NotNil(t, m.Graph)
		assert.Empty(t, m.Graph.Nodes)
		assert.Equal(t, in, Marshal(m))
	})
}

func TestUnmarshalErrors(t *testing.T) {
	t.Run("truncated input", func(t *testing.T) {
		in := buildTestModel(t)
		_, err := Unmarshal(in[:len(in)-3])
		assert.Error(t, err)
	})

	t.Run("invalid tag", func(t *testing.T) {
		// Field number 0 is not a legal protobuf tag.
		_, err := Unmarshal([]byte{0x00})
		assert.Error(t, err)
	})

	t.Run("truncated nested graph", func(t *testing.T) {
		graph := appendMsg(nil, fieldGraphNode, appendStr(nil, fieldNodeName, "x"))
		in := appendMsg(nil, fieldModelGraph, graph[:len(graph)-1])
		_, err := Unmarshal(in)
		assert.Error(t, err)
	})
}

func TestLoadSave(t *testing.T) {
	dir := t.TempDir()

	t.Run("save then load", func(t *testing.T) {
		in := buildTestModel(t)
		m, err := Unmarshal(in)
		require.NoError(t, err)

		path := filepath.Join(dir, "model.onnx")
		require.NoError(t, Save(path, m))

		written, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, in, written)

		loaded, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, len(m.Graph.Nodes), len(loaded.Graph.Nodes))
	})

	t.Run("load missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "missing.onnx"))
		require.Error(t, err)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("load malformed file", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.onnx")
		require.NoError(t, os.WriteFile(path, []byte{0x00, 0xff, 0xff}, 0644))
		_, err := Load(path)
		assert.Error(t, err)
	})
}
