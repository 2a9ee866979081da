// Package onnx reads and writes the parts of the ONNX protobuf format needed
// to rewrite a model graph.
//
// Only the fields the quantizer touches are decoded. Everything else is kept
// as raw wire bytes and written back unchanged, so a decode/encode round trip
// does not lose metadata, functions or training info.
package onnx

// DataType mirrors TensorProto.DataType.
type DataType int32

const (
	DataTypeUndefined DataType = 0
	DataTypeFloat     DataType = 1
	DataTypeUint8     DataType = 2
	DataTypeInt8      DataType = 3
	DataTypeUint16    DataType = 4
	DataTypeInt16     DataType = 5
	DataTypeInt32     DataType = 6
	DataTypeInt64     DataType = 7
	DataTypeString    DataType = 8
	DataTypeBool      DataType = 9
	DataTypeFloat16   DataType = 10
	DataTypeDouble    DataType = 11
	DataTypeUint32    DataType = 12
	DataTypeUint64    DataType = 13
	DataTypeBFloat16  DataType = 16
)

func (d DataType) String() string {
	switch d {
	case DataTypeFloat:
		return "float32"
	case DataTypeUint8:
		return "uint8"
	case DataTypeInt8:
		return "int8"
	case DataTypeUint16:
		return "uint16"
	case DataTypeInt16:
		return "int16"
	case DataTypeInt32:
		return "int32"
	case DataTypeInt64:
		return "int64"
	case DataTypeString:
		return "string"
	case DataTypeBool:
		return "bool"
	case DataTypeFloat16:
		return "float16"
	case DataTypeDouble:
		return "float64"
	case DataTypeUint32:
		return "uint32"
	case DataTypeUint64:
		return "uint64"
	case DataTypeBFloat16:
		return "bfloat16"
	default:
		return "undefined"
	}
}

// AttributeType mirrors AttributeProto.AttributeType.
type AttributeType int32

const (
	AttrUndefined AttributeType = 0
	AttrFloat     AttributeType = 1
	AttrInt       AttributeType = 2
	AttrString    AttributeType = 3
	AttrTensor    AttributeType = 4
	AttrGraph     AttributeType = 5
	AttrFloats    AttributeType = 6
	AttrInts      AttributeType = 7
	AttrStrings   AttributeType = 8
	AttrTensors   AttributeType = 9
	AttrGraphs    AttributeType = 10
)

// DefaultDomain is the operator set domain of the standard ONNX operators.
// Both the empty string and "ai.onnx" name it.
const DefaultDomain = ""

// IsDefaultDomain reports whether domain names the standard operator set.
func IsDefaultDomain(domain string) bool {
	return domain == "" || domain == "ai.onnx"
}

// Model is a decoded ModelProto.
type Model struct {
	IRVersion       int64
	OpsetImports    []OperatorSetID
	ProducerName    string
	ProducerVersion string
	Graph           *Graph

	unknown []byte
}

// OperatorSetID is a decoded OperatorSetIdProto.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// Graph is a decoded GraphProto.
type Graph struct {
	Name         string
	Nodes        []*Node
	Initializers []*Tensor
	Inputs       []*ValueInfo
	Outputs      []*ValueInfo
	ValueInfo    []*ValueInfo

	unknown []byte
}

// Node is a decoded NodeProto.
type Node struct {
	Inputs     []string
	Outputs    []string
	Name       string
	OpType     string
	Domain     string
	Attributes []*Attribute

	unknown []byte
}

// Attribute is a decoded AttributeProto. Tensor, graph and type payloads stay
// in the raw unknown bytes; Subgraphs decodes graphs on demand.
type Attribute struct {
	Name   string
	Type   AttributeType
	F      float32
	I      int64
	S      []byte
	Floats []float32
	Ints   []int64

	unknown []byte
}

// ValueInfo is a decoded ValueInfoProto. Only the name is interpreted.
type ValueInfo struct {
	Name string

	unknown []byte
}

// Tensor is a decoded TensorProto.
type Tensor struct {
	Dims         []int64
	DataType     DataType
	Name         string
	RawData      []byte
	FloatData    []float32
	Int32Data    []int32
	Int64Data    []int64
	DataLocation int32

	unknown []byte
}

const dataLocationExternal = 1

// External reports whether the tensor payload lives outside the model file.
func (t *Tensor) External() bool {
	return t.DataLocation == dataLocationExternal
}

// NumElements returns the product of the tensor dims. A scalar has one element.
func (t *Tensor) NumElements() int64 {
	n := int64(1)
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// OpsetVersion returns the imported version of domain, or 0 if the model does
// not import it.
func (m *Model) OpsetVersion(domain string) int64 {
	for _, op := range m.OpsetImports {
		if op.Domain == domain || (IsDefaultDomain(domain) && IsDefaultDomain(op.Domain)) {
			return op.Version
		}
	}
	return 0
}

// SetOpsetVersion updates or adds the import for domain.
func (m *Model) SetOpsetVersion(domain string, version int64) {
	for i, op := range m.OpsetImports {
		if op.Domain == domain || (IsDefaultDomain(domain) && IsDefaultDomain(op.Domain)) {
			m.OpsetImports[i].Version = version
			return
		}
	}
	m.OpsetImports = append(m.OpsetImports, OperatorSetID{Domain: domain, Version: version})
}

// Initializer returns the initializer called name, or nil.
func (g *Graph) Initializer(name string) *Tensor {
	for _, t := range g.Initializers {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Attribute returns the attribute called name, or nil.
func (n *Node) Attribute(name string) *Attribute {
	for _, a := range n.Attributes {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// NewIntAttribute builds an INT attribute.
func NewIntAttribute(name string, v int64) *Attribute {
	return &Attribute{Name: name, Type: AttrInt, I: v}
}
