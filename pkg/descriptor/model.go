package descriptor

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Op is the kind of a model instruction.
type Op string

const (
	OpCall     Op = "call"     // direct invocation
	OpVirtual  Op = "virtual"  // dispatch on the receiver's dynamic type
	OpNew      Op = "new"      // allocation
	OpNewArray Op = "newarray" // array allocation, Type is the component
	OpRead     Op = "read"
	OpWrite    Op = "write"
	OpUnsafe   Op = "unsafe" // raw-offset field access
	OpFold     Op = "fold"   // constant-folded field read
)

// Instr is one instruction of a model method body. Exactly one of Method,
// Field or Type is meaningful, depending on Op.
type Instr struct {
	Op     Op
	BCI    int
	Method MethodRef
	Field  FieldRef
	Type   TypeRef
}

func (in Instr) String() string {
	switch in.Op {
	case OpCall, OpVirtual:
		return fmt.Sprintf("%d: %s %s", in.BCI, in.Op, in.Method)
	case OpRead, OpWrite, OpUnsafe, OpFold:
		return fmt.Sprintf("%d: %s %s", in.BCI, in.Op, in.Field)
	}
	return fmt.Sprintf("%d: %s %s", in.BCI, in.Op, in.Type)
}

// Model is a small program: a type hierarchy with method bodies and entry
// points. It serves as the Provider and the body source for analyses that
// do not run on real code.
type Model struct {
	*StaticProvider
	Name  string
	Entry []MethodRef
	// Allocated lists types the runtime allocates without any visible
	// allocation site.
	Allocated []TypeRef

	bodies map[MethodRef][]Instr
}

// NewModel returns an empty model that knows only the built-in types.
func NewModel(name string) *Model {
	return &Model{StaticProvider: NewStaticProvider(), Name: name, bodies: make(map[MethodRef][]Instr)}
}

// AddBody sets the instructions of a declared method.
func (m *Model) AddBody(ref MethodRef, body []Instr) error {
	if _, err := m.Method(ref); err != nil {
		return fmt.Errorf("add body: %w", err)
	}
	m.bodies[ref] = body
	return nil
}

// AddEntry marks a declared method as an entry point.
func (m *Model) AddEntry(ref MethodRef) error {
	if _, err := m.Method(ref); err != nil {
		return fmt.Errorf("entry: %w", err)
	}
	if !slices.Contains(m.Entry, ref) {
		m.Entry = append(m.Entry, ref)
	}
	return nil
}

// Body returns the instructions of ref, and false if it has no body.
func (m *Model) Body(ref MethodRef) ([]Instr, bool) {
	b, ok := m.bodies[ref]
	return b, ok
}

type modelFile struct {
	Name      string     `yaml:"name"`
	Entry     []string   `yaml:"entry"`
	Allocated []string   `yaml:"allocated,omitempty"`
	Types     []typeDecl `yaml:"types"`
}

type typeDecl struct {
	Name       string       `yaml:"name"`
	Super      string       `yaml:"super,omitempty"`
	Interfaces []string     `yaml:"interfaces,omitempty"`
	Interface  bool         `yaml:"interface,omitempty"`
	Abstract   bool         `yaml:"abstract,omitempty"`
	Final      bool         `yaml:"final,omitempty"`
	Fields     []fieldDecl  `yaml:"fields,omitempty"`
	Methods    []methodDecl `yaml:"methods,omitempty"`
}

type fieldDecl struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Static    bool   `yaml:"static,omitempty"`
	Volatile  bool   `yaml:"volatile,omitempty"`
	Final     bool   `yaml:"final,omitempty"`
	Partition string `yaml:"partition,omitempty"`
}

type methodDecl struct {
	Name     string              `yaml:"name"`
	Params   []string            `yaml:"params,omitempty"`
	Return   string              `yaml:"return,omitempty"`
	Static   bool                `yaml:"static,omitempty"`
	Abstract bool                `yaml:"abstract,omitempty"`
	Native   bool                `yaml:"native,omitempty"`
	Init     bool                `yaml:"init,omitempty"`
	Catches  []string            `yaml:"catches,omitempty"`
	Body     []map[string]string `yaml:"body,omitempty"`
}

// LoadModel reads and validates a YAML model file.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	m, err := ParseModel(data)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return m, nil
}

// ParseModel decodes and validates a YAML model.
func ParseModel(data []byte) (*Model, error) {
	var f modelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	m := NewModel(f.Name)

	// Types first, so members can name any owner.
	for _, td := range f.Types {
		t := TypeShape{Ref: TypeRef(td.Name), Super: TypeRef(td.Super)}
		for _, i := range td.Interfaces {
			t.Interfaces = append(t.Interfaces, TypeRef(i))
		}
		if td.Interface {
			t.Modifiers |= Interface | Abstract
		}
		if td.Abstract {
			t.Modifiers |= Abstract
		}
		if td.Final {
			t.Modifiers |= Final
		}
		if err := m.AddType(t); err != nil {
			return nil, err
		}
	}
	for _, td := range f.Types {
		owner := TypeRef(td.Name)
		for _, fd := range td.Fields {
			if err := m.AddField(fieldShape(owner, fd)); err != nil {
				return nil, err
			}
		}
		for _, md := range td.Methods {
			ms := methodShape(owner, md, td.Interface)
			if err := m.AddMethod(ms); err != nil {
				return nil, err
			}
			if len(md.Body) == 0 {
				continue
			}
			body, err := parseBody(md.Body)
			if err != nil {
				return nil, fmt.Errorf("method %s: %w", ms.Ref, err)
			}
			if err := m.AddBody(ms.Ref, body); err != nil {
				return nil, err
			}
		}
	}

	for _, e := range f.Entry {
		ref, err := ParseMethodRef(e)
		if err != nil {
			return nil, fmt.Errorf("entry: %w", err)
		}
		if err := m.AddEntry(ref); err != nil {
			return nil, err
		}
	}
	for _, a := range f.Allocated {
		m.Allocated = append(m.Allocated, TypeRef(a))
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func fieldShape(owner TypeRef, fd fieldDecl) FieldShape {
	f := FieldShape{
		Ref:       FieldRef{Owner: owner, Name: fd.Name},
		Type:      TypeRef(fd.Type),
		Partition: fd.Partition,
	}
	if fd.Static {
		f.Modifiers |= Static
	}
	if fd.Volatile {
		f.Modifiers |= Volatile
	}
	if fd.Final {
		f.Modifiers |= Final
	}
	return f
}

func methodShape(owner TypeRef, md methodDecl, inInterface bool) MethodShape {
	params := make([]TypeRef, len(md.Params))
	for i, p := range md.Params {
		params[i] = TypeRef(p)
	}
	ms := MethodShape{
		Ref:    MethodRef{Owner: owner, Name: md.Name, Sig: Signature(params...)},
		Params: params,
		Return: TypeRef(md.Return),
	}
	for _, c := range md.Catches {
		ms.Catches = append(ms.Catches, TypeRef(c))
	}
	switch {
	case md.Static:
		ms.Modifiers |= Static
	case md.Abstract, inInterface && len(md.Body) == 0:
		ms.Modifiers |= Abstract
	}
	if md.Native {
		ms.Modifiers |= Native
	}
	if md.Init {
		ms.Modifiers |= Initializer | Static
	}
	return ms
}

var instrOps = []Op{OpCall, OpVirtual, OpNew, OpNewArray, OpRead, OpWrite, OpUnsafe, OpFold}

func parseBody(raw []map[string]string) ([]Instr, error) {
	body := make([]Instr, 0, len(raw))
	for bci, entry := range raw {
		if len(entry) != 1 {
			return nil, fmt.Errorf("instruction %d: want exactly one op, got %d", bci, len(entry))
		}
		for op, arg := range entry {
			in := Instr{Op: Op(op), BCI: bci}
			if !slices.Contains(instrOps, in.Op) {
				return nil, fmt.Errorf("instruction %d: unknown op %q", bci, op)
			}
			var err error
			switch in.Op {
			case OpCall, OpVirtual:
				in.Method, err = ParseMethodRef(arg)
			case OpRead, OpWrite, OpUnsafe, OpFold:
				in.Field, err = ParseFieldRef(arg)
			default:
				if arg == "" {
					err = fmt.Errorf("%s needs a type", op)
				}
				in.Type = TypeRef(arg)
			}
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %w", bci, err)
			}
			body = append(body, in)
		}
	}
	return body, nil
}
