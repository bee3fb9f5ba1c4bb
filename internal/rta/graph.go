package rta

import (
	"context"
	"fmt"
	"slices"

	"github.com/715d/reachable/pkg/descriptor"
	"github.com/715d/reachable/pkg/graphcache"
	"github.com/715d/reachable/pkg/universe"
)

// Site is a finalized instruction: the model instruction together with the
// node it refers to. Exactly one of Method, Field and Type is set.
type Site struct {
	descriptor.Instr
	Method *universe.MethodNode
	Field  *universe.FieldNode
	Type   *universe.TypeNode
}

// Body is the finalized graph of a method.
type Body struct {
	Method *universe.MethodNode
	Sites  []Site
}

// ModelGraphs produces method graphs from the bodies of a model. The
// decoded stage is the raw instruction list; the finalized stage resolves
// every instruction against the universe.
type ModelGraphs struct {
	model *descriptor.Model
}

var _ universe.GraphProducer = (*ModelGraphs)(nil)

// NewModelGraphs returns a producer over model's bodies.
func NewModelGraphs(model *descriptor.Model) *ModelGraphs {
	return &ModelGraphs{model: model}
}

func (g *ModelGraphs) Produce(ctx context.Context, m *universe.MethodNode, stage graphcache.Stage) (universe.Graph, error) {
	instrs, _ := g.model.Body(m.Ref())
	if stage == graphcache.Decoded {
		return slices.Clone(instrs), nil
	}

	body := &Body{Method: m, Sites: make([]Site, 0, len(instrs))}
	u := m.Universe()
	for _, in := range instrs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		site := Site{Instr: in}
		var err error
		switch in.Op {
		case descriptor.OpCall, descriptor.OpVirtual:
			site.Method, err = u.LookupMethod(in.Method)
		case descriptor.OpRead, descriptor.OpWrite, descriptor.OpUnsafe, descriptor.OpFold:
			site.Field, err = u.LookupField(in.Field)
		case descriptor.OpNew, descriptor.OpNewArray:
			site.Type, err = u.LookupType(in.Type)
		default:
			err = fmt.Errorf("unknown op %q", in.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("instruction %s: %w", in, err)
		}
		body.Sites = append(body.Sites, site)
	}
	return body, nil
}
