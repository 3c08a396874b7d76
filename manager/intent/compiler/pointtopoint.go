package compiler

import (
	"github.com/intentkit/intentkit/api"
	"github.com/pkg/errors"
)

// PointToPointCompiler compiles point-to-point intents into a link
// collection along a shortest path.
type PointToPointCompiler struct {
	Paths PathService
}

// Compile implements intent.Compiler. When the intent is already installed
// over a path that is still among the shortest ones, that path is kept.
func (c *PointToPointCompiler) Compile(i *api.Intent, installed []*api.Intent) ([]*api.Intent, error) {
	spec, ok := i.Spec.(*api.PointToPointSpec)
	if !ok {
		return nil, unexpectedSpec(i)
	}

	var path []api.Link
	if spec.Ingress.Device != spec.Egress.Device {
		paths := c.Paths.Paths(spec.Ingress.Device, spec.Egress.Device)
		if len(paths) == 0 {
			return nil, errors.Wrapf(ErrPathNotFound, "from %s to %s", spec.Ingress.Device, spec.Egress.Device)
		}
		path = choosePath(paths, installed)
	}

	collection := &api.LinkCollectionSpec{
		Links:     path,
		Ingress:   []api.ConnectPoint{spec.Ingress},
		Egress:    []api.ConnectPoint{spec.Egress},
		Selector:  spec.Selector.Copy(),
		Treatment: spec.Treatment.Copy(),
	}
	return []*api.Intent{
		api.NewIntent(i.Key, i.Priority, collection, linkResources(path)...),
	}, nil
}

// choosePath prefers the path whose links are all used by the installed
// intents.
func choosePath(paths [][]api.Link, installed []*api.Intent) []api.Link {
	used := make(map[string]struct{})
	for _, intent := range installed {
		for _, r := range intent.Resources {
			used[r.ResourceKey()] = struct{}{}
		}
	}
	if len(used) > 0 {
	candidates:
		for _, path := range paths {
			for _, link := range path {
				if _, ok := used[link.ResourceKey()]; !ok {
					continue candidates
				}
			}
			return path
		}
	}
	return paths[0]
}
