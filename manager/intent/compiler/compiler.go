// Package compiler contains the built-in intent compilers. Connectivity
// intents compile down to link collections, which compile to flow rules.
package compiler

import (
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/manager/intent"
	"github.com/pkg/errors"
)

var (
	// ErrPathNotFound is returned when no path connects the endpoints of
	// an intent.
	ErrPathNotFound = errors.New("no path found")

	// ErrInvalidPath is returned when the links of a path intent do not
	// form a chain from ingress to egress.
	ErrInvalidPath = errors.New("links do not form a path")

	// ErrInvalidCollection is returned when a link collection has a device
	// that traffic enters but cannot leave, or the other way around.
	ErrInvalidCollection = errors.New("link collection is not connected")

	errUnexpectedSpec = errors.New("unexpected intent spec")
)

// PathService computes paths between devices.
type PathService interface {
	// Paths returns the shortest paths from src to dst, each as a list of
	// links. The result is empty when dst cannot be reached.
	Paths(src, dst api.DeviceID) [][]api.Link
}

// RegisterAll registers the built-in compilers through register, which is
// usually Manager.RegisterCompiler.
func RegisterAll(register func(api.IntentType, intent.Compiler) error, paths PathService) error {
	compilers := map[api.IntentType]intent.Compiler{
		api.IntentTypePointToPoint:   &PointToPointCompiler{Paths: paths},
		api.IntentTypePath:           &PathCompiler{},
		api.IntentTypeLinkCollection: &LinkCollectionCompiler{},
	}
	for t, c := range compilers {
		if err := register(t, c); err != nil {
			return err
		}
	}
	return nil
}

func linkResources(links []api.Link) []api.NetworkResource {
	resources := make([]api.NetworkResource, 0, len(links))
	for _, link := range links {
		resources = append(resources, link)
	}
	return resources
}

func unexpectedSpec(i *api.Intent) error {
	return errors.Wrapf(errUnexpectedSpec, "%T for intent type %s", i.Spec, i.Type())
}
