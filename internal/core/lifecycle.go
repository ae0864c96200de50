package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable modules receive their raw YAML section right after New.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner modules open resources and resolve defaults. Runs after
// Configure, with a context scoped to the module.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator modules check their final configuration. Must not have side effects.
type Validator interface {
	Validate() error
}

// Starter modules launch background work once every module is provisioned.
type Starter interface {
	Start() error
}

// Stopper modules release resources. Called in reverse start order.
type Stopper interface {
	Stop(ctx context.Context) error
}
