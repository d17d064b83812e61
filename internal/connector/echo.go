package connector

import (
	"context"

	"github.com/kiranshivaraju/integrationhub/pkg/models"
)

const EchoName = "echo"

// Echo returns a copy of its payload under the "echo" key. Used for smoke tests.
type Echo struct{}

func NewEcho() *Echo { return &Echo{} }

func (e *Echo) Execute(_ context.Context, payload map[string]any) (map[string]any, error) {
	echoed := models.CloneDocument(payload)
	if echoed == nil {
		echoed = map[string]any{}
	}
	return map[string]any{"echo": echoed}, nil
}

var _ Connector = (*Echo)(nil)
