package recurring

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/diewo77/recurring-invoices/internal/config"
	"github.com/diewo77/recurring-invoices/internal/numbering"
	"go.uber.org/fx"
)

func newNode(app config.AppConfig) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(app.NodeID)
	if err != nil {
		return nil, fmt.Errorf("recurring: snowflake node: %w", err)
	}
	return node, nil
}

var Module = fx.Module("recurring",
	fx.Provide(
		newNode,
		fx.Annotate(NewGormRepository, fx.As(new(Repository))),
		func(a *numbering.Allocator) Allocator { return a },
		NewEngine,
	),
)
