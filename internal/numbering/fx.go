package numbering

import "go.uber.org/fx"

var Module = fx.Module("numbering",
	fx.Provide(
		fx.Annotate(NewGormStore, fx.As(new(Store))),
		NewAllocator,
	),
)
