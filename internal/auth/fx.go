package auth

import "go.uber.org/fx"

var Module = fx.Module("auth",
	fx.Provide(
		NewSessions,
		fx.Annotate(NewGormDirectory, fx.As(new(Directory))),
		NewAuthenticator,
	),
)
