package config

import "go.uber.org/fx"

// Module exposes the loaded Config and its sections to the fx graph.
var Module = fx.Module("config",
	fx.Provide(
		func(c *Config) ServerConfig { return c.Server },
		func(c *Config) DatabaseConfig { return c.Database },
		func(c *Config) SchedulerConfig { return c.Scheduler },
		func(c *Config) MailConfig { return c.Mail },
		func(c *Config) TracingConfig { return c.Tracing },
		func(c *Config) LogConfig { return c.Log },
		func(c *Config) AppConfig { return c.App },
		func(c *Config) MetricsConfig { return c.Metrics },
	),
)
