package internal

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	watch  bool
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithWatch enables the filesystem watcher for local repositories.
func WithWatch(enabled bool) Option {
	return func(a *application) {
		a.watch = enabled
	}
}
