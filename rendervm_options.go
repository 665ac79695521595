package rendervm

import (
	"maps"

	"github.com/cloudcmds/rendervm/reference"
	"github.com/cloudcmds/rendervm/vm"
	"github.com/rs/zerolog"
)

// DefaultEntry is the block a program starts rendering from unless
// WithEntry names another one.
const DefaultEntry = "main"

// Option configures a compilation or a render.
type Option func(*config)

type config struct {
	helpers   map[string]any
	dynamic   map[string]any
	filename  string
	entry     string
	observer  vm.Observer
	logger    *zerolog.Logger
	batchSize int
	maxDepth  int
	env       vm.Environment
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		helpers: map[string]any{},
		dynamic: map[string]any{},
		entry:   DefaultEntry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg
}

// VMOpts returns the vm options the config selects.
func (cfg *config) VMOpts() []vm.Option {
	var opts []vm.Option
	if cfg.logger != nil {
		opts = append(opts, vm.WithLogger(*cfg.logger))
	}
	if cfg.observer != nil {
		opts = append(opts, vm.WithObserver(cfg.observer))
	}
	if cfg.batchSize > 0 {
		opts = append(opts, vm.WithBatchSize(cfg.batchSize))
	}
	if cfg.maxDepth > 0 {
		opts = append(opts, vm.WithMaxStackDepth(cfg.maxDepth))
	}
	if cfg.env != nil {
		opts = append(opts, vm.WithEnvironment(cfg.env))
	}
	return opts
}

// DynamicScope returns the dynamic scope holding the WithDynamicVars
// bindings, or nil when there are none.
func (cfg *config) DynamicScope() vm.DynamicScope {
	if len(cfg.dynamic) == 0 {
		return nil
	}
	bindings := make(map[string]reference.PathReference, len(cfg.dynamic))
	for name, v := range cfg.dynamic {
		if ref, ok := v.(reference.PathReference); ok {
			bindings[name] = ref
		} else {
			bindings[name] = reference.Const(v)
		}
	}
	return vm.NewDynamicScope(bindings)
}

// WithHelpers provides helpers that programs can call with the helper
// instruction. This option is additive, so multiple WithHelpers options
// may be supplied. If the same name is supplied multiple times, the last
// supplied helper is used.
func WithHelpers(helpers map[string]vm.Helper) Option {
	return func(cfg *config) {
		for name, h := range helpers {
			cfg.helpers[name] = h
		}
	}
}

// WithHelper supplies a single named helper.
func WithHelper(name string, h vm.Helper) Option {
	return func(cfg *config) {
		cfg.helpers[name] = h
	}
}

// WithDynamicVars binds dynamic variables for the render. Values that are
// already references are bound as is; anything else is bound as a
// constant.
func WithDynamicVars(vars map[string]any) Option {
	return func(cfg *config) {
		maps.Copy(cfg.dynamic, vars)
	}
}

// WithFilename sets the filename used in assembler error messages.
func WithFilename(filename string) Option {
	return func(cfg *config) {
		cfg.filename = filename
	}
}

// WithEntry selects the block rendering starts from.
func WithEntry(block string) Option {
	return func(cfg *config) {
		cfg.entry = block
	}
}

// WithObserver sets an observer for VM execution events. The observer
// also sees the updating opcodes evaluated by Update and Rerender.
func WithObserver(observer vm.Observer) Option {
	return func(cfg *config) {
		cfg.observer = observer
	}
}

// WithLogger sets the logger of every VM the render creates.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = &logger
	}
}

// WithBatchSize sets how many instructions run between context checks.
func WithBatchSize(n int) Option {
	return func(cfg *config) {
		cfg.batchSize = n
	}
}

// WithMaxStackDepth limits the machine stack to n words.
func WithMaxStackDepth(n int) Option {
	return func(cfg *config) {
		cfg.maxDepth = n
	}
}

// WithEnvironment replaces the default iteration and truthiness rules.
func WithEnvironment(env vm.Environment) Option {
	return func(cfg *config) {
		cfg.env = env
	}
}
