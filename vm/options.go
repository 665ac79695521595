package vm

import "github.com/rs/zerolog"

// DefaultBatchSize is the number of instructions Next runs per call.
const DefaultBatchSize = 100

// Option is a configuration function for a VM. The same options are
// applied to the VMs that re-render blocks during revalidation.
type Option func(*VM)

// WithLogger sets the logger. Every VM tags its entries with a render_id.
func WithLogger(logger zerolog.Logger) Option {
	return func(vm *VM) {
		vm.logger = logger
	}
}

// WithObserver sets an observer for VM execution events.
//
// Observer methods are called synchronously during execution, so
// implementations should be fast. Returning false from any observer
// method halts execution with an interpreter fault.
func WithObserver(observer Observer) Option {
	return func(vm *VM) {
		vm.observer = observer
	}
}

// WithBatchSize sets how many instructions each call to Next runs.
// Values <= 0 select DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(vm *VM) {
		vm.batchSize = n
	}
}

// WithEnvironment overrides the environment of the runtime.
func WithEnvironment(env Environment) Option {
	return func(vm *VM) {
		vm.env = env
	}
}

// WithMaxStackDepth limits the machine stack to n words.
func WithMaxStackDepth(n int) Option {
	return func(vm *VM) {
		vm.maxDepth = n
	}
}
