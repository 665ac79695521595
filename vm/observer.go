package vm

import "github.com/cloudcmds/rendervm/op"

// StepMode controls when OnStep callbacks are triggered.
type StepMode uint8

const (
	// StepAll calls OnStep for every append instruction.
	StepAll StepMode = iota

	// StepNone never calls OnStep.
	// Use for: observers that only need block or update events.
	StepNone

	// StepSampled calls OnStep every N append instructions.
	StepSampled
)

// ObserverConfig specifies what events an observer wants to receive.
// Use NewObserverConfig() to create configs with safe defaults.
type ObserverConfig struct {
	// StepMode controls OnStep callback frequency.
	StepMode StepMode

	// SampleInterval is the number of instructions between OnStep calls
	// when StepMode is StepSampled. Values <= 0 are treated as 1.
	SampleInterval int

	// ObserveBlocks enables OnBlock callbacks.
	ObserveBlocks bool

	// ObserveUpdates enables OnUpdate callbacks during revalidation.
	ObserveUpdates bool
}

// NewObserverConfig creates a config with block and update events
// enabled.
func NewObserverConfig(mode StepMode) ObserverConfig {
	return ObserverConfig{
		StepMode:       mode,
		SampleInterval: 100,
		ObserveBlocks:  true,
		ObserveUpdates: true,
	}
}

// NormalizeConfig validates and clamps config values.
func NormalizeConfig(cfg ObserverConfig) ObserverConfig {
	if cfg.StepMode == StepSampled && cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 1
	}
	return cfg
}

// Observer receives VM execution events. It can be used for tracing,
// profiling or counting how much work a revalidation did.
//
// Implementations can embed NoOpObserver to provide default no-op
// implementations for methods they don't need.
type Observer interface {
	// Config returns the observer's configuration.
	// Called once when the observer is attached to the VM.
	Config() ObserverConfig

	// OnStep is called before an append instruction runs.
	// Returns false to halt execution.
	OnStep(event StepEvent) bool

	// OnBlock is called when a block or list is entered or exited.
	// Returns false to halt execution.
	OnBlock(event BlockEvent) bool

	// OnUpdate is called for every updating opcode evaluated during
	// revalidation. Returns false to halt revalidation.
	OnUpdate(event UpdateEvent) bool
}

// StepEvent describes one append instruction.
type StepEvent struct {
	// PC is the offset of the instruction.
	PC int

	Opcode     op.Code
	OpcodeName string

	// StackDepth is the number of words on the machine stack.
	StackDepth int

	ScopeDepth int

	// BlockDepth is the number of open updating lists.
	BlockDepth int
}

// BlockKind says what kind of block an event is about.
type BlockKind uint8

const (
	BlockEnter BlockKind = iota
	BlockExit
	ListEnter
	ListExit
	ItemEnter
)

func (k BlockKind) String() string {
	switch k {
	case BlockEnter:
		return "enter"
	case BlockExit:
		return "exit"
	case ListEnter:
		return "enter_list"
	case ListExit:
		return "exit_list"
	case ItemEnter:
		return "enter_item"
	default:
		return ""
	}
}

// BlockEvent describes a block boundary.
type BlockEvent struct {
	Kind BlockKind

	// Start is the handle the block replays from. Zero for exits.
	Start int

	// Key is the item key for ItemEnter events.
	Key string

	// Depth is the number of open updating lists after the event.
	Depth int
}

// UpdateEvent describes one updating opcode evaluation.
type UpdateEvent struct {
	// Opcode is the kind of updating opcode, for example "try".
	Opcode string

	// FrameDepth is the number of open updating frames.
	FrameDepth int
}

// NoOpObserver is an Observer implementation that does nothing.
// Embed this in your observer to provide default implementations
// for methods you don't need.
type NoOpObserver struct{}

func (NoOpObserver) Config() ObserverConfig {
	return NewObserverConfig(StepAll)
}

func (NoOpObserver) OnStep(StepEvent) bool     { return true }
func (NoOpObserver) OnBlock(BlockEvent) bool   { return true }
func (NoOpObserver) OnUpdate(UpdateEvent) bool { return true }

// Ensure NoOpObserver implements Observer.
var _ Observer = NoOpObserver{}

// errObserverHalt is the message of the fault raised when an observer
// stops execution.
const errObserverHalt = "execution halted by observer"
