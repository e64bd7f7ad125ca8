// Package trace writes the shim's diagnostic output: a line-oriented trace
// on standard error, gated by three independent verbosity toggles matching
// the layer's concerns: call entry, registry mutation, and internal detail.
// Errors always pass regardless of toggles; the toggles gate debug lines
// only. Nothing here ever writes to standard output.
package trace

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Toggles enables each trace domain independently.
type Toggles struct {
	Calls    bool
	Registry bool
	Internal bool
}

// Tracer holds one logger per trace domain.
type Tracer struct {
	calls    *zap.Logger
	registry *zap.Logger
	internal *zap.Logger

	callsLvl    zap.AtomicLevel
	registryLvl zap.AtomicLevel
	internalLvl zap.AtomicLevel
}

func levelFor(enabled bool) zapcore.Level {
	if enabled {
		return zapcore.DebugLevel
	}
	return zapcore.ErrorLevel
}

// New creates a tracer writing to standard error.
func New(t Toggles) *Tracer {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = "" // hook traces are high-rate; keep the lines short
	enc := zapcore.NewConsoleEncoder(encCfg)
	sink := zapcore.Lock(os.Stderr)

	tr := &Tracer{
		callsLvl:    zap.NewAtomicLevelAt(levelFor(t.Calls)),
		registryLvl: zap.NewAtomicLevelAt(levelFor(t.Registry)),
		internalLvl: zap.NewAtomicLevelAt(levelFor(t.Internal)),
	}
	tr.calls = zap.New(zapcore.NewCore(enc, sink, tr.callsLvl)).Named("calls")
	tr.registry = zap.New(zapcore.NewCore(enc, sink, tr.registryLvl)).Named("registry")
	tr.internal = zap.New(zapcore.NewCore(enc, sink, tr.internalLvl)).Named("internal")
	return tr
}

// Nop returns a tracer that discards everything. Used in tests.
func Nop() *Tracer {
	nop := zap.NewNop()
	return &Tracer{
		calls:       nop,
		registry:    nop,
		internal:    nop,
		callsLvl:    zap.NewAtomicLevelAt(zapcore.FatalLevel),
		registryLvl: zap.NewAtomicLevelAt(zapcore.FatalLevel),
		internalLvl: zap.NewAtomicLevelAt(zapcore.FatalLevel),
	}
}

// Calls is the call-entry trace domain.
func (t *Tracer) Calls() *zap.Logger { return t.calls }

// Registry is the registry-mutation trace domain.
func (t *Tracer) Registry() *zap.Logger { return t.registry }

// Internal is the internal-detail trace domain.
func (t *Tracer) Internal() *zap.Logger { return t.internal }

// Sync flushes any buffered trace output.
func (t *Tracer) Sync() {
	t.calls.Sync()
	t.registry.Sync()
	t.internal.Sync()
}

// SetToggles reconfigures the verbosity toggles at runtime.
func (t *Tracer) SetToggles(tg Toggles) {
	t.callsLvl.SetLevel(levelFor(tg.Calls))
	t.registryLvl.SetLevel(levelFor(tg.Registry))
	t.internalLvl.SetLevel(levelFor(tg.Internal))
}
