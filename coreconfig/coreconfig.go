// Package coreconfig provides the functional-option configuration
// surface corectx.Boot consumes, mirroring eventloop's LoopOption
// pattern: an unexported options struct, an exported functional-option
// interface, and a resolver that applies defaults then options in order.
package coreconfig

import "time"

// options holds every knob corectx.Boot accepts.
type options struct {
	cpus            int
	tickFreq        time.Duration // 0 = tickless/aperiodic, matching spec §boot
	escalationVirqs int
	logLevel        string
}

// Option configures Boot.
type Option interface {
	apply(*options) error
}

type optionFunc func(*options) error

func (f optionFunc) apply(o *options) error { return f(o) }

// WithCPUs pins the number of per-CPU scheduler instances to create,
// overriding automaxprocs' detection. n <= 0 restores auto-detection.
func WithCPUs(n int) Option {
	return optionFunc(func(o *options) error {
		o.cpus = n
		return nil
	})
}

// WithTickFrequency records a per-CPU tick frequency in the resolved
// options (zero by default). corectx.Boot does not read it: every CPU
// runs tickless on the aperiodic master whatever the value.
func WithTickFrequency(d time.Duration) Option {
	return optionFunc(func(o *options) error {
		o.tickFreq = d
		return nil
	})
}

// WithEscalationVirqs makes Boot allocate the escalation virq up front
// when n > 0, instead of lazily on first Resched. The pipeline has a
// single escalation virq, so any n > 0 reserves that one virq.
func WithEscalationVirqs(n int) Option {
	return optionFunc(func(o *options) error {
		o.escalationVirqs = n
		return nil
	})
}

// WithLogLevel sets the boot-time log level corelog.New is configured
// with; accepted values mirror logiface.Level's String() form.
func WithLogLevel(level string) Option {
	return optionFunc(func(o *options) error {
		o.logLevel = level
		return nil
	})
}

// Resolve applies defaults, then each option in order, skipping nils so
// callers can build an option slice conditionally without filtering it
// themselves.
func Resolve(opts []Option) (*options, error) {
	cfg := &options{
		cpus:     0, // 0 means "ask automaxprocs"
		tickFreq: 0, // tickless by default
		logLevel: "info",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// CPUs returns the configured CPU count override, or 0 for auto-detect.
func (o *options) CPUs() int { return o.cpus }

// TickFrequency returns the configured per-CPU tick frequency.
func (o *options) TickFrequency() time.Duration { return o.tickFreq }

// EscalationVirqs returns the number of virqs to pre-reserve.
func (o *options) EscalationVirqs() int { return o.escalationVirqs }

// LogLevel returns the configured boot-time log level string.
func (o *options) LogLevel() string { return o.logLevel }
