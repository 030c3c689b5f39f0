package instance

import (
	"io"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/loykin/mineguard/internal/broadcast"
	"github.com/loykin/mineguard/internal/parser"
)

// DefaultSettleDelay is the pause between child exit and task cancellation.
const DefaultSettleDelay = time.Second

// CommandFunc builds the child command for a Data. The Handle sets pipes and
// process attributes on the result.
type CommandFunc func(Data) *exec.Cmd

type options struct {
	name        string
	java        string
	jvmArgs     []string
	env         []string
	command     CommandFunc
	settleDelay time.Duration
	capacity    int
	stdoutCopy  io.Writer
	stderrCopy  io.Writer
	parser      parser.Parser
	parserSet   bool
}

// Option configures a Handle.
type Option func(*options)

// WithName sets the instance name used in logs and metrics labels.
func WithName(name string) Option { return func(o *options) { o.name = name } }

// WithJava sets the java executable.
func WithJava(path string) Option { return func(o *options) { o.java = path } }

func WithJVMArgs(args ...string) Option {
	return func(o *options) { o.jvmArgs = append([]string(nil), args...) }
}

// WithEnv sets the child environment. Nil inherits the supervisor's.
func WithEnv(env []string) Option { return func(o *options) { o.env = env } }

// WithCommand replaces the java command line entirely.
func WithCommand(fn CommandFunc) Option { return func(o *options) { o.command = fn } }

func WithSettleDelay(d time.Duration) Option { return func(o *options) { o.settleDelay = d } }

// WithCapacity sets the retained history of every broadcast channel.
func WithCapacity(n int) Option { return func(o *options) { o.capacity = n } }

// WithConsoleWriters mirrors child output lines to w. Either may be nil.
func WithConsoleWriters(stdout, stderr io.Writer) Option {
	return func(o *options) { o.stdoutCopy, o.stderrCopy = stdout, stderr }
}

// WithParser overrides the log parser chosen from the server type.
// A nil parser makes Start return as soon as the child is spawned.
func WithParser(p parser.Parser) Option {
	return func(o *options) { o.parser, o.parserSet = p, true }
}

func buildOptions(d Data, opts []Option) options {
	o := options{
		java:        "java",
		settleDelay: DefaultSettleDelay,
		capacity:    broadcast.DefaultCapacity,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = filepath.Base(d.RootDir)
	}
	if o.command == nil {
		o.command = o.javaCommand
	}
	if !o.parserSet {
		o.parser, _ = parser.ForType(d.Type)
	}
	if o.settleDelay < 0 {
		o.settleDelay = 0
	}
	return o
}

func (o options) javaCommand(d Data) *exec.Cmd {
	args := append(append([]string(nil), o.jvmArgs...), "-jar", d.JarPath, "nogui")
	return exec.Command(o.java, args...)
}
