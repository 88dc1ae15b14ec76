package gor

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/cloner/pkg/types"
	"github.com/cuemby/cloner/pkg/validate"
)

const (
	DefaultExecutable      = "./gor"
	DefaultPrivilegePrefix = "sudo"
)

// Flags understood by the traffic replication tool
const (
	FlagInputRaw          = "--input-raw"
	FlagInputTCP          = "--input-tcp"
	FlagHTTPAllowURL      = "--http-allow-url"
	FlagHTTPDisallowURL   = "--http-disallow-url"
	FlagHTTPRewriteURL    = "--http-rewrite-url"
	FlagOutputHTTP        = "--output-http"
	FlagOutputHTTPWorkers = "--output-http-workers"
	FlagOutputTCP         = "--output-tcp"
	FlagSplitOutput       = "--split-output"
	FlagOutputStdout      = "--output-stdout"
	FlagExitAfter         = "--exit-after"
)

// Options controls how the command line is assembled
type Options struct {
	// Executable is the path of the gor binary. It must exist on disk.
	Executable string

	// AsRoot prefixes the command with PrivilegePrefix. Raw capture
	// needs it on most hosts.
	AsRoot bool

	// PrivilegePrefix is the escalation command, "sudo" by default
	PrivilegePrefix string
}

func (o Options) withDefaults() Options {
	if o.Executable == "" {
		o.Executable = DefaultExecutable
	}
	if o.PrivilegePrefix == "" {
		o.PrivilegePrefix = DefaultPrivilegePrefix
	}
	return o
}

// Synthesize compiles cfg into the argument vector of the traffic tool.
// The first invalid value aborts synthesis; no partial vector is returned.
// A nil cfg yields only the prefix and executable.
func Synthesize(cfg *types.Configuration, opts Options) ([]string, error) {
	opts = opts.withDefaults()

	var args []string
	if opts.AsRoot {
		args = append(args, opts.PrivilegePrefix)
	}

	if _, err := os.Stat(opts.Executable); err != nil {
		return nil, configError("executable", opts.Executable, fmt.Errorf("%w: %v", ErrExecutableNotFound, err))
	}
	args = append(args, opts.Executable)

	if cfg == nil {
		return args, nil
	}

	stages := []func(*types.Configuration) ([]string, error){
		inputArgs,
		allowArgs,
		disallowArgs,
		rewriteArgs,
		httpOutputArgs,
		tcpOutputArgs,
		workerArgs,
		stdoutArgs,
		splitArgs,
		exitAfterArgs,
		extraArgs,
	}
	for _, stage := range stages {
		stageArgs, err := stage(cfg)
		if err != nil {
			return nil, err
		}
		args = append(args, stageArgs...)
	}

	return args, nil
}

// VersionArgs is the invocation used to ask the tool for its version
func VersionArgs(opts Options) ([]string, error) {
	opts.AsRoot = false
	return Synthesize(nil, opts)
}

// String renders an argument vector for logs
func String(args []string) string {
	return strings.Join(args, " ")
}

func inputArgs(cfg *types.Configuration) ([]string, error) {
	port := cfg.Input.Port
	if port <= 0 || port > 65535 {
		return nil, configError("input.port", strconv.Itoa(port), ErrInvalidPort)
	}
	bind := fmt.Sprintf(":%d", port)

	switch cfg.Input.Type {
	case "", types.InputTypeRaw:
		return []string{FlagInputRaw, bind}, nil
	case types.InputTypeTCP:
		return []string{FlagInputTCP, bind}, nil
	default:
		return nil, configError("input.type", string(cfg.Input.Type), ErrInvalidInputType)
	}
}

func allowArgs(cfg *types.Configuration) ([]string, error) {
	return pathArgs(FlagHTTPAllowURL, "input.paths.allow", cfg.Input.Paths.Allow)
}

func disallowArgs(cfg *types.Configuration) ([]string, error) {
	return pathArgs(FlagHTTPDisallowURL, "input.paths.disallow", cfg.Input.Paths.Disallow)
}

func pathArgs(flag, field string, paths []string) ([]string, error) {
	var args []string
	for _, path := range paths {
		if !validate.URLPath(path) {
			return nil, configError(field, path, ErrInvalidPath)
		}
		args = append(args, flag, path)
	}
	return args, nil
}

func rewriteArgs(cfg *types.Configuration) ([]string, error) {
	var args []string
	for _, rule := range cfg.Input.Paths.Rewrite {
		if !validate.RewritePath(rule) {
			return nil, configError("input.paths.rewrite", rule,
				fmt.Errorf("%w: expected 'pattern:replacement' with a valid pattern", ErrInvalidRewrite))
		}
		args = append(args, FlagHTTPRewriteURL, rule)
	}
	return args, nil
}

func httpOutputArgs(cfg *types.Configuration) ([]string, error) {
	out := cfg.Output.HTTP
	if out == nil {
		return nil, nil
	}
	if len(out.Hosts) == 0 {
		return nil, configError("output.http.hosts", "", ErrEmptyHostList)
	}

	var args []string
	for _, host := range out.Hosts {
		if !validate.URL(host.Host) {
			return nil, configError("output.http.hosts", host.Host, ErrInvalidHost)
		}
		args = append(args, FlagOutputHTTP, withRate(host, out.Rate))
	}
	return args, nil
}

func tcpOutputArgs(cfg *types.Configuration) ([]string, error) {
	out := cfg.Output.TCP
	if out == nil {
		return nil, nil
	}
	if len(out.Hosts) == 0 {
		return nil, configError("output.tcp.hosts", "", ErrEmptyHostList)
	}

	var args []string
	for _, host := range out.Hosts {
		hostname, _, _ := strings.Cut(host.Host, ":")
		if !validate.Hostname(hostname) {
			return nil, configError("output.tcp.hosts", host.Host, ErrInvalidHost)
		}
		args = append(args, FlagOutputTCP, withRate(host, out.Rate))
	}
	return args, nil
}

// withRate appends the per-host rate, or the output-wide one, as "host|rate"
func withRate(host types.OutputHost, globalRate string) string {
	switch {
	case host.Rate != "":
		return host.Host + "|" + host.Rate
	case globalRate != "":
		return host.Host + "|" + globalRate
	default:
		return host.Host
	}
}

func workerArgs(cfg *types.Configuration) ([]string, error) {
	if cfg.Output.HTTP == nil || cfg.Output.HTTP.Workers < 1 {
		return nil, nil
	}
	return []string{FlagOutputHTTPWorkers, strconv.Itoa(cfg.Output.HTTP.Workers)}, nil
}

func stdoutArgs(cfg *types.Configuration) ([]string, error) {
	if !cfg.Output.Stdout {
		return nil, nil
	}
	return []string{FlagOutputStdout, "true"}, nil
}

func splitArgs(cfg *types.Configuration) ([]string, error) {
	if !cfg.Output.SplitTraffic {
		return nil, nil
	}
	return []string{FlagSplitOutput, "true"}, nil
}

func exitAfterArgs(cfg *types.Configuration) ([]string, error) {
	if cfg.FinishAfter == "" {
		return nil, nil
	}
	if _, err := time.ParseDuration(cfg.FinishAfter); err != nil {
		return nil, configError("finish_after", cfg.FinishAfter, fmt.Errorf("%w: %v", ErrInvalidDuration, err))
	}
	return []string{FlagExitAfter, cfg.FinishAfter}, nil
}

// extraArgs passes operator supplied pairs through verbatim, ordered by key
func extraArgs(cfg *types.Configuration) ([]string, error) {
	if len(cfg.ExtraArgs) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(cfg.ExtraArgs))
	for k := range cfg.ExtraArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, cfg.ExtraArgs[k])
	}
	return args, nil
}
