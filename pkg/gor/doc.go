/*
Package gor compiles a cloner Configuration into the command line of the
external traffic replication tool (gor / GoReplay).

The tool is driven entirely by flags, so Synthesize is a pure function from a
types.Configuration to an argument vector. Arguments are emitted in a fixed
order:

 1. privilege prefix (sudo) when Options.AsRoot is set
 2. the executable, which must exist on disk
 3. --input-raw :PORT, or --input-tcp :PORT for tcp inputs
 4. --http-allow-url, --http-disallow-url and --http-rewrite-url, one per entry
 5. --output-http HOST[|RATE] and --output-tcp HOST[|RATE], one per target
 6. --output-http-workers N when N >= 1
 7. --output-stdout true, --split-output true, --exit-after D when configured
 8. extra_args, verbatim, sorted by key

Every value that reaches the tool is validated with pkg/validate before it is
emitted, except extra_args which are an operator escape hatch. The first
invalid value fails the whole synthesis with a *ConfigError naming the field;
use errors.Is with the Err* sentinels to tell failures apart:

	args, err := gor.Synthesize(cfg, gor.Options{Executable: "/usr/local/bin/gor", AsRoot: true})
	if errors.Is(err, gor.ErrInvalidPort) {
		...
	}
*/
package gor
