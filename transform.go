package qjsbind

import (
	"fmt"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// TransformOptions controls source preparation before compilation.
type TransformOptions struct {
	Loader     string // "js", "ts", "jsx" or "tsx"; default "js"
	Minify     bool
	Sourcefile string // name used in transform diagnostics
}

// TransformSource lowers source to ES2020 JavaScript the engine can
// compile, stripping TypeScript types and JSX along the way.
func TransformSource(source string, opts TransformOptions) (string, error) {
	loader := esbuild.LoaderJS
	switch strings.ToLower(opts.Loader) {
	case "", "js":
	case "ts":
		loader = esbuild.LoaderTS
	case "jsx":
		loader = esbuild.LoaderJSX
	case "tsx":
		loader = esbuild.LoaderTSX
	default:
		return "", fmt.Errorf("unknown loader %q", opts.Loader)
	}
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Loader:            loader,
		Target:            esbuild.ES2020,
		Format:            esbuild.FormatDefault,
		MinifyWhitespace:  opts.Minify,
		MinifyIdentifiers: opts.Minify,
		MinifySyntax:      opts.Minify,
		Sourcefile:        opts.Sourcefile,
	})
	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("transforming %s: %s", opts.Sourcefile, strings.Join(msgs, "; "))
	}
	return string(result.Code), nil
}

// BundleFile bundles an entry point with its imports into a single
// ES module source ready for CompileAsModule.
func BundleFile(entryPoint string) (string, error) {
	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:   []string{entryPoint},
		AbsWorkingDir: filepath.Dir(entryPoint),
		Bundle:        true,
		Format:        esbuild.FormatESModule,
		Write:         false,
		Platform:      esbuild.PlatformNeutral,
		Target:        esbuild.ES2020,
	})
	if len(result.Errors) > 0 {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("bundling %s: %s", entryPoint, strings.Join(msgs, "; "))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling %s produced no output", entryPoint)
	}
	return string(result.OutputFiles[0].Contents), nil
}
