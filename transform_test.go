package qjsbind

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTransformSource_PlainJSPassesThrough(t *testing.T) {
	_, _, cs := enterTestContext(t)

	out, err := TransformSource("6 * 7", TransformOptions{})
	if err != nil {
		t.Fatalf("TransformSource: %v", err)
	}
	v, err := cs.RunScript(out, "plain.js")
	if err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if got := v.GetNumber(); got != 42 {
		t.Errorf("got %v, want 42", got)
	}
}

func TestTransformSource_StripsTypeScript(t *testing.T) {
	_, _, cs := enterTestContext(t)

	src := `function add(a: number, b: number): number { return a + b }
add(40, 2)`
	out, err := TransformSource(src, TransformOptions{Loader: "ts", Sourcefile: "add.ts"})
	if err != nil {
		t.Fatalf("TransformSource: %v", err)
	}
	if strings.Contains(out, ": number") {
		t.Errorf("type annotations survived: %q", out)
	}
	v, err := cs.RunScript(out, "add.js")
	if err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if got := v.GetNumber(); got != 42 {
		t.Errorf("got %v, want 42", got)
	}
}

func TestTransformSource_LowersEnums(t *testing.T) {
	_, _, cs := enterTestContext(t)

	src := `enum Color { Red, Green, Blue }
Color.Blue`
	out, err := TransformSource(src, TransformOptions{Loader: "ts", Sourcefile: "color.ts"})
	if err != nil {
		t.Fatalf("TransformSource: %v", err)
	}
	v, err := cs.RunScript(out, "color.js")
	if err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if got := v.GetNumber(); got != 2 {
		t.Errorf("enum member: got %v, want 2", got)
	}
}

func TestTransformSource_LowersJSX(t *testing.T) {
	out, err := TransformSource(`const el = <div className="box">hi</div>;`,
		TransformOptions{Loader: "jsx", Sourcefile: "el.jsx"})
	if err != nil {
		t.Fatalf("TransformSource: %v", err)
	}
	if strings.Contains(out, "<div") {
		t.Errorf("JSX survived lowering: %q", out)
	}
	if !strings.Contains(out, "React.createElement") {
		t.Errorf("expected createElement calls, got %q", out)
	}
}

func TestTransformSource_Minify(t *testing.T) {
	_, _, cs := enterTestContext(t)

	src := `function multiplyBothOperands(firstOperand, secondOperand) {
	const intermediateProduct = firstOperand * secondOperand;
	return intermediateProduct;
}
multiplyBothOperands(6, 7)`
	out, err := TransformSource(src, TransformOptions{Minify: true})
	if err != nil {
		t.Fatalf("TransformSource: %v", err)
	}
	if len(out) >= len(src) {
		t.Errorf("minified output is not smaller: %d vs %d bytes", len(out), len(src))
	}
	v, err := cs.RunScript(out, "min.js")
	if err != nil {
		t.Fatalf("RunScript: %v", err)
	}
	if got := v.GetNumber(); got != 42 {
		t.Errorf("got %v, want 42", got)
	}
}

func TestTransformSource_UnknownLoader(t *testing.T) {
	_, err := TransformSource("1", TransformOptions{Loader: "wasm"})
	if err == nil {
		t.Fatal("unknown loader should fail")
	}
	if !strings.Contains(err.Error(), "unknown loader") {
		t.Errorf("error: %v", err)
	}
}

func TestTransformSource_ReportsSourcefile(t *testing.T) {
	_, err := TransformSource("const : = ;", TransformOptions{Loader: "ts", Sourcefile: "bad.ts"})
	if err == nil {
		t.Fatal("broken source should fail")
	}
	if !strings.Contains(err.Error(), "bad.ts") {
		t.Errorf("error should name the source file: %v", err)
	}
}

func TestBundleFile(t *testing.T) {
	_, _, cs := enterTestContext(t)

	dir := t.TempDir()
	lib := filepath.Join(dir, "lib.mjs")
	entry := filepath.Join(dir, "entry.mjs")
	if err := os.WriteFile(lib, []byte("export const answer = 6 * 7;\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(entry, []byte(`import { answer } from "./lib.mjs";
globalThis.bundled = answer;
`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src, err := BundleFile(entry)
	if err != nil {
		t.Fatalf("BundleFile: %v", err)
	}
	if strings.Contains(src, `from "./lib.mjs"`) {
		t.Errorf("import should be inlined, got %q", src)
	}

	m, err := cs.CompileAsModule("bundle.mjs", src)
	if err != nil {
		t.Fatalf("CompileAsModule: %v", err)
	}
	if err := m.Initiate(nil); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if _, err := m.Evaluate(); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	v := mustRun(t, cs, "bundled")
	if got := v.GetNumber(); got != 42 {
		t.Errorf("bundled result: got %v, want 42", got)
	}
}

func TestBundleFile_MissingEntry(t *testing.T) {
	if _, err := BundleFile(filepath.Join(t.TempDir(), "absent.mjs")); err == nil {
		t.Error("bundling a missing entry point should fail")
	}
}
