//go:build enginecmp

package qjsbind

import (
	"testing"

	v8 "github.com/tommie/v8go"
	"modernc.org/quickjs"
)

// Cross-engine comparison. Build with -tags enginecmp:
//
//	go test -tags enginecmp -bench BenchmarkEval -run ^$ .

const benchScript = "(() => { let t = 0; for (let i = 0; i < 100; i++) t += i; return t; })()"

func BenchmarkEval_qjsbind(b *testing.B) {
	iso := NewIsolate(IsolateConfig{})
	if iso == nil {
		b.Fatal("isolate creation failed")
	}
	defer iso.Dispose()

	s := iso.Scope()
	ctx := s.NewContext()
	if ctx == nil {
		b.Fatal("context creation failed")
	}
	cs := ctx.Enter()

	if _, err := cs.RunScript(benchScript, "bench.js"); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hs := iso.OpenHandleScope()
		if _, err := cs.RunScript(benchScript, "bench.js"); err != nil {
			hs.Close()
			b.Fatal(err)
		}
		hs.Close()
	}
	b.StopTimer()

	cs.Exit()
	s.Close()
}

func BenchmarkEval_v8go(b *testing.B) {
	iso := v8.NewIsolate()
	defer iso.Dispose()
	ctx := v8.NewContext(iso)
	defer ctx.Close()

	if _, err := ctx.RunScript(benchScript, "bench.js"); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ctx.RunScript(benchScript, "bench.js"); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEval_quickjsVM(b *testing.B) {
	vm, err := quickjs.NewVM()
	if err != nil {
		b.Fatal(err)
	}
	defer vm.Close()

	if _, err := vm.Eval(benchScript, quickjs.EvalGlobal); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v, err := vm.EvalValue(benchScript, quickjs.EvalGlobal)
		if err != nil {
			b.Fatal(err)
		}
		v.Free()
	}
}

func BenchmarkStartup_qjsbind(b *testing.B) {
	for i := 0; i < b.N; i++ {
		iso := NewIsolate(IsolateConfig{})
		if iso == nil {
			b.Fatal("isolate creation failed")
		}
		iso.Dispose()
	}
}

func BenchmarkStartup_v8go(b *testing.B) {
	for i := 0; i < b.N; i++ {
		iso := v8.NewIsolate()
		iso.Dispose()
	}
}

func BenchmarkStartup_quickjsVM(b *testing.B) {
	for i := 0; i < b.N; i++ {
		vm, err := quickjs.NewVM()
		if err != nil {
			b.Fatal(err)
		}
		vm.Close()
	}
}
