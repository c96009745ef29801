package qjsbind

import (
	"strings"
	"testing"
)

func TestParseJSON_RoundTrip(t *testing.T) {
	_, _, cs := enterTestContext(t)

	v, err := cs.ParseJSON(`{"name":"qjs","nums":[1,2,3],"nested":{"ok":true}}`)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if !v.IsObject() {
		t.Fatal("parsed JSON should be an object")
	}

	obj := v.AsObject()
	name, err := obj.Get("name")
	if err != nil {
		t.Fatalf("Get name: %v", err)
	}
	if got := name.String(); got != "qjs" {
		t.Errorf("name: got %q, want %q", got, "qjs")
	}

	nums, err := obj.Get("nums")
	if err != nil {
		t.Fatalf("Get nums: %v", err)
	}
	if !nums.IsArray() {
		t.Fatal("nums should be an array")
	}
	if got := nums.AsArray().Len(); got != 3 {
		t.Errorf("nums length: got %d, want 3", got)
	}

	text, err := cs.JSONStringify(v)
	if err != nil {
		t.Fatalf("JSONStringify: %v", err)
	}
	reparsed, err := cs.ParseJSON(text)
	if err != nil {
		t.Fatalf("reparsing stringified JSON: %v", err)
	}
	ok, err := reparsed.AsObject().Get("nested")
	if err != nil {
		t.Fatalf("Get nested: %v", err)
	}
	flag, err := ok.AsObject().Get("ok")
	if err != nil {
		t.Fatalf("Get ok: %v", err)
	}
	if !flag.ToBoolean() {
		t.Error("nested.ok should survive the round trip")
	}
}

func TestParseJSON_Invalid(t *testing.T) {
	_, _, cs := enterTestContext(t)

	_, err := cs.ParseJSON(`{"broken":`)
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "json") &&
		!strings.Contains(strings.ToLower(err.Error()), "unexpected") {
		t.Logf("parse error text: %v", err)
	}
}

func TestJSONStringify_UndefinedRendering(t *testing.T) {
	_, s, cs := enterTestContext(t)

	text, err := cs.JSONStringify(s.NewUndefined())
	if err != nil {
		t.Fatalf("JSONStringify undefined: %v", err)
	}
	if text != "undefined" {
		t.Errorf("stringify undefined: got %q, want %q", text, "undefined")
	}

	fn := mustRun(t, cs, "(function(){})")
	text, err = cs.JSONStringify(fn)
	if err != nil {
		t.Fatalf("JSONStringify function: %v", err)
	}
	if text != "undefined" {
		t.Errorf("stringify function: got %q, want %q", text, "undefined")
	}
}

func TestJSONStringify_Values(t *testing.T) {
	_, _, cs := enterTestContext(t)

	v := mustRun(t, cs, "({a: 1, b: [true, null]})")
	text, err := cs.JSONStringify(v)
	if err != nil {
		t.Fatalf("JSONStringify: %v", err)
	}
	if text != `{"a":1,"b":[true,null]}` {
		t.Errorf("got %q, want %q", text, `{"a":1,"b":[true,null]}`)
	}
}
