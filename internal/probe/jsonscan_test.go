package probe

import "testing"

func TestFirstJSONObjectBracesInsideStrings(t *testing.T) {
	raw := `prefix {"a": "text with { inside", "b": "and } too"} suffix`
	obj, ok := firstJSONObject(raw)
	if !ok {
		t.Fatal("expected an object")
	}
	want := `{"a": "text with { inside", "b": "and } too"}`
	if obj != want {
		t.Fatalf("wrong object extracted:\n got  %s\n want %s", obj, want)
	}
}

func TestFirstJSONObjectEscapedQuote(t *testing.T) {
	raw := `{"a": "quote \" then { brace"}`
	obj, ok := firstJSONObject(raw)
	if !ok {
		t.Fatal("expected an object")
	}
	if obj != raw {
		t.Fatalf("expected whole input, got %s", obj)
	}
}

func TestFirstJSONObjectNested(t *testing.T) {
	raw := `noise {"outer": {"inner": {"deep": 1}}} trailing {`
	obj, ok := firstJSONObject(raw)
	if !ok {
		t.Fatal("expected an object")
	}
	if obj != `{"outer": {"inner": {"deep": 1}}}` {
		t.Fatalf("wrong nesting boundary: %s", obj)
	}
}

func TestFirstJSONObjectUnbalanced(t *testing.T) {
	if _, ok := firstJSONObject(`{"never": "closes"`); ok {
		t.Fatal("expected no object for unbalanced braces")
	}
	if _, ok := firstJSONObject("no braces at all"); ok {
		t.Fatal("expected no object without braces")
	}
}

func TestParsesAsJSONObjectRejectsInvalid(t *testing.T) {
	if parsesAsJSONObject(`{"a": }`) {
		t.Fatal("balanced but invalid JSON must not parse")
	}
	if !parsesAsJSONObject("text before {\"a\": 1} text after") {
		t.Fatal("embedded valid object must parse")
	}
}
