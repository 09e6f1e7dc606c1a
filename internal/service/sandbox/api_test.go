package sandbox

import (
	"strings"
	"testing"
)

func TestScanAPI(t *testing.T) {
	src := `import math

def add(a: int, b: int = 2) -> int:
    return a + b

def _private(x):
    return x

def greet(name: str, *args, punctuation: str = "!", **kwargs):
    def inner():
        pass
    return "hi " + name + punctuation

def matrix(rows: list[list[int]], scale: float):
    return rows

class Thing:
    def method(self, x):
        return x
`
	api := ScanAPI(src)
	if len(api) != 3 {
		t.Fatalf("api = %+v, want add, greet, matrix", api)
	}
	if api[0].Name != "add" || len(api[0].Params) != 2 || api[0].Params[1].Type != "int" {
		t.Errorf("add = %+v", api[0])
	}
	if api[1].Name != "greet" || len(api[1].Params) != 2 || api[1].Params[1].Name != "punctuation" {
		t.Errorf("greet = %+v", api[1])
	}
	if api[2].Params[0].Type != "list[list[int]]" {
		t.Errorf("matrix rows type = %q", api[2].Params[0].Type)
	}
}

func TestCallExpression(t *testing.T) {
	expr, err := CallExpression("add", map[string]interface{}{"a": 1, "note": "it's \"quoted\"\n"})
	if err != nil {
		t.Fatalf("CallExpression: %v", err)
	}
	if !strings.Contains(expr, "add(**__import__(\"json\").loads(") {
		t.Errorf("expr = %s", expr)
	}
	if strings.Contains(expr, "\n") {
		t.Errorf("expression must stay on one line: %s", expr)
	}
}

func TestDecodeCallResult(t *testing.T) {
	ok := decodeCallResult(callMarker + `{"sum": 3}`)
	if ok.Error != "" {
		t.Fatalf("unexpected error: %s", ok.Error)
	}
	if m, _ := ok.Result.(map[string]interface{}); m["sum"] != float64(3) {
		t.Errorf("result = %#v", ok.Result)
	}

	bad := decodeCallResult(callMarker + `{"sum": `)
	if bad.Error == "" || bad.Raw == "" {
		t.Errorf("malformed result should be a structured error: %+v", bad)
	}

	missing := decodeCallResult("3")
	if missing.Error == "" {
		t.Errorf("unmarked result should be an error: %+v", missing)
	}
}
