package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	domainchat "sandchat/internal/domain/services/chat"
)

var topLevelDef = regexp.MustCompile(`(?m)^(?:async\s+)?def\s+([A-Za-z_]\w*)\s*\(([^)]*)\)`)

// callMarker prefixes the JSON result of an API call so it can be told
// apart from anything the function itself returns
const callMarker = "__sandbox_result__:"

// ScanAPI lists the public top-level functions of a python-api module with
// their parameter names and type hints. Underscore-prefixed names are
// private. It scans the source text; defaults containing parentheses are
// not supported.
func ScanAPI(source string) []domainchat.APIFunction {
	funcs := []domainchat.APIFunction{}
	seen := map[string]int{}
	for _, m := range topLevelDef.FindAllStringSubmatch(source, -1) {
		name := m[1]
		if strings.HasPrefix(name, "_") {
			continue
		}
		fn := domainchat.APIFunction{Name: name, Params: scanParams(m[2])}
		// a redefinition replaces the earlier one, as it does at runtime
		if i, ok := seen[name]; ok {
			funcs[i] = fn
			continue
		}
		seen[name] = len(funcs)
		funcs = append(funcs, fn)
	}
	return funcs
}

func scanParams(list string) []domainchat.APIParam {
	params := []domainchat.APIParam{}
	for _, raw := range splitTopLevel(list) {
		raw = strings.TrimSpace(raw)
		if raw == "" || raw == "/" || strings.HasPrefix(raw, "*") {
			continue
		}
		if i := strings.Index(raw, "="); i >= 0 {
			raw = strings.TrimSpace(raw[:i])
		}
		p := domainchat.APIParam{Name: raw}
		if i := strings.Index(raw, ":"); i >= 0 {
			p.Name = strings.TrimSpace(raw[:i])
			p.Type = strings.TrimSpace(raw[i+1:])
		}
		if p.Name == "self" || p.Name == "cls" {
			continue
		}
		params = append(params, p)
	}
	return params
}

// splitTopLevel splits on commas outside brackets
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '[', '(', '{':
			depth++
		case ']', ')', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// CallExpression builds the Python expression that calls fn with args
// passed as keyword arguments and serialises the return value as JSON
func CallExpression(fn string, args map[string]interface{}) (string, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}
	// a JSON string literal is also a valid Python string literal
	literal, err := json.Marshal(string(payload))
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}
	return fmt.Sprintf(`%q + __import__("json").dumps(%s(**__import__("json").loads(%s)), default=str)`,
		callMarker, fn, literal), nil
}

// Call invokes a python-api function in the sandbox's namespace. Python
// exceptions and undecodable results come back as a structured error in
// the response rather than as an error return.
func (r *PythonRuntime) Call(ctx context.Context, sandboxID string, api []domainchat.APIFunction, fn string, args map[string]interface{}) (*domainchat.CallAPIResponse, error) {
	known := false
	for _, f := range api {
		if f.Name == fn {
			known = true
			break
		}
	}
	if !known {
		return &domainchat.CallAPIResponse{Error: fmt.Sprintf("unknown function %q", fn)}, nil
	}

	expr, err := CallExpression(fn, args)
	if err != nil {
		return &domainchat.CallAPIResponse{Error: err.Error()}, nil
	}
	res, err := r.Eval(ctx, sandboxID, expr)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return &domainchat.CallAPIResponse{Error: res.Error}, nil
	}
	return decodeCallResult(res.Result), nil
}

func decodeCallResult(raw string) *domainchat.CallAPIResponse {
	body, ok := strings.CutPrefix(raw, callMarker)
	if !ok {
		return &domainchat.CallAPIResponse{Error: "function result is not JSON", Raw: raw}
	}
	var result interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		return &domainchat.CallAPIResponse{Error: fmt.Sprintf("decode result: %v", err), Raw: body}
	}
	return &domainchat.CallAPIResponse{Result: result}
}
