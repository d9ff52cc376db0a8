package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrErrCodeMissing is wrapped by errors for result objects that carry no
// err_code, and for responses where no result could be matched at all.
var ErrErrCodeMissing = errors.New("err_code missing")

// ModuleError describes one failing module or module.method result.
type ModuleError struct {
	Module   string
	Method   string // empty when the failure was reported at module level
	ErrCode  int
	ErrMsg   string
	Missing  bool // err_code was absent
	Response any  // the offending result object
}

// Name returns "module.method", or just the module for module-level results.
func (e *ModuleError) Name() string {
	if e.Method == "" {
		return e.Module
	}
	return e.Module + "." + e.Method
}

func (e *ModuleError) Error() string {
	if e.Missing {
		return fmt.Sprintf("%s: %s", e.Name(), ErrErrCodeMissing)
	}
	if e.ErrMsg != "" {
		return fmt.Sprintf("%s: err_code %d: %s", e.Name(), e.ErrCode, e.ErrMsg)
	}
	return fmt.Sprintf("%s: err_code %d", e.Name(), e.ErrCode)
}

func (e *ModuleError) Unwrap() error {
	if e.Missing {
		return ErrErrCodeMissing
	}
	return nil
}

// ResponseError is raised when a device reports failure for any part of a
// command. For batched commands it names every failing part, and Response
// holds the full envelope so callers can still inspect the parts that
// succeeded.
type ResponseError struct {
	Message  string
	Command  Command
	Response any
	Modules  []string // failing modules, in command order
	Methods  []string // failing "module.method" pairs
	Errors   []*ModuleError

	noResults bool
}

func (e *ResponseError) Error() string {
	return e.Message
}

// Unwrap exposes each module failure to errors.Is/As.
func (e *ResponseError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors)+1)
	for _, me := range e.Errors {
		errs = append(errs, me)
	}
	if e.noResults {
		errs = append(errs, ErrErrCodeMissing)
	}
	return errs
}

// IsResponseError reports whether err is (or wraps) a *ResponseError.
func IsResponseError(err error) bool {
	var re *ResponseError
	return errors.As(err, &re)
}

type fragment struct {
	module string
	method string
	value  any
}

// ProcessResponse validates a decoded response against the command that
// produced it.
//
// The command's shape drives the walk: for each module, every commanded
// method found as an object in the response is a result; a module that is
// absent, not an object, or missing any commanded method contributes its
// module-level object instead (devices report "module not support" there).
// Every result must carry err_code == 0.
//
// A single result for a single-key response is returned unwrapped;
// otherwise the whole response is returned.
func ProcessResponse(command Command, response map[string]any) (any, error) {
	frags := collectFragments(command, response)

	if len(frags) == 0 {
		return nil, &ResponseError{
			Message:   ErrErrCodeMissing.Error(),
			Command:   command,
			Response:  response,
			noResults: true,
		}
	}

	if len(frags) == 1 && len(response) == 1 {
		f := frags[0]
		if me := checkFragment(f); me != nil {
			rerr := &ResponseError{
				Message:  me.Error(),
				Command:  command,
				Response: f.value,
				Modules:  []string{f.module},
				Errors:   []*ModuleError{me},
			}
			if f.method != "" {
				rerr.Methods = []string{me.Name()}
			}
			return nil, rerr
		}
		return f.value, nil
	}

	var failed []*ModuleError
	for _, f := range frags {
		if me := checkFragment(f); me != nil {
			failed = append(failed, me)
		}
	}
	if len(failed) > 0 {
		return nil, aggregate(command, response, failed)
	}
	return response, nil
}

func aggregate(command Command, response map[string]any, failed []*ModuleError) *ResponseError {
	rerr := &ResponseError{
		Command:  command,
		Response: response,
		Errors:   failed,
	}
	seen := make(map[string]bool)
	names := make([]string, 0, len(failed))
	for _, me := range failed {
		if !seen[me.Module] {
			seen[me.Module] = true
			rerr.Modules = append(rerr.Modules, me.Module)
		}
		if me.Method != "" {
			rerr.Methods = append(rerr.Methods, me.Name())
		}
		names = append(names, me.Error())
	}
	rerr.Message = fmt.Sprintf("%d error(s) in response: %s", len(failed), strings.Join(names, "; "))
	return rerr
}

func collectFragments(command Command, response map[string]any) []fragment {
	var frags []fragment
	for _, module := range command.Modules() {
		raw, present := response[module]
		respModule, isObject := raw.(map[string]any)
		methods, _ := command[module].(map[string]any)

		if !present || !isObject || len(methods) == 0 {
			frags = append(frags, fragment{module: module, value: raw})
			continue
		}

		missing := false
		for _, method := range sortedKeys(methods) {
			result, ok := respModule[method].(map[string]any)
			if !ok {
				missing = true
				continue
			}
			frags = append(frags, fragment{module: module, method: method, value: result})
		}
		if missing {
			frags = append(frags, fragment{module: module, value: respModule})
		}
	}
	return frags
}

func checkFragment(f fragment) *ModuleError {
	me := &ModuleError{Module: f.module, Method: f.method, Response: f.value}

	obj, ok := f.value.(map[string]any)
	if !ok {
		me.Missing = true
		return me
	}
	code, ok := ErrCode(obj)
	if !ok {
		me.Missing = true
		return me
	}
	if code != 0 {
		me.ErrCode = code
		me.ErrMsg, _ = obj["err_msg"].(string)
		return me
	}
	return nil
}

// ErrCode extracts the numeric err_code from a result object.
func ErrCode(obj map[string]any) (int, bool) {
	switch v := obj["err_code"].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
