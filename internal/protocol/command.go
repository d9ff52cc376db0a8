package protocol

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ContextKey is the top-level command key carrying child addressing.
const ContextKey = "context"

// Command is a request body: module -> method -> parameters. A single
// Command may batch any number of module/method pairs.
type Command map[string]any

// NewCommand builds a single module/method command. A nil params value is
// sent as an empty object, which is what devices expect for getters.
func NewCommand(module, method string, params any) Command {
	return Command{}.Add(module, method, params)
}

// Add inserts module.method into the command and returns it for chaining.
// Methods already present on the same module are kept.
func (c Command) Add(module, method string, params any) Command {
	if params == nil {
		params = map[string]any{}
	}
	methods, ok := c[module].(map[string]any)
	if !ok {
		methods = map[string]any{}
		c[module] = methods
	}
	methods[method] = params
	return c
}

// Modules returns the command's module names in sorted order, without the
// child context key.
func (c Command) Modules() []string {
	modules := make([]string, 0, len(c))
	for module := range c {
		if module == ContextKey {
			continue
		}
		modules = append(modules, module)
	}
	sort.Strings(modules)
	return modules
}

// WithChildContext returns a shallow copy of c addressed to the given child
// outlets. The original command is not modified.
func WithChildContext(c Command, childIDs []string) Command {
	out := make(Command, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	if len(childIDs) > 0 {
		out[ContextKey] = map[string]any{"child_ids": childIDs}
	}
	return out
}

// WithoutContext returns c with the child context key removed.
func WithoutContext(c Command) Command {
	if _, ok := c[ContextKey]; !ok {
		return c
	}
	out := make(Command, len(c))
	for k, v := range c {
		if k != ContextKey {
			out[k] = v
		}
	}
	return out
}

// Marshal encodes the command as the JSON payload sent on the wire.
func (c Command) Marshal() ([]byte, error) {
	data, err := json.Marshal(map[string]any(c))
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to encode command: %w", err)
	}
	return data, nil
}

// ParseCommand decodes a JSON command body, e.g. from the command line.
func ParseCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("protocol: invalid command JSON: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("protocol: command must be a JSON object")
	}
	return c, nil
}

// DiscoveryCommand is the probe broadcast by discovery. With includeEmeter
// the energy meter of both device families is read in the same round trip.
func DiscoveryCommand(includeEmeter bool) Command {
	cmd := NewCommand(PlugNamespaces.System, MethodGetSysInfo, nil)
	if includeEmeter {
		cmd.Add(PlugNamespaces.Emeter, MethodGetRealtime, nil)
		cmd.Add(BulbNamespaces.Emeter, MethodGetRealtime, nil)
	}
	return cmd
}

// SysInfoCommand requests system.get_sysinfo.
func SysInfoCommand() Command {
	return NewCommand(PlugNamespaces.System, MethodGetSysInfo, nil)
}
