package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	extism "github.com/extism/go-sdk"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/models"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/requestspec"
)

// Exported functions a WebAssembly processor may implement. Both take and return JSON.
const (
	InputFunction  = "process_input"
	OutputFunction = "process_output"
)

// wasmInput is sent to process_input and process_output. Parameters is a JSON object with one
// member per request field, in request order.
type wasmInput struct {
	InvocationID string                     `json:"invocation_id"`
	Key          string                     `json:"key"`
	Query        *models.QuerySpecification `json:"query"`
	Parameters   json.RawMessage            `json:"parameters"`
	Result       any                        `json:"result,omitempty"`
}

type wasmInputResult struct {
	Parameters json.RawMessage `json:"parameters"`
	Escape     bool            `json:"escape"`
	Output     any             `json:"output"`
}

type wasmOutputResult struct {
	Result json.RawMessage `json:"result"`
}

// WasmProcessor runs an Extism plugin. The module is compiled once; each call gets a fresh
// instance so concurrent requests never share plugin memory.
type WasmProcessor struct {
	path     string
	compiled *extism.CompiledPlugin
	logger   *zap.Logger
}

// NewWasmProcessor compiles the module at path.
func NewWasmProcessor(ctx context.Context, path string, logger *zap.Logger) (*WasmProcessor, error) {
	manifest := extism.Manifest{
		Wasm: []extism.Wasm{extism.WasmFile{Path: path}},
	}
	compiled, err := extism.NewCompiledPlugin(ctx, manifest, extism.PluginConfig{EnableWasi: true}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to compile wasm module %s: %w", path, err)
	}
	return &WasmProcessor{path: path, compiled: compiled, logger: logger}, nil
}

func (p *WasmProcessor) ProcessInput(ctx context.Context, key string, specs []models.RequestSpecification, q *models.QuerySpecification) (InputResult, error) {
	params, err := EncodeFields(specs)
	if err != nil {
		return InputResult{}, err
	}

	out, called, err := p.call(ctx, InputFunction, wasmInput{
		InvocationID: uuid.NewString(),
		Key:          key,
		Query:        q,
		Parameters:   params,
	})
	if err != nil {
		return InputResult{}, err
	}
	if !called {
		return InputResult{Specs: specs}, nil
	}

	var res wasmInputResult
	if err := json.Unmarshal(out, &res); err != nil {
		return InputResult{}, fmt.Errorf("%s returned invalid JSON: %w", InputFunction, err)
	}
	if res.Escape {
		return InputResult{Escape: true, Output: res.Output}, nil
	}
	if isNull(res.Parameters) {
		return InputResult{Specs: specs}, nil
	}

	replaced, err := requestspec.Extract(res.Parameters, nil, requestspec.Options{})
	if err != nil {
		return InputResult{}, fmt.Errorf("%s returned invalid parameters: %w", InputFunction, err)
	}
	return InputResult{Specs: replaced}, nil
}

func (p *WasmProcessor) ProcessOutput(ctx context.Context, key string, raw any, specs []models.RequestSpecification, q *models.QuerySpecification) (any, error) {
	params, err := EncodeFields(specs)
	if err != nil {
		return nil, err
	}

	out, called, err := p.call(ctx, OutputFunction, wasmInput{
		InvocationID: uuid.NewString(),
		Key:          key,
		Query:        q,
		Parameters:   params,
		Result:       raw,
	})
	if err != nil {
		return nil, err
	}
	if !called {
		return raw, nil
	}

	var res wasmOutputResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("%s returned invalid JSON: %w", OutputFunction, err)
	}
	if isNull(res.Result) {
		return raw, nil
	}

	name := key
	if t, ok := raw.(*models.Table); ok && t.Name != "" {
		name = t.Name
	}
	tabular, ok, err := requestspec.DecodeTabular(name, res.Result)
	if err != nil {
		return nil, fmt.Errorf("%s returned an invalid result: %w", OutputFunction, err)
	}
	if ok {
		return tabular, nil
	}
	// anything else can only be rendered as JSON
	return res.Result, nil
}

// call runs fn on a fresh instance. called is false when the module does not export fn.
func (p *WasmProcessor) call(ctx context.Context, fn string, in wasmInput) (out []byte, called bool, err error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode %s input: %w", fn, err)
	}

	inst, err := p.compiled.Instance(ctx, extism.PluginInstanceConfig{})
	if err != nil {
		return nil, false, fmt.Errorf("failed to instantiate %s: %w", p.path, err)
	}
	defer inst.Close(ctx)

	if !inst.FunctionExists(fn) {
		return nil, false, nil
	}

	inst.SetLogger(func(level extism.LogLevel, msg string) {
		p.logger.Debug("plugin log",
			zap.String("path", p.path),
			zap.String("invocation_id", in.InvocationID),
			zap.Any("level", level),
			zap.String("message", msg))
	})

	exit, out, err := inst.CallWithContext(ctx, fn, data)
	if err != nil {
		return nil, true, fmt.Errorf("%s failed (exit %d): %w", fn, exit, err)
	}
	if exit != 0 {
		return nil, true, fmt.Errorf("%s exited with code %d", fn, exit)
	}
	return out, true, nil
}

// Close releases the compiled module.
func (p *WasmProcessor) Close(ctx context.Context) error {
	return p.compiled.Close(ctx)
}

// EncodeFields renders request fields as one JSON object in request order. Later duplicates of
// a name are written too; JSON decoders keep the last one.
func EncodeFields(specs []models.RequestSpecification) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range specs {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(s.Name)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(s.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", s.Name, err)
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

var _ Processor = (*WasmProcessor)(nil)
