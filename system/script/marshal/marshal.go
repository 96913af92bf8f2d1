// Package marshal implements the Type Marshaler (spec §4.7): structured
// conversion between ScriptValue objects and the host records used by API
// bridges.
package marshal

import (
	"github.com/PaesslerAG/jsonpath"

	"github.com/zigllms/scriptcore/system/script/scripterr"
	"github.com/zigllms/scriptcore/system/script/value"
)

// AgentConfig is the host record marshaled per spec §4.7.
type AgentConfig struct {
	Name        string
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   *int64
	Tools       []string
}

// ToolDefinition describes a callable tool exposed to scripts.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      *value.Value
}

// WorkflowStep is one step of a scripted workflow.
type WorkflowStep struct {
	Name      string
	Agent     string
	Action    string
	Params    map[string]value.Value
	DependsOn []string
}

// ProviderConfig describes a model provider.
type ProviderConfig struct {
	Name    string
	Type    string
	BaseURL string
	APIKey  string
	Models  []string
	Timeout int64
}

// EventData is the structured payload delivered to a script event handler.
type EventData struct {
	EventType string
	Timestamp int64
	Data      value.Value
}

func requireField(field string) *scripterr.ScriptError {
	return scripterr.New(scripterr.Type, "missing required field: "+field).WithContext(field)
}

// AgentConfigToValue marshals an AgentConfig into a ScriptValue object.
func AgentConfigToValue(c AgentConfig) (value.Value, error) {
	if c.Name == "" {
		return value.Nil(), requireField("name")
	}
	if c.Provider == "" {
		return value.Nil(), requireField("provider")
	}
	if c.Model == "" {
		return value.Nil(), requireField("model")
	}
	v := value.NewObject()
	v.SetField("name", value.String(c.Name))
	v.SetField("provider", value.String(c.Provider))
	v.SetField("model", value.String(c.Model))
	if c.Temperature != nil {
		v.SetField("temperature", value.Number(*c.Temperature))
	}
	if c.MaxTokens != nil {
		v.SetField("max_tokens", value.Int(*c.MaxTokens))
	}
	if c.Tools != nil {
		items := make([]value.Value, len(c.Tools))
		for i, t := range c.Tools {
			items[i] = value.String(t)
		}
		v.SetField("tools", value.Array(items...))
	}
	return v, nil
}

// ValueToAgentConfig is the reverse of AgentConfigToValue. A field present
// with the wrong ScriptValue kind raises Type, naming the field in context.
func ValueToAgentConfig(v value.Value) (AgentConfig, error) {
	var c AgentConfig
	if v.Kind() != value.KindObject {
		return c, scripterr.New(scripterr.Type, "expected an object for AgentConfig")
	}

	name, ok := v.Field("name")
	if !ok {
		return c, requireField("name")
	}
	s, ok := name.AsString()
	if !ok {
		return c, scripterr.New(scripterr.Type, "name must be a string").WithContext("name")
	}
	c.Name = s

	provider, ok := v.Field("provider")
	if !ok {
		return c, requireField("provider")
	}
	s, ok = provider.AsString()
	if !ok {
		return c, scripterr.New(scripterr.Type, "provider must be a string").WithContext("provider")
	}
	c.Provider = s

	model, ok := v.Field("model")
	if !ok {
		return c, requireField("model")
	}
	s, ok = model.AsString()
	if !ok {
		return c, scripterr.New(scripterr.Type, "model must be a string").WithContext("model")
	}
	c.Model = s

	if temp, ok := v.Field("temperature"); ok {
		n, ok := temp.AsNumeric()
		if !ok {
			return c, scripterr.New(scripterr.Type, "temperature must be numeric").WithContext("temperature")
		}
		c.Temperature = &n
	}
	if mt, ok := v.Field("max_tokens"); ok {
		i, ok := mt.AsInt()
		if !ok {
			if n, ok2 := mt.AsNumeric(); ok2 {
				i = int64(n)
			} else {
				return c, scripterr.New(scripterr.Type, "max_tokens must be an integer").WithContext("max_tokens")
			}
		}
		c.MaxTokens = &i
	}
	if tools, ok := v.Field("tools"); ok {
		if tools.Kind() != value.KindArray {
			return c, scripterr.New(scripterr.Type, "tools must be an array").WithContext("tools")
		}
		for _, item := range tools.Items() {
			s, ok := item.AsString()
			if !ok {
				return c, scripterr.New(scripterr.Type, "tools entries must be strings").WithContext("tools")
			}
			c.Tools = append(c.Tools, s)
		}
	}
	return c, nil
}

// ToolDefinitionToValue marshals a ToolDefinition. Schema, if present, is
// embedded verbatim (functions/userdata inside it are rejected with Type
// by the caller's subsequent ToJSON, not here).
func ToolDefinitionToValue(t ToolDefinition) (value.Value, error) {
	if t.Name == "" {
		return value.Nil(), requireField("name")
	}
	v := value.NewObject()
	v.SetField("name", value.String(t.Name))
	v.SetField("description", value.String(t.Description))
	if t.Schema != nil {
		v.SetField("schema", *t.Schema)
	}
	return v, nil
}

// WorkflowStepToValue marshals a WorkflowStep.
func WorkflowStepToValue(s WorkflowStep) (value.Value, error) {
	if s.Name == "" {
		return value.Nil(), requireField("name")
	}
	if s.Agent == "" {
		return value.Nil(), requireField("agent")
	}
	if s.Action == "" {
		return value.Nil(), requireField("action")
	}
	v := value.NewObject()
	v.SetField("name", value.String(s.Name))
	v.SetField("agent", value.String(s.Agent))
	v.SetField("action", value.String(s.Action))
	params := value.NewObject()
	for k, pv := range s.Params {
		params.SetField(k, pv)
	}
	v.SetField("params", params)
	deps := make([]value.Value, len(s.DependsOn))
	for i, d := range s.DependsOn {
		deps[i] = value.String(d)
	}
	v.SetField("depends_on", value.Array(deps...))
	return v, nil
}

// ProviderConfigToValue marshals a ProviderConfig.
func ProviderConfigToValue(p ProviderConfig) (value.Value, error) {
	if p.Name == "" {
		return value.Nil(), requireField("name")
	}
	if p.Type == "" {
		return value.Nil(), requireField("type")
	}
	v := value.NewObject()
	v.SetField("name", value.String(p.Name))
	v.SetField("type", value.String(p.Type))
	if p.BaseURL != "" {
		v.SetField("base_url", value.String(p.BaseURL))
	}
	if p.APIKey != "" {
		v.SetField("api_key", value.String(p.APIKey))
	}
	models := make([]value.Value, len(p.Models))
	for i, m := range p.Models {
		models[i] = value.String(m)
	}
	v.SetField("models", value.Array(models...))
	v.SetField("timeout", value.Int(p.Timeout))
	return v, nil
}

// QueryPath runs a JSONPath expression (e.g. "$.tools[0]") against a
// marshaled record's ScriptValue tree, for the debug introspection path
// queries named by the Engine Interface's optional query(path) operation.
// Functions and userdata in the tree are not queryable JSON shapes and
// surface as Type, matching ToJSON's rejection of the same kinds.
func QueryPath(v value.Value, path string) (value.Value, error) {
	host, err := value.ToHost(v)
	if err != nil {
		return value.Nil(), scripterr.Wrap(scripterr.Type, "query: value is not JSON-shaped", err)
	}
	result, err := jsonpath.Get(path, host)
	if err != nil {
		return value.Nil(), scripterr.Wrap(scripterr.Syntax, "query: invalid path "+path, err).WithContext(path)
	}
	return value.FromHost(result), nil
}

// EventDataToValue marshals an EventData record.
func EventDataToValue(e EventData) (value.Value, error) {
	if e.EventType == "" {
		return value.Nil(), requireField("event_type")
	}
	v := value.NewObject()
	v.SetField("event_type", value.String(e.EventType))
	v.SetField("timestamp", value.Int(e.Timestamp))
	v.SetField("data", e.Data)
	return v, nil
}
