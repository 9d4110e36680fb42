package server

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// wsFrame is one client request.
type wsFrame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

const wsRequestSchema = `{
	"type": "object",
	"properties": {
		"id": {"type": "string"},
		"method": {"type": "string", "minLength": 1},
		"params": {"type": "object"}
	},
	"required": ["method"]
}`

const wsSubscribeParamsSchema = `{
	"type": "object",
	"properties": {
		"session_id": {"type": "string"},
		"workstream": {"type": "string"},
		"reconnect_token": {"type": "string"}
	}
}`

const wsChatParamsSchema = `{
	"type": "object",
	"properties": {
		"session_id": {"type": "string", "minLength": 1},
		"message": {"type": "string", "minLength": 1}
	},
	"required": ["session_id", "message"]
}`

const wsSessionCloseParamsSchema = `{
	"type": "object",
	"properties": {
		"session_id": {"type": "string", "minLength": 1}
	},
	"required": ["session_id"]
}`

const wsWorkstreamUsageParamsSchema = `{
	"type": "object",
	"properties": {
		"workstream": {"type": "string", "minLength": 1}
	},
	"required": ["workstream"]
}`

type wsSchemaRegistry struct {
	once    sync.Once
	initErr error
	request *jsonschema.Schema
	methods map[string]*jsonschema.Schema
}

var wsSchemas wsSchemaRegistry

func initWSSchemas() error {
	wsSchemas.once.Do(func() {
		request, err := jsonschema.CompileString("ws_request", wsRequestSchema)
		if err != nil {
			wsSchemas.initErr = err
			return
		}
		wsSchemas.request = request

		methods := map[string]string{
			"subscribe":        wsSubscribeParamsSchema,
			"chat":             wsChatParamsSchema,
			"session.close":    wsSessionCloseParamsSchema,
			"workstream.usage": wsWorkstreamUsageParamsSchema,
		}
		wsSchemas.methods = make(map[string]*jsonschema.Schema, len(methods))
		for name, schema := range methods {
			compiled, err := jsonschema.CompileString("ws_method_"+name, schema)
			if err != nil {
				wsSchemas.initErr = err
				return
			}
			wsSchemas.methods[name] = compiled
		}
	})
	return wsSchemas.initErr
}

// validateWSFrame checks a raw request frame and its per-method params.
func validateWSFrame(raw []byte, frame *wsFrame) error {
	if err := initWSSchemas(); err != nil {
		return err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := wsSchemas.request.Validate(payload); err != nil {
		return err
	}
	if frame == nil {
		return fmt.Errorf("missing frame")
	}
	if schema := wsSchemas.methods[frame.Method]; schema != nil {
		var params any
		if len(frame.Params) == 0 {
			params = map[string]any{}
		} else if err := json.Unmarshal(frame.Params, &params); err != nil {
			return err
		}
		if err := schema.Validate(params); err != nil {
			return err
		}
	}
	return nil
}
