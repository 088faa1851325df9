package rules

import (
	"bytes"
	"encoding/json"
)

// Action types understood by the chain dispatcher
const (
	ActionContractCall = "contract_call"
	ActionNotification = "notification"
)

// Action describes what should happen when a rule fires. The engine never
// inspects it; it is handed back verbatim in TriggeredAction.
type Action interface {
	ActionType() string
}

// ContractCallAction asks the dispatcher to call Method on Contract
type ContractCallAction struct {
	Contract    string
	Method      string
	Description string
}

func (ContractCallAction) ActionType() string { return ActionContractCall }

func (a ContractCallAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        string `json:"type"`
		Contract    string `json:"contract"`
		Method      string `json:"method"`
		Description string `json:"description,omitempty"`
	}{ActionContractCall, a.Contract, a.Method, a.Description})
}

// NotificationAction asks the dispatcher to send Message
type NotificationAction struct {
	Message     string
	Description string
}

func (NotificationAction) ActionType() string { return ActionNotification }

func (a NotificationAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        string `json:"type"`
		Message     string `json:"message"`
		Description string `json:"description,omitempty"`
	}{ActionNotification, a.Message, a.Description})
}

// GenericAction carries any other action payload unchanged
type GenericAction struct {
	Type   string
	Fields map[string]any
}

func (a GenericAction) ActionType() string { return a.Type }

func (a GenericAction) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Fields)+1)
	for k, v := range a.Fields {
		out[k] = v
	}
	if a.Type != "" {
		out["type"] = a.Type
	}
	return json.Marshal(out)
}

// DecodeAction turns a JSON action payload into its typed variant.
// Payloads that are not objects are kept under the "value" field.
func DecodeAction(data []byte) (Action, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return GenericAction{Fields: map[string]any{"value": v}}, nil
	}

	typ, _ := fields["type"].(string)
	switch typ {
	case ActionContractCall:
		contract, _ := fields["contract"].(string)
		method, _ := fields["method"].(string)
		desc, _ := fields["description"].(string)
		if onlyKeys(fields, "type", "contract", "method", "description") {
			return ContractCallAction{Contract: contract, Method: method, Description: desc}, nil
		}
	case ActionNotification:
		msg, _ := fields["message"].(string)
		desc, _ := fields["description"].(string)
		if onlyKeys(fields, "type", "message", "description") {
			return NotificationAction{Message: msg, Description: desc}, nil
		}
	}

	// extra fields would be lost in a typed variant
	delete(fields, "type")
	return GenericAction{Type: typ, Fields: fields}, nil
}

func onlyKeys(fields map[string]any, allowed ...string) bool {
	for k, v := range fields {
		if _, isString := v.(string); !isString {
			return false
		}
		known := false
		for _, a := range allowed {
			if k == a {
				known = true
				break
			}
		}
		if !known {
			return false
		}
	}
	return true
}
