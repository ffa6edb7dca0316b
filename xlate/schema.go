package xlate

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ledgerline/stomp-relay/cmn/cos"
)

// numberConfig decodes JSON objects into map[string]any with integers kept
// as json.Number rather than float64, so identifiers in the high i64 range
// round-trip without precision loss. Used for both schema validation input
// and the decode/mutate/re-encode cycle transform/preprocess perform.
var numberConfig = jsoniter.Config{UseNumber: true}.Froze()

// clientMessageTypes are sent by a Creditors/Debtors Agent to the
// Accounting Authority. serverMessageTypes flow the other way. An Open
// Question in spec.md §9 about the exact gating table is resolved here by
// the original test suite: AA preprocesses (receives) client types and
// transforms (sends) server types; CA/DA is the mirror image.
var (
	clientMessageTypes = map[string]bool{
		"PrepareTransfer":  true,
		"FinalizeTransfer": true,
	}
	serverMessageTypes = map[string]bool{
		"AccountPurge":     true,
		"RejectedTransfer": true,
	}
)

var messageSchemas = map[string]string{
	"AccountPurge": `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["type", "debtor_id", "creditor_id", "creation_date", "ts"],
		"properties": {
			"type": {"const": "AccountPurge"},
			"debtor_id": {"type": "integer"},
			"creditor_id": {"type": "integer"},
			"creation_date": {"type": "string"},
			"ts": {"type": "string"}
		}
	}`,
	"PrepareTransfer": `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": [
			"type", "debtor_id", "creditor_id", "min_locked_amount",
			"max_locked_amount", "recipient", "final_interest_rate_ts",
			"max_commit_delay", "coordinator_type", "coordinator_id",
			"coordinator_request_id", "ts"
		],
		"properties": {
			"type": {"const": "PrepareTransfer"},
			"debtor_id": {"type": "integer"},
			"creditor_id": {"type": "integer"},
			"min_locked_amount": {"type": "integer"},
			"max_locked_amount": {"type": "integer"},
			"recipient": {"type": "string"},
			"final_interest_rate_ts": {"type": "string"},
			"max_commit_delay": {"type": "integer"},
			"coordinator_type": {"type": "string"},
			"coordinator_id": {"type": "integer"},
			"coordinator_request_id": {"type": "integer"},
			"ts": {"type": "string"}
		}
	}`,
	"FinalizeTransfer": `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": [
			"type", "debtor_id", "creditor_id", "transfer_id",
			"coordinator_type", "coordinator_id", "coordinator_request_id",
			"committed_amount", "transfer_note_format", "transfer_note", "ts"
		],
		"properties": {
			"type": {"const": "FinalizeTransfer"},
			"debtor_id": {"type": "integer"},
			"creditor_id": {"type": "integer"},
			"transfer_id": {"type": "integer"},
			"coordinator_type": {"type": "string"},
			"coordinator_id": {"type": "integer"},
			"coordinator_request_id": {"type": "integer"},
			"committed_amount": {"type": "integer"},
			"transfer_note_format": {"type": "string"},
			"transfer_note": {"type": "string"},
			"ts": {"type": "string"}
		}
	}`,
	"RejectedTransfer": `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": [
			"type", "debtor_id", "creditor_id", "coordinator_type",
			"coordinator_id", "coordinator_request_id", "status_code",
			"total_locked_amount", "ts"
		],
		"properties": {
			"type": {"const": "RejectedTransfer"},
			"debtor_id": {"type": "integer"},
			"creditor_id": {"type": "integer"},
			"coordinator_type": {"type": "string"},
			"coordinator_id": {"type": "integer"},
			"coordinator_request_id": {"type": "integer"},
			"status_code": {"type": "string"},
			"total_locked_amount": {"type": "integer"},
			"ts": {"type": "string"}
		}
	}`,
}

var compiledSchemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	c := jsonschema.NewCompiler()
	out := make(map[string]*jsonschema.Schema, len(messageSchemas))
	for name, text := range messageSchemas {
		url := name + ".json"
		if err := c.AddResource(url, strings.NewReader(text)); err != nil {
			panic("xlate: invalid built-in schema for " + name + ": " + err.Error())
		}
		schema, err := c.Compile(url)
		if err != nil {
			panic("xlate: failed to compile schema for " + name + ": " + err.Error())
		}
		out[name] = schema
	}
	return out
}

// parseMessageBody validates body against msgType's schema (after gating
// msgType through the allow-client/allow-server partition) and returns the
// decoded object with integers preserved as json.Number.
func parseMessageBody(msgType string, contentType string, body []byte, allowClient, allowServer bool) (map[string]any, error) {
	if contentType != "application/json" {
		return nil, cos.NewProcessingError("unsupported content type: %s", contentType)
	}
	if !allowClient && clientMessageTypes[msgType] {
		return nil, cos.NewProcessingError("invalid message type: %s", msgType)
	}
	if !allowServer && serverMessageTypes[msgType] {
		return nil, cos.NewProcessingError("invalid message type: %s", msgType)
	}
	schema, ok := compiledSchemas[msgType]
	if !ok {
		return nil, cos.NewProcessingError("invalid message type: %s", msgType)
	}

	var data map[string]any
	if err := numberConfig.Unmarshal(body, &data); err != nil {
		return nil, cos.NewProcessingError("invalid JSON body: %v", err)
	}
	if err := schema.Validate(data); err != nil {
		return nil, cos.NewProcessingError("invalid %s message: %v", msgType, err)
	}
	return data, nil
}
