package api

// Per-route payload schemas, compiled once at router construction. Field
// bounds here are the outer gate; the engine re-checks the semantic rules
// (limits, balances, PIN) behind them.

const fundSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["amount"],
  "properties": {
    "amount": {"type": "integer", "exclusiveMinimum": 0},
    "reference": {"type": "string", "minLength": 4, "maxLength": 64},
    "description": {"type": "string", "maxLength": 255}
  }
}`

const transferSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["amount", "account_number", "pin"],
  "properties": {
    "amount": {"type": "integer", "exclusiveMinimum": 0},
    "account_number": {"type": "string", "pattern": "^[0-9]{10}$"},
    "pin": {"type": "string", "pattern": "^[0-9]{4,6}$"},
    "reference": {"type": "string", "minLength": 4, "maxLength": 64},
    "description": {"type": "string", "maxLength": 255}
  }
}`

const withdrawSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["amount", "pin", "bank_code", "bank_account_number"],
  "properties": {
    "amount": {"type": "integer", "exclusiveMinimum": 0},
    "pin": {"type": "string", "pattern": "^[0-9]{4,6}$"},
    "bank_code": {"type": "string", "pattern": "^[0-9A-Z]{3,6}$"},
    "bank_account_number": {"type": "string", "pattern": "^[0-9]{10}$"},
    "bank_account_name": {"type": "string", "minLength": 1, "maxLength": 255},
    "reference": {"type": "string", "minLength": 4, "maxLength": 64},
    "description": {"type": "string", "maxLength": 255}
  }
}`

const pinSetupSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["pin"],
  "properties": {
    "pin": {"type": "string", "pattern": "^[0-9]{4,6}$"}
  }
}`

const pinChangeSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["old_pin", "new_pin"],
  "properties": {
    "old_pin": {"type": "string", "pattern": "^[0-9]{4,6}$"},
    "new_pin": {"type": "string", "pattern": "^[0-9]{4,6}$"}
  }
}`
