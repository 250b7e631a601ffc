package ownership

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Command is one of the three ownership requests, tagged by its JSON key.
// Exactly one field must be set.
type Command struct {
	ProposeNewOwner       *ProposeNewOwner       `json:"propose_new_owner,omitempty"`
	DropOwnershipProposal *DropOwnershipProposal `json:"drop_ownership_proposal,omitempty"`
	ClaimOwnership        *ClaimOwnership        `json:"claim_ownership,omitempty"`
}

// ProposeNewOwner proposes Owner as the next owner for ExpiresIn seconds.
type ProposeNewOwner struct {
	Owner     string `json:"owner"`
	ExpiresIn uint64 `json:"expires_in"`
}

// DropOwnershipProposal withdraws the pending proposal.
type DropOwnershipProposal struct{}

// ClaimOwnership accepts the pending proposal.
type ClaimOwnership struct{}

// Action returns the acknowledgement tag of the set variant.
func (c Command) Action() (Action, error) {
	var (
		action Action
		count  int
	)
	if c.ProposeNewOwner != nil {
		action = ActionProposeNewOwner
		count++
	}
	if c.DropOwnershipProposal != nil {
		action = ActionDropOwnershipProposal
		count++
	}
	if c.ClaimOwnership != nil {
		action = ActionClaimOwnership
		count++
	}

	if count != 1 {
		return "", fmt.Errorf("%w: exactly one variant must be set, got %d", ErrInvalidCommand, count)
	}
	return action, nil
}

const commandSchemaURL = "https://go-ownership.local/command.schema.json"

const commandSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "minProperties": 1,
  "maxProperties": 1,
  "additionalProperties": false,
  "properties": {
    "propose_new_owner": {
      "type": "object",
      "required": ["owner", "expires_in"],
      "additionalProperties": false,
      "properties": {
        "owner": {"type": "string"},
        "expires_in": {"type": "integer", "minimum": 0}
      }
    },
    "drop_ownership_proposal": {"type": "object", "additionalProperties": false},
    "claim_ownership": {"type": "object", "additionalProperties": false}
  }
}`

var compiledCommandSchema = mustCompileCommandSchema()

func mustCompileCommandSchema() *jsonschema.Schema {
	var c = jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(commandSchemaURL, strings.NewReader(commandSchema)); err != nil {
		panic(fmt.Sprintf("command schema load failed: %v", err))
	}
	return c.MustCompile(commandSchemaURL)
}

// DecodeCommand parses and validates a JSON encoded command.
func DecodeCommand(data []byte) (Command, error) {
	var (
		raw     any
		decoder = json.NewDecoder(bytes.NewReader(data))
	)
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	if err := compiledCommandSchema.Validate(raw); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	if _, err := cmd.Action(); err != nil {
		return Command{}, err
	}

	return cmd, nil
}
