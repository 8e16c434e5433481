package mcptools

import "github.com/dusk-indust/users-mcp/internal/userstore"

// --- MCP Tool Input/Output Types ---
// The MCP Go SDK derives each tool's JSON schema from these struct tags.
// Fields without omitempty are required.

// CreateUserInput is the input for the create-user MCP tool.
type CreateUserInput struct {
	Name    string `json:"name" jsonschema:"full name of the user"`
	Email   string `json:"email" jsonschema:"email address of the user"`
	Address string `json:"address" jsonschema:"postal address of the user"`
	Phone   string `json:"phone" jsonschema:"phone number of the user"`
}

// CreateUserOutput is the result of the create-user MCP tool.
type CreateUserOutput struct {
	ID int `json:"id"`
}

// CreateRandomUserInput is the input for the create-random-user MCP tool.
type CreateRandomUserInput struct{}

// CreateRandomUserOutput is the result of the create-random-user MCP tool.
type CreateRandomUserOutput struct {
	ID   int              `json:"id"`
	User userstore.Fields `json:"user"`
}

func (in CreateUserInput) fields() userstore.Fields {
	return userstore.Fields{
		Name:    in.Name,
		Email:   in.Email,
		Address: in.Address,
		Phone:   in.Phone,
	}
}
