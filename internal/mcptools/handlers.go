package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dusk-indust/users-mcp/internal/userstore"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/yosida95/uritemplate/v3"
	"go.uber.org/zap"
)

const (
	// UsersURI addresses the listing of every user.
	UsersURI = "users://all"

	// UserProfileTemplate addresses a single user by id.
	UserProfileTemplate = "users://{userId}/profile"

	jsonMIMEType = "application/json"

	// generateFailedMessage is reported when the client's sampling reply
	// cannot be turned into a user.
	generateFailedMessage = "Failed to generate user data"

	randomUserPrompt = "Generate fake user data. The user should have a realistic name, email, address, and phone number. " +
		"Return this data as a JSON object with no other text or formatter so it can be parsed directly."
)

var profileTemplate = uritemplate.MustNew(UserProfileTemplate)

// UserStore is the storage the handlers depend on. *userstore.Store
// satisfies it.
type UserStore interface {
	ListAll() ([]userstore.User, error)
	Create(userstore.Fields) (int, error)
	Get(id int) (userstore.User, bool, error)
}

// sampler sends a sampling request back to the connected client.
// *mcp.ServerSession satisfies it.
type sampler interface {
	CreateMessage(ctx context.Context, params *mcp.CreateMessageParams) (*mcp.CreateMessageResult, error)
}

// UsersService holds the user store and settings shared by every MCP
// handler. One instance is built at startup and injected into the server.
type UsersService struct {
	store     UserStore
	logger    *zap.Logger
	maxTokens int64
}

// ServiceOption configures a UsersService.
type ServiceOption func(*UsersService)

// WithSamplingMaxTokens caps the reply length requested from the client by
// create-random-user.
func WithSamplingMaxTokens(n int64) ServiceOption {
	return func(s *UsersService) { s.maxTokens = n }
}

// NewUsersService creates a UsersService backed by store. A nil logger
// discards log output.
func NewUsersService(store UserStore, logger *zap.Logger, opts ...ServiceOption) *UsersService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &UsersService{store: store, logger: logger, maxTokens: 1024}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListUsers serves users://all as a pretty-printed JSON array. Store
// failures fail the read request.
func (s *UsersService) ListUsers(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	users, err := s.store.ListAll()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return jsonResource(req.Params.URI, users)
}

// UserProfile serves users://{userId}/profile.
func (s *UsersService) UserProfile(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	id, err := parseUserID(uri)
	if err != nil {
		return nil, err
	}

	user, ok, err := s.store.Get(id)
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	if !ok {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	return jsonResource(uri, user)
}

// CreateUser appends a user built from the tool arguments. Store failures
// are reported to the caller as an error result carrying the message.
func (s *UsersService) CreateUser(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input CreateUserInput,
) (*mcp.CallToolResult, CreateUserOutput, error) {
	id, err := s.store.Create(input.fields())
	if err != nil {
		s.logger.Error("create user failed", zap.Error(err))
		return errorResult(err.Error()), CreateUserOutput{}, nil
	}

	s.logger.Info("user created", zap.Int("id", id))
	return textResult(createdMessage(id)), CreateUserOutput{ID: id}, nil
}

// CreateRandomUser asks the client's model for a fake user via sampling
// and stores whatever it returns.
func (s *UsersService) CreateRandomUser(
	ctx context.Context,
	req *mcp.CallToolRequest,
	_ CreateRandomUserInput,
) (*mcp.CallToolResult, CreateRandomUserOutput, error) {
	var session sampler
	if req != nil && req.Session != nil {
		session = req.Session
	}

	fields, err := s.sampleUser(ctx, session)
	if err != nil {
		s.logger.Warn("generate user failed", zap.Error(err))
		return errorResult(generateFailedMessage), CreateRandomUserOutput{}, nil
	}

	id, err := s.store.Create(fields)
	if err != nil {
		s.logger.Error("create user failed", zap.Error(err))
		return errorResult(err.Error()), CreateRandomUserOutput{}, nil
	}

	s.logger.Info("random user created", zap.Int("id", id))
	return textResult(createdMessage(id)), CreateRandomUserOutput{ID: id, User: fields}, nil
}

func (s *UsersService) sampleUser(ctx context.Context, session sampler) (userstore.Fields, error) {
	if session == nil {
		return userstore.Fields{}, errors.New("no client session to sample from")
	}

	res, err := session.CreateMessage(ctx, &mcp.CreateMessageParams{
		MaxTokens: s.maxTokens,
		Messages: []*mcp.SamplingMessage{{
			Role:    "user",
			Content: &mcp.TextContent{Text: randomUserPrompt},
		}},
	})
	if err != nil {
		return userstore.Fields{}, fmt.Errorf("sampling request: %w", err)
	}

	text, ok := res.Content.(*mcp.TextContent)
	if !ok {
		return userstore.Fields{}, fmt.Errorf("sampling reply is %T, want text", res.Content)
	}
	return decodeUserFields(text.Text)
}

// decodeUserFields parses a model reply into user fields. Replies wrapped
// in a Markdown code fence are accepted.
func decodeUserFields(reply string) (userstore.Fields, error) {
	body := strings.TrimSpace(reply)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimPrefix(body, "json")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
		body = strings.TrimSpace(body)
	}

	var f userstore.Fields
	if err := json.Unmarshal([]byte(body), &f); err != nil {
		return userstore.Fields{}, fmt.Errorf("decode user: %w", err)
	}
	return f, nil
}

// GenerateFakeUser renders the generate-fake-user prompt.
func (s *UsersService) GenerateFakeUser(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := strings.TrimSpace(req.Params.Arguments["name"])
	if name == "" {
		return nil, errors.New("argument name is required")
	}

	return &mcp.GetPromptResult{
		Description: "Generate a fake user",
		Messages: []*mcp.PromptMessage{{
			Role: "user",
			Content: &mcp.TextContent{
				Text: fmt.Sprintf("Generate a fake user with the name %s. The user should have a realistic email, address, and phone number.", name),
			},
		}},
	}, nil
}

// subscribe and unsubscribe accept subscriptions to users://all; the SDK
// tracks subscribers and ResourceUpdated fans out to them.
func (s *UsersService) subscribe(_ context.Context, req *mcp.SubscribeRequest) error {
	if req.Params.URI != UsersURI {
		return mcp.ResourceNotFoundError(req.Params.URI)
	}
	s.logger.Debug("resource subscribed", zap.String("uri", req.Params.URI))
	return nil
}

func (s *UsersService) unsubscribe(_ context.Context, req *mcp.UnsubscribeRequest) error {
	s.logger.Debug("resource unsubscribed", zap.String("uri", req.Params.URI))
	return nil
}

// parseUserID extracts the numeric id from a users://{userId}/profile URI.
func parseUserID(uri string) (int, error) {
	values := profileTemplate.Match(uri)
	if values == nil {
		return 0, fmt.Errorf("uri %q does not match %s", uri, UserProfileTemplate)
	}
	raw := values.Get("userId").String()
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q in %s", raw, uri)
	}
	return id, nil
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: jsonMIMEType,
			Text:     string(data),
		}},
	}, nil
}

func createdMessage(id int) string {
	return fmt.Sprintf("User %d created successfully", id)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	res := textResult(text)
	res.IsError = true
	return res
}
