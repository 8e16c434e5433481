package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/dusk-indust/users-mcp/internal/userstore"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// failingStore is a UserStore whose every operation returns err.
type failingStore struct {
	err error
}

func (f failingStore) ListAll() ([]userstore.User, error)    { return nil, f.err }
func (f failingStore) Create(userstore.Fields) (int, error)  { return 0, f.err }
func (f failingStore) Get(int) (userstore.User, bool, error) { return userstore.User{}, false, f.err }

// fakeSampler returns a canned sampling reply.
type fakeSampler struct {
	result *mcp.CreateMessageResult
	err    error
	params *mcp.CreateMessageParams
}

func (f *fakeSampler) CreateMessage(_ context.Context, params *mcp.CreateMessageParams) (*mcp.CreateMessageResult, error) {
	f.params = params
	return f.result, f.err
}

// newTestService returns a UsersService over a fresh on-disk store.
func newTestService(t *testing.T) (*UsersService, *userstore.Store) {
	t.Helper()
	store := userstore.New(filepath.Join(t.TempDir(), "users.json"))
	return NewUsersService(store, zaptest.NewLogger(t)), store
}

func readRequest(uri string) *mcp.ReadResourceRequest {
	return &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: uri}}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

var annInput = CreateUserInput{Name: "Ann", Email: "a@x.com", Address: "1 Rd", Phone: "555"}

// ---------------------------------------------------------------------------
// ListUsers
// ---------------------------------------------------------------------------

func TestListUsers_Empty(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.ListUsers(context.Background(), readRequest(UsersURI))
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, UsersURI, res.Contents[0].URI)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)
	assert.Equal(t, "[]", res.Contents[0].Text)
}

func TestListUsers_ReturnsRecords(t *testing.T) {
	svc, store := newTestService(t)
	_, err := store.Create(annInput.fields())
	require.NoError(t, err)

	res, err := svc.ListUsers(context.Background(), readRequest(UsersURI))
	require.NoError(t, err)

	var users []userstore.User
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &users))
	assert.Equal(t, []userstore.User{
		{ID: 1, Name: "Ann", Email: "a@x.com", Address: "1 Rd", Phone: "555"},
	}, users)
}

func TestListUsers_StoreErrorFailsRequest(t *testing.T) {
	svc := NewUsersService(failingStore{err: &userstore.CorruptError{Path: "users.json", Err: errors.New("bad")}}, nil)

	_, err := svc.ListUsers(context.Background(), readRequest(UsersURI))
	require.Error(t, err)
	assert.ErrorIs(t, err, userstore.ErrCorrupt)
}

// ---------------------------------------------------------------------------
// UserProfile
// ---------------------------------------------------------------------------

func TestUserProfile(t *testing.T) {
	svc, store := newTestService(t)
	_, err := store.Create(annInput.fields())
	require.NoError(t, err)

	t.Run("found", func(t *testing.T) {
		res, err := svc.UserProfile(context.Background(), readRequest("users://1/profile"))
		require.NoError(t, err)
		require.Len(t, res.Contents, 1)

		var user userstore.User
		require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &user))
		assert.Equal(t, 1, user.ID)
		assert.Equal(t, "Ann", user.Name)
		assert.Equal(t, "users://1/profile", res.Contents[0].URI)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := svc.UserProfile(context.Background(), readRequest("users://42/profile"))
		require.Error(t, err)
	})

	t.Run("non-numeric id", func(t *testing.T) {
		_, err := svc.UserProfile(context.Background(), readRequest("users://ann/profile"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid user id")
	})
}

func TestParseUserID(t *testing.T) {
	id, err := parseUserID("users://17/profile")
	require.NoError(t, err)
	assert.Equal(t, 17, id)

	_, err = parseUserID("users://all")
	assert.Error(t, err)

	_, err = parseUserID("users://1.5/profile")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// CreateUser
// ---------------------------------------------------------------------------

func TestCreateUser(t *testing.T) {
	svc, store := newTestService(t)

	res, out, err := svc.CreateUser(context.Background(), nil, annInput)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "User 1 created successfully", resultText(t, res))
	assert.Equal(t, 1, out.ID)

	res, out, err = svc.CreateUser(context.Background(), nil, CreateUserInput{Name: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, "User 2 created successfully", resultText(t, res))
	assert.Equal(t, 2, out.ID)

	users, err := store.ListAll()
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestCreateUser_StoreErrorReportedVerbatim(t *testing.T) {
	storeErr := &userstore.IOError{Op: "write", Path: "/data/users.json", Err: errors.New("disk full")}
	svc := NewUsersService(failingStore{err: storeErr}, zaptest.NewLogger(t))

	res, out, err := svc.CreateUser(context.Background(), nil, annInput)
	require.NoError(t, err, "store failures are reported in the result, not as protocol errors")
	assert.True(t, res.IsError)
	assert.Equal(t, storeErr.Error(), resultText(t, res))
	assert.Zero(t, out.ID)
}

// ---------------------------------------------------------------------------
// CreateRandomUser
// ---------------------------------------------------------------------------

func TestCreateRandomUser_NoSession(t *testing.T) {
	svc, store := newTestService(t)

	res, _, err := svc.CreateRandomUser(context.Background(), nil, CreateRandomUserInput{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Failed to generate user data", resultText(t, res))

	users, err := store.ListAll()
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestSampleUser(t *testing.T) {
	svc, _ := newTestService(t)
	svc.maxTokens = 256

	sampler := &fakeSampler{result: &mcp.CreateMessageResult{
		Model:   "test-model",
		Role:    "assistant",
		Content: &mcp.TextContent{Text: `{"name":"Zed","email":"z@x.com","address":"9 Ln","phone":"999"}`},
	}}

	f, err := svc.sampleUser(context.Background(), sampler)
	require.NoError(t, err)
	assert.Equal(t, userstore.Fields{Name: "Zed", Email: "z@x.com", Address: "9 Ln", Phone: "999"}, f)

	require.NotNil(t, sampler.params)
	assert.Equal(t, int64(256), sampler.params.MaxTokens)
	require.Len(t, sampler.params.Messages, 1)
	assert.Equal(t, mcp.Role("user"), sampler.params.Messages[0].Role)
}

func TestSampleUser_Failures(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name    string
		sampler *fakeSampler
	}{
		{"client error", &fakeSampler{err: errors.New("sampling not supported")}},
		{"non-text reply", &fakeSampler{result: &mcp.CreateMessageResult{Content: &mcp.ImageContent{MIMEType: "image/png"}}}},
		{"not json", &fakeSampler{result: &mcp.CreateMessageResult{Content: &mcp.TextContent{Text: "Sure! Here is a user."}}}},
		{"json array", &fakeSampler{result: &mcp.CreateMessageResult{Content: &mcp.TextContent{Text: `[{"name":"Zed"}]`}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.sampleUser(context.Background(), tt.sampler)
			assert.Error(t, err)
		})
	}
}

func TestDecodeUserFields_CodeFence(t *testing.T) {
	reply := "```json\n{\"name\": \"Zed\", \"email\": \"z@x.com\", \"address\": \"9 Ln\", \"phone\": \"999\"}\n```"

	f, err := decodeUserFields(reply)
	require.NoError(t, err)
	assert.Equal(t, "Zed", f.Name)
	assert.Equal(t, "999", f.Phone)

	f, err = decodeUserFields("```\n{\"name\": \"Amy\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Amy", f.Name)
}

// ---------------------------------------------------------------------------
// GenerateFakeUser
// ---------------------------------------------------------------------------

func TestGenerateFakeUser(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.GenerateFakeUser(context.Background(), &mcp.GetPromptRequest{
		Params: &mcp.GetPromptParams{
			Name:      "generate-fake-user",
			Arguments: map[string]string{"name": "Ann"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, mcp.Role("user"), res.Messages[0].Role)

	text, ok := res.Messages[0].Content.(*mcp.TextContent)
	require.True(t, ok)
	assert.Equal(t,
		"Generate a fake user with the name Ann. The user should have a realistic email, address, and phone number.",
		text.Text)
}

func TestGenerateFakeUser_MissingName(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GenerateFakeUser(context.Background(), &mcp.GetPromptRequest{
		Params: &mcp.GetPromptParams{Name: "generate-fake-user"},
	})
	assert.Error(t, err)
}
