package mcptools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// version is set by the linker at build time.
var version = "dev"

// Options configures the MCP server built by NewUsersMCPServer.
type Options struct {
	// Name is reported to clients during initialization.
	Name string

	// Logger receives per-request logs. Nil discards them.
	Logger *zap.Logger

	// ToolCallsPerSecond limits tools/call requests; zero disables limiting.
	ToolCallsPerSecond float64
	Burst              int
}

// NewUsersMCPServer creates an MCP server with the users resources,
// tools and prompt registered against svc.
func NewUsersMCPServer(svc *UsersService, opts Options) *mcp.Server {
	name := opts.Name
	if name == "" {
		name = "users-mcp"
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, &mcp.ServerOptions{
		HasPrompts:         true,
		HasResources:       true,
		HasTools:           true,
		SubscribeHandler:   svc.subscribe,
		UnsubscribeHandler: svc.unsubscribe,
	})

	middleware := []mcp.Middleware{LoggingMiddleware(logger)}
	if opts.ToolCallsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(opts.ToolCallsPerSecond), burst)
		middleware = append(middleware, RateLimitMiddleware(map[string]*rate.Limiter{
			"tools/call": limiter,
		}))
	}
	server.AddReceivingMiddleware(middleware...)

	server.AddResource(&mcp.Resource{
		Name:        "users",
		Title:       "Users",
		Description: "Get all users data from the database",
		MIMEType:    jsonMIMEType,
		URI:         UsersURI,
	}, svc.ListUsers)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "user-details",
		Title:       "User Details",
		Description: "Get a user's details from the database",
		MIMEType:    jsonMIMEType,
		URITemplate: UserProfileTemplate,
	}, svc.UserProfile)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create-user",
		Description: "Create a new user in the database",
	}, svc.CreateUser)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create-random-user",
		Description: "Create a random user with fake data generated by the client's model",
	}, svc.CreateRandomUser)

	server.AddPrompt(&mcp.Prompt{
		Name:        "generate-fake-user",
		Description: "Generate a fake user based on a given name",
		Arguments: []*mcp.PromptArgument{{
			Name:        "name",
			Description: "name of the user to generate",
			Required:    true,
		}},
	}, svc.GenerateFakeUser)

	return server
}

// NotifyUsersChanged tells subscribed clients that users://all changed.
func NotifyUsersChanged(ctx context.Context, server *mcp.Server) error {
	return server.ResourceUpdated(ctx, &mcp.ResourceUpdatedNotificationParams{URI: UsersURI})
}

// RunStdio runs the MCP server on stdio transport, blocking until stdin is
// closed or the context is cancelled.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

const (
	httpReadHeaderTimeout = 10 * time.Second
	httpShutdownTimeout   = 5 * time.Second
)

// RunHTTP listens on addr and serves streamable HTTP until ctx is
// cancelled.
func RunHTTP(ctx context.Context, server *mcp.Server, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return ServeHTTP(ctx, server, ln)
}

// ServeHTTP serves streamable HTTP on ln, which it closes. Cancelling ctx
// drains open requests for up to httpShutdownTimeout.
func ServeHTTP(ctx context.Context, server *mcp.Server, ln net.Listener) error {
	srv := &http.Server{
		Handler: mcp.NewStreamableHTTPHandler(
			func(*http.Request) *mcp.Server { return server }, nil),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", ln.Addr(), err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
