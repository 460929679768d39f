package sundaegql

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SundaeSwap-finance/sundae-gqlws/graphiql"
	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	sundaews "github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/rs/zerolog"
	"github.com/savaki/apigateway"
)

// Serve a mildly opinionated graphql webserver, optionally with playground attached
func Webserver(resolver Resolver) error {
	router, err := Router(resolver)
	if err != nil {
		return err
	}
	return Serve(router, resolver.Config())
}

// Router builds the graphql routes for resolver. GET /graphql upgrades to the
// graphql-ws protocol when the resolver has subscriptions, and otherwise
// serves GraphiQL when introspection is allowed.
func Router(resolver Resolver) (chi.Router, error) {
	config := resolver.Config()
	schema, err := ParseSchema(resolver)
	if err != nil {
		return nil, err
	}
	relay := &relay.Handler{Schema: schema}

	router := DefaultRouter(config.Logger)

	router.Post("/graphql", middleware.NoCache(relay).ServeHTTP)
	// Allow arbitrary path parameters, for better UX in the browser
	router.Post("/graphql/*", middleware.NoCache(relay).ServeHTTP)

	var ws http.Handler
	if sr, ok := resolver.(SubscriptionResolver); ok {
		server, err := WebSocketServer(schema, sr)
		if err != nil {
			return nil, err
		}
		ws = server
	}

	var playground http.HandlerFunc
	if AllowIntrospection() {
		path := "/graphql"
		if config.Service.Subpath != "" {
			path = fmt.Sprintf("/%v/graphql", config.Service.Subpath)
		}
		if ws != nil {
			playground = graphiql.WithSubscriptions(path)
		} else {
			playground = graphiql.New(path)
		}
	}

	router.Get("/graphql", func(w http.ResponseWriter, req *http.Request) {
		switch {
		case ws != nil && sundaews.IsWebSocketUpgrade(req):
			ws.ServeHTTP(w, req)
		case playground != nil:
			playground(w, req)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})

	return router, nil
}

// WebSocketServer serves resolver's schema and subscriptions over graphql-ws,
// configured from the sundaews flags.
func WebSocketServer(schema *graphql.Schema, resolver SubscriptionResolver) (*sundaews.Server, error) {
	config := resolver.Config()
	wsConfig := sundaews.ConfigFromFlags()
	if cr, ok := resolver.(ConnectResolver); ok {
		wsConfig.OnConnect = cr.OnConnect
	}

	executor := NewExecutor(schema, resolver.Subscriptions())
	if sr, ok := resolver.(SubscriptionSchemaResolver); ok {
		subscriptions, err := LoadSubscriptionSchema(resolver.Schema() + "\n\n" + sr.SubscriptionSchema())
		if err != nil {
			return nil, err
		}
		executor.SubscriptionSchema = subscriptions
	}

	return &sundaews.Server{
		Executor: executor,
		Channel:  resolver.GroupChannel(),
		Config:   wsConfig,
		Logger:   config.Logger,
		Metrics:  config.Metrics,
	}, nil
}

// Construct an http relay that handles graphql requests
func GraphQLRelay(resolver Resolver) (*relay.Handler, error) {
	schema, err := ParseSchema(resolver)
	if err != nil {
		return nil, err
	}
	return &relay.Handler{Schema: schema}, nil
}

// ParseSchema parses the resolver's schema with the service defaults.
func ParseSchema(resolver Resolver) (*graphql.Schema, error) {
	finalSchema := resolver.Schema()

	config := resolver.Config()
	config.Service.Schema = finalSchema

	opts := []graphql.SchemaOpt{
		graphql.MaxDepth(15),
		graphql.UseFieldResolvers(),
	}
	if !AllowIntrospection() {
		opts = append(opts, graphql.DisableIntrospection())
	}

	schema, err := graphql.ParseSchema(finalSchema, resolver, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse schema: %w", err)
	}
	return schema, nil
}

// Construct a chi router with the common useful middleware
func DefaultRouter(logger zerolog.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(
		middleware.Logger,
		WithCORS(),
		WithLogger(logger),
		middleware.Recoverer,
	)
	return router
}

// Start listening / serving a graphql server, or as a Lambda function.
// API Gateway's REST integration cannot upgrade connections, so websocket
// clients need console mode.
func Serve(router chi.Router, config *BaseConfig) error {
	return ServeContext(context.Background(), router, config)
}

// ServeContext is Serve that stops the console server once ctx is done.
func ServeContext(ctx context.Context, router chi.Router, config *BaseConfig) error {
	if sundaecli.CommonOpts.Console {
		config.Logger.Info().Int("port", sundaecli.CommonOpts.Port).Msgf("starting %v", config.Service.Name)
		addr := fmt.Sprintf(":%v", sundaecli.CommonOpts.Port)
		if config.Service.Subpath != "" {
			newRouter := chi.NewRouter()
			newRouter.Mount(fmt.Sprintf("/%v", config.Service.Subpath), router)
			router = newRouter
		}
		return sundaecli.ListenAndServe(ctx, addr, router)
	}

	lambda.StartWithOptions(apigateway.Wrap(router, sundaecli.CommonOpts.Env, config.Service.Subpath), lambda.WithContext(ctx))
	return nil
}
