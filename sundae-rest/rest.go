// Package sundaerest provides REST API utilities with CORS support and common
// middleware, and the group broadcast endpoints of a sundaews deployment.
package sundaerest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	sundaecli "github.com/SundaeSwap-finance/sundae-gqlws/sundae-cli"
	sundaesecret "github.com/SundaeSwap-finance/sundae-gqlws/sundae-secret"
	"github.com/SundaeSwap-finance/sundae-gqlws/sundae-ws/groupchannel"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/savaki/apigateway"
	"github.com/urfave/cli/v2"
)

const maxBroadcastBody = 1 << 20

var BroadcastOpts struct {
	Token       string
	TokenSecret string
}

var BroadcastTokenFlag = sundaecli.StringFlag("broadcast-token", "Bearer token required by the broadcast API", &BroadcastOpts.Token)
var BroadcastSecretFlag = sundaecli.StringFlag("broadcast-secret", "Secrets Manager secret holding the broadcast token, used when --broadcast-token is empty", &BroadcastOpts.TokenSecret)

var BroadcastFlags = []cli.Flag{
	BroadcastTokenFlag,
	BroadcastSecretFlag,
}

// BroadcastToken returns the token configured by BroadcastFlags.
func BroadcastToken() (string, error) {
	if BroadcastOpts.Token != "" {
		return BroadcastOpts.Token, nil
	}
	if BroadcastOpts.TokenSecret == "" {
		return "", fmt.Errorf("broadcast API needs --broadcast-token or --broadcast-secret")
	}
	sess, err := session.NewSession(aws.NewConfig())
	if err != nil {
		return "", fmt.Errorf("creating aws session: %w", err)
	}
	return sundaesecret.LoadBroadcastToken(sess, BroadcastOpts.TokenSecret)
}

// Middlewares wraps routes with the browser-facing middleware stack.
func Middlewares(service sundaecli.Service, routes chi.Router) chi.Router {
	router := chi.NewRouter()
	router.Use(
		withEmbedPolicyHeaders,
		withCORS(),
		withLogger(sundaecli.Logger(service)),
		middleware.Recoverer,
	)
	router.Mount("/", routes)
	return router
}

// Webserver serves routes on the console port until ctx is done, or as a
// Lambda function.
func Webserver(ctx context.Context, service sundaecli.Service, routes chi.Router) error {
	logger := sundaecli.Logger(service)

	if sundaecli.CommonOpts.Console {
		logger.Info().Int("port", sundaecli.CommonOpts.Port).Msg("starting http server")
		addr := fmt.Sprintf(":%v", sundaecli.CommonOpts.Port)
		return sundaecli.ListenAndServe(ctx, addr, routes)
	}

	lambda.StartWithOptions(apigateway.Wrap(routes, sundaecli.CommonOpts.Env), lambda.WithContext(ctx))
	return nil
}

// BroadcastRoutes exposes channel over HTTP to callers presenting
// "Authorization: Bearer <token>":
//
//	POST   /groups/{group}  broadcasts the JSON body to the group
//	DELETE /groups/{group}  ends every subscription on the group
//
// An empty token rejects every request.
func BroadcastRoutes(channel groupchannel.Channel, token string) chi.Router {
	router := chi.NewRouter()
	router.Use(RequireToken(token))
	router.Post("/groups/{group}", func(w http.ResponseWriter, req *http.Request) {
		group := chi.URLParam(req, "group")
		body, err := io.ReadAll(io.LimitReader(req.Body, maxBroadcastBody))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !json.Valid(body) {
			http.Error(w, "body must be JSON", http.StatusBadRequest)
			return
		}

		err = channel.Publish(req.Context(), groupchannel.Event{Group: group, Payload: body})
		if err != nil {
			zerolog.Ctx(req.Context()).Error().Err(err).Str("group", group).Msg("broadcast failed")
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	router.Delete("/groups/{group}", func(w http.ResponseWriter, req *http.Request) {
		group := chi.URLParam(req, "group")
		if err := groupchannel.Unsubscribe(req.Context(), channel, group); err != nil {
			zerolog.Ctx(req.Context()).Error().Err(err).Str("group", group).Msg("unsubscribe failed")
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	return router
}

// RequireToken rejects requests whose bearer token is not token.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			presented, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			handler.ServeHTTP(w, req)
		})
	}
}

// Internal wraps routes served on a private listener: logging and panic
// recovery, without the browser-facing CORS and embed policies.
func Internal(service sundaecli.Service, routes chi.Router) chi.Router {
	router := chi.NewRouter()
	router.Use(
		withLogger(sundaecli.Logger(service)),
		middleware.Recoverer,
	)
	router.Mount("/", routes)
	return router
}

func withEmbedPolicyHeaders(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		header := w.Header()
		if req.Method == http.MethodGet && strings.HasSuffix(req.URL.Path, "/graphql") {
			handler.ServeHTTP(w, req)
			return
		}

		header.Add("cross-origin-embedder-policy", "require-corp")
		header.Add("cross-origin-opener-policy", "same-origin")
		header.Add("cross-origin-resource-policy", "cross-origin")
		handler.ServeHTTP(w, req)
	})
}

func withCORS() func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
	})
}

func withLogger(logger zerolog.Logger) func(handler http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := logger.WithContext(req.Context())
			req = req.WithContext(ctx)
			handler.ServeHTTP(w, req)
		})
	}
}
