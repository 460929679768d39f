// Package graphiql serves a GraphiQL page wired to a graphql endpoint and,
// optionally, its graphql-ws subscription endpoint on the same path.
package graphiql

import (
	"bytes"
	_ "embed"
	"fmt"
	"net/http"
	"text/template"
)

//go:embed graphiql.html
var graphiql string

var templ = template.Must(template.New("graphiql").Parse(graphiql))

// New endpoint is the url where you have your graphql api hosted
func New(endpoint string) http.HandlerFunc {
	return handler(endpoint, false)
}

// WithSubscriptions is New with a subscriptions-transport-ws client pointed
// at the same path.
func WithSubscriptions(endpoint string) http.HandlerFunc {
	return handler(endpoint, true)
}

func handler(endpoint string, subscriptions bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var buffer bytes.Buffer
		variables := struct {
			Route         string
			Subscriptions bool
		}{
			Route:         endpoint,
			Subscriptions: subscriptions,
		}
		if err := templ.Execute(&buffer, variables); err != nil {
			fmt.Printf("Error: %v\n", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write(buffer.Bytes())
	}
}
