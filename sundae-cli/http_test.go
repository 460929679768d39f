package sundaecli

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/tj/assert"
)

func TestServe(t *testing.T) {
	t.Run("serves until the context is done", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		assert.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- Serve(ctx, listener, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				_, _ = io.WriteString(w, "ok")
			}))
		}()

		resp, err := http.Get("http://" + listener.Addr().String())
		assert.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.NoError(t, err)
		assert.Equal(t, "ok", string(body))

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("server did not stop")
		}
	})

	t.Run("request contexts follow the server context", func(t *testing.T) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		assert.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		entered := make(chan struct{})
		released := make(chan struct{})
		go func() {
			_ = Serve(ctx, listener, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				close(entered)
				<-req.Context().Done()
				close(released)
			}))
		}()

		go func() {
			resp, err := http.Get("http://" + listener.Addr().String())
			if err == nil {
				resp.Body.Close()
			}
		}()

		<-entered
		cancel()
		select {
		case <-released:
		case <-time.After(2 * time.Second):
			t.Fatal("request context was not cancelled")
		}
	})
}
