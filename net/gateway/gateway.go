// Package gateway serves assets to plain HTTP clients. It translates
// requests to the streaming protocol and follows continuation tokens so the
// client receives the whole body in one response.
package gateway

import (
	"errors"
	"io"
	"net/http"

	"notary/errs"
	"notary/httpstream"

	log "github.com/sirupsen/logrus"
)

// MaxRequestBody bounds the request body forwarded to the backend.
const MaxRequestBody = 1 << 20

// Backend is what the gateway streams from. The canister implements it.
type Backend interface {
	HttpRequest(req *httpstream.Request) (*httpstream.Response, error)
	HttpRequestStreamCallback(token *httpstream.Token) (*httpstream.CallbackResponse, error)
}

type Gateway struct {
	backend Backend
}

func New(backend Backend) *Gateway {
	return &Gateway{backend: backend}
}

// Handler wraps the gateway with request ids and the rate limiter. A nil
// limiter disables limiting.
func (g *Gateway) Handler(limiter *RateLimiter) http.Handler {
	return WithRequestID(limiter.Middleware(g))
}

func toStreamRequest(r *http.Request) (*httpstream.Request, error) {
	req := &httpstream.Request{
		Method: r.Method,
		URL:    r.URL.RequestURI(),
	}
	for name, values := range r.Header {
		for _, v := range values {
			req.Headers = append(req.Headers, httpstream.HeaderField{Name: name, Value: v})
		}
	}
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBody))
		if err != nil {
			return nil, err
		}
		req.Body = body
	}
	return req, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := toStreamRequest(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	res, err := g.backend.HttpRequest(req)
	if err != nil {
		log.Errorf("gateway: %s %s: %v", r.Method, req.URL, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	for _, h := range res.Headers {
		w.Header().Add(h.Name, h.Value)
	}
	w.WriteHeader(int(res.StatusCode))

	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(res.Body); err != nil {
		return
	}

	// Follow the stream. Headers are out already, so a failure midway can
	// only cut the body short.
	token := res.Token
	for token != nil {
		next, err := g.backend.HttpRequestStreamCallback(token)
		if err != nil {
			if errors.Is(err, errs.ErrStaleContent) {
				log.Warnf("gateway: %s changed while streaming", token.Key)
			} else {
				log.Errorf("gateway: streaming %s chunk %d: %v", token.Key, token.Index, err)
			}
			return
		}
		if _, err := w.Write(next.Body); err != nil {
			return
		}
		token = next.Token
	}
}
