// Package httpstream answers HTTP requests from the asset registry one
// message at a time. A response carries the first chunk of an encoding and,
// when more follow, a token naming the next chunk. Tokens hold everything
// needed to continue, so no per-stream state is kept.
package httpstream

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"notary/datamodel/asset"
	"notary/errs"

	log "github.com/sirupsen/logrus"
)

const indexFile = "/index.html"

var notFoundBody = []byte("not found")

// Source is the read side of the asset registry.
type Source interface {
	Asset(key string) (*asset.Asset, error)
	GetChunk(key string, contentEncoding string, sha256 []byte, index uint64) ([]byte, error)
}

type HeaderField struct {
	Name  string
	Value string
}

type Request struct {
	Method  string
	URL     string
	Headers []HeaderField
	Body    []byte
}

// Token names the next chunk of a stream.
type Token struct {
	Key             string
	ContentEncoding string
	Index           uint64
	Sha256          []byte
}

type Response struct {
	StatusCode uint16
	Headers    []HeaderField
	Body       []byte
	Token      *Token // nil when the body is the whole content
}

type CallbackResponse struct {
	Body  []byte
	Token *Token
}

func Serve(src Source, req *Request) (*Response, error) {
	if req.Method != "GET" && req.Method != "HEAD" {
		return &Response{
			StatusCode: 405,
			Headers:    []HeaderField{{Name: "Allow", Value: "GET, HEAD"}},
			Body:       []byte("method not allowed"),
		}, nil
	}

	path := URLDecode(stripQuery(req.URL))
	encodings := AcceptEncodings(req.Headers)

	a, err := src.Asset(path)
	if isNotFound(err) && path != indexFile {
		log.Debugf("No asset at %q, trying %s", path, indexFile)
		a, err = src.Asset(indexFile)
	}
	if isNotFound(err) {
		return notFound(), nil
	}
	if err != nil {
		return nil, err
	}

	for _, name := range encodings {
		enc, ok := a.Encodings[name]
		if !ok {
			continue
		}

		headers := []HeaderField{{Name: "Content-Type", Value: a.ContentType}}
		if name != asset.EncodingIdentity {
			headers = append(headers, HeaderField{Name: "Content-Encoding", Value: name})
		}

		res := &Response{
			StatusCode: 200,
			Headers:    headers,
			Body:       []byte{},
		}
		if req.Method == "HEAD" || len(enc.Chunks) == 0 {
			return res, nil
		}

		body, err := src.GetChunk(a.Key, name, enc.Sha256[:], 0)
		if err != nil {
			return nil, err
		}
		res.Body = body
		res.Token = nextToken(a.Key, enc, 0)
		return res, nil
	}

	return notFound(), nil
}

// Callback returns the chunk a token names and the token of the chunk after
// it, if any.
func Callback(src Source, token *Token) (*CallbackResponse, error) {
	if token == nil {
		return nil, fmt.Errorf("%w: missing streaming token", errs.ErrInvalidArgument)
	}

	a, err := src.Asset(token.Key)
	if err != nil {
		return nil, err
	}
	enc, ok := a.Encodings[token.ContentEncoding]
	if !ok {
		return nil, fmt.Errorf("%w: asset %q has no encoding %q", errs.ErrNotFound, token.Key, token.ContentEncoding)
	}

	body, err := src.GetChunk(token.Key, token.ContentEncoding, token.Sha256, token.Index)
	if err != nil {
		return nil, err
	}

	return &CallbackResponse{
		Body:  body,
		Token: nextToken(token.Key, enc, token.Index),
	}, nil
}

func nextToken(key string, enc *asset.Encoding, index uint64) *Token {
	if index+1 >= uint64(len(enc.Chunks)) {
		return nil
	}
	return &Token{
		Key:             key,
		ContentEncoding: enc.ContentEncoding,
		Index:           index + 1,
		Sha256:          append([]byte(nil), enc.Sha256[:]...),
	}
}

func notFound() *Response {
	return &Response{
		StatusCode: 404,
		Headers:    []HeaderField{{Name: "Content-Type", Value: "text/plain"}},
		Body:       notFoundBody,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, errs.ErrNotFound)
}

func stripQuery(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		return url[:i]
	}
	return url
}

// AcceptEncodings lists the encodings of every Accept-Encoding header in
// order. Entries with q=0 are refused by the client and dropped. identity
// is always acceptable and goes last unless listed.
func AcceptEncodings(headers []HeaderField) []string {
	var names []string
	seen := make(map[string]bool)

	for _, h := range headers {
		if !strings.EqualFold(h.Name, "Accept-Encoding") {
			continue
		}
		for _, entry := range strings.Split(h.Value, ",") {
			parts := strings.Split(entry, ";")
			name := strings.ToLower(strings.TrimSpace(parts[0]))
			if name == "" || seen[name] {
				continue
			}
			if refused(parts[1:]) {
				seen[name] = true
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}

	if !seen[asset.EncodingIdentity] {
		names = append(names, asset.EncodingIdentity)
	}
	return names
}

func refused(params []string) bool {
	for _, p := range params {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil && q == 0 {
			return true
		}
	}
	return false
}

// URLDecode decodes a request path the way asset keys were always matched:
// "%%" is a literal percent, "+" is a space, an escape that is not two hex
// digits leaves the "%" in place, and every decoded byte becomes the rune of
// the same value.
func URLDecode(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' && i+1 < len(s) && s[i+1] == '%':
			b.WriteRune('%')
			i++
		case c == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			b.WriteRune(rune(unhex(s[i+1])<<4 | unhex(s[i+2])))
			i += 2
		case c == '+':
			b.WriteRune(' ')
		default:
			b.WriteRune(rune(c))
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
