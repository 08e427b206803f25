package types

import (
	"bytes"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Response is the result of fetching a page. Both the real session and
// test doubles produce this type, so callers never touch *http.Response
// directly.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Headers are the response HTTP headers.
	Headers http.Header

	// Body is the raw (decompressed) response body.
	Body []byte

	// URL is the requested URL; FinalURL is the URL after redirects.
	URL      string
	FinalURL string

	// FetchedAt is when this response was received.
	FetchedAt time.Time

	// doc is a parsed goquery document, lazily loaded.
	doc *goquery.Document
}

// NewResponse builds a Response from an executed http.Response and its
// already-read body.
func NewResponse(requested string, httpResp *http.Response, body []byte) *Response {
	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
		URL:        requested,
		FinalURL:   httpResp.Request.URL.String(),
		FetchedAt:  time.Now(),
	}
}

// Document returns the body parsed as HTML, caching the result.
func (r *Response) Document() (*goquery.Document, error) {
	if r.doc != nil {
		return r.doc, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	r.doc = doc
	return doc, nil
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// IsSuccess reports whether the status is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
