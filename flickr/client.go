// Package flickr vends a client of the Flickr REST API: url construction, request throttling, json decoding
// and the mapping of transport/API failures into *errors.Err values.
package flickr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"wuyrush.io/vtourist/common/logging"
	cst "wuyrush.io/vtourist/constants"
	se "wuyrush.io/vtourist/errors"
	"wuyrush.io/vtourist/metrics"
)

const (
	paramAPIKey         = "api_key"
	paramMethod         = "method"
	paramFormat         = "format"
	paramNoJSONCallback = "nojsoncallback"
	paramID             = "id"
	// placeholder in resource names substituted by the value of the id parameter
	placeholderID = ":id"

	kindResource = "resource"
	kindImage    = "image"
)

// Params are the query parameters of a request.
type Params map[string]string

type Config struct {
	// BaseURL is prepended to resource names. For Flickr it is the REST endpoint
	BaseURL string
	APIKey  string
	// fields below are optional
	RT               http.RoundTripper
	RequestTimeout   time.Duration
	RateLimit        float64 // requests per second; non-positive value means no limit
	RateBurst        int
	ImageSizeMaxByte int64
}

// Client issues requests to Flickr. It is safe for concurrent use.
type Client struct {
	C            *http.Client
	baseURL      string
	apiKey       string
	limiter      *rate.Limiter
	imageSizeMax int64
}

func NewClient(cfg *Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = cst.DefaultFlickrRequestTimeout
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	imageSizeMax := cfg.ImageSizeMaxByte
	if imageSizeMax <= 0 {
		imageSizeMax = cst.DefaultImageSizeMaxByte
	}
	return &Client{
		C: &http.Client{
			Transport: cfg.RT,
			Timeout:   timeout,
		},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		limiter:      rate.NewLimiter(limit, burst),
		imageSizeMax: imageSizeMax,
	}
}

// FetchResource GETs the named resource and parses the response body as json of arbitrary shape.
// The resource name may carry the :id placeholder, in which case params must supply id.
func (c *Client) FetchResource(ctx context.Context, name string, params Params) (interface{}, *se.Err) {
	u, err := c.resourceURL(name, params)
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, kindResource, u, 0)
	if err != nil {
		return nil, err
	}
	var v interface{}
	if err := decode(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Call invokes a named API method and decodes the json response into v.
func (c *Client) Call(ctx context.Context, method string, params Params, v interface{}) *se.Err {
	p := make(Params, len(params)+3)
	for k, val := range params {
		p[k] = val
	}
	p[paramMethod] = method
	p[paramFormat] = "json"
	p[paramNoJSONCallback] = "1"
	u, err := c.resourceURL("", p)
	if err != nil {
		return err
	}
	body, err := c.get(ctx, kindResource, u, 0)
	if err != nil {
		return err
	}
	return decode(body, v)
}

// FetchImage downloads the image at the given absolute url.
func (c *Client) FetchImage(ctx context.Context, path string) ([]byte, *se.Err) {
	u, perr := url.Parse(path)
	if perr != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, se.NewValidation(fmt.Sprintf("invalid image path %q", path)).WithCause(perr)
	}
	return c.get(ctx, kindImage, u.String(), c.imageSizeMax)
}

// ResourceResult is the outcome of an asynchronous FetchResource.
type ResourceResult struct {
	Value interface{}
	Err   *se.Err
}

// FetchResourceAsync runs FetchResource in background. The returned channel delivers exactly one result.
func (c *Client) FetchResourceAsync(ctx context.Context, name string, params Params) <-chan ResourceResult {
	ch := make(chan ResourceResult, 1)
	go func() {
		defer close(ch)
		v, err := c.FetchResource(ctx, name, params)
		ch <- ResourceResult{Value: v, Err: err}
	}()
	return ch
}

// ImageResult is the outcome of an asynchronous FetchImage.
type ImageResult struct {
	Data []byte
	Err  *se.Err
}

// FetchImageAsync runs FetchImage in background. The returned channel delivers exactly one result.
func (c *Client) FetchImageAsync(ctx context.Context, path string) <-chan ImageResult {
	ch := make(chan ImageResult, 1)
	go func() {
		defer close(ch)
		b, err := c.FetchImage(ctx, path)
		ch <- ImageResult{Data: b, Err: err}
	}()
	return ch
}

func (c *Client) resourceURL(name string, params Params) (string, *se.Err) {
	p := make(Params, len(params)+1)
	for k, v := range params {
		p[k] = v
	}
	p[paramAPIKey] = c.apiKey
	if strings.Contains(name, placeholderID) {
		id, ok := p[paramID]
		if !ok {
			return "", se.NewPrecondition(fmt.Sprintf("resource %s requires parameter %s", name, paramID))
		}
		name = strings.ReplaceAll(name, placeholderID, url.PathEscape(id))
		delete(p, paramID)
	}
	return c.baseURL + name + EscapedParameters(p), nil
}

// get issues a GET request to u and returns the response body. Body larger than max bytes is rejected
// when max > 0.
func (c *Client) get(ctx context.Context, kind, u string, max int64) ([]byte, *se.Err) {
	clog := logging.WithFuncName().WithField("kind", kind)
	body, err := c.roundTrip(ctx, u, max)
	metrics.FlickrRequestsTotal.WithLabelValues(kind, metrics.Outcome(err != nil)).Inc()
	if err != nil {
		// never log the url since it carries the api key
		clog.WithError(err).WithField("errCode", err.Code).Debug("flickr request failed")
		return nil, err
	}
	return body, nil
}

func (c *Client) roundTrip(ctx context.Context, u string, max int64) ([]byte, *se.Err) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, se.NewTransport("request throttled").WithCause(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, se.NewPrecondition("error creating request to flickr").WithCause(err)
	}
	resp, err := c.C.Do(req)
	if err != nil {
		return nil, se.NewTransport("error getting response from flickr").WithCause(err)
	}
	defer resp.Body.Close()
	var r io.Reader = resp.Body
	if max > 0 {
		r = io.LimitReader(resp.Body, max+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, se.NewTransport("error reading response from flickr").WithCause(err)
	}
	if resp.StatusCode >= 400 {
		return nil, errorForBody(body, resp.StatusCode)
	}
	if max > 0 && int64(len(body)) > max {
		return nil, se.NewValidation(fmt.Sprintf("response oversized. Size must be under %d bytes", max))
	}
	if err := inBandError(body); err != nil {
		return nil, err
	}
	return body, nil
}

// apiStatus is the subset of an error response body we know how to interpret.
type apiStatus struct {
	StatusMessage string `json:"status_message"`
	// flickr reports failures in-band as {"stat": "fail", "code": 100, "message": "..."}
	Stat    string `json:"stat"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *apiStatus) message() string {
	if s.StatusMessage != "" {
		return s.StatusMessage
	}
	if s.Stat == "fail" && s.Message != "" {
		return s.Message
	}
	return ""
}

// errorForBody maps a non-2XX response into an API error if its body carries a status message, and into a
// transport error otherwise.
func errorForBody(body []byte, statusCode int) *se.Err {
	terr := se.NewTransport(fmt.Sprintf("flickr responded with status %d", statusCode)).WithRemoteStatus(statusCode)
	var s apiStatus
	if err := json.Unmarshal(body, &s); err != nil {
		return terr
	}
	if msg := s.message(); msg != "" {
		return se.NewAPI(msg).WithCause(terr)
	}
	return terr
}

func inBandError(body []byte) *se.Err {
	// cheap check before decoding; image payloads never start with a json object
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var s apiStatus
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil
	}
	if s.Stat == "fail" {
		msg := s.message()
		if msg == "" {
			msg = fmt.Sprintf("flickr request failed with code %d", s.Code)
		}
		return se.NewAPI(msg)
	}
	return nil
}

func decode(body []byte, v interface{}) *se.Err {
	if err := json.Unmarshal(body, v); err != nil {
		return se.NewParse("error parsing flickr response as json").WithCause(err)
	}
	return nil
}

// EscapedParameters encodes params into a url query string. Keys are sorted so the output is
// deterministic; an empty map yields an empty string, otherwise the result leads with "?".
func EscapedParameters(params Params) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vars := make([]string, len(keys))
	for i, k := range keys {
		vars[i] = url.QueryEscape(k) + "=" + url.QueryEscape(params[k])
	}
	return "?" + strings.Join(vars, "&")
}
