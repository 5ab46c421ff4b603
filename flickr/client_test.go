package flickr

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	se "wuyrush.io/vtourist/errors"
)

const (
	fakeBaseURL = "https://fake-flickr.test/services/rest/"
	fakeAPIKey  = "fakeapikey"
)

func TestEscapedParameters(t *testing.T) {
	tcs := []struct {
		name     string
		params   Params
		expected string
	}{
		{
			name:     "Empty",
			params:   Params{},
			expected: "",
		},
		{
			name:     "Nil",
			expected: "",
		},
		{
			name:     "SortedKeys",
			params:   Params{"per_page": "100", "bbox": "1,2,3,4", "api_key": "k"},
			expected: "?api_key=k&bbox=1%2C2%2C3%2C4&per_page=100",
		},
		{
			name:     "ReservedCharacters",
			params:   Params{"text": "a&b=c d"},
			expected: "?text=a%26b%3Dc+d",
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, EscapedParameters(c.params))
		})
	}
}

func TestEscapedParametersRoundTrip(t *testing.T) {
	tcs := []Params{
		{"a": "1"},
		{"bbox": "-180,-90,180,90", "page": "3"},
		{"text": "café & crème", "tags": "a=b;c", "empty": ""},
		{"weird key&": "100%", "q": "?#/+"},
	}
	for _, params := range tcs {
		encoded := EscapedParameters(params)
		require.True(t, strings.HasPrefix(encoded, "?"))
		decoded := Params{}
		for _, kv := range strings.Split(strings.TrimPrefix(encoded, "?"), "&") {
			pair := strings.SplitN(kv, "=", 2)
			require.Len(t, pair, 2, "malformed pair %q", kv)
			k, err := url.QueryUnescape(pair[0])
			require.Nil(t, err)
			v, err := url.QueryUnescape(pair[1])
			require.Nil(t, err)
			decoded[k] = v
		}
		assert.Equal(t, params, decoded)
	}
}

func TestClient_ResourceURL(t *testing.T) {
	c := NewClient(&Config{BaseURL: "https://api.fake.test/3/", APIKey: fakeAPIKey})
	tcs := []struct {
		name     string
		resource string
		params   Params
		expected string
		errCode  se.ErrCode
	}{
		{
			name:     "NoPlaceholder",
			resource: "search/movie",
			params:   Params{"query": "up"},
			expected: "https://api.fake.test/3/search/movie?api_key=fakeapikey&query=up",
		},
		{
			name:     "PlaceholderSubstituted",
			resource: "movie/:id/images",
			params:   Params{"id": "550", "lang": "en"},
			expected: "https://api.fake.test/3/movie/550/images?api_key=fakeapikey&lang=en",
		},
		{
			name:     "PlaceholderWithoutID",
			resource: "movie/:id",
			params:   Params{"lang": "en"},
			errCode:  se.ErrCodePrecondition,
		},
	}
	for _, c2 := range tcs {
		t.Run(c2.name, func(t *testing.T) {
			u, err := c.resourceURL(c2.resource, c2.params)
			if c2.errCode != "" {
				require.NotNil(t, err)
				assert.Equal(t, c2.errCode, err.Code)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, c2.expected, u)
			// caller's params are left intact
			if _, ok := c2.params["id"]; c2.resource == "movie/:id/images" {
				assert.True(t, ok)
			}
		})
	}
}

func TestClient_FetchResource(t *testing.T) {
	tcs := []struct {
		name      string
		rt        *mockTransport
		failed    bool
		errCode   se.ErrCode
		errMsg    string
		checkBody func(t *testing.T, v interface{})
	}{
		{
			name: "HappyCase",
			rt: newMockTransport(func(req *http.Request) {
				assert.Equal(t, http.MethodGet, req.Method)
				assert.Equal(t, "/services/rest/movie/550", req.URL.Path)
				assert.Equal(t, fakeAPIKey, req.URL.Query().Get("api_key"))
				assert.Equal(t, "", req.URL.Query().Get("id"), "id must be substituted into path")
			}, respond(http.StatusOK, `{"title": "Fight Club", "id": 550}`), nil),
			checkBody: func(t *testing.T, v interface{}) {
				m, ok := v.(map[string]interface{})
				require.True(t, ok)
				assert.Equal(t, "Fight Club", m["title"])
			},
		},
		{
			name:    "NetworkError",
			rt:      newMockTransport(nil, (*http.Response)(nil), &net.AddrError{Err: "no internet"}),
			failed:  true,
			errCode: se.ErrCodeTransport,
			errMsg:  "error getting response from flickr",
		},
		{
			name:    "ErrorWithStatusMessage",
			rt:      newMockTransport(nil, respond(http.StatusUnauthorized, `{"status_code": 7, "status_message": "Invalid API key"}`), nil),
			failed:  true,
			errCode: se.ErrCodeAPI,
			errMsg:  "Invalid API key",
		},
		{
			name:    "ErrorWithJunkBody",
			rt:      newMockTransport(nil, respond(http.StatusInternalServerError, "junk"), nil),
			failed:  true,
			errCode: se.ErrCodeTransport,
			errMsg:  "status 500",
		},
		{
			name:    "ErrorWithUnknownJSON",
			rt:      newMockTransport(nil, respond(http.StatusServiceUnavailable, `{"oops": true}`), nil),
			failed:  true,
			errCode: se.ErrCodeTransport,
			errMsg:  "status 503",
		},
		{
			name:    "MalformedJSON",
			rt:      newMockTransport(nil, respond(http.StatusOK, `{"title": `), nil),
			failed:  true,
			errCode: se.ErrCodeParse,
		},
		{
			name:    "InBandFailure",
			rt:      newMockTransport(nil, respond(http.StatusOK, `{"stat": "fail", "code": 100, "message": "Invalid API Key (Key has invalid format)"}`), nil),
			failed:  true,
			errCode: se.ErrCodeAPI,
			errMsg:  "Invalid API Key",
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			cl := NewClient(&Config{BaseURL: fakeBaseURL, APIKey: fakeAPIKey, RT: c.rt})
			v, err := cl.FetchResource(context.Background(), "movie/:id", Params{"id": "550"})
			c.rt.AssertExpectations(t)
			if c.failed {
				require.NotNil(t, err)
				assert.Equal(t, c.errCode, err.Code)
				assert.Contains(t, err.Error(), c.errMsg)
				assert.Nil(t, v)
				return
			}
			require.Nil(t, err)
			c.checkBody(t, v)
		})
	}
}

func TestClient_FetchResourcePrecondition(t *testing.T) {
	rt := &mockTransport{}
	cl := NewClient(&Config{BaseURL: fakeBaseURL, APIKey: fakeAPIKey, RT: rt})
	_, err := cl.FetchResource(context.Background(), "movie/:id", Params{})
	require.NotNil(t, err)
	assert.Equal(t, se.ErrCodePrecondition, err.Code)
	// no request must go out
	rt.AssertNotCalled(t, "RoundTrip", mock.Anything)
}

func TestClient_FetchImage(t *testing.T) {
	img := bytes.Repeat([]byte{0xff, 0xd8, 0xff}, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/2/small.jpg":
			w.Write(img)
		case "/2/missing.jpg":
			w.WriteHeader(http.StatusNotFound)
		case "/2/unavailable.jpg":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Write(bytes.Repeat([]byte{1}, 1024))
		}
	}))
	defer srv.Close()
	cl := NewClient(&Config{BaseURL: fakeBaseURL, APIKey: fakeAPIKey, ImageSizeMaxByte: 512})

	tcs := []struct {
		name         string
		path         string
		errCode      se.ErrCode
		remoteStatus int
	}{
		{name: "HappyCase", path: srv.URL + "/2/small.jpg"},
		{name: "NotFound", path: srv.URL + "/2/missing.jpg", errCode: se.ErrCodeTransport, remoteStatus: http.StatusNotFound},
		{name: "Unavailable", path: srv.URL + "/2/unavailable.jpg", errCode: se.ErrCodeTransport,
			remoteStatus: http.StatusServiceUnavailable},
		{name: "Oversized", path: srv.URL + "/2/huge.jpg", errCode: se.ErrCodeValidation},
		{name: "RelativePath", path: "2/small.jpg", errCode: se.ErrCodeValidation},
		{name: "UnsupportedScheme", path: "ftp://example.com/a.jpg", errCode: se.ErrCodeValidation},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			b, err := cl.FetchImage(context.Background(), c.path)
			if c.errCode != "" {
				require.NotNil(t, err)
				assert.Equal(t, c.errCode, err.Code)
				assert.Equal(t, c.remoteStatus, se.RemoteStatusOf(err))
				return
			}
			require.Nil(t, err)
			assert.Equal(t, img, b)
		})
	}
}

func TestClient_Async(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".jpg") {
			w.Write([]byte("img"))
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()
	cl := NewClient(&Config{BaseURL: srv.URL + "/", APIKey: fakeAPIKey})

	rch := cl.FetchResourceAsync(context.Background(), "ping", nil)
	res, ok := <-rch
	require.True(t, ok)
	assert.Nil(t, res.Err)
	assert.Equal(t, map[string]interface{}{"ok": true}, res.Value)
	_, ok = <-rch
	assert.False(t, ok, "result must be delivered exactly once")

	ich := cl.FetchImageAsync(context.Background(), srv.URL+"/a.jpg")
	ires := <-ich
	assert.Nil(t, ires.Err)
	assert.Equal(t, []byte("img"), ires.Data)
	_, ok = <-ich
	assert.False(t, ok, "result must be delivered exactly once")
}

func TestClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	cl := NewClient(&Config{BaseURL: srv.URL + "/", APIKey: fakeAPIKey})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cl.FetchResource(ctx, "ping", nil)
	require.NotNil(t, err)
	assert.Equal(t, se.ErrCodeTransport, err.Code)
}

type mockTransport struct {
	http.RoundTripper
	mock.Mock
}

func (m *mockTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	args := m.Called(r)
	return args.Get(0).(*http.Response), args.Error(1)
}

func newMockTransport(check func(*http.Request), resp *http.Response, err error) *mockTransport {
	m := &mockTransport{}
	m.On("RoundTrip", mock.Anything).Run(func(args mock.Arguments) {
		if check != nil {
			check(args.Get(0).(*http.Request))
		}
	}).Return(resp, err)
	return m
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}
