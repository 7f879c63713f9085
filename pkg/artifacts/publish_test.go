package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinataPinner_JWT(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pinning/pinFileToIPFS", r.URL.Path)
		assert.Equal(t, "Bearer jwt-token", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))

		var opts map[string]any
		assert.NoError(t, json.Unmarshal([]byte(r.FormValue("pinataOptions")), &opts))
		assert.EqualValues(t, 1, opts["cidVersion"])

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		body, _ := io.ReadAll(f)
		assert.Equal(t, "eval.json", hdr.Filename)
		assert.Equal(t, `{"a":1}`, string(body))

		_, _ = w.Write([]byte(`{"IpfsHash":"bafyPinned","PinSize":7,"Timestamp":"2025-10-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	p := NewPinataPinner(PinataConfig{BaseURL: srv.URL, JWT: "jwt-token"})
	res, err := p.Pin(context.Background(), []byte(`{"a":1}`), "eval.json")
	require.NoError(t, err)
	assert.Equal(t, "bafyPinned", res.CID)
	assert.EqualValues(t, 7, res.Size)
}

func TestPinataPinner_KeySecretHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "key", r.Header.Get("pinata_api_key"))
		assert.Equal(t, "secret", r.Header.Get("pinata_secret_api_key"))
		_, _ = w.Write([]byte(`{"IpfsHash":"bafyK","PinSize":1}`))
	}))
	defer srv.Close()

	p := NewPinataPinner(PinataConfig{BaseURL: srv.URL, APIKey: "key", APISecret: "secret"})
	res, err := p.Pin(context.Background(), []byte("x"), "x")
	require.NoError(t, err)
	assert.Equal(t, "bafyK", res.CID)
}

func TestPinataPinner_NoCredentials(t *testing.T) {
	_, err := NewPinataPinner(PinataConfig{BaseURL: "http://127.0.0.1:1"}).Pin(context.Background(), []byte("x"), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credentials not configured")
}

func TestDaemonPinner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v0/add", r.URL.Path)
		_, _ = w.Write([]byte(`{"Name":"artifact.json","Hash":"QmDaemon","Size":"42"}`))
	}))
	defer srv.Close()

	res, err := NewDaemonPinner(srv.URL+"/api/v0/", nil).Pin(context.Background(), []byte("x"), "artifact.json")
	require.NoError(t, err)
	assert.Equal(t, "QmDaemon", res.CID)
	assert.EqualValues(t, 42, res.Size)
}

func TestPublisher_FallsThroughInOrder(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer failing.Close()

	store := newTestFileStore(t)
	pub := NewPublisher(
		NewPinataPinner(PinataConfig{BaseURL: failing.URL, JWT: "t"}),
		NewDaemonPinner(failing.URL, nil),
		NewStorePinner(store),
	)

	res, err := pub.PublishJSON(context.Background(), map[string]any{"b": 2, "a": 1}, "")
	require.NoError(t, err)
	assert.Equal(t, "store", res.Pinner)

	stored, err := store.Get(context.Background(), res.CID)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(stored))
}

func TestPublisher_AllFail(t *testing.T) {
	pub := NewPublisher(
		NewPinataPinner(PinataConfig{}),
		NewDaemonPinner("http://127.0.0.1:1/api/v0", nil),
	)
	_, err := pub.Publish(context.Background(), []byte("x"), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublish)

	var perr *PublishError
	require.True(t, errors.As(err, &perr))
	require.Len(t, perr.Failures, 2)
	assert.Equal(t, "pinata", perr.Failures[0].Pinner)
	assert.Equal(t, "ipfs-daemon", perr.Failures[1].Pinner)
}

func TestCompactSortedJSON_StructFieldsSorted(t *testing.T) {
	type rec struct {
		Zeta  string  `json:"zeta"`
		Alpha float64 `json:"alpha"`
	}
	b, err := compactSortedJSON(rec{Zeta: "<z>", Alpha: 0.1})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":0.1,"zeta":"<z>"}`, string(b))
}
