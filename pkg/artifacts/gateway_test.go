package artifacts

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatewayServer(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		assert.Equal(t, "goldeval/1.0", r.Header.Get("User-Agent"))
		assert.True(t, strings.HasPrefix(r.URL.Path, "/ipfs/"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGatewayResolver_DefaultOrder(t *testing.T) {
	g := NewGatewayResolver()
	assert.Equal(t, []string{
		"https://cloudflare-ipfs.com",
		"https://ipfs.io",
		"https://dweb.link",
		"https://gateway.pinata.cloud",
	}, g.Gateways())
}

func TestGatewayResolver_FirstSuccessShortCircuits(t *testing.T) {
	var failHits, okHits, laterHits int32
	failing := gatewayServer(t, http.StatusBadGateway, "bad", &failHits)
	ok := gatewayServer(t, http.StatusOK, `{"a":1}`, &okHits)
	later := gatewayServer(t, http.StatusOK, "never", &laterHits)

	g := NewGatewayResolver(WithGateways(failing.URL, ok.URL, later.URL))
	body, err := g.Fetch(context.Background(), "QmTest")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body))
	assert.EqualValues(t, 1, failHits)
	assert.EqualValues(t, 1, okHits)
	assert.EqualValues(t, 0, laterHits)
}

func TestGatewayResolver_AllFail(t *testing.T) {
	a := gatewayServer(t, http.StatusNotFound, "", nil)
	b := gatewayServer(t, http.StatusInternalServerError, "", nil)

	g := NewGatewayResolver(WithGateways(a.URL, b.URL))
	_, err := g.Fetch(context.Background(), "QmMissing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)

	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	require.Len(t, nerr.Failures, 2)
	assert.Equal(t, a.URL, nerr.Failures[0].Gateway)
	assert.Equal(t, b.URL, nerr.Failures[1].Gateway)

	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "all IPFS gateways failed: "))
	assert.Contains(t, msg, a.URL+": HTTP 404")
	assert.Contains(t, msg, "; "+b.URL+": HTTP 500")
}

func TestGatewayResolver_PerGatewayTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)
	fast := gatewayServer(t, http.StatusOK, "plain", nil)

	g := NewGatewayResolver(WithGateways(slow.URL, fast.URL), WithGatewayTimeout(50*time.Millisecond))
	body, err := g.Fetch(context.Background(), "QmSlow")
	require.NoError(t, err)
	assert.Equal(t, "plain", string(body))
}

func TestGatewayResolver_EmptyCID(t *testing.T) {
	_, err := NewGatewayResolver().Fetch(context.Background(), "")
	assert.Error(t, err)
}

func TestGatewayResolver_LastOfFourSucceeds(t *testing.T) {
	var hits [4]int32
	g1 := gatewayServer(t, http.StatusNotFound, "", &hits[0])
	g2 := gatewayServer(t, http.StatusInternalServerError, "", &hits[1])
	g3 := gatewayServer(t, http.StatusBadGateway, "", &hits[2])
	g4 := gatewayServer(t, http.StatusOK, `{"loan_id":"L-9"}`, &hits[3])

	g := NewGatewayResolver(WithGateways(g1.URL, g2.URL, g3.URL, g4.URL))
	body, err := g.Fetch(context.Background(), "QmLast")
	require.NoError(t, err)
	assert.Equal(t, `{"loan_id":"L-9"}`, string(body))
	for i := range hits {
		assert.EqualValues(t, 1, hits[i], "gateway %d", i+1)
	}
}

func TestGatewayResolver_AllFourFailInOrder(t *testing.T) {
	statuses := []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable}
	urls := make([]string, len(statuses))
	for i, st := range statuses {
		urls[i] = gatewayServer(t, st, "", nil).URL
	}

	_, err := NewGatewayResolver(WithGateways(urls...)).Fetch(context.Background(), "QmNowhere")
	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	require.Len(t, nerr.Failures, 4)
	for i, f := range nerr.Failures {
		assert.Equal(t, urls[i], f.Gateway)
		assert.EqualError(t, f.Err, fmt.Sprintf("HTTP %d", statuses[i]))
	}
	assert.Equal(t, "all IPFS gateways failed: "+
		urls[0]+": HTTP 404; "+urls[1]+": HTTP 500; "+urls[2]+": HTTP 502; "+urls[3]+": HTTP 503", err.Error())
}

func TestGatewayResolver_OversizeBodyFails(t *testing.T) {
	big := `{"pad":"` + strings.Repeat("x", 64) + `"}`
	tooBig := gatewayServer(t, http.StatusOK, big, nil)
	small := gatewayServer(t, http.StatusOK, `{"ok":true}`, nil)

	g := NewGatewayResolver(WithGateways(tooBig.URL, small.URL), WithMaxContentBytes(32))
	body, err := g.Fetch(context.Background(), "QmBig")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))

	_, err = NewGatewayResolver(WithGateways(tooBig.URL), WithMaxContentBytes(32)).Fetch(context.Background(), "QmBig")
	var nerr *NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.EqualError(t, nerr.Failures[0].Err, "body exceeds 32 bytes")
}

func TestGatewayResolver_DefaultLimitRejectsLargeJSON(t *testing.T) {
	body := `{"pad":"` + strings.Repeat("x", maxContentBytes) + `"}`
	srv := gatewayServer(t, http.StatusOK, body, nil)

	_, err := NewGatewayResolver(WithGateways(srv.URL)).Fetch(context.Background(), "QmHuge")
	require.ErrorIs(t, err, ErrNetwork)
	assert.Contains(t, err.Error(), fmt.Sprintf("body exceeds %d bytes", maxContentBytes))

	// exactly at the limit still succeeds
	exact := gatewayServer(t, http.StatusOK, strings.Repeat("y", 64), nil)
	got, err := NewGatewayResolver(WithGateways(exact.URL), WithMaxContentBytes(64)).Fetch(context.Background(), "QmExact")
	require.NoError(t, err)
	assert.Len(t, got, 64)
}
