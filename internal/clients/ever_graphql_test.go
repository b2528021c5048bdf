package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeEverGraphQL serves GraphQL queries over HTTP and subscriptions over websocket,
// answering every subscription with one message event
type fakeEverGraphQL struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	queries    []string
	subscribed []map[string]interface{}
	event      map[string]interface{}
}

func newFakeEverGraphQL(t *testing.T) *fakeEverGraphQL {
	f := &fakeEverGraphQL{
		upgrader: websocket.Upgrader{
			CheckOrigin:  func(r *http.Request) bool { return true },
			Subprotocols: []string{"graphql-ws", "graphql-transport-ws"},
		},
		event: map[string]interface{}{
			"id":         "msg1",
			"src":        "0:faucet",
			"dst":        "",
			"created_at": float64(1700000001),
			"boc":        "te6boc",
			"body":       "te6body",
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			f.serveWebsocket(w, r)
			return
		}
		f.serveQuery(t, w, r)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeEverGraphQL) serveQuery(t *testing.T, w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables"`
	}
	if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
		return
	}
	f.mu.Lock()
	f.queries = append(f.queries, req.Query)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.Contains(req.Query, "info"):
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"info": map[string]interface{}{"version": "0.59.0"}},
		})
	case strings.Contains(req.Query, "accounts"):
		accounts := []interface{}{}
		if req.Variables["address"] == "0:faucet" {
			accounts = append(accounts, map[string]interface{}{"boc": "te6account"})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"accounts": accounts},
		})
	default:
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []interface{}{map[string]interface{}{"message": "unknown query"}},
		})
	}
}

func (f *fakeEverGraphQL) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg["type"] {
		case "connection_init":
			conn.WriteJSON(map[string]interface{}{"type": "connection_ack"})
		case "start", "subscribe":
			payload, _ := msg["payload"].(map[string]interface{})
			f.mu.Lock()
			f.subscribed = append(f.subscribed, payload)
			f.mu.Unlock()

			dataType := "data"
			if msg["type"] == "subscribe" {
				dataType = "next"
			}
			conn.WriteJSON(map[string]interface{}{
				"type": dataType,
				"id":   msg["id"],
				"payload": map[string]interface{}{
					"data": map[string]interface{}{"messages": f.event},
				},
			})
		case "connection_terminate":
			return
		}
	}
}

func TestGraphqlURLs(t *testing.T) {
	cases := []struct {
		endpoint, httpURL, wsURL string
	}{
		{"localhost", "http://localhost/graphql", "ws://localhost/graphql"},
		{"eri01.net.everos.dev", "https://eri01.net.everos.dev/graphql", "wss://eri01.net.everos.dev/graphql"},
		{"http://127.0.0.1:8080/", "http://127.0.0.1:8080/graphql", "ws://127.0.0.1:8080/graphql"},
		{"https://node.example/graphql", "https://node.example/graphql", "wss://node.example/graphql"},
	}
	for _, tc := range cases {
		httpURL, wsURL := graphqlURLs(tc.endpoint)
		assert.Equal(t, tc.httpURL, httpURL, tc.endpoint)
		assert.Equal(t, tc.wsURL, wsURL, tc.endpoint)
	}
}

func TestEverGraphQLAccountBoc(t *testing.T) {
	fake := newFakeEverGraphQL(t)
	client, err := NewEverGraphQLClient(zap.NewNop(), []string{fake.server.URL})
	require.NoError(t, err)

	boc, err := client.AccountBoc(context.Background(), "0:faucet")
	require.NoError(t, err)
	assert.Equal(t, "te6account", boc)

	boc, err = client.AccountBoc(context.Background(), "0:missing")
	require.NoError(t, err)
	assert.Empty(t, boc)
}

func TestEverGraphQLQueryFailsOver(t *testing.T) {
	fake := newFakeEverGraphQL(t)
	client, err := NewEverGraphQLClient(zap.NewNop(), []string{"http://127.0.0.1:1", fake.server.URL})
	require.NoError(t, err)

	data, err := client.Query(context.Background(), infoQuery, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"info":{"version":"0.59.0"}}`, string(data))
}

func TestEverGraphQLSubscribeDeliversEvents(t *testing.T) {
	fake := newFakeEverGraphQL(t)
	client, err := NewEverGraphQLClient(zap.NewNop(), []string{fake.server.URL})
	require.NoError(t, err)
	defer client.Close()

	received := make(chan json.RawMessage, 4)
	id, err := client.Subscribe(context.Background(),
		"subscription { messages { id } }",
		nil,
		func(data json.RawMessage) { received <- data },
		func(err error) {})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case data := <-received:
		var out struct {
			Messages struct {
				ID   string `json:"id"`
				Body string `json:"body"`
			} `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, "msg1", out.Messages.ID)
		assert.Equal(t, "te6body", out.Messages.Body)
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription event received")
	}

	require.NoError(t, client.Unsubscribe(id))
	assert.Error(t, client.Unsubscribe(id))
}

func TestEverGraphQLSubscribeGivesUp(t *testing.T) {
	client, err := NewEverGraphQLClient(zap.NewNop(), []string{"http://127.0.0.1:1"})
	require.NoError(t, err)
	client.WithRetry(2, time.Millisecond)

	_, err = client.Subscribe(context.Background(), "subscription { messages { id } }", nil,
		func(json.RawMessage) {}, func(error) {})
	assert.Error(t, err)
}

func TestEverGraphQLSubscribeFailsFastByDefault(t *testing.T) {
	client, err := NewEverGraphQLClient(zap.NewNop(), []string{"http://127.0.0.1:1"})
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Subscribe(context.Background(), "subscription { messages { id } }", nil,
		func(json.RawMessage) {}, func(error) {})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEndpointsForNetwork(t *testing.T) {
	assert.Equal(t, DevnetEndpoints, EndpointsForNetwork("testnet"))
	assert.Equal(t, MainnetEndpoints, EndpointsForNetwork("mainnet"))
	assert.Equal(t, []string{"localhost"}, EndpointsForNetwork("localhost"))
}
