package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	graphql "github.com/hasura/go-graphql-client"
	"go.uber.org/zap"
)

const (
	probeTimeout = 5 * time.Second

	infoQuery    = `query { info { version } }`
	accountQuery = `query($address: String) { accounts(filter: { id: { eq: $address } }) { boc } }`
)

// EverGraphQLClient queries and subscribes to an Everscale GraphQL endpoint,
// failing over across the configured endpoints
type EverGraphQLClient struct {
	endpoints  []string
	httpClient *http.Client
	attempts   uint
	retryDelay time.Duration
	logger     *zap.Logger

	mu   sync.Mutex
	subs map[string]*graphql.SubscriptionClient
}

// NewEverGraphQLClient creates a client for the given endpoints
func NewEverGraphQLClient(logger *zap.Logger, endpoints []string) (*EverGraphQLClient, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no graphql endpoints")
	}
	return &EverGraphQLClient{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		attempts:   1,
		retryDelay: 2 * time.Second,
		logger:     logger.With(zap.String("component", "EverGraphQLClient")),
		subs:       make(map[string]*graphql.SubscriptionClient),
	}, nil
}

// WithRetry overrides how subscription establishment is retried.
// A single attempt is the default since the relay loop retries on its next tick.
func (c *EverGraphQLClient) WithRetry(attempts uint, delay time.Duration) *EverGraphQLClient {
	c.attempts = attempts
	c.retryDelay = delay
	return c
}

// withEndpoint runs f against each endpoint in turn until one succeeds
func (c *EverGraphQLClient) withEndpoint(f func(httpURL, wsURL string) error) (err error) {
	for _, endpoint := range c.endpoints {
		httpURL, wsURL := graphqlURLs(endpoint)
		if err = f(httpURL, wsURL); err == nil {
			return nil
		}
		c.logger.Debug("GraphQL endpoint failed", zap.String("endpoint", httpURL), zap.Error(err))
	}
	return err
}

// Query runs a GraphQL query and returns the raw data object
func (c *EverGraphQLClient) Query(ctx context.Context, query string, variables map[string]interface{}) (json.RawMessage, error) {
	var data []byte
	err := c.withEndpoint(func(httpURL, _ string) error {
		var err error
		data, err = graphql.NewClient(httpURL, c.httpClient).ExecRaw(ctx, query, variables)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// AccountBoc returns the account state BOC, empty when the account does not exist
func (c *EverGraphQLClient) AccountBoc(ctx context.Context, address string) (string, error) {
	data, err := c.Query(ctx, accountQuery, map[string]interface{}{"address": address})
	if err != nil {
		return "", fmt.Errorf("query account %s: %w", address, err)
	}
	var out struct {
		Accounts []struct {
			Boc *string `json:"boc"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode account %s: %w", address, err)
	}
	if len(out.Accounts) == 0 || out.Accounts[0].Boc == nil {
		return "", nil
	}
	return *out.Accounts[0].Boc, nil
}

// Subscribe opens a websocket subscription on the first reachable endpoint.
// onData gets the raw data object of every event; transport errors go to onError
// and the client keeps reconnecting until Unsubscribe.
func (c *EverGraphQLClient) Subscribe(ctx context.Context, query string, variables map[string]interface{}, onData func(json.RawMessage), onError func(error)) (string, error) {
	var (
		id     string
		client *graphql.SubscriptionClient
	)

	establish := func() error {
		return c.withEndpoint(func(httpURL, wsURL string) error {
			// the websocket transport reconnects silently, so probe the endpoint first
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			if _, err := graphql.NewClient(httpURL, c.httpClient).ExecRaw(probeCtx, infoQuery, nil); err != nil {
				return fmt.Errorf("probe %s: %w", httpURL, err)
			}

			client = graphql.NewSubscriptionClient(wsURL).
				WithRetryTimeout(time.Minute).
				OnError(func(_ *graphql.SubscriptionClient, err error) error {
					onError(err)
					return nil
				})

			var err error
			id, err = client.Exec(query, variables, func(message []byte, err error) error {
				if err != nil {
					onError(err)
					return nil
				}
				onData(message)
				return nil
			})
			if err != nil {
				client.Close()
				return fmt.Errorf("subscribe %s: %w", wsURL, err)
			}
			c.logger.Debug("Subscription registered", zap.String("endpoint", wsURL), zap.String("subscriptionId", id))
			return nil
		})
	}

	err := retry.Do(
		establish,
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Failed to establish subscription, retrying",
				zap.Uint("try", n+1),
				zap.Error(err))
		}),
	)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.subs[id] = client
	c.mu.Unlock()

	go func() {
		if err := client.Run(); err != nil {
			onError(fmt.Errorf("subscription %s stopped: %w", id, err))
		}
	}()
	return id, nil
}

// Unsubscribe closes the subscription's websocket connection
func (c *EverGraphQLClient) Unsubscribe(id string) error {
	c.mu.Lock()
	client, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown subscription %s", id)
	}
	return client.Close()
}

// Close closes every open subscription
func (c *EverGraphQLClient) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*graphql.SubscriptionClient)
	c.mu.Unlock()

	for id, client := range subs {
		if err := client.Close(); err != nil {
			c.logger.Debug("Failed to close subscription", zap.String("subscriptionId", id), zap.Error(err))
		}
	}
}
