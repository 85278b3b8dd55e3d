package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"postage.org/internal/obs"
)

// The smoke test drives a dev-mode postaged through one escrow round trip:
// fund, price a topic, hold a fee, release it, then check that the fee was
// split and nothing was created or lost.
const (
	operator = "0x00000000000000000000000000000000000000f1"
	sender   = "0x0500000000000000000000000000000000000005"
)

type client struct {
	base string
	http *http.Client
}

func main() {
	log := obs.Logger()
	base := envOr("POSTAGE_API_URL", "http://localhost:8080")
	grpcAddr := envOr("POSTAGE_GRPC_ADDR", "localhost:9090")
	topicOwner := os.Getenv("POSTAGE_SMOKE_TOPIC_OWNER")
	appOwner := os.Getenv("POSTAGE_SMOKE_APP_OWNER")
	if topicOwner == "" || appOwner == "" {
		log.Fatal("POSTAGE_SMOKE_TOPIC_OWNER and POSTAGE_SMOKE_APP_OWNER must name the owners of topic 1 and its application")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := checkHealth(ctx, grpcAddr); err != nil {
		log.WithError(err).Fatal("grpc health")
	}

	c := &client{base: base, http: &http.Client{Timeout: 5 * time.Second}}
	opTok := c.mustToken(ctx, operator, "operator")
	ownerTok := c.mustToken(ctx, topicOwner)
	senderTok := c.mustToken(ctx, sender)

	var platform struct {
		Treasury string `json:"treasury"`
	}
	c.must(ctx, http.MethodGet, "/v1/platform", ownerTok, nil, &platform)

	c.must(ctx, http.MethodPost, "/v1/dev/fund", opTok, map[string]string{"asset": "native", "to": sender, "amount": "1000"}, nil)
	holders := []string{sender, topicOwner, platform.Treasury}
	if appOwner != topicOwner {
		holders = append(holders, appOwner)
	}
	before := c.total(ctx, senderTok, holders)
	custodyBefore := c.custody(ctx, senderTok)

	c.must(ctx, http.MethodPut, "/v1/topics/1/fee", ownerTok, map[string]string{"asset": "native", "amount": "100"}, nil)
	c.must(ctx, http.MethodPut, "/v1/topics/1/escrow", ownerTok, map[string]int64{"timeout_seconds": 3600}, nil)

	var held struct {
		Path    string `json:"path"`
		Deposit struct {
			ID uint64 `json:"id"`
		} `json:"deposit"`
	}
	c.mustWith(ctx, http.MethodPost, "/v1/topics/1/messages", senderTok, map[string]string{"value": "100"}, &held,
		map[string]string{"Idempotency-Key": uuid.NewString()})
	if held.Path != "escrow" {
		log.Fatalf("expected escrow path, got %q", held.Path)
	}

	c.must(ctx, http.MethodPost, "/v1/topics/1/messages", ownerTok, nil, nil)
	var status struct {
		Status string `json:"status"`
	}
	c.must(ctx, http.MethodGet, fmt.Sprintf("/v1/deposits/%d/status", held.Deposit.ID), senderTok, nil, &status)
	if status.Status != "released" {
		log.Fatalf("deposit %d is %s after owner reply", held.Deposit.ID, status.Status)
	}
	c.must(ctx, http.MethodDelete, "/v1/topics/1/escrow", ownerTok, nil, nil)

	after := c.total(ctx, senderTok, holders)
	custodyAfter := c.custody(ctx, senderTok)
	if after != before || custodyAfter != custodyBefore {
		log.Fatalf("conservation failed: holders %d -> %d, custody %d -> %d", before, after, custodyBefore, custodyAfter)
	}

	log.WithFields(logrus.Fields{
		"deposit": held.Deposit.ID,
		"before":  before,
		"after":   after,
	}).Info("settlement smoke test passed")
}

func checkHealth(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "postaged"})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("postaged is %s", resp.GetStatus())
	}
	return nil
}

func (c *client) mustToken(ctx context.Context, addr string, roles ...string) string {
	var out struct {
		Token string `json:"token"`
	}
	c.must(ctx, http.MethodPost, "/v1/auth/token", "", map[string]any{"address": addr, "roles": roles}, &out)
	return out.Token
}

func (c *client) total(ctx context.Context, tok string, owners []string) uint64 {
	var sum uint64
	for _, o := range owners {
		sum += c.balance(ctx, tok, o)
	}
	return sum
}

func (c *client) custody(ctx context.Context, tok string) uint64 {
	var out struct {
		Amount json.Number `json:"amount"`
	}
	c.must(ctx, http.MethodGet, "/v1/custody?asset=native", tok, nil, &out)
	n, err := out.Amount.Int64()
	if err != nil {
		obs.Logger().WithError(err).Fatal("custody balance")
	}
	return uint64(n)
}

func (c *client) balance(ctx context.Context, tok, owner string) uint64 {
	var out struct {
		Amount json.Number `json:"amount"`
	}
	c.must(ctx, http.MethodGet, "/v1/balances/"+owner+"?asset=native", tok, nil, &out)
	n, err := out.Amount.Int64()
	if err != nil {
		obs.Logger().WithError(err).Fatalf("balance of %s", owner)
	}
	return uint64(n)
}

func (c *client) must(ctx context.Context, method, path, tok string, body, out any) {
	c.mustWith(ctx, method, path, tok, body, out, nil)
}

func (c *client) mustWith(ctx context.Context, method, path, tok string, body, out any, headers map[string]string) {
	if err := c.do(ctx, method, path, tok, body, out, headers); err != nil {
		obs.Logger().WithError(err).Fatalf("%s %s", method, path)
	}
}

func (c *client) do(ctx context.Context, method, path, tok string, body, out any, headers map[string]string) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("status %d: %s", res.StatusCode, bytes.TrimSpace(payload))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(payload, out)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
