package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/astro-web3/records-gateway/internal/config"
	"github.com/astro-web3/records-gateway/internal/infra/revocation"
	"github.com/astro-web3/records-gateway/internal/infra/token"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const tokenTTL = 5 * time.Minute

// Issues a token, registers it in the revocation store, calls the gateway,
// then logs the token out and calls again.
func main() {
	if len(os.Args) < 3 {
		log.Fatalf("Usage: %s <path> <roles,comma,separated> [server-addr]", os.Args[0])
	}

	path := os.Args[1]
	roles := strings.Split(os.Args[2], ",")
	serverAddr := "http://localhost:8080"
	if len(os.Args) > 3 {
		serverAddr = "http://localhost" + os.Args[3]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	key, err := cfg.SigningKey()
	if err != nil {
		log.Fatalf("Invalid signing secret: %v", err)
	}

	ctx := context.Background()
	rdb, err := revocation.NewRedisClient(ctx, revocation.PoolOptions{
		URL:      cfg.Redis.URL,
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	raw, err := token.NewIssuer(key, cfg.Auth.AuthoritiesClaim).Issue("smoke-test", roles, tokenTTL)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	tokenID := uuid.NewString()
	if err := seed(ctx, rdb, raw, tokenID, false); err != nil {
		log.Fatalf("Failed to seed revocation store: %v", err)
	}
	defer rdb.Del(ctx, raw, revocation.StatusKey(tokenID))

	fmt.Println("Active token:")
	call(serverAddr+path, raw)

	if err := seed(ctx, rdb, raw, tokenID, true); err != nil {
		log.Fatalf("Failed to log token out: %v", err)
	}
	fmt.Println("\nLogged-out token:")
	call(serverAddr+path, raw)
}

func seed(ctx context.Context, rdb *redis.Client, raw, tokenID string, loggedOut bool) error {
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, raw, tokenID, tokenTTL)
		pipe.Set(ctx, revocation.StatusKey(tokenID), fmt.Sprintf("%t", loggedOut), tokenTTL)
		return nil
	})
	return err
}

func call(url, raw string) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+raw)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode < http.StatusBadRequest {
		fmt.Printf("✅ Forwarded (status %d)\n", resp.StatusCode)
		fmt.Printf("   Request ID: %s\n", resp.Header.Get("X-Request-Id"))
		return
	}
	fmt.Printf("❌ Rejected\n")
	fmt.Printf("   Status: %d\n", resp.StatusCode)
	fmt.Printf("   Body: %s\n", string(body))
}
