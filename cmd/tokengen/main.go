// Command tokengen mints bearer tokens for the command API.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/technosupport/ts-nvrbridge/internal/api"
)

func main() {
	name := flag.String("name", "cli", "Token subject name")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	key := os.Getenv("JWT_SIGNING_KEY")
	if key == "" {
		log.Fatal("JWT_SIGNING_KEY must be set")
	}

	token, err := api.NewTokenManager(key).GenerateToken(*name, *ttl)
	if err != nil {
		log.Fatalf("Failed to generate token: %v", err)
	}
	fmt.Println(token)
}
