package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"latchkey/internal/config"
)

func main() {
	var configPath string
	var subject string
	var ttl time.Duration

	flag.StringVar(&configPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&subject, "sub", "admin", "Subject recorded as the actor in admin logs")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	})

	tokenString, err := token.SignedString([]byte(cfg.AdminSecret))
	if err != nil {
		log.Fatalf("Error signing token: %v", err)
	}

	fmt.Println(tokenString)
}
