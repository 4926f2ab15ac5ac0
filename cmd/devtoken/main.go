// Command devtoken prints a bearer token for calling the API locally.
//
//	go run ./cmd/devtoken -sub mentor-1 -name Mina -role mentor
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"curricula/api/internal/auth"
	"curricula/api/internal/config"
	"curricula/api/internal/rbac"
)

func main() {
	sub := flag.String("sub", "", "actor id")
	name := flag.String("name", "", "display name")
	role := flag.String("role", string(rbac.RoleMentor), "viewer, mentor, reviewer or admin")
	flag.Parse()

	if *sub == "" || *name == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	token, err := auth.IssueToken([]byte(cfg.JWTSecret), *sub, *name, string(rbac.Normalize(*role)), cfg.TokenTTL)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	fmt.Println(token)
}
