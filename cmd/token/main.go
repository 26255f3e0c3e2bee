// Command token issues bearer tokens for gateway bridges and map viewers,
// signed with the server's GATEWAY_TOKEN.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"starlane-server/internal/auth"
	"starlane-server/internal/shared/utils"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	defaultLifetime := time.Duration(utils.GetEnvInt("GATEWAY_TOKEN_LIFETIME_HOURS", 24)) * time.Hour

	role := flag.String("role", string(auth.RoleBridge), "token role: bridge or viewer")
	subject := flag.String("subject", "bridge", "who the token is for")
	lifetime := flag.Duration("lifetime", defaultLifetime, "how long the token stays valid")
	flag.Parse()

	r := auth.Role(*role)
	if r != auth.RoleBridge && r != auth.RoleViewer {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}

	token, err := auth.GenerateJWT(utils.GetEnv("GATEWAY_TOKEN", ""), *subject, r, *lifetime)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
