// Command get_token connects a Gmail account by hand. It prints the consent
// URL, exchanges the pasted authorization code and prints the sealed refresh
// token so it can be inserted into the user_tokens table.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"cold-outreach-go/internal/auth"
	"cold-outreach-go/internal/config"
	"cold-outreach-go/internal/oauth"
	"cold-outreach-go/internal/vault"
)

func main() {
	userID := flag.String("user", "", "user id to issue an API token for (optional)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	ex := oauth.NewExchanger(cfg.Gmail, nil)
	authURL, err := ex.AuthorizationURL("manual")
	if err != nil {
		logrus.Fatalf("Unable to build consent URL: %v", err)
	}

	fmt.Printf("Go to the following link in your browser: %v\n", authURL)
	fmt.Println("\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")

	fmt.Print("\nEnter the authorization code: ")
	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		logrus.Fatalf("Unable to read authorization code: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tokens, err := ex.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		logrus.Fatalf("Unable to exchange authorization code: %v", err)
	}

	key := cfg.Security.EncryptionKey
	if key == "" {
		fmt.Print("Enter the encryption key: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			logrus.Fatalf("Unable to read encryption key: %v", err)
		}
		key = strings.TrimSpace(string(raw))
	}

	sealed, err := vault.New(key).Seal(tokens.RefreshToken)
	if err != nil {
		logrus.Fatalf("Unable to seal refresh token: %v", err)
	}

	fmt.Printf("\nSealed refresh token: %s\n", sealed)

	if *userID != "" {
		token, err := auth.NewVerifier(cfg.Security.JWTSecret).IssueToken(*userID, 24*time.Hour)
		if err != nil {
			logrus.Fatalf("Unable to issue API token: %v", err)
		}
		fmt.Printf("API bearer token for %s: %s\n", *userID, token)
	}
}
