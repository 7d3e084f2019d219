package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// TokenData is the token document read back from YOUTUBE_TOKEN_B64 or
// YOUTUBE_OAUTH_JSON.
type TokenData struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	TokenURI     string    `json:"token_uri"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
}

func main() {
	tokenPath := flag.String("token", "token.json", "Path to save token.json")
	credentialsPath := flag.String("credentials", "client_secrets.json", "Path to client_secrets.json")
	flag.Parse()

	fmt.Println("🔐 YouTube Token Generator")
	fmt.Println("========================================")
	fmt.Println()

	// Check if credentials file exists
	if _, err := os.Stat(*credentialsPath); os.IsNotExist(err) {
		fmt.Printf("❌ Credentials file not found: %s\n", *credentialsPath)
		fmt.Println("   Download from https://console.cloud.google.com/")
		fmt.Println("   1. Go to Google Cloud Console")
		fmt.Println("   2. Create OAuth 2.0 credentials (Desktop app)")
		fmt.Println("   3. Download JSON file and rename to client_secrets.json")
		os.Exit(1)
	}

	fmt.Printf("📝 Using credentials: %s\n", *credentialsPath)
	fmt.Printf("💾 Token will be saved to: %s\n", *tokenPath)
	fmt.Println()

	// same scopes the uploader and the metrics collector request
	scopes := []string{
		youtube.YoutubeUploadScope,
		youtube.YoutubeReadonlyScope,
	}

	ctx := context.Background()

	b, err := os.ReadFile(*credentialsPath)
	if err != nil {
		fmt.Printf("❌ Failed to read credentials: %v\n", err)
		os.Exit(1)
	}

	config, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		fmt.Printf("❌ Failed to create config: %v\n", err)
		os.Exit(1)
	}

	// offline + forced consent so Google always returns a refresh token
	authURL := config.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	fmt.Println("🔐 Starting authentication process...")
	fmt.Println()
	fmt.Println("📱 Open this URL in your browser:")
	fmt.Printf("   %s\n", authURL)
	fmt.Println()
	fmt.Println("After authorization, paste the authorization code:")
	fmt.Print("👉 Code: ")

	var authCode string
	if _, err := fmt.Scanln(&authCode); err != nil {
		fmt.Printf("❌ Failed to read auth code: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("⏳ Exchanging code for token...")

	token, err := config.Exchange(ctx, authCode)
	if err != nil {
		fmt.Printf("❌ Failed to exchange token: %v\n", err)
		os.Exit(1)
	}
	if token.RefreshToken == "" {
		fmt.Println("⚠️  No refresh token returned; unattended runs will fail once this token expires")
	}

	tokenData := TokenData{
		Token:        token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		TokenURI:     config.Endpoint.TokenURL,
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
	}

	tokenJSON, err := json.MarshalIndent(tokenData, "", "  ")
	if err != nil {
		fmt.Printf("❌ Failed to marshal token: %v\n", err)
		os.Exit(1)
	}

	if dir := filepath.Dir(*tokenPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			fmt.Printf("❌ Failed to create %s: %v\n", dir, err)
			os.Exit(1)
		}
	}

	if err := os.WriteFile(*tokenPath, tokenJSON, 0o600); err != nil {
		fmt.Printf("❌ Failed to save token: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ Token successfully saved: %s\n", *tokenPath)
	fmt.Println()

	fmt.Println("📺 Fetching channel information...")

	client := config.Client(ctx, token)
	youtubeService, err := youtube.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		fmt.Printf("⚠️  Could not verify channel (will still work): %v\n", err)
	} else if channels, err := youtubeService.Channels.List([]string{"snippet"}).Mine(true).Do(); err != nil {
		fmt.Printf("⚠️  Could not fetch channel info: %v\n", err)
	} else if len(channels.Items) > 0 {
		channel := channels.Items[0]
		fmt.Printf("✅ Channel: %s\n", channel.Snippet.Title)
		fmt.Printf("   ID: %s\n", channel.Id)
	}

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("1. Store this value as the YOUTUBE_TOKEN_B64 secret:")
	fmt.Println()
	fmt.Println(base64.StdEncoding.EncodeToString(tokenJSON))
	fmt.Println()
	fmt.Println("2. Store the content of client_secrets.json as YOUTUBE_CLIENT_SECRET_JSON")
	fmt.Println()
}
