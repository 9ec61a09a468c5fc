// Command badge renders a member's check-in QR code.
//
// In rotating mode (the default) it refreshes the QR in the terminal as the
// signing window rolls over, like the member app does on a phone screen.
// With -out it writes a single PNG instead, and with -legacy it renders the
// old static badge format for printed cards.
//
// The secret comes from -secret directly, or is fetched from the server
// with -server and -session-key.
//
// Usage:
//
//	badge -member mem_abc123 -secret <hex>
//	badge -member mem_abc123 -server https://checkin.runclub.example -session-key sk_...
//	badge -member mem_abc123 -secret <hex> -legacy -out card.png
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pacepass/pacepass/internal/token"
	qrcode "github.com/skip2/go-qrcode"
)

func main() {
	var (
		memberID   = flag.String("member", "", "member ID (required)")
		secret     = flag.String("secret", "", "check-in secret (hex)")
		serverURL  = flag.String("server", "", "pacepass server URL (used when -secret is not given)")
		sessionKey = flag.String("session-key", "", "device session key for secret retrieval")
		window     = flag.Int64("window", token.DefaultWindowSeconds, "signing window in seconds")
		legacy     = flag.Bool("legacy", false, "render the static legacy badge instead of a rotating token")
		out        = flag.String("out", "", "write a PNG to this path instead of the terminal")
	)
	flag.Parse()

	if *memberID == "" {
		fmt.Fprintln(os.Stderr, "badge: -member is required")
		flag.Usage()
		os.Exit(2)
	}
	if *secret == "" && (*serverURL == "" || *sessionKey == "") {
		fmt.Fprintln(os.Stderr, "badge: provide -secret, or -server together with -session-key")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source := token.SecretFunc(func(ctx context.Context) (string, error) {
		if *secret != "" {
			return *secret, nil
		}
		return fetchSecret(ctx, *serverURL, *sessionKey, *memberID)
	})

	if *legacy {
		s, err := source.Secret(ctx)
		if err != nil {
			fatal("failed to get secret: %v", err)
		}
		render(token.EncodeLegacy(*memberID, s), *out)
		if *out == "" {
			fmt.Println("Static badge. Anyone holding this image can check in as you.")
		}
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	params := token.Params{WindowSeconds: *window, SkewWindows: token.DefaultSkewWindows}
	gen := token.NewGenerator(*memberID, source, params, logger)

	// One-shot PNG
	if *out != "" {
		payload, err := gen.Current(ctx)
		if err != nil {
			fatal("failed to generate token: %v", err)
		}
		render(payload, *out)
		fmt.Printf("Wrote %s (valid for ~%ds)\n", *out, gen.SecondsToRotation())
		return
	}

	// Live terminal mode: redraw on every window rollover
	go gen.Start(ctx)
	defer gen.Stop()

	var last string
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if payload, ok := gen.Snapshot(); ok && payload != last {
			last = payload
			render(payload, "")
			fmt.Printf("Member %s\n", *memberID)
		}
		fmt.Printf("\rRotates in %2ds ", gen.SecondsToRotation())

		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case <-ticker.C:
		}
	}
}

func render(payload, out string) {
	if out != "" {
		if err := qrcode.WriteFile(payload, qrcode.Medium, 256, out); err != nil {
			fatal("failed to write PNG: %v", err)
		}
		return
	}
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fatal("failed to build QR code: %v", err)
	}
	fmt.Print("\033[H\033[2J") // clear screen
	fmt.Println(qr.ToSmallString(false))
}

// fetchSecret retrieves the member's secret from the provisioning API.
func fetchSecret(ctx context.Context, serverURL, sessionKey, memberID string) (string, error) {
	url := strings.TrimRight(serverURL, "/") + "/v1/members/" + memberID + "/secret"
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+sessionKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var body struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Secret, nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "badge: "+format+"\n", args...)
	os.Exit(1)
}
