package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/oxenfxc/bilibili-autoreply/bilibili"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
	"github.com/oxenfxc/bilibili-autoreply/internal/conf"
	"github.com/oxenfxc/bilibili-autoreply/internal/data"
	"github.com/oxenfxc/bilibili-autoreply/internal/logger"
)

// qr-login adds an account by scanning a QR code with the Bilibili app.

func main() {
	godotenv.Load()

	cfg, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Debug)

	stores, err := data.NewStores(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer stores.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	login := bilibili.NewQRLogin()
	qrURL, err := login.Generate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate QR code: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Open the Bilibili app and scan the QR code for this URL:")
	fmt.Println()
	fmt.Println("  " + qrURL)
	fmt.Println()
	fmt.Println("Waiting for scan...")

	cookies, err := login.WaitForScan(ctx, 2*time.Second, func(status int) {
		switch status {
		case bilibili.QRStatusScanned:
			fmt.Println("Scanned, confirm the login on your phone")
		case bilibili.QRStatusExpired:
			fmt.Println("QR code expired")
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	uid := cookies["DedeUserID"]
	if uid == "" {
		fmt.Fprintln(os.Stderr, "login response carried no DedeUserID cookie")
		os.Exit(1)
	}

	acct := &domain.Account{
		UID:       uid,
		Cookies:   cookies,
		Active:    true,
		Settings:  cfg.DefaultSettings(),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	name, err := bilibili.NewClient(acct, log).Verify(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cookie verification failed: %v\n", err)
		os.Exit(1)
	}
	acct.Name = name

	if err := stores.Accounts.Save(ctx, acct); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save account: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Logged in as %s (uid %s)\n", name, uid)
	fmt.Println("Enable auto-reply for this account via the control API, then restart the engine.")
}
