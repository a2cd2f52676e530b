package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/oxenfxc/bilibili-autoreply/bilibili"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
	"github.com/oxenfxc/bilibili-autoreply/internal/conf"
	"github.com/oxenfxc/bilibili-autoreply/internal/data"
	"github.com/oxenfxc/bilibili-autoreply/internal/logger"
)

// send-dm sends one direct message from a stored account. Debug utility.

func main() {
	godotenv.Load()

	if len(os.Args) < 4 {
		fmt.Println("Usage: send-dm <account_uid> <talker_uid> <message>")
		os.Exit(1)
	}

	accountUID := os.Args[1]
	talkerID, err := strconv.ParseInt(os.Args[2], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid talker uid %q\n", os.Args[2])
		os.Exit(1)
	}
	message := os.Args[3]

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	acct, err := stores.Accounts.Get(ctx, accountUID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load account: %v\n", err)
		os.Exit(1)
	}
	if acct == nil {
		fmt.Fprintf(os.Stderr, "no stored account with uid %s, run qr-login first\n", accountUID)
		os.Exit(1)
	}

	client := bilibili.NewClient(acct, log)
	if err := client.SendText(ctx, talkerID, domain.SessionTypeUser, message); err != nil {
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Message sent")
}
