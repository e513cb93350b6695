package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"
)

// runLink prints a terminal QR code for the bot's t.me link, or writes
// a PNG when a path is given.
func runLink(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string, args []string) error {
	ac, _, err := openAgent(stderr, configPath)
	if err != nil {
		return err
	}
	defer ac.Close()

	if err := unlockIfNeeded(ac, newPrompter(stdin, stderr)); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	link, err := ac.Telegram.BotLink(ctx)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return writeQR(stdout, link, args)
}

func writeQR(w io.Writer, link string, args []string) error {
	if len(args) > 0 {
		if err := qrcode.WriteFile(link, qrcode.Medium, 512, args[0]); err != nil {
			return fmt.Errorf("write %s: %w", args[0], err)
		}
		fmt.Fprintf(w, "%s\nQR code written to %s\n", link, args[0])
		return nil
	}
	q, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return err
	}
	fmt.Fprint(w, q.ToSmallString(false))
	fmt.Fprintln(w, link)
	return nil
}
