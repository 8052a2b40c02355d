package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	twitchlinkr "github.com/twitchlinkr/twitchlinkr-go"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	gray   = color.New(color.FgHiBlack)
	bold   = color.New(color.Bold)

	stdout io.Writer = os.Stdout

	noColor = os.Getenv("NO_COLOR") != "" || !isatty.IsTerminal(os.Stdout.Fd())
)

func init() {
	if noColor {
		color.NoColor = true
	}
}

func success(format string, a ...any) {
	fmt.Fprintf(stdout, green.Sprint("✓")+" "+format+"\n", a...)
}

func info(format string, a ...any) {
	fmt.Fprintf(stdout, cyan.Sprint("→")+" "+format+"\n", a...)
}

func warning(format string, a ...any) {
	fmt.Fprintf(stdout, yellow.Sprint("⚠")+" "+format+"\n", a...)
}

func failure(format string, a ...any) {
	fmt.Fprintf(stdout, red.Sprint("✗")+" "+format+"\n", a...)
}

// maskKey shows the first 4 and last 4 characters of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

// getHelixClient creates a Helix client from the stored credentials.
func getHelixClient(cfg *Config) (*twitchlinkr.Client, error) {
	if cfg.Default.ClientID == "" || cfg.Default.AccessToken == "" {
		return nil, errors.New("no credentials; run 'twitchlinkr init <client-id> <access-token>' first")
	}

	var opts []twitchlinkr.ClientOption
	if cfg.Default.HelixURL != "" {
		opts = append(opts, twitchlinkr.WithBaseURL(cfg.Default.HelixURL))
	}
	return twitchlinkr.NewClient(cfg.Default.ClientID, cfg.Default.AccessToken, opts...), nil
}
