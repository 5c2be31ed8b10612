package infra

import (
	"fmt"
	"io"
	"strings"
)

// ANSI Color Codes
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
)

// PrintBanner writes the startup banner with mode-specific warnings.
func PrintBanner(w io.Writer, cfg *Config) {
	mode := cfg.Trading.Mode

	color := ColorGreen
	modeDesc := "SIMULATION"
	switch mode {
	case ModeReal:
		color = ColorRed
		modeDesc = "REAL MONEY TRADING"
	case ModeDryRun:
		color = ColorYellow
		modeDesc = "LOG ONLY (NO ORDERS)"
	case ModePaper:
		color = ColorCyan
		modeDesc = "PAPER EXCHANGE"
	}

	users := make([]string, 0, len(cfg.Trading.Users))
	for _, u := range cfg.Trading.Users {
		users = append(users, u.ID)
	}

	line := func(format string, args ...any) {
		fmt.Fprintf(w, "%s"+format+"%s\n", append(append([]any{color}, args...), ColorReset)...)
	}

	fmt.Fprintln(w)
	line("###########################################################")
	line("#                                                         #")
	line("#            Premium Arbitrage Engine                     #")
	line("#                                                         #")
	line("#   MODE:    %-44s #", mode)
	line("#   TYPE:    %-44s #", modeDesc)
	line("#   VERSION: %-44s #", cfg.App.Version)
	line("#   SYMBOLS: %-44s #", strings.Join(cfg.Trading.Symbols, ","))
	line("#   USERS:   %-44s #", strings.Join(users, ","))
	line("#                                                         #")
	if mode == ModeReal {
		fmt.Fprintf(w, "%s#   ⚠️  WARNING: YOU ARE TRADING WITH REAL MONEY  ⚠️      #%s\n", ColorRed, ColorReset)
		fmt.Fprintf(w, "%s#   RUN A BACKTEST AND A PAPER SESSION FIRST              #%s\n", ColorRed, ColorReset)
	}
	line("###########################################################")
	fmt.Fprintln(w)
}
