package main

import (
	"fmt"

	"github.com/MrWong99/hudlink/internal/config"
)

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         hudlink: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", cfg.Live.Provider, cfg.Live.Model)
	printRow("Voice", cfg.Live.Voice, "")
	printRow("Capture", cfg.Audio.Capture, "")
	printRow("Output", cfg.Audio.Output, "")
	fmt.Printf("║  %-12s    : %-19d ║\n", "Block size", cfg.Audio.BlockSize)
	fmt.Printf("║  %-12s    : %-19d ║\n", "Queue", cfg.Capture.QueueCapacity)
	timeout := "(none)"
	if cfg.Live.ConnectTimeout > 0 {
		timeout = cfg.Live.ConnectTimeout.String()
	}
	printRow("Connect t/o", timeout, "")
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr, "")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
