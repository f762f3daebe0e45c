package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ivlev/dance2video/internal/system"
)

// BuildVersion задается при сборке: -ldflags "-X main.BuildVersion=..."
var BuildVersion = "dev"

func main() {
	// Увеличиваем лимиты системы (для macOS/Linux)
	system.InitResourceLimits()

	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "[-] Ошибка: %v\n", err)
		}
		os.Exit(1)
	}
}
