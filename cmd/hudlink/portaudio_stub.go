//go:build !portaudio

package main

import "github.com/MrWong99/hudlink/internal/config"

// registerPlatformDevices is a no-op without the portaudio build tag.
func registerPlatformDevices(*config.Registry) {}
