//go:build portaudio

package main

import (
	"github.com/MrWong99/hudlink/internal/config"
	"github.com/MrWong99/hudlink/pkg/audio"
	"github.com/MrWong99/hudlink/pkg/audio/portaudio"
)

func registerPlatformDevices(reg *config.Registry) {
	reg.RegisterCapture(config.DevicePortAudio, func(config.AudioConfig) (audio.CaptureDevice, error) {
		return portaudio.NewMicrophone(), nil
	})
	reg.RegisterOutput(config.DevicePortAudio, func(config.AudioConfig) (audio.OutputDevice, error) {
		return portaudio.NewSpeaker(), nil
	})
}
