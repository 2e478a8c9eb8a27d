//go:build !portaudio

package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/adapters/devices"
	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/internal/config"
)

func openAudio(cfg *config.Config, logger *zap.Logger) (audioDevices, error) {
	if cfg.Devices.Audio == config.AudioDevicePortAudio {
		return audioDevices{}, fmt.Errorf("this binary was built without PortAudio support; rebuild with -tags portaudio")
	}

	speaker, err := devices.NewWAVSpeaker(cfg.Devices.SpeakerFile, entities.PlaybackSampleRate, logger.Named("speaker"))
	if err != nil {
		return audioDevices{}, err
	}
	return audioDevices{
		mic:     devices.NewFileMicrophone(cfg.Devices.MicFile, logger.Named("microphone"), devices.WithLoop(cfg.Devices.MicLoop)),
		speaker: speaker,
		cleanup: func() {},
	}, nil
}
