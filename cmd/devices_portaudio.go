//go:build portaudio

package main

import (
	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/adapters/devices"
	"github.com/satriahrh/geminiplay/adapters/devices/portaudio"
	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/internal/config"
	"github.com/satriahrh/geminiplay/internal/playback"
)

func openAudio(cfg *config.Config, logger *zap.Logger) (audioDevices, error) {
	if cfg.Devices.Audio != config.AudioDevicePortAudio {
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

	terminate, err := portaudio.Init()
	if err != nil {
		return audioDevices{}, err
	}

	framesPerBuffer := int(playback.DefaultBlockDuration.Seconds() * entities.PlaybackSampleRate)
	speaker, err := portaudio.NewSpeaker(entities.PlaybackSampleRate, framesPerBuffer, logger.Named("speaker"))
	if err != nil {
		terminate()
		return audioDevices{}, err
	}

	logger.Info("Using PortAudio devices")
	return audioDevices{
		mic:     portaudio.NewMicrophone(logger.Named("microphone")),
		speaker: speaker,
		cleanup: terminate,
	}, nil
}
