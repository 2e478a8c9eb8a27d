package capability

import (
	"github.com/satriahrh/geminiplay/domain"
)

// Strategy is the way screen content is obtained on a platform
type Strategy int

const (
	NativeScreenShare Strategy = iota + 1
	ShareAPI
	FilePicker
)

func (s Strategy) String() string {
	switch s {
	case NativeScreenShare:
		return "native_screen_share"
	case ShareAPI:
		return "share_api"
	case FilePicker:
		return "file_picker"
	default:
		return "unknown"
	}
}

// Platform describes what the host can do
type Platform struct {
	Mobile                  bool
	ShareAvailable          bool
	FilePickerAvailable     bool
	DisplayCaptureAvailable bool
}

// Messages shown when no strategy is available
const (
	MobileNotSupportedMessage  = "很抱歉，您的設備不支援任何分享功能。請嘗試更新瀏覽器或使用桌面版瀏覽器。"
	DesktopNotSupportedMessage = "Screen sharing is not supported in this browser"
)

// Negotiate picks the screen capture strategy for p
func Negotiate(p Platform) (Strategy, error) {
	if p.Mobile {
		switch {
		case p.ShareAvailable:
			return ShareAPI, nil
		case p.FilePickerAvailable:
			return FilePicker, nil
		default:
			return 0, domain.NewError(domain.KindNotSupported, "capability.Negotiate",
				MobileNotSupportedMessage, domain.ErrNotSupported)
		}
	}

	if p.DisplayCaptureAvailable {
		return NativeScreenShare, nil
	}
	return 0, domain.NewError(domain.KindNotSupported, "capability.Negotiate",
		DesktopNotSupportedMessage, domain.ErrNotSupported)
}

// IsMobileOS reports whether goos is a handheld platform
func IsMobileOS(goos string) bool {
	return goos == "android" || goos == "ios"
}

// DetectPlatform builds a Platform for goos from the configured devices
func DetectPlatform(goos string, hasShare, hasPicker, hasDisplay bool) Platform {
	return Platform{
		Mobile:                  IsMobileOS(goos),
		ShareAvailable:          hasShare,
		FilePickerAvailable:     hasPicker,
		DisplayCaptureAvailable: hasDisplay,
	}
}
