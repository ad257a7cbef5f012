package mdb

// Command byte/prefix constants from the MDB command vocabulary (§4.1).
const (
	cmdReset        = 0x10
	cmdPoll         = 0x12
	cmdSetupSub     = 0x11
	setupSubConfig  = 0x00
	setupSubPrices  = 0x01
	cmdReaderEnable = 0x14
	readerEnableSub = 0x01
	cmdExtFeatures  = 0x17
	extFeaturesSub  = 0x00
	cmdVend         = 0x13
	vendSubRequest  = 0x00
	vendSubCancel   = 0x01
	vendSubSuccess  = 0x02
	vendSubComplete = 0x04
)

// Command is a decoded inbound MDB payload.
type Command struct {
	Kind EventKind
	Slot uint16
	// Recognised is false for any payload not matching the vocabulary
	// this engine implements; the caller replies OUT_OF_SEQUENCE.
	Recognised bool
}

// ParseCommand decodes a frame payload (ADDR and terminator already
// stripped) into a Command. Unrecognised payload shapes yield
// Recognised=false rather than an error: an unrecognised-but-well-framed
// command is a normal MDB occurrence, not a framing failure.
func ParseCommand(payload []byte) Command {
	if len(payload) == 0 {
		return Command{Recognised: false}
	}

	switch payload[0] {
	case cmdReset:
		if len(payload) >= 2 && payload[1] == cmdReset {
			return Command{Kind: EventReset, Recognised: true}
		}
	case cmdPoll:
		return Command{Kind: EventPoll, Recognised: true}
	case cmdSetupSub:
		if len(payload) < 2 {
			return Command{Recognised: false}
		}
		switch payload[1] {
		case setupSubConfig:
			return Command{Kind: EventSetupConfig, Recognised: true}
		case setupSubPrices:
			return Command{Kind: EventMinMaxPrices, Recognised: true}
		}
	case cmdReaderEnable:
		if len(payload) >= 2 && payload[1] == readerEnableSub {
			return Command{Kind: EventReaderEnable, Recognised: true}
		}
	case cmdExtFeatures:
		if len(payload) >= 2 && payload[1] == extFeaturesSub {
			return Command{Kind: EventExtFeatures, Recognised: true}
		}
	case cmdVend:
		if len(payload) < 2 {
			return Command{Recognised: false}
		}
		switch payload[1] {
		case vendSubRequest:
			if len(payload) < 6 {
				return Command{Recognised: false}
			}
			slot := uint16(payload[4])<<8 | uint16(payload[5])
			return Command{Kind: EventVendRequest, Slot: slot, Recognised: true}
		case vendSubCancel:
			return Command{Kind: EventVendCancel, Recognised: true}
		case vendSubSuccess:
			if len(payload) < 4 {
				return Command{Recognised: false}
			}
			slot := uint16(payload[2])<<8 | uint16(payload[3])
			return Command{Kind: EventVendSuccess, Slot: slot, Recognised: true}
		case vendSubComplete:
			return Command{Kind: EventSessionComplete, Recognised: true}
		}
	}

	return Command{Recognised: false}
}

// setupConfigReply is the fixed SETUP CONFIG response payload (§4.1).
var setupConfigReply = []byte{0x01, 0x01, 0x02, 0xF4, 0x01, 0x02, 0x02, 0x00}

// extFeaturesReply is the fixed 30-byte EXT FEATURES response payload,
// leading byte 0x09 followed by zero-padding to the full response length.
var extFeaturesReply = func() []byte {
	b := make([]byte, 30)
	b[0] = 0x09
	return b
}()

// buildReply returns the frame payload (nil for bare ACK/NAK) for a single
// non-display, non-callback action. ActionReplyDisplay is built separately
// by the display queue; ActionDispenseAck carries no reply of its own (it
// pairs with ActionReplyAck in the same transition).
func buildReply(action Action) (payload []byte, bare bool) {
	switch action {
	case ActionReplyJustReset:
		return []byte{0x00}, false
	case ActionReplyAck:
		return nil, true
	case ActionReplySetupConfig:
		return setupConfigReply, false
	case ActionReplyExtFeatures:
		return extFeaturesReply, false
	case ActionReplyOpenSession:
		return []byte{0x03, 0xFF, 0xFF}, false
	case ActionReplyVendApproved:
		return []byte{0x05, 0xFF, 0xFF}, false
	case ActionReplyVendDenied:
		return []byte{0x06}, false
	case ActionReplyCancel:
		return []byte{0x04}, false
	case ActionReplyEndSession:
		return []byte{0x07}, false
	case ActionReplyOutOfSequence:
		return []byte{0x0B}, false
	default:
		return nil, true
	}
}
