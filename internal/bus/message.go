// Package bus implements the partitioned message bus producer and
// consumer (spec §4.3) over github.com/segmentio/kafka-go, with
// backpressure and partition selection driven by an
// internal/counterstore.Store.
package bus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/example/chain-collector/internal/chainmodel"
)

// ErrMalformedMessage is returned by DecodeMessage for anything that
// doesn't match "<mode>:<hex_hash>" (spec §6).
var ErrMalformedMessage = errors.New("bus: malformed message")

// EncodeMessage renders spec §6's wire format: "<mode>:<hex_hash>".
func EncodeMessage(mode chainmodel.Mode, hash common.Hash) string {
	return fmt.Sprintf("%s:%s", mode, hash.Hex())
}

// DecodeMessage parses a bus message into its mode and transaction hash.
// An unrecognized mode is not itself an error here — it is logged at
// Warn and returned as FULL, so the consumer processes it as FULL — but a
// missing colon, wrong hash length, or non-hex hash is.
func DecodeMessage(msg string) (chainmodel.Mode, common.Hash, error) {
	idx := strings.IndexByte(msg, ':')
	if idx < 0 {
		return "", common.Hash{}, fmt.Errorf("%w: %q missing ':' separator", ErrMalformedMessage, msg)
	}
	modeStr, hashStr := msg[:idx], msg[idx+1:]

	if !isHexHash(hashStr) {
		return "", common.Hash{}, fmt.Errorf("%w: %q is not a 0x-prefixed 32-byte hash", ErrMalformedMessage, hashStr)
	}

	mode, ok := chainmodel.ParseMode(modeStr)
	if !ok {
		log.Warn().Str("mode", modeStr).Str("tx_hash", hashStr).Msg("unrecognized mode, defaulting to full")
	}
	return mode, common.HexToHash(hashStr), nil
}

func isHexHash(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	hexPart := s[2:]
	if len(hexPart) != 64 {
		return false
	}
	for _, r := range hexPart {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
