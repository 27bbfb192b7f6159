package registry

import (
	"errors"

	"namedir/pkg/domain"
)

// errUnsupported marks an operation a contract generation cannot serve. The
// adapter translates it per operation: reads fall back to "not found", writes
// are refused outright.
var errUnsupported = errors.New("operation unsupported by this contract version")

// codec translates the canonical operation set into one contract generation's
// call encoding. Codecs are pure and stateless.
type codec interface {
	encodeResolve(addr domain.Address) []byte
	decodeResolve(out []byte) (string, error)

	encodeReverseResolve(normalized string) ([]byte, error)
	decodeReverseResolve(out []byte) (domain.Address, error)

	encodeRecoveryKey(addr domain.Address) ([]byte, error)
	decodeRecoveryKey(out []byte) ([]byte, error)

	encodeRotateKey(addr domain.Address, newKey, proof []byte) ([]byte, error)

	// bindingChangedTopics lists the event topics announcing nickname state
	// changes for this generation; the reconciler's scanner subscribes to them.
	bindingChangedTopics() []string
}

// codecFor returns the codec for a contract generation. Tags are validated at
// trust boundaries, so an unknown tag here is a programming error.
func codecFor(tag domain.VersionTag) (codec, error) {
	switch tag {
	case domain.VersionV1:
		return codecV1{}, nil
	case domain.VersionV2:
		return codecV2{}, nil
	case domain.VersionV3:
		return codecV3{}, nil
	default:
		return nil, errors.New("no codec for version " + tag.String())
	}
}
