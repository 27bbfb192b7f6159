package registry

import (
	"namedir/pkg/domain"
)

// codecV1 speaks to the legacy resolver. V1 stored names as fixed bytes32,
// had no reverse index and predates recovery signers entirely; only forward
// resolution and its NameSet event survive into the canonical operation set.
type codecV1 struct{}

func (codecV1) encodeResolve(addr domain.Address) []byte {
	return append(selector("nameOf(address)"), encodeAddressWord(addr)...)
}

func (codecV1) decodeResolve(out []byte) (string, error) {
	return decodeBytes32Name(out)
}

func (codecV1) encodeReverseResolve(string) ([]byte, error) {
	return nil, errUnsupported
}

func (codecV1) decodeReverseResolve([]byte) (domain.Address, error) {
	return domain.Address{}, errUnsupported
}

func (codecV1) encodeRecoveryKey(domain.Address) ([]byte, error) {
	return nil, errUnsupported
}

func (codecV1) decodeRecoveryKey([]byte) ([]byte, error) {
	return nil, errUnsupported
}

func (codecV1) encodeRotateKey(domain.Address, []byte, []byte) ([]byte, error) {
	return nil, errUnsupported
}

func (codecV1) bindingChangedTopics() []string {
	return []string{eventTopic("NameSet(address,bytes32)")}
}
