package registry

import (
	"namedir/pkg/domain"
)

// codecV2 speaks to the second-generation resolver: dynamic string names, a
// reverse index, and a bytes32 recovery key slot bolted on by the recovery
// extension. Key rotation still required the original account key, so the
// canonical rotate operation is unsupported.
type codecV2 struct{}

func (codecV2) encodeResolve(addr domain.Address) []byte {
	return append(selector("resolve(address)"), encodeAddressWord(addr)...)
}

func (codecV2) decodeResolve(out []byte) (string, error) {
	b, err := decodeBytesReturn(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (codecV2) encodeReverseResolve(normalized string) ([]byte, error) {
	data := append(selector("reverseResolve(string)"), encodeUintWord(wordSize)...)
	return append(data, encodeDynamicBytes([]byte(normalized))...), nil
}

func (codecV2) decodeReverseResolve(out []byte) (domain.Address, error) {
	return decodeAddressReturn(out)
}

func (codecV2) encodeRecoveryKey(addr domain.Address) ([]byte, error) {
	return append(selector("recoveryKeyOf(address)"), encodeAddressWord(addr)...), nil
}

func (codecV2) decodeRecoveryKey(out []byte) ([]byte, error) {
	if len(out) < wordSize {
		return nil, errUnsupported
	}
	key := make([]byte, wordSize)
	copy(key, out[:wordSize])
	return key, nil
}

func (codecV2) encodeRotateKey(domain.Address, []byte, []byte) ([]byte, error) {
	return nil, errUnsupported
}

func (codecV2) bindingChangedTopics() []string {
	return []string{
		eventTopic("NameRegistered(address,string)"),
		eventTopic("NameReleased(address)"),
	}
}
