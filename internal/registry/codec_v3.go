package registry

import (
	"namedir/pkg/domain"
)

// codecV3 speaks to the current resolver, which carries the full canonical
// operation set: dynamic names, reverse index, variable-length recovery keys
// and biometric-proof key rotation.
type codecV3 struct{}

func (codecV3) encodeResolve(addr domain.Address) []byte {
	return append(selector("resolve(address)"), encodeAddressWord(addr)...)
}

func (codecV3) decodeResolve(out []byte) (string, error) {
	b, err := decodeBytesReturn(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (codecV3) encodeReverseResolve(normalized string) ([]byte, error) {
	data := append(selector("reverseResolve(string)"), encodeUintWord(wordSize)...)
	return append(data, encodeDynamicBytes([]byte(normalized))...), nil
}

func (codecV3) decodeReverseResolve(out []byte) (domain.Address, error) {
	return decodeAddressReturn(out)
}

func (codecV3) encodeRecoveryKey(addr domain.Address) ([]byte, error) {
	return append(selector("recoveryKeyOf(address)"), encodeAddressWord(addr)...), nil
}

func (codecV3) decodeRecoveryKey(out []byte) ([]byte, error) {
	return decodeBytesReturn(out)
}

// encodeRotateKey lays out rotateKey(address,bytes,bytes): one static head
// word for the address, two offset words for the dynamic arguments, then the
// tails in order.
func (codecV3) encodeRotateKey(addr domain.Address, newKey, proof []byte) ([]byte, error) {
	keyTail := encodeDynamicBytes(newKey)
	headSize := uint64(3 * wordSize)

	data := selector("rotateKey(address,bytes,bytes)")
	data = append(data, encodeAddressWord(addr)...)
	data = append(data, encodeUintWord(headSize)...)
	data = append(data, encodeUintWord(headSize+uint64(len(keyTail)))...)
	data = append(data, keyTail...)
	data = append(data, encodeDynamicBytes(proof)...)
	return data, nil
}

func (codecV3) bindingChangedTopics() []string {
	return []string{
		eventTopic("NameRegistered(address,string)"),
		eventTopic("NameReleased(address)"),
		eventTopic("NameTransferred(address,address,string)"),
		eventTopic("KeyRotated(address)"),
	}
}
